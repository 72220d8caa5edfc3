package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/James-May-Coding/myrail-network/internal/auth"
	"github.com/James-May-Coding/myrail-network/internal/community"
)

type invitesHandler struct {
	communities *community.Service
}

func newInvitesHandler(svc *community.Service) *invitesHandler {
	return &invitesHandler{communities: svc}
}

// List handles GET /api/v1/invites, listing the caller's pending invites.
func (h *invitesHandler) List(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	invites, err := h.communities.ListPendingInvites(r.Context(), u.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if invites == nil {
		invites = []*community.Invite{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"invites": invites})
}

type createInviteRequest struct {
	CommunityID string `json:"community_id"`
	UserID      string `json:"user_id"`
}

// Create handles POST /api/v1/invites.
func (h *invitesHandler) Create(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req createInviteRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if req.CommunityID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "community_id and user_id are required")
		return
	}

	if err := h.communities.Invite(r.Context(), u.ID, req.CommunityID, req.UserID); err != nil {
		writeServiceError(w, err)
		return
	}

	auditLog(r, "invite.create", "membership", req.UserID, "community_id", req.CommunityID)
	w.WriteHeader(http.StatusCreated)
}

type respondInviteRequest struct {
	Accept bool `json:"accept"`
}

// Respond handles PATCH /api/v1/invites/{communityID}. Responding to an
// invite that is not pending returns 404.
func (h *invitesHandler) Respond(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	communityID := chi.URLParam(r, "communityID")

	var req respondInviteRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	if err := h.communities.RespondToInvite(r.Context(), u.ID, communityID, req.Accept); err != nil {
		writeServiceError(w, err)
		return
	}

	auditLog(r, "invite.respond", "membership", u.ID, "community_id", communityID, "accepted", req.Accept)
	w.WriteHeader(http.StatusNoContent)
}
