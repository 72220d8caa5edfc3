package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/James-May-Coding/myrail-network/internal/auth"
	"github.com/James-May-Coding/myrail-network/internal/community"
	"github.com/James-May-Coding/myrail-network/internal/realtime"
)

type communitiesHandler struct {
	communities *community.Service
	hub         *realtime.Hub
}

func newCommunitiesHandler(svc *community.Service, hub *realtime.Hub) *communitiesHandler {
	return &communitiesHandler{communities: svc, hub: hub}
}

type createCommunityRequest struct {
	Name string  `json:"name"`
	Pfp  *string `json:"pfp"`
}

// Create handles POST /api/v1/communities.
func (h *communitiesHandler) Create(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req createCommunityRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	c, err := h.communities.CreateCommunity(r.Context(), u.ID, req.Name, req.Pfp)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	auditLog(r, "community.create", "community", c.ID, "name", c.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"community": c})
}

// List handles GET /api/v1/communities, listing communities the caller is an
// accepted member of.
func (h *communitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	list, err := h.communities.ListForUser(r.Context(), u.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []*community.UserCommunity{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"communities": list})
}

type joinRequest struct {
	Code string `json:"code"`
}

// Join handles POST /api/v1/communities/join.
func (h *communitiesHandler) Join(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req joinRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	c, err := h.communities.JoinByCode(r.Context(), u.ID, req.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	auditLog(r, "community.join", "community", c.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"community": c})
}

// ListMembers handles GET /api/v1/communities/{id}/members.
func (h *communitiesHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	communityID := chi.URLParam(r, "id")

	members, err := h.communities.ListMembers(r.Context(), u.ID, communityID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if members == nil {
		members = []*community.Member{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"members": members})
}

type updateRoleRequest struct {
	Role community.Role `json:"role"`
}

// UpdateMemberRole handles PUT /api/v1/communities/{id}/members/{userID}.
func (h *communitiesHandler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	communityID := chi.URLParam(r, "id")
	targetID := chi.URLParam(r, "userID")

	var req updateRoleRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	if err := h.communities.UpdateMemberRole(r.Context(), u.ID, communityID, targetID, req.Role); err != nil {
		writeServiceError(w, err)
		return
	}

	auditLog(r, "member.role_update", "membership", targetID, "community_id", communityID, "role", req.Role)
	w.WriteHeader(http.StatusNoContent)
}

// RemoveMember handles DELETE /api/v1/communities/{id}/members/{userID}.
// A member may remove themselves; removing anyone else needs admin.
func (h *communitiesHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	communityID := chi.URLParam(r, "id")
	targetID := chi.URLParam(r, "userID")

	if err := h.communities.RemoveMember(r.Context(), u.ID, communityID, targetID); err != nil {
		writeServiceError(w, err)
		return
	}

	auditLog(r, "member.remove", "membership", targetID, "community_id", communityID)
	w.WriteHeader(http.StatusNoContent)
}

// Websocket handles GET /api/v1/communities/{id}/ws. Only accepted
// members may subscribe to a community's event stream.
func (h *communitiesHandler) Websocket(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	communityID := chi.URLParam(r, "id")

	if _, err := h.communities.RequireMembership(r.Context(), communityID, u.ID); err != nil {
		writeServiceError(w, err)
		return
	}

	realtime.ServeWS(h.hub, w, r, communityID, u.ID)
}
