package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/James-May-Coding/myrail-network/internal/auth"
	"github.com/James-May-Coding/myrail-network/internal/metrics"
	"github.com/James-May-Coding/myrail-network/internal/train"
)

type trainsHandler struct {
	trains  *train.Service
	metrics *metrics.Metrics
}

func newTrainsHandler(svc *train.Service, m *metrics.Metrics) *trainsHandler {
	return &trainsHandler{trains: svc, metrics: m}
}

// List handles GET /api/v1/trains?community_id=, listing a community's trains
// with their current claims.
func (h *trainsHandler) List(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	communityID := r.URL.Query().Get("community_id")
	if communityID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "community_id query parameter is required")
		return
	}

	trains, err := h.trains.ListTrains(r.Context(), u.ID, communityID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if trains == nil {
		trains = []*train.TrainWithClaims{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"trains": trains})
}

type createTrainRequest struct {
	CommunityID string `json:"community_id"`
	train.CreateTrainInput
}

// Create handles POST /api/v1/trains.
func (h *trainsHandler) Create(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req createTrainRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if req.CommunityID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "community_id is required")
		return
	}

	t, err := h.trains.CreateTrain(r.Context(), u.ID, req.CommunityID, req.CreateTrainInput)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	auditLog(r, "train.create", "train", t.ID, "community_id", t.CommunityID, "code", t.Code)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"train": t})
}

// Update handles PATCH /api/v1/trains/{id}.
func (h *trainsHandler) Update(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	trainID := chi.URLParam(r, "id")

	var req train.UpdateTrainInput
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	t, err := h.trains.UpdateTrain(r.Context(), u.ID, trainID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	auditLog(r, "train.update", "train", t.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"train": t})
}

// Delete handles DELETE /api/v1/trains/{id}.
func (h *trainsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	trainID := chi.URLParam(r, "id")

	if err := h.trains.DeleteTrain(r.Context(), u.ID, trainID); err != nil {
		writeServiceError(w, err)
		return
	}

	auditLog(r, "train.delete", "train", trainID)
	w.WriteHeader(http.StatusNoContent)
}

type claimRequest struct {
	RoleLabel string `json:"role_label"`
}

// Claim handles POST /api/v1/trains/{id}/claim. Exactly one of any
// number of concurrent claimants wins the slot; the rest get 409.
func (h *trainsHandler) Claim(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	trainID := chi.URLParam(r, "id")

	var req claimRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	claim, err := h.trains.Claim(r.Context(), u.ID, trainID, req.RoleLabel)
	if err != nil {
		if h.metrics != nil && errors.Is(err, train.ErrSlotTaken) {
			h.metrics.ClaimAttemptsTotal.WithLabelValues("conflict").Inc()
		}
		writeServiceError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ClaimAttemptsTotal.WithLabelValues("granted").Inc()
	}

	auditLog(r, "claim.create", "train", trainID, "role_label", claim.RoleLabel)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"claim": claim})
}

// Unclaim handles POST /api/v1/trains/{id}/unclaim. Releasing a slot
// the caller does not hold is a no-op.
func (h *trainsHandler) Unclaim(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	trainID := chi.URLParam(r, "id")

	var req claimRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	if err := h.trains.Unclaim(r.Context(), u.ID, trainID, req.RoleLabel); err != nil {
		writeServiceError(w, err)
		return
	}

	auditLog(r, "claim.release", "train", trainID, "role_label", req.RoleLabel)
	w.WriteHeader(http.StatusNoContent)
}

type reassignRequest struct {
	RoleLabel string `json:"role_label"`
	UserID    string `json:"user_id"`
}

// Reassign handles POST /api/v1/trains/{id}/reassign, where an admin moves
// a slot to another member, replacing any current holder.
func (h *trainsHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	trainID := chi.URLParam(r, "id")

	var req reassignRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "user_id is required")
		return
	}

	claim, err := h.trains.Reassign(r.Context(), u.ID, trainID, req.RoleLabel, req.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ClaimAttemptsTotal.WithLabelValues("granted").Inc()
	}

	auditLog(r, "claim.reassign", "train", trainID, "role_label", claim.RoleLabel, "user_id", claim.UserID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"claim": claim})
}
