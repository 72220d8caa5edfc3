package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/James-May-Coding/myrail-network/internal/community"
	"github.com/James-May-Coding/myrail-network/internal/identity"
	"github.com/James-May-Coding/myrail-network/internal/train"
	"github.com/jackc/pgx/v5"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// errorEnvelope is the standard error response shape.
type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// readJSON decodes the request body into v, enforcing a size limit.
func readJSON(r *http.Request, v interface{}) error {
	lr := io.LimitReader(r.Body, maxBodySize)
	return json.NewDecoder(lr).Decode(v)
}

// writeServiceError maps service-layer errors onto the HTTP error
// taxonomy. Authorization and conflict failures surface as their own
// status codes and are never downgraded to 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, community.ErrNameRequired),
		errors.Is(err, community.ErrCodeRequired),
		errors.Is(err, community.ErrRoleInvalid),
		errors.Is(err, train.ErrCodeRequired),
		errors.Is(err, train.ErrRoleLabelInvalid),
		errors.Is(err, train.ErrClaimantNotMember):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())

	case errors.Is(err, community.ErrForbidden),
		errors.Is(err, train.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())

	case errors.Is(err, community.ErrNotFound),
		errors.Is(err, train.ErrNotFound),
		errors.Is(err, pgx.ErrNoRows):
		writeError(w, http.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, community.ErrConflict),
		errors.Is(err, train.ErrSlotTaken),
		errors.Is(err, train.ErrCodeTaken):
		writeError(w, http.StatusConflict, "conflict", err.Error())

	case errors.Is(err, identity.ErrUpstream):
		writeError(w, http.StatusInternalServerError, "upstream_error", "identity provider unavailable")

	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
