package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hupe1980/sealdex/auth"
	"github.com/hupe1980/sealdex/registry"
	"github.com/hupe1980/sealdex/store"
)

// errUnauthorized covers every data-plane rejection: unknown public id,
// soft-deleted index, and key mismatch all collapse into it so a caller
// cannot probe for index existence.
var errUnauthorized = errors.New("unauthorized")

// errValidation marks caller-recoverable request problems (bad JSON, bad
// hex, wrong-length byte fields).
var errValidation = errors.New("invalid request")

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errValidation}, args...)...)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			s.logger.Error("encode response", "error", err)
		}
	}
}

// writeError maps the error taxonomy onto HTTP statuses. Storage failures
// are logged with their cause but surfaced without internal detail.
func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
	case errors.Is(err, errValidation):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, registry.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "index not found"})
	case errors.Is(err, registry.ErrDuplicateID), errors.Is(err, store.ErrUnavailable):
		s.logger.ErrorContext(ctx, "storage unavailable", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service unavailable"})
	default:
		s.logger.ErrorContext(ctx, "internal error", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
