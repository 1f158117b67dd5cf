package httpadapter

import (
	"errors"
	"net/http"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrVersionConflict),
		domain.IsKind(err, domain.ErrDuplicateContent),
		domain.IsKind(err, domain.ErrInvalidTransition),
		domain.IsKind(err, domain.ErrRetryExhausted):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type conflictResponse struct {
	Error                string `json:"error"`
	AssetID              string `json:"asset_id"`
	YourVersion          string `json:"your_version"`
	CurrentVersion       string `json:"current_version"`
	CurrentVersionNumber int    `json:"current_version_number"`
}

// writeDomainError renders err with its mapped status. Version conflicts
// carry both tokens so the client can refetch and resubmit.
func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if conflict, ok := domain.AsConflict(err); ok {
		rt.observer.RecordConflict()
		writeJSON(w, http.StatusConflict, conflictResponse{
			Error:                conflict.Error(),
			AssetID:              conflict.AssetID,
			YourVersion:          conflict.YourVersionID,
			CurrentVersion:       conflict.CurrentVersionID,
			CurrentVersionNumber: conflict.CurrentVersion,
		})
		return
	}
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeError(w, status, err.Error())
}
