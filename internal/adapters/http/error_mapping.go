package httpadapter

import (
	"net/http"

	"github.com/kirillkom/policy-rag/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrSaturated):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrNotReady):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrArtifactInvalid):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError keeps saturation responses machine-readable: clients back off on
// {"error":"saturated"} with Retry-After.
func writeError(w http.ResponseWriter, err error) {
	status := mapErrorToHTTPStatus(err)
	if domain.IsKind(err, domain.ErrSaturated) {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, status, map[string]string{"error": "saturated"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
