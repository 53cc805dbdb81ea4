// Package httpapi is the broker's HTTP surface: a net/http.ServeMux router
// (Go 1.22+ "METHOD /path/{param}" patterns), identity-gated handlers per
// endpoint, and the one place (this file) that maps apierr.Kind to a status
// code — mirroring the teacher's pattern of small sentinel errors checked
// with errors.Is rather than a typed exception hierarchy.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/brokkr-io/brokkr/internal/apierr"
	"github.com/brokkr-io/brokkr/internal/protocol"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err's apierr.Kind to an HTTP status and writes the
// {code, message} body spec §6 requires for every error response.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := apierr.KindOf(err)
	status := statusForKind(kind)
	if status >= 500 {
		logger.Error("request failed", zap.Error(err), zap.String("kind", string(kind)))
	}
	writeJSON(w, status, protocol.ErrorResponse{Code: string(kind), Message: err.Error()})
}

func statusForKind(kind apierr.Kind) int {
	switch kind {
	case apierr.Unauthenticated:
		return http.StatusUnauthorized
	case apierr.Forbidden:
		return http.StatusForbidden
	case apierr.NotFound:
		return http.StatusNotFound
	case apierr.Conflict:
		return http.StatusConflict
	case apierr.Validation:
		return http.StatusBadRequest
	case apierr.Transient:
		return http.StatusServiceUnavailable
	case apierr.Fatal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierr.Wrap(apierr.Validation, "decode request body", err)
	}
	return nil
}
