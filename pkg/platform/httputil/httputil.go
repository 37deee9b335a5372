// Package httputil centralizes JSON encoding and domain error translation so
// every handler speaks the same envelope.
package httputil

import (
	"encoding/json"
	"net/http"

	"anchorid/pkg/domainerrors"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into its HTTP response. Infrastructure
// failures omit the description so internals do not leak to callers.
func WriteError(w http.ResponseWriter, err error) {
	code := domainerrors.CodeOf(err)
	body := map[string]string{"error": string(code)}
	if code != domainerrors.CodeInternal && code != domainerrors.CodeExternalService {
		body["error_description"] = err.Error()
	}
	WriteJSON(w, statusFor(code), body)
}

// Decode parses the request body into T. A malformed body yields an
// invalid_argument domain error ready for WriteError.
func Decode[T any](r *http.Request) (T, error) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		return v, domainerrors.Wrap(err, domainerrors.CodeInvalidArgument, "malformed request body")
	}
	return v, nil
}

func statusFor(code domainerrors.Code) int {
	switch code {
	case domainerrors.CodeNotFound:
		return http.StatusNotFound
	case domainerrors.CodeConflict, domainerrors.CodeInvalidState:
		return http.StatusConflict
	case domainerrors.CodeForbidden:
		return http.StatusForbidden
	case domainerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case domainerrors.CodeLivenessRejected:
		return http.StatusUnprocessableEntity
	case domainerrors.CodeExternalService, domainerrors.CodeAnchorFailed:
		return http.StatusBadGateway
	case domainerrors.CodeTimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
