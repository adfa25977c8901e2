package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/patrickcsouzadev/todo-app/auth"
	"github.com/patrickcsouzadev/todo-app/keystore"
	"github.com/patrickcsouzadev/todo-app/storage"
	"github.com/patrickcsouzadev/todo-app/token"
)

const maxBodySize = 1 << 20 // 1 MiB

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func (a *API) writeInternalError(w http.ResponseWriter, msg string, err error) {
	a.log.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

// mapError translates service errors to HTTP responses. Expected auth
// failures carry their sentinel's message; anything unrecognized is a 500
// with the detail kept out of the response body.
func (a *API) mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusBadRequest, "email already registered")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrEmailNotConfirmed):
		writeError(w, http.StatusForbidden, "email not confirmed")
	case errors.Is(err, auth.ErrMFAAlreadyEnabled):
		writeError(w, http.StatusBadRequest, "MFA is already enabled")
	case errors.Is(err, auth.ErrMFANotConfigured):
		writeError(w, http.StatusBadRequest, "MFA is not configured")
	case errors.Is(err, auth.ErrMFANotEnabled):
		writeError(w, http.StatusBadRequest, "MFA is not enabled")
	case errors.Is(err, auth.ErrInvalidMFACode):
		writeError(w, http.StatusUnauthorized, "invalid MFA code")
	case errors.Is(err, token.ErrInvalidSession):
		writeError(w, http.StatusUnauthorized, "invalid or expired session")
	case errors.Is(err, token.ErrTokenInvalid):
		writeError(w, http.StatusBadRequest, "invalid or expired token")
	case errors.Is(err, keystore.ErrNoActiveKey):
		a.writeInternalError(w, "no active signing key", err)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		a.writeInternalError(w, "internal server error", err)
	}
}

// decodeJSON reads and decodes a JSON request body into T. Unknown fields
// and oversized bodies are rejected. On failure it writes the error
// response and returns ok=false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxSize int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "request body is required")
		default:
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}
