package httpx

import (
	"errors"
	"net/http"

	"github.com/workstream-hq/workstream/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807. The
// gateway owns the admission taxonomy; this covers the ordinary handler
// paths behind it.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", "resource not found")
	case errors.Is(err, shared.ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", "duplicate entry")
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
