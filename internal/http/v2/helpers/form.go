package helpers

import (
	"errors"
	"net/http"
	"strings"

	httperrors "github.com/dropDatabas3/grantengine/internal/http/v2/errors"
)

// MaxFormBody es el límite por defecto para bodies x-www-form-urlencoded (64KB).
const MaxFormBody = 64 << 10

// ParseForm limita el body a limit bytes y parsea el form.
// Devuelve false si ya escribió error HTTP.
func ParseForm(w http.ResponseWriter, r *http.Request, limit int64) bool {
	if limit <= 0 {
		limit = MaxFormBody
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httperrors.WriteError(w, httperrors.ErrBodyTooLarge)
			return false
		}
		httperrors.WriteError(w, httperrors.ErrInvalidRequest.WithDetail("malformed form body"))
		return false
	}
	return true
}

// FormValue devuelve el valor recortado de un campo del body (PostForm).
func FormValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.PostForm.Get(key))
}

// BearerToken extrae el token de "Authorization: Bearer <token>".
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
