package errors

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// WriteError escribe una respuesta de error OAuth2 basada en el error proporcionado.
// Maneja automáticamente errores de tipo *AppError, *oautherr.Error y errores genéricos.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)

	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	if appErr.RetryAfter > 0 {
		secs := int(appErr.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		h.Set("Retry-After", strconv.Itoa(secs))
	}
	if appErr.HTTPStatus == http.StatusUnauthorized && appErr.Code == ErrInvalidClient.Code {
		h.Set("WWW-Authenticate", `Basic realm="token"`)
	}
	w.WriteHeader(appErr.HTTPStatus)

	_ = json.NewEncoder(w).Encode(appErr)
}
