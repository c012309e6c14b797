package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/rate"
)

// AppError es la respuesta de error OAuth2 ({"error","error_description"}).
type AppError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	HTTPStatus  int    `json:"-"` // No se serializa, usado para el header
	Err         error  `json:"-"` // Error original (causa), útil para logs, no se expone al cliente
	// RetryAfter > 0 emite el header Retry-After.
	RetryAfter time.Duration `json:"-"`
}

// Error implementa la interfaz error
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Description, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Description)
}

// Unwrap permite acceder al error original
func (e *AppError) Unwrap() error {
	return e.Err
}

// New crea un nuevo AppError
func New(status int, code, description string) *AppError {
	return &AppError{
		Code:        code,
		Description: description,
		HTTPStatus:  status,
	}
}

// Wrap crea un AppError envolviendo un error existente
func Wrap(err error, status int, code, description string) *AppError {
	return &AppError{
		Code:        code,
		Description: description,
		HTTPStatus:  status,
		Err:         err,
	}
}

// FromError convierte un error de cualquier capa en un AppError.
// Los *oautherr.Error se traducen por Kind; los errores del Store a 503/500.
func FromError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	var oe *oautherr.Error
	if stderrors.As(err, &oe) {
		out := &AppError{
			Code:        oe.Kind.WireCode(),
			Description: oe.Description,
			HTTPStatus:  oe.Kind.HTTPStatus(),
			Err:         err,
		}
		if oe.Kind == oautherr.InvalidLifetime || oe.Kind == oautherr.ServerError {
			// no filtrar detalles internos
			out.Description = ErrInternalServerError.Description
		}
		var limited *rate.LimitedError
		if stderrors.As(err, &limited) {
			out.RetryAfter = limited.Result.RetryAfter
		}
		return out
	}

	// CAS perdido tras todos los reintentos: contención transitoria
	if repository.IsUnavailable(err) || repository.IsConflict(err) {
		return ErrServiceUnavailable.WithCause(err)
	}
	return ErrInternalServerError.WithCause(err)
}

// WithDetail agrega la descripción al error.
// Devuelve una COPIA del error para no mutar las variables globales base
func (e *AppError) WithDetail(description string) *AppError {
	newErr := *e
	newErr.Description = description
	return &newErr
}

// WithCause agrega el error original (causa)
// Devuelve una COPIA del error
func (e *AppError) WithCause(err error) *AppError {
	newErr := *e
	newErr.Err = err
	return &newErr
}

// =================================================================================
// LISTA DE ERRORES PREDEFINIDOS
// =================================================================================

var (
	ErrInvalidRequest = &AppError{
		Code:        "invalid_request",
		Description: "The request is missing a required parameter or is otherwise malformed.",
		HTTPStatus:  http.StatusBadRequest,
	}

	ErrInvalidJSON = &AppError{
		Code:        "invalid_request",
		Description: "The request body is not valid JSON.",
		HTTPStatus:  http.StatusBadRequest,
	}

	ErrBodyTooLarge = &AppError{
		Code:        "invalid_request",
		Description: "The request body exceeds the maximum allowed size.",
		HTTPStatus:  http.StatusRequestEntityTooLarge,
	}

	ErrInvalidClient = &AppError{
		Code:        "invalid_client",
		Description: "Client authentication failed.",
		HTTPStatus:  http.StatusUnauthorized,
	}

	ErrInvalidToken = &AppError{
		Code:        "invalid_token",
		Description: "The access token is missing, expired or revoked.",
		HTTPStatus:  http.StatusUnauthorized,
	}

	ErrUnauthorized = &AppError{
		Code:        "unauthorized",
		Description: "Authentication is required.",
		HTTPStatus:  http.StatusUnauthorized,
	}

	ErrNotFound = &AppError{
		Code:        "not_found",
		Description: "The requested resource does not exist.",
		HTTPStatus:  http.StatusNotFound,
	}

	ErrMethodNotAllowed = &AppError{
		Code:        "method_not_allowed",
		Description: "The HTTP method is not allowed for this endpoint.",
		HTTPStatus:  http.StatusMethodNotAllowed,
	}

	ErrInternalServerError = &AppError{
		Code:        "server_error",
		Description: "The authorization server encountered an unexpected condition.",
		HTTPStatus:  http.StatusInternalServerError,
	}

	// ErrNotificationFailed: el grant quedó emitido pero el callback al cliente falló.
	ErrNotificationFailed = &AppError{
		Code:        "notification_failed",
		Description: "Tokens were issued but the client notification endpoint could not be reached.",
		HTTPStatus:  http.StatusBadGateway,
	}

	ErrServiceUnavailable = &AppError{
		Code:        oautherr.PersistenceUnavailable.WireCode(),
		Description: "The service is temporarily unavailable.",
		HTTPStatus:  http.StatusServiceUnavailable,
	}
)
