// Package oautherr clasifica los fallos del engine en las categorías de
// respuesta OAuth2. Los componentes retornan *Error; la capa HTTP los traduce
// a status + código de wire sin inspeccionar mensajes.
package oautherr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind es una categoría de respuesta, no un tipo de excepción.
type Kind string

const (
	InvalidRequest         Kind = "invalid_request"
	InvalidClient          Kind = "invalid_client"
	UnauthorizedClient     Kind = "unauthorized_client"
	InvalidGrant           Kind = "invalid_grant"
	InvalidScope           Kind = "invalid_scope"
	UnsupportedGrantType   Kind = "unsupported_grant_type"
	SlowDown               Kind = "slow_down"
	AuthorizationPending   Kind = "authorization_pending"
	AccessDenied           Kind = "access_denied"
	ExpiredToken           Kind = "expired_token"
	RateLimited            Kind = "rate_limited"
	InvalidLifetime        Kind = "invalid_lifetime"
	PersistenceUnavailable Kind = "persistence_unavailable"
	ServerError            Kind = "server_error"
)

// Error es un fallo clasificado. Description viaja al cliente; Err queda para logs.
type Error struct {
	Kind        Kind
	Description string
	Err         error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is permite errors.Is(err, &Error{Kind: X}) comparando solo el Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Description == "" && t.Err == nil
	}
	return false
}

// New crea un error clasificado.
func New(k Kind, desc string) *Error { return &Error{Kind: k, Description: desc} }

// Newf es New con formato.
func Newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Description: fmt.Sprintf(format, args...)}
}

// Wrap clasifica un error existente conservando la causa.
func Wrap(err error, k Kind, desc string) *Error {
	return &Error{Kind: k, Description: desc, Err: err}
}

// KindOf retorna el Kind de err, o ServerError si no está clasificado.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ServerError
}

// Is reporta si err está clasificado con el Kind k.
func Is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// HTTPStatus mapea el Kind al status de respuesta.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidClient:
		return http.StatusUnauthorized
	case RateLimited:
		return http.StatusTooManyRequests
	case PersistenceUnavailable:
		return http.StatusServiceUnavailable
	case InvalidLifetime, ServerError, "":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// WireCode es el valor del campo "error" en la respuesta OAuth2.
func (k Kind) WireCode() string {
	switch k {
	case InvalidLifetime, ServerError, "":
		return "server_error"
	case PersistenceUnavailable:
		return "temporarily_unavailable"
	default:
		return string(k)
	}
}
