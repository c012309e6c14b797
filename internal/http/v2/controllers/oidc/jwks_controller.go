// Package oidc contiene los controllers para endpoints OIDC/Discovery.
package oidc

import (
	"net/http"

	httperrors "github.com/dropDatabas3/grantengine/internal/http/v2/errors"
	svc "github.com/dropDatabas3/grantengine/internal/http/v2/services/oidc"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// JWKSController maneja GET /jwks.json
type JWKSController struct {
	service svc.JWKSService
}

// NewJWKSController crea un nuevo controller JWKS.
func NewJWKSController(service svc.JWKSService) *JWKSController {
	return &JWKSController{service: service}
}

// Get maneja GET/HEAD /jwks.json. No-store: una rotación tiene que verse ya.
func (c *JWKSController) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("JWKSController.Get"))

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	data, err := c.service.GetJWKS(ctx)
	if err != nil {
		log.Error("failed to get JWKS", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternalServerError.WithCause(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
