package oidc

import (
	"encoding/json"
	"net/http"
	"time"

	httperrors "github.com/dropDatabas3/grantengine/internal/http/v2/errors"
	svc "github.com/dropDatabas3/grantengine/internal/http/v2/services/oidc"
)

// DiscoveryController maneja /.well-known/openid-configuration
type DiscoveryController struct {
	meta svc.Discovery
}

// NewDiscoveryController arma el documento una vez: depende solo del issuer.
func NewDiscoveryController(issuer string) *DiscoveryController {
	return &DiscoveryController{meta: svc.BuildDiscovery(issuer)}
}

// Get maneja GET/HEAD /.well-known/openid-configuration
func (c *DiscoveryController) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=600, must-revalidate")
	w.Header().Set("Expires", time.Now().Add(10*time.Minute).UTC().Format(http.TimeFormat))

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(c.meta)
}
