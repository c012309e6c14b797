package client

import (
	"crypto/x509"
	"net/http"
	"net/url"
)

// AssertionTypeJWTBearer es el client_assertion_type de RFC 7523.
const AssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// Credentials es lo que el cliente presentó en el request.
type Credentials struct {
	// ClientID del form (puede venir vacío si autentica con basic o assertion).
	ClientID string

	HasBasic    bool
	BasicID     string
	BasicSecret string

	PostSecret string

	AssertionType string
	Assertion     string

	PeerCert *x509.Certificate
}

// FromRequest extrae las credenciales de un request ya parseado (ParseForm).
func FromRequest(r *http.Request) Credentials {
	c := Credentials{
		ClientID:      r.PostForm.Get("client_id"),
		PostSecret:    r.PostForm.Get("client_secret"),
		AssertionType: r.PostForm.Get("client_assertion_type"),
		Assertion:     r.PostForm.Get("client_assertion"),
	}
	if id, secret, ok := r.BasicAuth(); ok {
		// RFC 6749 §2.3.1: id y secret van form-urlencoded dentro del header
		if v, err := url.QueryUnescape(id); err == nil {
			id = v
		}
		if v, err := url.QueryUnescape(secret); err == nil {
			secret = v
		}
		c.HasBasic, c.BasicID, c.BasicSecret = true, id, secret
	}
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		c.PeerCert = r.TLS.PeerCertificates[0]
	}
	return c
}
