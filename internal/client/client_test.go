package client

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/grantengine/internal/clock"
	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/security/secretbox"
	"github.com/dropDatabas3/grantengine/internal/store/adapters/memory"
)

const tokenEndpoint = "https://as.test/token"

type fixture struct {
	reg  *Registry
	auth *Authenticator
	clk  *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	box, err := secretbox.New(base64.StdEncoding.EncodeToString(make([]byte, 32)))
	require.NoError(t, err)
	clk := clock.NewFake(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	s := memory.New()
	reg := NewRegistry(s, box, clk, time.Minute)
	return &fixture{reg: reg, auth: NewAuthenticator(reg, s, clk, nil, tokenEndpoint), clk: clk}
}

func (f *fixture) register(t *testing.T, c repository.Client, secret string) (*repository.Client, string) {
	t.Helper()
	if len(c.GrantTypes) == 0 {
		c.GrantTypes = []repository.GrantType{repository.GrantTypeClientCredentials}
	}
	out, sec, err := f.reg.Register(context.Background(), RegisterRequest{Client: c, Secret: secret})
	require.NoError(t, err)
	return out, sec
}

func requireInvalidClient(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, oautherr.InvalidClient, oautherr.KindOf(err))
}

func TestRegister_Defaults(t *testing.T) {
	f := newFixture(t)
	c, secret := f.register(t, repository.Client{}, "")

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, repository.ClientTypeConfidential, c.Type)
	assert.Equal(t, repository.AuthSecretBasic, c.AuthMethod)
	assert.NotEmpty(t, secret)
	assert.True(t, strings.HasPrefix(c.SecretHash, "$argon2id$"))
	assert.NotContains(t, c.SecretEnc, secret)

	got, err := f.reg.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
}

func TestRegister_RejectsBadMetadata(t *testing.T) {
	f := newFixture(t)
	cases := map[string]repository.Client{
		"public with secret method": {Type: repository.ClientTypePublic, AuthMethod: repository.AuthSecretBasic},
		"confidential with none":    {Type: repository.ClientTypeConfidential, AuthMethod: repository.AuthNone},
		"private_key_jwt no keys":   {AuthMethod: repository.AuthPrivateKeyJWT},
		"code without redirect":     {GrantTypes: []repository.GrantType{repository.GrantTypeAuthorizationCode}},
		"unknown grant":             {GrantTypes: []repository.GrantType{"password"}},
		"push without endpoint": {
			GrantTypes:              []repository.GrantType{repository.GrantTypeCIBA},
			BackchannelDeliveryMode: repository.DeliveryPush,
		},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := f.reg.Register(context.Background(), RegisterRequest{Client: c})
			require.Error(t, err)
			assert.Equal(t, oautherr.InvalidRequest, oautherr.KindOf(err))
		})
	}
}

func TestRegister_DuplicateID(t *testing.T) {
	f := newFixture(t)
	f.register(t, repository.Client{ID: "dup"}, "")
	_, _, err := f.reg.Register(context.Background(), RegisterRequest{Client: repository.Client{
		ID: "dup", GrantTypes: []repository.GrantType{repository.GrantTypeClientCredentials},
	}})
	assert.Equal(t, oautherr.InvalidRequest, oautherr.KindOf(err))
}

func TestAuthenticate_SecretBasicAndPost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, repository.Client{
		ID:                    "c1",
		AuthMethod:            repository.AuthSecretBasic,
		AdditionalAuthMethods: []repository.AuthMethod{repository.AuthSecretPost},
	}, "s3cret")
	f.register(t, repository.Client{ID: "basic-only"}, "other")

	c, err := f.auth.Authenticate(ctx, Credentials{HasBasic: true, BasicID: "c1", BasicSecret: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)

	_, err = f.auth.Authenticate(ctx, Credentials{ClientID: "c1", PostSecret: "s3cret"})
	require.NoError(t, err)

	_, err = f.auth.Authenticate(ctx, Credentials{HasBasic: true, BasicID: "c1", BasicSecret: "wrong"})
	requireInvalidClient(t, err)

	// post no está entre los métodos aceptados de basic-only
	_, err = f.auth.Authenticate(ctx, Credentials{ClientID: "basic-only", PostSecret: "other"})
	requireInvalidClient(t, err)

	// sin credenciales un confidencial no pasa
	_, err = f.auth.Authenticate(ctx, Credentials{ClientID: "c1"})
	requireInvalidClient(t, err)

	_, err = f.auth.Authenticate(ctx, Credentials{HasBasic: true, BasicID: "nobody", BasicSecret: "x"})
	requireInvalidClient(t, err)

	_, err = f.auth.Authenticate(ctx, Credentials{ClientID: "other", HasBasic: true, BasicID: "c1", BasicSecret: "s3cret"})
	requireInvalidClient(t, err)
}

func TestAuthenticate_FromRequestBasicEncoding(t *testing.T) {
	r := httptest.NewRequest("POST", tokenEndpoint, strings.NewReader("grant_type=client_credentials"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.SetBasicAuth(url.QueryEscape("my client"), url.QueryEscape("p@ss:word"))
	require.NoError(t, r.ParseForm())

	cr := FromRequest(r)
	assert.True(t, cr.HasBasic)
	assert.Equal(t, "my client", cr.BasicID)
	assert.Equal(t, "p@ss:word", cr.BasicSecret)
}

func TestAuthenticate_Public(t *testing.T) {
	f := newFixture(t)
	f.register(t, repository.Client{
		ID:           "spa",
		Type:         repository.ClientTypePublic,
		GrantTypes:   []repository.GrantType{repository.GrantTypeAuthorizationCode},
		RedirectURIs: []string{"https://spa.test/cb"},
	}, "")

	c, err := f.auth.Authenticate(context.Background(), Credentials{ClientID: "spa"})
	require.NoError(t, err)
	assert.True(t, c.IsPublic())
}

func assertion(t *testing.T, method jwtv5.SigningMethod, key any, kid string, claims jwtv5.MapClaims) string {
	t.Helper()
	tk := jwtv5.NewWithClaims(method, claims)
	if kid != "" {
		tk.Header["kid"] = kid
	}
	s, err := tk.SignedString(key)
	require.NoError(t, err)
	return s
}

func assertionClaims(clientID string, now time.Time) jwtv5.MapClaims {
	return jwtv5.MapClaims{
		"iss": clientID,
		"sub": clientID,
		"aud": tokenEndpoint,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
	}
}

func TestAuthenticate_ClientSecretJWT(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, repository.Client{ID: "hs", AuthMethod: repository.AuthSecretJWT}, "shared-secret-of-enough-length-32b")

	claims := assertionClaims("hs", f.clk.Now())
	a := assertion(t, jwtv5.SigningMethodHS256, []byte("shared-secret-of-enough-length-32b"), "", claims)
	cr := Credentials{AssertionType: AssertionTypeJWTBearer, Assertion: a}

	c, err := f.auth.Authenticate(ctx, cr)
	require.NoError(t, err)
	assert.Equal(t, "hs", c.ID)

	// mismo jti: replay
	_, err = f.auth.Authenticate(ctx, cr)
	requireInvalidClient(t, err)

	bad := assertion(t, jwtv5.SigningMethodHS256, []byte("wrong-secret"), "", assertionClaims("hs", f.clk.Now()))
	_, err = f.auth.Authenticate(ctx, Credentials{AssertionType: AssertionTypeJWTBearer, Assertion: bad})
	requireInvalidClient(t, err)
}

func TestAuthenticate_PrivateKeyJWT(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	jwks, err := json.Marshal(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: pub, KeyID: "k1", Algorithm: "EdDSA", Use: "sig"}}})
	require.NoError(t, err)
	f.register(t, repository.Client{ID: "pk", AuthMethod: repository.AuthPrivateKeyJWT, JWKS: jwks}, "")

	t.Run("valid", func(t *testing.T) {
		a := assertion(t, jwtv5.SigningMethodEdDSA, priv, "k1", assertionClaims("pk", f.clk.Now()))
		c, err := f.auth.Authenticate(ctx, Credentials{AssertionType: AssertionTypeJWTBearer, Assertion: a})
		require.NoError(t, err)
		assert.Equal(t, "pk", c.ID)
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := assertionClaims("pk", f.clk.Now())
		claims["aud"] = "https://elsewhere.test/token"
		a := assertion(t, jwtv5.SigningMethodEdDSA, priv, "k1", claims)
		_, err := f.auth.Authenticate(ctx, Credentials{AssertionType: AssertionTypeJWTBearer, Assertion: a})
		requireInvalidClient(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		claims := assertionClaims("pk", f.clk.Now().Add(-time.Hour))
		a := assertion(t, jwtv5.SigningMethodEdDSA, priv, "k1", claims)
		_, err := f.auth.Authenticate(ctx, Credentials{AssertionType: AssertionTypeJWTBearer, Assertion: a})
		requireInvalidClient(t, err)
	})

	t.Run("foreign key", func(t *testing.T) {
		_, other, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		a := assertion(t, jwtv5.SigningMethodEdDSA, other, "k1", assertionClaims("pk", f.clk.Now()))
		_, err = f.auth.Authenticate(ctx, Credentials{AssertionType: AssertionTypeJWTBearer, Assertion: a})
		requireInvalidClient(t, err)
	})

	t.Run("wrong assertion type", func(t *testing.T) {
		a := assertion(t, jwtv5.SigningMethodEdDSA, priv, "k1", assertionClaims("pk", f.clk.Now()))
		_, err := f.auth.Authenticate(ctx, Credentials{AssertionType: "saml", Assertion: a})
		requireInvalidClient(t, err)
	})
}

func selfSignedCert(t *testing.T, cn string) *x509.Certificate {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"Acme"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestAuthenticate_MutualTLS(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cert := selfSignedCert(t, "svc-a")
	other := selfSignedCert(t, "svc-b")

	f.register(t, repository.Client{ID: "dn", AuthMethod: repository.AuthTLSClient, TLSSubjectDN: cert.Subject.String()}, "")
	f.register(t, repository.Client{ID: "tp", AuthMethod: repository.AuthSelfSignedTLS, TLSThumbprints: []string{Thumbprint(cert.Raw)}}, "")

	_, err := f.auth.Authenticate(ctx, Credentials{ClientID: "dn", PeerCert: cert})
	require.NoError(t, err)
	_, err = f.auth.Authenticate(ctx, Credentials{ClientID: "dn", PeerCert: other})
	requireInvalidClient(t, err)

	_, err = f.auth.Authenticate(ctx, Credentials{ClientID: "tp", PeerCert: cert})
	require.NoError(t, err)
	_, err = f.auth.Authenticate(ctx, Credentials{ClientID: "tp", PeerCert: other})
	requireInvalidClient(t, err)
	_, err = f.auth.Authenticate(ctx, Credentials{ClientID: "tp"})
	requireInvalidClient(t, err)
}
