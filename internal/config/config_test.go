package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/grantengine/internal/rate"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	p := writeYAML(t, `
tokens:
  issuer: https://as.example.test
security:
  master_key: k
`)
	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "memory", c.Storage.Driver)
	assert.EqualValues(t, 3600, c.Tokens.Lifetimes.Access)
	assert.EqualValues(t, 2592000, c.Tokens.Lifetimes.Refresh)
	assert.Equal(t, 120*time.Second, c.CIBA.ExpiresIn)
	assert.EqualValues(t, 5, c.CIBA.Interval)
	assert.Equal(t, RateBackendMemory, c.Rate.Backend)
	assert.Equal(t, rate.Rule{Max: 10, Period: time.Hour}, c.Rate.Rules[rate.ActionRegister])
	assert.Equal(t, "auto", c.SMTP.TLSMode)
}

func TestLoad_YAMLValues(t *testing.T) {
	p := writeYAML(t, `
server:
  addr: ":9000"
storage:
  driver: redis
  redis:
    addr: localhost:6379
tokens:
  issuer: https://as.example.test
  rotate_refresh: true
  lifetimes:
    access: 600
ciba:
  expires_in: 5m
  max_expires_in: 10m
  interval: 2
rate:
  backend: redis
  rules:
    ciba: {max: 3, period: 1m}
security:
  master_key: k
`)
	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, ":9000", c.Server.Addr)
	assert.Equal(t, "redis", c.Storage.Driver)
	assert.True(t, c.Tokens.RotateRefresh)
	assert.EqualValues(t, 600, c.Tokens.Lifetimes.Access)
	assert.EqualValues(t, 2592000, c.Tokens.Lifetimes.Refresh)
	assert.Equal(t, 5*time.Minute, c.CIBA.ExpiresIn)
	assert.Equal(t, rate.Rule{Max: 3, Period: time.Minute}, c.Rate.Rules[rate.ActionCIBA])
	_, hasToken := c.Rate.Rules[rate.ActionToken]
	assert.False(t, hasToken)
}

func TestLoad_EnvOverrides(t *testing.T) {
	p := writeYAML(t, `
tokens:
  issuer: https://as.example.test
security:
  master_key: from-file
`)
	t.Setenv("GRANTENGINE_ADDR", ":7000")
	t.Setenv("GRANTENGINE_MASTER_KEY", "from-env")
	t.Setenv("GRANTENGINE_STORAGE_DRIVER", "RAFT")
	t.Setenv("GRANTENGINE_RAFT_NODE_ID", "n1")
	t.Setenv("GRANTENGINE_RAFT_ADDR", "127.0.0.1:7001")
	t.Setenv("GRANTENGINE_RAFT_PEERS", "n1=127.0.0.1:7001, n2=127.0.0.1:7002")
	t.Setenv("GRANTENGINE_ROTATE_REFRESH", "true")

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, ":7000", c.Server.Addr)
	assert.Equal(t, "from-env", c.Security.MasterKey)
	assert.Equal(t, "raft", c.Storage.Driver)
	assert.Equal(t, map[string]string{"n1": "127.0.0.1:7001", "n2": "127.0.0.1:7002"}, c.Storage.Raft.Peers)
	assert.True(t, c.Tokens.RotateRefresh)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing issuer", "security: {master_key: k}", "tokens.issuer is required"},
		{"relative issuer", "tokens: {issuer: /as}\nsecurity: {master_key: k}", "absolute URL"},
		{"missing master key", "tokens: {issuer: https://as.test}", "security.master_key"},
		{"negative lifetime", "tokens: {issuer: https://as.test, lifetimes: {access: -1}}\nsecurity: {master_key: k}", "tokens.lifetimes.access"},
		{"unknown driver", "storage: {driver: mongo}\ntokens: {issuer: https://as.test}\nsecurity: {master_key: k}", "storage.driver"},
		{"postgres without dsn", "storage: {driver: postgres}\ntokens: {issuer: https://as.test}\nsecurity: {master_key: k}", "storage.postgres.dsn"},
		{"plain http issuer in prod", "app: {env: prod}\ntokens: {issuer: http://as.test}\nsecurity: {master_key: k}", "https in prod"},
		{"ciba max below default", "ciba: {max_expires_in: 1m}\ntokens: {issuer: https://as.test}\nsecurity: {master_key: k}", "ciba.max_expires_in"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeYAML(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseKVList(t *testing.T) {
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, parseKVList(" a=1 ;b=2; =x;c=", ";"))
	assert.Empty(t, parseKVList("", ","))
}
