package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/grantengine/internal/ciba"
	"github.com/dropDatabas3/grantengine/internal/grant"
	"github.com/dropDatabas3/grantengine/internal/rate"
)

// Backends del rate limiter.
const (
	RateBackendMemory = "memory"
	RateBackendRedis  = "redis"
	RateBackendStore  = "store"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
		// AdminToken protege los endpoints internos. Vacío = cerrados.
		AdminToken      string        `yaml:"admin_token"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		TLS             struct {
			CertFile string `yaml:"cert_file"`
			KeyFile  string `yaml:"key_file"`
			// ClientCAFile habilita pedir certificado de cliente (tls_client_auth).
			ClientCAFile string `yaml:"client_ca_file"`
		} `yaml:"tls"`
	} `yaml:"server"`

	Storage struct {
		// memory | redis | postgres | raft
		Driver string `yaml:"driver"`
		Redis  struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Postgres struct {
			DSN             string        `yaml:"dsn"`
			MaxConns        int           `yaml:"max_conns"`
			MinConns        int           `yaml:"min_conns"`
			ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
			Migrate         bool          `yaml:"migrate"`
		} `yaml:"postgres"`
		Raft struct {
			NodeID             string            `yaml:"node_id"`
			Addr               string            `yaml:"addr"`
			Dir                string            `yaml:"dir"`
			Peers              map[string]string `yaml:"peers"`
			BootstrapPreferred bool              `yaml:"bootstrap_preferred"`
			InMemory           bool              `yaml:"in_memory"`
			ApplyTimeout       time.Duration     `yaml:"apply_timeout"`
			LeaderWait         time.Duration     `yaml:"leader_wait"`
			TLS                struct {
				Enable     bool   `yaml:"enable"`
				CertFile   string `yaml:"cert_file"`
				KeyFile    string `yaml:"key_file"`
				CAFile     string `yaml:"ca_file"`
				ServerName string `yaml:"server_name"`
			} `yaml:"tls"`
		} `yaml:"raft"`
		Retry struct {
			MaxTries        uint          `yaml:"max_tries"`
			InitialInterval time.Duration `yaml:"initial_interval"`
			MaxInterval     time.Duration `yaml:"max_interval"`
		} `yaml:"retry"`
	} `yaml:"storage"`

	Tokens struct {
		Issuer string `yaml:"issuer"`
		// Lifetimes en segundos por kind.
		Lifetimes      grant.Lifetimes `yaml:"lifetimes"`
		RotateRefresh  bool            `yaml:"rotate_refresh"`
		CodeTTL        time.Duration   `yaml:"code_ttl"`
		DeviceTTL      time.Duration   `yaml:"device_ttl"`
		DeviceInterval time.Duration   `yaml:"device_interval"`
		TicketTTL      time.Duration   `yaml:"ticket_ttl"`
		// VerificationURI para device authorization.
		VerificationURI  string        `yaml:"verification_uri"`
		KeyRotationGrace time.Duration `yaml:"key_rotation_grace"`
		ClientCacheTTL   time.Duration `yaml:"client_cache_ttl"`
		JWKSCacheTTL     time.Duration `yaml:"jwks_cache_ttl"`
		// CascadeParallelism acota las desactivaciones concurrentes por cascada.
		CascadeParallelism int `yaml:"cascade_parallelism"`
	} `yaml:"tokens"`

	CIBA struct {
		ExpiresIn     time.Duration `yaml:"expires_in"`
		MaxExpiresIn  time.Duration `yaml:"max_expires_in"`
		Interval      int64         `yaml:"interval"`
		NotifyTimeout time.Duration `yaml:"notify_timeout"`
	} `yaml:"ciba"`

	Rate struct {
		// memory | redis | store
		Backend string               `yaml:"backend"`
		Rules   map[string]rate.Rule `yaml:"rules"`
	} `yaml:"rate"`

	Security struct {
		// MasterKey cifra secretos de cliente y claves privadas (32 bytes, hex o base64).
		MasterKey string `yaml:"master_key"`
	} `yaml:"security"`

	SMTP ciba.SMTPConfig `yaml:"smtp"`

	Sweep struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
		Grace    time.Duration `yaml:"grace"`
	} `yaml:"sweep"`
}

// Load lee el YAML en path (si path es vacío arranca de cero), aplica
// defaults y overrides de entorno y valida.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.applyDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Redis.Prefix == "" {
		c.Storage.Redis.Prefix = "ge:"
	}
	if c.Storage.Raft.Dir == "" {
		c.Storage.Raft.Dir = "data/raft"
	}
	if c.Storage.Retry.MaxTries == 0 {
		c.Storage.Retry.MaxTries = 3
	}
	if c.Storage.Retry.InitialInterval == 0 {
		c.Storage.Retry.InitialInterval = 50 * time.Millisecond
	}
	if c.Storage.Retry.MaxInterval == 0 {
		c.Storage.Retry.MaxInterval = time.Second
	}

	lt := &c.Tokens.Lifetimes
	if lt.Access == 0 {
		lt.Access = grant.DefaultLifetimes.Access
	}
	if lt.Refresh == 0 {
		lt.Refresh = grant.DefaultLifetimes.Refresh
	}
	if lt.ID == 0 {
		lt.ID = grant.DefaultLifetimes.ID
	}
	if lt.RPT == 0 {
		lt.RPT = grant.DefaultLifetimes.RPT
	}
	if lt.PAT == 0 {
		lt.PAT = grant.DefaultLifetimes.PAT
	}
	if c.Tokens.KeyRotationGrace == 0 {
		c.Tokens.KeyRotationGrace = 24 * time.Hour
	}
	if c.Tokens.ClientCacheTTL == 0 {
		c.Tokens.ClientCacheTTL = time.Minute
	}
	if c.Tokens.JWKSCacheTTL == 0 {
		c.Tokens.JWKSCacheTTL = 10 * time.Minute
	}
	if c.Tokens.CascadeParallelism == 0 {
		c.Tokens.CascadeParallelism = 8
	}

	if c.CIBA.ExpiresIn == 0 {
		c.CIBA.ExpiresIn = ciba.DefaultExpiresIn
	}
	if c.CIBA.MaxExpiresIn == 0 {
		c.CIBA.MaxExpiresIn = ciba.DefaultMaxExpiresIn
	}
	if c.CIBA.Interval == 0 {
		c.CIBA.Interval = ciba.DefaultInterval
	}
	if c.CIBA.NotifyTimeout == 0 {
		c.CIBA.NotifyTimeout = ciba.DefaultNotifyTimeout
	}

	if c.Rate.Backend == "" {
		c.Rate.Backend = RateBackendMemory
	}
	if c.Rate.Rules == nil {
		c.Rate.Rules = map[string]rate.Rule{
			rate.ActionRegister: {Max: 10, Period: time.Hour},
			rate.ActionCIBA:     {Max: 60, Period: time.Minute},
			rate.ActionToken:    {Max: 600, Period: time.Minute},
			rate.ActionDevice:   {Max: 60, Period: time.Minute},
		}
	}

	if c.SMTP.TLSMode == "" {
		c.SMTP.TLSMode = "auto"
	}

	if c.Sweep.Interval == 0 {
		c.Sweep.Interval = 10 * time.Minute
	}
	if c.Sweep.Grace == 0 {
		c.Sweep.Grace = time.Hour
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

// applyEnvOverrides: pisa el YAML con variables GRANTENGINE_*.
func (c *Config) applyEnvOverrides() {
	const p = "GRANTENGINE_"

	// APP
	if v, ok := getEnvStr(p + "APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr(p + "LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}

	// SERVER
	if v, ok := getEnvStr(p + "ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr(p + "ADMIN_TOKEN"); ok {
		c.Server.AdminToken = v
	}
	if v, ok := getEnvStr(p + "TLS_CERT_FILE"); ok {
		c.Server.TLS.CertFile = v
	}
	if v, ok := getEnvStr(p + "TLS_KEY_FILE"); ok {
		c.Server.TLS.KeyFile = v
	}

	// STORAGE
	if v, ok := getEnvStr(p + "STORAGE_DRIVER"); ok {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr(p + "REDIS_ADDR"); ok {
		c.Storage.Redis.Addr = v
	}
	if v, ok := getEnvStr(p + "REDIS_PASSWORD"); ok {
		c.Storage.Redis.Password = v
	}
	if v, ok := getEnvInt(p + "REDIS_DB"); ok {
		c.Storage.Redis.DB = v
	}
	if v, ok := getEnvStr(p + "PG_DSN"); ok {
		c.Storage.Postgres.DSN = v
	}
	if v, ok := getEnvBool(p + "PG_MIGRATE"); ok {
		c.Storage.Postgres.Migrate = v
	}
	if v, ok := getEnvStr(p + "RAFT_NODE_ID"); ok {
		c.Storage.Raft.NodeID = v
	}
	if v, ok := getEnvStr(p + "RAFT_ADDR"); ok {
		c.Storage.Raft.Addr = v
	}
	if v, ok := getEnvStr(p + "RAFT_DIR"); ok {
		c.Storage.Raft.Dir = v
	}
	if v, ok := getEnvKVList(p+"RAFT_PEERS", ","); ok {
		c.Storage.Raft.Peers = v
	}
	if v, ok := getEnvBool(p + "RAFT_BOOTSTRAP"); ok {
		c.Storage.Raft.BootstrapPreferred = v
	}

	// TOKENS
	if v, ok := getEnvStr(p + "ISSUER"); ok {
		c.Tokens.Issuer = v
	}
	if v, ok := getEnvBool(p + "ROTATE_REFRESH"); ok {
		c.Tokens.RotateRefresh = v
	}
	if v, ok := getEnvStr(p + "VERIFICATION_URI"); ok {
		c.Tokens.VerificationURI = v
	}

	// CIBA
	if v, ok := getEnvDur(p + "CIBA_EXPIRES_IN"); ok {
		c.CIBA.ExpiresIn = v
	}
	if v, ok := getEnvInt(p + "CIBA_INTERVAL"); ok {
		c.CIBA.Interval = int64(v)
	}

	// RATE
	if v, ok := getEnvStr(p + "RATE_BACKEND"); ok {
		c.Rate.Backend = strings.ToLower(v)
	}

	// SECURITY
	if v, ok := getEnvStr(p + "MASTER_KEY"); ok {
		c.Security.MasterKey = v
	}

	// SMTP
	if v, ok := getEnvStr(p + "SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt(p + "SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr(p + "SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr(p + "SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr(p + "SMTP_FROM"); ok {
		c.SMTP.FromEmail = v
	}

	// SWEEP
	if v, ok := getEnvBool(p + "SWEEP_ENABLED"); ok {
		c.Sweep.Enabled = v
	}
	if v, ok := getEnvDur(p + "SWEEP_INTERVAL"); ok {
		c.Sweep.Interval = v
	}
}

// Validate chequea lo que no tiene default razonable.
func (c *Config) Validate() error {
	var errs []error

	if c.Tokens.Issuer == "" {
		errs = append(errs, errors.New("tokens.issuer is required"))
	} else if u, err := url.Parse(c.Tokens.Issuer); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("tokens.issuer must be an absolute URL, got %q", c.Tokens.Issuer))
	}
	if c.IsProd() && strings.HasPrefix(c.Tokens.Issuer, "http://") {
		errs = append(errs, errors.New("tokens.issuer must use https in prod"))
	}
	if c.Security.MasterKey == "" {
		errs = append(errs, errors.New("security.master_key is required"))
	}

	lt := c.Tokens.Lifetimes
	for name, v := range map[string]int64{
		"access": lt.Access, "refresh": lt.Refresh, "id": lt.ID, "rpt": lt.RPT, "pat": lt.PAT,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("tokens.lifetimes.%s must be positive, got %d", name, v))
		}
	}

	switch c.Storage.Driver {
	case "memory":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr is required for the redis driver"))
		}
	case "postgres", "pg":
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, errors.New("storage.postgres.dsn is required for the postgres driver"))
		}
	case "raft":
		if c.Storage.Raft.NodeID == "" {
			errs = append(errs, errors.New("storage.raft.node_id is required for the raft driver"))
		}
		if c.Storage.Raft.Addr == "" && !c.Storage.Raft.InMemory {
			errs = append(errs, errors.New("storage.raft.addr is required for the raft driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}

	switch c.Rate.Backend {
	case RateBackendMemory, RateBackendStore:
	case RateBackendRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("rate.backend redis needs storage.redis.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("rate.backend %q is not supported", c.Rate.Backend))
	}

	if c.CIBA.MaxExpiresIn < c.CIBA.ExpiresIn {
		errs = append(errs, errors.New("ciba.max_expires_in must be >= ciba.expires_in"))
	}
	if c.CIBA.Interval <= 0 {
		errs = append(errs, errors.New("ciba.interval must be positive"))
	}

	return errors.Join(errs...)
}

// IsProd indica si app.env es prod.
func (c *Config) IsProd() bool { return c.App.Env == "prod" || c.App.Env == "production" }

// parse env of form "k1=v1<sep>k2=v2" into map
func parseKVList(s, sep string) map[string]string {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]string{}
	}
	items := strings.Split(s, sep)
	out := make(map[string]string, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		// split at first '='
		if i := strings.IndexRune(it, '='); i > 0 {
			k := strings.TrimSpace(it[:i])
			v := strings.TrimSpace(it[i+1:])
			if k != "" && v != "" {
				out[k] = v
			}
		}
	}
	return out
}

func getEnvKVList(key, sep string) (map[string]string, bool) {
	if s, ok := getEnvStr(key); ok {
		return parseKVList(s, sep), true
	}
	return nil, false
}
