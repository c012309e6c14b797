// Package server arma el engine completo a partir de la config: store,
// keystore, registries, coordinadores y el handler HTTP.
package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/grantengine/internal/ciba"
	"github.com/dropDatabas3/grantengine/internal/client"
	"github.com/dropDatabas3/grantengine/internal/clock"
	"github.com/dropDatabas3/grantengine/internal/config"
	"github.com/dropDatabas3/grantengine/internal/grant"
	healthctrl "github.com/dropDatabas3/grantengine/internal/http/v2/controllers/health"
	oauthctrl "github.com/dropDatabas3/grantengine/internal/http/v2/controllers/oauth"
	oidcctrl "github.com/dropDatabas3/grantengine/internal/http/v2/controllers/oidc"
	"github.com/dropDatabas3/grantengine/internal/http/v2/router"
	healthsvc "github.com/dropDatabas3/grantengine/internal/http/v2/services/health"
	oauthsvc "github.com/dropDatabas3/grantengine/internal/http/v2/services/oauth"
	oidcsvc "github.com/dropDatabas3/grantengine/internal/http/v2/services/oidc"
	jwtx "github.com/dropDatabas3/grantengine/internal/jwt"
	"github.com/dropDatabas3/grantengine/internal/metrics"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
	"github.com/dropDatabas3/grantengine/internal/rate"
	"github.com/dropDatabas3/grantengine/internal/revocation"
	"github.com/dropDatabas3/grantengine/internal/security/secretbox"
	"github.com/dropDatabas3/grantengine/internal/store"
	"github.com/dropDatabas3/grantengine/internal/store/adapters/pg"
	raftstore "github.com/dropDatabas3/grantengine/internal/store/adapters/raft"
	redisstore "github.com/dropDatabas3/grantengine/internal/store/adapters/redis"
	"github.com/dropDatabas3/grantengine/internal/sweep"
)

// App agrupa los componentes armados. Los comandos del CLI usan las partes
// que necesitan (keys rotate solo el keystore, sweep solo el sweeper).
type App struct {
	Config  *config.Config
	Clock   clock.Clock
	Store   *store.Retrying
	Box     *secretbox.Box
	Keys    *jwtx.Keystore
	Issuer  *jwtx.Issuer
	Clients *client.Registry
	Auth    *client.Authenticator
	Grants  *grant.Registry
	Cascade *revocation.Cascade
	CIBA    *ciba.Coordinator
	Limiter *rate.Governor
	Sweeper *sweep.Sweeper
	Handler http.Handler

	closers []func() error
}

// Build arma todo en orden de dependencias. Si algo falla, cierra lo abierto.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.From(ctx).With(logger.Layer("server"), logger.Op("Build"))

	app := &App{Config: cfg, Clock: clock.System{}}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close()
		}
	}()

	if err := metrics.Register(nil); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	var err error
	app.Store, err = store.Open(ctx, storeConfig(cfg))
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, app.Store.Close)
	log.Info("store ready", logger.String("driver", cfg.Storage.Driver))

	app.Box, err = secretbox.New(cfg.Security.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("security.master_key: %w", err)
	}

	app.Keys = jwtx.NewKeystore(app.Store, app.Box, app.Clock)
	if err := app.Keys.EnsureBootstrap(ctx); err != nil {
		return nil, fmt.Errorf("keystore bootstrap: %w", err)
	}
	app.Issuer = jwtx.NewIssuer(cfg.Tokens.Issuer, app.Keys, app.Clock)

	app.Clients = client.NewRegistry(app.Store, app.Box, app.Clock, cfg.Tokens.ClientCacheTTL)
	jwks := jwtx.NewJWKSCache(cfg.Tokens.JWKSCacheTTL, jwtx.HTTPJWKSLoader(&http.Client{Timeout: 5 * time.Second}))
	tokenURL := strings.TrimRight(cfg.Tokens.Issuer, "/") + "/token"
	app.Auth = client.NewAuthenticator(app.Clients, app.Store, app.Clock, jwks, cfg.Tokens.Issuer, tokenURL)

	factory := grant.NewFactory(app.Issuer, app.Clock, cfg.Tokens.Lifetimes)
	app.Grants = grant.NewRegistry(app.Store, factory, app.Clients, app.Clock, grant.Options{
		CodeTTL:        cfg.Tokens.CodeTTL,
		DeviceTTL:      cfg.Tokens.DeviceTTL,
		DeviceInterval: cfg.Tokens.DeviceInterval,
		TicketTTL:      cfg.Tokens.TicketTTL,
	})
	app.Cascade = revocation.New(app.Grants, cfg.Tokens.CascadeParallelism)

	app.Limiter, err = app.buildLimiter(ctx)
	if err != nil {
		return nil, err
	}

	var users ciba.UserNotifier
	if cfg.SMTP.Host != "" {
		users = ciba.NewSMTPNotifier(cfg.SMTP)
	}
	app.CIBA = ciba.New(ciba.Deps{
		Store:    app.Store,
		Grants:   app.Grants,
		Clients:  app.Clients,
		Clock:    app.Clock,
		Limiter:  app.Limiter,
		Notifier: ciba.NewHTTPNotifier(cfg.CIBA.NotifyTimeout),
		Users:    users,
	}, ciba.Options{
		ExpiresIn:    cfg.CIBA.ExpiresIn,
		MaxExpiresIn: cfg.CIBA.MaxExpiresIn,
		Interval:     cfg.CIBA.Interval,
	})

	app.Sweeper = sweep.New(app.Store, app.Clock, cfg.Sweep.Grace)
	app.Handler = app.buildHandler()
	ok = true
	return app, nil
}

func storeConfig(cfg *config.Config) store.Config {
	s := cfg.Storage
	return store.Config{
		Driver: s.Driver,
		Redis: redisstore.Config{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
			Prefix:   s.Redis.Prefix,
		},
		Postgres: pg.Config{
			DSN:             s.Postgres.DSN,
			MaxConns:        s.Postgres.MaxConns,
			MinConns:        s.Postgres.MinConns,
			ConnMaxLifetime: s.Postgres.ConnMaxLifetime,
			Migrate:         s.Postgres.Migrate,
		},
		Raft: raftstore.NodeOptions{
			NodeID:             s.Raft.NodeID,
			RaftAddr:           s.Raft.Addr,
			RaftDir:            s.Raft.Dir,
			Peers:              s.Raft.Peers,
			BootstrapPreferred: s.Raft.BootstrapPreferred,
			InMemory:           s.Raft.InMemory,
			TLSEnable:          s.Raft.TLS.Enable,
			TLSCertFile:        s.Raft.TLS.CertFile,
			TLSKeyFile:         s.Raft.TLS.KeyFile,
			TLSCAFile:          s.Raft.TLS.CAFile,
			TLSServerName:      s.Raft.TLS.ServerName,
			ApplyTimeout:       s.Raft.ApplyTimeout,
		},
		RaftLeaderWait: s.Raft.LeaderWait,
		Retry: store.RetryPolicy{
			MaxTries:        s.Retry.MaxTries,
			InitialInterval: s.Retry.InitialInterval,
			MaxInterval:     s.Retry.MaxInterval,
		},
	}
}

func (a *App) buildLimiter(ctx context.Context) (*rate.Governor, error) {
	cfg := a.Config
	var backend rate.Backend
	switch cfg.Rate.Backend {
	case config.RateBackendRedis:
		rc := rdb.NewClient(&rdb.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("rate redis: %w", err)
		}
		a.closers = append(a.closers, rc.Close)
		backend = rate.NewRedisLimiter(rc, cfg.Storage.Redis.Prefix+"rl:")
	case config.RateBackendStore:
		backend = rate.NewStoreLimiter(a.Store, a.Clock)
	default:
		backend = rate.NewMemoryLimiter(a.Clock)
	}
	return rate.NewGovernor(backend, cfg.Rate.Rules), nil
}

func (a *App) buildHandler() http.Handler {
	cfg := a.Config
	services := oauthsvc.NewServices(oauthsvc.Deps{
		Grants:          a.Grants,
		Cascade:         a.Cascade,
		CIBA:            a.CIBA,
		Clients:         a.Clients,
		Limiter:         a.Limiter,
		Clock:           a.Clock,
		Issuer:          cfg.Tokens.Issuer,
		RotateRefresh:   cfg.Tokens.RotateRefresh,
		VerificationURI: cfg.Tokens.VerificationURI,
	})

	var cluster healthsvc.ClusterChecker
	if rs, ok := a.Store.Unwrap().(*raftstore.Store); ok {
		cluster = rs.Node()
	}

	return router.New(router.Deps{
		OAuth: oauthctrl.NewControllers(services, oauthctrl.ControllerDeps{ClientAuth: a.Auth}),
		Health: healthctrl.NewHealthController(healthsvc.NewHealthService(healthsvc.Deps{
			Store:   a.Store,
			Issuer:  a.Issuer,
			Cluster: cluster,
			Version: os.Getenv("SERVICE_VERSION"),
		})),
		JWKS:       oidcctrl.NewJWKSController(oidcsvc.NewJWKSService(a.Keys)),
		Discovery:  oidcctrl.NewDiscoveryController(cfg.Tokens.Issuer),
		ClientAuth: a.Auth,
		Limiter:    a.Limiter,
		AdminToken: cfg.Server.AdminToken,
	})
}

// Serve levanta el http.Server y lo apaga ordenadamente cuando ctx se cancela.
// Con sweep.enabled corre el sweep en background.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config
	log := logger.From(ctx).With(logger.Layer("server"), logger.Op("Serve"))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.Handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	tlsOn := cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != ""
	if tlsOn {
		tc, err := serverTLS(cfg)
		if err != nil {
			return err
		}
		srv.TLSConfig = tc
	}

	if cfg.Sweep.Enabled {
		go a.Sweeper.Loop(ctx, cfg.Sweep.Interval)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", logger.String("addr", cfg.Server.Addr), logger.Bool("tls", tlsOn))
		var err error
		if tlsOn {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// serverTLS pide certificado de cliente sin exigirlo: tls_client_auth y
// self_signed_tls_client_auth lo validan por cliente.
func serverTLS(cfg *config.Config) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12, ClientAuth: tls.RequestClientCert}
	if cfg.Server.TLS.ClientCAFile != "" {
		pem, err := os.ReadFile(cfg.Server.TLS.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("server.tls.client_ca_file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("server.tls.client_ca_file: no certificates found")
		}
		tc.ClientCAs = pool
	}
	return tc, nil
}

// Close libera recursos en orden inverso al de apertura.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
