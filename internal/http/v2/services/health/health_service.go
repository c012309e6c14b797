// Package health contiene el service para health checks.
package health

import (
	"context"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	dto "github.com/dropDatabas3/grantengine/internal/http/v2/dto/health"
	jwtx "github.com/dropDatabas3/grantengine/internal/jwt"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// HealthService define las operaciones de health check.
type HealthService interface {
	Check(ctx context.Context) dto.HealthResponse
}

// ClusterChecker abstrae el nodo raft para health.
type ClusterChecker interface {
	IsLeader() bool
	LeaderID() string
	NodeID() string
}

// Deps contiene las dependencias inyectables para el health service.
type Deps struct {
	Store   repository.Store
	Issuer  *jwtx.Issuer
	Cluster ClusterChecker
	Version string
	// Timeout por chequeo (default 2s).
	Timeout time.Duration
}

type healthService struct {
	deps Deps
}

// NewHealthService crea un nuevo service de health check.
func NewHealthService(deps Deps) HealthService {
	if deps.Timeout <= 0 {
		deps.Timeout = 2 * time.Second
	}
	return &healthService{deps: deps}
}

const componentHealth = "health"

// Check: store y keystore son críticos. Sin ellos el engine no puede emitir
// ni validar nada, así que el status es "unavailable".
func (s *healthService) Check(ctx context.Context) dto.HealthResponse {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component(componentHealth),
		logger.Op("Check"),
	)

	ctx, cancel := context.WithTimeout(ctx, s.deps.Timeout)
	defer cancel()

	response := dto.HealthResponse{
		Version:    s.deps.Version,
		Components: make(map[string]dto.HealthStatus),
		Timestamp:  time.Now().UTC(),
	}
	critical := false

	if s.deps.Store == nil {
		response.Components["store"] = dto.HealthStatus{Status: "error", Message: "store not initialized"}
		critical = true
	} else if err := s.deps.Store.Ping(ctx); err != nil {
		response.Components["store"] = dto.HealthStatus{Status: "error", Message: fmt.Sprintf("unavailable: %v", err)}
		critical = true
		log.Error("store unavailable", logger.Err(err))
	} else {
		response.Components["store"] = dto.HealthStatus{Status: "ok"}
	}

	if s.deps.Issuer == nil {
		response.Components["keystore"] = dto.HealthStatus{Status: "disabled", Message: "opaque tokens only"}
	} else if kid, err := s.checkKeystore(ctx); err != nil {
		response.Components["keystore"] = dto.HealthStatus{Status: "error", Message: err.Error()}
		critical = true
		log.Error("keystore check failed", logger.Err(err))
	} else {
		response.ActiveKeyID = kid
		response.Components["keystore"] = dto.HealthStatus{Status: "ok"}
	}

	response.Cluster = s.buildClusterInfo()

	if critical {
		response.Status = "unavailable"
	} else {
		response.Status = "ready"
	}
	return response
}

// checkKeystore firma y verifica un JWT de prueba con la clave activa.
func (s *healthService) checkKeystore(ctx context.Context) (string, error) {
	now := time.Now().UTC()
	claims := jwtv5.MapClaims{
		"iss": s.deps.Issuer.Iss,
		"sub": "selfcheck",
		"aud": "health",
		"iat": now.Unix(),
		"exp": now.Add(60 * time.Second).Unix(),
	}
	signed, kid, err := s.deps.Issuer.SignRaw(ctx, claims)
	if err != nil {
		return "", fmt.Errorf("sign failed: %w", err)
	}
	if _, err := s.deps.Issuer.Parse(ctx, signed); err != nil {
		return "", fmt.Errorf("verify failed: %w", err)
	}
	return kid, nil
}

func (s *healthService) buildClusterInfo() map[string]any {
	if s.deps.Cluster == nil {
		return map[string]any{"mode": "off"}
	}
	role := "follower"
	if s.deps.Cluster.IsLeader() {
		role = "leader"
	}
	return map[string]any{
		"mode":   "raft",
		"node":   s.deps.Cluster.NodeID(),
		"role":   role,
		"leader": s.deps.Cluster.LeaderID(),
	}
}
