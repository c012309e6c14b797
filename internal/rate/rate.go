// Package rate implementa el RateLimiter por (cliente, acción): una ventana
// que arranca con el primer hit y se reinicia al cumplirse el período.
// Sin regla configurada para una acción, todo pasa.
package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/metrics"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// Acciones con límite configurable.
const (
	ActionRegister = "register"
	ActionCIBA     = "ciba"
	ActionToken    = "token"
	ActionDevice   = "device"
)

type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	WindowTTL   time.Duration
	CurrentHits int64
}

// Backend cuenta hits de key dentro de una ventana window. Cada llamada cuenta,
// se permita o no.
type Backend interface {
	AllowWithLimits(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// Rule es el límite de una acción.
type Rule struct {
	Max    int           `yaml:"max"`
	Period time.Duration `yaml:"period"`
}

// LimitedError lleva el resultado de un rechazo (para Retry-After).
type LimitedError struct {
	Action string
	Result Result
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (retry after %s)", e.Action, e.Result.RetryAfter)
}

// Governor aplica las reglas por acción sobre un Backend.
type Governor struct {
	backend Backend
	rules   map[string]Rule
}

func NewGovernor(b Backend, rules map[string]Rule) *Governor {
	rs := make(map[string]Rule, len(rules))
	for action, r := range rules {
		if r.Max > 0 && r.Period > 0 {
			rs[action] = r
		}
	}
	return &Governor{backend: b, rules: rs}
}

// Rule retorna la regla de action, si hay.
func (g *Governor) Rule(action string) (Rule, bool) {
	r, ok := g.rules[action]
	return r, ok
}

// Check cuenta el hit de (clientKey, action). Un error solo indica fallo del backend.
func (g *Governor) Check(ctx context.Context, clientKey, action string) (Result, error) {
	rule, ok := g.rules[action]
	if !ok || g.backend == nil {
		return Result{Allowed: true, Remaining: -1}, nil
	}
	res, err := g.backend.AllowWithLimits(ctx, windowKey(clientKey, action), rule.Max, rule.Period)
	if err != nil {
		return Result{}, err
	}
	if !res.Allowed {
		metrics.RateLimited.WithLabelValues(action).Inc()
	}
	return res, nil
}

// Enforce es Check para servicios: un rechazo vuelve como oautherr.RateLimited
// envolviendo *LimitedError. Si el backend falla se deja pasar (best effort),
// igual que el middleware HTTP.
func (g *Governor) Enforce(ctx context.Context, clientKey, action string) error {
	res, err := g.Check(ctx, clientKey, action)
	if err != nil {
		logger.From(ctx).Warn("rate limit backend error",
			logger.Layer("rate"), logger.Action(action), logger.Err(err))
		return nil
	}
	if !res.Allowed {
		return oautherr.Wrap(&LimitedError{Action: action, Result: res}, oautherr.RateLimited,
			"too many requests")
	}
	return nil
}

func windowKey(clientKey, action string) string {
	return action + ":" + strings.ReplaceAll(clientKey, " ", "_")
}

func remaining(limit int, hits int64) int64 {
	r := int64(limit) - hits
	if r < 0 {
		return 0
	}
	return r
}
