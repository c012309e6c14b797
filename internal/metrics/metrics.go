// Package metrics define los collectors Prometheus del engine. Viven en un
// paquete propio para que store, grant, ciba y http los usen sin ciclos.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grantengine_tokens_issued_total",
		Help: "Tokens emitidos por kind y formato",
	}, []string{"kind", "format"})

	GrantsRevoked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grantengine_grants_revoked_total",
		Help: "Grants que pasaron a REVOKED (sin contar no-ops idempotentes)",
	})

	CascadeSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "grantengine_revocation_cascade_tokens",
		Help:    "Tokens invalidados por pasada de cascada",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	CibaTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grantengine_ciba_transitions_total",
		Help: "Transiciones de estado de sesiones CIBA",
	}, []string{"to"})

	NotifyFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grantengine_ciba_notify_failures_total",
		Help: "Fallos de callback ping/push",
	}, []string{"mode"})

	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grantengine_rate_limited_total",
		Help: "Requests rechazadas por el governor",
	}, []string{"action"})

	StoreRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grantengine_store_retries_total",
		Help: "Reintentos del Store por operación",
	}, []string{"op"})

	SweepDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grantengine_sweep_deleted_total",
		Help: "Entradas vencidas purgadas por el sweep",
	}, []string{"namespace"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grantengine_http_requests_total",
		Help: "Requests HTTP procesadas",
	}, []string{"method", "route", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grantengine_http_request_duration_seconds",
		Help:    "Latencia de los requests HTTP",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	RaftApplyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "grantengine_raft_apply_latency_ms",
		Help:    "Latencia de raft.Apply en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	RaftLeadershipChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grantengine_raft_leadership_changes_total",
		Help: "Cambios de rol a leader",
	})

	RaftLogSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grantengine_raft_log_size_bytes",
		Help: "Tamaño en bytes del archivo de log/stable (BoltDB)",
	})
)

func all() []prometheus.Collector {
	return []prometheus.Collector{
		TokensIssued, GrantsRevoked, CascadeSize, CibaTransitions, NotifyFailures,
		RateLimited, StoreRetries, SweepDeleted, HTTPRequests, HTTPDuration,
		RaftApplyLatency, RaftLeadershipChanges, RaftLogSizeBytes,
	}
}

// Register registra todos los collectors en reg (o el default si es nil).
// Registrar dos veces no es error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range all() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
