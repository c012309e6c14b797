package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/metrics"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// RetryPolicy acota los reintentos del Store.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy: 4 intentos, 50ms..1s.
var DefaultRetryPolicy = RetryPolicy{MaxTries: 4, InitialInterval: 50 * time.Millisecond, MaxInterval: time.Second}

// Retrying envuelve un Store y reintenta con backoff exponencial solo los
// errores ErrUnavailable. NotFound, un CAS perdido o ctx cancelado no se
// reintentan. Como cada escritura es atómica sobre una clave, reintentar un
// Put/CASPut fallido no puede dejar estado parcial.
type Retrying struct {
	inner  repository.Store
	policy RetryPolicy
}

var _ repository.Store = (*Retrying)(nil)

// NewRetrying envuelve inner. Un policy con MaxTries 0 usa DefaultRetryPolicy.
func NewRetrying(inner repository.Store, policy RetryPolicy) *Retrying {
	if policy.MaxTries == 0 {
		policy = DefaultRetryPolicy
	}
	return &Retrying{inner: inner, policy: policy}
}

// Unwrap retorna el Store envuelto.
func (r *Retrying) Unwrap() repository.Store { return r.inner }

func do[T any](ctx context.Context, r *Retrying, op string, fn func() (T, error)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.policy.InitialInterval
	eb.MaxInterval = r.policy.MaxInterval

	wrapped := func() (T, error) {
		v, err := fn()
		if err != nil && !repository.IsUnavailable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(r.policy.MaxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			metrics.StoreRetries.WithLabelValues(op).Inc()
			logger.From(ctx).Warn("store retry",
				logger.Layer("store"), logger.Op(op), logger.Duration(d), logger.Err(err))
		}),
	)
}

func (r *Retrying) Get(ctx context.Context, key string) (*repository.Entry, error) {
	return do(ctx, r, "get", func() (*repository.Entry, error) { return r.inner.Get(ctx, key) })
}

func (r *Retrying) Put(ctx context.Context, e *repository.Entry) error {
	_, err := do(ctx, r, "put", func() (struct{}, error) { return struct{}{}, r.inner.Put(ctx, e) })
	return err
}

func (r *Retrying) CASPut(ctx context.Context, expected int64, e *repository.Entry) (bool, error) {
	return do(ctx, r, "cas", func() (bool, error) { return r.inner.CASPut(ctx, expected, e) })
}

func (r *Retrying) Delete(ctx context.Context, key string) error {
	_, err := do(ctx, r, "delete", func() (struct{}, error) { return struct{}{}, r.inner.Delete(ctx, key) })
	return err
}

func (r *Retrying) Find(ctx context.Context, base string, f repository.Filter) ([]*repository.Entry, error) {
	return do(ctx, r, "find", func() ([]*repository.Entry, error) { return r.inner.Find(ctx, base, f) })
}

func (r *Retrying) Ping(ctx context.Context) error { return r.inner.Ping(ctx) }
func (r *Retrying) Close() error                   { return r.inner.Close() }
