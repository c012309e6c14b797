package rate

import (
	"context"
	"time"

	"github.com/dropDatabas3/grantengine/internal/clock"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/store"
)

const storeCASAttempts = 8

type windowRecord struct {
	Start time.Time `json:"start"`
	Hits  int64     `json:"hits"`
}

// StoreLimiter comparte las ventanas vía el Store (rl/<key>) con un loop de CAS.
type StoreLimiter struct {
	store repository.Store
	clk   clock.Clock
}

var _ Backend = (*StoreLimiter)(nil)

func NewStoreLimiter(s repository.Store, clk clock.Clock) *StoreLimiter {
	return &StoreLimiter{store: s, clk: clk}
}

func (l *StoreLimiter) AllowWithLimits(ctx context.Context, key string, limit int, period time.Duration) (Result, error) {
	k := repository.Key(repository.NSRate, key)
	for attempt := 0; attempt < storeCASAttempts; attempt++ {
		now := l.clk.Now()
		var rec windowRecord
		ver, err := store.GetJSON(ctx, l.store, k, &rec)
		if err != nil && !repository.IsNotFound(err) {
			return Result{}, err
		}
		if err != nil || !now.Before(rec.Start.Add(period)) {
			rec = windowRecord{Start: now}
		}
		rec.Hits++
		end := rec.Start.Add(period)
		_, ok, err := store.CASJSON(ctx, l.store, ver, store.Record{Key: k, Value: rec, ExpiresAt: end})
		if err != nil {
			return Result{}, err
		}
		if !ok {
			continue
		}
		res := Result{
			Allowed:     rec.Hits <= int64(limit),
			Remaining:   remaining(limit, rec.Hits),
			CurrentHits: rec.Hits,
			WindowTTL:   end.Sub(now),
		}
		if !res.Allowed {
			res.RetryAfter = res.WindowTTL
		}
		return res, nil
	}
	return Result{}, repository.ErrConflict
}
