package storage

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled bounds the call rate of a StateStore. Every call waits for a
// token first, so a slow backend sees a steady load instead of bursts.
type Throttled struct {
	store   StateStore
	limiter *rate.Limiter
}

// NewThrottled wraps store with a token bucket of limit calls per second and
// the given burst. A non-positive limit disables throttling.
func NewThrottled(store StateStore, limit rate.Limit, burst int) *Throttled {
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{store: store, limiter: rate.NewLimiter(limit, burst)}
}

// Unwrap returns the wrapped store.
func (t *Throttled) Unwrap() StateStore {
	return t.store
}

// Load waits for a token, then loads from the wrapped store.
func (t *Throttled) Load(ctx context.Context, kind Kind, learnerID string) (*Record, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.store.Load(ctx, kind, learnerID)
}

// Save waits for a token, then saves to the wrapped store.
func (t *Throttled) Save(ctx context.Context, rec *Record) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.store.Save(ctx, rec)
}

// Delete waits for a token, then deletes from the wrapped store.
func (t *Throttled) Delete(ctx context.Context, kind Kind, learnerID string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.store.Delete(ctx, kind, learnerID)
}

// Close closes the wrapped store.
func (t *Throttled) Close() error {
	return t.store.Close()
}
