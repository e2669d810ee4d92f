// Package ratelimit bounds per-user request rates with a fixed window
// persisted as one counter document per user, mutated only inside the
// store's transactional read-modify-write primitive.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRateExceeded is the client-facing throttle; callers map it to a
// 429-equivalent. ErrCheckFailed is an infrastructure fault. The two
// must never be confused.
var (
	ErrRateExceeded = errors.New("rate limit exceeded")
	ErrCheckFailed  = errors.New("rate limit check failed")
)

type Record struct {
	WindowStart time.Time `firestore:"window_start"`
	Count       int       `firestore:"count"`
}

// RecordStore runs f against the caller's record inside one document
// transaction. rec is zero-valued when no record exists yet; the
// mutated rec is committed unless f returns an error.
type RecordStore interface {
	Update(ctx context.Context, key string, f func(rec *Record) error) error
}

type Limiter struct {
	store  RecordStore
	window time.Duration
	limit  int

	// txRetries bounds extra attempts on transaction contention.
	txRetries int
	now       func() time.Time
}

func New(store RecordStore, window time.Duration, limit int) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	if limit <= 0 {
		limit = 30
	}
	return &Limiter{store: store, window: window, limit: limit, txRetries: 2, now: time.Now}
}

// Allow consumes one slot of the caller's window. It returns nil,
// ErrRateExceeded, or ErrCheckFailed wrapped with the underlying
// fault; it never returns a raw transaction error.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	var lastErr error
	for attempt := 0; attempt <= l.txRetries; attempt++ {
		err := l.store.Update(ctx, key, func(rec *Record) error {
			now := l.now()
			if rec.WindowStart.IsZero() || now.Sub(rec.WindowStart) >= l.window {
				rec.WindowStart = now
				rec.Count = 1
				return nil
			}
			if rec.Count >= l.limit {
				return ErrRateExceeded
			}
			rec.Count++
			return nil
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrRateExceeded) {
			return ErrRateExceeded
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrCheckFailed, lastErr)
}
