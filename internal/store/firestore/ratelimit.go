package firestore

import (
	"context"

	fs "cloud.google.com/go/firestore"

	"github.com/supportdesk/orchestrator/internal/ratelimit"
)

// RateLimitStore returns the per-user window-counter adapter.
func (s *Store) RateLimitStore() ratelimit.RecordStore {
	return rateLimitStore{s}
}

type rateLimitStore struct {
	s *Store
}

// Update runs f against the caller's record in one transaction. A
// missing document presents as a zero-valued record.
func (r rateLimitStore) Update(ctx context.Context, key string, f func(rec *ratelimit.Record) error) error {
	ref := r.s.c.Collection(colRateLimits).Doc(key)
	return r.s.c.RunTransaction(ctx, func(ctx context.Context, tx *fs.Transaction) error {
		var rec ratelimit.Record
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if err := snap.DataTo(&rec); err != nil {
				return err
			}
		case isNotFound(err):
			// first request in this window
		default:
			return err
		}
		if err := f(&rec); err != nil {
			return err
		}
		return tx.Set(ref, rec)
	})
}
