package firestore

import (
	"context"

	fs "cloud.google.com/go/firestore"
)

// Counters are best-effort analytics tallies; each increment runs in
// its own transaction so unrelated agents never contend.

func (s *Store) IncrementAgent(ctx context.Context, agentID string) error {
	return s.incrementCounter(ctx, "agent_"+agentID)
}

func (s *Store) IncrementGlobal(ctx context.Context) error {
	return s.incrementCounter(ctx, "global")
}

func (s *Store) incrementCounter(ctx context.Context, doc string) error {
	ref := s.c.Collection(colCounters).Doc(doc)
	return s.c.RunTransaction(ctx, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.Set(ref, map[string]any{
			"terminated": fs.Increment(1),
		}, fs.MergeAll)
	})
}
