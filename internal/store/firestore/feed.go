package firestore

import (
	"context"
	"fmt"

	fs "cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/supportdesk/orchestrator/internal/ticket"
)

// MessageEvent is one message appearing on the change feed. Dedup of
// replayed snapshots is the consumer's job; the feed delivers whatever
// the store replays.
type MessageEvent struct {
	TicketID string
	Message  ticket.Message
}

// ListenMessages streams newly added messages across all tickets into
// out until ctx is canceled. It blocks; run it on its own goroutine.
func (s *Store) ListenMessages(ctx context.Context, out chan<- MessageEvent) error {
	it := s.c.CollectionGroup(colMessages).Snapshots(ctx)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if err != nil {
			if status.Code(err) == codes.Canceled || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("message feed: %w", err)
		}
		for _, change := range snap.Changes {
			if change.Kind != fs.DocumentAdded {
				continue
			}
			var m ticket.Message
			if err := change.Doc.DataTo(&m); err != nil {
				return fmt.Errorf("message feed decode %s: %w", change.Doc.Ref.ID, err)
			}
			m.ID = change.Doc.Ref.ID

			// messages live as tickets/{id}/messages/{mid}
			parent := change.Doc.Ref.Parent.Parent
			if parent == nil {
				continue
			}
			m.TicketID = parent.ID

			select {
			case out <- MessageEvent{TicketID: parent.ID, Message: m}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// ListenNewTickets streams tickets entering the lifecycle so agents can
// be told about fresh work before the first assistant turn lands.
func (s *Store) ListenNewTickets(ctx context.Context, out chan<- ticket.Ticket) error {
	it := s.c.Collection(colTickets).
		Where("status", "==", string(ticket.StatusNew)).
		Snapshots(ctx)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if err != nil {
			if status.Code(err) == codes.Canceled || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ticket feed: %w", err)
		}
		for _, change := range snap.Changes {
			if change.Kind != fs.DocumentAdded {
				continue
			}
			var t ticket.Ticket
			if err := change.Doc.DataTo(&t); err != nil {
				return fmt.Errorf("ticket feed decode %s: %w", change.Doc.Ref.ID, err)
			}
			t.ID = change.Doc.Ref.ID

			select {
			case out <- t:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
