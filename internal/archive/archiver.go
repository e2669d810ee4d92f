// Package archive moves a terminated ticket's full content into a
// write-once archive record and keeps the per-agent and global
// termination counters consistent.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/supportdesk/orchestrator/internal/common"
	"github.com/supportdesk/orchestrator/internal/ticket"
)

// ArchivedMessage carries timestamps as RFC 3339 UTC strings so the
// archive stays readable without store-native timestamp decoding.
type ArchivedMessage struct {
	ID         string `firestore:"id"`
	SenderID   string `firestore:"sender_id"`
	SenderName string `firestore:"sender_name"`
	Body       string `firestore:"body"`
	Type       string `firestore:"type"`
	CreatedAt  string `firestore:"created_at"`
}

// Record is written exactly once per terminated ticket.
type Record struct {
	ID               string            `firestore:"-"`
	TicketID         string            `firestore:"ticket_id"`
	Ticket           ticket.Ticket     `firestore:"ticket"`
	Typing           map[string]string `firestore:"typing"`
	Messages         []ArchivedMessage `firestore:"messages"`
	TerminatedBy     string            `firestore:"terminated_by"`
	TerminatedByName string            `firestore:"terminated_by_name"`
	TerminatedAt     string            `firestore:"terminated_at"`
}

// LiveStore reads and mutates the live copies of a conversation.
type LiveStore interface {
	// ClaimTermination atomically stakes agentID's claim to terminate
	// the ticket and returns the live snapshot read in the same
	// transaction. It fails with ErrTicketClosed when already
	// terminated and ErrTerminationInFlight when another agent's
	// termination is underway; re-claiming by the same agent succeeds,
	// so an aborted run can be retried.
	ClaimTermination(ctx context.Context, ticketID, agentID string) (*ticket.Ticket, error)
	// ReleaseTermination clears the claim after an aborted run that
	// left all live data untouched.
	ReleaseTermination(ctx context.Context, ticketID string) error
	// GetConversation returns (nil, nil) when no typing-state record
	// exists.
	GetConversation(ctx context.Context, id string) (*ticket.Conversation, error)
	// ListMessages returns the full message list ordered by creation
	// time, oldest first.
	ListMessages(ctx context.Context, ticketID string) ([]ticket.Message, error)
	// DeleteConversationData removes all live messages and the
	// typing-state record in one batched write.
	DeleteConversationData(ctx context.Context, ticketID string, messageIDs []string) error
	MarkTerminated(ctx context.Context, ticketID, agentID, agentName string, at time.Time) error
}

// ArchiveStore appends to the write-once archive collection.
type ArchiveStore interface {
	Put(ctx context.Context, rec *Record) error
}

// CounterStore increments best-effort analytics tallies, each in its
// own transaction so unrelated agents never contend.
type CounterStore interface {
	IncrementAgent(ctx context.Context, agentID string) error
	IncrementGlobal(ctx context.Context) error
}

type Result struct {
	ArchiveID         string
	MessageCount      int
	AlreadyTerminated bool
}

type Archiver struct {
	live     LiveStore
	archive  ArchiveStore
	counters CounterStore

	now  func() time.Time
	logf func(format string, args ...any)
}

func NewArchiver(live LiveStore, archiveStore ArchiveStore, counters CounterStore) *Archiver {
	return &Archiver{
		live:     live,
		archive:  archiveStore,
		counters: counters,
		now:      time.Now,
		logf:     log.Printf,
	}
}

// Terminate archives ticketID on behalf of the terminating agent.
//
// The transactional claim makes concurrent terminations resolve to one
// winner: losers see ErrTerminationInFlight, repeats on a terminated
// ticket see the idempotent no-op result. Step order after the claim is
// load-bearing: the archive record is written before any live data is
// deleted, so a failure can only ever leave the ticket fully live
// (possibly with an orphan archive, which is surfaced), never
// half-deleted. Counter failures do not fail the archival.
func (a *Archiver) Terminate(ctx context.Context, ticketID, agentID, agentName string) (*Result, error) {
	t, err := a.live.ClaimTermination(ctx, ticketID, agentID)
	if err != nil {
		if errors.Is(err, ticket.ErrTicketClosed) {
			// Business-level idempotency: no second archive record, no
			// second counter increment.
			return &Result{AlreadyTerminated: true}, nil
		}
		return nil, fmt.Errorf("archive: claim termination of %s: %w", ticketID, err)
	}

	// Aborts before the archive write leave all live data untouched, so
	// the claim is released for any agent to retry.
	abort := func(err error) (*Result, error) {
		if rerr := a.live.ReleaseTermination(ctx, ticketID); rerr != nil {
			a.logf("archive release claim failed ticket=%s err=%v", ticketID, rerr)
		}
		return nil, err
	}

	conv, err := a.live.GetConversation(ctx, ticketID)
	if err != nil {
		return abort(fmt.Errorf("archive: read typing state %s: %w", ticketID, err))
	}

	msgs, err := a.live.ListMessages(ctx, ticketID)
	if err != nil {
		return abort(fmt.Errorf("archive: list messages %s: %w", ticketID, err))
	}

	archiveID, err := common.NewULID()
	if err != nil {
		return abort(fmt.Errorf("archive: id: %w", err))
	}

	terminatedAt := a.now().UTC()
	rec := &Record{
		ID:               archiveID,
		TicketID:         ticketID,
		Ticket:           *t,
		Messages:         normalizeMessages(msgs),
		TerminatedBy:     agentID,
		TerminatedByName: agentName,
		TerminatedAt:     terminatedAt.Format(time.RFC3339),
	}
	if conv != nil {
		rec.Typing = conv.Typing
	}

	// Step 2: archive write. Abort entirely on failure; live data is
	// untouched.
	if err := a.archive.Put(ctx, rec); err != nil {
		return abort(fmt.Errorf("archive: write record for %s: %w", ticketID, err))
	}

	// Step 3: delete live copies. Past this point a failure leaves an
	// orphan archive record; surface it loudly so a retry doesn't
	// silently create a duplicate.
	msgIDs := make([]string, 0, len(msgs))
	for _, m := range msgs {
		msgIDs = append(msgIDs, m.ID)
	}
	if err := a.live.DeleteConversationData(ctx, ticketID, msgIDs); err != nil {
		a.logf("archive WARNING ticket=%s step=delete-live archive=%s orphaned err=%v", ticketID, archiveID, err)
		return nil, fmt.Errorf("archive: delete live data for %s (archive %s already written): %w", ticketID, archiveID, err)
	}

	// Step 4: flip status and stamp termination time.
	if err := a.live.MarkTerminated(ctx, ticketID, agentID, agentName, terminatedAt); err != nil {
		a.logf("archive WARNING ticket=%s step=mark-terminated archive=%s err=%v", ticketID, archiveID, err)
		return nil, fmt.Errorf("archive: mark terminated %s (archive %s already written): %w", ticketID, archiveID, err)
	}

	// Step 5: counters are analytics, not correctness; log and move on.
	if err := a.counters.IncrementAgent(ctx, agentID); err != nil {
		a.logf("archive counter failed scope=agent agent=%s ticket=%s err=%v", agentID, ticketID, err)
	}
	if err := a.counters.IncrementGlobal(ctx); err != nil {
		a.logf("archive counter failed scope=global ticket=%s err=%v", ticketID, err)
	}

	return &Result{ArchiveID: archiveID, MessageCount: len(msgs)}, nil
}

func normalizeMessages(msgs []ticket.Message) []ArchivedMessage {
	out := make([]ArchivedMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ArchivedMessage{
			ID:         m.ID,
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
			Body:       m.Body,
			Type:       string(m.Type),
			CreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}
