package firestore

import (
	"context"
	"fmt"
	"time"

	fs "cloud.google.com/go/firestore"

	"github.com/supportdesk/orchestrator/internal/ticket"
)

func (s *Store) CreateTicket(ctx context.Context, t *ticket.Ticket) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}
	if _, err := s.ticketRef(t.ID).Create(ctx, t); err != nil {
		return fmt.Errorf("create ticket %s: %w", t.ID, err)
	}
	// Mirror fast-read fields for the conversation list screen.
	_, err := s.convRef(t.ID).Set(ctx, map[string]any{
		"status":       t.Status,
		"last_message": t.LastMessage,
		"typing":       map[string]any{},
	})
	return err
}

func (s *Store) GetTicket(ctx context.Context, id string) (*ticket.Ticket, error) {
	snap, err := s.ticketRef(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, ticket.ErrNotFound
		}
		return nil, err
	}
	var t ticket.Ticket
	if err := snap.DataTo(&t); err != nil {
		return nil, err
	}
	t.ID = snap.Ref.ID
	return &t, nil
}

// TransitionStatus moves a ticket along the lifecycle with
// compare-and-swap semantics: the current status is re-read inside the
// transaction, a repeat of an already-applied transition is a no-op,
// and an illegal edge fails with ErrInvalidTransition.
func (s *Store) TransitionStatus(ctx context.Context, id string, to ticket.Status) error {
	ref := s.ticketRef(id)
	return s.c.RunTransaction(ctx, func(ctx context.Context, tx *fs.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return ticket.ErrNotFound
			}
			return err
		}
		var t ticket.Ticket
		if err := snap.DataTo(&t); err != nil {
			return err
		}
		if t.Status == to {
			return nil
		}
		if t.Status == ticket.StatusTerminated {
			return ticket.ErrTicketClosed
		}
		if !ticket.CanTransition(t.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ticket.ErrInvalidTransition, t.Status, to)
		}

		updates := []fs.Update{
			{Path: "status", Value: to},
			{Path: "updated_at", Value: time.Now().UTC()},
		}
		if to == ticket.StatusEscalated {
			updates = append(updates, fs.Update{Path: "is_agent_requested", Value: true})
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		return tx.Set(s.convRef(id), map[string]any{"status": to}, fs.MergeAll)
	})
}

// ClaimTicket binds the first responding human agent. Losing a claim
// race surfaces as ErrAlreadyClaimed unless the winner was the same
// agent, which is a no-op.
func (s *Store) ClaimTicket(ctx context.Context, id, agentID, agentName string) error {
	ref := s.ticketRef(id)
	return s.c.RunTransaction(ctx, func(ctx context.Context, tx *fs.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return ticket.ErrNotFound
			}
			return err
		}
		var t ticket.Ticket
		if err := snap.DataTo(&t); err != nil {
			return err
		}
		if t.Status == ticket.StatusTerminated {
			return ticket.ErrTicketClosed
		}
		if t.AgentID != "" {
			if t.AgentID == agentID {
				return nil
			}
			return fmt.Errorf("%w: by %s", ticket.ErrAlreadyClaimed, t.AgentID)
		}
		if !ticket.CanTransition(t.Status, ticket.StatusAgentInProgress) {
			return fmt.Errorf("%w: %s -> %s", ticket.ErrInvalidTransition, t.Status, ticket.StatusAgentInProgress)
		}

		if err := tx.Update(ref, []fs.Update{
			{Path: "agent_id", Value: agentID},
			{Path: "agent_name", Value: agentName},
			{Path: "status", Value: ticket.StatusAgentInProgress},
			{Path: "updated_at", Value: time.Now().UTC()},
		}); err != nil {
			return err
		}
		return tx.Set(s.convRef(id), map[string]any{"status": ticket.StatusAgentInProgress}, fs.MergeAll)
	})
}

func (s *Store) SetGreetingSent(ctx context.Context, id string) error {
	_, err := s.ticketRef(id).Update(ctx, []fs.Update{
		{Path: "initial_assistant_message_sent", Value: true},
	})
	return err
}

// ClaimTermination stakes agentID's claim to run the archival, with the
// same compare-and-swap shape as ClaimTicket: the winner's id lands in
// terminating_by, a concurrent rival fails with ErrTerminationInFlight,
// and the same agent may re-claim after an aborted run.
func (s *Store) ClaimTermination(ctx context.Context, ticketID, agentID string) (*ticket.Ticket, error) {
	ref := s.ticketRef(ticketID)
	var claimed ticket.Ticket
	err := s.c.RunTransaction(ctx, func(ctx context.Context, tx *fs.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return ticket.ErrNotFound
			}
			return err
		}
		var t ticket.Ticket
		if err := snap.DataTo(&t); err != nil {
			return err
		}
		t.ID = snap.Ref.ID
		if t.Status == ticket.StatusTerminated {
			return ticket.ErrTicketClosed
		}
		if t.TerminatingBy != "" && t.TerminatingBy != agentID {
			return fmt.Errorf("%w: by %s", ticket.ErrTerminationInFlight, t.TerminatingBy)
		}
		if err := tx.Update(ref, []fs.Update{
			{Path: "terminating_by", Value: agentID},
			{Path: "updated_at", Value: time.Now().UTC()},
		}); err != nil {
			return err
		}
		t.TerminatingBy = agentID
		claimed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// ReleaseTermination clears an aborted claim.
func (s *Store) ReleaseTermination(ctx context.Context, ticketID string) error {
	_, err := s.ticketRef(ticketID).Update(ctx, []fs.Update{
		{Path: "terminating_by", Value: ""},
	})
	return err
}

// MarkTerminated is archival step 4: flip status and stamp the
// termination time. Only the agent holding the termination claim
// reaches this; the archive record is already written by now.
func (s *Store) MarkTerminated(ctx context.Context, ticketID, agentID, agentName string, at time.Time) error {
	_, err := s.ticketRef(ticketID).Update(ctx, []fs.Update{
		{Path: "status", Value: ticket.StatusTerminated},
		{Path: "terminated_at", Value: at},
		{Path: "terminated_by", Value: agentID},
		{Path: "terminating_by", Value: ""},
		{Path: "updated_at", Value: at},
	})
	if err != nil {
		return fmt.Errorf("mark terminated %s: %w", ticketID, err)
	}
	return nil
}
