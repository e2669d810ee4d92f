package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/supportdesk/orchestrator/internal/completion"
	"github.com/supportdesk/orchestrator/internal/escalate"
	"github.com/supportdesk/orchestrator/internal/retry"
	"github.com/supportdesk/orchestrator/internal/ticket"
)

// RunTurn executes one assistant turn: replay the recent history to the
// completion provider, store the reply, and escalate when the reply
// signals a handoff or the call exhausted its retries. A non-nil return
// means the delivery should be redelivered; handled outcomes (including
// escalation) return nil.
func (o *Orchestrator) RunTurn(ctx context.Context, ticketID, messageID string) error {
	// The marker is a short lease while the turn runs, promoted to a
	// durable done marker on completion. A worker that crashes mid-turn
	// holds neither for long, so the redelivered job reclaims the lease
	// once it lapses instead of being dropped as a duplicate.
	marker := "turn:" + messageID
	won, err := o.dedup.MarkProcessed(ctx, marker, o.cfg.TurnLease)
	if err != nil {
		o.logf("orchestrator dedup check failed key=%s err=%v", marker, err)
	} else if !won {
		done, derr := o.dedup.Done(ctx, marker)
		if derr != nil {
			return derr
		}
		if done {
			return nil
		}
		// Another worker holds the lease. Redeliver; if the holder
		// crashed the lease lapses and a later attempt gets through.
		return fmt.Errorf("turn for message %s already in flight", messageID)
	}
	// Release the claim when the turn must be redelivered.
	fail := func(err error) error {
		if uerr := o.dedup.Unmark(ctx, marker); uerr != nil {
			o.logf("orchestrator unmark failed key=%s err=%v", marker, uerr)
		}
		return err
	}
	// Promote the lease once every side effect of this turn is in.
	finish := func() {
		if cerr := o.dedup.Complete(ctx, marker, o.cfg.MarkerTTL); cerr != nil {
			o.logf("orchestrator marker promote failed key=%s err=%v", marker, cerr)
		}
	}

	t, err := o.store.GetTicket(ctx, ticketID)
	if err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			o.logf("orchestrator turn dropped ticket=%s message=%s err=%v", ticketID, messageID, err)
			finish()
			return nil
		}
		return fail(err)
	}
	if t.Status != ticket.StatusNew && t.Status != ticket.StatusAssistantHandling {
		// The assistant only speaks while it owns the conversation.
		finish()
		return nil
	}

	history, err := o.store.RecentHistory(ctx, ticketID, o.cfg.HistoryWindow)
	if err != nil {
		return fail(err)
	}

	req := completion.Request{
		Messages:    o.buildPrompt(t, history),
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	}

	var reply string
	err = retry.Do(ctx, o.cfg.RetryAttempts, o.cfg.RetryBase, completion.IsRetryable, func(ctx context.Context) error {
		var cerr error
		reply, cerr = o.provider.Complete(ctx, req)
		return cerr
	})
	if err != nil {
		// Retry exhaustion or a permanent upstream fault: force the
		// handoff so the ticket never hangs on a broken assistant.
		o.logf("orchestrator completion failed ticket=%s message=%s err=%v", ticketID, messageID, err)
		o.escalateTicket(ctx, t, messageID, "assistant unavailable: "+err.Error(), true)
		finish()
		return nil
	}

	assistantMsg := &ticket.Message{
		TicketID:   ticketID,
		SenderID:   ticket.SenderAssistant,
		SenderName: "Assistant",
		Body:       reply,
		Type:       ticket.MessageText,
	}
	if err := o.store.AppendMessage(ctx, assistantMsg); err != nil {
		return fail(err)
	}

	if escalate, reason := o.detector.Detect(reply); escalate {
		// The reply itself already told the client; no extra system
		// notice.
		o.escalateTicket(ctx, t, messageID, reason, false)
	}
	finish()
	return nil
}

// buildPrompt replays the window oldest-first. System-sentinel messages
// are conversation chrome, not dialogue, and stay out of the prompt.
func (o *Orchestrator) buildPrompt(t *ticket.Ticket, history []ticket.Message) []completion.Message {
	msgs := make([]completion.Message, 0, len(history)+1)
	if o.cfg.SystemPrompt != "" {
		msgs = append(msgs, completion.Message{Role: completion.RoleSystem, Content: o.cfg.SystemPrompt})
	}
	for _, m := range history {
		switch {
		case m.SenderID == ticket.SenderAssistant:
			msgs = append(msgs, completion.Message{Role: completion.RoleAssistant, Content: m.Body})
		case m.SenderID == ticket.SenderSystem:
			continue
		default:
			msgs = append(msgs, completion.Message{Role: completion.RoleUser, Content: m.Body})
		}
	}
	return msgs
}

// escalateTicket commits the handoff decision and applies its effects.
// withNotice posts the canned failure notice for turns that produced no
// assistant reply to inspect.
func (o *Orchestrator) escalateTicket(ctx context.Context, t *ticket.Ticket, messageID, reason string, withNotice bool) {
	systemBody := ""
	if withNotice {
		systemBody = escalate.FailureNotice
	}

	d, err := ticket.OnEscalation(t, messageID, reason, systemBody)
	if err != nil {
		o.logf("orchestrator escalation no-op ticket=%s err=%v", t.ID, err)
		return
	}
	if d.Next != t.Status {
		if err := o.store.TransitionStatus(ctx, t.ID, d.Next); err != nil {
			if errors.Is(err, ticket.ErrTicketClosed) || errors.Is(err, ticket.ErrInvalidTransition) {
				o.logf("orchestrator escalation lost ticket=%s err=%v", t.ID, err)
				return
			}
			o.logf("orchestrator escalation transition failed ticket=%s err=%v", t.ID, err)
			return
		}
	}
	o.applyEffects(ctx, t, nil, d.Effects)
}
