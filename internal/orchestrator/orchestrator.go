// Package orchestrator drives ticket lifecycles: it turns change-feed
// events into state-machine decisions, applies the resulting effects
// idempotently, and executes assistant turns pulled from the durable
// queue.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/supportdesk/orchestrator/internal/archive"
	"github.com/supportdesk/orchestrator/internal/common"
	"github.com/supportdesk/orchestrator/internal/completion"
	"github.com/supportdesk/orchestrator/internal/escalate"
	"github.com/supportdesk/orchestrator/internal/notify"
	"github.com/supportdesk/orchestrator/internal/queue"
	"github.com/supportdesk/orchestrator/internal/ratelimit"
	"github.com/supportdesk/orchestrator/internal/ticket"
)

// Store is the slice of the document store the orchestrator needs.
type Store interface {
	CreateTicket(ctx context.Context, t *ticket.Ticket) error
	GetTicket(ctx context.Context, id string) (*ticket.Ticket, error)
	AppendMessage(ctx context.Context, m *ticket.Message) error
	TransitionStatus(ctx context.Context, id string, to ticket.Status) error
	ClaimTicket(ctx context.Context, id, agentID, agentName string) error
	SetGreetingSent(ctx context.Context, id string) error
	RecentHistory(ctx context.Context, ticketID string, limit int) ([]ticket.Message, error)
}

// Dedup claims one-shot processed markers for side-effect idempotency.
// MarkProcessed takes a lease; Complete promotes it to a durable done
// marker, and Done distinguishes finished work from a lease whose
// holder crashed.
type Dedup interface {
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Complete(ctx context.Context, key string, ttl time.Duration) error
	Done(ctx context.Context, key string) (bool, error)
	Unmark(ctx context.Context, key string) error
}

// TurnQueue enqueues durable assistant-turn jobs.
type TurnQueue interface {
	Publish(ctx context.Context, job queue.TurnJob) error
}

// Notifier fans out push notifications for one domain event.
type Notifier interface {
	Dispatch(ctx context.Context, ev notify.Event) error
}

// Terminator runs the archival transaction.
type Terminator interface {
	Terminate(ctx context.Context, ticketID, agentID, agentName string) (*archive.Result, error)
}

type Config struct {
	HistoryWindow int
	MaxTokens     int
	Temperature   float64
	RetryAttempts int
	RetryBase     time.Duration
	SystemPrompt  string
	Greeting      string
	MarkerTTL     time.Duration
	TurnLease     time.Duration
}

type Orchestrator struct {
	store    Store
	dedup    Dedup
	turns    TurnQueue
	notifier Notifier
	limiter  *ratelimit.Limiter
	provider completion.Provider
	detector *escalate.Detector
	archiver Terminator
	router   *Router
	cfg      Config

	logf func(format string, args ...any)
}

func New(store Store, dedup Dedup, turns TurnQueue, notifier Notifier, limiter *ratelimit.Limiter,
	provider completion.Provider, detector *escalate.Detector, archiver Terminator, router *Router, cfg Config) *Orchestrator {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 30
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.MarkerTTL <= 0 {
		cfg.MarkerTTL = 24 * time.Hour
	}
	if cfg.TurnLease <= 0 {
		cfg.TurnLease = 5 * time.Minute
	}
	return &Orchestrator{
		store:    store,
		dedup:    dedup,
		turns:    turns,
		notifier: notifier,
		limiter:  limiter,
		provider: provider,
		detector: detector,
		archiver: archiver,
		router:   router,
		cfg:      cfg,
		logf:     log.Printf,
	}
}

// OpenTicket creates the ticket, posts the assistant greeting once, and
// appends the opening client message. The change feed drives everything
// after that.
func (o *Orchestrator) OpenTicket(ctx context.Context, creatorID, creatorName, category, body string) (*ticket.Ticket, *ticket.Message, error) {
	t := &ticket.Ticket{
		ID:          common.NewTicketID(),
		Status:      ticket.StatusNew,
		Category:    category,
		CreatorID:   creatorID,
		LastMessage: body,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := o.store.CreateTicket(ctx, t); err != nil {
		return nil, nil, err
	}

	if o.cfg.Greeting != "" {
		greeting := &ticket.Message{
			TicketID:   t.ID,
			SenderID:   ticket.SenderAssistant,
			SenderName: "Assistant",
			Body:       o.cfg.Greeting,
			Type:       ticket.MessageText,
		}
		if err := o.store.AppendMessage(ctx, greeting); err != nil {
			o.logf("orchestrator greeting failed ticket=%s err=%v", t.ID, err)
		} else if err := o.store.SetGreetingSent(ctx, t.ID); err != nil {
			o.logf("orchestrator greeting flag failed ticket=%s err=%v", t.ID, err)
		} else {
			t.GreetingSent = true
		}
	}

	m := &ticket.Message{
		TicketID:   t.ID,
		SenderID:   creatorID,
		SenderName: creatorName,
		Body:       body,
		Type:       ticket.MessageText,
	}
	if err := o.store.AppendMessage(ctx, m); err != nil {
		return nil, nil, err
	}
	return t, m, nil
}

// SendMessage appends one human message after charging the sender's
// rate window. ErrRateExceeded and ErrCheckFailed pass through
// unwrapped so the API can map throttle and infrastructure faults
// differently.
func (o *Orchestrator) SendMessage(ctx context.Context, ticketID, senderID, senderName, body string) (*ticket.Message, error) {
	if err := o.limiter.Allow(ctx, senderID); err != nil {
		return nil, err
	}

	t, err := o.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status == ticket.StatusTerminated {
		return nil, ticket.ErrTicketClosed
	}

	m := &ticket.Message{
		TicketID:   ticketID,
		SenderID:   senderID,
		SenderName: senderName,
		Body:       body,
		Type:       ticket.MessageText,
	}
	if err := o.store.AppendMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Claim binds an agent via the store's compare-and-swap and posts the
// takeover system message once per ticket.
func (o *Orchestrator) Claim(ctx context.Context, ticketID, agentID, agentName string) error {
	if err := o.store.ClaimTicket(ctx, ticketID, agentID, agentName); err != nil {
		return err
	}
	o.postSystem(ctx, ticketID,
		fmt.Sprintf("%s has joined the conversation and will take it from here.", agentName),
		ticketID+":takeover")
	return nil
}

// Terminate runs the archival transaction synchronously.
func (o *Orchestrator) Terminate(ctx context.Context, ticketID, agentID, agentName string) (*archive.Result, error) {
	return o.archiver.Terminate(ctx, ticketID, agentID, agentName)
}

// HandleNewTicket fans a freshly opened ticket out to on-duty agents,
// once per ticket across feed replays.
func (o *Orchestrator) HandleNewTicket(ctx context.Context, t ticket.Ticket) {
	won, err := o.dedup.MarkProcessed(ctx, "open:"+t.ID, o.cfg.MarkerTTL)
	if err != nil {
		o.logf("orchestrator dedup check failed key=open:%s err=%v", t.ID, err)
	} else if !won {
		return
	}
	if err := o.notifier.Dispatch(ctx, notify.TicketOpened{Ticket: &t}); err != nil {
		o.logf("orchestrator notify failed event=ticket_opened ticket=%s err=%v", t.ID, err)
	}
}

// HandleMessage routes one feed event onto the ticket's lane. It
// reports false once the router has shut down.
func (o *Orchestrator) HandleMessage(ctx context.Context, ticketID string, m ticket.Message) bool {
	return o.router.Submit(ticketID, func() {
		o.processMessage(ctx, ticketID, m)
	})
}

func (o *Orchestrator) processMessage(ctx context.Context, ticketID string, m ticket.Message) {
	won, err := o.dedup.MarkProcessed(ctx, "feed:"+m.ID, o.cfg.MarkerTTL)
	if err != nil {
		// Marker store down: proceed anyway. Transitions are CAS and
		// system messages carry their own markers, so the blast radius
		// of a duplicate is bounded.
		o.logf("orchestrator dedup check failed key=feed:%s err=%v", m.ID, err)
	} else if !won {
		return
	}

	t, err := o.store.GetTicket(ctx, ticketID)
	if err != nil {
		o.logf("orchestrator skip ticket=%s message=%s err=%v", ticketID, m.ID, err)
		return
	}

	d, err := ticket.OnMessageAppended(t, &m)
	if err != nil {
		if errors.Is(err, ticket.ErrTicketClosed) || errors.Is(err, ticket.ErrInvalidTransition) {
			o.logf("orchestrator no-op ticket=%s message=%s err=%v", ticketID, m.ID, err)
			return
		}
		o.logf("orchestrator decision failed ticket=%s message=%s err=%v", ticketID, m.ID, err)
		return
	}

	if d.Next != t.Status {
		if err := o.store.TransitionStatus(ctx, ticketID, d.Next); err != nil {
			if errors.Is(err, ticket.ErrTicketClosed) || errors.Is(err, ticket.ErrInvalidTransition) {
				// Lost a race with a concurrent transition; the winner's
				// effects stand.
				o.logf("orchestrator transition lost ticket=%s to=%s err=%v", ticketID, d.Next, err)
				return
			}
			o.logf("orchestrator transition failed ticket=%s to=%s err=%v", ticketID, d.Next, err)
			return
		}
	}

	o.applyEffects(ctx, t, &m, d.Effects)
}

func (o *Orchestrator) applyEffects(ctx context.Context, t *ticket.Ticket, m *ticket.Message, effects []ticket.Effect) {
	for _, e := range effects {
		switch e := e.(type) {
		case ticket.InvokeAssistant:
			if err := o.turns.Publish(ctx, queue.TurnJob{TicketID: t.ID, MessageID: e.MessageID}); err != nil {
				o.logf("orchestrator enqueue turn failed ticket=%s message=%s err=%v", t.ID, e.MessageID, err)
			}

		case ticket.NotifyMessage:
			if m == nil {
				continue
			}
			if err := o.notifier.Dispatch(ctx, notify.MessageAdded{Ticket: t, Message: m}); err != nil {
				o.logf("orchestrator notify failed event=message ticket=%s err=%v", t.ID, err)
			}

		case ticket.NotifyAgents:
			if err := o.notifier.Dispatch(ctx, notify.TicketEscalated{Ticket: t, Reason: e.Reason}); err != nil {
				o.logf("orchestrator notify failed event=escalated ticket=%s err=%v", t.ID, err)
			}

		case ticket.AssignAgent:
			if err := o.store.ClaimTicket(ctx, t.ID, e.AgentID, e.AgentName); err != nil {
				o.logf("orchestrator assign failed ticket=%s agent=%s err=%v", t.ID, e.AgentID, err)
			}

		case ticket.PostSystemMessage:
			o.postSystem(ctx, t.ID, e.Body, e.Key)
		}
	}
}

// postSystem appends a system message at most once per key, surviving
// duplicate feed deliveries.
func (o *Orchestrator) postSystem(ctx context.Context, ticketID, body, key string) {
	won, err := o.dedup.MarkProcessed(ctx, "sys:"+key, o.cfg.MarkerTTL)
	if err != nil {
		o.logf("orchestrator dedup check failed key=sys:%s err=%v", key, err)
	} else if !won {
		return
	}
	m := &ticket.Message{
		TicketID:   ticketID,
		SenderID:   ticket.SenderSystem,
		SenderName: "System",
		Body:       body,
		Type:       ticket.MessageText,
	}
	if err := o.store.AppendMessage(ctx, m); err != nil {
		o.logf("orchestrator system message failed ticket=%s key=%s err=%v", ticketID, key, err)
	}
}

// Close drains the per-ticket lanes.
func (o *Orchestrator) Close() {
	o.router.Close()
}
