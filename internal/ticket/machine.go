package ticket

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("ticket not found")
	ErrTicketClosed        = errors.New("ticket terminated")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrAlreadyClaimed      = errors.New("ticket already claimed")
	ErrTerminationInFlight = errors.New("termination already in progress")
)

// transitions enumerates every legal edge. Status is monotonic along
// new -> assistant-handling -> escalated-to-agent -> agent-in-progress,
// and terminated is reachable from everywhere.
var transitions = map[Status][]Status{
	StatusNew:               {StatusAssistantHandling, StatusEscalated, StatusAgentInProgress, StatusTerminated},
	StatusAssistantHandling: {StatusEscalated, StatusAgentInProgress, StatusTerminated},
	StatusEscalated:         {StatusAgentInProgress, StatusTerminated},
	StatusAgentInProgress:   {StatusTerminated},
	StatusTerminated:        {},
}

func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Effect is one side-effect instruction produced by a transition. The
// machine never performs effects itself; the caller applies them
// idempotently, keyed by the triggering message id.
type Effect interface{ isEffect() }

// PostSystemMessage appends a system-sentinel message. Key dedups
// repeated deliveries of the same triggering event.
type PostSystemMessage struct {
	Body string
	Key  string
}

// InvokeAssistant schedules one assistant turn for the given message.
type InvokeAssistant struct {
	MessageID string
}

// AssignAgent binds the ticket to the first human responder.
type AssignAgent struct {
	AgentID   string
	AgentName string
}

// NotifyMessage asks the dispatcher to inform the counterparty of a new
// message; recipient resolution lives in the dispatcher.
type NotifyMessage struct{}

// NotifyAgents fans out to all on-duty agents with a push address.
type NotifyAgents struct {
	Reason string
}

func (PostSystemMessage) isEffect() {}
func (InvokeAssistant) isEffect()   {}
func (AssignAgent) isEffect()       {}
func (NotifyMessage) isEffect()     {}
func (NotifyAgents) isEffect()      {}

type Decision struct {
	Next    Status
	Effects []Effect
}

// OnMessageAppended decides the next status and side effects for one
// appended message. Pure: same ticket+message always yields the same
// decision, so duplicate change-feed deliveries are harmless as long as
// the caller applies effects idempotently.
func OnMessageAppended(t *Ticket, m *Message) (Decision, error) {
	if t == nil {
		return Decision{}, ErrNotFound
	}
	if t.Status == StatusTerminated {
		return Decision{Next: StatusTerminated}, ErrTicketClosed
	}

	switch {
	case m.SenderID == SenderSystem:
		// System messages are side effects of other transitions.
		return Decision{Next: t.Status}, nil

	case m.SenderID == SenderAssistant:
		return Decision{Next: t.Status, Effects: []Effect{NotifyMessage{}}}, nil

	case m.FromClient(t):
		return onClientMessage(t, m), nil

	default:
		return onAgentMessage(t, m)
	}
}

func onClientMessage(t *Ticket, m *Message) Decision {
	switch t.Status {
	case StatusNew:
		return Decision{
			Next:    StatusAssistantHandling,
			Effects: []Effect{InvokeAssistant{MessageID: m.ID}, NotifyMessage{}},
		}
	case StatusAssistantHandling:
		return Decision{
			Next:    StatusAssistantHandling,
			Effects: []Effect{InvokeAssistant{MessageID: m.ID}, NotifyMessage{}},
		}
	default:
		// Escalated or agent-in-progress: the assistant stays silent.
		return Decision{Next: t.Status, Effects: []Effect{NotifyMessage{}}}
	}
}

func onAgentMessage(t *Ticket, m *Message) (Decision, error) {
	if t.AgentID == "" {
		// First human response claims the ticket.
		if !CanTransition(t.Status, StatusAgentInProgress) {
			return Decision{Next: t.Status}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, StatusAgentInProgress)
		}
		return Decision{
			Next: StatusAgentInProgress,
			Effects: []Effect{
				AssignAgent{AgentID: m.SenderID, AgentName: m.SenderName},
				PostSystemMessage{
					Body: fmt.Sprintf("%s has joined the conversation and will take it from here.", m.SenderName),
					Key:  m.ID + ":takeover",
				},
				NotifyMessage{},
			},
		}, nil
	}

	next := t.Status
	if t.AgentID == m.SenderID && t.Status == StatusEscalated {
		// Claim raced the message; settle on agent-in-progress.
		next = StatusAgentInProgress
	}
	return Decision{Next: next, Effects: []Effect{NotifyMessage{}}}, nil
}

// OnEscalation handles a "requires human" verdict for the latest
// assistant turn, or a turn that exhausted retries. systemBody is empty
// when the assistant's own reply already communicated the handoff.
func OnEscalation(t *Ticket, messageID, reason, systemBody string) (Decision, error) {
	if t == nil {
		return Decision{}, ErrNotFound
	}
	if t.Status == StatusTerminated {
		return Decision{Next: StatusTerminated}, ErrTicketClosed
	}
	if t.Status == StatusEscalated || t.Status == StatusAgentInProgress {
		// Already with (or waiting for) a human.
		return Decision{Next: t.Status}, nil
	}

	effects := []Effect{NotifyAgents{Reason: reason}}
	if systemBody != "" {
		effects = append(effects, PostSystemMessage{Body: systemBody, Key: messageID + ":handoff"})
	}
	return Decision{Next: StatusEscalated, Effects: effects}, nil
}
