package notify

import (
	"context"
	"fmt"
	"log"
	"unicode/utf8"

	"github.com/supportdesk/orchestrator/internal/ticket"
)

const defaultChannelID = "support"

type Push struct {
	Token     string
	Title     string
	Body      string
	Sound     string
	ChannelID string
	Data      map[string]string
}

// PushSender delivers one provider-sized batch. The returned slice has
// one entry per message; a non-nil entry means that message failed.
type PushSender interface {
	Send(ctx context.Context, batch []Push) []error
}

type Agent struct {
	ID        string
	Name      string
	PushToken string
}

// Directory answers recipient lookups over the user/agent collection.
type Directory interface {
	// OnDutyAgents returns human agents with the agent role, the
	// on-duty flag, and a registered push address.
	OnDutyAgents(ctx context.Context) ([]Agent, error)
	// PushToken returns "" for users with no registered address.
	PushToken(ctx context.Context, userID string) (string, error)
}

type Dispatcher struct {
	sender    PushSender
	dir       Directory
	batchSize int
	logf      func(format string, args ...any)
}

func NewDispatcher(sender PushSender, dir Directory, batchSize int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Dispatcher{sender: sender, dir: dir, batchSize: batchSize, logf: log.Printf}
}

// Dispatch resolves recipients and fans out in bounded batches. Push
// delivery is a best-effort side channel: partial failures are logged
// and skipped, and the returned error covers recipient resolution only.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	pushes, err := d.resolve(ctx, ev)
	if err != nil {
		return err
	}
	d.send(ctx, pushes)
	return nil
}

func (d *Dispatcher) resolve(ctx context.Context, ev Event) ([]Push, error) {
	switch e := ev.(type) {
	case MessageAdded:
		return d.resolveMessage(ctx, e)

	case TicketOpened:
		return d.resolveAgentFanout(ctx, e.Ticket, "New support ticket", e.Ticket.LastMessage, "ticket_opened")

	case TicketEscalated:
		return d.resolveAgentFanout(ctx, e.Ticket, "Ticket needs a human agent", e.Reason, "ticket_escalated")

	case AppointmentScheduled:
		return d.resolveAppointment(ctx, e.Appointment)

	default:
		return nil, fmt.Errorf("notify: unknown event type %T", ev)
	}
}

func (d *Dispatcher) resolveMessage(ctx context.Context, e MessageAdded) ([]Push, error) {
	t, m := e.Ticket, e.Message

	var recipient string
	switch {
	case m.SenderID == t.CreatorID:
		// Client wrote: tell the assigned human, if any.
		if t.AgentID == "" || ticket.IsSentinel(t.AgentID) {
			return nil, nil
		}
		recipient = t.AgentID
	case m.SenderID == ticket.SenderSystem:
		return nil, nil
	default:
		// Agent or assistant wrote: tell the creator.
		recipient = t.CreatorID
	}
	if recipient == m.SenderID {
		return nil, nil
	}

	token, err := d.dir.PushToken(ctx, recipient)
	if err != nil {
		return nil, fmt.Errorf("notify: push token for %s: %w", recipient, err)
	}
	if token == "" {
		d.logf("notify skip recipient=%s reason=no_push_token ticket=%s", recipient, t.ID)
		return nil, nil
	}

	return []Push{{
		Token:     token,
		Title:     m.SenderName,
		Body:      preview(m.Body),
		Sound:     "default",
		ChannelID: defaultChannelID,
		Data:      map[string]string{"kind": "message", "ticket_id": t.ID, "message_id": m.ID},
	}}, nil
}

func (d *Dispatcher) resolveAgentFanout(ctx context.Context, t *ticket.Ticket, title, body, kind string) ([]Push, error) {
	agents, err := d.dir.OnDutyAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("notify: agent directory: %w", err)
	}
	pushes := make([]Push, 0, len(agents))
	for _, a := range agents {
		if a.PushToken == "" {
			d.logf("notify skip agent=%s reason=no_push_token ticket=%s", a.ID, t.ID)
			continue
		}
		pushes = append(pushes, Push{
			Token:     a.PushToken,
			Title:     title,
			Body:      preview(body),
			Sound:     "default",
			ChannelID: defaultChannelID,
			Data:      map[string]string{"kind": kind, "ticket_id": t.ID},
		})
	}
	return pushes, nil
}

func (d *Dispatcher) resolveAppointment(ctx context.Context, a Appointment) ([]Push, error) {
	var pushes []Push
	for _, uid := range []string{a.ClientID, a.PartnerContactID} {
		if uid == "" {
			continue
		}
		token, err := d.dir.PushToken(ctx, uid)
		if err != nil {
			return nil, fmt.Errorf("notify: push token for %s: %w", uid, err)
		}
		if token == "" {
			d.logf("notify skip recipient=%s reason=no_push_token appointment=%s", uid, a.ID)
			continue
		}
		pushes = append(pushes, Push{
			Token:     token,
			Title:     "Appointment scheduled",
			Body:      preview(a.Title),
			Sound:     "default",
			ChannelID: defaultChannelID,
			Data:      map[string]string{"kind": "appointment", "appointment_id": a.ID, "ticket_id": a.TicketID},
		})
	}
	return pushes, nil
}

// send splits into provider-sized chunks; a failed chunk or message
// never aborts the rest.
func (d *Dispatcher) send(ctx context.Context, pushes []Push) {
	for start := 0; start < len(pushes); start += d.batchSize {
		end := start + d.batchSize
		if end > len(pushes) {
			end = len(pushes)
		}
		chunk := pushes[start:end]
		results := d.sender.Send(ctx, chunk)
		for i, err := range results {
			if err != nil && i < len(chunk) {
				d.logf("notify send failed token=%s err=%v", chunk[i].Token, err)
			}
		}
	}
}

// preview truncates on a rune boundary so a multi-byte character is
// never split mid-sequence.
func preview(s string) string {
	const max = 140
	if len(s) <= max {
		return s
	}
	cut := max - 1
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
