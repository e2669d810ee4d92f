package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/supportdesk/orchestrator/internal/ticket"
)

type fakeSender struct {
	batches [][]Push
	// failTokens marks individual messages as failed.
	failTokens map[string]bool
}

func (s *fakeSender) Send(ctx context.Context, batch []Push) []error {
	s.batches = append(s.batches, append([]Push(nil), batch...))
	errs := make([]error, len(batch))
	for i, p := range batch {
		if s.failTokens[p.Token] {
			errs[i] = errors.New("invalid registration token")
		}
	}
	return errs
}

type fakeDirectory struct {
	agents []Agent
	tokens map[string]string
	err    error
}

func (d *fakeDirectory) OnDutyAgents(ctx context.Context) ([]Agent, error) {
	return d.agents, d.err
}

func (d *fakeDirectory) PushToken(ctx context.Context, userID string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	return d.tokens[userID], nil
}

func quietDispatcher(sender PushSender, dir Directory, batchSize int) *Dispatcher {
	d := NewDispatcher(sender, dir, batchSize)
	d.logf = func(string, ...any) {}
	return d
}

func (s *fakeSender) sentTokens() []string {
	var out []string
	for _, b := range s.batches {
		for _, p := range b {
			out = append(out, p.Token)
		}
	}
	return out
}

func TestClientMessageNotifiesAssignedAgentOnly(t *testing.T) {
	sender := &fakeSender{}
	dir := &fakeDirectory{tokens: map[string]string{"agent-1": "tok-agent"}}
	d := quietDispatcher(sender, dir, 10)

	tk := &ticket.Ticket{ID: "t1", CreatorID: "client-1", AgentID: "agent-1", Status: ticket.StatusAgentInProgress}
	err := d.Dispatch(context.Background(), MessageAdded{
		Ticket:  tk,
		Message: &ticket.Message{ID: "m1", SenderID: "client-1", SenderName: "Client", Body: "hi"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	tokens := sender.sentTokens()
	if len(tokens) != 1 || tokens[0] != "tok-agent" {
		t.Fatalf("tokens = %v, want [tok-agent]", tokens)
	}
}

func TestClientMessageSkippedWhenUnassigned(t *testing.T) {
	sender := &fakeSender{}
	d := quietDispatcher(sender, &fakeDirectory{}, 10)

	tk := &ticket.Ticket{ID: "t1", CreatorID: "client-1", Status: ticket.StatusAssistantHandling}
	if err := d.Dispatch(context.Background(), MessageAdded{
		Ticket:  tk,
		Message: &ticket.Message{ID: "m1", SenderID: "client-1", Body: "hi"},
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(sender.batches) != 0 {
		t.Fatalf("expected no sends, got %v", sender.batches)
	}
}

func TestAssistantReplyNotifiesCreatorNeverSender(t *testing.T) {
	sender := &fakeSender{}
	dir := &fakeDirectory{tokens: map[string]string{"client-1": "tok-client"}}
	d := quietDispatcher(sender, dir, 10)

	tk := &ticket.Ticket{ID: "t1", CreatorID: "client-1", Status: ticket.StatusAssistantHandling}
	if err := d.Dispatch(context.Background(), MessageAdded{
		Ticket:  tk,
		Message: &ticket.Message{ID: "m2", SenderID: ticket.SenderAssistant, SenderName: "Assistant", Body: "hello"},
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	tokens := sender.sentTokens()
	if len(tokens) != 1 || tokens[0] != "tok-client" {
		t.Fatalf("tokens = %v, want [tok-client]", tokens)
	}
}

func TestEscalationFansOutToOnDutyAgents(t *testing.T) {
	sender := &fakeSender{}
	dir := &fakeDirectory{agents: []Agent{
		{ID: "a1", PushToken: "tok-1"},
		{ID: "a2", PushToken: ""}, // unregistered: skipped, not fatal
		{ID: "a3", PushToken: "tok-3"},
	}}
	d := quietDispatcher(sender, dir, 10)

	tk := &ticket.Ticket{ID: "t1", CreatorID: "client-1", Status: ticket.StatusEscalated}
	if err := d.Dispatch(context.Background(), TicketEscalated{Ticket: tk, Reason: "handoff requested"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	tokens := sender.sentTokens()
	if len(tokens) != 2 || tokens[0] != "tok-1" || tokens[1] != "tok-3" {
		t.Fatalf("tokens = %v, want [tok-1 tok-3]", tokens)
	}
}

func TestBatchesSplitAtProviderLimit(t *testing.T) {
	agents := make([]Agent, 7)
	for i := range agents {
		agents[i] = Agent{ID: string(rune('a' + i)), PushToken: strings.Repeat("t", i+1)}
	}
	sender := &fakeSender{}
	d := quietDispatcher(sender, &fakeDirectory{agents: agents}, 3)

	tk := &ticket.Ticket{ID: "t1", Status: ticket.StatusNew}
	if err := d.Dispatch(context.Background(), TicketOpened{Ticket: tk}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(sender.batches) != 3 {
		t.Fatalf("batches = %d, want 3", len(sender.batches))
	}
	if len(sender.batches[0]) != 3 || len(sender.batches[1]) != 3 || len(sender.batches[2]) != 1 {
		t.Fatalf("batch sizes = %d/%d/%d, want 3/3/1", len(sender.batches[0]), len(sender.batches[1]), len(sender.batches[2]))
	}
}

func TestInvalidTokenDoesNotAbortBatch(t *testing.T) {
	sender := &fakeSender{failTokens: map[string]bool{"tok-2": true}}
	dir := &fakeDirectory{agents: []Agent{
		{ID: "a1", PushToken: "tok-1"},
		{ID: "a2", PushToken: "tok-2"},
		{ID: "a3", PushToken: "tok-3"},
	}}
	d := quietDispatcher(sender, dir, 10)

	tk := &ticket.Ticket{ID: "t1", Status: ticket.StatusNew}
	if err := d.Dispatch(context.Background(), TicketOpened{Ticket: tk}); err != nil {
		t.Fatalf("Dispatch must not fail on one bad token: %v", err)
	}
	if got := len(sender.sentTokens()); got != 3 {
		t.Fatalf("all 3 messages must still be attempted, got %d", got)
	}
}

func TestPreviewTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("a", 120) + strings.Repeat("é", 30)
	got := preview(long)
	if !utf8.ValidString(got) {
		t.Fatalf("preview produced invalid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("preview = %q, want ellipsis suffix", got)
	}
	if len(got) > 140+len("…") {
		t.Fatalf("preview length = %d bytes, want at most 140 before the ellipsis", len(got))
	}

	short := "héllo"
	if preview(short) != short {
		t.Fatalf("preview(%q) = %q, want unchanged", short, preview(short))
	}
}

func TestAppointmentNotifiesClientAndPartner(t *testing.T) {
	sender := &fakeSender{}
	dir := &fakeDirectory{tokens: map[string]string{"client-1": "tok-c", "partner-1": "tok-p"}}
	d := quietDispatcher(sender, dir, 10)

	err := d.Dispatch(context.Background(), AppointmentScheduled{Appointment: Appointment{
		ID: "ap1", TicketID: "t1", Title: "Fitting", ClientID: "client-1", PartnerContactID: "partner-1",
	}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	tokens := sender.sentTokens()
	if len(tokens) != 2 {
		t.Fatalf("tokens = %v, want client and partner", tokens)
	}
}
