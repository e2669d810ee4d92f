package archive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/supportdesk/orchestrator/internal/ticket"
)

type fakeLive struct {
	mu     sync.Mutex
	ticket *ticket.Ticket
	conv   *ticket.Conversation
	msgs   []ticket.Message

	deleteErr error
	markErr   error

	deletedMsgIDs []string
	deleteCalls   int
	terminated    bool
}

func (s *fakeLive) ClaimTermination(ctx context.Context, ticketID, agentID string) (*ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticket == nil {
		return nil, ticket.ErrNotFound
	}
	if s.ticket.Status == ticket.StatusTerminated {
		return nil, ticket.ErrTicketClosed
	}
	if s.ticket.TerminatingBy != "" && s.ticket.TerminatingBy != agentID {
		return nil, ticket.ErrTerminationInFlight
	}
	s.ticket.TerminatingBy = agentID
	cp := *s.ticket
	return &cp, nil
}

func (s *fakeLive) ReleaseTermination(ctx context.Context, ticketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticket.TerminatingBy = ""
	return nil
}

func (s *fakeLive) GetConversation(ctx context.Context, id string) (*ticket.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv, nil
}

func (s *fakeLive) ListMessages(ctx context.Context, ticketID string) ([]ticket.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs, nil
}

func (s *fakeLive) DeleteConversationData(ctx context.Context, ticketID string, messageIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deletedMsgIDs = messageIDs
	s.msgs = nil
	return nil
}

func (s *fakeLive) MarkTerminated(ctx context.Context, ticketID, agentID, agentName string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	s.terminated = true
	s.ticket.Status = ticket.StatusTerminated
	return nil
}

type fakeArchive struct {
	mu   sync.Mutex
	recs []*Record
	err  error
}

func (s *fakeArchive) Put(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, rec)
	return nil
}

type fakeCounters struct {
	mu     sync.Mutex
	agent  map[string]int
	global int
	err    error
}

func (s *fakeCounters) IncrementAgent(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.agent == nil {
		s.agent = make(map[string]int)
	}
	s.agent[agentID]++
	return nil
}

func (s *fakeCounters) IncrementGlobal(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.global++
	return nil
}

func seededLive(n int) *fakeLive {
	msgs := make([]ticket.Message, 0, n)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		msgs = append(msgs, ticket.Message{
			ID:        string(rune('a' + i)),
			SenderID:  "client-1",
			Body:      "msg",
			Type:      ticket.MessageText,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return &fakeLive{
		ticket: &ticket.Ticket{ID: "t2", Status: ticket.StatusAgentInProgress, CreatorID: "client-1", AgentID: "agent-1"},
		conv:   &ticket.Conversation{ID: "t2", Typing: map[string]string{"client-1": "Client"}},
		msgs:   msgs,
	}
}

func quietArchiver(live LiveStore, arch ArchiveStore, counters CounterStore) *Archiver {
	a := NewArchiver(live, arch, counters)
	a.logf = func(string, ...any) {}
	return a
}

func TestTerminateArchivesEverythingExactlyOnce(t *testing.T) {
	live := seededLive(5)
	arch := &fakeArchive{}
	counters := &fakeCounters{}
	a := quietArchiver(live, arch, counters)

	res, err := a.Terminate(context.Background(), "t2", "agent-1", "Dana")
	if err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if res.MessageCount != 5 {
		t.Fatalf("MessageCount = %d, want 5", res.MessageCount)
	}
	if len(arch.recs) != 1 {
		t.Fatalf("archive records = %d, want 1", len(arch.recs))
	}

	rec := arch.recs[0]
	if len(rec.Messages) != 5 {
		t.Fatalf("archived messages = %d, want 5", len(rec.Messages))
	}
	for i := 1; i < len(rec.Messages); i++ {
		if rec.Messages[i-1].CreatedAt > rec.Messages[i].CreatedAt {
			t.Fatalf("archived messages out of order at %d", i)
		}
	}
	if _, err := time.Parse(time.RFC3339, rec.Messages[0].CreatedAt); err != nil {
		t.Fatalf("archived timestamp not RFC 3339: %v", err)
	}
	if rec.Typing["client-1"] != "Client" {
		t.Fatalf("typing state not snapshotted: %v", rec.Typing)
	}

	if len(live.msgs) != 0 {
		t.Fatalf("live messages remain: %d", len(live.msgs))
	}
	if !live.terminated {
		t.Fatalf("ticket not marked terminated")
	}
	if counters.agent["agent-1"] != 1 || counters.global != 1 {
		t.Fatalf("counters = %v/%d, want 1/1", counters.agent, counters.global)
	}
}

func TestTerminateIsIdempotentAtBusinessLevel(t *testing.T) {
	live := seededLive(2)
	arch := &fakeArchive{}
	counters := &fakeCounters{}
	a := quietArchiver(live, arch, counters)

	if _, err := a.Terminate(context.Background(), "t2", "agent-1", "Dana"); err != nil {
		t.Fatalf("first Terminate: %v", err)
	}
	res, err := a.Terminate(context.Background(), "t2", "agent-1", "Dana")
	if err != nil {
		t.Fatalf("second Terminate: %v", err)
	}
	if !res.AlreadyTerminated {
		t.Fatalf("expected AlreadyTerminated")
	}
	if len(arch.recs) != 1 {
		t.Fatalf("archive records = %d, want 1", len(arch.recs))
	}
	if counters.global != 1 {
		t.Fatalf("global counter = %d, want 1", counters.global)
	}
}

func TestArchiveWriteFailureAbortsBeforeDeletes(t *testing.T) {
	live := seededLive(3)
	arch := &fakeArchive{err: errors.New("archive store down")}
	a := quietArchiver(live, arch, &fakeCounters{})

	_, err := a.Terminate(context.Background(), "t2", "agent-1", "Dana")
	if err == nil {
		t.Fatalf("expected error")
	}
	if live.deleteCalls != 0 {
		t.Fatalf("live data must not be touched after a failed archive write")
	}
	if live.terminated {
		t.Fatalf("ticket must stay live")
	}
}

func TestDeleteFailureSurfacesOrphanArchive(t *testing.T) {
	live := seededLive(3)
	live.deleteErr = errors.New("batch write failed")
	arch := &fakeArchive{}
	counters := &fakeCounters{}

	var warned bool
	a := NewArchiver(live, arch, counters)
	a.logf = func(format string, args ...any) { warned = true }

	_, err := a.Terminate(context.Background(), "t2", "agent-1", "Dana")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !warned {
		t.Fatalf("orphan archive must be surfaced, not swallowed")
	}
	if len(arch.recs) != 1 {
		t.Fatalf("the orphan record exists; a caller must know before retrying")
	}
	if counters.global != 0 {
		t.Fatalf("counters must not move on a failed archival")
	}
}

func TestCounterFailureDoesNotFailArchival(t *testing.T) {
	live := seededLive(1)
	a := quietArchiver(live, &fakeArchive{}, &fakeCounters{err: errors.New("counter tx aborted")})

	res, err := a.Terminate(context.Background(), "t2", "agent-1", "Dana")
	if err != nil {
		t.Fatalf("counters are best-effort; Terminate failed: %v", err)
	}
	if res.ArchiveID == "" {
		t.Fatalf("missing archive id")
	}
}

func TestConcurrentTerminateWritesOneArchive(t *testing.T) {
	live := seededLive(4)
	arch := &fakeArchive{}
	counters := &fakeCounters{}
	a := quietArchiver(live, arch, counters)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, agent := range []string{"agent-1", "agent-2"} {
		agent := agent
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Terminate(context.Background(), "t2", agent, "Agent")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ticket.ErrTerminationInFlight) || errors.Is(err, ticket.ErrTicketClosed):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("wins=%d losses=%d, want exactly one winner", wins, losses)
	}
	if len(arch.recs) != 1 {
		t.Fatalf("archive records = %d, want exactly 1", len(arch.recs))
	}
	if counters.global != 1 {
		t.Fatalf("global counter = %d, want exactly 1", counters.global)
	}
}

func TestAbortedClaimIsReleasedForRetry(t *testing.T) {
	live := seededLive(2)
	arch := &fakeArchive{err: errors.New("archive store down")}
	counters := &fakeCounters{}
	a := quietArchiver(live, arch, counters)

	if _, err := a.Terminate(context.Background(), "t2", "agent-1", "Dana"); err == nil {
		t.Fatalf("expected archive write failure")
	}
	if live.ticket.TerminatingBy != "" {
		t.Fatalf("claim not released after abort: %q", live.ticket.TerminatingBy)
	}

	// A different agent can now finish the job.
	arch.err = nil
	res, err := a.Terminate(context.Background(), "t2", "agent-2", "Sam")
	if err != nil {
		t.Fatalf("retry by another agent: %v", err)
	}
	if res.ArchiveID == "" || len(arch.recs) != 1 {
		t.Fatalf("retry did not archive exactly once: %d records", len(arch.recs))
	}
}

func TestTerminateMissingTicket(t *testing.T) {
	a := quietArchiver(&fakeLive{}, &fakeArchive{}, &fakeCounters{})
	_, err := a.Terminate(context.Background(), "nope", "agent-1", "Dana")
	if !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
