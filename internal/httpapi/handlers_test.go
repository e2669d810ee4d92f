package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/supportdesk/orchestrator/internal/archive"
	"github.com/supportdesk/orchestrator/internal/auth"
	"github.com/supportdesk/orchestrator/internal/ratelimit"
	"github.com/supportdesk/orchestrator/internal/ticket"
)

const testSecret = "test-secret"

type stubService struct {
	sendErr      error
	claimErr     error
	terminateErr error
	result       *archive.Result
}

func (s *stubService) OpenTicket(_ context.Context, creatorID, creatorName, category, body string) (*ticket.Ticket, *ticket.Message, error) {
	t := &ticket.Ticket{ID: "t1", Status: ticket.StatusNew, Category: category, CreatorID: creatorID, LastMessage: body}
	m := &ticket.Message{ID: "m1", TicketID: "t1", SenderID: creatorID, SenderName: creatorName, Body: body}
	return t, m, nil
}

func (s *stubService) SendMessage(_ context.Context, ticketID, senderID, senderName, body string) (*ticket.Message, error) {
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	return &ticket.Message{ID: "m2", TicketID: ticketID, SenderID: senderID, SenderName: senderName, Body: body}, nil
}

func (s *stubService) Claim(context.Context, string, string, string) error {
	return s.claimErr
}

func (s *stubService) Terminate(context.Context, string, string, string) (*archive.Result, error) {
	if s.terminateErr != nil {
		return nil, s.terminateErr
	}
	if s.result == nil {
		return &archive.Result{ArchiveID: "a1", MessageCount: 3}, nil
	}
	return s.result, nil
}

type stubTyping struct {
	set, cleared int
}

func (s *stubTyping) SetTyping(context.Context, string, string, string) error {
	s.set++
	return nil
}

func (s *stubTyping) ClearTyping(context.Context, string, string) error {
	s.cleared++
	return nil
}

type stubReader struct{}

func (stubReader) GetTicket(_ context.Context, id string) (*ticket.Ticket, error) {
	if id == "missing" {
		return nil, ticket.ErrNotFound
	}
	return &ticket.Ticket{ID: id, Status: ticket.StatusAssistantHandling, CreatorID: "client-1"}, nil
}

func (stubReader) ListMessagesBefore(_ context.Context, ticketID, beforeID string, limit int) ([]ticket.Message, error) {
	return []ticket.Message{{ID: "m1", TicketID: ticketID, SenderID: "client-1", Body: "hi"}}, nil
}

func newTestRouter(svc *stubService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(testSecret, NewHandler(svc, stubReader{}, &stubTyping{}))
}

func doRequest(t *testing.T, r *gin.Engine, method, path, body, role string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		token, err := auth.SignToken(testSecret, "u1", "Dana", role, time.Hour)
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSendMessageRequiresAuth(t *testing.T) {
	r := newTestRouter(&stubService{})
	w := doRequest(t, r, http.MethodPost, "/tickets/t1/messages", `{"body":"hi"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestSendMessageThrottleMapsTo429(t *testing.T) {
	r := newTestRouter(&stubService{sendErr: ratelimit.ErrRateExceeded})
	w := doRequest(t, r, http.MethodPost, "/tickets/t1/messages", `{"body":"hi"}`, "client")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if !strings.Contains(w.Body.String(), "try again shortly") {
		t.Fatalf("body = %s, want a try-again-shortly message", w.Body.String())
	}
}

func TestSendMessageInfraFaultMapsTo503(t *testing.T) {
	r := newTestRouter(&stubService{sendErr: ratelimit.ErrCheckFailed})
	w := doRequest(t, r, http.MethodPost, "/tickets/t1/messages", `{"body":"hi"}`, "client")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503: throttle and infra faults must stay distinct", w.Code)
	}
}

func TestSendMessageToClosedTicket(t *testing.T) {
	r := newTestRouter(&stubService{sendErr: ticket.ErrTicketClosed})
	w := doRequest(t, r, http.MethodPost, "/tickets/t1/messages", `{"body":"hi"}`, "client")
	if w.Code != http.StatusGone {
		t.Fatalf("status = %d, want 410", w.Code)
	}
}

func TestClaimConflict(t *testing.T) {
	r := newTestRouter(&stubService{claimErr: ticket.ErrAlreadyClaimed})
	w := doRequest(t, r, http.MethodPost, "/tickets/t1/claim", "", "agent")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestClaimRequiresAgentRole(t *testing.T) {
	r := newTestRouter(&stubService{})
	w := doRequest(t, r, http.MethodPost, "/tickets/t1/claim", "", "client")
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestTerminateReturnsArchiveSummary(t *testing.T) {
	r := newTestRouter(&stubService{})
	w := doRequest(t, r, http.MethodPost, "/tickets/t1/terminate", "", "agent")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"archive_id":"a1"`) || !strings.Contains(body, `"message_count":3`) {
		t.Fatalf("body = %s, want archive summary", body)
	}
}

func TestTerminateRaceMapsToConflict(t *testing.T) {
	r := newTestRouter(&stubService{terminateErr: ticket.ErrTerminationInFlight})
	w := doRequest(t, r, http.MethodPost, "/tickets/t1/terminate", "", "agent")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestTypingEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	typing := &stubTyping{}
	r := NewRouter(testSecret, NewHandler(&stubService{}, stubReader{}, typing))

	if w := doRequest(t, r, http.MethodPut, "/tickets/t1/typing", "", "client"); w.Code != http.StatusOK {
		t.Fatalf("start typing status = %d, want 200", w.Code)
	}
	if w := doRequest(t, r, http.MethodDelete, "/tickets/t1/typing", "", "client"); w.Code != http.StatusOK {
		t.Fatalf("stop typing status = %d, want 200", w.Code)
	}
	if typing.set != 1 || typing.cleared != 1 {
		t.Fatalf("typing calls = %d/%d, want 1/1", typing.set, typing.cleared)
	}
}

func TestCreateTicketValidatesBody(t *testing.T) {
	r := newTestRouter(&stubService{})
	w := doRequest(t, r, http.MethodPost, "/tickets", `{"category":"billing"}`, "client")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
