package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/supportdesk/orchestrator/internal/archive"
	"github.com/supportdesk/orchestrator/internal/common"
	"github.com/supportdesk/orchestrator/internal/ratelimit"
	"github.com/supportdesk/orchestrator/internal/ticket"
)

// Service is the orchestrator surface the API drives.
type Service interface {
	OpenTicket(ctx context.Context, creatorID, creatorName, category, body string) (*ticket.Ticket, *ticket.Message, error)
	SendMessage(ctx context.Context, ticketID, senderID, senderName, body string) (*ticket.Message, error)
	Claim(ctx context.Context, ticketID, agentID, agentName string) error
	Terminate(ctx context.Context, ticketID, agentID, agentName string) (*archive.Result, error)
}

// TicketReader serves the read endpoints straight from the store.
type TicketReader interface {
	GetTicket(ctx context.Context, id string) (*ticket.Ticket, error)
	ListMessagesBefore(ctx context.Context, ticketID, beforeID string, limit int) ([]ticket.Message, error)
}

// TypingStore mirrors keystroke state onto the conversation record.
type TypingStore interface {
	SetTyping(ctx context.Context, ticketID, userID, displayName string) error
	ClearTyping(ctx context.Context, ticketID, userID string) error
}

type Handler struct {
	svc    Service
	reader TicketReader
	typing TypingStore
}

func NewHandler(svc Service, reader TicketReader, typing TypingStore) *Handler {
	return &Handler{svc: svc, reader: reader, typing: typing}
}

type createTicketReq struct {
	Category string `json:"category"`
	Body     string `json:"body" binding:"required"`
}

func (h *Handler) CreateTicket(c *gin.Context) {
	var req createTicketReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, http.StatusBadRequest, "body is required")
		return
	}
	t, m, err := h.svc.OpenTicket(c.Request.Context(), c.GetString(CtxUserID), c.GetString(CtxUserName), req.Category, req.Body)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, http.StatusInternalServerError, "could not open ticket")
		return
	}
	common.OK(c, gin.H{"ticket": ticketView(t), "message": messageView(m)})
}

type sendMessageReq struct {
	Body string `json:"body" binding:"required"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, http.StatusBadRequest, "body is required")
		return
	}
	m, err := h.svc.SendMessage(c.Request.Context(), c.Param("ticket_id"), c.GetString(CtxUserID), c.GetString(CtxUserName), req.Body)
	if err != nil {
		h.failSend(c, err)
		return
	}
	common.OK(c, messageView(m))
}

// failSend keeps the throttle and the infrastructure fault distinct: a
// throttled client gets "try again shortly", a broken limiter gets a
// 503, and neither is a generic 500.
func (h *Handler) failSend(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ratelimit.ErrRateExceeded):
		common.Fail(c, http.StatusTooManyRequests, http.StatusTooManyRequests, "too many messages, try again shortly")
	case errors.Is(err, ratelimit.ErrCheckFailed):
		common.Fail(c, http.StatusServiceUnavailable, http.StatusServiceUnavailable, "temporarily unavailable")
	case errors.Is(err, ticket.ErrNotFound):
		common.Fail(c, http.StatusNotFound, http.StatusNotFound, "ticket not found")
	case errors.Is(err, ticket.ErrTicketClosed):
		common.Fail(c, http.StatusGone, http.StatusGone, "conversation has ended")
	default:
		common.Fail(c, http.StatusInternalServerError, http.StatusInternalServerError, "could not send message")
	}
}

func (h *Handler) GetTicket(c *gin.Context) {
	t, err := h.reader.GetTicket(c.Request.Context(), c.Param("ticket_id"))
	if err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, http.StatusNotFound, "ticket not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, http.StatusInternalServerError, "could not read ticket")
		return
	}
	common.OK(c, ticketView(t))
}

func (h *Handler) ListMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	msgs, err := h.reader.ListMessagesBefore(c.Request.Context(), c.Param("ticket_id"), c.Query("before_id"), limit)
	if err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, http.StatusNotFound, "not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, http.StatusInternalServerError, "could not list messages")
		return
	}
	views := make([]gin.H, 0, len(msgs))
	for i := range msgs {
		views = append(views, messageView(&msgs[i]))
	}
	common.OK(c, gin.H{"messages": views})
}

func (h *Handler) Claim(c *gin.Context) {
	err := h.svc.Claim(c.Request.Context(), c.Param("ticket_id"), c.GetString(CtxUserID), c.GetString(CtxUserName))
	if err != nil {
		switch {
		case errors.Is(err, ticket.ErrAlreadyClaimed):
			common.Fail(c, http.StatusConflict, http.StatusConflict, "another agent already took this ticket")
		case errors.Is(err, ticket.ErrNotFound):
			common.Fail(c, http.StatusNotFound, http.StatusNotFound, "ticket not found")
		case errors.Is(err, ticket.ErrTicketClosed):
			common.Fail(c, http.StatusGone, http.StatusGone, "conversation has ended")
		default:
			common.Fail(c, http.StatusInternalServerError, http.StatusInternalServerError, "could not claim ticket")
		}
		return
	}
	common.OK(c, nil)
}

func (h *Handler) Terminate(c *gin.Context) {
	res, err := h.svc.Terminate(c.Request.Context(), c.Param("ticket_id"), c.GetString(CtxUserID), c.GetString(CtxUserName))
	if err != nil {
		switch {
		case errors.Is(err, ticket.ErrNotFound):
			common.Fail(c, http.StatusNotFound, http.StatusNotFound, "ticket not found")
		case errors.Is(err, ticket.ErrTerminationInFlight):
			common.Fail(c, http.StatusConflict, http.StatusConflict, "another agent is closing this ticket")
		default:
			common.Fail(c, http.StatusInternalServerError, http.StatusInternalServerError, "termination failed: "+err.Error())
		}
		return
	}
	common.OK(c, gin.H{
		"archive_id":         res.ArchiveID,
		"message_count":      res.MessageCount,
		"already_terminated": res.AlreadyTerminated,
	})
}

// Typing state is fire-and-forget from the client's perspective; a
// failed write is not worth an error screen mid-keystroke.
func (h *Handler) StartTyping(c *gin.Context) {
	if err := h.typing.SetTyping(c.Request.Context(), c.Param("ticket_id"), c.GetString(CtxUserID), c.GetString(CtxUserName)); err != nil {
		common.Fail(c, http.StatusInternalServerError, http.StatusInternalServerError, "could not update typing state")
		return
	}
	common.OK(c, nil)
}

func (h *Handler) StopTyping(c *gin.Context) {
	if err := h.typing.ClearTyping(c.Request.Context(), c.Param("ticket_id"), c.GetString(CtxUserID)); err != nil {
		common.Fail(c, http.StatusInternalServerError, http.StatusInternalServerError, "could not update typing state")
		return
	}
	common.OK(c, nil)
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"status": "up"})
}

func ticketView(t *ticket.Ticket) gin.H {
	return gin.H{
		"id":           t.ID,
		"status":       t.Status,
		"category":     t.Category,
		"creator_id":   t.CreatorID,
		"agent_id":     t.AgentID,
		"agent_name":   t.AgentName,
		"last_message": t.LastMessage,
		"updated_at":   t.UpdatedAt,
	}
}

func messageView(m *ticket.Message) gin.H {
	return gin.H{
		"id":          m.ID,
		"ticket_id":   m.TicketID,
		"sender_id":   m.SenderID,
		"sender_name": m.SenderName,
		"body":        m.Body,
		"type":        m.Type,
		"created_at":  m.CreatedAt,
	}
}
