package firestore

import (
	"context"
	"fmt"
	"time"

	fs "cloud.google.com/go/firestore"

	"github.com/supportdesk/orchestrator/internal/common"
	"github.com/supportdesk/orchestrator/internal/ticket"
)

// AppendMessage writes the message and mirrors the preview fields onto
// the ticket and conversation documents in one transaction.
func (s *Store) AppendMessage(ctx context.Context, m *ticket.Message) error {
	if m.TicketID == "" {
		return fmt.Errorf("append message: missing ticket id")
	}
	if m.ID == "" {
		id, err := common.NewULID()
		if err != nil {
			return err
		}
		m.ID = id
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Type == "" {
		m.Type = ticket.MessageText
	}

	msgRef := s.messageRef(m.TicketID, m.ID)
	ticketRef := s.ticketRef(m.TicketID)
	convRef := s.convRef(m.TicketID)

	return s.c.RunTransaction(ctx, func(ctx context.Context, tx *fs.Transaction) error {
		if _, err := tx.Get(ticketRef); err != nil {
			if isNotFound(err) {
				return ticket.ErrNotFound
			}
			return err
		}
		if err := tx.Create(msgRef, m); err != nil {
			return err
		}
		if err := tx.Update(ticketRef, []fs.Update{
			{Path: "last_message", Value: m.Body},
			{Path: "updated_at", Value: m.CreatedAt},
		}); err != nil {
			return err
		}
		return tx.Set(convRef, map[string]any{"last_message": m.Body}, fs.MergeAll)
	})
}

// ListMessages returns the complete message list, oldest first.
func (s *Store) ListMessages(ctx context.Context, ticketID string) ([]ticket.Message, error) {
	docs, err := s.ticketRef(ticketID).Collection(colMessages).
		OrderBy("created_at", fs.Asc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	msgs := make([]ticket.Message, 0, len(docs))
	for _, doc := range docs {
		var m ticket.Message
		if err := doc.DataTo(&m); err != nil {
			return nil, err
		}
		m.ID = doc.Ref.ID
		m.TicketID = ticketID
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// ListMessagesBefore pages backwards: the newest limit messages older
// than beforeID (or the newest page when beforeID is empty), returned
// oldest first.
func (s *Store) ListMessagesBefore(ctx context.Context, ticketID, beforeID string, limit int) ([]ticket.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := s.ticketRef(ticketID).Collection(colMessages).OrderBy("created_at", fs.Desc)
	if beforeID != "" {
		cursor, err := s.messageRef(ticketID, beforeID).Get(ctx)
		if err != nil {
			if isNotFound(err) {
				return nil, ticket.ErrNotFound
			}
			return nil, err
		}
		q = q.StartAfter(cursor)
	}
	docs, err := q.Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	msgs := make([]ticket.Message, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		var m ticket.Message
		if err := docs[i].DataTo(&m); err != nil {
			return nil, err
		}
		m.ID = docs[i].Ref.ID
		m.TicketID = ticketID
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// RecentHistory returns the newest limit messages in ascending order,
// ready to replay to the completion service.
func (s *Store) RecentHistory(ctx context.Context, ticketID string, limit int) ([]ticket.Message, error) {
	if limit <= 0 {
		limit = 30
	}
	docs, err := s.ticketRef(ticketID).Collection(colMessages).
		OrderBy("created_at", fs.Desc).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	// Reverse to ASC (oldest -> newest).
	msgs := make([]ticket.Message, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		var m ticket.Message
		if err := docs[i].DataTo(&m); err != nil {
			return nil, err
		}
		m.ID = docs[i].Ref.ID
		m.TicketID = ticketID
		msgs = append(msgs, m)
	}
	return msgs, nil
}
