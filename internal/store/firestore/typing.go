package firestore

import (
	"context"

	fs "cloud.google.com/go/firestore"

	"github.com/supportdesk/orchestrator/internal/ticket"
)

// GetConversation returns (nil, nil) when no typing-state record
// exists; a missing record is normal for quiet tickets.
func (s *Store) GetConversation(ctx context.Context, id string) (*ticket.Conversation, error) {
	snap, err := s.convRef(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var c ticket.Conversation
	if err := snap.DataTo(&c); err != nil {
		return nil, err
	}
	c.ID = snap.Ref.ID
	return &c, nil
}

// SetTyping records a participant's keystroke-debounce start.
func (s *Store) SetTyping(ctx context.Context, ticketID, userID, displayName string) error {
	_, err := s.convRef(ticketID).Set(ctx, map[string]any{
		"typing": map[string]any{userID: displayName},
	}, fs.MergeAll)
	return err
}

// ClearTyping removes a participant on debounce timeout or send.
func (s *Store) ClearTyping(ctx context.Context, ticketID, userID string) error {
	_, err := s.convRef(ticketID).Update(ctx, []fs.Update{
		{FieldPath: fs.FieldPath{"typing", userID}, Value: fs.Delete},
	})
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}
