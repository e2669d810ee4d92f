package firestore

import (
	"context"
	"fmt"

	"github.com/supportdesk/orchestrator/internal/notify"
)

type userDoc struct {
	DisplayName string `firestore:"display_name"`
	Role        string `firestore:"role"`
	OnDuty      bool   `firestore:"on_duty"`
	PushToken   string `firestore:"push_token"`
}

// OnDutyAgents lists human agents currently marked on duty. Agents with
// no registered push address are filtered here so the dispatcher only
// sees reachable recipients.
func (s *Store) OnDutyAgents(ctx context.Context) ([]notify.Agent, error) {
	docs, err := s.c.Collection(colUsers).
		Where("role", "==", "agent").
		Where("on_duty", "==", true).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("on-duty agents: %w", err)
	}
	agents := make([]notify.Agent, 0, len(docs))
	for _, doc := range docs {
		var u userDoc
		if err := doc.DataTo(&u); err != nil {
			return nil, err
		}
		if u.PushToken == "" {
			continue
		}
		agents = append(agents, notify.Agent{ID: doc.Ref.ID, Name: u.DisplayName, PushToken: u.PushToken})
	}
	return agents, nil
}

// PushToken returns "" for unknown users and users with no registered
// address; only infrastructure faults error.
func (s *Store) PushToken(ctx context.Context, userID string) (string, error) {
	snap, err := s.c.Collection(colUsers).Doc(userID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("push token %s: %w", userID, err)
	}
	var u userDoc
	if err := snap.DataTo(&u); err != nil {
		return "", err
	}
	return u.PushToken, nil
}
