package notify

import (
	"context"

	"firebase.google.com/go/v4/messaging"
)

// FCMSender adapts the Firebase Cloud Messaging client to PushSender.
// SendEach reports a per-message outcome, so one bad token never fails
// the batch.
type FCMSender struct {
	client *messaging.Client
}

func NewFCMSender(client *messaging.Client) *FCMSender {
	return &FCMSender{client: client}
}

func (s *FCMSender) Send(ctx context.Context, batch []Push) []error {
	msgs := make([]*messaging.Message, 0, len(batch))
	for _, p := range batch {
		msgs = append(msgs, &messaging.Message{
			Token:        p.Token,
			Notification: &messaging.Notification{Title: p.Title, Body: p.Body},
			Data:         p.Data,
			Android: &messaging.AndroidConfig{
				Notification: &messaging.AndroidNotification{ChannelID: p.ChannelID, Sound: p.Sound},
			},
		})
	}

	errs := make([]error, len(batch))
	resp, err := s.client.SendEach(ctx, msgs)
	if err != nil {
		for i := range errs {
			errs[i] = err
		}
		return errs
	}
	for i, r := range resp.Responses {
		if r.Error != nil && i < len(errs) {
			errs[i] = r.Error
		}
	}
	return errs
}
