// Package firestore adapts the document store (and its sibling push
// gateway client) to the orchestrator's storage interfaces. All clients
// are injected; there is no process-wide singleton.
package firestore

import (
	"context"
	"fmt"

	fs "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	colTickets       = "tickets"
	colMessages      = "messages" // subcollection under each ticket
	colConversations = "conversations"
	colArchives      = "archives"
	colCounters      = "counters"
	colRateLimits    = "rate_limits"
	colUsers         = "users"
)

type Clients struct {
	Firestore *fs.Client
	Messaging *messaging.Client
}

// Dial initializes the Firebase app and returns the Firestore and
// messaging clients. Credentials resolve from an inline JSON blob, a
// file path, or application-default credentials, in that order.
func Dial(ctx context.Context, projectID, credFile, credJSON string) (*Clients, error) {
	var opts []option.ClientOption
	if credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	} else if credFile != "" {
		opts = append(opts, option.WithCredentialsFile(credFile))
	}

	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}

	fsc, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}

	msg, err := app.Messaging(ctx)
	if err != nil {
		_ = fsc.Close()
		return nil, fmt.Errorf("messaging client: %w", err)
	}

	return &Clients{Firestore: fsc, Messaging: msg}, nil
}

func (c *Clients) Close() error {
	return c.Firestore.Close()
}

// Store implements the storage interfaces of the ticket, archive,
// ratelimit, and notify packages over one Firestore client.
type Store struct {
	c *fs.Client
}

func New(c *fs.Client) *Store {
	return &Store{c: c}
}

func (s *Store) ticketRef(id string) *fs.DocumentRef {
	return s.c.Collection(colTickets).Doc(id)
}

func (s *Store) messageRef(ticketID, msgID string) *fs.DocumentRef {
	return s.ticketRef(ticketID).Collection(colMessages).Doc(msgID)
}

func (s *Store) convRef(id string) *fs.DocumentRef {
	return s.c.Collection(colConversations).Doc(id)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
