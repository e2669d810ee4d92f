package firestore

import (
	"context"
	"fmt"

	fs "cloud.google.com/go/firestore"

	"github.com/supportdesk/orchestrator/internal/archive"
)

// ArchiveStore returns the write-once archive adapter.
func (s *Store) ArchiveStore() archive.ArchiveStore {
	return archivePutter{s}
}

type archivePutter struct {
	s *Store
}

// Put creates the record under its pre-assigned id. Create (not Set)
// keeps the collection write-once: a replayed put fails instead of
// silently overwriting.
func (p archivePutter) Put(ctx context.Context, rec *archive.Record) error {
	_, err := p.s.c.Collection(colArchives).Doc(rec.ID).Create(ctx, rec)
	if err != nil {
		return fmt.Errorf("archive put %s: %w", rec.ID, err)
	}
	return nil
}

// DeleteConversationData removes every live message and the typing-state
// record through one BulkWriter flush.
func (s *Store) DeleteConversationData(ctx context.Context, ticketID string, messageIDs []string) error {
	bw := s.c.BulkWriter(ctx)

	jobs := make([]*fs.BulkWriterJob, 0, len(messageIDs)+1)
	for _, id := range messageIDs {
		j, err := bw.Delete(s.messageRef(ticketID, id))
		if err != nil {
			bw.End()
			return fmt.Errorf("delete message %s/%s: %w", ticketID, id, err)
		}
		jobs = append(jobs, j)
	}
	j, err := bw.Delete(s.convRef(ticketID))
	if err != nil {
		bw.End()
		return fmt.Errorf("delete conversation %s: %w", ticketID, err)
	}
	jobs = append(jobs, j)

	bw.End()

	for _, j := range jobs {
		if _, err := j.Results(); err != nil && !isNotFound(err) {
			return fmt.Errorf("bulk delete for %s: %w", ticketID, err)
		}
	}
	return nil
}
