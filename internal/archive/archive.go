package archive

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no archived report exists for a session.
var ErrNotFound = errors.New("archive: report not found")

// Store persists final analysis reports outside the session store's TTL.
// Archiving is best-effort: the pipeline completes whether or not the
// report lands here.
type Store interface {
	Put(ctx context.Context, sessionID, name string, content []byte) error
	Get(ctx context.Context, sessionID, name string) ([]byte, error)
	List(ctx context.Context, sessionID string) ([]string, error)
	URL(ctx context.Context, sessionID, name string) (string, error)
}
