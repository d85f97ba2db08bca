package session

import "errors"

var (
	// ErrSessionNotFound is returned for unknown, expired, or reset ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSlotCommitted rejects writes to a finalized stage slot. Callers
	// holding it should read the committed result instead of re-executing.
	ErrSlotCommitted = errors.New("stage slot already committed")

	// ErrStaleGeneration rejects writes carrying a superseded generation,
	// typically in-flight work that outlived a reset.
	ErrStaleGeneration = errors.New("session generation superseded")
)
