package pipeline

import (
	"veracity/internal/session"
)

// Slot statuses reported by a coordinator's Status accessor.
const (
	SlotPending   = "pending"
	SlotCommitted = "committed"
	SlotFailed    = "failed"
)

// Coordinator is the boundary one pipeline stage exposes to callers outside
// the runner. Run is idempotent when the slot is already committed: it
// returns the committed result instead of re-executing.
type Coordinator interface {
	Stage() session.Stage
}

// slotStatus derives the slot status for a stage from a session snapshot.
func slotStatus(sess session.Session, stage session.Stage) string {
	if sess.IsCommitted(stage) {
		return SlotCommitted
	}
	if sess.Status == session.StatusFailed && sess.CurrentStage == stage {
		return SlotFailed
	}
	return SlotPending
}

// SlotStatus reports a stage slot's status for a stored session.
func SlotStatus(store *session.Store, id string, stage session.Stage) (string, error) {
	sess, err := store.Get(id)
	if err != nil {
		return "", err
	}
	return slotStatus(sess, stage), nil
}
