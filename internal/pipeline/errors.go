package pipeline

import "errors"

var (
	// ErrInsufficientInput means the debate engine was invoked with no
	// perspectives. A caller ordering error, fatal to that invocation.
	ErrInsufficientInput = errors.New("insufficient input: no perspectives for debate")

	// ErrDebateAborted means capability retries were exhausted mid-debate.
	// The transcript so far is preserved and the stage may be re-run.
	ErrDebateAborted = errors.New("debate aborted")
)
