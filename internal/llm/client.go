package llm

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrInvalidJSON = errors.New("invalid json from model")

// Client is the narrow contract every pipeline stage uses to reach the
// reasoning capability. Cross-cutting concerns (rate limiting, retries,
// logging) are applied via Middleware, never inside an implementation.
type Client interface {
	Name() string
	Close() error

	// GenerateJSON asks for an application/json response to prompt+input.
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)

	// GenerateText asks for a plain prose response.
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// PermanentError indicates an error that will not resolve with retries.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}
