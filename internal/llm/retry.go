package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is an explicit backoff schedule: attempt count, initial delay,
// and jitter, parameterized per capability provider.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Jitter          float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 300 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Jitter:          0.5,
	}
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	if p.Jitter >= 0 {
		eb.RandomizationFactor = p.Jitter
	}
	eb.Reset()
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// Retry re-issues failed calls per the policy. A PermanentError stops
// immediately, as does context cancellation.
func Retry(policy RetryPolicy) Middleware {
	return func(next Client) Client {
		return &retrying{next: next, policy: policy}
	}
}

type retrying struct {
	next   Client
	policy RetryPolicy
}

func (r *retrying) Name() string { return r.next.Name() }
func (r *retrying) Close() error { return r.next.Close() }

func (r *retrying) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	var out json.RawMessage
	op := func() error {
		raw, err := r.next.GenerateJSON(ctx, prompt, input)
		if err != nil {
			var pErr *PermanentError
			if errors.As(err, &pErr) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = raw
		return nil
	}
	if err := backoff.Retry(op, r.policy.backoff(ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *retrying) GenerateText(ctx context.Context, prompt string) (string, error) {
	var out string
	op := func() error {
		text, err := r.next.GenerateText(ctx, prompt)
		if err != nil {
			var pErr *PermanentError
			if errors.As(err, &pErr) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = text
		return nil
	}
	if err := backoff.Retry(op, r.policy.backoff(ctx)); err != nil {
		return "", err
	}
	return out, nil
}
