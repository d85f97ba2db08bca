package llm

import (
	"context"
	"encoding/json"
	"time"
)

// Limiter is a minimal interface for a request-budget limiter.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// rpsLimiter is a lightweight token-bucket limiter that throttles to at most
// R requests per second with an optional burst capacity.
type rpsLimiter struct {
	tokens chan struct{}
	stopCh chan struct{}
}

// NewLimiter creates a limiter that allows up to rps events per second with a
// burst capacity of 'burst'. If rps <= 0 the limiter is disabled (Acquire is
// a no-op). The external search/reasoning quota is governed by exactly one of
// these shared across every session, never one per caller.
func NewLimiter(rps float64, burst int) Limiter {
	return newRPSLimiter(rps, burst)
}

// PerMinute converts a requests/minute budget into a Limiter.
func PerMinute(rpm int) Limiter {
	if rpm <= 0 {
		return newRPSLimiter(0, 0)
	}
	return newRPSLimiter(float64(rpm)/60.0, 1)
}

func newRPSLimiter(rps float64, burst int) *rpsLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}

	l := &rpsLimiter{
		tokens: make(chan struct{}, burst),
		stopCh: make(chan struct{}),
	}

	// Pre-fill bucket to allow an initial burst.
	for i := 0; i < burst; i++ {
		l.tokens <- struct{}{}
	}

	period := time.Duration(float64(time.Second) / rps)
	if period <= 0 {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case l.tokens <- struct{}{}:
				default:
					// bucket full; drop token
				}
			case <-l.stopCh:
				return
			}
		}
	}()

	return l
}

// Acquire blocks until a token is available or the context is canceled.
func (l *rpsLimiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopCh:
		return context.Canceled
	case <-l.tokens:
		return nil
	}
}

// Stop terminates the limiter's refill goroutine.
func (l *rpsLimiter) Stop() {
	if l == nil {
		return
	}
	close(l.stopCh)
}

// RateLimitWith throttles requests through an existing shared limiter.
func RateLimitWith(rl Limiter) Middleware {
	return func(next Client) Client {
		return &rateLimited{next: next, rl: rl}
	}
}

type rateLimited struct {
	next Client
	rl   Limiter
}

func (c *rateLimited) Name() string { return c.next.Name() }
func (c *rateLimited) Close() error { return c.next.Close() }

func (c *rateLimited) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	if c.rl != nil {
		if err := c.rl.Acquire(ctx); err != nil {
			return nil, err
		}
	}
	return c.next.GenerateJSON(ctx, prompt, input)
}

func (c *rateLimited) GenerateText(ctx context.Context, prompt string) (string, error) {
	if c.rl != nil {
		if err := c.rl.Acquire(ctx); err != nil {
			return "", err
		}
	}
	return c.next.GenerateText(ctx, prompt)
}
