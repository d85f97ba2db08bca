package broadcast

import (
	"context"
	"sync"
	"time"
)

// Event types pushed to observers. Delivery is at-most-once and best-effort;
// the session store remains the source of truth.
const (
	EventStageStarted     = "stage_started"
	EventStageCommitted   = "stage_committed"
	EventStageFailed      = "stage_failed"
	EventRoundStarted     = "round_started"
	EventDebateMessage    = "debate_message"
	EventEnrichmentUpdate = "enrichment_update"
	EventSessionCompleted = "session_completed"
	EventSessionFailed    = "session_failed"
	EventSessionReset     = "session_reset"
	EventHeartbeat        = "heartbeat"
)

// Event is one progress notification scoped to a session.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage,omitempty"`
	Round     int       `json:"round,omitempty"`
	Role      string    `json:"role,omitempty"`
	Message   string    `json:"message,omitempty"`
	Progress  int       `json:"progress,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscription is one observer's event stream. Events() is closed when the
// subscription is cancelled or the broadcaster shuts down.
type Subscription struct {
	ch     chan Event
	cancel func()
	once   sync.Once
}

func (s *Subscription) Events() <-chan Event { return s.ch }

// Cancel detaches the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Broadcaster fans progress events out to observers subscribed per session id.
// Publishing to a session with no subscribers is a no-op: no buffering, no
// replay. The subscriber tables are owned here, never process-wide.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool

	heartbeatEvery time.Duration
	stopHeartbeat  chan struct{}
	heartbeatOnce  sync.Once
}

const subscriptionBuffer = 64

func New(heartbeatEvery time.Duration) *Broadcaster {
	if heartbeatEvery <= 0 {
		heartbeatEvery = 15 * time.Second
	}
	return &Broadcaster{
		subs:           make(map[string]map[*Subscription]struct{}),
		heartbeatEvery: heartbeatEvery,
		stopHeartbeat:  make(chan struct{}),
	}
}

// Subscribe registers an observer for the session id. The subscription is
// pruned when ctx is done or Cancel is called.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string) *Subscription {
	sub := &Subscription{ch: make(chan Event, subscriptionBuffer)}
	sub.cancel = func() {
		b.mu.Lock()
		if set, ok := b.subs[sessionID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.subs, sessionID)
			}
		}
		b.mu.Unlock()
		close(sub.ch)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		sub.once.Do(func() {})
		return sub
	}
	set, ok := b.subs[sessionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	if ctx != nil {
		go func() {
			<-ctx.Done()
			sub.Cancel()
		}()
	}
	return sub
}

// Publish delivers the event to all current subscribers of the session.
// Slow observers are skipped rather than blocking the pipeline; publishers
// for one session are sequential, so delivered events keep their order.
func (b *Broadcaster) Publish(sessionID string, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.SessionID = sessionID

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs[sessionID] {
		select {
		case sub.ch <- ev:
		default:
			// Observer is not keeping up; drop. Best-effort by contract.
		}
	}
}

// SubscriberCount reports the observers attached to a session.
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}

// StartHeartbeat emits a heartbeat event to every subscribed session on an
// interval so transports can detect dead connections. Runs until Close.
func (b *Broadcaster) StartHeartbeat() {
	b.heartbeatOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(b.heartbeatEvery)
			defer ticker.Stop()
			for {
				select {
				case <-b.stopHeartbeat:
					return
				case <-ticker.C:
					b.mu.RLock()
					ids := make([]string, 0, len(b.subs))
					for id := range b.subs {
						ids = append(ids, id)
					}
					b.mu.RUnlock()
					for _, id := range ids {
						b.Publish(id, Event{Type: EventHeartbeat})
					}
				}
			}
		}()
	})
}

// Close detaches every subscriber and stops the heartbeat.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]map[*Subscription]struct{})
	b.mu.Unlock()

	close(b.stopHeartbeat)
	for _, set := range subs {
		for sub := range set {
			sub.once.Do(func() { close(sub.ch) })
		}
	}
}
