package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"veracity/internal/broadcast"
	"veracity/internal/types"
)

// Store is the single source of truth for analysis runs. Live sessions are
// held in memory with a TTL; when a Postgres DSN is configured, committed
// state is mirrored write-through so sessions survive a restart.
type Store struct {
	mu   sync.RWMutex
	byID map[string]*entry

	ttl      time.Duration
	notifier *broadcast.Broadcaster

	pg *pgBackend

	sweepOnce sync.Once
	stopSweep chan struct{}
}

type entry struct {
	sess    Session
	expires time.Time
}

// Options configures a Store.
type Options struct {
	TTL      time.Duration
	DSN      string
	Notifier *broadcast.Broadcaster
}

const defaultTTL = 24 * time.Hour

func NewStore(opts Options) (*Store, error) {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	s := &Store{
		byID:      make(map[string]*entry),
		ttl:       opts.TTL,
		notifier:  opts.Notifier,
		stopSweep: make(chan struct{}),
	}
	if opts.DSN != "" {
		pg, err := newPGBackend(opts.DSN)
		if err != nil {
			return nil, err
		}
		s.pg = pg
	}
	return s, nil
}

// Create registers a new session for the given input and returns its snapshot.
func (s *Store) Create(input types.AnalysisInput, mode string, enrichment bool) (Session, error) {
	now := time.Now().UTC()
	sess := Session{
		ID:                uuid.NewString(),
		Generation:        1,
		CreatedAt:         now,
		UpdatedAt:         now,
		Mode:              mode,
		Input:             input,
		EnrichmentEnabled: enrichment,
		Status:            StatusPending,
		Committed:         make(map[Stage]bool),
	}

	sess.Input.Metadata = copyStringMap(input.Metadata)

	s.mu.Lock()
	s.byID[sess.ID] = &entry{sess: sess, expires: now.Add(s.ttl)}
	out := sess.clone()
	s.mu.Unlock()

	if s.pg != nil {
		if err := s.pg.save(out, now.Add(s.ttl)); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Get returns the current snapshot or ErrSessionNotFound for unknown or
// expired ids.
func (s *Store) Get(id string) (Session, error) {
	now := time.Now().UTC()

	s.mu.RLock()
	e, ok := s.byID[id]
	if ok && now.Before(e.expires) {
		out := e.sess.clone()
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	if ok {
		// Present but expired: drop it and treat as unknown.
		s.mu.Lock()
		if cur, still := s.byID[id]; still && !now.Before(cur.expires) {
			delete(s.byID, id)
		}
		s.mu.Unlock()
		return Session{}, ErrSessionNotFound
	}

	if s.pg != nil {
		if sess, ok := s.pg.load(id, now); ok {
			s.mu.Lock()
			s.byID[id] = &entry{sess: sess, expires: now.Add(s.ttl)}
			out := sess.clone()
			s.mu.Unlock()
			return out, nil
		}
	}
	return Session{}, ErrSessionNotFound
}

// Put merges a stage update into the session. Writes against a committed slot
// fail with ErrSlotCommitted and return the committed snapshot unchanged;
// writes carrying a superseded generation fail with ErrStaleGeneration and are
// dropped. Every successful put notifies the broadcaster.
func (s *Store) Put(id string, generation int, u Update) (Session, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	e, ok := s.byID[id]
	if !ok || !now.Before(e.expires) {
		s.mu.Unlock()
		return Session{}, ErrSessionNotFound
	}
	if generation != e.sess.Generation {
		out := e.sess.clone()
		s.mu.Unlock()
		return out, ErrStaleGeneration
	}
	if e.sess.IsCommitted(u.Stage) {
		out := e.sess.clone()
		s.mu.Unlock()
		return out, ErrSlotCommitted
	}
	e.sess.apply(u, now)
	e.expires = now.Add(s.ttl)
	out := e.sess.clone()
	s.mu.Unlock()

	if s.pg != nil {
		_ = s.pg.save(out, now.Add(s.ttl))
	}
	if s.notifier != nil && u.Final {
		s.notifier.Publish(id, broadcast.Event{
			Type:  broadcast.EventStageCommitted,
			Stage: string(u.Stage),
		})
	}
	return out, nil
}

// MarkFailed records a stage failure without finalizing the slot, leaving the
// session readable and the stage re-runnable.
func (s *Store) MarkFailed(id string, generation int, stage Stage, reason string) (Session, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	e, ok := s.byID[id]
	if !ok || !now.Before(e.expires) {
		s.mu.Unlock()
		return Session{}, ErrSessionNotFound
	}
	if generation != e.sess.Generation {
		out := e.sess.clone()
		s.mu.Unlock()
		return out, ErrStaleGeneration
	}
	e.sess.Status = StatusFailed
	e.sess.FailReason = reason
	e.sess.CurrentStage = stage
	e.sess.UpdatedAt = now
	out := e.sess.clone()
	s.mu.Unlock()

	if s.pg != nil {
		_ = s.pg.save(out, now.Add(s.ttl))
	}
	if s.notifier != nil {
		s.notifier.Publish(id, broadcast.Event{
			Type:    broadcast.EventStageFailed,
			Stage:   string(stage),
			Message: reason,
		})
	}
	return out, nil
}

// Reset discards all state for the id and registers a fresh session with the
// same input under a new identifier. The old id becomes unknown and in-flight
// work against it is fenced out by the generation bump.
func (s *Store) Reset(id string) (Session, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	e, ok := s.byID[id]
	if !ok || !now.Before(e.expires) {
		s.mu.Unlock()
		return Session{}, ErrSessionNotFound
	}
	old := e.sess
	delete(s.byID, id)

	fresh := Session{
		ID:                uuid.NewString(),
		Generation:        old.Generation + 1,
		CreatedAt:         now,
		UpdatedAt:         now,
		Mode:              old.Mode,
		Input:             old.Input,
		EnrichmentEnabled: old.EnrichmentEnabled,
		Status:            StatusPending,
		Committed:         make(map[Stage]bool),
	}
	fresh.Input.Metadata = copyStringMap(old.Input.Metadata)
	s.byID[fresh.ID] = &entry{sess: fresh, expires: now.Add(s.ttl)}
	out := fresh.clone()
	s.mu.Unlock()

	if s.pg != nil {
		_ = s.pg.delete(id)
		_ = s.pg.save(out, now.Add(s.ttl))
	}
	if s.notifier != nil {
		s.notifier.Publish(id, broadcast.Event{
			Type:    broadcast.EventSessionReset,
			Message: out.ID,
		})
	}
	return out, nil
}

// StartSweeper evicts expired sessions in the background until Close.
func (s *Store) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-s.stopSweep:
					return
				case <-ticker.C:
					s.sweep(time.Now().UTC())
				}
			}
		}()
	})
}

func (s *Store) sweep(now time.Time) {
	s.mu.Lock()
	for id, e := range s.byID {
		if !now.Before(e.expires) {
			delete(s.byID, id)
		}
	}
	s.mu.Unlock()
	if s.pg != nil {
		_ = s.pg.deleteExpired(now)
	}
}

// Close stops the sweeper and releases the database handle if present.
func (s *Store) Close() error {
	select {
	case <-s.stopSweep:
	default:
		close(s.stopSweep)
	}
	if s.pg != nil {
		return s.pg.close()
	}
	return nil
}
