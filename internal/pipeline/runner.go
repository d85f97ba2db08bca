package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"

	"veracity/internal/broadcast"
	"veracity/internal/session"
)

// Runner drives one session's stages in order. Each session runs as its own
// goroutine; sessions never share mutable state outside the store, so any
// number of them run concurrently.
type Runner struct {
	Store        *session.Store
	Bus          *broadcast.Broadcaster
	Screening    *Screening
	Classify     *Classify
	Perspectives *Perspectives
	Enrich       *Enrich
	Debate       *Debate
	Report       *Report
	Logger       *log.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// Launch starts the session pipeline in the background. The returned cancel
// can be used to stop it early; Reset callers should cancel the old run.
func (r *Runner) Launch(id string) {
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	if r.cancels == nil {
		r.cancels = make(map[string]context.CancelFunc)
	}
	r.cancels[id] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.cancels, id)
			r.mu.Unlock()
		}()
		if err := r.Run(ctx, id); err != nil {
			r.logf("session %s: %v", id, err)
		}
	}()
}

// Cancel stops an in-flight run for the id, if any. Committed slots stay;
// the generation fence keeps a cancelled run from writing after a reset.
func (r *Runner) Cancel(id string) {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// Wait blocks until every launched pipeline has finished.
func (r *Runner) Wait() { r.wg.Wait() }

// Run executes the stages strictly sequentially: no stage begins before its
// predecessor's slot is committed. Re-running a session resumes from the
// first uncommitted stage; committed stages return their stored result.
func (r *Runner) Run(ctx context.Context, id string) error {
	assessment, err := r.Screening.Run(ctx, id)
	if err != nil {
		return r.fail(id, session.StageScreening, err)
	}

	if assessment.SkipToFinal {
		if _, err := r.Report.Assemble(ctx, id); err != nil {
			return r.fail(id, session.StageVerdict, err)
		}
		return nil
	}

	if _, err := r.Classify.Run(ctx, id); err != nil {
		return r.fail(id, session.StageClassify, err)
	}
	if _, err := r.Perspectives.Run(ctx, id); err != nil {
		return r.fail(id, session.StagePerspectives, err)
	}
	if _, err := r.Enrich.Run(ctx, id); err != nil {
		return r.fail(id, session.StageEnrichment, err)
	}
	if _, err := r.Debate.Run(ctx, id); err != nil {
		// Debate marks its own failure and preserves the transcript.
		if errors.Is(err, ErrDebateAborted) {
			return err
		}
		return r.fail(id, session.StageDebate, err)
	}
	if _, err := r.Report.Assemble(ctx, id); err != nil {
		return r.fail(id, session.StageVerdict, err)
	}
	return nil
}

func (r *Runner) fail(id string, stage session.Stage, err error) error {
	// A reset or expiry mid-run is not a session failure; the fence or the
	// sweeper already disposed of the state this run was building.
	if errors.Is(err, session.ErrStaleGeneration) || errors.Is(err, session.ErrSessionNotFound) {
		return err
	}
	sess, gerr := r.Store.Get(id)
	if gerr == nil {
		if _, merr := r.Store.MarkFailed(id, sess.Generation, stage, err.Error()); merr != nil {
			r.logf("marking %s failed at %s: %v", id, stage, merr)
		}
	}
	r.Bus.Publish(id, broadcast.Event{
		Type:    broadcast.EventSessionFailed,
		Stage:   string(stage),
		Message: err.Error(),
	})
	return err
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf("[runner] "+format, args...)
	}
}
