package pipeline

import (
	"context"
	"errors"
	"testing"

	"veracity/internal/session"
	"veracity/internal/types"
)

const arbiterJudgment = "TRUST SCORE: 72%\n\nREASONING:\nThe opposing camp cited stronger sources.\n\nKEY FACTORS:\n- source quality"

func debateFake() *fakeLLM {
	fake := newFakeLLM()
	fake.textResponses["supportive position"] = "The claim holds up: cited trials score 0.85."
	fake.textResponses["opposing position"] = "The claim fails: regulators flagged it, trust 0.9."
	fake.textResponses["reached a conclusion"] = "YES"
	fake.textResponses["impartial ARBITER"] = arbiterJudgment
	return fake
}

func seedPerspectives(t *testing.T, env *testEnv, id string) {
	t.Helper()
	env.seed(t, id, session.Update{
		Stage:        session.StagePerspectives,
		Final:        true,
		Perspectives: perspectiveSet(),
	})
}

func TestDebateSingleRound(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, types.AnalysisInput{Type: types.InputText, Text: "supplement claim"}, true)
	seedPerspectives(t, env, sess.ID)

	d := &Debate{Store: env.store, Bus: env.bus, LLM: debateFake(), Config: DefaultDebateConfig()}
	rec, err := d.Run(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rec.TotalRounds != 1 {
		t.Fatalf("TotalRounds = %d, want 1 after YES judgment", rec.TotalRounds)
	}
	if len(rec.Transcript) != 3 {
		t.Fatalf("transcript length = %d, want 3", len(rec.Transcript))
	}

	wantRoles := []types.AgentRole{types.RoleAdvocateA, types.RoleAdvocateB, types.RoleArbiter}
	for i, m := range rec.Transcript {
		if m.Index != i {
			t.Fatalf("message %d has index %d", i, m.Index)
		}
		if m.Role != wantRoles[i] {
			t.Fatalf("message %d role = %s, want %s", i, m.Role, wantRoles[i])
		}
	}
	if rec.Transcript[2].Body != arbiterJudgment {
		t.Fatalf("arbiter body = %q", rec.Transcript[2].Body)
	}

	stored, err := env.store.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !stored.IsCommitted(session.StageDebate) {
		t.Fatalf("debate slot not committed")
	}
}

func TestDebateRunsExtraRoundsUntilMax(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, types.AnalysisInput{Type: types.InputText, Text: "supplement claim"}, true)
	seedPerspectives(t, env, sess.ID)

	fake := debateFake()
	fake.textResponses["reached a conclusion"] = "NO"

	d := &Debate{Store: env.store, Bus: env.bus, LLM: fake, Config: DebateConfig{MinRounds: 1, MaxRounds: 2}}
	rec, err := d.Run(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rec.TotalRounds != 2 {
		t.Fatalf("TotalRounds = %d, want 2", rec.TotalRounds)
	}
	// Two advocate messages per round, then the arbiter.
	if len(rec.Transcript) != 5 {
		t.Fatalf("transcript length = %d, want 5", len(rec.Transcript))
	}
	prev := 0
	for i, m := range rec.Transcript {
		if m.Index != i {
			t.Fatalf("message %d has index %d", i, m.Index)
		}
		if m.Round < prev {
			t.Fatalf("round went backwards at message %d: %d -> %d", i, prev, m.Round)
		}
		prev = m.Round
	}
}

func TestDebateWithoutPerspectives(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, types.AnalysisInput{Type: types.InputText, Text: "x"}, true)

	d := &Debate{Store: env.store, Bus: env.bus, LLM: debateFake(), Config: DefaultDebateConfig()}
	if _, err := d.Run(context.Background(), sess.ID); !errors.Is(err, ErrInsufficientInput) {
		t.Fatalf("Run() error = %v, want ErrInsufficientInput", err)
	}
}

func TestDebateAbortPreservesTranscript(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, types.AnalysisInput{Type: types.InputText, Text: "supplement claim"}, true)
	seedPerspectives(t, env, sess.ID)

	fake := debateFake()
	fake.failOn = "impartial ARBITER"

	d := &Debate{Store: env.store, Bus: env.bus, LLM: fake, Config: DefaultDebateConfig()}
	rec, err := d.Run(context.Background(), sess.ID)
	if !errors.Is(err, ErrDebateAborted) {
		t.Fatalf("Run() error = %v, want ErrDebateAborted", err)
	}
	if !rec.Aborted || rec.AbortReason == "" {
		t.Fatalf("abort not recorded: %+v", rec)
	}

	// The partial transcript stays readable and the slot stays re-runnable.
	stored, err := env.store.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get() after abort error = %v", err)
	}
	if stored.Status != session.StatusFailed {
		t.Fatalf("Status = %q, want %q", stored.Status, session.StatusFailed)
	}
	if stored.Debate == nil || len(stored.Debate.Transcript) != 2 {
		t.Fatalf("partial transcript not preserved: %+v", stored.Debate)
	}
	if stored.IsCommitted(session.StageDebate) {
		t.Fatalf("aborted debate was committed")
	}

	// A retry with a healthy capability completes the stage.
	fake.failOn = ""
	rec, err = d.Run(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("retry Run() error = %v", err)
	}
	if rec.Transcript[len(rec.Transcript)-1].Role != types.RoleArbiter {
		t.Fatalf("retry did not reach arbitration")
	}
}

func TestDebateCommittedIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, types.AnalysisInput{Type: types.InputText, Text: "supplement claim"}, true)
	seedPerspectives(t, env, sess.ID)

	fake := debateFake()
	d := &Debate{Store: env.store, Bus: env.bus, LLM: fake, Config: DefaultDebateConfig()}
	first, err := d.Run(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	calls := fake.callCount()
	sub := env.bus.Subscribe(context.Background(), sess.ID)
	defer sub.Cancel()

	second, err := d.Run(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if fake.callCount() != calls {
		t.Fatalf("committed Run() re-invoked the capability")
	}
	if len(second.Transcript) != len(first.Transcript) {
		t.Fatalf("committed transcript changed")
	}
	if evs := drainEvents(sub); len(evs) != 0 {
		t.Fatalf("committed Run() published %d events, want 0", len(evs))
	}
}

func TestDebateWithoutEnrichment(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, types.AnalysisInput{Type: types.InputText, Text: "supplement claim"}, false)
	seedPerspectives(t, env, sess.ID)
	env.seed(t, sess.ID, session.Update{
		Stage:      session.StageEnrichment,
		Final:      true,
		Enrichment: &types.EnrichmentSet{Enabled: false},
	})

	d := &Debate{Store: env.store, Bus: env.bus, LLM: debateFake(), Config: DefaultDebateConfig()}
	rec, err := d.Run(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(rec.Transcript) == 0 {
		t.Fatalf("no transcript without enrichment")
	}
}
