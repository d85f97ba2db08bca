package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"veracity/internal/types"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	s, err := NewStore(Options{TTL: ttl})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func textInput(text string) types.AnalysisInput {
	return types.AnalysisInput{Type: types.InputText, Text: text}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t, time.Hour)

	sess, err := s.Create(textInput("claim"), "", true)
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	require.Equal(t, 1, sess.Generation)
	require.Equal(t, StatusPending, sess.Status)

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	require.Equal(t, sess.ID, got.ID)
	require.True(t, got.EnrichmentEnabled)
}

func TestGetUnknownID(t *testing.T) {
	s := newTestStore(t, time.Hour)
	if _, err := s.Get("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get() error = %v, want ErrSessionNotFound", err)
	}
}

func TestPutCommitGuard(t *testing.T) {
	s := newTestStore(t, time.Hour)
	sess, err := s.Create(textInput("claim"), "", true)
	require.NoError(t, err)

	first := &types.RiskAssessment{Tier: types.RiskSafe, Confidence: 0.1}
	updated, err := s.Put(sess.ID, sess.Generation, Update{
		Stage:     StageScreening,
		Final:     true,
		Screening: first,
	})
	require.NoError(t, err)
	require.True(t, updated.IsCommitted(StageScreening))

	// A second write against the committed slot is rejected and the original
	// result survives.
	second := &types.RiskAssessment{Tier: types.RiskDangerous, Confidence: 0.9}
	got, err := s.Put(sess.ID, sess.Generation, Update{
		Stage:     StageScreening,
		Final:     true,
		Screening: second,
	})
	require.ErrorIs(t, err, ErrSlotCommitted)
	require.Equal(t, types.RiskSafe, got.Screening.Tier)
}

func TestPutNonFinalStaysOverwritable(t *testing.T) {
	s := newTestStore(t, time.Hour)
	sess, _ := s.Create(textInput("claim"), "", true)

	partial := &types.DebateRecord{Topic: "t", Transcript: []types.DebateMessage{{Role: types.RoleAdvocateA}}}
	if _, err := s.Put(sess.ID, sess.Generation, Update{Stage: StageDebate, Debate: partial}); err != nil {
		t.Fatalf("non-final Put() error = %v", err)
	}

	full := &types.DebateRecord{Topic: "t", TotalRounds: 2}
	got, err := s.Put(sess.ID, sess.Generation, Update{Stage: StageDebate, Final: true, Debate: full})
	if err != nil {
		t.Fatalf("final Put() error = %v", err)
	}
	if got.Debate.TotalRounds != 2 {
		t.Fatalf("Debate.TotalRounds = %d, want 2", got.Debate.TotalRounds)
	}
}

func TestGenerationFencing(t *testing.T) {
	s := newTestStore(t, time.Hour)
	sess, _ := s.Create(textInput("claim"), "", true)

	fresh, err := s.Reset(sess.ID)
	require.NoError(t, err)
	require.NotEqual(t, sess.ID, fresh.ID)
	require.Equal(t, sess.Generation+1, fresh.Generation)

	// A write carrying the old generation against the new session is fenced.
	_, err = s.Put(fresh.ID, sess.Generation, Update{
		Stage:     StageScreening,
		Final:     true,
		Screening: &types.RiskAssessment{Tier: types.RiskSafe},
	})
	require.ErrorIs(t, err, ErrStaleGeneration)

	got, err := s.Get(fresh.ID)
	require.NoError(t, err)
	require.Nil(t, got.Screening)
}

func TestResetDiscardsOldID(t *testing.T) {
	s := newTestStore(t, time.Hour)
	sess, _ := s.Create(textInput("claim"), "analysis", false)

	fresh, err := s.Reset(sess.ID)
	require.NoError(t, err)

	if _, err := s.Get(sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("old id Get() error = %v, want ErrSessionNotFound", err)
	}

	got, err := s.Get(fresh.ID)
	require.NoError(t, err)
	require.Equal(t, "analysis", got.Mode)
	require.False(t, got.EnrichmentEnabled)
	require.Empty(t, got.Committed)
}

func TestExpiredSessionIsGone(t *testing.T) {
	s := newTestStore(t, 10*time.Millisecond)
	sess, _ := s.Create(textInput("claim"), "", true)

	time.Sleep(25 * time.Millisecond)

	if _, err := s.Get(sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get() after TTL error = %v, want ErrSessionNotFound", err)
	}
	if _, err := s.Put(sess.ID, 1, Update{Stage: StageScreening}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Put() after TTL error = %v, want ErrSessionNotFound", err)
	}
}

func TestMarkFailedKeepsSessionReadable(t *testing.T) {
	s := newTestStore(t, time.Hour)
	sess, _ := s.Create(textInput("claim"), "", true)

	got, err := s.MarkFailed(sess.ID, sess.Generation, StageDebate, "capability exhausted")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, "capability exhausted", got.FailReason)
	require.False(t, got.IsCommitted(StageDebate))

	// The failed stage can still be written afterwards.
	_, err = s.Put(sess.ID, sess.Generation, Update{
		Stage:  StageDebate,
		Final:  true,
		Status: StatusRunning,
		Debate: &types.DebateRecord{Topic: "retry"},
	})
	require.NoError(t, err)
}

func TestSnapshotsDoNotAliasStoreState(t *testing.T) {
	s := newTestStore(t, time.Hour)
	sess, _ := s.Create(textInput("claim"), "", true)

	rec := &types.DebateRecord{Topic: "t"}
	rec.Transcript = append(rec.Transcript, types.DebateMessage{Index: 0, Role: types.RoleAdvocateA, Round: 1, Body: "opening"})
	after, err := s.Put(sess.ID, sess.Generation, Update{Stage: StageDebate, Debate: rec})
	require.NoError(t, err)
	require.Len(t, after.Debate.Transcript, 1)

	// Growing the caller's record after the write must not reach the store.
	rec.Transcript = append(rec.Transcript, types.DebateMessage{Index: 1, Role: types.RoleAdvocateB, Round: 1, Body: "rebuttal"})
	rec.Topic = "mutated"

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Debate.Transcript, 1)
	require.Equal(t, "t", got.Debate.Topic)
	require.Len(t, after.Debate.Transcript, 1)

	// Mutating a returned snapshot must not reach the store either.
	got.Debate.Transcript[0].Body = "scribbled"
	got.Screening = &types.RiskAssessment{Tier: types.RiskDangerous}

	again, err := s.Get(sess.ID)
	require.NoError(t, err)
	require.Equal(t, "opening", again.Debate.Transcript[0].Body)
	require.Nil(t, again.Screening)
}

func TestConcurrentWriterAndReaders(t *testing.T) {
	s := newTestStore(t, time.Hour)
	sess, _ := s.Create(textInput("claim"), "", true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		rec := &types.DebateRecord{Topic: "t"}
		for i := 0; i < 50; i++ {
			rec.Transcript = append(rec.Transcript, types.DebateMessage{Index: i, Round: 1 + i/2, Body: "msg"})
			if _, err := s.Put(sess.ID, sess.Generation, Update{Stage: StageDebate, Debate: rec}); err != nil {
				t.Errorf("Put() error = %v", err)
				return
			}
		}
	}()

	// Readers marshal snapshots while the writer appends, the way the watch
	// endpoints serialize session state mid-debate.
	for i := 0; i < 50; i++ {
		got, err := s.Get(sess.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Debate == nil {
			continue
		}
		for j, msg := range got.Debate.Transcript {
			if msg.Index != j {
				t.Fatalf("Transcript[%d].Index = %d", j, msg.Index)
			}
		}
	}
	<-done
}

func TestVerdictCompletesSession(t *testing.T) {
	s := newTestStore(t, time.Hour)
	sess, _ := s.Create(textInput("claim"), "", true)

	got, err := s.Put(sess.ID, sess.Generation, Update{
		Stage:   StageVerdict,
		Final:   true,
		Verdict: &types.Verdict{TrustScore: 42, DecidedAt: time.Now()},
	})
	require.NoError(t, err)
	require.True(t, got.Completed)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, 42, got.Verdict.TrustScore)
}
