package pipeline

import (
	"context"
	"strings"
	"testing"

	"veracity/internal/archive"
	"veracity/internal/session"
	"veracity/internal/types"
)

func TestSkipVerdictDangerous(t *testing.T) {
	a := &types.RiskAssessment{
		Tier:       types.RiskDangerous,
		Confidence: 0.9,
		Threats:    []string{ThreatScamLanguage, ThreatPhishingIndicators, ThreatMalware, ThreatUrgencyTactics},
		SkipReason: "high-confidence dangerous assessment",
	}
	v := SkipVerdict(a)
	if v.TrustScore >= 30 {
		t.Fatalf("TrustScore = %d, want < 30", v.TrustScore)
	}
	if !v.ShortCircuited {
		t.Fatalf("ShortCircuited = false")
	}
	if !strings.Contains(v.Rationale, "high-confidence dangerous assessment") {
		t.Fatalf("rationale dropped the skip reason: %q", v.Rationale)
	}
	if !strings.Contains(v.Rationale, ThreatScamLanguage) {
		t.Fatalf("rationale dropped the threat indicators: %q", v.Rationale)
	}
}

func TestSkipVerdictSafe(t *testing.T) {
	a := &types.RiskAssessment{Tier: types.RiskSafe, Confidence: 0.98}
	v := SkipVerdict(a)
	if v.TrustScore < 80 {
		t.Fatalf("TrustScore = %d, want >= 80 for confident safe content", v.TrustScore)
	}
}

func TestSkipVerdictTierOrdering(t *testing.T) {
	// At equal confidence, the tiers must stay strictly ordered.
	mk := func(tier types.RiskTier) int {
		return SkipVerdict(&types.RiskAssessment{Tier: tier, Confidence: 0.8}).TrustScore
	}
	dangerous, suspicious, safe := mk(types.RiskDangerous), mk(types.RiskSuspicious), mk(types.RiskSafe)
	if !(dangerous < suspicious && suspicious < safe) {
		t.Fatalf("tier ordering broken: dangerous=%d suspicious=%d safe=%d", dangerous, suspicious, safe)
	}
}

func TestParseTrustScore(t *testing.T) {
	cases := []struct {
		name     string
		judgment string
		want     int
	}{
		{"well formed", "TRUST SCORE: 72%\n\nREASONING:\nBalanced evidence.", 72},
		{"no marker", "The content seems fine, roughly 90% reliable.", 50},
		{"no digits on line", "TRUST SCORE: unknown\nSome 80 later.", 50},
		{"clamped high", "TRUST SCORE: 250%", 100},
		{"zero", "TRUST SCORE: 0%\n\nREASONING:\nFabricated.", 0},
		{"empty", "", 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseTrustScore(tc.judgment); got != tc.want {
				t.Fatalf("ParseTrustScore(%q) = %d, want %d", tc.judgment, got, tc.want)
			}
		})
	}
}

func TestAssembleSkipPath(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, types.AnalysisInput{Type: types.InputText, Text: "obvious scam"}, true)
	env.seed(t, sess.ID, session.Update{
		Stage: session.StageScreening,
		Final: true,
		Screening: &types.RiskAssessment{
			Tier:       types.RiskDangerous,
			Confidence: 0.9,
			Threats:    []string{ThreatScamLanguage, ThreatPhishingIndicators, ThreatMalware},
			SkipReason: "high-confidence dangerous assessment",
		},
		SkipToFinal: true,
		SkipReason:  "high-confidence dangerous assessment",
	})

	store, err := archive.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	r := &Report{Store: env.store, Bus: env.bus, Archive: store}
	v, err := r.Assemble(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if v.TrustScore >= 30 {
		t.Fatalf("TrustScore = %d, want < 30", v.TrustScore)
	}
	if !v.ShortCircuited {
		t.Fatalf("ShortCircuited = false on skip path")
	}

	stored, err := env.store.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Status != session.StatusCompleted {
		t.Fatalf("Status = %q, want %q", stored.Status, session.StatusCompleted)
	}
	if stored.Debate != nil {
		t.Fatalf("skip path produced a debate record")
	}

	names, err := store.List(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 1 || names[0] != "report.json" {
		t.Fatalf("archived names = %v, want [report.json]", names)
	}
}

func TestAssembleDebatePath(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, types.AnalysisInput{Type: types.InputText, Text: "contested claim"}, true)
	env.seed(t, sess.ID, session.Update{
		Stage: session.StageDebate,
		Final: true,
		Debate: &types.DebateRecord{
			Topic: "contested claim",
			Transcript: []types.DebateMessage{
				{Index: 0, Role: types.RoleAdvocateA, Round: 1, Body: "For."},
				{Index: 1, Role: types.RoleAdvocateB, Round: 1, Body: "Against."},
				{Index: 2, Role: types.RoleArbiter, Round: 1, Body: "TRUST SCORE: 64%\n\nREASONING:\nMixed sources."},
			},
			TotalRounds: 1,
		},
	})

	r := &Report{Store: env.store, Bus: env.bus}
	v, err := r.Assemble(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if v.TrustScore != 64 {
		t.Fatalf("TrustScore = %d, want 64", v.TrustScore)
	}
	if v.ShortCircuited {
		t.Fatalf("ShortCircuited = true on debate path")
	}

	// Second call returns the committed verdict unchanged.
	again, err := r.Assemble(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("second Assemble() error = %v", err)
	}
	if !again.DecidedAt.Equal(v.DecidedAt) {
		t.Fatalf("second Assemble() re-decided the verdict")
	}
}

func TestAssembleMissingTranscript(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, types.AnalysisInput{Type: types.InputText, Text: "x"}, true)

	r := &Report{Store: env.store, Bus: env.bus}
	if _, err := r.Assemble(context.Background(), sess.ID); err == nil {
		t.Fatalf("Assemble() without a transcript did not fail")
	}
}
