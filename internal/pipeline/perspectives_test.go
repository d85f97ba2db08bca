package pipeline

import (
	"context"
	"testing"

	"veracity/internal/session"
	"veracity/internal/types"
)

func seedClassification(t *testing.T, env *testEnv, id string, summary string) {
	t.Helper()
	env.seed(t, id, session.Update{
		Stage: session.StageScreening,
		Final: true,
		Screening: &types.RiskAssessment{
			Tier:       types.RiskSuspicious,
			Confidence: 0.5,
		},
	})
	env.seed(t, id, session.Update{
		Stage: session.StageClassify,
		Final: true,
		Classification: &types.Classification{
			Significance:   85,
			Summary:        summary,
			RequiresDebate: true,
			DebatePriority: "critical",
		},
	})
}

func TestPerspectivesRun(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, types.AnalysisInput{Type: types.InputText, Text: "a contested claim"}, true)
	seedClassification(t, env, sess.ID, "A supplement is claimed to cure a disease.")

	fake := newFakeLLM()
	fake.jsonResponses["distinct viewpoints"] = `{"perspectives": [
		{"viewpoint": "strong_support", "bias_x": -0.8, "significance_y": 0.9, "text": "Trials back it."},
		{"viewpoint": "support", "bias_x": -0.5, "significance_y": 0.5, "text": "Practitioners agree."},
		{"viewpoint": "neutral_baseline", "bias_x": 0.0, "significance_y": 0.6, "text": "Widely sold."},
		{"viewpoint": "skeptical", "bias_x": 0.5, "significance_y": 0.7, "text": "No peer review."},
		{"viewpoint": "strong_opposition", "bias_x": 0.8, "significance_y": 0.8, "text": "Regulators flagged it."}
	]}`

	p := &Perspectives{Store: env.store, Bus: env.bus, LLM: fake}
	set, err := p.Run(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(set.Perspectives) != 5 {
		t.Fatalf("perspectives = %d, want 5", len(set.Perspectives))
	}
	if set.Topic != "A supplement is claimed to cure a disease." {
		t.Fatalf("Topic = %q", set.Topic)
	}

	camps := set.Camps()
	for _, camp := range []types.Camp{types.CampSupportive, types.CampNeutral, types.CampOpposing} {
		if len(camps[camp]) == 0 {
			t.Fatalf("camp %s unpopulated", camp)
		}
	}
}

func TestPerspectivesClampsCoordinates(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, types.AnalysisInput{Type: types.InputText, Text: "x"}, true)
	seedClassification(t, env, sess.ID, "s")

	fake := newFakeLLM()
	fake.jsonResponses["distinct viewpoints"] = `{"perspectives": [
		{"viewpoint": "a", "bias_x": -1.8, "significance_y": 2.5, "text": "out of range"},
		{"viewpoint": "b", "bias_x": 0.2, "significance_y": 0.5, "text": ""}
	]}`

	p := &Perspectives{Store: env.store, Bus: env.bus, LLM: fake}
	set, err := p.Run(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// The empty-text perspective is discarded, the other clamped.
	if len(set.Perspectives) != 1 {
		t.Fatalf("perspectives = %d, want 1", len(set.Perspectives))
	}
	got := set.Perspectives[0]
	if got.Bias != -1 || got.Significance != 1 {
		t.Fatalf("coordinates not clamped: bias=%v significance=%v", got.Bias, got.Significance)
	}
}

func TestPerspectivesEmptyGenerationFails(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, types.AnalysisInput{Type: types.InputText, Text: "x"}, true)
	seedClassification(t, env, sess.ID, "s")

	fake := newFakeLLM()
	fake.jsonResponses["distinct viewpoints"] = `{"perspectives": []}`

	p := &Perspectives{Store: env.store, Bus: env.bus, LLM: fake}
	if _, err := p.Run(context.Background(), sess.ID); err == nil {
		t.Fatalf("Run() with an empty generation did not fail")
	}

	stored, err := env.store.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.IsCommitted(session.StagePerspectives) {
		t.Fatalf("failed generation committed its slot")
	}
}

func TestPerspectivesRequireClassification(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, types.AnalysisInput{Type: types.InputText, Text: "x"}, true)

	p := &Perspectives{Store: env.store, Bus: env.bus, LLM: newFakeLLM()}
	if _, err := p.Run(context.Background(), sess.ID); err == nil {
		t.Fatalf("Run() without classification did not fail")
	}
}

func TestDebateTopicTruncation(t *testing.T) {
	long := ""
	for len(long) < 300 {
		long += "verylongtopic "
	}
	got := debateTopic(long, "")
	if len(got) != 203 {
		t.Fatalf("len = %d, want 200 plus ellipsis", len(got))
	}
	if got := debateTopic("", "fallback text"); got != "fallback text" {
		t.Fatalf("fallback not used: %q", got)
	}
}
