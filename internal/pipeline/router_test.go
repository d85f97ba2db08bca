package pipeline

import (
	"testing"

	"veracity/internal/types"
)

func TestRouterSkipsObviousDangerousContent(t *testing.T) {
	r := NewRouter(DefaultRouterConfig())
	a := &types.RiskAssessment{
		Tier:       types.RiskDangerous,
		Confidence: 0.95,
		Threats:    []string{ThreatPhishingIndicators, ThreatMalware, ThreatUrgencyTactics},
	}
	d := r.Decide(a, types.InputText)
	if !d.Skip {
		t.Fatalf("Decide() skip = false, want true")
	}
	if d.Reason == "" {
		t.Fatalf("skip decision carries no rationale")
	}
}

func TestRouterSkipsOnCriticalSubset(t *testing.T) {
	r := NewRouter(DefaultRouterConfig())
	// Only two tags, but both from the critical subset.
	a := &types.RiskAssessment{
		Tier:       types.RiskDangerous,
		Confidence: 0.9,
		Threats:    []string{ThreatScamLanguage, ThreatCredentialHarvest},
	}
	if d := r.Decide(a, types.InputText); !d.Skip {
		t.Fatalf("Decide() skip = false, want true for two critical tags")
	}
}

func TestRouterNeverSkipsSafeContent(t *testing.T) {
	r := NewRouter(DefaultRouterConfig())
	a := &types.RiskAssessment{Tier: types.RiskSafe, Confidence: 0.98}
	if d := r.Decide(a, types.InputText); d.Skip {
		t.Fatalf("Decide() skipped a safe assessment")
	}
}

func TestRouterBelowConfidenceRunsFullPipeline(t *testing.T) {
	r := NewRouter(DefaultRouterConfig())
	a := &types.RiskAssessment{
		Tier:       types.RiskDangerous,
		Confidence: 0.7,
		Threats:    []string{ThreatPhishingIndicators, ThreatScamLanguage, ThreatMalware, ThreatUrgencyTactics},
	}
	if d := r.Decide(a, types.InputText); d.Skip {
		t.Fatalf("Decide() skipped below the confidence cutoff")
	}
}

func TestRouterFewThreatsNoCriticalPair(t *testing.T) {
	r := NewRouter(DefaultRouterConfig())
	a := &types.RiskAssessment{
		Tier:       types.RiskDangerous,
		Confidence: 0.9,
		Threats:    []string{ThreatUrgencyTactics, ThreatNoSSL},
	}
	if d := r.Decide(a, types.InputText); d.Skip {
		t.Fatalf("Decide() skipped with two non-critical tags")
	}
}

func TestRouterSkipsFabricatedMedia(t *testing.T) {
	r := NewRouter(DefaultRouterConfig())
	a := &types.RiskAssessment{
		Tier:       types.RiskDangerous,
		Confidence: 0.92,
		Threats:    []string{ThreatDeepfakeMedia},
	}
	if d := r.Decide(a, types.InputImage); !d.Skip {
		t.Fatalf("Decide() skip = false for high-confidence deepfake image")
	}
	// The same assessment on text input matches neither rule.
	if d := r.Decide(a, types.InputText); d.Skip {
		t.Fatalf("media rule applied to non-image input")
	}
}

func TestRouterMediaBelowConfidence(t *testing.T) {
	r := NewRouter(DefaultRouterConfig())
	a := &types.RiskAssessment{
		Tier:       types.RiskSuspicious,
		Confidence: 0.8,
		Threats:    []string{ThreatAIGeneratedImage},
	}
	if d := r.Decide(a, types.InputImage); d.Skip {
		t.Fatalf("media rule fired below the 0.90 cutoff")
	}
}

func TestRouterNilAssessment(t *testing.T) {
	r := NewRouter(DefaultRouterConfig())
	if d := r.Decide(nil, types.InputText); d.Skip {
		t.Fatalf("nil assessment skipped")
	}
}
