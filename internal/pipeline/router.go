package pipeline

import (
	"fmt"

	"veracity/internal/types"
)

// criticalThreats are the tags severe enough that two of them on a
// high-confidence dangerous assessment justify skipping the debate.
var criticalThreats = map[string]bool{
	ThreatPhishingIndicators: true,
	ThreatScamLanguage:       true,
	ThreatMalware:            true,
	ThreatCredentialHarvest:  true,
}

// fabricatedMediaThreats short-circuit image sessions on their own.
var fabricatedMediaThreats = map[string]bool{
	ThreatAIGeneratedImage: true,
	ThreatDeepfakeMedia:    true,
	ThreatManipulatedMedia: true,
}

// RouterConfig holds the confidence cutoffs for the skip rules.
type RouterConfig struct {
	DangerousConfidence float64
	MediaConfidence     float64
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		DangerousConfidence: 0.85,
		MediaConfidence:     0.90,
	}
}

// Decision is the router's verdict on whether to run the full pipeline.
type Decision struct {
	Skip   bool
	Reason string
}

// Router decides, from a committed RiskAssessment, whether the session
// short-circuits to Report Assembly or runs the debate sub-pipeline.
type Router struct {
	cfg RouterConfig
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.DangerousConfidence == 0 {
		cfg.DangerousConfidence = 0.85
	}
	if cfg.MediaConfidence == 0 {
		cfg.MediaConfidence = 0.90
	}
	return &Router{cfg: cfg}
}

// Decide evaluates the skip rules in order; first match wins.
func (r *Router) Decide(a *types.RiskAssessment, input types.InputType) Decision {
	if a == nil {
		return Decision{}
	}

	if a.Tier == types.RiskDangerous && a.Confidence >= r.cfg.DangerousConfidence {
		critical := 0
		for _, t := range a.Threats {
			if criticalThreats[t] {
				critical++
			}
		}
		if len(a.Threats) >= 3 || critical >= 2 {
			return Decision{
				Skip: true,
				Reason: fmt.Sprintf(
					"dangerous content at %.2f confidence with %d threat indicators (%d critical); debate skipped",
					a.Confidence, len(a.Threats), critical),
			}
		}
	}

	if input == types.InputImage && a.Confidence >= r.cfg.MediaConfidence {
		for _, t := range a.Threats {
			if fabricatedMediaThreats[t] {
				return Decision{
					Skip: true,
					Reason: fmt.Sprintf(
						"fabricated media detected (%s) at %.2f confidence; debate skipped", t, a.Confidence),
				}
			}
		}
	}

	return Decision{}
}
