package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"veracity/internal/broadcast"
	"veracity/internal/llm"
	"veracity/internal/session"
	"veracity/internal/types"
)

const classifyPrompt = `You classify content for a trust-analysis pipeline.
Distribute the content across five verification categories so the shares sum
to 100: person (claims about individuals), organization (companies,
institutions), social (society, politics, culture), critical (safety,
health, finance, security), stem (science, technology, engineering, math).

Also produce a comprehensive one-paragraph summary of the content and your
confidence in the classification.

Return STRICT JSON ONLY:
{"person": 0.0, "organization": 0.0, "social": 0.0, "critical": 0.0, "stem": 0.0,
 "reasoning": "string", "confidence_score": 0.0, "comprehensive_summary": "string"}`

// Classify derives the category breakdown via the reasoning capability and
// the significance score from the screening confidence. Significance is
// inverse to confidence: ambiguous content needs more debate than an obvious
// scam or an obviously safe page.
type Classify struct {
	Store *session.Store
	Bus   *broadcast.Broadcaster
	LLM   llm.Client
}

func (c *Classify) Stage() session.Stage { return session.StageClassify }

func (c *Classify) Status(id string) (string, error) {
	return SlotStatus(c.Store, id, session.StageClassify)
}

// Input returns the upstream screening result this stage consumes.
func (c *Classify) Input(id string) (*types.RiskAssessment, error) {
	sess, err := c.Store.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Screening, nil
}

func (c *Classify) Output(id string) (*types.Classification, error) {
	sess, err := c.Store.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Classification, nil
}

func (c *Classify) Run(ctx context.Context, id string) (*types.Classification, error) {
	sess, err := c.Store.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.IsCommitted(session.StageClassify) {
		return sess.Classification, nil
	}
	screening := sess.Screening
	if screening == nil {
		return nil, fmt.Errorf("classification: screening result missing for session %s", id)
	}

	c.Bus.Publish(id, broadcast.Event{
		Type:  broadcast.EventStageStarted,
		Stage: string(session.StageClassify),
	})

	text := contentText(sess)
	raw, err := c.LLM.GenerateJSON(ctx, classifyPrompt, map[string]any{
		"content":    text,
		"risk_tier":  screening.Tier,
		"confidence": screening.Confidence,
		"threats":    screening.Threats,
	})
	if err != nil {
		return nil, fmt.Errorf("classification: %w", err)
	}

	var out struct {
		Person       float64 `json:"person"`
		Organization float64 `json:"organization"`
		Social       float64 `json:"social"`
		Critical     float64 `json:"critical"`
		STEM         float64 `json:"stem"`
		Reasoning    string  `json:"reasoning"`
		Confidence   float64 `json:"confidence_score"`
		Summary      string  `json:"comprehensive_summary"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("classification: %w: %v", llm.ErrInvalidJSON, err)
	}

	score, why := significanceScore(screening.Confidence, screening.Tier, screening.Threats)
	cls := &types.Classification{
		Breakdown: types.CategoryBreakdown{
			Person:       out.Person,
			Organization: out.Organization,
			Social:       out.Social,
			Critical:     out.Critical,
			STEM:         out.STEM,
		},
		Reasoning:       out.Reasoning,
		Confidence:      out.Confidence,
		Significance:    score,
		SignificanceWhy: why,
		Summary:         out.Summary,
		RequiresDebate:  score >= 50,
		DebatePriority:  debatePriority(score),
	}

	updated, err := c.Store.Put(id, sess.Generation, session.Update{
		Stage:          session.StageClassify,
		Final:          true,
		Status:         session.StatusRunning,
		Classification: cls,
	})
	if err != nil {
		return nil, err
	}
	return updated.Classification, nil
}

// significanceScore maps screening confidence to debate significance 0..100.
// Inverse bands: an obvious threat and an obviously safe page both score low;
// the ambiguous middle scores highest.
func significanceScore(confidence float64, tier types.RiskTier, threats []string) (int, string) {
	pct := confidence * 100
	var (
		score int
		why   string
	)
	switch {
	case pct >= 95 && tier == types.RiskDangerous:
		score = int(15 - (pct-95)*1.0)
		why = fmt.Sprintf("Obvious threat with %.1f%% confidence. Minimal debate needed as the threat is clear.", pct)
	case pct >= 80 && tier == types.RiskDangerous:
		score = int(30 + (95-pct)*1.3)
		why = fmt.Sprintf("Likely threat with %.1f%% confidence. Moderate debate needed to explore nuances.", pct)
	case pct >= 60:
		score = int(60 + (80-pct)*0.75)
		why = fmt.Sprintf("Suspicious content with %.1f%% confidence. High debate significance as interpretation varies.", pct)
	case pct >= 40:
		score = int(80 + (60-pct)*0.5)
		why = fmt.Sprintf("Ambiguous content with %.1f%% confidence. Critical debate needed to determine true nature.", pct)
	default:
		score = int(5 + (40-pct)*0.25)
		why = fmt.Sprintf("Low threat confidence (%.1f%%). Minimal significance for debate.", pct)
	}

	if len(threats) >= 3 {
		score += 10
		why += fmt.Sprintf(" Multiple threats detected (%d), increasing debate priority.", len(threats))
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score, why
}

func debatePriority(score int) string {
	switch {
	case score >= 80:
		return "critical"
	case score >= 60:
		return "high"
	case score >= 30:
		return "medium"
	default:
		return "low"
	}
}

// contentText picks the best available text for downstream capability calls,
// preferring scraped page content over the raw input.
func contentText(sess session.Session) string {
	if sess.Screening != nil && sess.Screening.ScrapedText != "" {
		return sess.Screening.ScrapedText
	}
	if sess.Input.Text != "" {
		return sess.Input.Text
	}
	return sess.Input.URL
}
