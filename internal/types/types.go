package types

import "time"

// Input ---------------------------------------------------------------------------

type InputType string

const (
	InputText  InputType = "text"
	InputURL   InputType = "url"
	InputImage InputType = "image"
)

// AnalysisInput is the user-submitted content a session analyzes.
type AnalysisInput struct {
	Type     InputType         `json:"type"`
	Text     string            `json:"text,omitempty"`
	URL      string            `json:"url,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Risk screening ------------------------------------------------------------------

type RiskTier string

const (
	RiskSafe       RiskTier = "safe"
	RiskSuspicious RiskTier = "suspicious"
	RiskDangerous  RiskTier = "dangerous"
)

// RiskAssessment is the screening stage output. Immutable once committed.
type RiskAssessment struct {
	Tier           RiskTier `json:"tier"`
	Confidence     float64  `json:"confidence"`
	Threats        []string `json:"threats"`
	RedFlags       []string `json:"red_flags,omitempty"`
	Recommendation string   `json:"recommendation"`
	ScrapedTitle   string   `json:"scraped_title,omitempty"`
	ScrapedText    string   `json:"scraped_text,omitempty"`

	// Router decision, recorded here so consumers can explain a short-circuit.
	SkipToFinal bool   `json:"skip_to_final"`
	SkipReason  string `json:"skip_reason,omitempty"`
}

// Classification ------------------------------------------------------------------

// CategoryBreakdown assigns each verification category a share of 100.
type CategoryBreakdown struct {
	Person       float64 `json:"person"`
	Organization float64 `json:"organization"`
	Social       float64 `json:"social"`
	Critical     float64 `json:"critical"`
	STEM         float64 `json:"stem"`
}

type Classification struct {
	Breakdown       CategoryBreakdown `json:"classification"`
	Reasoning       string            `json:"classification_reasoning"`
	Confidence      float64           `json:"classification_confidence"`
	Significance    int               `json:"significance_score"`
	SignificanceWhy string            `json:"significance_explanation"`
	Summary         string            `json:"comprehensive_summary"`
	RequiresDebate  bool              `json:"requires_debate"`
	DebatePriority  string            `json:"debate_priority"`
}

// Perspectives --------------------------------------------------------------------

type Camp string

const (
	CampSupportive Camp = "supportive"
	CampOpposing   Camp = "opposing"
	CampNeutral    Camp = "neutral"
)

// Perspective is one generated viewpoint. Bias runs -1..1, Significance 0..1.
type Perspective struct {
	Viewpoint    string  `json:"viewpoint"`
	Bias         float64 `json:"bias_x"`
	Significance float64 `json:"significance_y"`
	Text         string  `json:"text"`
}

type PerspectiveSet struct {
	Topic        string        `json:"topic"`
	Perspectives []Perspective `json:"perspectives"`
}

// Enrichment ----------------------------------------------------------------------

// EnrichmentItem is one accepted evidence link attached to a perspective.
type EnrichmentItem struct {
	Category        Camp    `json:"category"`
	PerspectiveText string  `json:"perspective_text"`
	URL             string  `json:"link"`
	Title           string  `json:"title"`
	Snippet         string  `json:"snippet,omitempty"`
	TrustScore      float64 `json:"trust_score"`
	SourceType      string  `json:"source_type"`
	Excerpt         string  `json:"extracted_content,omitempty"`
}

type EnrichmentSet struct {
	Enabled bool             `json:"enabled"`
	Items   []EnrichmentItem `json:"items"`
	// Categories for which enrichment produced nothing; debate proceeds on
	// bare perspectives there.
	Degraded []Camp `json:"degraded,omitempty"`
}

// ItemsFor returns the accepted items attached to a perspective text.
func (e *EnrichmentSet) ItemsFor(perspectiveText string) []EnrichmentItem {
	if e == nil {
		return nil
	}
	var out []EnrichmentItem
	for _, it := range e.Items {
		if it.PerspectiveText == perspectiveText {
			out = append(out, it)
		}
	}
	return out
}

// Debate --------------------------------------------------------------------------

type AgentRole string

const (
	RoleAdvocateA AgentRole = "advocate_a"
	RoleAdvocateB AgentRole = "advocate_b"
	RoleArbiter   AgentRole = "arbiter"
)

// DebateMessage is one transcript entry. The role is assigned by the engine at
// construction time; consumers never infer it from the text.
type DebateMessage struct {
	Index int       `json:"index"`
	Role  AgentRole `json:"role"`
	Round int       `json:"round"`
	Body  string    `json:"body"`
}

type DebateRecord struct {
	Topic       string          `json:"topic"`
	Transcript  []DebateMessage `json:"debate_transcript"`
	TotalRounds int             `json:"total_rounds"`
	Aborted     bool            `json:"aborted,omitempty"`
	AbortReason string          `json:"abort_reason,omitempty"`
}

// Verdict -------------------------------------------------------------------------

// Verdict is the terminal trust judgment for a session, written exactly once
// by either the short-circuit path or the arbiter.
type Verdict struct {
	TrustScore     int       `json:"trust_score"`
	Rationale      string    `json:"rationale"`
	Recommendation string    `json:"recommendation,omitempty"`
	ShortCircuited bool      `json:"short_circuited"`
	DecidedAt      time.Time `json:"decided_at"`
}
