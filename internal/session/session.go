package session

import (
	"time"

	"veracity/internal/types"
)

// Stage identifies one pipeline slot of a session.
type Stage string

const (
	StageScreening    Stage = "screening"
	StageClassify     Stage = "classification"
	StagePerspectives Stage = "perspectives"
	StageEnrichment   Stage = "enrichment"
	StageDebate       Stage = "debate"
	StageVerdict      Stage = "verdict"
)

// Session statuses, in pipeline order.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Session is the full state of one analysis run. Owned exclusively by the
// store; callers receive copies and write back through Put.
type Session struct {
	ID         string    `json:"session_id"`
	Generation int       `json:"generation"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Mode              string              `json:"analysis_mode,omitempty"`
	Input             types.AnalysisInput `json:"input"`
	EnrichmentEnabled bool                `json:"enrichment_enabled"`

	Status       string `json:"status"`
	CurrentStage Stage  `json:"current_stage,omitempty"`
	Completed    bool   `json:"completed"`
	FailReason   string `json:"fail_reason,omitempty"`

	SkipToFinal bool   `json:"skip_to_final"`
	SkipReason  string `json:"skip_reason,omitempty"`

	Screening      *types.RiskAssessment `json:"screening,omitempty"`
	Classification *types.Classification `json:"classification,omitempty"`
	Perspectives   *types.PerspectiveSet `json:"perspectives,omitempty"`
	Enrichment     *types.EnrichmentSet  `json:"enrichment,omitempty"`
	Debate         *types.DebateRecord   `json:"debate,omitempty"`
	Verdict        *types.Verdict        `json:"verdict,omitempty"`

	// Finalized slots. A committed slot rejects further writes until reset.
	Committed map[Stage]bool `json:"committed"`
}

// IsCommitted reports whether a stage slot has been finalized.
func (s *Session) IsCommitted(stage Stage) bool {
	if s == nil || s.Committed == nil {
		return false
	}
	return s.Committed[stage]
}

// Update carries one stage's output into the store. Exactly one payload field
// matching Stage should be set. Final marks the slot committed; non-final
// writes (an aborted debate transcript, say) stay overwritable so a failed
// stage can be re-run.
type Update struct {
	Stage  Stage
	Final  bool
	Status string

	SkipToFinal bool
	SkipReason  string

	Screening      *types.RiskAssessment
	Classification *types.Classification
	Perspectives   *types.PerspectiveSet
	Enrichment     *types.EnrichmentSet
	Debate         *types.DebateRecord
	Verdict        *types.Verdict
}

// clone returns a snapshot that shares no mutable state with the store's
// entry. Combined with the copies taken in apply, neither a caller mutating
// the struct it passed to Put nor one mutating a returned snapshot can reach
// store-owned state.
func (s *Session) clone() Session {
	out := *s
	out.Input.Metadata = copyStringMap(s.Input.Metadata)
	out.Screening = copyAssessment(s.Screening)
	out.Classification = copyClassification(s.Classification)
	out.Perspectives = copyPerspectives(s.Perspectives)
	out.Enrichment = copyEnrichment(s.Enrichment)
	out.Debate = copyDebate(s.Debate)
	out.Verdict = copyVerdict(s.Verdict)
	out.Committed = make(map[Stage]bool, len(s.Committed))
	for k, v := range s.Committed {
		out.Committed[k] = v
	}
	return out
}

// apply merges the update into the session, copying each payload so the
// caller's pointer stays the caller's. Caller has already checked the commit
// guard.
func (s *Session) apply(u Update, now time.Time) {
	switch u.Stage {
	case StageScreening:
		if u.Screening != nil {
			s.Screening = copyAssessment(u.Screening)
			s.SkipToFinal = u.SkipToFinal
			s.SkipReason = u.SkipReason
		}
	case StageClassify:
		if u.Classification != nil {
			s.Classification = copyClassification(u.Classification)
		}
	case StagePerspectives:
		if u.Perspectives != nil {
			s.Perspectives = copyPerspectives(u.Perspectives)
		}
	case StageEnrichment:
		if u.Enrichment != nil {
			s.Enrichment = copyEnrichment(u.Enrichment)
		}
	case StageDebate:
		if u.Debate != nil {
			s.Debate = copyDebate(u.Debate)
		}
	case StageVerdict:
		if u.Verdict != nil {
			s.Verdict = copyVerdict(u.Verdict)
			s.Completed = true
			s.Status = StatusCompleted
		}
	}
	if u.Final {
		if s.Committed == nil {
			s.Committed = make(map[Stage]bool)
		}
		s.Committed[u.Stage] = true
	}
	if u.Status != "" {
		s.Status = u.Status
	}
	s.CurrentStage = u.Stage
	s.UpdatedAt = now
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func copyAssessment(in *types.RiskAssessment) *types.RiskAssessment {
	if in == nil {
		return nil
	}
	out := *in
	out.Threats = copyStrings(in.Threats)
	out.RedFlags = copyStrings(in.RedFlags)
	return &out
}

func copyClassification(in *types.Classification) *types.Classification {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}

func copyPerspectives(in *types.PerspectiveSet) *types.PerspectiveSet {
	if in == nil {
		return nil
	}
	out := *in
	if in.Perspectives != nil {
		out.Perspectives = append([]types.Perspective(nil), in.Perspectives...)
	}
	return &out
}

func copyEnrichment(in *types.EnrichmentSet) *types.EnrichmentSet {
	if in == nil {
		return nil
	}
	out := *in
	if in.Items != nil {
		out.Items = append([]types.EnrichmentItem(nil), in.Items...)
	}
	if in.Degraded != nil {
		out.Degraded = append([]types.Camp(nil), in.Degraded...)
	}
	return &out
}

func copyDebate(in *types.DebateRecord) *types.DebateRecord {
	if in == nil {
		return nil
	}
	out := *in
	if in.Transcript != nil {
		out.Transcript = append([]types.DebateMessage(nil), in.Transcript...)
	}
	return &out
}

func copyVerdict(in *types.Verdict) *types.Verdict {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}
