package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"veracity/internal/archive"
	"veracity/internal/broadcast"
	"veracity/internal/session"
	"veracity/internal/types"
)

// Report assembles the terminal verdict from whichever stages ran and
// archives the finished report.
type Report struct {
	Store   *session.Store
	Bus     *broadcast.Broadcaster
	Archive archive.Store
	Logger  *log.Logger
}

func (r *Report) Stage() session.Stage { return session.StageVerdict }

func (r *Report) Status(id string) (string, error) {
	return SlotStatus(r.Store, id, session.StageVerdict)
}

func (r *Report) Output(id string) (*types.Verdict, error) {
	sess, err := r.Store.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Verdict, nil
}

// Assemble commits the session's verdict. On the skip path it is a pure
// function of the RiskAssessment; otherwise it is parsed from the arbiter's
// judgment at the end of the debate transcript.
func (r *Report) Assemble(ctx context.Context, id string) (*types.Verdict, error) {
	sess, err := r.Store.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.IsCommitted(session.StageVerdict) {
		return sess.Verdict, nil
	}

	var verdict *types.Verdict
	switch {
	case sess.SkipToFinal:
		if sess.Screening == nil {
			return nil, fmt.Errorf("report: screening result missing for session %s", id)
		}
		verdict = SkipVerdict(sess.Screening)
	default:
		if sess.Debate == nil || len(sess.Debate.Transcript) == 0 {
			return nil, fmt.Errorf("report: debate transcript missing for session %s", id)
		}
		verdict = debateVerdict(sess.Debate)
	}

	updated, err := r.Store.Put(id, sess.Generation, session.Update{
		Stage:   session.StageVerdict,
		Final:   true,
		Verdict: verdict,
	})
	if err != nil {
		return nil, err
	}

	r.Bus.Publish(id, broadcast.Event{
		Type:     broadcast.EventSessionCompleted,
		Stage:    string(session.StageVerdict),
		Progress: 100,
	})
	r.archiveReport(ctx, updated)
	return updated.Verdict, nil
}

// Factors scaling the screening confidence into a trust penalty per tier.
// A high-confidence dangerous assessment should land far below the
// suspicious cutoff; a high-confidence safe one far above it.
const (
	dangerousFactor  = 1.0
	suspiciousFactor = 0.65
	safeFactor       = 0.15
)

// SkipVerdict synthesizes the terminal verdict directly from screening when
// the router short-circuits. Pure function, no side effects.
func SkipVerdict(a *types.RiskAssessment) *types.Verdict {
	factor := safeFactor
	switch a.Tier {
	case types.RiskDangerous:
		factor = dangerousFactor
	case types.RiskSuspicious:
		factor = suspiciousFactor
	}

	score := int(100 - a.Confidence*100*factor)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	rationale := a.SkipReason
	if rationale == "" {
		rationale = fmt.Sprintf("%s content at %.2f confidence", a.Tier, a.Confidence)
	}
	if len(a.Threats) > 0 {
		rationale += "; indicators: " + strings.Join(a.Threats, ", ")
	}
	return &types.Verdict{
		TrustScore:     score,
		Rationale:      rationale,
		Recommendation: a.Recommendation,
		ShortCircuited: true,
		DecidedAt:      time.Now().UTC(),
	}
}

func debateVerdict(rec *types.DebateRecord) *types.Verdict {
	judgment := ""
	for i := len(rec.Transcript) - 1; i >= 0; i-- {
		if rec.Transcript[i].Role == types.RoleArbiter {
			judgment = rec.Transcript[i].Body
			break
		}
	}
	return &types.Verdict{
		TrustScore: ParseTrustScore(judgment),
		Rationale:  judgment,
		DecidedAt:  time.Now().UTC(),
	}
}

var trustScoreDigits = regexp.MustCompile(`\d+`)

// ParseTrustScore pulls the score out of an arbiter judgment formatted as
// "TRUST SCORE: N%". Unparseable judgments default to the 50 midpoint.
func ParseTrustScore(judgment string) int {
	const marker = "TRUST SCORE:"
	idx := strings.Index(judgment, marker)
	if idx < 0 {
		return 50
	}
	line := judgment[idx+len(marker):]
	if nl := strings.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	m := trustScoreDigits.FindString(line)
	if m == "" {
		return 50
	}
	score, err := strconv.Atoi(m)
	if err != nil {
		return 50
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// archiveReport uploads the finished session as report.json. Best-effort:
// archive failures are logged, never surfaced.
func (r *Report) archiveReport(ctx context.Context, sess session.Session) {
	if r.Archive == nil {
		return
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		r.logf("marshal report for %s: %v", sess.ID, err)
		return
	}
	if err := r.Archive.Put(ctx, sess.ID, "report.json", data); err != nil {
		r.logf("archive report for %s: %v", sess.ID, err)
	}
}

func (r *Report) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf("[report] "+format, args...)
	}
}
