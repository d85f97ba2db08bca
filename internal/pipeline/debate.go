package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"veracity/internal/broadcast"
	"veracity/internal/llm"
	"veracity/internal/session"
	"veracity/internal/types"
)

// DebateConfig bounds the round loop.
type DebateConfig struct {
	MinRounds int
	MaxRounds int
}

func DefaultDebateConfig() DebateConfig {
	return DebateConfig{MinRounds: 1, MaxRounds: 3}
}

// Debate runs the bounded adversarial discussion. Two advocates argue from
// their camps, the arbiter decides when grounds exist to conclude and then
// scores the transcript. Every message lands in the store's transcript and on
// the broadcaster before the next capability call begins.
type Debate struct {
	Store  *session.Store
	Bus    *broadcast.Broadcaster
	LLM    llm.Client
	Config DebateConfig
	Logger *log.Logger
}

func (d *Debate) Stage() session.Stage { return session.StageDebate }

func (d *Debate) Status(id string) (string, error) {
	return SlotStatus(d.Store, id, session.StageDebate)
}

func (d *Debate) Input(id string) (*types.PerspectiveSet, error) {
	sess, err := d.Store.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Perspectives, nil
}

func (d *Debate) Output(id string) (*types.DebateRecord, error) {
	sess, err := d.Store.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Debate, nil
}

// Run executes the state machine Idle -> RoundInProgress(n) -> Arbitration.
// A capability failure after retries aborts with ErrDebateAborted; the
// transcript so far is preserved non-final so the stage can be re-run.
func (d *Debate) Run(ctx context.Context, id string) (*types.DebateRecord, error) {
	sess, err := d.Store.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.IsCommitted(session.StageDebate) {
		return sess.Debate, nil
	}
	pset := sess.Perspectives
	if pset == nil || len(pset.Perspectives) == 0 {
		return nil, ErrInsufficientInput
	}

	camps := pset.Camps()
	neutral := campKnowledge(camps[types.CampNeutral], sess.Enrichment)
	advocateA := agent{
		role:      types.RoleAdvocateA,
		stance:    "supportive",
		knowledge: campKnowledge(camps[types.CampSupportive], sess.Enrichment),
		baseline:  neutral,
	}
	advocateB := agent{
		role:      types.RoleAdvocateB,
		stance:    "opposing",
		knowledge: campKnowledge(camps[types.CampOpposing], sess.Enrichment),
		baseline:  neutral,
	}

	rec := &types.DebateRecord{Topic: pset.Topic}

	abort := func(cause error) (*types.DebateRecord, error) {
		rec.Aborted = true
		rec.AbortReason = cause.Error()
		// Non-final write keeps the partial transcript readable and re-runnable.
		if _, perr := d.Store.Put(id, sess.Generation, session.Update{
			Stage:  session.StageDebate,
			Debate: rec,
		}); perr != nil {
			d.logf("preserving aborted transcript for %s: %v", id, perr)
		}
		if _, ferr := d.Store.MarkFailed(id, sess.Generation, session.StageDebate, cause.Error()); ferr != nil {
			d.logf("marking debate failed for %s: %v", id, ferr)
		}
		return rec, fmt.Errorf("%w: %v", ErrDebateAborted, cause)
	}

	maxRounds := d.Config.MaxRounds
	if maxRounds <= 0 || maxRounds > 3 {
		maxRounds = 3
	}
	minRounds := d.Config.MinRounds
	if minRounds <= 0 {
		minRounds = 1
	}

	for round := 1; round <= maxRounds; round++ {
		if round > minRounds {
			done, err := d.judgeConcluded(ctx, rec)
			if err != nil {
				return abort(err)
			}
			if done {
				break
			}
		}

		d.Bus.Publish(id, broadcast.Event{
			Type:  broadcast.EventRoundStarted,
			Stage: string(session.StageDebate),
			Round: round,
		})

		for _, a := range []agent{advocateA, advocateB} {
			body, err := d.argue(ctx, a, rec, round)
			if err != nil {
				return abort(err)
			}
			if err := d.append(ctx, id, sess.Generation, rec, types.DebateMessage{
				Role:  a.role,
				Round: round,
				Body:  body,
			}); err != nil {
				return nil, err
			}
		}
		rec.TotalRounds = round
	}

	judgment, err := d.arbitrate(ctx, rec)
	if err != nil {
		return abort(err)
	}
	if err := d.append(ctx, id, sess.Generation, rec, types.DebateMessage{
		Role:  types.RoleArbiter,
		Round: rec.TotalRounds,
		Body:  judgment,
	}); err != nil {
		return nil, err
	}

	updated, err := d.Store.Put(id, sess.Generation, session.Update{
		Stage:  session.StageDebate,
		Final:  true,
		Status: session.StatusRunning,
		Debate: rec,
	})
	if err != nil {
		return nil, err
	}
	return updated.Debate, nil
}

// append records the message in the transcript, persists the partial record
// and notifies observers before the next step begins.
func (d *Debate) append(ctx context.Context, id string, gen int, rec *types.DebateRecord, msg types.DebateMessage) error {
	msg.Index = len(rec.Transcript)
	rec.Transcript = append(rec.Transcript, msg)

	if _, err := d.Store.Put(id, gen, session.Update{
		Stage:  session.StageDebate,
		Debate: rec,
	}); err != nil {
		return err
	}
	d.Bus.Publish(id, broadcast.Event{
		Type:    broadcast.EventDebateMessage,
		Stage:   string(session.StageDebate),
		Round:   msg.Round,
		Role:    string(msg.Role),
		Message: msg.Body,
	})
	return ctx.Err()
}

type agent struct {
	role      types.AgentRole
	stance    string
	knowledge string
	baseline  string
}

func (d *Debate) argue(ctx context.Context, a agent, rec *types.DebateRecord, round int) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You represent the %s position in a debate about whether information is trustworthy.\n\n", a.stance)
	fmt.Fprintf(&sb, "TOPIC: %s\n\n", rec.Topic)
	fmt.Fprintf(&sb, "YOUR KNOWLEDGE BASE:\n%s\n", a.knowledge)
	if a.baseline != "" {
		fmt.Fprintf(&sb, "\nSHARED NEUTRAL BASELINE (both sides accept these):\n%s\n", a.baseline)
	}
	if round == 1 {
		sb.WriteString(`
Make a clear, evidence-based opening argument about whether the topic is trustworthy.
Rules:
1. Focus only on the topic at hand.
2. Cite concrete evidence from your knowledge base, including source trust scores.
3. Stay within 150-200 words.
4. Focus on source credibility, evidence quality and factual accuracy.

Your argument:`)
	} else {
		fmt.Fprintf(&sb, "\nDEBATE SO FAR:\n%s\n", transcriptText(rec))
		sb.WriteString(`
Respond to your opponent's latest argument. Counter their specific claims with
evidence from your knowledge base, comparing trust scores where relevant.
Stay within 150-200 words.

Your response:`)
	}
	out, err := d.LLM.GenerateText(ctx, sb.String())
	if err != nil {
		return "", fmt.Errorf("advocate %s round %d: %w", a.role, round, err)
	}
	return strings.TrimSpace(out), nil
}

// judgeConcluded asks the arbiter whether further rounds would add grounds.
// Concluding requires an explicit YES; anything else runs another round.
func (d *Debate) judgeConcluded(ctx context.Context, rec *types.DebateRecord) (bool, error) {
	prompt := fmt.Sprintf(
		"Has this debate reached a conclusion? Answer YES or NO only.\n\n%s",
		transcriptText(rec))
	out, err := d.LLM.GenerateText(ctx, prompt)
	if err != nil {
		return false, fmt.Errorf("continuation judgment: %w", err)
	}
	return strings.Contains(strings.ToUpper(out), "YES"), nil
}

const arbitrationPrompt = `You are an impartial ARBITER evaluating a debate about the trustworthiness of information.

TOPIC: %s

FULL DEBATE TRANSCRIPT:
%s

Provide a final TRUST SCORE from 0-100%% based on the debate.

Trust Score Scale:
- 0-20%%: Highly untrustworthy
- 21-40%%: Mostly untrustworthy
- 41-60%%: Mixed reliability
- 61-80%%: Mostly trustworthy
- 81-100%%: Highly trustworthy

Weigh the quality of sources cited, the strength of evidence on each side and
the logical consistency of the arguments.

Respond in exactly this format:

TRUST SCORE: [0-100]%%

REASONING:
[150-200 words explaining the score in plain language.]

KEY FACTORS:
- [3-4 factors that drove the score]`

func (d *Debate) arbitrate(ctx context.Context, rec *types.DebateRecord) (string, error) {
	out, err := d.LLM.GenerateText(ctx, fmt.Sprintf(arbitrationPrompt, rec.Topic, transcriptText(rec)))
	if err != nil {
		return "", fmt.Errorf("arbitration: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func transcriptText(rec *types.DebateRecord) string {
	var sb strings.Builder
	for _, m := range rec.Transcript {
		fmt.Fprintf(&sb, "[%s, round %d]: %s\n\n", m.Role, m.Round, m.Body)
	}
	return sb.String()
}

// campKnowledge renders a camp's perspectives, with any attached evidence,
// into the knowledge block an advocate argues from.
func campKnowledge(members []types.Perspective, enrichment *types.EnrichmentSet) string {
	if len(members) == 0 {
		return "(no perspectives in this camp)"
	}
	var sb strings.Builder
	for i, p := range members {
		fmt.Fprintf(&sb, "[Perspective %d]\n", i+1)
		fmt.Fprintf(&sb, "Statement: %s\n", p.Text)
		fmt.Fprintf(&sb, "Bias: %.2f, Significance: %.2f\n", p.Bias, p.Significance)
		for _, it := range enrichment.ItemsFor(p.Text) {
			fmt.Fprintf(&sb, "Supporting Evidence: %s\n", it.Title)
			fmt.Fprintf(&sb, "  URL: %s\n", it.URL)
			fmt.Fprintf(&sb, "  Trust Score: %.2f (%s)\n", it.TrustScore, it.SourceType)
			if it.Snippet != "" {
				fmt.Fprintf(&sb, "  Snippet: %s\n", it.Snippet)
			}
			if it.Excerpt != "" {
				excerpt := strings.ReplaceAll(it.Excerpt, "\n", " ")
				if len(excerpt) > 300 {
					excerpt = excerpt[:300]
				}
				fmt.Fprintf(&sb, "  Content: %s...\n", excerpt)
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (d *Debate) logf(format string, args ...any) {
	if d.Logger != nil {
		d.Logger.Printf("[debate] "+format, args...)
	}
}
