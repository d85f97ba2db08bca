package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"veracity/internal/broadcast"
	"veracity/internal/llm"
	"veracity/internal/session"
	"veracity/internal/types"
)

const perspectivesPrompt = `You generate distinct viewpoints on a statement for a structured debate.
For each requested slot, write one perspective consistent with its bias
coordinate: bias_x runs -1.0 (fully supportive of the statement being
trustworthy) to 1.0 (fully opposed). significance_y in [0,1] weights how much
that perspective matters to the debate. Perspectives must not repeat each
other and must each stand on a concrete argument, not a restatement.

Return STRICT JSON ONLY:
{"perspectives": [{"viewpoint": "string", "bias_x": 0.0, "significance_y": 0.0, "text": "string"}, ...]}`

// perspectiveSlots is the fixed palette the generation call fills in. The
// bias coordinates straddle the camp thresholds so every camp is populated.
var perspectiveSlots = []struct {
	Viewpoint string
	Bias      float64
}{
	{"strong_support", -0.8},
	{"support", -0.5},
	{"neutral_baseline", 0.0},
	{"skeptical", 0.5},
	{"strong_opposition", 0.8},
}

// Perspectives generates the debate viewpoints for a session. An empty
// generation is a stage failure: the debate cannot run without input.
type Perspectives struct {
	Store *session.Store
	Bus   *broadcast.Broadcaster
	LLM   llm.Client
}

func (p *Perspectives) Stage() session.Stage { return session.StagePerspectives }

func (p *Perspectives) Status(id string) (string, error) {
	return SlotStatus(p.Store, id, session.StagePerspectives)
}

func (p *Perspectives) Input(id string) (*types.Classification, error) {
	sess, err := p.Store.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Classification, nil
}

func (p *Perspectives) Output(id string) (*types.PerspectiveSet, error) {
	sess, err := p.Store.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Perspectives, nil
}

func (p *Perspectives) Run(ctx context.Context, id string) (*types.PerspectiveSet, error) {
	sess, err := p.Store.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.IsCommitted(session.StagePerspectives) {
		return sess.Perspectives, nil
	}
	cls := sess.Classification
	if cls == nil {
		return nil, fmt.Errorf("perspectives: classification missing for session %s", id)
	}

	p.Bus.Publish(id, broadcast.Event{
		Type:  broadcast.EventStageStarted,
		Stage: string(session.StagePerspectives),
	})

	topic := debateTopic(cls.Summary, contentText(sess))

	slots := make([]map[string]any, 0, len(perspectiveSlots))
	for _, s := range perspectiveSlots {
		slots = append(slots, map[string]any{
			"viewpoint": s.Viewpoint,
			"bias_x":    s.Bias,
		})
	}
	raw, err := p.LLM.GenerateJSON(ctx, perspectivesPrompt, map[string]any{
		"statement":    topic,
		"full_text":    contentText(sess),
		"significance": float64(cls.Significance) / 100.0,
		"slots":        slots,
	})
	if err != nil {
		return nil, fmt.Errorf("perspectives: %w", err)
	}

	var out struct {
		Perspectives []types.Perspective `json:"perspectives"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("perspectives: %w: %v", llm.ErrInvalidJSON, err)
	}

	valid := out.Perspectives[:0]
	for _, pv := range out.Perspectives {
		if strings.TrimSpace(pv.Text) == "" {
			continue
		}
		if pv.Bias < -1 {
			pv.Bias = -1
		}
		if pv.Bias > 1 {
			pv.Bias = 1
		}
		if pv.Significance < 0 {
			pv.Significance = 0
		}
		if pv.Significance > 1 {
			pv.Significance = 1
		}
		valid = append(valid, pv)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("perspectives: capability returned no usable perspectives")
	}

	set := &types.PerspectiveSet{Topic: topic, Perspectives: valid}
	updated, err := p.Store.Put(id, sess.Generation, session.Update{
		Stage:        session.StagePerspectives,
		Final:        true,
		Status:       session.StatusRunning,
		Perspectives: set,
	})
	if err != nil {
		return nil, err
	}
	return updated.Perspectives, nil
}

// debateTopic derives the debate statement from the summary, truncated so
// prompts downstream stay bounded.
func debateTopic(summary, fallback string) string {
	topic := strings.TrimSpace(summary)
	if topic == "" {
		topic = strings.TrimSpace(fallback)
	}
	if len(topic) > 200 {
		topic = topic[:200] + "..."
	}
	return topic
}
