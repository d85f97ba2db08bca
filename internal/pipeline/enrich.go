package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"veracity/internal/broadcast"
	"veracity/internal/capability"
	"veracity/internal/llm"
	"veracity/internal/session"
	"veracity/internal/types"
)

// EnrichConfig bounds the evidence search. The limiter budget itself lives in
// the capability clients; this layer only adds pacing and per-perspective caps.
type EnrichConfig struct {
	MaxLinksPerPerspective int
	RelevanceThreshold     float64
	RequestDelay           time.Duration
	CandidateParallelism   int
}

func DefaultEnrichConfig() EnrichConfig {
	return EnrichConfig{
		MaxLinksPerPerspective: 3,
		RelevanceThreshold:     0.7,
		RequestDelay:           500 * time.Millisecond,
		CandidateParallelism:   2,
	}
}

const rewritePrompt = `Rewrite the following debate perspective as a short web search query
that would surface evidence for or against it. Return only the query text,
no quotes, no commentary.`

const relevancePrompt = `Score how relevant a search result is to a debate perspective.
Return STRICT JSON ONLY: {"relevance": 0.0, "reason": "string"}
relevance runs 0.0 (unrelated) to 1.0 (directly on point).`

const trustPrompt = `Assess a web page used as debate evidence. Consider the domain, the
writing, and how the content supports or undermines the perspective.
Classify source_type as one of: news, academic, government, corporate, blog,
forum, social, reference, unknown.
Return STRICT JSON ONLY: {"trust_score": 0.0, "source_type": "string"}
trust_score runs 0.0 (untrustworthy) to 1.0 (highly trustworthy).`

// Enrich attaches supporting evidence to each perspective before debate.
// Toggleable per session; every failure degrades instead of aborting.
type Enrich struct {
	Store     *session.Store
	Bus       *broadcast.Broadcaster
	LLM       llm.Client
	Searcher  capability.Searcher
	Extractor capability.Extractor
	Config    EnrichConfig
	Logger    *log.Logger
}

func (e *Enrich) Stage() session.Stage { return session.StageEnrichment }

func (e *Enrich) Status(id string) (string, error) {
	return SlotStatus(e.Store, id, session.StageEnrichment)
}

func (e *Enrich) Input(id string) (*types.PerspectiveSet, error) {
	sess, err := e.Store.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Perspectives, nil
}

func (e *Enrich) Output(id string) (*types.EnrichmentSet, error) {
	sess, err := e.Store.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Enrichment, nil
}

func (e *Enrich) Run(ctx context.Context, id string) (*types.EnrichmentSet, error) {
	sess, err := e.Store.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.IsCommitted(session.StageEnrichment) {
		return sess.Enrichment, nil
	}
	pset := sess.Perspectives
	if pset == nil || len(pset.Perspectives) == 0 {
		return nil, fmt.Errorf("enrichment: perspectives missing for session %s", id)
	}

	set := &types.EnrichmentSet{Enabled: sess.EnrichmentEnabled}
	if !sess.EnrichmentEnabled {
		return e.commit(id, sess.Generation, set)
	}

	e.Bus.Publish(id, broadcast.Event{
		Type:  broadcast.EventStageStarted,
		Stage: string(session.StageEnrichment),
	})

	campHits := make(map[types.Camp]int)
	for _, p := range pset.Perspectives {
		items := e.enrichPerspective(ctx, p)
		if len(items) > 0 {
			campHits[types.CampOf(p)] += len(items)
			set.Items = append(set.Items, items...)
			e.Bus.Publish(id, broadcast.Event{
				Type:    broadcast.EventEnrichmentUpdate,
				Stage:   string(session.StageEnrichment),
				Message: fmt.Sprintf("%d evidence links for %q", len(items), p.Viewpoint),
			})
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	for camp, members := range pset.Camps() {
		if len(members) > 0 && campHits[camp] == 0 {
			set.Degraded = append(set.Degraded, camp)
		}
	}
	return e.commit(id, sess.Generation, set)
}

func (e *Enrich) commit(id string, gen int, set *types.EnrichmentSet) (*types.EnrichmentSet, error) {
	updated, err := e.Store.Put(id, gen, session.Update{
		Stage:      session.StageEnrichment,
		Final:      true,
		Status:     session.StatusRunning,
		Enrichment: set,
	})
	if err != nil {
		return nil, err
	}
	return updated.Enrichment, nil
}

// enrichPerspective runs the rewrite/search/score sub-pipeline for one
// perspective. Every error path returns what was gathered so far; a bad
// candidate never sinks its siblings.
func (e *Enrich) enrichPerspective(ctx context.Context, p types.Perspective) []types.EnrichmentItem {
	query, err := e.LLM.GenerateText(ctx, rewritePrompt+"\n\nPerspective: "+p.Text)
	if err != nil || strings.TrimSpace(query) == "" {
		e.logf("query rewrite failed for %q: %v", p.Viewpoint, err)
		query = p.Text
	}
	query = strings.TrimSpace(strings.Trim(strings.TrimSpace(query), `"`))

	results, err := e.Searcher.Search(ctx, query)
	if err != nil {
		e.logf("search failed for %q: %v", p.Viewpoint, err)
		return nil
	}
	if len(results) > e.Config.MaxLinksPerPerspective {
		results = results[:e.Config.MaxLinksPerPerspective]
	}

	parallel := e.Config.CandidateParallelism
	if parallel <= 0 {
		parallel = 1
	}
	sem := make(chan struct{}, parallel)

	var (
		mu    sync.Mutex
		items []types.EnrichmentItem
		wg    sync.WaitGroup
	)
	for i, r := range results {
		if i > 0 && e.Config.RequestDelay > 0 {
			select {
			case <-time.After(e.Config.RequestDelay):
			case <-ctx.Done():
			}
		}
		// Stop fanning out once the session is cancelled.
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(r capability.SearchResult) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			item, ok := e.scoreCandidate(ctx, p, r)
			if !ok {
				return
			}
			mu.Lock()
			items = append(items, item)
			mu.Unlock()
		}(r)
	}
	wg.Wait()
	return items
}

// scoreCandidate vets one search hit: relevance gate, page extraction, then
// trust scoring. Returns false when the candidate is dropped.
func (e *Enrich) scoreCandidate(ctx context.Context, p types.Perspective, r capability.SearchResult) (types.EnrichmentItem, bool) {
	raw, err := e.LLM.GenerateJSON(ctx, relevancePrompt, map[string]any{
		"perspective": p.Text,
		"title":       r.Title,
		"snippet":     r.Snippet,
		"url":         r.URL,
	})
	if err != nil {
		e.logf("relevance call failed for %s: %v", r.URL, err)
		return types.EnrichmentItem{}, false
	}
	var rel struct {
		Relevance float64 `json:"relevance"`
	}
	if err := json.Unmarshal(raw, &rel); err != nil || rel.Relevance < e.Config.RelevanceThreshold {
		return types.EnrichmentItem{}, false
	}

	page, err := e.Extractor.Extract(ctx, r.URL)
	if err != nil {
		e.logf("extraction dropped %s: %v", r.URL, err)
		return types.EnrichmentItem{}, false
	}

	excerpt := page.Text
	if len(excerpt) > 1500 {
		excerpt = excerpt[:1500]
	}
	raw, err = e.LLM.GenerateJSON(ctx, trustPrompt, map[string]any{
		"perspective": p.Text,
		"url":         r.URL,
		"title":       page.Title,
		"content":     excerpt,
	})
	if err != nil {
		e.logf("trust call failed for %s: %v", r.URL, err)
		return types.EnrichmentItem{}, false
	}
	var trust struct {
		TrustScore float64 `json:"trust_score"`
		SourceType string  `json:"source_type"`
	}
	if err := json.Unmarshal(raw, &trust); err != nil {
		return types.EnrichmentItem{}, false
	}
	if trust.TrustScore < 0 {
		trust.TrustScore = 0
	}
	if trust.TrustScore > 1 {
		trust.TrustScore = 1
	}
	if trust.SourceType == "" {
		trust.SourceType = "unknown"
	}

	title := page.Title
	if title == "" {
		title = r.Title
	}
	return types.EnrichmentItem{
		Category:        types.CampOf(p),
		PerspectiveText: p.Text,
		URL:             r.URL,
		Title:           title,
		Snippet:         r.Snippet,
		TrustScore:      trust.TrustScore,
		SourceType:      trust.SourceType,
		Excerpt:         excerpt,
	}, true
}

func (e *Enrich) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf("[enrich] "+format, args...)
	}
}
