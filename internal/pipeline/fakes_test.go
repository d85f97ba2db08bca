package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"veracity/internal/broadcast"
	"veracity/internal/capability"
	"veracity/internal/llm"
	"veracity/internal/session"
	"veracity/internal/types"
)

// fakeLLM routes prompts to canned responses by substring match. Calls are
// recorded so tests can assert ordering.
type fakeLLM struct {
	mu    sync.Mutex
	calls []string

	jsonResponses map[string]string
	textResponses map[string]string
	failOn        string
	failErr       error
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		jsonResponses: make(map[string]string),
		textResponses: make(map[string]string),
	}
}

func (f *fakeLLM) Name() string { return "fake" }
func (f *fakeLLM) Close() error { return nil }

func (f *fakeLLM) record(prompt string) {
	f.mu.Lock()
	f.calls = append(f.calls, prompt)
	f.mu.Unlock()
}

func (f *fakeLLM) match(prompt string, table map[string]string) (string, bool) {
	for key, resp := range table {
		if strings.Contains(prompt, key) {
			return resp, true
		}
	}
	return "", false
}

func (f *fakeLLM) GenerateJSON(_ context.Context, prompt string, _ any) (json.RawMessage, error) {
	f.record(prompt)
	if f.failOn != "" && strings.Contains(prompt, f.failOn) {
		return nil, f.err()
	}
	if resp, ok := f.match(prompt, f.jsonResponses); ok {
		return json.RawMessage(resp), nil
	}
	return nil, errors.New("fakeLLM: no JSON response for prompt")
}

func (f *fakeLLM) GenerateText(_ context.Context, prompt string) (string, error) {
	f.record(prompt)
	if f.failOn != "" && strings.Contains(prompt, f.failOn) {
		return "", f.err()
	}
	if resp, ok := f.match(prompt, f.textResponses); ok {
		return resp, nil
	}
	return "", errors.New("fakeLLM: no text response for prompt")
}

func (f *fakeLLM) err() error {
	if f.failErr != nil {
		return f.failErr
	}
	return errors.New("fakeLLM: scripted failure")
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var _ llm.Client = (*fakeLLM)(nil)

type fakeSearcher struct {
	results []capability.SearchResult
	err     error
	calls   int
}

func (f *fakeSearcher) Search(_ context.Context, _ string) ([]capability.SearchResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeExtractor struct {
	pages map[string]capability.Page
	err   error
}

func (f *fakeExtractor) Extract(_ context.Context, url string) (capability.Page, error) {
	if f.err != nil {
		return capability.Page{}, f.err
	}
	if page, ok := f.pages[url]; ok {
		return page, nil
	}
	return capability.Page{}, capability.ErrExtractionFailed
}

// testEnv bundles the store and broadcaster every coordinator needs.
type testEnv struct {
	store *session.Store
	bus   *broadcast.Broadcaster
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := session.NewStore(session.Options{TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	bus := broadcast.New(time.Minute)
	t.Cleanup(func() {
		bus.Close()
		store.Close()
	})
	return &testEnv{store: store, bus: bus}
}

func (e *testEnv) newSession(t *testing.T, input types.AnalysisInput, enrichment bool) session.Session {
	t.Helper()
	sess, err := e.store.Create(input, "", enrichment)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return sess
}

// seed commits a stage slot directly, bypassing the coordinator.
func (e *testEnv) seed(t *testing.T, id string, u session.Update) {
	t.Helper()
	sess, err := e.store.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := e.store.Put(id, sess.Generation, u); err != nil {
		t.Fatalf("Put(%s) error = %v", u.Stage, err)
	}
}

func perspectiveSet() *types.PerspectiveSet {
	return &types.PerspectiveSet{
		Topic: "claims about a miracle supplement",
		Perspectives: []types.Perspective{
			{Viewpoint: "strong_support", Bias: -0.8, Significance: 0.9, Text: "Clinical trials back the claim."},
			{Viewpoint: "support", Bias: -0.5, Significance: 0.5, Text: "Some practitioners report benefits."},
			{Viewpoint: "neutral_baseline", Bias: 0.0, Significance: 0.6, Text: "The supplement is widely sold."},
			{Viewpoint: "skeptical", Bias: 0.5, Significance: 0.7, Text: "No peer-reviewed evidence exists."},
			{Viewpoint: "strong_opposition", Bias: 0.8, Significance: 0.8, Text: "Regulators flagged the claims."},
		},
	}
}
