package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"veracity/internal/llm"
)

// ErrCapabilityUnavailable marks an external provider as unreachable after
// the transport gave up. Callers retry with bounded backoff, then surface it.
var ErrCapabilityUnavailable = errors.New("capability unavailable")

// SearchResult is one ranked hit from the search capability.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"link"`
	Snippet string `json:"snippet"`
}

// Searcher issues an external web search and returns a ranked candidate list.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// WebSearcher queries the Custom Search JSON API. All requests pass through
// the shared limiter so the external quota is honored across every session.
type WebSearcher struct {
	httpClient *http.Client
	apiKey     string
	engineID   string
	limiter    llm.Limiter
	maxResults int
}

func NewWebSearcher(apiKey, engineID string, limiter llm.Limiter) *WebSearcher {
	return &WebSearcher{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiKey:     strings.TrimSpace(apiKey),
		engineID:   strings.TrimSpace(engineID),
		limiter:    limiter,
		maxResults: 10,
	}
}

const customSearchEndpoint = "https://www.googleapis.com/customsearch/v1"

func (s *WebSearcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if s.apiKey == "" || s.engineID == "" {
		return nil, fmt.Errorf("search: %w: missing api key or engine id", ErrCapabilityUnavailable)
	}
	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	q := url.Values{}
	q.Set("key", s.apiKey)
	q.Set("cx", s.engineID)
	q.Set("q", query)
	q.Set("num", fmt.Sprintf("%d", s.maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, customSearchEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w: %v", ErrCapabilityUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: %w: status %d", ErrCapabilityUnavailable, resp.StatusCode)
	}

	var body struct {
		Items []SearchResult `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}
	return body.Items, nil
}
