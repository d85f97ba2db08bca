package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// ErrExtractionFailed marks a single page that could not be fetched or parsed.
// Enrichment absorbs it per candidate; it never aborts a perspective.
var ErrExtractionFailed = errors.New("extraction failed")

// Page is the readable content pulled from one URL.
type Page struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	URL   string `json:"url"`
}

// Extractor fetches a URL and returns its readable text.
type Extractor interface {
	Extract(ctx context.Context, pageURL string) (Page, error)
}

// HTTPExtractor fetches pages over plain HTTP and strips boilerplate with the
// x/net/html tokenizer.
type HTTPExtractor struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
}

func NewHTTPExtractor(timeout time.Duration) *HTTPExtractor {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &HTTPExtractor{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  "Veracity-Verifier/1.0",
		maxBytes:   2 << 20,
	}
}

func (e *HTTPExtractor) Extract(ctx context.Context, pageURL string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("%w: fetch %s: %v", ErrExtractionFailed, pageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("%w: fetch %s: status %d", ErrExtractionFailed, pageURL, resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "text") {
		return Page{}, fmt.Errorf("%w: %s: unsupported content type %q", ErrExtractionFailed, pageURL, ct)
	}

	title, text, err := readableText(io.LimitReader(resp.Body, e.maxBytes))
	if err != nil {
		return Page{}, fmt.Errorf("%w: parse %s: %v", ErrExtractionFailed, pageURL, err)
	}
	if strings.TrimSpace(text) == "" {
		return Page{}, fmt.Errorf("%w: %s: no readable text", ErrExtractionFailed, pageURL)
	}
	return Page{Title: title, Text: text, URL: pageURL}, nil
}

// readableText walks the HTML token stream collecting visible text, skipping
// script/style/nav subtrees.
func readableText(r io.Reader) (title, text string, err error) {
	z := html.NewTokenizer(r)
	var (
		sb        strings.Builder
		skipDepth int
		inTitle   bool
	)
	skippable := map[string]bool{
		"script": true, "style": true, "noscript": true,
		"nav": true, "header": true, "footer": true, "aside": true,
		"iframe": true, "svg": true, "form": true,
	}
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return title, strings.TrimSpace(sb.String()), nil
			}
			return title, strings.TrimSpace(sb.String()), z.Err()
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippable[tag] {
				skipDepth++
			}
			if tag == "title" {
				inTitle = true
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippable[tag] && skipDepth > 0 {
				skipDepth--
			}
			if tag == "title" {
				inTitle = false
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			t := strings.TrimSpace(string(z.Text()))
			if t == "" {
				continue
			}
			if inTitle {
				if title == "" {
					title = t
				}
				continue
			}
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(t)
		}
	}
}
