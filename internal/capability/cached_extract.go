package capability

import (
	"context"
	"time"

	"veracity/internal/cache"
)

// CachedExtractor wraps an Extractor with an in-memory LRU so pages cited by
// multiple perspectives (or multiple sessions) are fetched once. Failures are
// not cached; a flaky page gets another chance on the next request.
type CachedExtractor struct {
	next  Extractor
	pages *cache.LRUTTL[string, Page]
}

func NewCachedExtractor(next Extractor, maxEntries int, ttl time.Duration) *CachedExtractor {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CachedExtractor{
		next:  next,
		pages: cache.NewLRUTTL[string, Page](maxEntries, 32<<20, ttl),
	}
}

func (c *CachedExtractor) Extract(ctx context.Context, pageURL string) (Page, error) {
	if page, ok := c.pages.Get(pageURL); ok {
		return page, nil
	}
	page, err := c.next.Extract(ctx, pageURL)
	if err != nil {
		return Page{}, err
	}
	c.pages.Set(pageURL, page, len(page.Text)+len(page.Title))
	return page, nil
}
