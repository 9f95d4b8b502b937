package scoring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is used when NewCachingScorer is given a non-positive size.
const DefaultCacheSize = 128

// CacheRecorder observes cache lookups. *metrics.Metrics implements it.
type CacheRecorder interface {
	ScoreCacheLookup(hit bool)
}

// CachingScorer wraps a Scorer with an LRU of reports keyed by the SHA-256
// of the content. Failed scores are not cached.
type CachingScorer struct {
	delegate Scorer
	cache    *lru.Cache[string, Report]
	recorder CacheRecorder
}

// NewCachingScorer wraps delegate. recorder may be nil.
func NewCachingScorer(delegate Scorer, size int, recorder CacheRecorder) (*CachingScorer, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, Report](size)
	if err != nil {
		return nil, err
	}
	return &CachingScorer{delegate: delegate, cache: cache, recorder: recorder}, nil
}

// Score returns a cached report for identical content or delegates.
func (c *CachingScorer) Score(ctx context.Context, content string) (Report, error) {
	key := contentKey(content)
	if report, ok := c.cache.Get(key); ok {
		c.record(true)
		return report, nil
	}
	c.record(false)

	report, err := c.delegate.Score(ctx, content)
	if err != nil {
		return Report{}, err
	}
	report, _ = Normalize(report)
	c.cache.Add(key, report)
	return report, nil
}

// Len returns the number of cached reports.
func (c *CachingScorer) Len() int {
	return c.cache.Len()
}

// Purge drops every cached report.
func (c *CachingScorer) Purge() {
	c.cache.Purge()
}

func (c *CachingScorer) record(hit bool) {
	if c.recorder != nil {
		c.recorder.ScoreCacheLookup(hit)
	}
}

func contentKey(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
