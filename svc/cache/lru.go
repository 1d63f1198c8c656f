// Package cache holds immutable entry content in front of a slower store.
// Liveness and view counts are never cached.
package cache

import (
	"errors"
	"sharebin/metrics"
	"sharebin/pkg/domain"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultMaxItemBytes = 1 << 20

type LRU struct {
	c            *lru.Cache[string, item]
	maxItemBytes int
}
type item struct {
	createdAt time.Time
	content   domain.Content
}

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 100000 {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, item](size)
	if err != nil {
		return nil, err
	}
	return &LRU{c: c, maxItemBytes: DefaultMaxItemBytes}, nil
}

// Get returns the cached content for id if it was stored for the entry
// created at createdAt. A different creation time means the id was reused.
func (l *LRU) Get(id string, createdAt time.Time) (domain.Content, bool) {
	it, ok := l.c.Get(id)
	if !ok || !it.createdAt.Equal(createdAt) {
		metrics.CacheMisses.Inc()
		return domain.Content{}, false
	}
	metrics.CacheHits.Inc()
	return it.content, true
}

// Set caches content unless its payload exceeds the per-item limit.
func (l *LRU) Set(id string, createdAt time.Time, c domain.Content) {
	if len(c.Data)+len(c.Text) > l.maxItemBytes {
		return
	}
	l.c.Add(id, item{createdAt: createdAt, content: c})
}
func (l *LRU) Delete(id string) {
	l.c.Remove(id)
}
func (l *LRU) Len() int {
	return l.c.Len()
}
