package temporal

import (
	"fmt"
	"sync"
	"time"

	"github.com/caseflow-xyz/go-caseflow/wfdata"
)

// Projection is a reconstructed workflow state as of a point in time.
type Projection struct {
	WorkflowID string
	AsOf       time.Time
	// NearestEventTime is the timestamp of the last event at or before
	// AsOf; zero when no event qualifies.
	NearestEventTime time.Time
	Tick             uint64
	StateHash        string
	EventsReplayed   int
	State            wfdata.Map
}

// ProjectionCache memoizes time-travel reconstructions keyed by
// workflow id and as-of time. When full, an arbitrary entry is evicted.
// Set maxSize to 0 for an unbounded cache.
type ProjectionCache struct {
	mu        sync.Mutex
	cache     map[string]*Projection
	maxSize   int
	hits      int64
	misses    int64
	evictions int64
}

// NewProjectionCache creates a cache holding at most maxSize entries.
func NewProjectionCache(maxSize int) *ProjectionCache {
	return &ProjectionCache{
		cache:   make(map[string]*Projection),
		maxSize: maxSize,
	}
}

func projectionKey(workflowID string, asOf time.Time) string {
	return fmt.Sprintf("%s|%d", workflowID, asOf.UnixNano())
}

// Get retrieves a cached projection, or nil on a miss.
func (c *ProjectionCache) Get(workflowID string, asOf time.Time) *Projection {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.cache[projectionKey(workflowID, asOf)]; ok {
		c.hits++
		return p
	}
	c.misses++
	return nil
}

// Put stores a projection.
func (c *ProjectionCache) Put(p *Projection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize > 0 && len(c.cache) >= c.maxSize {
		for k := range c.cache {
			delete(c.cache, k)
			c.evictions++
			break
		}
	}
	c.cache[projectionKey(p.WorkflowID, p.AsOf)] = p
}

// InvalidateWorkflow drops every cached projection for one workflow.
// Called after new events are captured, since any as-of reconstruction
// at or past the new events is stale.
func (c *ProjectionCache) InvalidateWorkflow(workflowID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := workflowID + "|"
	dropped := 0
	for k := range c.cache {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.cache, k)
			dropped++
		}
	}
	return dropped
}

// Clear removes all entries.
func (c *ProjectionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*Projection)
}

// Size returns the current number of cached projections.
func (c *ProjectionCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// CacheStats reports hit/miss/eviction counters.
type CacheStats struct {
	Size      int
	MaxSize   int
	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64
}

// Stats returns a snapshot of cache statistics.
func (c *ProjectionCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return CacheStats{
		Size:      len(c.cache),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		HitRate:   hitRate,
	}
}
