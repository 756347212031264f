package hasher

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"taskweaver/internal/metrics"
)

type onceResult struct {
	value HashResult
	err   error
}

// onceCache computes each key at most once. A key is either in flight, in
// which case later callers wait on the same computation, or resolved, in
// which case the stored result is returned immediately. Errors are stored
// like values.
type onceCache struct {
	name    string
	metrics *metrics.Recorder

	group    singleflight.Group
	mu       sync.Mutex
	resolved map[string]onceResult
}

func newOnceCache(name string, m *metrics.Recorder) *onceCache {
	return &onceCache{name: name, metrics: m, resolved: make(map[string]onceResult)}
}

func (c *onceCache) lookup(key string) (onceResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.resolved[key]
	return r, ok
}

// Get returns the result for key, running compute only if no other caller
// has run or is running it.
func (c *onceCache) Get(key string, compute func() (HashResult, error)) (HashResult, error) {
	if r, ok := c.lookup(key); ok {
		c.metrics.MemoLookup(c.name, true)
		return r.value, r.err
	}

	computed := false
	v, _, _ := c.group.Do(key, func() (any, error) {
		// A computation may have resolved between lookup and Do.
		if r, ok := c.lookup(key); ok {
			return r, nil
		}
		computed = true
		value, err := compute()
		r := onceResult{value: value, err: err}
		c.mu.Lock()
		c.resolved[key] = r
		c.mu.Unlock()
		return r, nil
	})
	c.metrics.MemoLookup(c.name, !computed)
	r := v.(onceResult)
	return r.value, r.err
}

// Len returns the number of resolved keys.
func (c *onceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resolved)
}
