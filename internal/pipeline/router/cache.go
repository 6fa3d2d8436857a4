// internal/pipeline/router/cache.go
package router

import (
	"sync"

	"tax-concierge/internal/models"
)

// decisionCache is a fixed-capacity FIFO cache of routing decisions keyed by
// normalized query text. Misses recompute; concurrent misses for the same
// key may both do the work, which is harmless because routing is idempotent.
type decisionCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]models.RoutingDecision
	order    []string
}

func newDecisionCache(capacity int) *decisionCache {
	if capacity < 1 {
		capacity = 1
	}
	return &decisionCache{
		capacity: capacity,
		entries:  make(map[string]models.RoutingDecision, capacity),
		order:    make([]string, 0, capacity),
	}
}

func (c *decisionCache) get(key string) (models.RoutingDecision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	decision, ok := c.entries[key]
	return decision, ok
}

func (c *decisionCache) put(key string, decision models.RoutingDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = decision
		return
	}

	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = decision
	c.order = append(c.order, key)
}

func (c *decisionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
