// internal/pipeline/router/cache_test.go
package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tax-concierge/internal/models"
)

func TestDecisionCache_PutAndGet(t *testing.T) {
	cache := newDecisionCache(4)

	decision := models.RoutingDecision{Intent: models.IntentSimpleTax, Confidence: 0.9}
	cache.put("standard deduction", decision)

	got, ok := cache.get("standard deduction")
	assert.True(t, ok)
	assert.Equal(t, decision, got)

	_, ok = cache.get("never stored")
	assert.False(t, ok)
}

func TestDecisionCache_EvictsOldestFirst(t *testing.T) {
	cache := newDecisionCache(2)

	cache.put("first", models.RoutingDecision{Intent: models.IntentGeneral})
	cache.put("second", models.RoutingDecision{Intent: models.IntentGeneral})
	cache.put("third", models.RoutingDecision{Intent: models.IntentGeneral})

	_, ok := cache.get("first")
	assert.False(t, ok, "oldest entry should be evicted")

	_, ok = cache.get("second")
	assert.True(t, ok)
	_, ok = cache.get("third")
	assert.True(t, ok)
	assert.Equal(t, 2, cache.len())
}

func TestDecisionCache_UpdateDoesNotEvict(t *testing.T) {
	cache := newDecisionCache(2)

	cache.put("a", models.RoutingDecision{Confidence: 0.5})
	cache.put("b", models.RoutingDecision{Confidence: 0.5})
	cache.put("a", models.RoutingDecision{Confidence: 0.9})

	got, ok := cache.get("a")
	assert.True(t, ok)
	assert.Equal(t, 0.9, got.Confidence)

	_, ok = cache.get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, cache.len())
}

func TestDecisionCache_NonPositiveCapacityClampsToOne(t *testing.T) {
	for _, capacity := range []int{0, -3} {
		cache := newDecisionCache(capacity)

		cache.put("first", models.RoutingDecision{Confidence: 0.5})
		cache.put("second", models.RoutingDecision{Confidence: 0.9})

		_, ok := cache.get("first")
		assert.False(t, ok)
		got, ok := cache.get("second")
		assert.True(t, ok)
		assert.Equal(t, 0.9, got.Confidence)
		assert.Equal(t, 1, cache.len())
	}
}
