// internal/pipeline/experts/matcher.go
package experts

import (
	"context"
	"math"
	"strings"

	"tax-concierge/internal/common/logger"
	"tax-concierge/internal/llm"
	"tax-concierge/internal/models"
	"tax-concierge/internal/store"
)

const (
	specialtyWeight    = 0.40
	availabilityWeight = 0.30
	performanceWeight  = 0.20
	semanticWeight     = 0.10
)

// Matcher picks the best-fit specialist for an escalated query. A nil result
// means no usable match; the caller reverts to the automatic answer.
type Matcher struct {
	experts           store.ExpertStore
	embedder          llm.Embedder
	urgencyMultiplier float64
	logger            logger.Logger
}

func New(experts store.ExpertStore, embedder llm.Embedder, urgencyMultiplier float64, log logger.Logger) *Matcher {
	return &Matcher{
		experts:           experts,
		embedder:          embedder,
		urgencyMultiplier: urgencyMultiplier,
		logger:            log.WithFields(map[string]interface{}{"stage": "experts"}),
	}
}

func (m *Matcher) Match(ctx context.Context, query, intent string, urgent bool) *models.ExpertMatch {
	profiles, err := m.experts.ListExperts(ctx)
	if err != nil {
		m.logger.Warn("expert listing failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	if len(profiles) == 0 {
		return nil
	}

	// One embedding for the whole candidate set. Absence just zeroes the
	// semantic factor.
	var queryEmbedding []float32
	if m.embedder != nil {
		if emb, err := m.embedder.Embed(ctx, query); err == nil {
			queryEmbedding = emb
		}
	}

	var best *models.ExpertMatch
	for _, profile := range profiles {
		score := m.scoreProfile(profile, intent, queryEmbedding)
		if urgent && profile.Availability {
			score *= m.urgencyMultiplier
		}

		// Strict greater-than keeps ties stable by input order.
		if best == nil || score > best.Score {
			best = &models.ExpertMatch{
				ExpertID: profile.ID,
				Name:     profile.Name,
				Score:    score,
			}
		}
	}

	return best
}

func (m *Matcher) scoreProfile(profile models.ExpertProfile, intent string, queryEmbedding []float32) float64 {
	specialty := specialtyScore(profile.Specialties, intent)

	availability := 0.3
	if profile.Availability {
		availability = 1.0
	}

	performance := profile.Rating / 5.0

	semantic := 0.0
	if queryEmbedding != nil && len(profile.Embedding) > 0 {
		semantic = cosineSimilarity(queryEmbedding, profile.Embedding)
	}

	return specialty*specialtyWeight +
		availability*availabilityWeight +
		performance*performanceWeight +
		semantic*semanticWeight
}

// specialtyScore is tiered: exact specialty match beats fuzzy overlap, and
// tax-adjacent intents get near-full credit from a general tax specialty.
func specialtyScore(specialties []string, intent string) float64 {
	domain := intent
	if idx := strings.LastIndex(intent, "_"); idx >= 0 {
		domain = intent[idx+1:]
	}

	for _, spec := range specialties {
		if spec == domain {
			return 1.0
		}
	}

	for _, spec := range specialties {
		if strings.Contains(spec, domain) || strings.Contains(intent, spec) {
			return 0.7
		}
	}

	if intent == models.IntentBookkeeping {
		for _, spec := range specialties {
			if spec == "bookkeeping" || spec == "quickbooks" {
				return 1.0
			}
		}
	}

	if intent == models.IntentComplexTax || intent == models.IntentSimpleTax {
		for _, spec := range specialties {
			if spec == "tax" {
				return 0.9
			}
		}
	}

	return 0.3
}

func cosineSimilarity(a []float32, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
