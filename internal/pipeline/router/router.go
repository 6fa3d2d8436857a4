// internal/pipeline/router/router.go
package router

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"tax-concierge/internal/common/logger"
	"tax-concierge/internal/common/metrics"
	"tax-concierge/internal/common/validation"
	"tax-concierge/internal/llm"
	"tax-concierge/internal/models"
)

const systemPrompt = `You are a routing assistant for a tax and bookkeeping advice service.
Score the user's question on three axes from 1 (trivial) to 5 (extreme):
- technical_complexity: how much specialist tax knowledge a correct answer needs
- urgency: how time-sensitive the situation is
- risk_exposure: how costly a wrong answer would be for the user

Also classify the intent as one of: simple_tax, complex_tax, urgent, bookkeeping, general.

Worked example:
Q: "I got an IRS audit notice for my crypto staking income across three states, deadline is Friday"
-> {"intent": "urgent", "technical_complexity": 5, "urgency": 5, "risk_exposure": 5, "reasoning": "audit response with multi-state crypto income needs a specialist immediately"}

Q: "What is the standard deduction for 2024?"
-> {"intent": "simple_tax", "technical_complexity": 1, "urgency": 1, "risk_exposure": 1, "reasoning": "single factual lookup"}

Respond with JSON only.`

var whitespaceRe = regexp.MustCompile(`\s+`)

// Router assigns each query an intent, a complexity score, and a route.
// LLM judgment first, keyword classification when the provider chain is
// exhausted, and a fixed default when even that is unavailable.
type Router struct {
	client  llm.CompletionClient
	cache   *decisionCache
	timeout time.Duration
	logger  logger.Logger
}

func New(client llm.CompletionClient, cacheCapacity int, timeout time.Duration, log logger.Logger) *Router {
	return &Router{
		client:  client,
		cache:   newDecisionCache(cacheCapacity),
		timeout: timeout,
		logger:  log.WithFields(map[string]interface{}{"stage": "router"}),
	}
}

// Normalize collapses whitespace and restores the "std" abbreviation users
// habitually type for "standard".
func Normalize(query string) string {
	normalized := whitespaceRe.ReplaceAllString(strings.TrimSpace(query), " ")
	normalized = strings.ReplaceAll(normalized, " std ", " standard ")
	if strings.HasPrefix(normalized, "std ") {
		normalized = "standard " + normalized[4:]
	}
	return normalized
}

func (r *Router) Route(ctx context.Context, query string) models.RoutingDecision {
	normalized := Normalize(query)
	cacheKey := strings.ToLower(normalized)

	if decision, ok := r.cache.get(cacheKey); ok {
		return decision
	}

	decision := r.decide(ctx, normalized)

	// Only successful judgments are cached. A degraded fallback route must
	// not outlive the provider outage that produced it.
	if decision.Method == models.MethodLLM {
		r.cache.put(cacheKey, decision)
	}

	metrics.QueriesProcessed.WithLabelValues(decision.Route, decision.Method).Inc()
	return decision
}

func (r *Router) decide(ctx context.Context, query string) models.RoutingDecision {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	decision, err := r.judgeLLM(ctx, query)
	if err == nil {
		return decision
	}

	r.logger.Warn("LLM routing unavailable, using keyword classifier", map[string]interface{}{
		"error": err.Error(),
	})
	return keywordDecision(query)
}

func (r *Router) judgeLLM(ctx context.Context, query string) (models.RoutingDecision, error) {
	raw, err := r.client.Complete(ctx, llm.CompletionRequest{
		System:     systemPrompt,
		Messages:   []llm.Message{{Role: "user", Content: query}},
		Structured: true,
	})
	if err != nil {
		return models.RoutingDecision{}, err
	}

	payload, err := llm.DecodeJudgment(raw)
	if err != nil {
		return models.RoutingDecision{}, fmt.Errorf("decode judgment: %w", err)
	}
	if err := validation.ValidateJudgment(validation.RoutingJudgmentSchema, payload); err != nil {
		return models.RoutingDecision{}, err
	}

	decision := models.RoutingDecision{
		Intent:              payload["intent"].(string),
		TechnicalComplexity: intFrom(payload["technical_complexity"]),
		Urgency:             intFrom(payload["urgency"]),
		RiskExposure:        intFrom(payload["risk_exposure"]),
		Confidence:          0.9,
		Method:              models.MethodLLM,
	}
	if reasoning, ok := payload["reasoning"].(string); ok {
		decision.Reasoning = reasoning
	}

	// Complexity is the worst axis, never an average: one severe dimension
	// is enough to demand careful handling.
	decision.ComplexityScore = maxOf(decision.TechnicalComplexity, decision.Urgency, decision.RiskExposure)

	decision.Route = models.RouteAI
	if decision.TechnicalComplexity >= 4 || decision.Urgency >= 4 || decision.RiskExposure >= 4 {
		decision.Route = models.RouteHuman
	}

	return decision, nil
}

// DefaultDecision is the last-resort route used when no classifier at all is
// available.
func DefaultDecision() models.RoutingDecision {
	return models.RoutingDecision{
		Intent:              models.IntentGeneral,
		TechnicalComplexity: 2,
		Urgency:             2,
		RiskExposure:        2,
		ComplexityScore:     2,
		Route:               models.RouteAI,
		Confidence:          0.5,
		Method:              models.MethodDefault,
	}
}

func intFrom(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func maxOf(values ...int) int {
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}
