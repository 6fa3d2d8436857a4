// internal/pipeline/gate/gate.go
package gate

import (
	"context"
	"time"

	"tax-concierge/internal/common/logger"
	"tax-concierge/internal/common/validation"
	"tax-concierge/internal/llm"
	"tax-concierge/internal/models"
)

const systemPrompt = `You are a triage assistant for a tax and bookkeeping advice service.
Decide whether the user's question can be answered as asked, or whether essential information is missing.

Prefer answering: if the question is answerable in general terms, it is NOT ambiguous. Only flag a question when an answer would be misleading without a specific missing fact.

Examples:
Q: "What is the standard deduction?"
-> {"is_ambiguous": false, "confidence": 0.9}
Q: "How much tax do I owe?"
-> {"is_ambiguous": true, "confidence": 0.85, "clarifying_question": "Could you share your filing status and approximate income so I can give a useful estimate?", "reason": "owed tax depends on income, filing status, and withholding"}
Q: "Can I deduct my home office?"
-> {"is_ambiguous": false, "confidence": 0.8}

Respond with JSON only: {"is_ambiguous": bool, "confidence": 0..1, "clarifying_question": string, "reason": string}`

// Gate decides whether a query needs clarification before the pipeline
// commits to an answer. Any failure falls open to "not ambiguous" so the
// gate can never block a query on its own.
type Gate struct {
	client  llm.CompletionClient
	timeout time.Duration
	logger  logger.Logger
}

func New(client llm.CompletionClient, timeout time.Duration, log logger.Logger) *Gate {
	return &Gate{
		client:  client,
		timeout: timeout,
		logger:  log.WithFields(map[string]interface{}{"stage": "gate"}),
	}
}

func (g *Gate) Check(ctx context.Context, query string) models.AmbiguityVerdict {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.client.Complete(ctx, llm.CompletionRequest{
		System:     systemPrompt,
		Messages:   []llm.Message{{Role: "user", Content: query}},
		Structured: true,
	})
	if err != nil {
		g.logger.Warn("ambiguity check failed, treating query as clear", map[string]interface{}{
			"error": err.Error(),
		})
		return failOpenVerdict()
	}

	payload, err := llm.DecodeJudgment(raw)
	if err != nil {
		g.logger.Warn("malformed ambiguity judgment", map[string]interface{}{"error": err.Error()})
		return failOpenVerdict()
	}
	if err := validation.ValidateJudgment(validation.AmbiguityJudgmentSchema, payload); err != nil {
		g.logger.Warn("ambiguity judgment failed schema validation", map[string]interface{}{
			"error": err.Error(),
		})
		return failOpenVerdict()
	}

	verdict := models.AmbiguityVerdict{
		IsAmbiguous: payload["is_ambiguous"].(bool),
		Confidence:  payload["confidence"].(float64),
	}
	if q, ok := payload["clarifying_question"].(string); ok {
		verdict.ClarificationQuestion = q
	}
	if reason, ok := payload["reason"].(string); ok && reason != "" {
		verdict.MissingInfo = []string{reason}
	}

	return verdict
}

func failOpenVerdict() models.AmbiguityVerdict {
	return models.AmbiguityVerdict{IsAmbiguous: false, Confidence: 0.5}
}
