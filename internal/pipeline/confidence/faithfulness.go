// internal/pipeline/confidence/faithfulness.go
package confidence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tax-concierge/internal/common/logger"
	"tax-concierge/internal/common/metrics"
	"tax-concierge/internal/common/validation"
	"tax-concierge/internal/llm"
	"tax-concierge/internal/models"
	"tax-concierge/internal/store"
)

const judgePrompt = `You are a fact-checking judge. Given an answer and the source passages it was generated from, rate how faithful the answer is to the sources.

faithfulness = fraction of the answer's factual claims that are directly supported by the passages. 1.0 means every claim is supported; 0.0 means none are.

Respond with JSON only: {"faithfulness": 0..1, "unsupported_claims": [string]}`

// Evaluation is one queued faithfulness check.
type Evaluation struct {
	MessageID      string
	Answer         string
	SelfConfidence float64
	Chunks         []models.DocumentChunk
}

// FaithfulnessJudge scores answers against their retrieved context on a
// background queue, after the response has already been returned. It is
// fire-and-forget: enqueueing never blocks, a full queue drops the task, and
// failures are logged but never surfaced.
type FaithfulnessJudge struct {
	client        llm.CompletionClient
	conversations store.ConversationStore
	scorer        *Scorer
	timeout       time.Duration
	queue         chan Evaluation
	done          chan struct{}
	logger        logger.Logger
}

func NewFaithfulnessJudge(
	client llm.CompletionClient,
	conversations store.ConversationStore,
	scorer *Scorer,
	timeout time.Duration,
	queueSize int,
	log logger.Logger,
) *FaithfulnessJudge {
	return &FaithfulnessJudge{
		client:        client,
		conversations: conversations,
		scorer:        scorer,
		timeout:       timeout,
		queue:         make(chan Evaluation, queueSize),
		done:          make(chan struct{}),
		logger:        log.WithFields(map[string]interface{}{"stage": "faithfulness"}),
	}
}

// Start launches the worker goroutine. Call once at boot.
func (j *FaithfulnessJudge) Start() {
	go func() {
		defer close(j.done)
		for eval := range j.queue {
			j.process(eval)
			metrics.FaithfulnessQueueDepth.Set(float64(len(j.queue)))
		}
	}()
}

// Stop drains the queue and waits for the worker to finish.
func (j *FaithfulnessJudge) Stop() {
	close(j.queue)
	<-j.done
}

// Enqueue submits an evaluation without blocking. Dropped when full.
func (j *FaithfulnessJudge) Enqueue(eval Evaluation) {
	select {
	case j.queue <- eval:
		metrics.FaithfulnessQueueDepth.Set(float64(len(j.queue)))
	default:
		j.logger.Warn("faithfulness queue full, dropping evaluation", map[string]interface{}{
			"messageId": eval.MessageID,
		})
	}
}

func (j *FaithfulnessJudge) process(eval Evaluation) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	faithfulness, err := j.judge(ctx, eval)
	if err != nil {
		j.logger.Warn("faithfulness judgment failed", map[string]interface{}{
			"messageId": eval.MessageID,
			"error":     err.Error(),
		})
		return
	}

	deferred := j.scorer.Deferred(eval.Chunks, eval.Answer, eval.SelfConfidence, faithfulness)

	if err := j.conversations.RecordFaithfulness(ctx, eval.MessageID, faithfulness, deferred.Value); err != nil {
		j.logger.Warn("failed to record faithfulness audit", map[string]interface{}{
			"messageId": eval.MessageID,
			"error":     err.Error(),
		})
		return
	}

	j.logger.Info("faithfulness recorded", map[string]interface{}{
		"messageId":    eval.MessageID,
		"faithfulness": faithfulness,
		"deferred":     deferred.Value,
	})
}

func (j *FaithfulnessJudge) judge(ctx context.Context, eval Evaluation) (float64, error) {
	var sb strings.Builder
	sb.WriteString("Answer:\n")
	sb.WriteString(eval.Answer)
	sb.WriteString("\n\nSource passages:\n")
	for i, chunk := range eval.Chunks {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, chunk.Content)
	}

	raw, err := j.client.Complete(ctx, llm.CompletionRequest{
		System:     judgePrompt,
		Messages:   []llm.Message{{Role: "user", Content: sb.String()}},
		Structured: true,
	})
	if err != nil {
		return 0, err
	}

	payload, err := llm.DecodeJudgment(raw)
	if err != nil {
		return 0, fmt.Errorf("decode judgment: %w", err)
	}
	if err := validation.ValidateJudgment(validation.FaithfulnessJudgmentSchema, payload); err != nil {
		return 0, err
	}

	return payload["faithfulness"].(float64), nil
}
