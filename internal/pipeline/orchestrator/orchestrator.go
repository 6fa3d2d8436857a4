// internal/pipeline/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tax-concierge/internal/common/config"
	"tax-concierge/internal/common/logger"
	"tax-concierge/internal/common/metrics"
	"tax-concierge/internal/common/observability"
	"tax-concierge/internal/llm"
	"tax-concierge/internal/models"
	"tax-concierge/internal/pipeline/confidence"
	"tax-concierge/internal/pipeline/expand"
	"tax-concierge/internal/pipeline/experts"
	"tax-concierge/internal/pipeline/gate"
	"tax-concierge/internal/pipeline/rerank"
	"tax-concierge/internal/pipeline/retriever"
	"tax-concierge/internal/pipeline/router"
	"tax-concierge/internal/store"
)

const (
	historyLimit = 6

	// Deadline for the detached expert alert; it must not inherit the
	// request context.
	notifyTimeout = 10 * time.Second

	// Self-reported model confidence is a fixed prior until providers
	// expose a usable logprob-derived signal.
	defaultSelfConfidence = 0.7

	noEvidenceAnswer = "I don't have enough information in my knowledge base to answer this question confidently. Let me connect you with an expert who can provide personalized guidance."
	degradedAnswer   = "I'm having trouble providing a complete answer right now. Let me connect you with an expert who can help."
)

// Notifier is the escalation alert hook. Optional.
type Notifier interface {
	NotifyExpert(ctx context.Context, expert models.ExpertProfile, queryText string, urgent bool)
}

// Orchestrator sequences the pipeline per query and applies the escalation
// policy. It never returns an error to its caller: every failure mode
// degrades to some well-formed response.
type Orchestrator struct {
	gate          *gate.Gate
	router        *router.Router
	retriever     *retriever.Retriever
	reranker      *rerank.Reranker
	expander      *expand.Expander
	scorer        *confidence.Scorer
	judge         *confidence.FaithfulnessJudge
	matcher       *experts.Matcher
	expertStore   store.ExpertStore
	conversations store.ConversationStore
	completion    llm.CompletionClient
	notifier      Notifier
	cfg           *config.Config
	obs           *observability.Observability
	logger        logger.Logger
}

type Deps struct {
	Gate          *gate.Gate
	Router        *router.Router
	Retriever     *retriever.Retriever
	Reranker      *rerank.Reranker
	Expander      *expand.Expander
	Scorer        *confidence.Scorer
	Judge         *confidence.FaithfulnessJudge
	Matcher       *experts.Matcher
	ExpertStore   store.ExpertStore
	Conversations store.ConversationStore
	Completion    llm.CompletionClient
	Notifier      Notifier
	Config        *config.Config
	Observability *observability.Observability
	Logger        logger.Logger
}

func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		gate:          deps.Gate,
		router:        deps.Router,
		retriever:     deps.Retriever,
		reranker:      deps.Reranker,
		expander:      deps.Expander,
		scorer:        deps.Scorer,
		judge:         deps.Judge,
		matcher:       deps.Matcher,
		expertStore:   deps.ExpertStore,
		conversations: deps.Conversations,
		completion:    deps.Completion,
		notifier:      deps.Notifier,
		cfg:           deps.Config,
		obs:           deps.Observability,
		logger:        deps.Logger.WithFields(map[string]interface{}{"stage": "orchestrator"}),
	}
}

// AnswerQuery is the sole boundary operation the web layer invokes.
func (o *Orchestrator) AnswerQuery(ctx context.Context, queryText, userID, conversationID string) models.Response {
	start := time.Now()

	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	normalized := router.Normalize(queryText)

	history := o.fetchHistory(ctx, conversationID)
	standalone := o.contextualize(ctx, normalized, history)

	gateStart := time.Now()
	verdict := o.gate.Check(ctx, standalone)
	observeStage("gate", gateStart)
	if verdict.IsAmbiguous && verdict.Confidence > o.cfg.Routing.AmbiguityThreshold {
		response := o.clarificationResponse(verdict, conversationID)
		o.persistExchange(ctx, conversationID, queryText, response, nil)
		o.recordQuery(ctx, start, response.RouteDecision)
		return response
	}

	routeStart := time.Now()
	decision := o.route(ctx, standalone)
	observeStage("route", routeStart)

	answer, chunks, answerConfidence := o.generateAnswer(ctx, standalone, queryText, history)

	urgencyDetected := decision.Urgency >= 4
	shouldEscalate := decision.Route == models.RouteHuman ||
		(answerConfidence < o.cfg.Routing.EscalationConfidence && decision.ComplexityScore >= o.cfg.Routing.EscalationComplexity)

	var match *models.ExpertMatch
	if shouldEscalate {
		match = o.matcher.Match(ctx, standalone, decision.Intent, urgencyDetected)
		if match == nil {
			o.logger.Info("no expert available, reverting to automatic answer", map[string]interface{}{
				"conversationId": conversationID,
			})
			shouldEscalate = false
		}
	}

	response := models.Response{
		Intent:          decision.Intent,
		ComplexityScore: decision.ComplexityScore,
		RouteDecision:   models.RouteAI,
		Response:        answer,
		Confidence:      answerConfidence,
		Sources:         buildSources(chunks),
		Reasoning:       decision.Reasoning,
		ConversationID:  conversationID,
	}

	if shouldEscalate {
		response.RouteDecision = models.RouteHuman
		response.Expert = match
		response.Response = fmt.Sprintf("I'll connect you with %s. They'll be with you shortly.", match.Name)
		o.dispatchNotify(match, queryText, urgencyDetected)
	}

	messageID := o.persistExchange(ctx, conversationID, queryText, response, chunks)

	if !shouldEscalate && len(chunks) > 0 && o.judge != nil && messageID != "" {
		o.judge.Enqueue(confidence.Evaluation{
			MessageID:      messageID,
			Answer:         answer,
			SelfConfidence: defaultSelfConfidence,
			Chunks:         chunks,
		})
	}

	if o.obs != nil {
		o.obs.RecordConfidence(ctx, response.Confidence)
	}
	o.recordQuery(ctx, start, response.RouteDecision)

	return response
}

func (o *Orchestrator) route(ctx context.Context, query string) models.RoutingDecision {
	if o.router == nil {
		return router.DefaultDecision()
	}
	return o.router.Route(ctx, query)
}

// generateAnswer runs retrieval, ranking, expansion, and answer generation,
// returning the answer text, the chunks behind it, and the immediate
// confidence score.
func (o *Orchestrator) generateAnswer(ctx context.Context, standalone, original string, history []models.Message) (string, []models.DocumentChunk, float64) {
	retrieveStart := time.Now()
	candidates := o.retriever.Retrieve(ctx, standalone, o.cfg.Retrieval.CandidateK)
	observeStage("retrieve", retrieveStart)
	if len(candidates) == 0 {
		return noEvidenceAnswer, nil, 0.3
	}

	rerankStart := time.Now()
	top := o.reranker.Rerank(ctx, standalone, candidates, o.cfg.Retrieval.FinalK)
	observeStage("rerank", rerankStart)
	expanded := o.expander.Expand(ctx, top, o.cfg.Retrieval.ExpansionWindow)

	contextBlock := buildContext(expanded, o.cfg.Retrieval.MaxContextChars)
	systemPrompt := fmt.Sprintf(answerSystemTemplate, formatHistory(history), contextBlock)

	generateStart := time.Now()
	raw, err := o.completion.Complete(ctx, llm.CompletionRequest{
		System:      systemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: original}},
		Temperature: 0.4,
	})
	observeStage("generate", generateStart)
	if err != nil {
		o.logger.Error("answer generation exhausted all providers", map[string]interface{}{
			"error": err.Error(),
		})
		return degradedAnswer, expanded, 0.2
	}

	answer := cleanCitations(raw)
	score := o.scorer.Immediate(expanded, answer, defaultSelfConfidence)

	return answer, expanded, score.Value
}

func (o *Orchestrator) contextualize(ctx context.Context, query string, history []models.Message) string {
	if len(history) == 0 {
		return query
	}

	userPrompt := fmt.Sprintf("Chat History:\n%s\n\nUser Question: %s", formatHistory(history), query)
	standalone, err := o.completion.Complete(ctx, llm.CompletionRequest{
		System:   contextualizeSystemPrompt,
		Messages: []llm.Message{{Role: "user", Content: userPrompt}},
	})
	if err != nil || strings.TrimSpace(standalone) == "" {
		return query
	}
	return strings.TrimSpace(standalone)
}

func (o *Orchestrator) fetchHistory(ctx context.Context, conversationID string) []models.Message {
	messages, err := o.conversations.FetchRecent(ctx, conversationID, historyLimit)
	if err != nil {
		o.logger.Warn("history fetch failed, continuing without memory", map[string]interface{}{
			"conversationId": conversationID,
			"error":          err.Error(),
		})
		return nil
	}
	return messages
}

func (o *Orchestrator) clarificationResponse(verdict models.AmbiguityVerdict, conversationID string) models.Response {
	reasoning := ""
	if len(verdict.MissingInfo) > 0 {
		reasoning = "Missing: " + strings.Join(verdict.MissingInfo, ", ")
	}

	return models.Response{
		Intent:         models.IntentDisambiguation,
		RouteDecision:  models.RouteClarification,
		Response:       verdict.ClarificationQuestion,
		Confidence:     verdict.Confidence,
		Reasoning:      reasoning,
		ConversationID: conversationID,
	}
}

// persistExchange stores the user turn and the response turn. Failures are
// logged, never fatal. Returns the stored response message ID.
func (o *Orchestrator) persistExchange(ctx context.Context, conversationID, queryText string, response models.Response, chunks []models.DocumentChunk) string {
	if _, err := o.conversations.AppendMessage(ctx, models.Message{
		ConversationID: conversationID,
		Role:           "user",
		Content:        queryText,
	}); err != nil {
		o.logger.Warn("failed to persist user message", map[string]interface{}{"error": err.Error()})
	}

	role := "assistant"
	if response.RouteDecision == models.RouteHuman {
		role = "expert"
	}

	metadata := map[string]interface{}{
		"intent":          response.Intent,
		"complexityScore": response.ComplexityScore,
		"routeDecision":   response.RouteDecision,
		"confidence":      response.Confidence,
	}
	if response.Expert != nil {
		metadata["expertId"] = response.Expert.ExpertID
	}

	messageID, err := o.conversations.AppendMessage(ctx, models.Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        response.Response,
		Metadata:       metadata,
	})
	if err != nil {
		o.logger.Warn("failed to persist response message", map[string]interface{}{"error": err.Error()})
		return ""
	}
	return messageID
}

// dispatchNotify fires the expert alert on its own goroutine with a detached
// deadline, so a slow SES or SNS delivery never delays the escalation
// response.
func (o *Orchestrator) dispatchNotify(match *models.ExpertMatch, queryText string, urgent bool) {
	if o.notifier == nil || o.expertStore == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		o.notifyExpert(ctx, match, queryText, urgent)
	}()
}

// notifyExpert resolves the matched profile and fires the best-effort alert.
func (o *Orchestrator) notifyExpert(ctx context.Context, match *models.ExpertMatch, queryText string, urgent bool) {
	profiles, err := o.expertStore.ListExperts(ctx)
	if err != nil {
		return
	}
	for _, profile := range profiles {
		if profile.ID == match.ExpertID {
			o.notifier.NotifyExpert(ctx, profile, queryText, urgent)
			return
		}
	}
}

func observeStage(stage string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (o *Orchestrator) recordQuery(ctx context.Context, start time.Time, route string) {
	if o.obs == nil {
		return
	}
	o.obs.RecordQueryProcessed(ctx, route)
	o.obs.RecordQueryDuration(ctx, time.Since(start), route)
}
