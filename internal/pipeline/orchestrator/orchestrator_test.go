// internal/pipeline/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tax-concierge/internal/common/config"
	"tax-concierge/internal/common/logger"
	"tax-concierge/internal/llm"
	"tax-concierge/internal/models"
	"tax-concierge/internal/pipeline/confidence"
	"tax-concierge/internal/pipeline/expand"
	"tax-concierge/internal/pipeline/experts"
	"tax-concierge/internal/pipeline/gate"
	"tax-concierge/internal/pipeline/rerank"
	"tax-concierge/internal/pipeline/retriever"
	"tax-concierge/internal/pipeline/router"
)

type stubCompletion struct {
	response string
	err      error
	calls    int
}

func (s *stubCompletion) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	s.calls++
	return s.response, s.err
}

type fakeDocuments struct {
	chunks       []models.DocumentChunk
	searchCalled bool
}

func (f *fakeDocuments) SearchByText(ctx context.Context, query string, k int, weightHint float64) ([]models.DocumentChunk, error) {
	f.searchCalled = true
	return f.chunks, nil
}

func (f *fakeDocuments) SearchByVector(ctx context.Context, embedding []float32, k int, floor float64) ([]models.DocumentChunk, error) {
	f.searchCalled = true
	return f.chunks, nil
}

func (f *fakeDocuments) FetchRange(ctx context.Context, groupID string, from, to int) ([]models.DocumentChunk, error) {
	return nil, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding unavailable")
}

type fakeConversations struct {
	mu            sync.Mutex
	messages      []models.Message
	faithMsgID    string
	faithValue    float64
	faithDeferred float64
	nextID        int
}

func (f *fakeConversations) AppendMessage(ctx context.Context, msg models.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg.ID = fmt.Sprintf("m%d", f.nextID)
	f.messages = append(f.messages, msg)
	return msg.ID, nil
}

func (f *fakeConversations) FetchRecent(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	return nil, nil
}

func (f *fakeConversations) RecordFaithfulness(ctx context.Context, messageID string, faithfulness, deferredConfidence float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faithMsgID = messageID
	f.faithValue = faithfulness
	f.faithDeferred = deferredConfidence
	return nil
}

func (f *fakeConversations) stored() []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.messages...)
}

type fakeExpertStore struct {
	profiles []models.ExpertProfile
}

func (f *fakeExpertStore) ListExperts(ctx context.Context) ([]models.ExpertProfile, error) {
	return f.profiles, nil
}

// fakeNotifier synchronizes with the detached delivery goroutine: tests wait
// on fired before reading, and block (when set) stalls the delivery.
type fakeNotifier struct {
	mu       sync.Mutex
	notified bool
	expert   models.ExpertProfile
	urgent   bool
	fired    chan struct{}
	block    chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{fired: make(chan struct{}, 1)}
}

func (f *fakeNotifier) NotifyExpert(ctx context.Context, expert models.ExpertProfile, queryText string, urgent bool) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.notified = true
	f.expert = expert
	f.urgent = urgent
	f.mu.Unlock()
	select {
	case f.fired <- struct{}{}:
	default:
	}
}

func (f *fakeNotifier) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.fired:
	case <-time.After(time.Second):
		t.Fatal("expert notification never fired")
	}
}

func (f *fakeNotifier) snapshot() (bool, models.ExpertProfile, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notified, f.expert, f.urgent
}

type pipelineFixture struct {
	orchestrator  *Orchestrator
	docs          *fakeDocuments
	conversations *fakeConversations
	notifier      *fakeNotifier
}

type fixtureOptions struct {
	gateResponse   string
	routerResponse string
	routerErr      error
	answerResponse string
	answerErr      error
	chunks         []models.DocumentChunk
	experts        []models.ExpertProfile
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Retrieval = config.RetrievalConfig{
		CandidateK:      10,
		FinalK:          3,
		RRFConstant:     60,
		MaxContextChars: 8000,
	}
	cfg.Routing = config.RoutingConfig{
		CacheCapacity:        16,
		AmbiguityThreshold:   0.7,
		EscalationConfidence: 0.6,
		EscalationComplexity: 3,
	}
	cfg.Confidence = config.ConfidenceConfig{
		Cap:                0.95,
		RetrievalWeight:    0.7,
		SelfReportWeight:   0.3,
		FaithfulnessWeight: 0.6,
		DeferredRetrieval:  0.3,
		DeferredSelfReport: 0.1,
		CitationBonus:      0.05,
	}
	cfg.Experts = config.ExpertsConfig{UrgencyMultiplier: 1.2}
	return cfg
}

func newFixture(opts fixtureOptions) *pipelineFixture {
	log := logger.NewNop()
	cfg := testConfig()

	docs := &fakeDocuments{chunks: opts.chunks}
	conversations := &fakeConversations{}
	expertStore := &fakeExpertStore{profiles: opts.experts}
	notifier := newFakeNotifier()

	gateClient := &stubCompletion{response: opts.gateResponse}
	if gateClient.response == "" {
		gateClient.response = `{"is_ambiguous": false, "confidence": 0.9}`
	}
	routerClient := &stubCompletion{response: opts.routerResponse, err: opts.routerErr}
	answerClient := &stubCompletion{response: opts.answerResponse, err: opts.answerErr}

	scorer := confidence.NewScorer(cfg.Confidence)

	o := New(Deps{
		Gate:          gate.New(gateClient, time.Second, log),
		Router:        router.New(routerClient, cfg.Routing.CacheCapacity, time.Second, log),
		Retriever:     retriever.New(docs, fakeEmbedder{}, cfg.Retrieval, log),
		Reranker:      rerank.New(cfg, log),
		Expander:      expand.New(docs, log),
		Scorer:        scorer,
		Matcher:       experts.New(expertStore, nil, cfg.Experts.UrgencyMultiplier, log),
		ExpertStore:   expertStore,
		Conversations: conversations,
		Completion:    answerClient,
		Notifier:      notifier,
		Config:        cfg,
		Logger:        log,
	})

	return &pipelineFixture{
		orchestrator:  o,
		docs:          docs,
		conversations: conversations,
		notifier:      notifier,
	}
}

func evidenceChunks(similarity float64) []models.DocumentChunk {
	return []models.DocumentChunk{
		{ID: "c1", Content: "The standard deduction for single filers is $14,600.", Title: "Pub 501", Source: "irs", VectorSimilarity: similarity},
	}
}

const simpleRouting = `{"intent": "simple_tax", "technical_complexity": 1, "urgency": 1, "risk_exposure": 1, "reasoning": "factual lookup"}`

func TestAnswerQuery_AutomaticAnswer(t *testing.T) {
	f := newFixture(fixtureOptions{
		routerResponse: simpleRouting,
		answerResponse: "The standard deduction is $14,600 [1].",
		chunks:         evidenceChunks(0.8),
	})

	resp := f.orchestrator.AnswerQuery(context.Background(), "What is the standard deduction?", "u1", "conv-1")

	assert.Equal(t, models.IntentSimpleTax, resp.Intent)
	assert.Equal(t, models.RouteAI, resp.RouteDecision)
	assert.Equal(t, "The standard deduction is $14,600 [1].", resp.Response)
	// 0.7*0.8 + 0.3*0.7 + 0.05 citation bonus
	assert.InDelta(t, 0.82, resp.Confidence, 1e-9)
	assert.Nil(t, resp.Expert)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "Pub 501", resp.Sources[0].Title)
	assert.Equal(t, "conv-1", resp.ConversationID)

	stored := f.conversations.stored()
	require.Len(t, stored, 2)
	assert.Equal(t, "user", stored[0].Role)
	assert.Equal(t, "assistant", stored[1].Role)
	assert.Equal(t, models.IntentSimpleTax, stored[1].Metadata["intent"])
}

func TestAnswerQuery_GateShortCircuit(t *testing.T) {
	f := newFixture(fixtureOptions{
		gateResponse: `{"is_ambiguous": true, "confidence": 0.85, "clarifying_question": "What is your filing status?", "reason": "owed tax depends on filing status"}`,
		chunks:       evidenceChunks(0.8),
	})

	resp := f.orchestrator.AnswerQuery(context.Background(), "How much tax do I owe?", "u1", "conv-1")

	assert.Equal(t, models.RouteClarification, resp.RouteDecision)
	assert.Equal(t, models.IntentDisambiguation, resp.Intent)
	assert.Equal(t, "What is your filing status?", resp.Response)
	assert.Equal(t, 0.85, resp.Confidence)
	assert.Equal(t, "Missing: owed tax depends on filing status", resp.Reasoning)
	assert.False(t, f.docs.searchCalled, "clarification must not trigger retrieval")

	stored := f.conversations.stored()
	require.Len(t, stored, 2, "the clarification exchange is still persisted")
}

func TestAnswerQuery_LowConfidenceAmbiguityDoesNotShortCircuit(t *testing.T) {
	f := newFixture(fixtureOptions{
		gateResponse:   `{"is_ambiguous": true, "confidence": 0.5, "clarifying_question": "Which year?"}`,
		routerResponse: simpleRouting,
		answerResponse: "Here is the general rule [1].",
		chunks:         evidenceChunks(0.8),
	})

	resp := f.orchestrator.AnswerQuery(context.Background(), "deduction rules", "u1", "conv-1")

	assert.NotEqual(t, models.RouteClarification, resp.RouteDecision)
	assert.True(t, f.docs.searchCalled)
}

func TestAnswerQuery_EscalatesToExpert(t *testing.T) {
	f := newFixture(fixtureOptions{
		routerResponse: `{"intent": "urgent", "technical_complexity": 5, "urgency": 5, "risk_exposure": 5, "reasoning": "audit deadline"}`,
		answerResponse: "You should respond to the notice [1].",
		chunks:         evidenceChunks(0.8),
		experts: []models.ExpertProfile{
			{ID: "e1", Name: "Ada", Specialties: []string{"urgent"}, Availability: true, Rating: 4.8, Email: "ada@example.com"},
		},
	})

	resp := f.orchestrator.AnswerQuery(context.Background(), "IRS audit notice, deadline Friday", "u1", "conv-1")

	assert.Equal(t, models.RouteHuman, resp.RouteDecision)
	require.NotNil(t, resp.Expert)
	assert.Equal(t, "e1", resp.Expert.ExpertID)
	assert.Equal(t, "I'll connect you with Ada. They'll be with you shortly.", resp.Response)

	f.notifier.wait(t)
	notified, expert, urgent := f.notifier.snapshot()
	assert.True(t, notified)
	assert.Equal(t, "ada@example.com", expert.Email)
	assert.True(t, urgent)

	stored := f.conversations.stored()
	require.Len(t, stored, 2)
	assert.Equal(t, "expert", stored[1].Role)
	assert.Equal(t, "e1", stored[1].Metadata["expertId"])
}

func TestAnswerQuery_NoExpertRevertsToAutomaticAnswer(t *testing.T) {
	f := newFixture(fixtureOptions{
		routerResponse: `{"intent": "urgent", "technical_complexity": 5, "urgency": 5, "risk_exposure": 5, "reasoning": "audit deadline"}`,
		answerResponse: "You should respond to the notice [1].",
		chunks:         evidenceChunks(0.8),
	})

	resp := f.orchestrator.AnswerQuery(context.Background(), "IRS audit notice", "u1", "conv-1")

	assert.Equal(t, models.RouteAI, resp.RouteDecision)
	assert.Nil(t, resp.Expert)
	assert.Equal(t, "You should respond to the notice [1].", resp.Response)
	notified, _, _ := f.notifier.snapshot()
	assert.False(t, notified)
}

func TestAnswerQuery_LowConfidenceComplexQueryEscalates(t *testing.T) {
	f := newFixture(fixtureOptions{
		routerResponse: `{"intent": "bookkeeping", "technical_complexity": 3, "urgency": 1, "risk_exposure": 2, "reasoning": "multi-step reconciliation"}`,
		answerResponse: "It depends on several factors.",
		chunks:         evidenceChunks(0.2), // 0.7*0.2 + 0.3*0.7 = 0.35, below the escalation floor
		experts: []models.ExpertProfile{
			{ID: "e1", Name: "Ben", Specialties: []string{"bookkeeping"}, Availability: true, Rating: 4.5},
		},
	})

	resp := f.orchestrator.AnswerQuery(context.Background(), "reconcile my books across entities", "u1", "conv-1")

	assert.Equal(t, models.RouteHuman, resp.RouteDecision)
	require.NotNil(t, resp.Expert)
	assert.Equal(t, "e1", resp.Expert.ExpertID)
	f.notifier.wait(t)
	_, _, urgent := f.notifier.snapshot()
	assert.False(t, urgent, "urgency axis below 4 is not urgent")
}

func TestAnswerQuery_SlowNotifierDoesNotDelayResponse(t *testing.T) {
	f := newFixture(fixtureOptions{
		routerResponse: `{"intent": "urgent", "technical_complexity": 5, "urgency": 5, "risk_exposure": 5, "reasoning": "audit deadline"}`,
		answerResponse: "You should respond to the notice [1].",
		chunks:         evidenceChunks(0.8),
		experts: []models.ExpertProfile{
			{ID: "e1", Name: "Ada", Specialties: []string{"urgent"}, Availability: true, Rating: 4.8, Email: "ada@example.com"},
		},
	})
	f.notifier.block = make(chan struct{})

	resp := f.orchestrator.AnswerQuery(context.Background(), "IRS audit notice, deadline Friday", "u1", "conv-1")

	// The response came back while delivery was still stalled.
	assert.Equal(t, models.RouteHuman, resp.RouteDecision)
	notified, _, _ := f.notifier.snapshot()
	assert.False(t, notified, "delivery had not completed when the response returned")

	close(f.notifier.block)
	f.notifier.wait(t)
	notified, expert, _ := f.notifier.snapshot()
	assert.True(t, notified)
	assert.Equal(t, "ada@example.com", expert.Email)
}

func TestAnswerQuery_NoEvidence(t *testing.T) {
	f := newFixture(fixtureOptions{
		routerResponse: simpleRouting,
		answerResponse: "unused",
	})

	resp := f.orchestrator.AnswerQuery(context.Background(), "something obscure", "u1", "conv-1")

	assert.Equal(t, noEvidenceAnswer, resp.Response)
	assert.Equal(t, 0.3, resp.Confidence)
	assert.Empty(t, resp.Sources)
}

func TestAnswerQuery_AllProvidersDownDegrades(t *testing.T) {
	f := newFixture(fixtureOptions{
		routerResponse: simpleRouting,
		answerErr:      errors.New("providers exhausted"),
		chunks:         evidenceChunks(0.8),
	})

	resp := f.orchestrator.AnswerQuery(context.Background(), "standard deduction", "u1", "conv-1")

	assert.Equal(t, degradedAnswer, resp.Response)
	assert.Equal(t, 0.2, resp.Confidence)
	require.Len(t, resp.Sources, 1, "sources still surface even when generation fails")
}

func TestAnswerQuery_GeneratesConversationID(t *testing.T) {
	f := newFixture(fixtureOptions{
		routerResponse: simpleRouting,
		answerResponse: "answer",
		chunks:         evidenceChunks(0.8),
	})

	resp := f.orchestrator.AnswerQuery(context.Background(), "standard deduction", "u1", "")

	assert.NotEmpty(t, resp.ConversationID)
}

func TestAnswerQuery_FaithfulnessRecordedAfterAnswer(t *testing.T) {
	log := logger.NewNop()
	cfg := testConfig()

	docs := &fakeDocuments{chunks: evidenceChunks(0.8)}
	conversations := &fakeConversations{}
	scorer := confidence.NewScorer(cfg.Confidence)

	judgeClient := &stubCompletion{response: `{"faithfulness": 0.9, "unsupported_claims": []}`}
	judge := confidence.NewFaithfulnessJudge(judgeClient, conversations, scorer, time.Second, 4, log)
	judge.Start()

	o := New(Deps{
		Gate:          gate.New(&stubCompletion{response: `{"is_ambiguous": false, "confidence": 0.9}`}, time.Second, log),
		Router:        router.New(&stubCompletion{response: simpleRouting}, 16, time.Second, log),
		Retriever:     retriever.New(docs, fakeEmbedder{}, cfg.Retrieval, log),
		Reranker:      rerank.New(cfg, log),
		Expander:      expand.New(docs, log),
		Scorer:        scorer,
		Judge:         judge,
		Matcher:       experts.New(&fakeExpertStore{}, nil, 1.2, log),
		ExpertStore:   &fakeExpertStore{},
		Conversations: conversations,
		Completion:    &stubCompletion{response: "The deduction is $14,600 [1]."},
		Config:        cfg,
		Logger:        log,
	})

	o.AnswerQuery(context.Background(), "standard deduction", "u1", "conv-1")
	judge.Stop()

	assert.Equal(t, "m2", conversations.faithMsgID, "audit attaches to the stored assistant message")
	assert.InDelta(t, 0.9, conversations.faithValue, 1e-9)
	assert.Greater(t, conversations.faithDeferred, 0.0)
}

func TestCleanCitations(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "verbose source citation",
			input:    "The limit is $7,000 [Source 2: Pub 590-A].",
			expected: "The limit is $7,000 [2].",
		},
		{
			name:     "titled citation",
			input:    "See the worksheet [3: IRA worksheet].",
			expected: "See the worksheet [3].",
		},
		{
			name:     "references section stripped",
			input:    "The answer is yes [1].\n\nReferences:\n[1] Pub 501",
			expected: "The answer is yes [1].",
		},
		{
			name:     "excess newlines collapsed",
			input:    "First.\n\n\n\nSecond.",
			expected: "First.\n\nSecond.",
		},
		{
			name:     "bare citations untouched",
			input:    "Plain answer [1] with [2].",
			expected: "Plain answer [1] with [2].",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, cleanCitations(tt.input))
		})
	}
}

func TestBuildContext(t *testing.T) {
	score := 0.88
	chunks := []models.DocumentChunk{
		{Title: "Pub 501", Content: "first chunk content", RerankScore: &score, VectorSimilarity: 0.5},
		{Title: "Pub 17", Content: "second chunk content", VectorSimilarity: 0.61},
	}

	block := buildContext(chunks, 8000)

	assert.Contains(t, block, "[Source 1 - Relevance: 0.88]")
	assert.Contains(t, block, "Title: Pub 501")
	assert.Contains(t, block, "[Source 2 - Relevance: 0.61]")
	assert.Contains(t, block, "second chunk content")
}

func TestBuildContext_BudgetStopsLowRankedChunks(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}

	chunks := []models.DocumentChunk{
		{Title: "A", Content: string(long), VectorSimilarity: 0.9},
		{Title: "B", Content: string(long), VectorSimilarity: 0.8},
	}

	block := buildContext(chunks, 700)

	assert.Contains(t, block, "Title: A")
	assert.NotContains(t, block, "Title: B", "no room for a useful second chunk")
}

func TestBuildContext_BudgetCutsOnRuneBoundary(t *testing.T) {
	chunks := []models.DocumentChunk{
		{Title: "A", Content: strings.Repeat("é", 150), VectorSimilarity: 0.9},
	}

	// The header is 38 bytes, so a 239-byte budget leaves 201 bytes for the
	// two-byte runes, landing mid-rune without the boundary back-off.
	block := buildContext(chunks, 239)

	assert.True(t, utf8.ValidString(block))
	assert.True(t, strings.HasSuffix(block, "é"))
}

func TestFormatHistory(t *testing.T) {
	assert.Equal(t, "(none)", formatHistory(nil))

	history := []models.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
	}
	assert.Equal(t, "user: first\nassistant: second", formatHistory(history))
}
