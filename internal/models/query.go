// internal/models/query.go
package models

// Query is the immutable pipeline input. A zero ConversationID means a new
// conversation is started for the caller.
type Query struct {
	Text           string `json:"text"`
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Intent labels assigned by the router.
const (
	IntentSimpleTax      = "simple_tax"
	IntentComplexTax     = "complex_tax"
	IntentUrgent         = "urgent"
	IntentBookkeeping    = "bookkeeping"
	IntentGeneral        = "general"
	IntentDisambiguation = "disambiguation"
)

// Route targets.
const (
	RouteAI            = "ai"
	RouteHuman         = "human"
	RouteClarification = "clarification"
)

// Decision methods, recorded so callers can tell a model judgment from a
// degraded fallback.
const (
	MethodLLM             = "llm"
	MethodKeywordFallback = "keyword_fallback"
	MethodDefault         = "default"
)

// AmbiguityVerdict is the disambiguation gate's judgment on a query.
type AmbiguityVerdict struct {
	IsAmbiguous           bool     `json:"isAmbiguous"`
	MissingInfo           []string `json:"missingInfo,omitempty"`
	ClarificationQuestion string   `json:"clarificationQuestion,omitempty"`
	Confidence            float64  `json:"confidence"`
}

// RoutingDecision carries the three scored axes plus the derived route.
// ComplexityScore is always the maximum of the axes, never an average.
type RoutingDecision struct {
	Intent              string  `json:"intent"`
	TechnicalComplexity int     `json:"technicalComplexity"`
	Urgency             int     `json:"urgency"`
	RiskExposure        int     `json:"riskExposure"`
	ComplexityScore     int     `json:"complexityScore"`
	Route               string  `json:"route"`
	Confidence          float64 `json:"confidence"`
	Reasoning           string  `json:"reasoning,omitempty"`
	Method              string  `json:"method"`
}

// Message is one stored conversation turn.
type Message struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversationId"`
	Role           string                 `json:"role"`
	Content        string                 `json:"content"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Response is the orchestrator's answer envelope.
type Response struct {
	Intent          string       `json:"intent"`
	ComplexityScore int          `json:"complexityScore"`
	RouteDecision   string       `json:"routeDecision"`
	Response        string       `json:"response"`
	Confidence      float64      `json:"confidence"`
	Expert          *ExpertMatch `json:"expert,omitempty"`
	Sources         []SourceRef  `json:"sources,omitempty"`
	Reasoning       string       `json:"reasoning,omitempty"`
	ConversationID  string       `json:"conversationId"`
}

// SourceRef is a numbered citation handed back with the answer.
type SourceRef struct {
	Ordinal int    `json:"ordinal"`
	Title   string `json:"title"`
	Source  string `json:"source"`
}
