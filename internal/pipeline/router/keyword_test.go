// internal/pipeline/router/keyword_test.go
package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tax-concierge/internal/models"
)

func TestClassifyByKeywords(t *testing.T) {
	tests := []struct {
		name               string
		query              string
		expectedIntent     string
		expectedConfidence float64
	}{
		{
			name:               "no match falls back to general",
			query:              "hello there",
			expectedIntent:     models.IntentGeneral,
			expectedConfidence: 0.5,
		},
		{
			name:               "single urgent term",
			query:              "I received an IRS letter",
			expectedIntent:     models.IntentUrgent,
			expectedConfidence: 0.75, // 0.6 + 1*0.15
		},
		{
			name:               "multiple urgent terms cap out",
			query:              "IRS audit notice arrived",
			expectedIntent:     models.IntentUrgent,
			expectedConfidence: 0.95, // 0.6 + 3*0.15 = 1.05, capped (irs, audit, notice)
		},
		{
			name:               "bookkeeping terms",
			query:              "reconcile my QuickBooks invoice",
			expectedIntent:     models.IntentBookkeeping,
			expectedConfidence: 0.95, // 0.6 + 3*0.15 = 1.05, capped
		},
		{
			name:               "complex tax terms",
			query:              "crypto staking capital gains",
			expectedIntent:     models.IntentComplexTax,
			expectedConfidence: 0.95, // 0.6 + 3*0.15, capped
		},
		{
			name:               "simple tax term",
			query:              "when is my refund coming",
			expectedIntent:     models.IntentSimpleTax,
			expectedConfidence: 0.75,
		},
		{
			name:               "tie goes to earlier intent group",
			query:              "IRS refund", // one urgent term, one simple_tax term
			expectedIntent:     models.IntentUrgent,
			expectedConfidence: 0.75,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent, confidence := classifyByKeywords(tt.query)
			assert.Equal(t, tt.expectedIntent, intent)
			assert.InDelta(t, tt.expectedConfidence, confidence, 1e-9)
		})
	}
}

func TestKeywordDecision(t *testing.T) {
	tests := []struct {
		name               string
		query              string
		expectedIntent     string
		expectedComplexity int
		expectedRoute      string
	}{
		{
			name:               "urgent routes human",
			query:              "IRS audit deadline today",
			expectedIntent:     models.IntentUrgent,
			expectedComplexity: 5,
			expectedRoute:      models.RouteHuman,
		},
		{
			name:               "complex tax routes human",
			query:              "1031 exchange on a partnership distribution",
			expectedIntent:     models.IntentComplexTax,
			expectedComplexity: 4,
			expectedRoute:      models.RouteHuman,
		},
		{
			name:               "bookkeeping stays with AI",
			query:              "categorize these payroll entries",
			expectedIntent:     models.IntentBookkeeping,
			expectedComplexity: 3,
			expectedRoute:      models.RouteAI,
		},
		{
			name:               "simple tax stays with AI",
			query:              "standard deduction amount",
			expectedIntent:     models.IntentSimpleTax,
			expectedComplexity: 2,
			expectedRoute:      models.RouteAI,
		},
		{
			name:               "general stays with AI",
			query:              "can you help me",
			expectedIntent:     models.IntentGeneral,
			expectedComplexity: 2,
			expectedRoute:      models.RouteAI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := keywordDecision(tt.query)
			assert.Equal(t, tt.expectedIntent, decision.Intent)
			assert.Equal(t, tt.expectedComplexity, decision.ComplexityScore)
			assert.Equal(t, tt.expectedComplexity, decision.TechnicalComplexity)
			assert.Equal(t, tt.expectedComplexity, decision.Urgency)
			assert.Equal(t, tt.expectedComplexity, decision.RiskExposure)
			assert.Equal(t, tt.expectedRoute, decision.Route)
			assert.Equal(t, models.MethodKeywordFallback, decision.Method)
		})
	}
}
