// internal/pipeline/router/keyword.go
package router

import (
	"regexp"

	"tax-concierge/internal/models"
)

// intentComplexity maps each fallback intent to a static complexity score.
var intentComplexity = map[string]int{
	models.IntentSimpleTax:   2,
	models.IntentComplexTax:  4,
	models.IntentUrgent:      5,
	models.IntentBookkeeping: 3,
	models.IntentGeneral:     2,
}

type intentPatterns struct {
	intent   string
	patterns []*regexp.Regexp
}

// Pattern order decides ties: the first intent reaching the top match count
// wins.
var keywordPatterns = []intentPatterns{
	{models.IntentUrgent, compileAll(
		`(?i)\baudite?d?\b`, `(?i)\birs\b`, `(?i)\bpenalty\b`, `(?i)\bnotice\b`,
		`(?i)\bemergency\b`, `(?i)\burgent\b`, `(?i)\bdeadline\b`, `(?i)\btoday\b`,
		`(?i)\basap\b`, `(?i)\blocked\b`,
	)},
	{models.IntentComplexTax, compileAll(
		`(?i)\bcapital gains?\b`, `(?i)\bcrypto\b`, `(?i)\bstaking\b`,
		`(?i)\bforeign tax\b`, `(?i)\b1031\b`, `(?i)\bexchange\b`,
		`(?i)\bqbi\b`, `(?i)\bqualified business income\b`,
		`(?i)\bmulti[- ]state\b`, `(?i)\binternational\b`, `(?i)\btreaty\b`,
		`(?i)\bk-?1\b`, `(?i)\bpartnership\b`, `(?i)\bdistribution\b`,
	)},
	{models.IntentBookkeeping, compileAll(
		`(?i)\breconcil\w*\b`, `(?i)\bquickbooks\b`, `(?i)\bxero\b`,
		`(?i)\binvoice\b`, `(?i)\bpayroll\b`, `(?i)\bcash flow\b`,
		`(?i)\bchart of accounts\b`, `(?i)\bcategoriz\w*\b`,
	)},
	{models.IntentSimpleTax, compileAll(
		`(?i)\bstandard deduction\b`, `(?i)\bstd deduction\b`,
		`(?i)\bw-?2\b`, `(?i)\b1040\b`, `(?i)\bfiling\b`, `(?i)\brefund\b`,
		`(?i)\bdeduction\b`, `(?i)\btax bracket\b`, `(?i)\beitc\b`,
		`(?i)\bearned income\b`, `(?i)\bhome office\b`, `(?i)\bself[- ]employ\w*\b`,
		`(?i)\bextension\b`,
	)},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return compiled
}

// classifyByKeywords scores the query against each intent's patterns and
// returns the best intent with a match-count-driven confidence. No match at
// all classifies as general with confidence 0.5.
func classifyByKeywords(query string) (string, float64) {
	bestIntent := models.IntentGeneral
	bestCount := 0

	for _, ip := range keywordPatterns {
		count := 0
		for _, pattern := range ip.patterns {
			if pattern.MatchString(query) {
				count++
			}
		}
		if count > bestCount {
			bestIntent = ip.intent
			bestCount = count
		}
	}

	if bestCount == 0 {
		return models.IntentGeneral, 0.5
	}

	confidence := 0.6 + float64(bestCount)*0.15
	if confidence > 0.95 {
		confidence = 0.95
	}
	return bestIntent, confidence
}

// keywordDecision builds a full routing decision from the keyword
// classifier's intent using the static complexity table.
func keywordDecision(query string) models.RoutingDecision {
	intent, confidence := classifyByKeywords(query)
	complexity := intentComplexity[intent]

	route := models.RouteAI
	if complexity >= 4 {
		route = models.RouteHuman
	}

	return models.RoutingDecision{
		Intent:              intent,
		TechnicalComplexity: complexity,
		Urgency:             complexity,
		RiskExposure:        complexity,
		ComplexityScore:     complexity,
		Route:               route,
		Confidence:          confidence,
		Reasoning:           "keyword classification",
		Method:              models.MethodKeywordFallback,
	}
}
