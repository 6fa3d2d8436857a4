// internal/pipeline/retriever/weights.go
package retriever

import (
	"regexp"

	"tax-concierge/internal/models"
)

// Queries naming an exact artifact (a form number, a schedule, a tax year)
// are better served by lexical matching; the vector path tends to drift to
// thematically similar but wrong documents for these.
var exactMatchPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bForm\s+\d+`),
	regexp.MustCompile(`\b\d{4}\b`),
	regexp.MustCompile(`(?i)\bSchedule\s+[A-Z]\b`),
	regexp.MustCompile(`(?i)\bW-?\d+\b`),
	regexp.MustCompile(`(?i)\b1099-\w+\b`),
	regexp.MustCompile(`(?i)\bIRS\s+Publication\s+\d+`),
}

// SelectWeights picks the fusion weight pair for a query. The pairs come in
// from configuration and always sum to 1.0.
func SelectWeights(query string, defaults, exact models.FusionWeights) models.FusionWeights {
	for _, pattern := range exactMatchPatterns {
		if pattern.MatchString(query) {
			return exact
		}
	}
	return defaults
}
