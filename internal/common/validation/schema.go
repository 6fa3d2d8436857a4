// internal/common/validation/schema.go
package validation

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Schemas for the structured JSON payloads the language models are asked to
// produce. A payload that fails its schema is treated as malformed and the
// caller falls back, it is never partially trusted.

var AmbiguityJudgmentSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"is_ambiguous", "confidence"},
	"properties": map[string]interface{}{
		"is_ambiguous": map[string]interface{}{"type": "boolean"},
		"confidence": map[string]interface{}{
			"type":    "number",
			"minimum": 0,
			"maximum": 1,
		},
		"clarifying_question": map[string]interface{}{"type": "string"},
		"reason":              map[string]interface{}{"type": "string"},
	},
}

var RoutingJudgmentSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"intent", "technical_complexity", "urgency", "risk_exposure"},
	"properties": map[string]interface{}{
		"intent": map[string]interface{}{
			"type": "string",
			"enum": []interface{}{"simple_tax", "complex_tax", "urgent", "bookkeeping", "general"},
		},
		"technical_complexity": map[string]interface{}{
			"type":    "integer",
			"minimum": 1,
			"maximum": 5,
		},
		"urgency": map[string]interface{}{
			"type":    "integer",
			"minimum": 1,
			"maximum": 5,
		},
		"risk_exposure": map[string]interface{}{
			"type":    "integer",
			"minimum": 1,
			"maximum": 5,
		},
		"reasoning": map[string]interface{}{"type": "string"},
	},
}

var FaithfulnessJudgmentSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"faithfulness"},
	"properties": map[string]interface{}{
		"faithfulness": map[string]interface{}{
			"type":    "number",
			"minimum": 0,
			"maximum": 1,
		},
		"unsupported_claims": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string"},
		},
	},
}

var SelfReportSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"confidence"},
	"properties": map[string]interface{}{
		"confidence": map[string]interface{}{
			"type":    "number",
			"minimum": 0,
			"maximum": 1,
		},
	},
}

// ValidateJudgment checks a decoded model payload against its schema.
func ValidateJudgment(schemaMap map[string]interface{}, data map[string]interface{}) error {
	schemaLoader := gojsonschema.NewGoLoader(schemaMap)
	documentLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("judgment validation failed: %v", errs)
	}

	return nil
}
