// internal/models/confidence.go
package models

// ConfidenceScore is a bounded answer-quality estimate. Value never exceeds
// 0.95 regardless of how strong the inputs are. Deferred scores fold in the
// faithfulness judgment that arrives after the response has been returned.
type ConfidenceScore struct {
	Value        float64  `json:"value"`
	Deferred     bool     `json:"deferred"`
	Faithfulness *float64 `json:"faithfulness,omitempty"`
}
