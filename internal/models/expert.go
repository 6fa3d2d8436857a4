// internal/models/expert.go
package models

// ExpertProfile is a read-only specialist record. Profile lifecycle is
// managed outside this service.
type ExpertProfile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Specialties  []string  `json:"specialties"`
	Availability bool      `json:"availability"`
	Rating       float64   `json:"rating"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Embedding    []float32 `json:"embedding,omitempty"`
}

// ExpertMatch is a derived ranking result, recomputed per query. Score can
// exceed 1.0 when the urgency multiplier applies.
type ExpertMatch struct {
	ExpertID string  `json:"expertId"`
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
}
