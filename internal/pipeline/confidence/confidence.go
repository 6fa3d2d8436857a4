// internal/pipeline/confidence/confidence.go
package confidence

import (
	"regexp"

	"tax-concierge/internal/common/config"
	"tax-concierge/internal/models"
)

var citationRe = regexp.MustCompile(`\[\d+\]`)

// Scorer blends retrieval quality, the model's self-reported confidence, and
// (for the deferred variant) a faithfulness judgment into one bounded score.
// The hard cap exists because the domain carries real financial risk: the
// system never reports near-certainty.
type Scorer struct {
	cfg config.ConfidenceConfig
}

func NewScorer(cfg config.ConfidenceConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// RetrievalQuality is the rerank score when reranking happened, else the
// best vector similarity among the retrieved chunks.
func (s *Scorer) RetrievalQuality(chunks []models.DocumentChunk) float64 {
	if best := models.TopRerankScore(chunks); best != nil {
		return *best
	}
	return models.MaxSimilarity(chunks)
}

// Immediate scores the answer synchronously, before any faithfulness
// judgment exists.
func (s *Scorer) Immediate(chunks []models.DocumentChunk, answer string, selfConfidence float64) models.ConfidenceScore {
	value := s.cfg.RetrievalWeight*s.RetrievalQuality(chunks) +
		s.cfg.SelfReportWeight*selfConfidence +
		s.citationBonus(answer)

	return models.ConfidenceScore{Value: s.cap(value)}
}

// Deferred rescores once the asynchronous faithfulness judgment arrives. It
// is recorded for audit only; the already-returned response is unchanged.
func (s *Scorer) Deferred(chunks []models.DocumentChunk, answer string, selfConfidence, faithfulness float64) models.ConfidenceScore {
	value := s.cfg.FaithfulnessWeight*faithfulness +
		s.cfg.DeferredRetrieval*s.RetrievalQuality(chunks) +
		s.cfg.DeferredSelfReport*selfConfidence +
		s.citationBonus(answer)

	return models.ConfidenceScore{
		Value:        s.cap(value),
		Deferred:     true,
		Faithfulness: &faithfulness,
	}
}

func (s *Scorer) citationBonus(answer string) float64 {
	if citationRe.MatchString(answer) {
		return s.cfg.CitationBonus
	}
	return 0
}

func (s *Scorer) cap(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > s.cfg.Cap {
		return s.cfg.Cap
	}
	return value
}
