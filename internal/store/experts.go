// internal/store/experts.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	stderrors "tax-concierge/internal/common/errors"
	"tax-concierge/internal/common/logger"
	"tax-concierge/internal/models"
)

const expertsCacheKey = "experts:profiles"

// ExpertStore lists specialist profiles. Profiles change rarely, so reads go
// through a Redis cache in front of Postgres.
type ExpertStore interface {
	ListExperts(ctx context.Context) ([]models.ExpertProfile, error)
}

type Experts struct {
	db       *sql.DB
	redis    *redis.Client
	cacheTTL time.Duration
	logger   logger.Logger
}

func NewExperts(db *sql.DB, rdb *redis.Client, cacheTTL time.Duration, log logger.Logger) *Experts {
	return &Experts{
		db:       db,
		redis:    rdb,
		cacheTTL: cacheTTL,
		logger:   log.WithFields(map[string]interface{}{"component": "experts"}),
	}
}

func (e *Experts) ListExperts(ctx context.Context) ([]models.ExpertProfile, error) {
	if val, err := e.redis.Get(ctx, expertsCacheKey).Result(); err == nil {
		var profiles []models.ExpertProfile
		if err := json.Unmarshal([]byte(val), &profiles); err == nil {
			return profiles, nil
		}
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT id, name, specialties, availability, rating, email, phone, embedding
		FROM experts
		ORDER BY id`)
	if err != nil {
		return nil, stderrors.NewExpertStoreFailedError(err)
	}
	defer rows.Close()

	var profiles []models.ExpertProfile
	for rows.Next() {
		var p models.ExpertProfile
		var email, phone, embedding sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, pq.Array(&p.Specialties), &p.Availability, &p.Rating, &email, &phone, &embedding); err != nil {
			return nil, stderrors.NewExpertStoreFailedError(err)
		}
		p.Email = email.String
		p.Phone = phone.String
		if embedding.Valid {
			p.Embedding = parseVector(embedding.String)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewExpertStoreFailedError(err)
	}

	if data, err := json.Marshal(profiles); err == nil {
		e.redis.Set(ctx, expertsCacheKey, data, e.cacheTTL)
	}

	return profiles, nil
}

// parseVector decodes the pgvector text format "[0.1,0.2,...]".
func parseVector(s string) []float32 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil
		}
		vec = append(vec, float32(f))
	}
	return vec
}
