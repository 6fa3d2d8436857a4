// internal/common/config/loader_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
app:
  name: tax-concierge
database:
  postgres:
    host: localhost
    database: concierge
    user: app
  elasticsearch:
    addresses: ["http://localhost:9200"]
  redis:
    address: localhost:6379
providers:
  completion:
    primary:
      name: gemini
      base_url: https://example.com/v1
      model: gemini-2.0-flash
  embedding:
    base_url: https://example.com/v1
    model: text-embedding-004
`

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, minimalConfig)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 30, cfg.Retrieval.CandidateK)
	assert.Equal(t, 5, cfg.Retrieval.FinalK)
	assert.Equal(t, 60, cfg.Retrieval.RRFConstant)
	assert.InDelta(t, 0.6, cfg.Retrieval.LexicalWeight, 1e-9)
	assert.InDelta(t, 0.4, cfg.Retrieval.VectorWeight, 1e-9)
	assert.InDelta(t, 0.7, cfg.Retrieval.ExactLexical, 1e-9)
	assert.InDelta(t, 0.3, cfg.Retrieval.ExactVector, 1e-9)
	assert.InDelta(t, 0.7, cfg.Routing.AmbiguityThreshold, 1e-9)
	assert.InDelta(t, 0.95, cfg.Confidence.Cap, 1e-9)
	assert.Equal(t, 300000, cfg.Experts.CacheTTL)
	assert.InDelta(t, 1.2, cfg.Experts.UrgencyMultiplier, 1e-9)
	assert.Equal(t, "knowledge_chunks", cfg.Database.Elasticsearch.Index)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile_WeightSumValidation(t *testing.T) {
	path := writeConfigFile(t, minimalConfig+`
retrieval:
  lexical_weight: 0.6
  vector_weight: 0.5
`)

	_, err := LoadFromFile(path)
	assert.ErrorContains(t, err, "must sum to 1.0")
}

func TestLoadFromFile_MissingPostgresHost(t *testing.T) {
	path := writeConfigFile(t, `
database:
  elasticsearch:
    addresses: ["http://localhost:9200"]
  redis:
    address: localhost:6379
`)

	_, err := LoadFromFile(path)
	assert.ErrorContains(t, err, "database.postgres.host")
}

func TestGetDSN(t *testing.T) {
	p := PostgresConfig{
		Host: "db", Port: 5432, User: "app", Password: "secret",
		Database: "concierge", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=db port=5432 user=app password=secret dbname=concierge sslmode=disable",
		p.GetDSN())
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, GetDuration(1500))
	assert.Equal(t, time.Duration(0), GetDuration(0))
}
