// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like DATABASE_POSTGRES_HOST
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay, ignored when absent
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig()

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads .env from multiple possible locations so the service
// starts the same way from the repo root, cmd/, or test directories.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up directories looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// overrideEmptyConfig fills secrets from the environment when the YAML left
// them empty after expansion.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Providers.Completion.Primary.APIKey == "" {
		if val := os.Getenv("COMPLETION_API_KEY"); val != "" {
			cfg.Providers.Completion.Primary.APIKey = val
		}
	}
	for i := range cfg.Providers.Completion.Fallbacks {
		if cfg.Providers.Completion.Fallbacks[i].APIKey == "" {
			if val := os.Getenv("COMPLETION_API_KEY"); val != "" {
				cfg.Providers.Completion.Fallbacks[i].APIKey = val
			}
		}
	}

	if cfg.Providers.Embedding.APIKey == "" {
		if val := os.Getenv("EMBEDDING_API_KEY"); val != "" {
			cfg.Providers.Embedding.APIKey = val
		}
	}
	if cfg.Providers.Rerank.APIKey == "" {
		if val := os.Getenv("RERANK_API_KEY"); val != "" {
			cfg.Providers.Rerank.APIKey = val
		}
	}

	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60000
	}

	// Database defaults
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}
	if cfg.Database.Elasticsearch.Index == "" {
		cfg.Database.Elasticsearch.Index = "knowledge_chunks"
	}

	// Provider defaults
	if cfg.Providers.Completion.Timeout == 0 {
		cfg.Providers.Completion.Timeout = 30000
	}
	if cfg.Providers.Completion.MaxTokens == 0 {
		cfg.Providers.Completion.MaxTokens = 1000
	}
	if cfg.Providers.Embedding.Timeout == 0 {
		cfg.Providers.Embedding.Timeout = 10000
	}
	if cfg.Providers.Rerank.Timeout == 0 {
		cfg.Providers.Rerank.Timeout = 10000
	}

	// Retrieval defaults
	if cfg.Retrieval.CandidateK == 0 {
		cfg.Retrieval.CandidateK = 30
	}
	if cfg.Retrieval.FinalK == 0 {
		cfg.Retrieval.FinalK = 5
	}
	if cfg.Retrieval.RRFConstant == 0 {
		cfg.Retrieval.RRFConstant = 60
	}
	if cfg.Retrieval.SimilarityFloor == 0 {
		cfg.Retrieval.SimilarityFloor = 0.3
	}
	if cfg.Retrieval.LexicalWeight == 0 && cfg.Retrieval.VectorWeight == 0 {
		cfg.Retrieval.LexicalWeight = 0.6
		cfg.Retrieval.VectorWeight = 0.4
	}
	if cfg.Retrieval.ExactLexical == 0 && cfg.Retrieval.ExactVector == 0 {
		cfg.Retrieval.ExactLexical = 0.7
		cfg.Retrieval.ExactVector = 0.3
	}
	if cfg.Retrieval.ExpansionWindow == 0 {
		cfg.Retrieval.ExpansionWindow = 1
	}
	if cfg.Retrieval.MaxContextChars == 0 {
		cfg.Retrieval.MaxContextChars = 8000
	}
	if cfg.Retrieval.SkipSimilarity == 0 {
		cfg.Retrieval.SkipSimilarity = 0.9
	}

	// Routing defaults
	if cfg.Routing.CacheCapacity == 0 {
		cfg.Routing.CacheCapacity = 100
	}
	if cfg.Routing.AmbiguityThreshold == 0 {
		cfg.Routing.AmbiguityThreshold = 0.7
	}
	if cfg.Routing.EscalationConfidence == 0 {
		cfg.Routing.EscalationConfidence = 0.6
	}
	if cfg.Routing.EscalationComplexity == 0 {
		cfg.Routing.EscalationComplexity = 3
	}
	if cfg.Routing.GateTimeout == 0 {
		cfg.Routing.GateTimeout = 5000
	}
	if cfg.Routing.RouterTimeout == 0 {
		cfg.Routing.RouterTimeout = 10000
	}

	// Confidence defaults
	if cfg.Confidence.Cap == 0 {
		cfg.Confidence.Cap = 0.95
	}
	if cfg.Confidence.RetrievalWeight == 0 {
		cfg.Confidence.RetrievalWeight = 0.7
	}
	if cfg.Confidence.SelfReportWeight == 0 {
		cfg.Confidence.SelfReportWeight = 0.3
	}
	if cfg.Confidence.FaithfulnessWeight == 0 {
		cfg.Confidence.FaithfulnessWeight = 0.6
	}
	if cfg.Confidence.DeferredRetrieval == 0 {
		cfg.Confidence.DeferredRetrieval = 0.3
	}
	if cfg.Confidence.DeferredSelfReport == 0 {
		cfg.Confidence.DeferredSelfReport = 0.1
	}
	if cfg.Confidence.CitationBonus == 0 {
		cfg.Confidence.CitationBonus = 0.05
	}
	if cfg.Confidence.FaithfulnessTimeout == 0 {
		cfg.Confidence.FaithfulnessTimeout = 5000
	}
	if cfg.Confidence.QueueSize == 0 {
		cfg.Confidence.QueueSize = 64
	}

	// Experts defaults
	if cfg.Experts.CacheTTL == 0 {
		cfg.Experts.CacheTTL = 300000
	}
	if cfg.Experts.UrgencyMultiplier == 0 {
		cfg.Experts.UrgencyMultiplier = 1.2
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if len(cfg.Database.Elasticsearch.Addresses) == 0 && cfg.Database.Elasticsearch.URL == "" {
		return fmt.Errorf("database.elasticsearch.addresses or url is required")
	}

	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Providers.Completion.Primary.BaseURL == "" {
		return fmt.Errorf("providers.completion.primary.base_url is required")
	}
	if cfg.Providers.Embedding.BaseURL == "" {
		return fmt.Errorf("providers.embedding.base_url is required")
	}

	if cfg.Retrieval.LexicalWeight+cfg.Retrieval.VectorWeight != 1.0 {
		return fmt.Errorf("retrieval.lexical_weight and retrieval.vector_weight must sum to 1.0")
	}
	if cfg.Retrieval.ExactLexical+cfg.Retrieval.ExactVector != 1.0 {
		return fmt.Errorf("retrieval.exact_lexical and retrieval.exact_vector must sum to 1.0")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
