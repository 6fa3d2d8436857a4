// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Server        ServerConfig       `mapstructure:"server"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Providers     ProvidersConfig    `mapstructure:"providers"`
	Retrieval     RetrievalConfig    `mapstructure:"retrieval"`
	Routing       RoutingConfig      `mapstructure:"routing"`
	Confidence    ConfidenceConfig   `mapstructure:"confidence"`
	Experts       ExpertsConfig      `mapstructure:"experts"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Notifications NotificationConfig `mapstructure:"notifications"`
}

// --- Core App/Infrastructure Config ---

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address        string `mapstructure:"address"`
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	Index      string   `mapstructure:"index"`
	SSLEnabled bool     `mapstructure:"ssl_enabled"`
	URL        string   `mapstructure:"url"` // Single URL for backwards compatibility
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Provider Configuration ---

// ProviderConfig describes one completion provider in the fallback chain.
type ProviderConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// ProvidersConfig holds settings for all external AI services.
type ProvidersConfig struct {
	Completion struct {
		Primary   ProviderConfig   `mapstructure:"primary"`
		Fallbacks []ProviderConfig `mapstructure:"fallbacks"`
		Timeout   int              `mapstructure:"timeout"`    // milliseconds
		MaxTokens int              `mapstructure:"max_tokens"`
	} `mapstructure:"completion"`

	Embedding struct {
		BaseURL string `mapstructure:"base_url"`
		APIKey  string `mapstructure:"api_key"`
		Model   string `mapstructure:"model"`
		Timeout int    `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"embedding"`

	Rerank struct {
		BaseURL string `mapstructure:"base_url"`
		APIKey  string `mapstructure:"api_key"`
		Model   string `mapstructure:"model"`
		Timeout int    `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"rerank"`
}

// --- Retrieval Configuration ---

// RetrievalConfig holds the tunables of the hybrid retriever and its
// downstream ranking stages. The fusion weights and thresholds are
// deliberately configuration, not constants.
type RetrievalConfig struct {
	CandidateK      int     `mapstructure:"candidate_k"`       // over-fetch size before rerank
	FinalK          int     `mapstructure:"final_k"`           // chunks handed to generation
	RRFConstant     int     `mapstructure:"rrf_constant"`
	SimilarityFloor float64 `mapstructure:"similarity_floor"`
	LexicalWeight   float64 `mapstructure:"lexical_weight"`   // default fusion pair
	VectorWeight    float64 `mapstructure:"vector_weight"`
	ExactLexical    float64 `mapstructure:"exact_lexical"`    // pair used when exact-match terms appear
	ExactVector     float64 `mapstructure:"exact_vector"`
	ExpansionWindow int     `mapstructure:"expansion_window"`
	MaxContextChars int     `mapstructure:"max_context_chars"`

	RerankEnabled bool `mapstructure:"rerank_enabled"`
	// SkipWhenConfident skips reranking when the top fused candidate already
	// exceeds SkipSimilarity. Off by default.
	SkipWhenConfident bool    `mapstructure:"skip_when_confident"`
	SkipSimilarity    float64 `mapstructure:"skip_similarity"`
}

// --- Routing Configuration ---

type RoutingConfig struct {
	CacheCapacity        int     `mapstructure:"cache_capacity"`
	AmbiguityThreshold   float64 `mapstructure:"ambiguity_threshold"`
	EscalationConfidence float64 `mapstructure:"escalation_confidence"`
	EscalationComplexity int     `mapstructure:"escalation_complexity"`
	GateTimeout          int     `mapstructure:"gate_timeout"`   // milliseconds
	RouterTimeout        int     `mapstructure:"router_timeout"` // milliseconds
}

// --- Confidence Configuration ---

// ConfidenceConfig holds the blending weights of the confidence scorer.
// The exact numbers varied across iterations of the scoring formula, so
// they are tunable rather than hardcoded.
type ConfidenceConfig struct {
	Cap                 float64 `mapstructure:"cap"`
	RetrievalWeight     float64 `mapstructure:"retrieval_weight"`
	SelfReportWeight    float64 `mapstructure:"self_report_weight"`
	FaithfulnessWeight  float64 `mapstructure:"faithfulness_weight"`
	DeferredRetrieval   float64 `mapstructure:"deferred_retrieval"`
	DeferredSelfReport  float64 `mapstructure:"deferred_self_report"`
	CitationBonus       float64 `mapstructure:"citation_bonus"`
	FaithfulnessTimeout int     `mapstructure:"faithfulness_timeout"` // milliseconds
	QueueSize           int     `mapstructure:"queue_size"`
}

// ExpertsConfig tunes the expert matcher and its profile cache.
type ExpertsConfig struct {
	CacheTTL          int     `mapstructure:"cache_ttl"` // milliseconds
	UrgencyMultiplier float64 `mapstructure:"urgency_multiplier"`
}

// NotificationConfig holds settings for expert escalation notifications.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled    bool `mapstructure:"enabled"`
		UrgentOnly bool `mapstructure:"urgent_only"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
