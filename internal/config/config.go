package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	Embedding EmbeddingConfig
	Index     IndexConfig
	Indexer   IndexerConfig
	Search    SearchConfig
	Retry     RetryConfig
	Circuit   CircuitConfig
}

type ServerConfig struct {
	Port      int
	MaxConns  int
	AuthToken string
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

type EmbeddingConfig struct {
	Provider   string // "openai" or "ollama"
	BaseURL    string // empty means the provider's default endpoint
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration // per-attempt call budget
	MaxChars   int           // text truncation budget before embedding
}

type IndexConfig struct {
	Backend         string // "qdrant" or "sqlite"
	BaseURL         string
	APIKey          string
	Collection      string
	Timeout         time.Duration
	OverfetchFactor int // sqlite backend over-fetch multiplier for filtered queries
}

type IndexerConfig struct {
	Workers       int
	QueueCapacity int
	KeywordCap    int
	SweepInterval time.Duration
	SweepMinAge   time.Duration
}

type SearchConfig struct {
	Deadline         time.Duration
	MinQueryChars    int
	MaxQueryChars    int
	DefaultLimit     int
	MaxLimit         int
	SimilarityWeight float64
	RecencyWeight    float64
	RecencyHorizon   time.Duration
	MinSimilarity    float64
}

type RetryConfig struct {
	MaxAttempts int
	Base        time.Duration
	Jitter      float64
}

type CircuitConfig struct {
	FailureThreshold int
	Window           time.Duration
	Cooldown         time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4600,
			MaxConns: 256,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			Timeout:    5 * time.Second,
			MaxChars:   8000,
		},
		Index: IndexConfig{
			Backend:         "qdrant",
			BaseURL:         "http://localhost:6333",
			Collection:      "messages",
			Timeout:         5 * time.Second,
			OverfetchFactor: 4,
		},
		Indexer: IndexerConfig{
			Workers:       4,
			QueueCapacity: 256,
			KeywordCap:    20,
			SweepInterval: time.Minute,
			SweepMinAge:   5 * time.Minute,
		},
		Search: SearchConfig{
			Deadline:         time.Second,
			MinQueryChars:    3,
			MaxQueryChars:    500,
			DefaultLimit:     10,
			MaxLimit:         50,
			SimilarityWeight: 0.8,
			RecencyWeight:    0.2,
			RecencyHorizon:   720 * time.Hour,
			MinSimilarity:    0,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Base:        200 * time.Millisecond,
			Jitter:      0.2,
		},
		Circuit: CircuitConfig{
			FailureThreshold: 5,
			Window:           30 * time.Second,
			Cooldown:         15 * time.Second,
		},
	}
}

// Load reads configuration from a YAML file and environment variables.
//
// The file path comes from SEMSEARCH_CONFIG_PATH, falling back to
// $XDG_CONFIG_HOME/semsearch/config.yaml; a missing file at the fallback
// path is not an error. Environment variables (SEMSEARCH_*) override file
// values. Secrets are read from the environment only.
func Load() (Config, error) {
	b, err := newYAMLBackend(configFilePath())
	if err != nil {
		return Config{}, err
	}
	return loadWith(b)
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency and required values. The server
// auth token is checked at serve time, not here, so client-side commands
// can load config without one.
func (c Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q: must be debug, info, warn or error", c.Log.Level)
	}

	switch c.Embedding.Provider {
	case "openai":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("missing required config: embedding API key. " +
				"Set it via environment variable SEMSEARCH_EMBEDDING_API_KEY")
		}
	case "ollama":
	default:
		return fmt.Errorf("invalid embedding.provider %q: must be openai or ollama", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("invalid embedding.dimensions %d: must be positive", c.Embedding.Dimensions)
	}
	if c.Embedding.MaxChars <= 0 {
		return fmt.Errorf("invalid embedding.max_chars %d: must be positive", c.Embedding.MaxChars)
	}

	switch c.Index.Backend {
	case "qdrant", "sqlite":
	default:
		return fmt.Errorf("invalid index.backend %q: must be qdrant or sqlite", c.Index.Backend)
	}
	if c.Index.Collection == "" {
		return fmt.Errorf("missing required config: index.collection")
	}

	if c.Indexer.Workers < 1 {
		return fmt.Errorf("invalid indexer.workers %d: must be at least 1", c.Indexer.Workers)
	}
	if c.Indexer.QueueCapacity < 1 {
		return fmt.Errorf("invalid indexer.queue_capacity %d: must be at least 1", c.Indexer.QueueCapacity)
	}

	if c.Search.MinQueryChars < 1 || c.Search.MaxQueryChars < c.Search.MinQueryChars {
		return fmt.Errorf("invalid query length bounds [%d, %d]", c.Search.MinQueryChars, c.Search.MaxQueryChars)
	}
	if c.Search.MaxLimit < 1 || c.Search.DefaultLimit < 1 || c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("invalid result limit bounds: default %d, max %d", c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	if c.Search.SimilarityWeight < 0 || c.Search.RecencyWeight < 0 ||
		c.Search.SimilarityWeight+c.Search.RecencyWeight == 0 {
		return fmt.Errorf("invalid ranking weights: similarity %v, recency %v",
			c.Search.SimilarityWeight, c.Search.RecencyWeight)
	}
	if c.Search.RecencyHorizon <= 0 {
		return fmt.Errorf("invalid search.recency_horizon %v: must be positive", c.Search.RecencyHorizon)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("invalid retry.max_attempts %d: must be at least 1", c.Retry.MaxAttempts)
	}
	if c.Circuit.FailureThreshold < 1 {
		return fmt.Errorf("invalid circuit.failure_threshold %d: must be at least 1", c.Circuit.FailureThreshold)
	}
	return nil
}
