package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SEMSEARCH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "SEMSEARCH_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.auth_token", typ: kString, env: "SEMSEARCH_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.AuthToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.AuthToken },
	},
	{
		key: "log.level", typ: kString, env: "SEMSEARCH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SEMSEARCH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "embedding.provider", typ: kString, env: "SEMSEARCH_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.base_url", typ: kString, env: "SEMSEARCH_EMBEDDING_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.BaseURL },
	},
	{
		key: "embedding.api_key", typ: kString, env: "SEMSEARCH_EMBEDDING_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Embedding.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.APIKey },
	},
	{
		key: "embedding.model", typ: kString, env: "SEMSEARCH_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.dimensions", typ: kInt, env: "SEMSEARCH_EMBEDDING_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dimensions },
	},
	{
		key: "embedding.timeout", typ: kDuration, env: "SEMSEARCH_EMBEDDING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Embedding.Timeout },
	},
	{
		key: "embedding.max_chars", typ: kInt, env: "SEMSEARCH_EMBEDDING_MAX_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Embedding.MaxChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.MaxChars },
	},
	{
		key: "index.backend", typ: kString, env: "SEMSEARCH_INDEX_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Index.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.Backend },
	},
	{
		key: "index.base_url", typ: kString, env: "SEMSEARCH_INDEX_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Index.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.BaseURL },
	},
	{
		key: "index.api_key", typ: kString, env: "SEMSEARCH_INDEX_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Index.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.APIKey },
	},
	{
		key: "index.collection", typ: kString, env: "SEMSEARCH_INDEX_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.Index.Collection = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.Collection },
	},
	{
		key: "index.timeout", typ: kDuration, env: "SEMSEARCH_INDEX_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Index.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Index.Timeout },
	},
	{
		key: "index.overfetch_factor", typ: kInt, env: "SEMSEARCH_INDEX_OVERFETCH_FACTOR",
		apply:   func(cfg *Config, v any) { cfg.Index.OverfetchFactor = v.(int) },
		extract: func(cfg Config) any { return cfg.Index.OverfetchFactor },
	},
	{
		key: "indexer.workers", typ: kInt, env: "SEMSEARCH_INDEXER_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Indexer.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Indexer.Workers },
	},
	{
		key: "indexer.queue_capacity", typ: kInt, env: "SEMSEARCH_INDEXER_QUEUE_CAPACITY",
		apply:   func(cfg *Config, v any) { cfg.Indexer.QueueCapacity = v.(int) },
		extract: func(cfg Config) any { return cfg.Indexer.QueueCapacity },
	},
	{
		key: "indexer.keyword_cap", typ: kInt, env: "SEMSEARCH_INDEXER_KEYWORD_CAP",
		apply:   func(cfg *Config, v any) { cfg.Indexer.KeywordCap = v.(int) },
		extract: func(cfg Config) any { return cfg.Indexer.KeywordCap },
	},
	{
		key: "indexer.sweep_interval", typ: kDuration, env: "SEMSEARCH_INDEXER_SWEEP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Indexer.SweepInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Indexer.SweepInterval },
	},
	{
		key: "indexer.sweep_min_age", typ: kDuration, env: "SEMSEARCH_INDEXER_SWEEP_MIN_AGE",
		apply:   func(cfg *Config, v any) { cfg.Indexer.SweepMinAge = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Indexer.SweepMinAge },
	},
	{
		key: "search.deadline", typ: kDuration, env: "SEMSEARCH_SEARCH_DEADLINE",
		apply:   func(cfg *Config, v any) { cfg.Search.Deadline = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Search.Deadline },
	},
	{
		key: "search.min_query_chars", typ: kInt, env: "SEMSEARCH_SEARCH_MIN_QUERY_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Search.MinQueryChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.MinQueryChars },
	},
	{
		key: "search.max_query_chars", typ: kInt, env: "SEMSEARCH_SEARCH_MAX_QUERY_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Search.MaxQueryChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.MaxQueryChars },
	},
	{
		key: "search.default_limit", typ: kInt, env: "SEMSEARCH_SEARCH_DEFAULT_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Search.DefaultLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.DefaultLimit },
	},
	{
		key: "search.max_limit", typ: kInt, env: "SEMSEARCH_SEARCH_MAX_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Search.MaxLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.MaxLimit },
	},
	{
		key: "search.similarity_weight", typ: kFloat, env: "SEMSEARCH_SEARCH_SIMILARITY_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Search.SimilarityWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Search.SimilarityWeight },
	},
	{
		key: "search.recency_weight", typ: kFloat, env: "SEMSEARCH_SEARCH_RECENCY_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Search.RecencyWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Search.RecencyWeight },
	},
	{
		key: "search.recency_horizon", typ: kDuration, env: "SEMSEARCH_SEARCH_RECENCY_HORIZON",
		apply:   func(cfg *Config, v any) { cfg.Search.RecencyHorizon = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Search.RecencyHorizon },
	},
	{
		key: "search.min_similarity", typ: kFloat, env: "SEMSEARCH_SEARCH_MIN_SIMILARITY",
		apply:   func(cfg *Config, v any) { cfg.Search.MinSimilarity = v.(float64) },
		extract: func(cfg Config) any { return cfg.Search.MinSimilarity },
	},
	{
		key: "retry.max_attempts", typ: kInt, env: "SEMSEARCH_RETRY_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Retry.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Retry.MaxAttempts },
	},
	{
		key: "retry.base", typ: kDuration, env: "SEMSEARCH_RETRY_BASE",
		apply:   func(cfg *Config, v any) { cfg.Retry.Base = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retry.Base },
	},
	{
		key: "retry.jitter", typ: kFloat, env: "SEMSEARCH_RETRY_JITTER",
		apply:   func(cfg *Config, v any) { cfg.Retry.Jitter = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retry.Jitter },
	},
	{
		key: "circuit.failure_threshold", typ: kInt, env: "SEMSEARCH_CIRCUIT_FAILURE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Circuit.FailureThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Circuit.FailureThreshold },
	},
	{
		key: "circuit.window", typ: kDuration, env: "SEMSEARCH_CIRCUIT_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Circuit.Window = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Circuit.Window },
	},
	{
		key: "circuit.cooldown", typ: kDuration, env: "SEMSEARCH_CIRCUIT_COOLDOWN",
		apply:   func(cfg *Config, v any) { cfg.Circuit.Cooldown = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Circuit.Cooldown },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
