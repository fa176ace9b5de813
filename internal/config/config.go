package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/policy-rag/internal/core/domain"
)

// Config is resolved in three layers: built-in defaults, then the optional
// YAML file named by RAG_CONFIG_PATH, then environment variables.
type Config struct {
	APIPort                string  `yaml:"api_port"`
	LogLevel               string  `yaml:"log_level"`
	APIKey                 string  `yaml:"-"`
	APIRateLimitRPS        float64 `yaml:"api_rate_limit_rps"`
	APIRateLimitBurst      int     `yaml:"api_rate_limit_burst"`
	ShutdownTimeoutSeconds int     `yaml:"shutdown_timeout_seconds"`
	APIMaxConnections      int     `yaml:"api_max_connections"`

	ArtifactsDir    string `yaml:"artifacts_dir"`
	ChunksPath      string `yaml:"chunks_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
	VectorMetaPath  string `yaml:"vector_meta_path"`
	WatchArtifacts  bool   `yaml:"watch_artifacts"`

	RAGTopK             int     `yaml:"top_k"`
	RAGHybridCandidates int     `yaml:"hybrid_candidates"`
	RAGHybridEnabled    bool    `yaml:"hybrid_enabled"`
	RAGDriftThreshold   float64 `yaml:"drift_threshold"`
	RAGLexicalWeight    float64 `yaml:"lexical_weight"`
	RAGVectorWeight     float64 `yaml:"vector_weight"`
	RAGMinConfidence    float64 `yaml:"min_confidence"`
	RAGMinDistinctDocs  int     `yaml:"min_distinct_docs"`
	RAGMaxQuestionChars int     `yaml:"max_question_chars"`
	RAGMaxCharsPerChunk int     `yaml:"max_chars_per_chunk"`
	RAGMaxConcurrency   int     `yaml:"max_concurrency"`

	EmbeddingProvider       string `yaml:"embedding_provider"`
	EmbeddingModel          string `yaml:"embedding_model"`
	EmbeddingTimeoutSeconds int    `yaml:"embedding_timeout_seconds"`

	GenerationProvider               string  `yaml:"generation_provider"`
	GenerationDisabled               bool    `yaml:"generation_disabled"`
	GenerationMaxAttempts            int     `yaml:"generation_max_attempts"`
	GenerationTimeoutSeconds         float64 `yaml:"generation_timeout_seconds"`
	GenerationRetryBackoffSeconds    float64 `yaml:"generation_retry_backoff_seconds"`
	GenerationRetryMaxBackoffSeconds float64 `yaml:"generation_retry_max_backoff_seconds"`
	GenerationRetryMultiplier        float64 `yaml:"generation_retry_multiplier"`

	BreakerFailureRatio       float64 `yaml:"breaker_failure_ratio"`
	BreakerMinRequests        int     `yaml:"breaker_min_requests"`
	BreakerOpenTimeoutSeconds int     `yaml:"breaker_open_timeout_seconds"`

	OllamaURL        string `yaml:"ollama_url"`
	OllamaGenModel   string `yaml:"ollama_gen_model"`
	OllamaEmbedModel string `yaml:"ollama_embed_model"`
	OllamaTimeout    int    `yaml:"ollama_timeout_seconds"`

	OpenAIAPIKey    string `yaml:"-"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	OpenAIChatModel string `yaml:"openai_chat_model"`

	PostgresDSN string `yaml:"-"`

	RedisAddr             string `yaml:"redis_addr"`
	RedisPassword         string `yaml:"-"`
	RedisDB               int    `yaml:"redis_db"`
	AnswerCacheTTLSeconds int    `yaml:"answer_cache_ttl_seconds"`

	NATSURL           string `yaml:"nats_url"`
	NATSReloadSubject string `yaml:"nats_reload_subject"`
}

func Defaults() Config {
	return Config{
		APIPort:                "8080",
		APIMaxConnections:      256,
		LogLevel:               "info",
		APIRateLimitBurst:      20,
		ShutdownTimeoutSeconds: 15,

		ArtifactsDir:    "./data",
		ChunksPath:      "chunks.jsonl",
		VectorIndexPath: "index/vectors.bin",
		VectorMetaPath:  "index/meta.jsonl",
		WatchArtifacts:  true,

		RAGTopK:             5,
		RAGHybridCandidates: 20,
		RAGHybridEnabled:    true,
		RAGDriftThreshold:   0.90,
		RAGLexicalWeight:    0.6,
		RAGVectorWeight:     0.4,
		RAGMinConfidence:    0.30,
		RAGMinDistinctDocs:  2,
		RAGMaxQuestionChars: 2000,
		RAGMaxCharsPerChunk: 1200,
		RAGMaxConcurrency:   8,

		EmbeddingProvider:       "openai",
		EmbeddingModel:          "text-embedding-3-small",
		EmbeddingTimeoutSeconds: 10,

		GenerationProvider:               "ollama",
		GenerationMaxAttempts:            3,
		GenerationTimeoutSeconds:         60,
		GenerationRetryBackoffSeconds:    0.5,
		GenerationRetryMaxBackoffSeconds: 4,
		GenerationRetryMultiplier:        2,

		BreakerFailureRatio:       0.5,
		BreakerMinRequests:        10,
		BreakerOpenTimeoutSeconds: 30,

		OllamaURL:        "http://localhost:11434",
		OllamaGenModel:   "llama3.1:8b",
		OllamaEmbedModel: "nomic-embed-text",
		OllamaTimeout:    180,

		OpenAIChatModel: "gpt-4o-mini",

		RedisDB:               0,
		AnswerCacheTTLSeconds: 300,

		NATSReloadSubject: "policy_rag.artifacts.reload",
	}
}

func Load() (Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("RAG_CONFIG_PATH")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, domain.WrapError(domain.ErrInvalidInput, "parse config file", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.APIPort = mustEnv("API_PORT", c.APIPort)
	c.LogLevel = mustEnv("LOG_LEVEL", c.LogLevel)
	c.APIKey = mustEnv("API_KEY", c.APIKey)
	c.APIRateLimitRPS = mustEnvFloat("API_RATE_LIMIT_RPS", c.APIRateLimitRPS)
	c.APIRateLimitBurst = mustEnvInt("API_RATE_LIMIT_BURST", c.APIRateLimitBurst)
	c.ShutdownTimeoutSeconds = mustEnvInt("SHUTDOWN_TIMEOUT_SECONDS", c.ShutdownTimeoutSeconds)
	c.APIMaxConnections = mustEnvInt("API_MAX_CONNECTIONS", c.APIMaxConnections)

	c.ArtifactsDir = mustEnv("RAG_ARTIFACTS_DIR", c.ArtifactsDir)
	c.ChunksPath = mustEnv("RAG_CHUNKS_PATH", c.ChunksPath)
	c.VectorIndexPath = mustEnv("RAG_VECTOR_INDEX_PATH", c.VectorIndexPath)
	c.VectorMetaPath = mustEnv("RAG_VECTOR_META_PATH", c.VectorMetaPath)
	c.WatchArtifacts = mustEnvBool("RAG_WATCH_ARTIFACTS", c.WatchArtifacts)

	c.RAGTopK = mustEnvInt("RAG_TOP_K", c.RAGTopK)
	c.RAGHybridCandidates = mustEnvInt("RAG_HYBRID_CANDIDATES", c.RAGHybridCandidates)
	c.RAGHybridEnabled = mustEnvBool("RAG_HYBRID_ENABLED", c.RAGHybridEnabled)
	c.RAGDriftThreshold = mustEnvFloat("RAG_DRIFT_THRESHOLD", c.RAGDriftThreshold)
	c.RAGLexicalWeight = mustEnvFloat("RAG_LEXICAL_WEIGHT", c.RAGLexicalWeight)
	c.RAGVectorWeight = mustEnvFloat("RAG_VECTOR_WEIGHT", c.RAGVectorWeight)
	c.RAGMinConfidence = mustEnvFloat("RAG_MIN_CONFIDENCE", c.RAGMinConfidence)
	c.RAGMinDistinctDocs = mustEnvInt("RAG_MIN_DISTINCT_DOCS", c.RAGMinDistinctDocs)
	c.RAGMaxQuestionChars = mustEnvInt("RAG_MAX_QUESTION_CHARS", c.RAGMaxQuestionChars)
	c.RAGMaxCharsPerChunk = mustEnvInt("RAG_MAX_CHARS_PER_CHUNK", c.RAGMaxCharsPerChunk)
	c.RAGMaxConcurrency = mustEnvInt("RAG_MAX_CONCURRENCY", c.RAGMaxConcurrency)

	c.EmbeddingProvider = strings.ToLower(mustEnv("EMBEDDING_PROVIDER", c.EmbeddingProvider))
	c.EmbeddingModel = mustEnv("EMBEDDING_MODEL", c.EmbeddingModel)
	c.EmbeddingTimeoutSeconds = mustEnvInt("EMBEDDING_TIMEOUT_SECONDS", c.EmbeddingTimeoutSeconds)

	c.GenerationProvider = strings.ToLower(mustEnv("GENERATION_PROVIDER", c.GenerationProvider))
	c.GenerationDisabled = mustEnvBool("GENERATION_DISABLED", mustEnvBool("RAG_DISABLE_GENERATION", c.GenerationDisabled))
	c.GenerationMaxAttempts = mustEnvInt("GENERATION_MAX_ATTEMPTS", c.GenerationMaxAttempts)
	c.GenerationTimeoutSeconds = mustEnvFloat("GENERATION_TIMEOUT_SECONDS", c.GenerationTimeoutSeconds)
	c.GenerationRetryBackoffSeconds = mustEnvFloat("GENERATION_RETRY_BACKOFF_SECONDS", c.GenerationRetryBackoffSeconds)
	c.GenerationRetryMaxBackoffSeconds = mustEnvFloat("GENERATION_RETRY_MAX_BACKOFF_SECONDS", c.GenerationRetryMaxBackoffSeconds)
	c.GenerationRetryMultiplier = mustEnvFloat("GENERATION_RETRY_MULTIPLIER", c.GenerationRetryMultiplier)

	c.BreakerFailureRatio = mustEnvFloat("BREAKER_FAILURE_RATIO", c.BreakerFailureRatio)
	c.BreakerMinRequests = mustEnvInt("BREAKER_MIN_REQUESTS", c.BreakerMinRequests)
	c.BreakerOpenTimeoutSeconds = mustEnvInt("BREAKER_OPEN_TIMEOUT_SECONDS", c.BreakerOpenTimeoutSeconds)

	c.OllamaURL = mustEnv("OLLAMA_URL", c.OllamaURL)
	c.OllamaGenModel = mustEnv("OLLAMA_GEN_MODEL", c.OllamaGenModel)
	c.OllamaEmbedModel = mustEnv("OLLAMA_EMBED_MODEL", c.OllamaEmbedModel)
	c.OllamaTimeout = mustEnvInt("OLLAMA_TIMEOUT_SECONDS", c.OllamaTimeout)

	c.OpenAIAPIKey = mustEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = mustEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIChatModel = mustEnv("OPENAI_CHAT_MODEL", c.OpenAIChatModel)

	c.PostgresDSN = mustEnv("POSTGRES_DSN", c.PostgresDSN)

	c.RedisAddr = mustEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = mustEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = mustEnvInt("REDIS_DB", c.RedisDB)
	c.AnswerCacheTTLSeconds = mustEnvInt("ANSWER_CACHE_TTL_SECONDS", c.AnswerCacheTTLSeconds)

	c.NATSURL = mustEnv("NATS_URL", c.NATSURL)
	c.NATSReloadSubject = mustEnv("NATS_RELOAD_SUBJECT", c.NATSReloadSubject)
}

// Validate rejects values the pipeline cannot run with.
// AnswerFingerprint identifies the settings that shape an answer. Cached
// answers are only shared between processes with the same fingerprint.
func (c Config) AnswerFingerprint() string {
	genModel := c.OllamaGenModel
	if c.GenerationProvider == "openai" {
		genModel = c.OpenAIChatModel
	}
	embedModel := c.EmbeddingModel
	if c.EmbeddingProvider == "ollama" {
		embedModel = c.OllamaEmbedModel
	}
	raw := fmt.Sprintf("gen=%s/%s disabled=%t embed=%s/%s hybrid=%t cand=%d drift=%g w=%g/%g gate=%g/%d chars=%d",
		c.GenerationProvider, genModel, c.GenerationDisabled,
		c.EmbeddingProvider, embedModel,
		c.RAGHybridEnabled, c.RAGHybridCandidates, c.RAGDriftThreshold,
		c.RAGLexicalWeight, c.RAGVectorWeight,
		c.RAGMinConfidence, c.RAGMinDistinctDocs,
		c.RAGMaxCharsPerChunk,
	)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}

func (c Config) Validate() error {
	var problems []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Errorf(format, args...))
		}
	}

	check(c.OllamaTimeout > 0, "OLLAMA_TIMEOUT_SECONDS must be > 0, got %d", c.OllamaTimeout)
	check(c.APIMaxConnections >= 0, "API_MAX_CONNECTIONS must be >= 0, got %d", c.APIMaxConnections)
	check(c.RAGTopK >= 1 && c.RAGTopK <= 50, "RAG_TOP_K must be in 1..50, got %d", c.RAGTopK)
	check(c.RAGHybridCandidates >= c.RAGTopK, "RAG_HYBRID_CANDIDATES must be >= RAG_TOP_K, got %d", c.RAGHybridCandidates)
	check(c.RAGDriftThreshold >= 0 && c.RAGDriftThreshold <= 1, "RAG_DRIFT_THRESHOLD must be in [0,1], got %g", c.RAGDriftThreshold)
	check(c.RAGLexicalWeight >= 0 && c.RAGVectorWeight >= 0, "fusion weights must be non-negative")
	check(c.RAGLexicalWeight+c.RAGVectorWeight > 0, "fusion weights must not both be zero")
	check(c.RAGMinConfidence >= 0 && c.RAGMinConfidence < 1, "RAG_MIN_CONFIDENCE must be in [0,1), got %g", c.RAGMinConfidence)
	check(c.RAGMinDistinctDocs >= 1, "RAG_MIN_DISTINCT_DOCS must be >= 1, got %d", c.RAGMinDistinctDocs)
	check(c.RAGMaxQuestionChars > 0, "RAG_MAX_QUESTION_CHARS must be positive")
	check(c.RAGMaxCharsPerChunk > 0, "RAG_MAX_CHARS_PER_CHUNK must be positive")
	check(c.RAGMaxConcurrency >= 1, "RAG_MAX_CONCURRENCY must be >= 1, got %d", c.RAGMaxConcurrency)
	check(c.GenerationMaxAttempts >= 1, "GENERATION_MAX_ATTEMPTS must be >= 1, got %d", c.GenerationMaxAttempts)
	check(c.GenerationTimeoutSeconds > 0, "GENERATION_TIMEOUT_SECONDS must be positive")
	check(c.GenerationRetryBackoffSeconds >= 0, "GENERATION_RETRY_BACKOFF_SECONDS must be non-negative")
	check(c.GenerationRetryMultiplier >= 1, "GENERATION_RETRY_MULTIPLIER must be >= 1")
	check(c.EmbeddingTimeoutSeconds > 0, "EMBEDDING_TIMEOUT_SECONDS must be positive")
	check(c.APIRateLimitRPS >= 0, "API_RATE_LIMIT_RPS must be non-negative")

	switch c.EmbeddingProvider {
	case "openai", "ollama", "none":
	default:
		problems = append(problems, fmt.Errorf("EMBEDDING_PROVIDER must be openai, ollama or none, got %q", c.EmbeddingProvider))
	}
	switch c.GenerationProvider {
	case "ollama", "openai":
	default:
		problems = append(problems, fmt.Errorf("GENERATION_PROVIDER must be ollama or openai, got %q", c.GenerationProvider))
	}
	if c.GenerationProvider == "openai" && !c.GenerationDisabled && strings.TrimSpace(c.OpenAIAPIKey) == "" {
		problems = append(problems, errors.New("OPENAI_API_KEY is required for GENERATION_PROVIDER=openai"))
	}

	if len(problems) == 0 {
		return nil
	}
	return domain.WrapError(domain.ErrInvalidInput, "validate config", errors.Join(problems...))
}

// ArtifactPath resolves an artifact location against ArtifactsDir.
func (c Config) ArtifactPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ArtifactsDir, p)
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}
