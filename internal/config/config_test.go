package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/policy-rag/internal/core/domain"
)

func TestLoadIncludesRetrievalDefaults(t *testing.T) {
	t.Setenv("RAG_CONFIG_PATH", "")
	t.Setenv("RAG_TOP_K", "")
	t.Setenv("RAG_DRIFT_THRESHOLD", "")
	t.Setenv("RAG_MIN_CONFIDENCE", "")
	t.Setenv("GENERATION_PROVIDER", "")
	t.Setenv("EMBEDDING_PROVIDER", "")
	t.Setenv("API_MAX_CONNECTIONS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.RAGTopK != 5 {
		t.Fatalf("expected default top k 5, got %d", cfg.RAGTopK)
	}
	if cfg.RAGDriftThreshold != 0.90 {
		t.Fatalf("expected default drift threshold 0.90, got %v", cfg.RAGDriftThreshold)
	}
	if cfg.RAGLexicalWeight != 0.6 || cfg.RAGVectorWeight != 0.4 {
		t.Fatalf("unexpected default weights %v/%v", cfg.RAGLexicalWeight, cfg.RAGVectorWeight)
	}
	if cfg.RAGMinConfidence != 0.30 || cfg.RAGMinDistinctDocs != 2 {
		t.Fatalf("unexpected gate defaults %v/%d", cfg.RAGMinConfidence, cfg.RAGMinDistinctDocs)
	}
	if cfg.EmbeddingProvider != "openai" {
		t.Fatalf("expected default embedding provider openai, got %q", cfg.EmbeddingProvider)
	}
	if cfg.APIMaxConnections != 256 {
		t.Fatalf("expected default connection cap 256, got %d", cfg.APIMaxConnections)
	}
}

func TestLoadAppliesFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	body := "top_k: 7\nhybrid_candidates: 30\nmin_confidence: 0.4\nartifacts_dir: /srv/rag\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RAG_CONFIG_PATH", path)
	t.Setenv("RAG_TOP_K", "9")
	t.Setenv("RAG_MIN_CONFIDENCE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.RAGTopK != 9 {
		t.Fatalf("expected env to override file top k, got %d", cfg.RAGTopK)
	}
	if cfg.RAGMinConfidence != 0.4 {
		t.Fatalf("expected file min confidence 0.4, got %v", cfg.RAGMinConfidence)
	}
	if got := cfg.ArtifactPath(cfg.ChunksPath); got != filepath.Join("/srv/rag", "chunks.jsonl") {
		t.Fatalf("unexpected chunks path %q", got)
	}
}

func TestLegacyDisableGenerationFlag(t *testing.T) {
	t.Setenv("RAG_CONFIG_PATH", "")
	t.Setenv("GENERATION_DISABLED", "")
	t.Setenv("RAG_DISABLE_GENERATION", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.GenerationDisabled {
		t.Fatalf("expected RAG_DISABLE_GENERATION to disable generation")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.RAGTopK = 0
	cfg.RAGDriftThreshold = 1.5
	cfg.EmbeddingProvider = "cohere"
	cfg.APIMaxConnections = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input kind, got %v", err)
	}
	for _, want := range []string{"RAG_TOP_K", "RAG_DRIFT_THRESHOLD", "EMBEDDING_PROVIDER", "API_MAX_CONNECTIONS"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in error, got %v", want, err)
		}
	}
}

func TestValidateRequiresOpenAIKeyForOpenAIGeneration(t *testing.T) {
	cfg := Defaults()
	cfg.GenerationProvider = "openai"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing key error")
	}
	cfg.GenerationDisabled = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected disabled generation to skip key check, got %v", err)
	}
}

func TestValidateAcceptsZeroDriftThreshold(t *testing.T) {
	cfg := Defaults()
	cfg.RAGDriftThreshold = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected threshold 0 to be valid, got %v", err)
	}
}

func TestAnswerFingerprintTracksAnswerSettings(t *testing.T) {
	base := Defaults()
	if base.AnswerFingerprint() != Defaults().AnswerFingerprint() {
		t.Fatalf("expected stable fingerprint")
	}

	otherPort := Defaults()
	otherPort.APIPort = "9090"
	if otherPort.AnswerFingerprint() != base.AnswerFingerprint() {
		t.Fatalf("expected transport settings to leave the fingerprint alone")
	}

	for name, mutate := range map[string]func(*Config){
		"model":      func(c *Config) { c.OllamaGenModel = "mistral" },
		"weights":    func(c *Config) { c.RAGLexicalWeight = 0.5 },
		"confidence": func(c *Config) { c.RAGMinConfidence = 0.4 },
		"disabled":   func(c *Config) { c.GenerationDisabled = true },
	} {
		cfg := Defaults()
		mutate(&cfg)
		if cfg.AnswerFingerprint() == base.AnswerFingerprint() {
			t.Fatalf("%s: expected fingerprint to change", name)
		}
	}
}
