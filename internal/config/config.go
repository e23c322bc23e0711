// Package config loads the immutable process configuration from a YAML
// file plus environment overrides. The loaded value is constructed once at
// startup and passed into component constructors; nothing reads ambient
// state afterwards.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"ragqa/internal/domain"
)

// DocsConfig locates the corpus and the index artifacts.
type DocsConfig struct {
	DocsDir     string `yaml:"docs_dir"`
	ArtifactDir string `yaml:"artifact_dir"`
}

// ChunkingConfig configures document windowing.
type ChunkingConfig struct {
	ChunkSizeChars int `yaml:"chunk_size_chars"`
	OverlapChars   int `yaml:"overlap_chars"`
}

// EmbeddingConfig configures the embedding service client.
type EmbeddingConfig struct {
	Model           string  `yaml:"model"`
	BatchSize       int     `yaml:"batch_size"`
	TimeoutSecs     int     `yaml:"timeout_secs"`
	Retries         int     `yaml:"retries"`
	PriceInputPer1M float64 `yaml:"price_input_per_1m"`
}

// RetrievalConfig configures retrieval and grounding thresholds. All five
// fields are required; Load fails rather than silently defaulting them at
// the point of use.
type RetrievalConfig struct {
	TopK           int     `yaml:"top_k"`
	MinScore       float64 `yaml:"min_score"`
	MinHits        int     `yaml:"min_hits"`
	MaxContextHits int     `yaml:"max_context_hits"`
	TopN           int     `yaml:"top_n"`
}

// LLMConfig configures the completion service client.
type LLMConfig struct {
	Model            string  `yaml:"model"`
	Temperature      float64 `yaml:"temperature"`
	MaxOutputTokens  int     `yaml:"max_output_tokens"`
	TimeoutSecs      int     `yaml:"timeout_secs"`
	Retries          int     `yaml:"retries"`
	PriceInputPer1M  float64 `yaml:"price_input_per_1m"`
	PriceOutputPer1M float64 `yaml:"price_output_per_1m"`
}

// Config is the root application configuration.
type Config struct {
	Docs      DocsConfig      `yaml:"docs"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	LLM       LLMConfig       `yaml:"llm"`
	LogLevel  string          `yaml:"log_level"`

	// OpenAIAPIKey comes from the environment only, never from the file.
	OpenAIAPIKey string `yaml:"-"`
}

// Load reads the config from path, or returns defaults when the file does
// not exist. Environment overrides are applied, then the result validated.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	applyDefaults(cfg)
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the chunking and threshold preconditions up front so
// components can assume a well-formed configuration.
func (c *Config) Validate() error {
	if c.Chunking.ChunkSizeChars < 50 {
		return fmt.Errorf("%w: chunk_size_chars %d is below the minimum of 50", domain.ErrConfiguration, c.Chunking.ChunkSizeChars)
	}
	if c.Chunking.OverlapChars < 0 || c.Chunking.OverlapChars >= c.Chunking.ChunkSizeChars {
		return fmt.Errorf("%w: overlap_chars %d must be in [0, chunk_size_chars)", domain.ErrConfiguration, c.Chunking.OverlapChars)
	}
	if c.Embedding.BatchSize < 1 {
		return fmt.Errorf("%w: embedding batch_size must be >= 1", domain.ErrConfiguration)
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("%w: top_k must be >= 1", domain.ErrConfiguration)
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("%w: min_score must be within [0, 1]", domain.ErrConfiguration)
	}
	if c.Retrieval.MinHits < 1 {
		return fmt.Errorf("%w: min_hits must be >= 1", domain.ErrConfiguration)
	}
	if c.Retrieval.MaxContextHits < 1 {
		return fmt.Errorf("%w: max_context_hits must be >= 1", domain.ErrConfiguration)
	}
	if c.Retrieval.TopN < 1 {
		return fmt.Errorf("%w: top_n must be >= 1", domain.ErrConfiguration)
	}
	return nil
}

// RequireAPIKey fails when a command needs the external services but no
// key is present in the environment.
func (c *Config) RequireAPIKey() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY is not set", domain.ErrConfiguration)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Docs: DocsConfig{
			DocsDir:     "data/docs",
			ArtifactDir: "data/artifacts/index",
		},
		Chunking: ChunkingConfig{
			ChunkSizeChars: 1000,
			OverlapChars:   160,
		},
		Embedding: EmbeddingConfig{
			Model:       "text-embedding-3-small",
			BatchSize:   64,
			TimeoutSecs: 60,
			Retries:     2,
		},
		Retrieval: RetrievalConfig{
			TopK:           5,
			MinScore:       0.40,
			MinHits:        1,
			MaxContextHits: 5,
			TopN:           3,
		},
		LLM: LLMConfig{
			Model:           "gpt-4o-mini",
			Temperature:     0.2,
			MaxOutputTokens: 400,
			TimeoutSecs:     30,
			Retries:         2,
		},
		LogLevel: "info",
	}
}

// applyDefaults fills fields a partial config file left at zero.
func applyDefaults(cfg *Config) {
	def := defaultConfig()
	if cfg.Docs.DocsDir == "" {
		cfg.Docs.DocsDir = def.Docs.DocsDir
	}
	if cfg.Docs.ArtifactDir == "" {
		cfg.Docs.ArtifactDir = def.Docs.ArtifactDir
	}
	if cfg.Chunking.ChunkSizeChars == 0 {
		cfg.Chunking.ChunkSizeChars = def.Chunking.ChunkSizeChars
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = def.Embedding.Model
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = def.Embedding.BatchSize
	}
	if cfg.Embedding.TimeoutSecs == 0 {
		cfg.Embedding.TimeoutSecs = def.Embedding.TimeoutSecs
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = def.Retrieval.TopK
	}
	if cfg.Retrieval.MinScore == 0 {
		cfg.Retrieval.MinScore = def.Retrieval.MinScore
	}
	if cfg.Retrieval.MinHits == 0 {
		cfg.Retrieval.MinHits = def.Retrieval.MinHits
	}
	if cfg.Retrieval.MaxContextHits == 0 {
		cfg.Retrieval.MaxContextHits = def.Retrieval.MaxContextHits
	}
	if cfg.Retrieval.TopN == 0 {
		cfg.Retrieval.TopN = def.Retrieval.TopN
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = def.LLM.Model
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = def.LLM.Temperature
	}
	if cfg.LLM.MaxOutputTokens == 0 {
		cfg.LLM.MaxOutputTokens = def.LLM.MaxOutputTokens
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = def.LLM.TimeoutSecs
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
}
