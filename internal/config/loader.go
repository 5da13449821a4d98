package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"whisper"},
	"llm":        {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":        {"elevenlabs"},
	"embeddings": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields with the package defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.RateLimit.PerMinute == 0 {
		cfg.Server.RateLimit.PerMinute = DefaultRatePerMinute
	}
	if cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = DefaultRateBurst
	}
	if cfg.Pipeline.RetrievalTimeout == 0 {
		cfg.Pipeline.RetrievalTimeout = Duration(DefaultRetrievalTimeout)
	}
	if cfg.Pipeline.MaxAudioBytes == 0 {
		cfg.Pipeline.MaxAudioBytes = DefaultMaxAudioBytes
	}
	if cfg.Pipeline.TopK == 0 {
		cfg.Pipeline.TopK = DefaultTopK
	}
	if cfg.Pipeline.AudioClipTTL == 0 {
		cfg.Pipeline.AudioClipTTL = Duration(DefaultAudioClipTTL)
	}
	if cfg.Library.SemanticWeight == 0 && cfg.Library.KeywordWeight == 0 {
		cfg.Library.SemanticWeight = 0.7
		cfg.Library.KeywordWeight = 0.3
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.RateLimit.PerMinute < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit.per_minute must not be negative"))
	}
	if cfg.Server.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit.burst must not be negative"))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// The voice pipeline cannot run without transcription and generation.
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, fmt.Errorf("providers.stt is required: the pipeline cannot transcribe questions without it"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("providers.llm is required: the pipeline cannot generate answers without it"))
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is empty; answers will be text-only and clients fall back to browser speech")
	}

	// Retrieval availability
	if cfg.Library.PostgresDSN != "" && cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, fmt.Errorf("library.postgres_dsn is set but providers.embeddings is not; hybrid search needs query embeddings"))
	}
	if cfg.Library.PostgresDSN == "" {
		slog.Warn("library.postgres_dsn is empty; answers will not be grounded in course transcripts")
	}

	// Pipeline
	if cfg.Pipeline.Language != "" && !cfg.Pipeline.Language.IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.language %q is invalid; valid values: he, en, auto", cfg.Pipeline.Language))
	}
	if cfg.Pipeline.RetrievalTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline.retrieval_timeout must not be negative"))
	}
	if cfg.Pipeline.MaxAudioBytes < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_audio_bytes must not be negative"))
	}

	// Library weights
	if cfg.Library.SemanticWeight < 0 || cfg.Library.KeywordWeight < 0 {
		errs = append(errs, fmt.Errorf("library search weights must not be negative"))
	} else if sum := cfg.Library.SemanticWeight + cfg.Library.KeywordWeight; sum > 0 && math.Abs(sum-1) > 0.01 {
		slog.Warn("library search weights do not sum to 1; scores will not be comparable across deployments",
			"semantic_weight", cfg.Library.SemanticWeight,
			"keyword_weight", cfg.Library.KeywordWeight,
		)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
