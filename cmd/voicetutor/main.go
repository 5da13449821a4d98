// Command voicetutor is the voice question-answering server for the course
// platform: it transcribes a learner's spoken question, grounds the answer in
// the course transcripts, and streams the answer back as text plus optional
// synthesised speech.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/learnwithavi/voicetutor/internal/admission"
	"github.com/learnwithavi/voicetutor/internal/config"
	"github.com/learnwithavi/voicetutor/internal/health"
	"github.com/learnwithavi/voicetutor/internal/observe"
	"github.com/learnwithavi/voicetutor/internal/pipeline"
	"github.com/learnwithavi/voicetutor/internal/server"
	"github.com/learnwithavi/voicetutor/pkg/provider/embeddings"
	oaembed "github.com/learnwithavi/voicetutor/pkg/provider/embeddings/openai"
	"github.com/learnwithavi/voicetutor/pkg/provider/llm"
	"github.com/learnwithavi/voicetutor/pkg/provider/llm/anyllm"
	oaillm "github.com/learnwithavi/voicetutor/pkg/provider/llm/openai"
	"github.com/learnwithavi/voicetutor/pkg/provider/stt"
	"github.com/learnwithavi/voicetutor/pkg/provider/stt/whisperapi"
	"github.com/learnwithavi/voicetutor/pkg/provider/tts"
	"github.com/learnwithavi/voicetutor/pkg/provider/tts/elevenlabs"
	"github.com/learnwithavi/voicetutor/pkg/retrieval/postgres"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicetutor: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicetutor: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voicetutor starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voicetutor",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	sttP, err := buildSTT(cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to create stt provider", "err", err)
		return 1
	}
	llmP, err := buildLLM(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to create llm provider", "err", err)
		return 1
	}

	var ttsP tts.Provider
	if cfg.Providers.TTS.Name != "" {
		ttsP, err = buildTTS(cfg.Providers.TTS)
		if err != nil {
			slog.Error("failed to create tts provider", "err", err)
			return 1
		}
	}

	// ── Transcript library ────────────────────────────────────────────────────
	var (
		store    *postgres.Store
		checkers []health.Checker
	)
	if cfg.Library.PostgresDSN != "" {
		embedder, err := buildEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			slog.Error("failed to create embeddings provider", "err", err)
			return 1
		}
		store, err = postgres.NewStore(ctx, cfg.Library.PostgresDSN, embedder,
			postgres.WithWeights(cfg.Library.SemanticWeight, cfg.Library.KeywordWeight))
		if err != nil {
			slog.Error("failed to connect to transcript library", "err", err)
			return 1
		}
		defer store.Close()
		checkers = append(checkers, health.Checker{Name: "library", Check: store.Ping})
		slog.Info("transcript library connected",
			"embedding_model", embedder.ModelID(),
			"dimensions", embedder.Dimensions(),
		)
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	clips := pipeline.NewClipStore(cfg.Pipeline.AudioClipTTL.Std())
	pipeOpts := []pipeline.Option{
		pipeline.WithLanguage(cfg.Pipeline.Language),
		pipeline.WithMaxAudioBytes(cfg.Pipeline.MaxAudioBytes),
		pipeline.WithTopK(cfg.Pipeline.TopK),
	}
	if ttsP != nil {
		pipeOpts = append(pipeOpts, pipeline.WithTTS(ttsP, clips))
		if voice := optString(cfg.Providers.TTS.Options, "voice_id"); voice != "" {
			pipeOpts = append(pipeOpts, pipeline.WithVoice(voice))
		}
	}
	if store != nil {
		pipeOpts = append(pipeOpts, pipeline.WithRetriever(store, cfg.Pipeline.RetrievalTimeout.Std()))
	}
	pipe := pipeline.New(sttP, llmP, pipeOpts...)

	// ── HTTP server ───────────────────────────────────────────────────────────
	gate := admission.NewGate(cfg.Server.RateLimit.PerMinute, cfg.Server.RateLimit.Burst)
	status := server.Status{
		STT:             true,
		LLM:             true,
		TTS:             ttsP != nil,
		Retrieval:       store != nil,
		TargetLatencyMs: server.TargetLatencyMs,
	}
	srv := server.New(cfg.Server, pipe, clips, gate, health.New(checkers...), status, cfg.Pipeline.MaxAudioBytes)

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

func buildSTT(entry config.ProviderEntry) (stt.Provider, error) {
	switch entry.Name {
	case "whisper":
		var opts []whisperapi.Option
		if entry.BaseURL != "" {
			opts = append(opts, whisperapi.WithBaseURL(entry.BaseURL))
		}
		return whisperapi.New(entry.APIKey, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", entry.Name)
	}
}

func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	case "ollama":
		// Local server: BaseURL is the address, no API key.
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Name, entry.Model, opts...)
	case "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile":
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Name, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", entry.Name)
	}
}

func buildTTS(entry config.ProviderEntry) (tts.Provider, error) {
	switch entry.Name {
	case "elevenlabs":
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if format := optString(entry.Options, "output_format"); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		if voice := optString(entry.Options, "voice_id"); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown tts provider %q", entry.Name)
	}
}

func buildEmbeddings(entry config.ProviderEntry) (embeddings.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", entry.Name)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
