// Package server exposes the question pipeline over HTTP.
//
// Routes:
//
//	POST /api/voice/ask        — spoken question; NDJSON event stream response
//	POST /api/chat             — typed question; single JSON response
//	GET  /api/voice/status     — configured providers and library availability
//	GET  /api/voice/audio/{id} — fetch a synthesised answer clip
//	GET  /healthz, /readyz     — probes
//	GET  /metrics              — Prometheus scrape endpoint
//
// Question routes sit behind the admission gate; probes and metrics do not.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/learnwithavi/voicetutor/internal/admission"
	"github.com/learnwithavi/voicetutor/internal/config"
	"github.com/learnwithavi/voicetutor/internal/health"
	"github.com/learnwithavi/voicetutor/internal/observe"
	"github.com/learnwithavi/voicetutor/internal/pipeline"
)

// shutdownTimeout bounds graceful drain on Shutdown.
const shutdownTimeout = 10 * time.Second

// TargetLatencyMs is the end-to-end latency target advertised to clients so
// they can tune their own waiting UI.
const TargetLatencyMs = 2000

// Status is the static capability summary served by /api/voice/status: one
// boolean per pipeline stage so the web client knows which features to offer.
type Status struct {
	STT             bool `json:"stt"`
	LLM             bool `json:"llm"`
	TTS             bool `json:"tts"`
	Retrieval       bool `json:"retrieval"`
	TargetLatencyMs int  `json:"targetLatencyMs"`
}

// Server ties the pipeline, clip store, admission gate, and probes into one
// http.Server.
type Server struct {
	cfg      config.ServerConfig
	pipe     *pipeline.Pipeline
	clips    *pipeline.ClipStore
	gate     *admission.Gate
	health   *health.Handler
	status   Status
	maxBytes int64

	httpServer *http.Server
}

// New assembles a Server. clips may be nil when synthesis is disabled;
// /api/voice/audio then always answers 404.
func New(cfg config.ServerConfig, pipe *pipeline.Pipeline, clips *pipeline.ClipStore, gate *admission.Gate, h *health.Handler, status Status, maxAudioBytes int64) *Server {
	s := &Server{
		cfg:    cfg,
		pipe:   pipe,
		clips:  clips,
		gate:   gate,
		health: h,
		status: status,
		// Multipart framing and form fields ride alongside the audio part.
		maxBytes: maxAudioBytes + (1 << 20),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the full route tree wrapped in the observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /api/voice/ask", s.gate.Middleware(http.HandlerFunc(s.handleAsk)))
	mux.Handle("POST /api/chat", s.gate.Middleware(http.HandlerFunc(s.handleChat)))
	mux.HandleFunc("GET /api/voice/status", s.handleStatus)
	mux.HandleFunc("GET /api/voice/audio/{id}", s.handleAudio)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)

	return observe.Middleware(observe.DefaultMetrics())(mux)
}

// Run serves until ctx is cancelled, then drains connections gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLS != nil {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("server listening", "addr", s.cfg.ListenAddr, "tls", s.cfg.TLS != nil)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shCtx)
}
