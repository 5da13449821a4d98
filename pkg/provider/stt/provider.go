// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (e.g., the OpenAI
// Whisper API or a self-hosted Whisper server) and exposes a uniform
// request/response interface: a complete audio clip in, recognised text out.
// The voice pipeline treats transcription as atomic — there is no
// partial-result contract — so the interface is deliberately non-streaming.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly: when ctx is cancelled the call must return as quickly
// as possible so an abandoned request does not hold provider resources.
package stt

import (
	"context"
	"time"
)

// Request carries one audio clip to be transcribed.
type Request struct {
	// Audio is the complete encoded audio payload (e.g., WAV, MP3, WebM).
	Audio []byte

	// MIMEType is the declared content type of Audio (e.g., "audio/webm").
	// Providers may use it to pick a container hint; it is not validated here.
	MIMEType string

	// Language is an optional ISO 639-1 recognition hint (e.g., "he", "en").
	// Empty means the provider should auto-detect the language.
	Language string
}

// Result is a completed transcription.
type Result struct {
	// Text is the recognised speech. It may be empty or whitespace-only when
	// the clip contained no intelligible speech; callers decide how to treat
	// that case.
	Text string

	// Language is the detected (or pass-through declared) language code.
	Language string

	// Duration is the length of recognised audio as reported by the provider.
	// Zero when the provider does not report it.
	Duration time.Duration
}

// Provider is the abstraction over any batch STT backend.
//
// Implementations must be safe for concurrent use; one Provider instance is
// shared by every in-flight pipeline.
type Provider interface {
	// Transcribe sends the audio clip to the backend and returns the
	// recognised text. A non-nil error means the provider itself failed;
	// a successful call with empty text is a valid Result, not an error.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}
