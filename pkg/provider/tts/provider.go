// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and
// converts a fully assembled answer into a playable audio clip. The pipeline
// only invokes synthesis after the complete answer text is known, so the
// interface is a single request/response call; incremental sentence-level
// synthesis is a possible future extension of the implementations, not of
// this contract.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Request carries one text clip to be synthesised.
type Request struct {
	// Text is the complete text to speak. Must be non-empty.
	Text string

	// Language is the ISO 639-1 language of Text (e.g., "he", "en"). Providers
	// may use it to pick a voice or model; empty means provider default.
	Language string

	// VoiceID is the provider-specific voice identifier. Empty means the
	// provider's configured default voice.
	VoiceID string
}

// Result is a completed synthesis.
type Result struct {
	// Audio is the encoded audio clip.
	Audio []byte

	// MIMEType describes the encoding of Audio (e.g., "audio/mpeg",
	// "audio/pcm").
	MIMEType string
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use; multiple syntheses may run
// in parallel for different requests.
type Provider interface {
	// Synthesize converts req.Text into audio. A non-nil error means the
	// provider failed; the pipeline treats every synthesis failure as
	// non-fatal and degrades to client-side voice.
	Synthesize(ctx context.Context, req Request) (*Result, error)
}
