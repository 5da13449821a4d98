package pipeline

import (
	"fmt"
	"strings"
)

// ValidationError describes a rejected question upload. The server maps it
// to a 400 response before any stream output is written.
type ValidationError struct {
	// Field names the offending input ("audio", "mime_type").
	Field string

	// Reason is a human-readable explanation safe to return to clients.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NoSpeechError reports that transcription technically succeeded but the
// recording contained no recognisable speech. The server maps it to a 400
// response; no stream output has been written when it occurs.
type NoSpeechError struct{}

// Error implements the error interface.
func (e *NoSpeechError) Error() string {
	return "no speech detected; please try recording again"
}

// TranscriptionError reports a speech-to-text provider failure. It occurs
// before any stream output is written, so the server maps it to a 500
// response. The wrapped provider error is for logs only, never for clients.
type TranscriptionError struct {
	Err error
}

// Error implements the error interface.
func (e *TranscriptionError) Error() string {
	return "could not transcribe the audio"
}

// Unwrap returns the underlying provider error.
func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// ValidateAudio checks an uploaded question clip before any provider is
// called. maxBytes is the upload ceiling; zero or negative disables the size
// check.
func ValidateAudio(audio []byte, mimeType string, maxBytes int64) error {
	if len(audio) == 0 {
		return &ValidationError{Field: "audio", Reason: "no audio data received"}
	}
	if maxBytes > 0 && int64(len(audio)) > maxBytes {
		return &ValidationError{
			Field:  "audio",
			Reason: fmt.Sprintf("audio exceeds the %d MiB limit", maxBytes>>20),
		}
	}
	if mimeType != "" && !strings.HasPrefix(mimeType, "audio/") && !strings.HasPrefix(mimeType, "video/webm") {
		// Browsers record microphone input as video/webm containers with an
		// audio-only track, so that prefix is accepted alongside audio/*.
		return &ValidationError{
			Field:  "mime_type",
			Reason: fmt.Sprintf("unsupported content type %q", mimeType),
		}
	}
	return nil
}
