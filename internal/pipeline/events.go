package pipeline

import (
	"github.com/learnwithavi/voicetutor/pkg/retrieval"
)

// EventType discriminates the stream event union.
type EventType string

const (
	// EventTranscription carries the recognised question text. Always the
	// first event of a successful stream.
	EventTranscription EventType = "transcription"

	// EventContent carries one incremental answer fragment.
	EventContent EventType = "content"

	// EventAudio announces a fetchable synthesised answer clip. At most one
	// per stream, and only when synthesis succeeded.
	EventAudio EventType = "audio"

	// EventError reports a fatal pipeline failure. It terminates the stream;
	// no done event follows.
	EventError EventType = "error"

	// EventDone closes a successful stream with the assembled answer and the
	// latency breakdown.
	EventDone EventType = "done"
)

// Event is one NDJSON stream record. Exactly the fields relevant to Type are
// populated; everything else is omitted from the wire form.
type Event struct {
	Type EventType `json:"type"`

	// Text is the recognised question (transcription only).
	Text string `json:"text,omitempty"`

	// Language is the detected question language (transcription only).
	Language string `json:"language,omitempty"`

	// Content is one incremental answer fragment (content only).
	Content string `json:"content,omitempty"`

	// AudioURL is where the synthesised clip can be fetched (audio only).
	AudioURL string `json:"audioUrl,omitempty"`

	// MIMEType describes the clip encoding (audio only).
	MIMEType string `json:"mimeType,omitempty"`

	// Stage and Error describe a fatal failure (error only).
	Stage string `json:"stage,omitempty"`
	Error string `json:"error,omitempty"`

	// FullContent is the complete assembled answer (done only).
	FullContent string `json:"fullContent,omitempty"`

	// Sources lists the transcript chunks the answer was grounded on
	// (done only; empty when the answer ran without context).
	Sources []retrieval.Chunk `json:"sources,omitempty"`

	// Latency is the timing breakdown (done only).
	Latency *LatencyRecord `json:"latency,omitempty"`
}

// TranscriptionEvent builds the stream-opening transcription event.
func TranscriptionEvent(text, language string) Event {
	return Event{Type: EventTranscription, Text: text, Language: language}
}

// ContentEvent builds an incremental answer fragment event.
func ContentEvent(fragment string) Event {
	return Event{Type: EventContent, Content: fragment}
}

// AudioEvent builds the synthesised clip announcement.
func AudioEvent(url, mimeType string) Event {
	return Event{Type: EventAudio, AudioURL: url, MIMEType: mimeType}
}

// ErrorEvent builds a fatal failure event for the named stage.
func ErrorEvent(stage, message string) Event {
	return Event{Type: EventError, Stage: stage, Error: message}
}

// DoneEvent builds the stream-closing summary event.
func DoneEvent(fullContent string, sources []retrieval.Chunk, latency LatencyRecord) Event {
	return Event{Type: EventDone, FullContent: fullContent, Sources: sources, Latency: &latency}
}
