// Package types defines the shared types used across all voicetutor packages.
//
// These types form the lingua franca between providers, the retrieval layer,
// and the pipeline orchestrator. They are intentionally minimal — each package
// defines its own domain types, but cross-cutting data structures live here to
// avoid circular imports.
package types

// Message represents a single turn in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`
}

// Language is the caller-declared language hint for a voice request.
type Language string

const (
	// LanguageAuto lets the transcription provider detect the language.
	LanguageAuto Language = "auto"

	// LanguageHebrew requests Hebrew recognition and synthesis.
	LanguageHebrew Language = "he"

	// LanguageEnglish requests English recognition and synthesis.
	LanguageEnglish Language = "en"
)

// IsValid reports whether l is a recognised language hint.
func (l Language) IsValid() bool {
	switch l {
	case LanguageAuto, LanguageHebrew, LanguageEnglish:
		return true
	}
	return false
}

// Hint returns the ISO 639-1 code to pass to a provider, or the empty string
// when the provider should auto-detect.
func (l Language) Hint() string {
	if l == LanguageAuto || l == "" {
		return ""
	}
	return string(l)
}
