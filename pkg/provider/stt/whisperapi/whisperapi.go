// Package whisperapi provides an STT provider backed by the OpenAI Whisper API.
package whisperapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/learnwithavi/voicetutor/pkg/provider/stt"
)

// defaultModel is the transcription model used when none is configured.
const defaultModel = "whisper-1"

// Provider implements stt.Provider using the OpenAI Audio Transcriptions API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for pointing
// at an OpenAI-compatible self-hosted Whisper server.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new Whisper API Provider. model may be empty, in which case
// "whisper-1" is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("whisperapi: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// Transcribe implements stt.Provider. It uploads the complete clip and asks
// for a verbose response so the detected language and audio duration come
// back alongside the text.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("whisperapi: audio must not be empty")
	}

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(req.Audio), fileName(req.MIMEType), req.MIMEType),
		Model:          oai.AudioModel(p.model),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}

	tr, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("whisperapi: transcribe: %w", err)
	}

	// The SDK models the verbose_json extras (language, duration) only in the
	// raw payload, so pull them out of the response body directly.
	var verbose struct {
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
	}
	if err := json.Unmarshal([]byte(tr.RawJSON()), &verbose); err != nil {
		verbose.Language = req.Language
	}

	lang := verbose.Language
	if lang == "" {
		lang = req.Language
	}

	return &stt.Result{
		Text:     tr.Text,
		Language: lang,
		Duration: time.Duration(verbose.Duration * float64(time.Second)),
	}, nil
}

// fileName picks an upload filename whose extension matches the declared MIME
// type. The Whisper API uses the extension as a container hint when the
// Content-Type alone is ambiguous.
func fileName(mimeType string) string {
	switch mimeType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "audio.wav"
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "audio.m4a"
	case "audio/ogg":
		return "audio.ogg"
	case "audio/flac", "audio/x-flac":
		return "audio.flac"
	default:
		return "audio.webm"
	}
}
