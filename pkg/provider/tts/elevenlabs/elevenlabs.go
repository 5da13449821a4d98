// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/websocket"

	"github.com/learnwithavi/voicetutor/pkg/provider/tts"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	defaultModel     = "eleven_multilingual_v2"
	defaultOutputFmt = "mp3_44100_128"
	defaultVoiceID   = "21m00Tcm4TlvDq8ikWAM" // Rachel (multilingual)
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_multilingual_v2").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "mp3_44100_128",
// "pcm_16000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithDefaultVoice sets the voice used when a request does not name one.
func WithDefaultVoice(voiceID string) Option {
	return func(p *Provider) {
		p.defaultVoice = voiceID
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	defaultVoice string
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		defaultVoice: defaultVoiceID,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
// An empty Text signals end of input and flushes pending synthesis.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded audio
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"` // error or info
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// Synthesize opens a WebSocket to ElevenLabs, sends the full answer text, and
// collects the synthesised audio until the provider marks the stream final.
//
// The stream-input endpoint is used rather than the plain HTTP one so that a
// future sentence-level incremental mode only has to change the write side.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	if req.Text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}
	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = p.defaultVoice
	}

	wsURL := fmt.Sprintf(wsEndpointFmt, voiceID, p.model, p.outputFormat)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Reads of complete clips can exceed the library's 32 KiB default.
	conn.SetReadLimit(8 << 20)

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}

	// BOI handshake: authenticate and configure the stream. ElevenLabs
	// requires a non-empty first text value.
	if err := writeJSON(ctx, conn, boiMessage{Text: " ", VoiceSettings: vs, XiAPIKey: p.apiKey}); err != nil {
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	// Full answer text, then the empty-text flush marker.
	if err := writeJSON(ctx, conn, textMessage{Text: req.Text + " ", VoiceSettings: vs}); err != nil {
		return nil, fmt.Errorf("elevenlabs: send text: %w", err)
	}
	if err := writeJSON(ctx, conn, textMessage{Text: ""}); err != nil {
		return nil, fmt.Errorf("elevenlabs: send flush: %w", err)
	}

	var audio []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			// A normal closure after at least one audio frame means the
			// provider finished without an explicit isFinal marker.
			if len(audio) > 0 && websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}

		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err == nil {
				audio = append(audio, chunk...)
			}
		}
		if resp.IsFinal {
			break
		}
	}

	if len(audio) == 0 {
		return nil, errors.New("elevenlabs: no audio returned")
	}

	return &tts.Result{Audio: audio, MIMEType: mimeForFormat(p.outputFormat)}, nil
}

// writeJSON marshals v and writes it as a single text frame.
func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

// mimeForFormat maps an ElevenLabs output_format value to a MIME type.
func mimeForFormat(format string) string {
	switch {
	case len(format) >= 3 && format[:3] == "mp3":
		return "audio/mpeg"
	case len(format) >= 3 && format[:3] == "pcm":
		return "audio/pcm"
	case len(format) >= 4 && format[:4] == "ulaw":
		return "audio/basic"
	default:
		return "application/octet-stream"
	}
}
