// Package pipeline implements the grounded question pipeline: audio
// validation, speech-to-text, transcript retrieval, streaming answer
// generation, and best-effort speech synthesis, multiplexed into one ordered
// event stream.
//
// # Failure policy
//
// Stages differ in how their failures propagate:
//
//   - transcription is fatal: without text there is no question. It fails
//     before any event is emitted, as a plain error for the HTTP layer.
//   - retrieval is best effort: on error or timeout the answer is generated
//     without lesson context rather than stalling the first token.
//   - generation is fatal: before the first token it fails the question;
//     mid-stream it terminates the stream with an in-band error event and the
//     client restarts the whole question.
//   - synthesis is never fatal: a failed clip just means the client falls
//     back to browser speech.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/learnwithavi/voicetutor/internal/observe"
	"github.com/learnwithavi/voicetutor/pkg/provider/llm"
	"github.com/learnwithavi/voicetutor/pkg/provider/stt"
	"github.com/learnwithavi/voicetutor/pkg/provider/tts"
	"github.com/learnwithavi/voicetutor/pkg/retrieval"
	"github.com/learnwithavi/voicetutor/pkg/types"
)

// Stage names used in error events and metrics attributes.
const (
	StageTranscription = "transcription"
	StageRetrieval     = "retrieval"
	StageGeneration    = "generation"
	StageSynthesis     = "synthesis"
)

// maxHistoryMessages caps how much prior conversation is replayed into the
// prompt. Older turns are dropped from the front.
const maxHistoryMessages = 12

// Request is one spoken question.
type Request struct {
	// Audio is the recorded question clip.
	Audio []byte

	// MIMEType is the clip's content type as uploaded.
	MIMEType string

	// Language overrides the pipeline's configured language hint for this
	// question. Empty means the configured default.
	Language types.Language

	// CourseID and VideoID scope retrieval. Empty means the whole library.
	CourseID string
	VideoID  string

	// History is the prior conversation, oldest first.
	History []types.Message

	// Synthesize requests a spoken answer clip. Ignored when no synthesis
	// provider is configured.
	Synthesize bool
}

// ChatRequest is one typed question for the non-voice path.
type ChatRequest struct {
	Question string
	CourseID string
	VideoID  string
	History  []types.Message
}

// ChatResponse is the non-streaming answer to a ChatRequest.
type ChatResponse struct {
	Content string            `json:"content"`
	Sources []retrieval.Chunk `json:"sources,omitempty"`
}

// Pipeline orchestrates the stages for every question. Construct with [New];
// a Pipeline is safe for concurrent use and one instance serves all requests.
type Pipeline struct {
	sttP      stt.Provider
	llmP      llm.Provider
	ttsP      tts.Provider        // nil = no server-side synthesis
	retriever retrieval.Retriever // nil = answers are never grounded
	clips     *ClipStore
	metrics   *observe.Metrics

	language         types.Language
	retrievalTimeout time.Duration
	maxAudioBytes    int64
	topK             int
	voiceID          string
	audioURLPrefix   string
}

// Option is a functional option for configuring a Pipeline during construction.
type Option func(*Pipeline)

// WithTTS enables server-side answer synthesis. Clips are stored in store
// and announced on the stream as fetchable URLs.
func WithTTS(p tts.Provider, store *ClipStore) Option {
	return func(pl *Pipeline) {
		pl.ttsP = p
		pl.clips = store
	}
}

// WithRetriever enables transcript grounding with the given per-question
// timeout.
func WithRetriever(r retrieval.Retriever, timeout time.Duration) Option {
	return func(pl *Pipeline) {
		pl.retriever = r
		if timeout > 0 {
			pl.retrievalTimeout = timeout
		}
	}
}

// WithLanguage fixes the expected question language instead of auto-detecting.
func WithLanguage(l types.Language) Option {
	return func(pl *Pipeline) { pl.language = l }
}

// WithMaxAudioBytes overrides the upload ceiling.
func WithMaxAudioBytes(n int64) Option {
	return func(pl *Pipeline) { pl.maxAudioBytes = n }
}

// WithTopK overrides how many transcript chunks are fed into the prompt.
func WithTopK(k int) Option {
	return func(pl *Pipeline) { pl.topK = k }
}

// WithVoice sets the provider-specific voice for synthesised answers.
func WithVoice(voiceID string) Option {
	return func(pl *Pipeline) { pl.voiceID = voiceID }
}

// WithAudioURLPrefix sets the path prefix for clip URLs announced on the
// stream. Default "/api/voice/audio/".
func WithAudioURLPrefix(prefix string) Option {
	return func(pl *Pipeline) { pl.audioURLPrefix = prefix }
}

// WithMetrics overrides the metrics sink. Tests pass an instance backed by a
// private meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(pl *Pipeline) { pl.metrics = m }
}

// New constructs a Pipeline. Transcription and generation providers are
// mandatory; everything else is optional and degrades per the package
// failure policy.
func New(sttP stt.Provider, llmP llm.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{
		sttP:             sttP,
		llmP:             llmP,
		language:         types.LanguageAuto,
		retrievalTimeout: 400 * time.Millisecond,
		maxAudioBytes:    25 << 20,
		topK:             retrieval.DefaultTopK,
		audioURLPrefix:   "/api/voice/audio/",
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Ask runs the full voice pipeline for one question, emitting stream events
// through send in order: transcription, content fragments, an optional audio
// announcement, then done. A fatal failure after the stream has opened emits
// a single error event instead of done and returns the underlying error.
//
// Failures before the first event — [ValidationError], [NoSpeechError], and
// [TranscriptionError] — are returned without emitting anything, so the
// caller can still answer with a plain HTTP status.
func (p *Pipeline) Ask(ctx context.Context, req Request, send func(Event) error) error {
	if err := ValidateAudio(req.Audio, req.MIMEType, p.maxAudioBytes); err != nil {
		return err
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	log := observe.Logger(ctx)
	tracker := NewTracker()

	p.metrics.ActiveQuestions.Add(ctx, 1)
	defer p.metrics.ActiveQuestions.Add(ctx, -1)

	// ── Stage 1: transcription ───────────────────────────────────────────

	sttStart := time.Now()
	tr, err := p.sttP.Transcribe(ctx, stt.Request{
		Audio:    req.Audio,
		MIMEType: req.MIMEType,
		Language: lang.Hint(),
	})
	sttDur := time.Since(sttStart)
	tracker.SetSTT(sttDur)
	p.metrics.STTDuration.Record(ctx, sttDur.Seconds())
	if err != nil {
		// Nothing streamed yet, so the caller can still answer with a plain
		// HTTP error instead of an in-band event.
		p.metrics.RecordProviderError(ctx, "stt", StageTranscription)
		p.metrics.RecordQuestion(ctx, "error", string(lang))
		log.Error("transcription failed", "error", err)
		return &TranscriptionError{Err: err}
	}

	question := strings.TrimSpace(tr.Text)
	if question == "" {
		// Nothing streamed yet; silence stays a plain 400 on the caller side.
		p.metrics.RecordQuestion(ctx, "error", tr.Language)
		return &NoSpeechError{}
	}
	if err := send(TranscriptionEvent(question, tr.Language)); err != nil {
		return err
	}

	// ── Stage 2: retrieval (best effort) ─────────────────────────────────

	chunks := p.retrieve(ctx, question, req.CourseID, req.VideoID, tracker)

	// ── Stage 3: generation ──────────────────────────────────────────────

	full, err := p.generate(ctx, question, lang, chunks, req.History, tracker, send)
	if err != nil {
		p.metrics.RecordQuestion(ctx, "error", tr.Language)
		return err
	}

	// ── Stage 4: synthesis (best effort) ─────────────────────────────────

	status := "ok"
	if req.Synthesize && p.ttsP != nil && p.clips != nil {
		if !p.synthesize(ctx, full, tr.Language, send) {
			status = "degraded"
		}
	}

	// ── Done ─────────────────────────────────────────────────────────────

	record := tracker.Record()
	if err := send(DoneEvent(full, chunks, record)); err != nil {
		return err
	}
	p.metrics.PipelineDuration.Record(ctx, float64(record.Total)/1000.0)
	p.metrics.RecordQuestion(ctx, status, tr.Language)
	log.Info("question answered",
		"language", tr.Language,
		"grounded", len(chunks) > 0,
		"stt_ms", record.STT,
		"rag_ms", record.Retrieval,
		"first_token_ms", record.FirstToken,
		"total_ms", record.Total,
	)
	return nil
}

// Chat answers a typed question without audio on either side. Retrieval
// follows the same best-effort policy as the voice path; generation is a
// single blocking completion.
func (p *Pipeline) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, &ValidationError{Field: "message", Reason: "message must not be empty"}
	}

	chunks := p.retrieve(ctx, question, req.CourseID, req.VideoID, NewTracker())

	msgs := append(trimHistory(req.History), types.Message{Role: "user", Content: question})
	resp, err := p.llmP.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: BuildChatPrompt(p.language, chunks),
		Messages:     msgs,
	})
	if err != nil {
		p.metrics.RecordProviderError(ctx, "llm", StageGeneration)
		return nil, fmt.Errorf("pipeline: chat completion: %w", err)
	}
	return &ChatResponse{Content: resp.Content, Sources: chunks}, nil
}

// retrieve runs the retrieval stage under its sub-timeout. Every failure
// mode returns nil chunks; the caller proceeds ungrounded.
func (p *Pipeline) retrieve(ctx context.Context, question, courseID, videoID string, tracker *Tracker) []retrieval.Chunk {
	if p.retriever == nil {
		return nil
	}

	log := observe.Logger(ctx)
	start := time.Now()
	rctx, cancel := context.WithTimeout(ctx, p.retrievalTimeout)
	defer cancel()

	chunks, err := p.retriever.Retrieve(rctx, retrieval.Query{
		Text:     question,
		CourseID: courseID,
		VideoID:  videoID,
		TopK:     p.topK,
	})
	dur := time.Since(start)
	tracker.SetRetrieval(dur)
	p.metrics.RetrievalDuration.Record(ctx, dur.Seconds())

	switch {
	case err != nil && rctx.Err() != nil && ctx.Err() == nil:
		p.metrics.RecordRetrievalMiss(ctx, "timeout")
		log.Warn("retrieval timed out; answering without context", "timeout", p.retrievalTimeout)
		return nil
	case err != nil:
		p.metrics.RecordRetrievalMiss(ctx, "error")
		log.Warn("retrieval failed; answering without context", "error", err)
		return nil
	case len(chunks) == 0:
		p.metrics.RecordRetrievalMiss(ctx, "empty")
		return nil
	}
	return chunks
}

// generate streams the answer, forwarding each token fragment as a content
// event, and returns the assembled answer text.
func (p *Pipeline) generate(ctx context.Context, question string, language types.Language, chunks []retrieval.Chunk, history []types.Message, tracker *Tracker, send func(Event) error) (string, error) {
	msgs := append(trimHistory(history), types.Message{Role: "user", Content: question})
	genStart := time.Now()

	ch, err := p.llmP.StreamCompletion(ctx, llm.CompletionRequest{
		SystemPrompt: BuildVoicePrompt(language, chunks),
		Messages:     msgs,
	})
	if err != nil {
		p.metrics.RecordProviderError(ctx, "llm", StageGeneration)
		_ = send(ErrorEvent(StageGeneration, "could not generate an answer"))
		return "", fmt.Errorf("pipeline: start generation: %w", err)
	}

	var (
		sb         strings.Builder
		firstToken bool
	)
	for chunk := range ch {
		if chunk.FinishReason == llm.FinishReasonError {
			p.metrics.RecordProviderError(ctx, "llm", StageGeneration)
			_ = send(ErrorEvent(StageGeneration, "answer generation was interrupted"))
			return "", fmt.Errorf("pipeline: generation interrupted after %d bytes", sb.Len())
		}
		if chunk.Text == "" {
			continue
		}
		if !firstToken {
			firstToken = true
			ft := time.Since(genStart)
			tracker.SetFirstToken(ft)
			p.metrics.FirstTokenDuration.Record(ctx, ft.Seconds())
		}
		sb.WriteString(chunk.Text)
		if err := send(ContentEvent(chunk.Text)); err != nil {
			return "", err
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	full := sb.String()
	if strings.TrimSpace(full) == "" {
		_ = send(ErrorEvent(StageGeneration, "the model returned an empty answer"))
		return "", fmt.Errorf("pipeline: empty answer")
	}
	return full, nil
}

// synthesize converts the answer to audio and announces the clip. Returns
// false when the client has to fall back to its own speech synthesis.
func (p *Pipeline) synthesize(ctx context.Context, text, language string, send func(Event) error) bool {
	log := observe.Logger(ctx)
	start := time.Now()

	res, err := p.ttsP.Synthesize(ctx, tts.Request{
		Text:     text,
		Language: language,
		VoiceID:  p.voiceID,
	})
	dur := time.Since(start)
	p.metrics.TTSDuration.Record(ctx, dur.Seconds())
	if err != nil {
		p.metrics.RecordProviderError(ctx, "tts", StageSynthesis)
		p.metrics.SynthesisFallbacks.Add(ctx, 1, metric.WithAttributes(observe.Attr("reason", "provider_error")))
		log.Warn("synthesis failed; client falls back to browser speech", "error", err)
		return false
	}

	id := p.clips.Put(res.Audio, res.MIMEType)
	if err := send(AudioEvent(p.audioURLPrefix+id, res.MIMEType)); err != nil {
		return false
	}
	return true
}

// trimHistory returns at most the final maxHistoryMessages entries, copied
// so the prompt builder cannot alias the caller's slice.
func trimHistory(history []types.Message) []types.Message {
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	out := make([]types.Message, len(history))
	copy(out, history)
	return out
}
