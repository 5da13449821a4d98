package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/learnwithavi/voicetutor/internal/admission"
	"github.com/learnwithavi/voicetutor/internal/config"
	"github.com/learnwithavi/voicetutor/internal/health"
	"github.com/learnwithavi/voicetutor/internal/observe"
	"github.com/learnwithavi/voicetutor/internal/pipeline"
	"github.com/learnwithavi/voicetutor/pkg/provider/llm"
	llmmock "github.com/learnwithavi/voicetutor/pkg/provider/llm/mock"
	"github.com/learnwithavi/voicetutor/pkg/provider/stt"
	sttmock "github.com/learnwithavi/voicetutor/pkg/provider/stt/mock"
	"github.com/learnwithavi/voicetutor/pkg/provider/tts"
	ttsmock "github.com/learnwithavi/voicetutor/pkg/provider/tts/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// newTestServer wires a Server around mock providers. The admission gate is
// generous unless the caller replaces it.
func newTestServer(t *testing.T, opts ...pipeline.Option) (*Server, *pipeline.ClipStore) {
	t.Helper()

	sttP := &sttmock.Provider{Result: &stt.Result{Text: "what is a channel?", Language: "en"}}
	llmP := &llmmock.Provider{
		StreamChunks:     []llm.Chunk{{Text: "A channel connects goroutines."}, {FinishReason: "stop"}},
		CompleteResponse: &llm.CompletionResponse{Content: "A typed answer."},
	}
	ttsP := &ttsmock.Provider{Result: &tts.Result{Audio: []byte{1, 2}, MIMEType: "audio/mpeg"}}
	clips := pipeline.NewClipStore(time.Minute)

	opts = append([]pipeline.Option{
		pipeline.WithTTS(ttsP, clips),
		pipeline.WithMetrics(testMetrics(t)),
	}, opts...)
	pipe := pipeline.New(sttP, llmP, opts...)

	srv := New(
		config.ServerConfig{ListenAddr: ":0"},
		pipe,
		clips,
		admission.NewGate(600, 100),
		health.New(),
		Status{STT: true, LLM: true, TTS: true, TargetLatencyMs: TargetLatencyMs},
		25<<20,
	)
	return srv, clips
}

// multipartBody builds an ask request body with a properly typed audio part.
func multipartBody(t *testing.T, audio []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="audio"; filename="question.webm"`)
	hdr.Set("Content-Type", "audio/webm")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err := part.Write(audio); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField(%s): %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func decodeStream(t *testing.T, body *bytes.Buffer) []pipeline.Event {
	t.Helper()
	var events []pipeline.Event
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		var ev pipeline.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("invalid NDJSON line %q: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}
	return events
}

func TestHandleAsk_StreamsEvents(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartBody(t, []byte("fake audio"), nil)
	req := httptest.NewRequest("POST", "/api/voice/ask", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/x-ndjson") {
		t.Errorf("Content-Type = %q, want NDJSON", ct)
	}

	events := decodeStream(t, rec.Body)
	if len(events) < 3 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	if events[0].Type != pipeline.EventTranscription {
		t.Errorf("first event = %q, want transcription", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != pipeline.EventDone {
		t.Errorf("last event = %q, want done", last.Type)
	}
	if last.FullContent != "A channel connects goroutines." {
		t.Errorf("fullContent = %q", last.FullContent)
	}
	if last.Latency == nil {
		t.Error("done event missing latency record")
	}
}

func TestHandleAsk_TTSFalseSkipsAudioEvent(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartBody(t, []byte("fake audio"), map[string]string{
		"tts": "false",
	})
	req := httptest.NewRequest("POST", "/api/voice/ask", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	for _, ev := range decodeStream(t, rec.Body) {
		if ev.Type == pipeline.EventAudio {
			t.Error("audio event streamed although tts=false")
		}
	}
}

func TestHandleAsk_InvalidLanguageIs400(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartBody(t, []byte("fake audio"), map[string]string{
		"language": "fr",
	})
	req := httptest.NewRequest("POST", "/api/voice/ask", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleAsk_SilentAudioIs400(t *testing.T) {
	sttP := &sttmock.Provider{Result: &stt.Result{Text: "  ", Language: "en"}}
	llmP := &llmmock.Provider{}
	pipe := pipeline.New(sttP, llmP, pipeline.WithMetrics(testMetrics(t)))
	srv := New(
		config.ServerConfig{ListenAddr: ":0"},
		pipe,
		nil,
		admission.NewGate(600, 100),
		health.New(),
		Status{},
		25<<20,
	)

	body, contentType := multipartBody(t, []byte("silence"), nil)
	req := httptest.NewRequest("POST", "/api/voice/ask", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "no speech") {
		t.Errorf("body should explain no speech was detected: %s", rec.Body.String())
	}
}

func TestHandleAsk_TranscriptionFailureIs500(t *testing.T) {
	sttP := &sttmock.Provider{Err: errors.New("whisper api down")}
	llmP := &llmmock.Provider{}
	pipe := pipeline.New(sttP, llmP, pipeline.WithMetrics(testMetrics(t)))
	srv := New(
		config.ServerConfig{ListenAddr: ":0"},
		pipe,
		nil,
		admission.NewGate(600, 100),
		health.New(),
		Status{},
		25<<20,
	)

	body, contentType := multipartBody(t, []byte("fake audio"), nil)
	req := httptest.NewRequest("POST", "/api/voice/ask", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "whisper api down") {
		t.Errorf("raw provider error leaked to the client: %s", rec.Body.String())
	}
}

func TestHandleAsk_MissingAudioIs400(t *testing.T) {
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("courseId", "go-101")
	_ = mw.Close()

	req := httptest.NewRequest("POST", "/api/voice/ask", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleAsk_MalformedHistoryIs400(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartBody(t, []byte("fake audio"), map[string]string{
		"history": "{not json",
	})
	req := httptest.NewRequest("POST", "/api/voice/ask", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleAsk_InvalidHistoryRoleIs400(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartBody(t, []byte("fake audio"), map[string]string{
		"history": `[{"role":"system","content":"sneaky"}]`,
	})
	req := httptest.NewRequest("POST", "/api/voice/ask", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "role") {
		t.Errorf("body should name the invalid role: %s", rec.Body.String())
	}
}

func TestHandleAsk_RateLimited(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.gate = admission.NewGate(1, 1)

	send := func() *httptest.ResponseRecorder {
		body, contentType := multipartBody(t, []byte("fake audio"), nil)
		req := httptest.NewRequest("POST", "/api/voice/ask", body)
		req.Header.Set("Content-Type", contentType)
		req.RemoteAddr = "10.1.2.3:4444"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After")
	}
}

func TestHandleChat_ReturnsAnswer(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/chat",
		strings.NewReader(`{"message":"explain channels"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp pipeline.ChatResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Content != "A typed answer." {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestHandleChat_EmptyMessageIs400(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{"message":"  "}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/voice/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Clients feature-detect on these booleans.
	for _, key := range []string{"stt", "llm", "tts", "retrieval"} {
		if _, ok := got[key].(bool); !ok {
			t.Errorf("status %q = %v, want a boolean", key, got[key])
		}
	}
	if got["stt"] != true || got["tts"] != true {
		t.Errorf("status = %v", got)
	}
	if got["targetLatencyMs"] != float64(TargetLatencyMs) {
		t.Errorf("targetLatencyMs = %v, want %d", got["targetLatencyMs"], TargetLatencyMs)
	}
}

func TestHandleAudio_ServesStoredClip(t *testing.T) {
	srv, clips := newTestServer(t)
	id := clips.Put([]byte{9, 8, 7}, "audio/mpeg")

	req := httptest.NewRequest("GET", "/api/voice/audio/"+id, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Body.Len() != 3 {
		t.Errorf("body length = %d, want 3", rec.Body.Len())
	}
}

func TestHandleAudio_UnknownClipIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/voice/audio/not-a-real-id", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHealthzRoute(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
