package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/learnwithavi/voicetutor/internal/observe"
	"github.com/learnwithavi/voicetutor/internal/pipeline"
	"github.com/learnwithavi/voicetutor/pkg/types"
)

// errorBody is the JSON shape of non-stream error responses.
type errorBody struct {
	Error string `json:"error"`
}

// handleAsk accepts a multipart question upload and answers with an NDJSON
// event stream. Form fields:
//
//	audio    — the recorded clip (required)
//	language — "he", "en", or "auto" (optional, default auto)
//	courseId — retrieval scope (optional)
//	videoId  — retrieval scope (optional)
//	history  — JSON array of {"role","content"} messages (optional)
//	tts      — "false" to skip answer synthesis (optional, default true)
//
// Failures before the stream opens get a plain status: invalid input and
// silent audio are 400s, a transcription provider fault is a 500. Once the
// first event is written, failures arrive in-band as an error event.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)

	if err := r.ParseMultipartForm(s.maxBytes); err != nil {
		writeError(w, http.StatusBadRequest, "could not parse multipart form")
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing audio field")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read audio upload")
		return
	}

	lang := types.Language(r.FormValue("language"))
	if lang != "" && !lang.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("language %q is invalid; valid values: he, en, auto", lang))
		return
	}

	synthesize := true
	if raw := r.FormValue("tts"); raw != "" {
		synthesize, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "tts must be a boolean")
			return
		}
	}

	history, err := parseHistory(r.FormValue("history"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := pipeline.Request{
		Audio:      audio,
		MIMEType:   audioMIMEType(r),
		Language:   lang,
		CourseID:   r.FormValue("courseId"),
		VideoID:    r.FormValue("videoId"),
		History:    history,
		Synthesize: synthesize,
	}

	// Headers must be decided before the first event is written. From here
	// on, failures are in-band.
	w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	mux := pipeline.NewMux(w)
	if err := s.pipe.Ask(r.Context(), req, mux.Send); err != nil {
		var (
			verr *pipeline.ValidationError
			nerr *pipeline.NoSpeechError
			terr *pipeline.TranscriptionError
		)
		switch {
		case errors.As(err, &verr):
			// Nothing streamed yet; a plain status is still possible.
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		case errors.As(err, &nerr):
			writeError(w, http.StatusBadRequest, nerr.Error())
			return
		case errors.As(err, &terr):
			writeError(w, http.StatusInternalServerError, terr.Error())
			return
		}
		observe.Logger(r.Context()).Error("question failed", "error", err)
	}
}

// handleChat answers a typed question with a single JSON document.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message  string          `json:"message"`
		CourseID string          `json:"courseId"`
		VideoID  string          `json:"videoId"`
		History  []types.Message `json:"history"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateHistory(body.History); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.pipe.Chat(r.Context(), pipeline.ChatRequest{
		Question: body.Message,
		CourseID: body.CourseID,
		VideoID:  body.VideoID,
		History:  body.History,
	})
	if err != nil {
		var verr *pipeline.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		observe.Logger(r.Context()).Error("chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not generate an answer")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleStatus reports which providers are wired in. The web client uses it
// to decide whether to offer the microphone button at all.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status)
}

// handleAudio serves a stored answer clip. Clips are short-lived; an expired
// or unknown ID is a 404 and the client falls back to browser speech.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if s.clips == nil {
		writeError(w, http.StatusNotFound, "audio clip not found")
		return
	}

	clip, ok := s.clips.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "audio clip not found")
		return
	}

	w.Header().Set("Content-Type", clip.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(clip.Audio)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	_, _ = w.Write(clip.Audio)
}

// audioMIMEType reads the uploaded part's declared content type, trimmed of
// codec parameters such as "audio/webm;codecs=opus".
func audioMIMEType(r *http.Request) string {
	if r.MultipartForm == nil {
		return ""
	}
	files := r.MultipartForm.File["audio"]
	if len(files) == 0 {
		return ""
	}
	ct := files[0].Header.Get("Content-Type")
	for i := 0; i < len(ct); i++ {
		if ct[i] == ';' {
			return ct[:i]
		}
	}
	return ct
}

// parseHistory decodes the optional history form field.
func parseHistory(raw string) ([]types.Message, error) {
	if raw == "" {
		return nil, nil
	}
	var history []types.Message
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("history must be a JSON array of messages")
	}
	if err := validateHistory(history); err != nil {
		return nil, err
	}
	return history, nil
}

// validateHistory rejects messages with roles the prompt builder cannot
// replay.
func validateHistory(history []types.Message) error {
	for i, msg := range history {
		switch msg.Role {
		case "user", "assistant":
		default:
			return fmt.Errorf("history[%d].role %q is invalid; valid values: user, assistant", i, msg.Role)
		}
	}
	return nil
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
