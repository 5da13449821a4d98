package pipeline_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/learnwithavi/voicetutor/internal/pipeline"
)

func TestMux_EmitsOneJSONObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	m := pipeline.NewMux(&buf)

	events := []pipeline.Event{
		pipeline.TranscriptionEvent("hello", "en"),
		pipeline.ContentEvent("Hi "),
		pipeline.ContentEvent("there."),
		pipeline.DoneEvent("Hi there.", nil, pipeline.LatencyRecord{STT: 10, Total: 50}),
	}
	for _, ev := range events {
		if err := m.Send(ev); err != nil {
			t.Fatalf("Send(%q): %v", ev.Type, err)
		}
	}

	scanner := bufio.NewScanner(&buf)
	var lines []pipeline.Event
	for scanner.Scan() {
		var ev pipeline.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", len(lines), err)
		}
		lines = append(lines, ev)
	}
	if len(lines) != len(events) {
		t.Fatalf("got %d lines, want %d", len(lines), len(events))
	}
	for i, ev := range events {
		if lines[i].Type != ev.Type {
			t.Errorf("line %d type = %q, want %q", i, lines[i].Type, ev.Type)
		}
	}
}

func TestMux_DoneCarriesLatencyKeys(t *testing.T) {
	var buf bytes.Buffer
	m := pipeline.NewMux(&buf)

	rec := pipeline.LatencyRecord{STT: 120, Retrieval: 80, FirstToken: 340, Total: 900}
	if err := m.Send(pipeline.DoneEvent("answer", nil, rec)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	line := buf.String()
	for _, key := range []string{`"stt":120`, `"rag":80`, `"llm":340`, `"total":900`} {
		if !strings.Contains(line, key) {
			t.Errorf("done event missing %s: %s", key, line)
		}
	}
}

func TestMux_RejectsSendsAfterTerminalEvent(t *testing.T) {
	var buf bytes.Buffer
	m := pipeline.NewMux(&buf)

	if err := m.Send(pipeline.ErrorEvent("generation", "boom")); err != nil {
		t.Fatalf("Send error event: %v", err)
	}
	if err := m.Send(pipeline.ContentEvent("late")); err == nil {
		t.Error("Send after terminal event succeeded, want failure")
	}
}

func TestMux_OmitsIrrelevantFields(t *testing.T) {
	var buf bytes.Buffer
	m := pipeline.NewMux(&buf)

	if err := m.Send(pipeline.ContentEvent("token")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(buf.Bytes(), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(raw) != 2 {
		t.Errorf("content event has %d fields %v, want only type and content", len(raw), raw)
	}
}

// TestMux_EventWireShapes pins the exact JSON keys of every event type; web
// clients switch on these byte shapes.
func TestMux_EventWireShapes(t *testing.T) {
	tests := []struct {
		name string
		ev   pipeline.Event
		want string
	}{
		{
			name: "transcription",
			ev:   pipeline.TranscriptionEvent("what is a channel?", "en"),
			want: `{"type":"transcription","text":"what is a channel?","language":"en"}`,
		},
		{
			name: "content",
			ev:   pipeline.ContentEvent("Hello"),
			want: `{"type":"content","content":"Hello"}`,
		},
		{
			name: "audio",
			ev:   pipeline.AudioEvent("/api/voice/audio/abc", "audio/mpeg"),
			want: `{"type":"audio","audioUrl":"/api/voice/audio/abc","mimeType":"audio/mpeg"}`,
		},
		{
			name: "error",
			ev:   pipeline.ErrorEvent("generation", "boom"),
			want: `{"type":"error","stage":"generation","error":"boom"}`,
		},
		{
			name: "done",
			ev:   pipeline.DoneEvent("Hello", nil, pipeline.LatencyRecord{STT: 1, Retrieval: 2, FirstToken: 3, Total: 4}),
			want: `{"type":"done","fullContent":"Hello","latency":{"stt":1,"rag":2,"llm":3,"total":4}}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			m := pipeline.NewMux(&buf)
			if err := m.Send(tc.ev); err != nil {
				t.Fatalf("Send: %v", err)
			}
			if got := strings.TrimRight(buf.String(), "\n"); got != tc.want {
				t.Errorf("wire form = %s\nwant        %s", got, tc.want)
			}
		})
	}
}
