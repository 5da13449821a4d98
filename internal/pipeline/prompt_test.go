package pipeline

import (
	"strings"
	"testing"

	"github.com/learnwithavi/voicetutor/pkg/retrieval"
	"github.com/learnwithavi/voicetutor/pkg/types"
)

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00"},
		{5, "00:05"},
		{65, "01:05"},
		{135.7, "02:15"},
		{3599, "59:59"},
		{3600, "1:00:00"},
		{7325, "2:02:05"},
		{-3, "00:00"},
	}
	for _, tc := range tests {
		if got := FormatTimestamp(tc.seconds); got != tc.want {
			t.Errorf("FormatTimestamp(%v) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestFormatContext_GroupsByVideoInLessonOrder(t *testing.T) {
	chunks := []retrieval.Chunk{
		{ID: "b", VideoID: "v2", VideoTitle: "Channels", Text: "channels block", StartTime: 10},
		{ID: "a", VideoID: "v1", VideoTitle: "Goroutines", Text: "later point", StartTime: 300},
		{ID: "c", VideoID: "v1", VideoTitle: "Goroutines", Text: "early point", StartTime: 30},
	}

	got := FormatContext(chunks)

	// Chronological order regroups v1's two chunks together.
	wantOrder := []string{
		"Video: Channels",
		"[00:10] channels block",
		"Video: Goroutines",
		"[00:30] early point",
		"[05:00] later point",
	}
	pos := 0
	for _, line := range wantOrder {
		idx := strings.Index(got[pos:], line)
		if idx < 0 {
			t.Fatalf("context missing %q in order:\n%s", line, got)
		}
		pos += idx + len(line)
	}
}

func TestFormatContext_InterleavedVideosGroupOnce(t *testing.T) {
	// Library-wide retrieval interleaves start times across videos. Each
	// video must still get exactly one header with its excerpts together.
	chunks := []retrieval.Chunk{
		{ID: "a", VideoID: "v1", VideoTitle: "Goroutines", Text: "first point", StartTime: 10},
		{ID: "b", VideoID: "v2", VideoTitle: "Channels", Text: "channels block", StartTime: 20},
		{ID: "c", VideoID: "v1", VideoTitle: "Goroutines", Text: "second point", StartTime: 30},
	}

	got := FormatContext(chunks)

	if n := strings.Count(got, "Video: Goroutines"); n != 1 {
		t.Errorf("Goroutines header appears %d times, want 1:\n%s", n, got)
	}
	if n := strings.Count(got, "Video: Channels"); n != 1 {
		t.Errorf("Channels header appears %d times, want 1:\n%s", n, got)
	}

	// v1 has the earliest excerpt, so it leads; its chunks stay together
	// and chronological despite v2's chunk landing between them in time.
	wantOrder := []string{
		"Video: Goroutines",
		"[00:10] first point",
		"[00:30] second point",
		"Video: Channels",
		"[00:20] channels block",
	}
	pos := 0
	for _, line := range wantOrder {
		idx := strings.Index(got[pos:], line)
		if idx < 0 {
			t.Fatalf("context missing %q in order:\n%s", line, got)
		}
		pos += idx + len(line)
	}
}

func TestFormatContext_FallsBackToVideoID(t *testing.T) {
	chunks := []retrieval.Chunk{{ID: "a", VideoID: "v42", Text: "text", StartTime: 0}}
	got := FormatContext(chunks)
	if !strings.Contains(got, "Video: v42") {
		t.Errorf("context should name the video by ID when untitled:\n%s", got)
	}
}

func TestBuildVoicePrompt_NoContext(t *testing.T) {
	got := BuildVoicePrompt(types.LanguageAuto, nil)
	if !strings.Contains(got, "No lesson excerpts") {
		t.Errorf("ungrounded prompt missing the no-context notice:\n%s", got)
	}
	if !strings.Contains(got, "same language") {
		t.Errorf("auto language prompt missing the language mirror rule:\n%s", got)
	}
}

func TestBuildVoicePrompt_LanguageDirective(t *testing.T) {
	he := BuildVoicePrompt(types.LanguageHebrew, nil)
	if !strings.Contains(he, "Answer in Hebrew.") {
		t.Errorf("Hebrew prompt missing directive:\n%s", he)
	}
	en := BuildVoicePrompt(types.LanguageEnglish, nil)
	if !strings.Contains(en, "Answer in English.") {
		t.Errorf("English prompt missing directive:\n%s", en)
	}
}

func TestBuildVoicePrompt_IncludesExcerpts(t *testing.T) {
	chunks := []retrieval.Chunk{
		{ID: "a", VideoID: "v1", VideoTitle: "Intro", Text: "welcome to the course", StartTime: 12},
	}
	got := BuildVoicePrompt(types.LanguageAuto, chunks)
	if !strings.Contains(got, "[00:12] welcome to the course") {
		t.Errorf("prompt missing excerpt:\n%s", got)
	}
	if strings.Contains(got, "No lesson excerpts") {
		t.Errorf("grounded prompt contains the no-context notice:\n%s", got)
	}
}

func TestBuildChatPrompt_SharesGroundingRules(t *testing.T) {
	got := BuildChatPrompt(types.LanguageAuto, nil)
	if !strings.Contains(got, "ONLY on the lesson excerpts") {
		t.Errorf("chat prompt missing the grounding rule:\n%s", got)
	}
}
