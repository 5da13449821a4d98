package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/learnwithavi/voicetutor/pkg/retrieval"
	"github.com/learnwithavi/voicetutor/pkg/types"
)

// voiceSystemPrompt is the base persona for spoken answers. Answers are kept
// short because they are read aloud, and the model must not improvise beyond
// the supplied lesson excerpts.
const voiceSystemPrompt = `You are a friendly tutor answering a student's spoken question about a video course.

Rules:
- Answer in 2-3 short sentences. The answer will be spoken aloud, so keep it conversational and avoid lists, headings, and code blocks.
- Base your answer ONLY on the lesson excerpts provided below. Do not use outside knowledge.
- When you use an excerpt, mention where in the lesson it appears using its [MM:SS] timestamp.
- If the excerpts do not contain the answer, say "I don't have that information in the current lesson" and suggest the student rephrase or ask about another topic.`

// chatSystemPrompt is the persona for typed questions. The same grounding
// rules apply but written answers may be longer and structured.
const chatSystemPrompt = `You are a helpful tutor answering a student's question about a video course.

Rules:
- Base your answer ONLY on the lesson excerpts provided below. Do not use outside knowledge.
- Cite the [MM:SS] timestamps of the excerpts you draw from.
- If the excerpts do not contain the answer, say "I don't have that information in the current lesson" and suggest what the student could ask instead.`

// noContextNotice replaces the excerpt block when retrieval produced nothing,
// so the model does not hallucinate lesson content that was never supplied.
const noContextNotice = `No lesson excerpts are available for this question. Tell the student you don't have that information in the current lesson and suggest they rephrase.`

// BuildVoicePrompt assembles the system prompt for a spoken answer: persona,
// language directive, and the retrieved lesson excerpts.
func BuildVoicePrompt(language types.Language, chunks []retrieval.Chunk) string {
	return buildPrompt(voiceSystemPrompt, language, chunks)
}

// BuildChatPrompt assembles the system prompt for a typed answer.
func BuildChatPrompt(language types.Language, chunks []retrieval.Chunk) string {
	return buildPrompt(chatSystemPrompt, language, chunks)
}

func buildPrompt(persona string, language types.Language, chunks []retrieval.Chunk) string {
	var sb strings.Builder
	sb.WriteString(persona)

	switch language {
	case types.LanguageHebrew:
		sb.WriteString("\n- Answer in Hebrew.")
	case types.LanguageEnglish:
		sb.WriteString("\n- Answer in English.")
	default:
		sb.WriteString("\n- Answer in the same language the question was asked in.")
	}

	sb.WriteString("\n\n")
	if len(chunks) == 0 {
		sb.WriteString(noContextNotice)
	} else {
		sb.WriteString(FormatContext(chunks))
	}
	return sb.String()
}

// FormatContext renders retrieved chunks as the excerpt block fed to the
// model. Chunks are grouped by video and listed in lesson order, each line
// prefixed with its [MM:SS] start timestamp:
//
//	Lesson excerpts:
//
//	Video: Introduction to Goroutines
//	[02:15] A goroutine is a lightweight thread ...
//	[05:40] The go keyword starts a new goroutine ...
func FormatContext(chunks []retrieval.Chunk) string {
	ordered := make([]retrieval.Chunk, len(chunks))
	copy(ordered, chunks)

	// Each video appears exactly once, videos in order of their earliest
	// excerpt, excerpts chronological within the video. Library-wide
	// retrieval can interleave start times across videos, so a plain
	// chronological sort is not enough.
	firstStart := make(map[string]float64, len(ordered))
	for _, c := range ordered {
		if t, ok := firstStart[c.VideoID]; !ok || c.StartTime < t {
			firstStart[c.VideoID] = c.StartTime
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.VideoID != b.VideoID {
			if firstStart[a.VideoID] != firstStart[b.VideoID] {
				return firstStart[a.VideoID] < firstStart[b.VideoID]
			}
			return a.VideoID < b.VideoID
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})

	var sb strings.Builder
	sb.WriteString("Lesson excerpts:\n")

	currentVideo := ""
	for _, c := range ordered {
		if c.VideoID != currentVideo {
			currentVideo = c.VideoID
			title := c.VideoTitle
			if title == "" {
				title = c.VideoID
			}
			sb.WriteString("\nVideo: ")
			sb.WriteString(title)
			sb.WriteByte('\n')
		}
		sb.WriteString(fmt.Sprintf("[%s] %s\n", FormatTimestamp(c.StartTime), strings.TrimSpace(c.Text)))
	}
	return sb.String()
}

// FormatTimestamp renders seconds as MM:SS, or H:MM:SS past the hour mark.
// Negative values clamp to 00:00.
func FormatTimestamp(seconds float64) string {
	total := int(seconds)
	if total < 0 {
		total = 0
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
