// Package retrieval defines the transcript retrieval layer.
//
// A Retriever answers a learner's question with the most relevant transcript
// chunks from the course library. The primary implementation
// (retrieval/postgres) combines pgvector similarity search with PostgreSQL
// full-text search into a single weighted ranking; the interface itself is
// backend-agnostic.
package retrieval

import (
	"context"
	"sort"
)

// DefaultTopK is the number of chunks returned when Query.TopK is zero.
const DefaultTopK = 5

// Chunk is one retrieved transcript segment together with its ranking score.
type Chunk struct {
	// ID uniquely identifies the chunk within the library.
	ID string `json:"id"`

	// CourseID identifies the course the chunk belongs to.
	CourseID string `json:"courseId"`

	// VideoID identifies the source video.
	VideoID string `json:"videoId"`

	// VideoTitle is the human-readable title of the source video.
	VideoTitle string `json:"videoTitle"`

	// Text is the transcript excerpt.
	Text string `json:"text"`

	// StartTime and EndTime bound the excerpt within the video, in seconds.
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`

	// Score is the combined relevance score in [0, 1], higher is better.
	Score float64 `json:"score"`
}

// Query describes one retrieval request.
type Query struct {
	// Text is the learner's question. Must be non-empty.
	Text string

	// CourseID restricts results to a single course. Empty means all courses.
	CourseID string

	// VideoID restricts results to a single video. Empty means all videos in
	// scope.
	VideoID string

	// TopK caps the number of returned chunks. Zero means DefaultTopK.
	TopK int
}

// Retriever finds the transcript chunks most relevant to a question.
//
// Implementations must be safe for concurrent use. An empty result slice with
// a nil error is a valid outcome meaning nothing relevant was found.
type Retriever interface {
	Retrieve(ctx context.Context, q Query) ([]Chunk, error)
}

// SortChronological orders chunks by ascending StartTime, breaking ties by ID.
// The prompt builder uses this so quoted context reads in lesson order rather
// than score order, and so equal timestamps produce a stable layout.
func SortChronological(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].StartTime != chunks[j].StartTime {
			return chunks[i].StartTime < chunks[j].StartTime
		}
		return chunks[i].ID < chunks[j].ID
	})
}
