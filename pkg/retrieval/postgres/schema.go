// Package postgres provides the PostgreSQL-backed hybrid transcript retriever.
//
// One pgxpool.Pool serves both search legs: pgvector cosine similarity over
// pre-embedded transcript chunks and native full-text search over the same
// rows. The pgvector extension must be available in the target database;
// [Migrate] installs it automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, embedder)
//	if err != nil { … }
//	defer store.Close()
//
//	chunks, err := store.Retrieve(ctx, retrieval.Query{Text: "what is a goroutine?"})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlTranscriptChunks returns the DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
//
// The full-text index uses the 'simple' configuration: course transcripts mix
// Hebrew and English and PostgreSQL has no Hebrew stemmer, so stemming is
// skipped entirely rather than applied to one language only.
func ddlTranscriptChunks(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS transcript_chunks (
    id            TEXT              PRIMARY KEY,
    course_id     TEXT              NOT NULL DEFAULT '',
    video_id      TEXT              NOT NULL,
    video_title   TEXT              NOT NULL DEFAULT '',
    content       TEXT              NOT NULL,
    embedding     vector(%d),
    start_seconds DOUBLE PRECISION  NOT NULL DEFAULT 0,
    end_seconds   DOUBLE PRECISION  NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_chunks_course_id
    ON transcript_chunks (course_id);

CREATE INDEX IF NOT EXISTS idx_transcript_chunks_video_id
    ON transcript_chunks (video_id);

CREATE INDEX IF NOT EXISTS idx_transcript_chunks_embedding
    ON transcript_chunks USING hnsw (embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_transcript_chunks_fts
    ON transcript_chunks USING GIN (to_tsvector('simple', content));
`, embeddingDimensions)
}

// Migrate creates or ensures the transcript chunk table and its indexes
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for the
// deployment (e.g., 1536 for OpenAI text-embedding-3-small). Changing this
// value after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlTranscriptChunks(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
