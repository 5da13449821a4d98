package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/learnwithavi/voicetutor/pkg/provider/embeddings"
	"github.com/learnwithavi/voicetutor/pkg/retrieval"
)

// Compile-time interface check.
var _ retrieval.Retriever = (*Store)(nil)

// Store is the PostgreSQL-backed transcript library. It holds a single
// [pgxpool.Pool] and an embeddings provider used to embed incoming questions
// and indexed transcript text.
//
// All operations are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider

	semanticWeight float64
	keywordWeight  float64
}

// Option is a functional option for Store.
type Option func(*Store)

// WithWeights overrides the default 0.7/0.3 semantic/keyword score blend.
func WithWeights(semantic, keyword float64) Option {
	return func(s *Store) {
		s.semanticWeight = semantic
		s.keywordWeight = keyword
	}
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure the transcript table exists.
//
// The embedder's Dimensions() determines the vector column width; it must
// match the model that produced the stored embeddings.
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embedder.Dimensions()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	s := &Store{
		pool:           pool,
		embedder:       embedder,
		semanticWeight: retrieval.DefaultSemanticWeight,
		keywordWeight:  retrieval.DefaultKeywordWeight,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Ping verifies the database connection. Used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}

// IndexedChunk is a transcript segment to be written into the library.
type IndexedChunk struct {
	ID         string
	CourseID   string
	VideoID    string
	VideoTitle string
	Text       string
	StartTime  float64
	EndTime    float64
}

// IndexChunk embeds the chunk text and upserts it into the transcript table.
// If a chunk with the same ID already exists it is completely replaced.
func (s *Store) IndexChunk(ctx context.Context, chunk IndexedChunk) error {
	vec, err := s.embedder.Embed(ctx, chunk.Text)
	if err != nil {
		return fmt.Errorf("transcript store: embed chunk: %w", err)
	}

	const q = `
		INSERT INTO transcript_chunks
		    (id, course_id, video_id, video_title, content, embedding, start_seconds, end_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
		    course_id     = EXCLUDED.course_id,
		    video_id      = EXCLUDED.video_id,
		    video_title   = EXCLUDED.video_title,
		    content       = EXCLUDED.content,
		    embedding     = EXCLUDED.embedding,
		    start_seconds = EXCLUDED.start_seconds,
		    end_seconds   = EXCLUDED.end_seconds`

	_, err = s.pool.Exec(ctx, q,
		chunk.ID,
		chunk.CourseID,
		chunk.VideoID,
		chunk.VideoTitle,
		chunk.Text,
		pgvector.NewVector(vec),
		chunk.StartTime,
		chunk.EndTime,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("transcript store: index chunk: %w", err)
	}
	return nil
}
