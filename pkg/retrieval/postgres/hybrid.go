package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/learnwithavi/voicetutor/pkg/retrieval"
)

// candidateMultiplier widens each search leg beyond TopK so that the merged
// ranking has enough overlap candidates to reorder.
const candidateMultiplier = 3

// Retrieve implements [retrieval.Retriever]. It embeds the question, runs the
// vector and full-text legs in parallel, and merges them into one weighted
// ranking.
//
// The full-text leg failing on malformed query syntax does not fail the whole
// retrieval; the vector leg alone still produces a usable ranking. A vector
// leg failure is fatal because the embeddings carry most of the weight.
func (s *Store) Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.Chunk, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("transcript store: query text must not be empty")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	limit := topK * candidateMultiplier

	embedding, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("transcript store: embed query: %w", err)
	}

	var semantic, keyword []retrieval.Chunk
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		semantic, err = s.semanticSearch(gctx, embedding, q, limit)
		return err
	})
	g.Go(func() error {
		var err error
		keyword, err = s.keywordSearch(gctx, q, limit)
		if err != nil {
			// Degrade to vector-only rather than failing the question.
			keyword = nil
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return rankChunks(semantic, keyword, s.semanticWeight, s.keywordWeight, topK), nil
}

// rankChunks merges the two search legs into the weighted top-K selection and
// returns it in chronological order (ascending start time, ties by ID), which
// is the order callers present sources in.
func rankChunks(semantic, keyword []retrieval.Chunk, semanticWeight, keywordWeight float64, topK int) []retrieval.Chunk {
	merged := retrieval.MergeHybrid(semantic, keyword, semanticWeight, keywordWeight, topK)
	retrieval.SortChronological(merged)
	return merged
}

// semanticSearch runs the pgvector leg: cosine distance between the query
// embedding and stored chunk embeddings, lower distance first. The distance
// is converted to a similarity (1 - distance) so that MergeHybrid can treat
// both legs as higher-is-better.
func (s *Store) semanticSearch(ctx context.Context, embedding []float32, q retrieval.Query, limit int) ([]retrieval.Chunk, error) {
	args := []any{pgvector.NewVector(embedding)} // $1 = query vector
	where := scopeClause(q, &args)

	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT id, course_id, video_id, video_title, content, start_seconds, end_seconds,
		       1 - (embedding <=> $1) AS similarity
		FROM   transcript_chunks
		%s
		ORDER  BY embedding <=> $1
		LIMIT  $%d`, where, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript store: semantic search: %w", err)
	}
	return collectChunks(rows)
}

// keywordSearch runs the full-text leg using websearch_to_tsquery, which
// tolerates raw user input (quotes, OR, minus) without SQL-level parsing.
// Scores are ts_rank values, higher first.
func (s *Store) keywordSearch(ctx context.Context, q retrieval.Query, limit int) ([]retrieval.Chunk, error) {
	args := []any{q.Text} // $1 = raw question
	where := scopeClause(q, &args)
	if where == "" {
		where = "WHERE to_tsvector('simple', content) @@ websearch_to_tsquery('simple', $1)"
	} else {
		where += "\n  AND to_tsvector('simple', content) @@ websearch_to_tsquery('simple', $1)"
	}

	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT id, course_id, video_id, video_title, content, start_seconds, end_seconds,
		       ts_rank(to_tsvector('simple', content), websearch_to_tsquery('simple', $1)) AS rank
		FROM   transcript_chunks
		%s
		ORDER  BY rank DESC
		LIMIT  $%d`, where, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript store: keyword search: %w", err)
	}
	return collectChunks(rows)
}

// scopeClause builds the optional course/video WHERE clause, appending bind
// arguments to args.
func scopeClause(q retrieval.Query, args *[]any) string {
	next := func(v any) string {
		*args = append(*args, v)
		return fmt.Sprintf("$%d", len(*args))
	}

	var conditions []string
	if q.CourseID != "" {
		conditions = append(conditions, "course_id = "+next(q.CourseID))
	}
	if q.VideoID != "" {
		conditions = append(conditions, "video_id = "+next(q.VideoID))
	}
	if len(conditions) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conditions, "\n  AND ")
}

// collectChunks scans search rows into retrieval.Chunk values. The final
// SELECT column is the leg-specific score.
func collectChunks(rows pgx.Rows) ([]retrieval.Chunk, error) {
	chunks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (retrieval.Chunk, error) {
		var c retrieval.Chunk
		if err := row.Scan(
			&c.ID,
			&c.CourseID,
			&c.VideoID,
			&c.VideoTitle,
			&c.Text,
			&c.StartTime,
			&c.EndTime,
			&c.Score,
		); err != nil {
			return retrieval.Chunk{}, err
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan rows: %w", err)
	}
	if chunks == nil {
		chunks = []retrieval.Chunk{}
	}
	return chunks, nil
}
