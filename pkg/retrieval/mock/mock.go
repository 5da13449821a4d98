// Package mock provides a test double for the retrieval.Retriever interface.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/learnwithavi/voicetutor/pkg/retrieval"
)

// RetrieveCall records a single invocation of Retrieve.
type RetrieveCall struct {
	// Ctx is the context passed to Retrieve.
	Ctx context.Context
	// Query is the Query passed to Retrieve.
	Query retrieval.Query
}

// Retriever is a mock implementation of retrieval.Retriever.
// Set Chunks and Err to control behaviour; set Delay to simulate a slow
// backend (useful for exercising retrieval timeouts).
type Retriever struct {
	mu sync.Mutex

	// Chunks is returned by Retrieve when Err is nil.
	Chunks []retrieval.Chunk

	// Err, if non-nil, is returned as the error from Retrieve.
	Err error

	// Delay, if positive, makes Retrieve sleep before returning, honouring
	// ctx cancellation.
	Delay time.Duration

	// Calls records every invocation of Retrieve in order.
	Calls []RetrieveCall
}

// Retrieve records the call, applies Delay, and returns the configured
// Chunks and Err.
func (r *Retriever) Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.Chunk, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, RetrieveCall{Ctx: ctx, Query: q})
	chunks, err, delay := r.Chunks, r.Err, r.Delay
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	out := make([]retrieval.Chunk, len(chunks))
	copy(out, chunks)
	return out, nil
}

// Reset clears all recorded calls. Thread-safe.
func (r *Retriever) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = nil
}

// Ensure Retriever implements retrieval.Retriever at compile time.
var _ retrieval.Retriever = (*Retriever)(nil)
