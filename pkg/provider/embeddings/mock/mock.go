// Package mock provides a test double for the embeddings.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/learnwithavi/voicetutor/pkg/provider/embeddings"
)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	// Ctx is the context passed to Embed.
	Ctx context.Context
	// Text is the text passed to Embed.
	Text string
}

// Provider is a mock implementation of embeddings.Provider.
// Set Vector to control the returned embedding and Err to inject failures.
type Provider struct {
	mu sync.Mutex

	// Vector is returned by Embed when Err is nil. A nil Vector yields a zero
	// vector of length Dims.
	Vector []float32

	// Err, if non-nil, is returned as the error from Embed.
	Err error

	// Dims is the value returned by Dimensions. Defaults to 1536 when zero.
	Dims int

	// Model is the value returned by ModelID.
	Model string

	// Calls records every invocation of Embed in order.
	Calls []EmbedCall
}

// Embed records the call and returns the configured Vector and Err.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, EmbedCall{Ctx: ctx, Text: text})
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Vector == nil {
		return make([]float32, p.Dimensions()), nil
	}
	out := make([]float32, len(p.Vector))
	copy(out, p.Vector)
	return out, nil
}

// Dimensions returns Dims, defaulting to 1536.
func (p *Provider) Dimensions() int {
	if p.Dims == 0 {
		return 1536
	}
	return p.Dims
}

// ModelID returns Model.
func (p *Provider) ModelID() string {
	return p.Model
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)
