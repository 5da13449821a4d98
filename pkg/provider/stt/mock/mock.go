// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider in unit tests to verify that the orchestrator passes the right
// audio and language hints, and to feed controlled transcripts without a live
// backend.
package mock

import (
	"context"
	"sync"

	"github.com/learnwithavi/voicetutor/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the Request passed to Transcribe.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
// Zero values for response fields cause Transcribe to return a zero Result.
// Set Err to inject a provider failure.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil. A nil Result yields
	// an empty stt.Result rather than a nil pointer.
	Result *stt.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every invocation of Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the configured Result and Err.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Req: req})
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result == nil {
		return &stt.Result{}, nil
	}
	res := *p.Result
	return &res, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
