package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Mux serialises stream events onto a single writer as newline-delimited
// JSON, one event per line, flushing after each event so clients see tokens
// as they are generated rather than in transport-sized batches.
//
// All sends go through one mutex, so events from different pipeline
// goroutines come out whole and in send order.
type Mux struct {
	mu      sync.Mutex
	enc     *json.Encoder
	flusher http.Flusher // nil when w cannot flush
	closed  bool
}

// NewMux wraps w. When w also implements [http.Flusher] (as
// http.ResponseWriter does), every event is flushed to the client
// immediately.
func NewMux(w io.Writer) *Mux {
	m := &Mux{enc: json.NewEncoder(w)}
	if f, ok := w.(http.Flusher); ok {
		m.flusher = f
	}
	return m
}

// Send writes one event as an NDJSON line and flushes. Terminal events
// (error, done) close the mux; subsequent sends fail.
func (m *Mux) Send(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("mux: send %q after stream closed", ev.Type)
	}

	// json.Encoder appends the newline NDJSON needs.
	if err := m.enc.Encode(ev); err != nil {
		return fmt.Errorf("mux: encode %q event: %w", ev.Type, err)
	}
	if m.flusher != nil {
		m.flusher.Flush()
	}

	if ev.Type == EventError || ev.Type == EventDone {
		m.closed = true
	}
	return nil
}
