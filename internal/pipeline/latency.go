package pipeline

import (
	"sync"
	"time"
)

// LatencyRecord is the per-question timing breakdown reported on the final
// stream event and mirrored into metrics. All values are milliseconds.
//
// The JSON keys match what the web player's latency HUD expects: "llm" is
// time to the first generated token, not full generation, and "total" runs
// from audio receipt to the moment the record is cut.
type LatencyRecord struct {
	STT        int64 `json:"stt"`
	Retrieval  int64 `json:"rag"`
	FirstToken int64 `json:"llm"`
	Total      int64 `json:"total"`
}

// Tracker accumulates per-stage timings for a single question. The zero
// value is not usable; construct with [NewTracker], which anchors the total
// at construction time.
//
// Safe for concurrent use: synthesis and generation may report from
// different goroutines.
type Tracker struct {
	start time.Time

	mu         sync.Mutex
	stt        time.Duration
	retrieval  time.Duration
	firstToken time.Duration
}

// NewTracker starts tracking a question. The total clock starts now.
func NewTracker() *Tracker {
	return &Tracker{start: time.Now()}
}

// SetSTT records the transcription stage duration.
func (t *Tracker) SetSTT(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stt = d
}

// SetRetrieval records the retrieval stage duration. On a timeout this is
// the elapsed time until the stage was abandoned, not the backend's own
// duration.
func (t *Tracker) SetRetrieval(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retrieval = d
}

// SetFirstToken records the time from generation start to the first token.
func (t *Tracker) SetFirstToken(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.firstToken = d
}

// Record cuts the final LatencyRecord. Total is wall time since NewTracker,
// so it always covers at least the sum of the recorded stages.
func (t *Tracker) Record() LatencyRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return LatencyRecord{
		STT:        t.stt.Milliseconds(),
		Retrieval:  t.retrieval.Milliseconds(),
		FirstToken: t.firstToken.Milliseconds(),
		Total:      time.Since(t.start).Milliseconds(),
	}
}
