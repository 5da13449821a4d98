package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clip is a stored synthesised answer waiting to be fetched by the client.
type Clip struct {
	Audio    []byte
	MIMEType string
}

type storedClip struct {
	clip      Clip
	expiresAt time.Time
}

// ClipStore holds synthesised answer audio in memory until the client
// fetches it or the TTL expires. Clips are addressed by random UUID, so an
// ID cannot be guessed from a question.
//
// Safe for concurrent use.
type ClipStore struct {
	mu    sync.Mutex
	clips map[string]storedClip
	ttl   time.Duration

	// now is swappable in tests.
	now func() time.Time
}

// NewClipStore creates a store whose clips expire after ttl.
func NewClipStore(ttl time.Duration) *ClipStore {
	return &ClipStore{
		clips: make(map[string]storedClip),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Put stores a clip and returns its ID. Expired clips are swept on every
// insert, so the store never needs a background janitor.
func (s *ClipStore) Put(audio []byte, mimeType string) string {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.clips[id] = storedClip{
		clip:      Clip{Audio: audio, MIMEType: mimeType},
		expiresAt: s.now().Add(s.ttl),
	}
	return id
}

// Get returns the clip with the given ID, or false when it never existed or
// has expired.
func (s *ClipStore) Get(id string) (Clip, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.clips[id]
	if !ok {
		return Clip{}, false
	}
	if s.now().After(sc.expiresAt) {
		delete(s.clips, id)
		return Clip{}, false
	}
	return sc.clip, true
}

// Len reports the number of stored (possibly expired) clips.
func (s *ClipStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clips)
}

// sweepLocked drops expired clips. Caller holds s.mu.
func (s *ClipStore) sweepLocked() {
	now := s.now()
	for id, sc := range s.clips {
		if now.After(sc.expiresAt) {
			delete(s.clips, id)
		}
	}
}
