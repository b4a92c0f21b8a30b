package token

import (
	"sync"
	"time"

	"github.com/healthqr/healthqr/internal/platform/clock"
)

// storeEntry holds the server-side context associated with an opaque token
// value.
type storeEntry struct {
	SubjectID string
	Purpose   string
	ExpiresAt time.Time
}

// Store keeps the value-to-context mapping for opaque tokens in memory,
// since the tokens themselves carry no claims. Expired entries are swept
// by a background goroutine. Thread-safe for concurrent access.
type Store struct {
	mu      sync.RWMutex
	entries map[string]storeEntry
	clock   clock.Clock
	done    chan struct{}
}

// TokenContext is the context returned by a successful lookup.
type TokenContext struct {
	SubjectID string    `json:"subject_id"`
	Purpose   string    `json:"purpose"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewStore creates an empty store and starts a background goroutine that
// cleans up expired entries every 5 minutes.
func NewStore(clk clock.Clock) *Store {
	s := &Store{
		entries: make(map[string]storeEntry),
		clock:   clk,
		done:    make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Put records the context for an issued opaque token.
func (s *Store) Put(tok OpaqueToken, subjectID, purpose string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[tok.Value] = storeEntry{
		SubjectID: subjectID,
		Purpose:   purpose,
		ExpiresAt: tok.ExpiresAt,
	}
}

// Lookup resolves a token value to its context. An unknown or expired
// value is a miss; expiry is checked against the clock at lookup time, not
// left to the background sweep.
func (s *Store) Lookup(value string) (TokenContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[value]
	if !ok {
		return TokenContext{}, false
	}
	if !entry.ExpiresAt.After(s.clock.Now()) {
		return TokenContext{}, false
	}
	return TokenContext{
		SubjectID: entry.SubjectID,
		Purpose:   entry.Purpose,
		ExpiresAt: entry.ExpiresAt,
	}, true
}

// Delete removes a token value, invalidating it immediately.
func (s *Store) Delete(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, value)
}

// Count returns the number of stored entries, expired or not.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the background cleanup goroutine. Safe to call multiple
// times; only the first call has effect.
func (s *Store) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes entries whose tokens have expired. Lookup already treats
// them as misses, so this only bounds memory.
func (s *Store) cleanup() {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for value, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, value)
		}
	}
}
