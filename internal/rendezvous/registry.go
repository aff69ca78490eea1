package rendezvous

import (
	"fmt"
	"sync"
	"time"
)

// Registry maps host fingerprints to their sessions.
// It uses a read-write mutex to allow concurrent lookups while serializing
// registrations.
type Registry struct {
	sessions map[string]*Session // fingerprint -> Session
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Register inserts s under s.Fingerprint and returns the session it
// displaced, if any. The caller closes the displaced session.
func (r *Registry) Register(s *Session) (displaced *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	displaced = r.sessions[s.Fingerprint]
	if displaced == s {
		displaced = nil
	}
	r.sessions[s.Fingerprint] = s
	return displaced
}

// Unregister removes s if it is still the session registered under its
// fingerprint. A displaced session never removes its successor.
func (r *Registry) Unregister(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[s.Fingerprint]; ok && cur == s {
		delete(r.sessions, s.Fingerprint)
		return true
	}
	return false
}

// Get retrieves a session by fingerprint. Returns nil if not found.
func (r *Registry) Get(fingerprint string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[fingerprint]
}

// Count returns the number of registered hosts.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns a snapshot of all sessions.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// CleanupStale removes and closes sessions not seen within timeout.
// Returns the number of sessions removed.
func (r *Registry) CleanupStale(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)

	r.mu.Lock()
	var stale []*Session
	for fp, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			delete(r.sessions, fp)
			stale = append(stale, s)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	return len(stale)
}

// RegistryStats contains registry statistics.
type RegistryStats struct {
	TotalHosts int
	Oldest     time.Time
}

// Stats returns registry statistics.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{TotalHosts: len(r.sessions)}
	for _, s := range r.sessions {
		if stats.Oldest.IsZero() || s.RegisteredAt.Before(stats.Oldest) {
			stats.Oldest = s.RegisteredAt
		}
	}
	return stats
}

func (s RegistryStats) String() string {
	return fmt.Sprintf("TotalHosts=%d", s.TotalHosts)
}
