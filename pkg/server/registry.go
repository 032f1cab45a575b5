package server

import (
	"log"
	"sync"
	"time"
)

// RegistryStats is a point-in-time snapshot of the registry.
type RegistryStats struct {
	Total       int
	UniqueUsers int
	AvgPerUser  float64
}

// Registry is the process-wide index of live authenticated sessions. It is
// the only structure mutated by more than one goroutine on the hot path; a
// single mutex guards it because every critical section is a few map
// operations. The per-user counts are maintained incrementally and always
// equal the number of registered sessions for that user.
type Registry struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	userCounts map[int64]int
	metrics    *Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:   make(map[string]*Session),
		userCounts: make(map[int64]int),
	}
}

// SetMetrics attaches metrics to the registry.
func (r *Registry) SetMetrics(metrics *Metrics) {
	r.metrics = metrics
}

// Add registers a session, enforcing the user's connection limit atomically
// with the insertion: of N concurrent registrations for a user with limit K,
// exactly min(N, K) succeed. Returns false without mutation when the user is
// at their limit.
func (r *Registry) Add(sess *Session) bool {
	r.mu.Lock()
	if r.userCounts[sess.UserID] >= sess.MaxConnections {
		r.mu.Unlock()
		return false
	}
	r.sessions[sess.ID] = sess
	r.userCounts[sess.UserID]++
	total := len(r.sessions)
	r.mu.Unlock()

	r.metrics.RecordActiveConnections(total)
	r.metrics.RecordConnectionAccepted()
	return true
}

// Remove deregisters a session by id. Idempotent: removing an absent id is a
// no-op and the counters only move when an entry was actually present. A
// user's count entry is deleted entirely at zero.
func (r *Registry) Remove(connectionID string) {
	r.mu.Lock()
	sess, ok := r.sessions[connectionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, connectionID)
	if r.userCounts[sess.UserID] <= 1 {
		delete(r.userCounts, sess.UserID)
	} else {
		r.userCounts[sess.UserID]--
	}
	total := len(r.sessions)
	r.mu.Unlock()

	r.metrics.RecordActiveConnections(total)
}

// Get returns a registered session by id.
func (r *Registry) Get(connectionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[connectionID]
	return sess, ok
}

// UserConnectionCount returns the user's live session count; 0 for unknown
// users.
func (r *Registry) UserConnectionCount(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.userCounts[userID]
}

// Total returns the number of registered sessions. Used by the admission
// loop's capacity check.
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// SweepInactive removes every session idle longer than the timeout and
// closes its connection from the outside; the owning handler's blocked read
// then fails and it runs its normal cleanup (where Remove is a no-op).
// Returns the evicted sessions.
func (r *Registry) SweepInactive(timeout time.Duration) []*Session {
	now := time.Now()

	r.mu.Lock()
	var stale []*Session
	for id, sess := range r.sessions {
		if sess.IdleFor(now) > timeout {
			stale = append(stale, sess)
			delete(r.sessions, id)
			if r.userCounts[sess.UserID] <= 1 {
				delete(r.userCounts, sess.UserID)
			} else {
				r.userCounts[sess.UserID]--
			}
		}
	}
	total := len(r.sessions)
	r.mu.Unlock()

	// Close outside the lock; a wedged socket must not stall the registry.
	for _, sess := range stale {
		if err := sess.Close(); err != nil {
			log.Printf("Error closing stale session %s: %v", sess.ID, err)
		}
	}

	if len(stale) > 0 {
		r.metrics.RecordActiveConnections(total)
		r.metrics.RecordConnectionsSwept(len(stale))
	}
	return stale
}

// Stats returns a point-in-time snapshot of the registry.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := RegistryStats{
		Total:       len(r.sessions),
		UniqueUsers: len(r.userCounts),
	}
	if stats.UniqueUsers > 0 {
		stats.AvgPerUser = float64(stats.Total) / float64(stats.UniqueUsers)
	}
	return stats
}

// Shutdown closes every connection best-effort and clears all state. Called
// once at process termination.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.userCounts = make(map[int64]int)
	r.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.Close(); err != nil {
			log.Printf("Error closing session %s during shutdown: %v", sess.ID, err)
		}
	}

	r.metrics.RecordActiveConnections(0)
}
