package occmap

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sessionEntry pairs a session with the case it was opened from. The entry
// mutex serialises the single-threaded session across HTTP requests.
type sessionEntry struct {
	mu      sync.Mutex
	caseID  string
	files   *CaseFiles
	session *Session
	touched time.Time
}

// SessionRegistry tracks open editor sessions. Sessions are independent;
// operations on different sessions never contend beyond the map lookup.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	now      func() time.Time
}

// NewSessionRegistry creates an empty registry
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*sessionEntry),
		now:      time.Now,
	}
}

// Open starts a session over an import result and returns its id
func (r *SessionRegistry) Open(caseID string, result *ImportResult, opts ...SessionOption) string {
	s := NewSession(result.View(), result.Evidence, opts...)
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = &sessionEntry{caseID: caseID, files: result.Files, session: s, touched: r.now()}
	return id
}

// With runs fn with exclusive access to a session
func (r *SessionRegistry) With(id string, fn func(caseID string, files *CaseFiles, s *Session) error) error {
	r.mu.RLock()
	entry, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.touched = r.now()
	return fn(entry.caseID, entry.files, entry.session)
}

// Close discards a session
func (r *SessionRegistry) Close(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Len returns the number of open sessions
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the open session ids, sorted
func (r *SessionRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Prune closes sessions untouched for longer than maxIdle and returns how many were closed
func (r *SessionRegistry) Prune(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, entry := range r.sessions {
		entry.mu.Lock()
		stale := entry.touched.Before(cutoff)
		entry.mu.Unlock()
		if stale {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}
