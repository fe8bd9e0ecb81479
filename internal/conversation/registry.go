package conversation

import (
	"slices"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSessionID names the session used when a caller does not supply one.
const DefaultSessionID = "default"

// DefaultMaxSessions bounds a registry built with a non-positive capacity.
const DefaultMaxSessions = 1000

// Registry holds at most its capacity of sessions. Once full, creating a new
// session evicts the least recently used one.
type Registry struct {
	mu       sync.Mutex
	sessions *lru.Cache[string, *Session]
}

func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultMaxSessions
	}
	// lru.New only fails for a non-positive size.
	sessions, _ := lru.New[string, *Session](capacity)
	return &Registry{sessions: sessions}
}

// Session returns the session for id, creating it on first use.
func (r *Registry) Session(id string) *Session {
	id = NormalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions.Get(id)
	if !ok {
		session = NewSession(id)
		r.sessions.Add(id, session)
	}
	return session
}

// Peek returns the session for id without creating it or touching its
// recency.
func (r *Registry) Peek(id string) (*Session, bool) {
	return r.sessions.Peek(NormalizeID(id))
}

// Clear empties the session for id. Unknown ids are a no-op.
func (r *Registry) Clear(id string) {
	if session, ok := r.Peek(id); ok {
		session.Clear()
	}
}

func (r *Registry) Len() int {
	return r.sessions.Len()
}

func (r *Registry) IDs() []string {
	ids := r.sessions.Keys()
	slices.Sort(ids)
	return ids
}

// NormalizeID trims id and maps an empty id to DefaultSessionID.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultSessionID
	}
	return id
}
