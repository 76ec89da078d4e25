package session

import "sync"

// Registry maps guild keys to live sessions. A destroyed session removes
// itself, so a later lookup for the same key yields a fresh instance.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the live session for key, building one with create
// when none exists. At most one session per key is ever live.
func (r *Registry) GetOrCreate(key string, create func() *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		return s
	}
	s := create()
	s.onDestroyed = r.remove
	r.sessions[key] = s
	return s
}

// Peek returns the session for key without creating one.
func (r *Registry) Peek(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

func (r *Registry) remove(key string) {
	r.mu.Lock()
	delete(r.sessions, key)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// DestroyAll tears down every live session, for shutdown.
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Destroy()
	}
}
