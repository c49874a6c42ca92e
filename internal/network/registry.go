package network

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zily-project/zily/internal/session"
)

// SessionRegistry tracks the live sessions served by this process.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// NewSessionRegistry creates an empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*session.Session),
	}
}

// Register adds a session to the registry.
func (r *SessionRegistry) Register(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.ID()] = s
	log.Debug().Str("session", s.ID()).Msg("session registered")
}

// Unregister removes a session and closes it.
func (r *SessionRegistry) Unregister(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return
	}
	_ = s.Close()
	log.Debug().Str("session", id).Msg("session unregistered")
}

// Get returns the session with the given id.
func (r *SessionRegistry) Get(id string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// All returns the registered sessions, oldest first.
func (r *SessionRegistry) All() []*session.Session {
	r.mu.RLock()
	out := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Info().CreatedAt.Before(out[j].Info().CreatedAt)
	})
	return out
}

// Infos returns a snapshot of every registered session, oldest first.
func (r *SessionRegistry) Infos() []session.Info {
	all := r.All()
	out := make([]session.Info, 0, len(all))
	for _, s := range all {
		out = append(out, s.Info())
	}
	return out
}

// Count returns the number of registered sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes and removes every session.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*session.Session)
	r.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}

	log.Info().Int("count", len(sessions)).Msg("all sessions closed")
}

// CleanStale closes sessions without traffic for longer than timeout and
// returns how many were removed.
func (r *SessionRegistry) CleanStale(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)

	r.mu.Lock()
	var stale []*session.Session
	for id, s := range r.sessions {
		if s.LastActivity().Before(cutoff) {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		_ = s.Close()
		log.Warn().
			Str("session", s.ID()).
			Time("last_activity", s.LastActivity()).
			Msg("cleaned stale session")
	}
	return len(stale)
}
