package app

import (
	"context"
	"sync"

	"github.com/dkeye/callbridge/internal/app/bridge"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/rs/zerolog/log"
)

// SessionRegistry maps call ids to their live bridge session. The lock is
// only held for map access, never across a join or publish.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[domain.CallID]*bridge.Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[domain.CallID]*bridge.Session),
	}
}

// GetOrCreate returns the live session for id, or stores the one built by
// factory. factory runs under the lock and must only allocate.
func (r *SessionRegistry) GetOrCreate(id domain.CallID, factory func() *bridge.Session) (*bridge.Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.sessions[id]; ok {
		return s, false
	}
	s = factory()
	r.sessions[id] = s
	log.Info().Str("module", "app.registry").Str("call_id", string(id)).Msg("session registered")
	return s, true
}

func (r *SessionRegistry) Get(id domain.CallID) (*bridge.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes id only while it still maps to s, so a closing session can
// never evict its successor.
func (r *SessionRegistry) Remove(id domain.CallID, s *bridge.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[id]
	if !ok || cur != s {
		return false
	}
	delete(r.sessions, id)
	log.Info().Str("module", "app.registry").Str("call_id", string(id)).Msg("session removed")
	return true
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *SessionRegistry) Snapshot() []bridge.Info {
	r.mu.RLock()
	list := make([]*bridge.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	out := make([]bridge.Info, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	return out
}

// CloseAll stops every live session and waits for them until ctx ends.
func (r *SessionRegistry) CloseAll(ctx context.Context, reason bridge.CloseReason) error {
	r.mu.RLock()
	list := make([]*bridge.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	for _, s := range list {
		s.Stop(reason)
	}
	for _, s := range list {
		select {
		case <-s.Done():
		case <-ctx.Done():
			log.Warn().Str("module", "app.registry").Int("pending", r.Len()).Msg("sessions still closing at shutdown")
			return ctx.Err()
		}
	}
	return nil
}
