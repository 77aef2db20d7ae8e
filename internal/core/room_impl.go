package core

import (
	"sync"

	"github.com/dkeye/callbridge/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	name       domain.RoomName
	mu         sync.RWMutex
	byID       map[domain.MemberID]MemberSession
	byIdentity map[domain.Identity]domain.MemberID
}

func NewRoomService(name domain.RoomName) RoomService {
	return &roomImpl{
		name:       name,
		byID:       make(map[domain.MemberID]MemberSession),
		byIdentity: make(map[domain.Identity]domain.MemberID),
	}
}

func (r *roomImpl) Name() domain.RoomName { return r.name }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *roomImpl) AddMember(ms MemberSession) error {
	meta := ms.Meta()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byIdentity[meta.Identity]; ok {
		return ErrIdentityInUse
	}
	r.byID[meta.ID] = ms
	r.byIdentity[meta.Identity] = meta.ID
	log.Info().Str("module", "core.room").Str("room", string(r.name)).Str("member", string(meta.ID)).Str("identity", string(meta.Identity)).Msg("member added")
	return nil
}

func (r *roomImpl) RemoveMember(id domain.MemberID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byIdentity, ms.Meta().Identity)
	delete(r.byID, id)
	log.Info().Str("module", "core.room").Str("room", string(r.name)).Str("member", string(id)).Msg("member removed")
}

func (r *roomImpl) Members() []MemberSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberSession, 0, len(r.byID))
	for _, ms := range r.byID {
		out = append(out, ms)
	}
	return out
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.byID))
	for _, ms := range r.byID {
		m := ms.Meta()
		out = append(out, MemberDTO{ID: m.ID, Identity: m.Identity})
	}
	return out
}
