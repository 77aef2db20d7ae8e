package app

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/rs/zerolog/log"
)

type localRoom struct {
	svc     core.RoomService
	created time.Time
}

// LocalRooms holds the in-process rooms of the local provider.
type LocalRooms struct {
	mu    sync.RWMutex
	rooms map[domain.RoomName]localRoom
}

func NewRoomManager() core.RoomManager {
	return &LocalRooms{rooms: make(map[domain.RoomName]localRoom)}
}

func (lr *LocalRooms) GetOrCreate(name domain.RoomName) core.RoomService {
	lr.mu.RLock()
	r, ok := lr.rooms[name]
	lr.mu.RUnlock()
	if ok {
		return r.svc
	}
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if r, ok = lr.rooms[name]; ok {
		return r.svc
	}
	r = localRoom{svc: core.NewRoomService(name), created: time.Now()}
	lr.rooms[name] = r
	log.Info().Str("module", "app.rooms").Str("room", string(name)).Msg("room created")
	return r.svc
}

func (lr *LocalRooms) Get(name domain.RoomName) (core.RoomService, bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	r, ok := lr.rooms[name]
	return r.svc, ok
}

// List is sorted by room name.
func (lr *LocalRooms) List() []core.RoomInfo {
	lr.mu.RLock()
	out := make([]core.RoomInfo, 0, len(lr.rooms))
	for name, r := range lr.rooms {
		out = append(out, core.RoomInfo{Name: name, MemberCount: r.svc.MemberCount(), Created: r.created})
	}
	lr.mu.RUnlock()
	slices.SortFunc(out, func(a, b core.RoomInfo) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// StopRoomIfEmpty drops the room once its last member left.
func (lr *LocalRooms) StopRoomIfEmpty(name domain.RoomName) bool {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	r, ok := lr.rooms[name]
	if !ok || r.svc.MemberCount() > 0 {
		return false
	}
	delete(lr.rooms, name)
	log.Info().
		Str("module", "app.rooms").
		Str("room", string(name)).
		Dur("lifetime", time.Since(r.created)).
		Msg("room stopped")
	return true
}
