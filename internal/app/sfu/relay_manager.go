package sfu

import (
	"errors"
	"sync"

	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrNoRelay = errors.New("no relay for member")

type RelayManager struct {
	mu     sync.RWMutex
	relays map[domain.MemberID]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[domain.MemberID]*Relay),
	}
}

// StartRelay creates the publishing relay for a member.
func (m *RelayManager) StartRelay(id domain.MemberID, identity domain.Identity) *Relay {
	logger := log.With().
		Str("module", "relay").
		Str("member", string(id)).
		Str("identity", string(identity)).
		Logger()

	relay := NewRelay(identity, &logger)

	m.mu.Lock()
	if old, ok := m.relays[id]; ok {
		logger.Info().Msg("replacing existing relay for member")
		old.removeAll()
	}
	m.relays[id] = relay
	m.mu.Unlock()

	logger.Debug().Msg("relay started")
	return relay
}

// Subscribe attaches dst to the relay of src.
func (m *RelayManager) Subscribe(src domain.MemberID, dst core.MemberSession) {
	m.mu.RLock()
	relay, ok := m.relays[src]
	m.mu.RUnlock()
	if !ok {
		return
	}
	relay.Subscribe(dst.Meta().ID, NewSubscription(dst))
}

// Unsubscribe removes dst from src's relay. Delivery stops at once; the
// relay forgets the subscription on its next publish.
func (m *RelayManager) Unsubscribe(src, dst domain.MemberID) {
	m.mu.RLock()
	relay, ok := m.relays[src]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if sub, ok := relay.subscription(dst); ok {
		sub.Remove()
	}
}

// Publish forwards samples on src's relay.
func (m *RelayManager) Publish(src domain.MemberID, samples []int16) (PublishResult, error) {
	m.mu.RLock()
	relay, ok := m.relays[src]
	m.mu.RUnlock()
	if !ok {
		return PublishResult{}, ErrNoRelay
	}
	return relay.Publish(samples), nil
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(src domain.MemberID) {
	m.mu.Lock()
	relay, ok := m.relays[src]
	if ok {
		delete(m.relays, src)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.removeAll()
}

// HasRelay reports whether a relay exists for id.
func (m *RelayManager) HasRelay(id domain.MemberID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[id]
	return ok
}

// SubscriberCount reports how many members currently hear src.
func (m *RelayManager) SubscriberCount(src domain.MemberID) int {
	m.mu.RLock()
	relay, ok := m.relays[src]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return relay.subscriberCount()
}
