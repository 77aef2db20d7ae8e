package sfu

import (
	"sync"

	"github.com/dkeye/callbridge/internal/core"
)

// Port is a member's bounded receive queue. Relays never block on it.
type Port struct {
	ch chan core.Delivery

	mu     sync.RWMutex
	closed bool
}

func NewPort(size int) *Port {
	return &Port{ch: make(chan core.Delivery, size)}
}

func (p *Port) TrySend(d core.Delivery) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return core.ErrHandleReleased
	}
	select {
	case p.ch <- d:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// C yields deliveries until the port is closed.
func (p *Port) C() <-chan core.Delivery { return p.ch }

func (p *Port) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.ch)
}
