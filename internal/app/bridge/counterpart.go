package bridge

import (
	"time"

	"github.com/dkeye/callbridge/internal/domain"
)

// counterpart picks whose room audio reaches the phone leg. A fixed identity
// always wins; otherwise the first source heard is locked in until it has
// been silent for idle.
type counterpart struct {
	fixed domain.Identity
	idle  time.Duration
	now   func() time.Time

	current   domain.Identity
	lastHeard time.Time
}

func newCounterpart(fixed domain.Identity, idle time.Duration) *counterpart {
	return &counterpart{fixed: fixed, idle: idle, now: time.Now}
}

func (c *counterpart) accept(src domain.Identity) bool {
	if c.fixed != "" {
		return src == c.fixed
	}
	now := c.now()
	if c.current == "" || (c.current != src && now.Sub(c.lastHeard) >= c.idle) {
		c.current = src
	}
	if c.current != src {
		return false
	}
	c.lastHeard = now
	return true
}
