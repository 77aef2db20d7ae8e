package sfu

import (
	"errors"
	"maps"
	"math/rand/v2"
	"sync"

	"github.com/dkeye/callbridge/internal/codec"
	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// PayloadTypeL16 is the dynamic payload type used for 8 kHz mono L16 inside local rooms.
const PayloadTypeL16 = 96

// PublishResult reports delivery stats/backpressure to the gateway.
type PublishResult struct {
	SentTo  int
	Dropped []domain.MemberID
}

// Relay fans one publisher's audio out to every subscribed member.
type Relay struct {
	Src domain.Identity

	pubMu sync.Mutex
	ssrc  uint32
	seq   uint16
	ts    uint32

	mu   sync.RWMutex
	subs map[domain.MemberID]*Subscription

	logger *zerolog.Logger
}

func NewRelay(src domain.Identity, logger *zerolog.Logger) *Relay {
	return &Relay{
		Src:    src,
		ssrc:   rand.Uint32(),
		seq:    uint16(rand.Uint32()),
		subs:   make(map[domain.MemberID]*Subscription),
		logger: logger,
	}
}

// Publish packetizes samples and forwards them. Calls are serialized so
// sequence numbers follow publish order.
func (r *Relay) Publish(samples []int16) PublishResult {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    PayloadTypeL16,
			SequenceNumber: r.seq,
			Timestamp:      r.ts,
			SSRC:           r.ssrc,
		},
		Payload: codec.PCMToL16(samples),
	}
	r.seq++
	r.ts += uint32(len(samples))
	return r.forward(pkt)
}

func (r *Relay) forward(pkt *rtp.Packet) PublishResult {
	r.mu.RLock()
	snapshot := maps.Clone(r.subs)
	r.mu.RUnlock()

	d := core.Delivery{Source: r.Src, Packet: pkt}
	res := PublishResult{}
	var removed []domain.MemberID
	for dst, sub := range snapshot {
		if sub.State() == SubRemoved {
			removed = append(removed, dst)
			continue
		}
		sent, err := sub.deliver(d)
		switch {
		case sent:
			res.SentTo++
		case err == nil:
		case errors.Is(err, core.ErrBackpressure):
			res.Dropped = append(res.Dropped, dst)
		default:
			r.logger.Debug().
				Err(err).
				Str("dst_member", string(dst)).
				Msg("member port gone, removing subscription")
			sub.Remove()
			removed = append(removed, dst)
		}
	}

	if len(removed) > 0 {
		r.prune(removed)
	}
	return res
}

func (r *Relay) prune(ids []domain.MemberID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if sub, ok := r.subs[id]; ok && sub.State() == SubRemoved {
			delete(r.subs, id)
		}
	}
}

func (r *Relay) removeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		sub.Remove()
	}
}

// Subscribe adds or replaces dst's subscription.
func (r *Relay) Subscribe(dst domain.MemberID, sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[dst] = sub
}

func (r *Relay) subscription(dst domain.MemberID) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[dst]
	return sub, ok
}

func (r *Relay) subscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
