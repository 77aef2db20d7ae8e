package sfu

import (
	"testing"

	"github.com/dkeye/callbridge/internal/codec"
	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func member(identity domain.Identity, size int) (core.MemberSession, *Port) {
	p := NewPort(size)
	return core.NewMemberSession(domain.NewMember(identity), p), p
}

func TestRelayPacketizesInOrder(t *testing.T) {
	m := NewRelayManager()
	src, _ := member("caller", 4)
	dst, port := member("agent", 4)
	m.StartRelay(src.Meta().ID, "caller")
	m.Subscribe(src.Meta().ID, dst)

	for i := 0; i < 3; i++ {
		res, err := m.Publish(src.Meta().ID, make([]int16, 160))
		require.NoError(t, err)
		assert.Equal(t, 1, res.SentTo)
	}

	first := <-port.C()
	assert.Equal(t, domain.Identity("caller"), first.Source)
	assert.Equal(t, uint8(PayloadTypeL16), first.Packet.PayloadType)
	assert.Len(t, first.Packet.Payload, 320)
	for i := 1; i < 3; i++ {
		next := <-port.C()
		assert.Equal(t, first.Packet.SequenceNumber+uint16(i), next.Packet.SequenceNumber)
		assert.Equal(t, first.Packet.Timestamp+uint32(160*i), next.Packet.Timestamp)
		assert.Equal(t, first.Packet.SSRC, next.Packet.SSRC)
	}
}

func TestRelayPayloadIsL16(t *testing.T) {
	m := NewRelayManager()
	src, _ := member("caller", 1)
	dst, port := member("agent", 1)
	m.StartRelay(src.Meta().ID, "caller")
	m.Subscribe(src.Meta().ID, dst)

	_, err := m.Publish(src.Meta().ID, []int16{1, -2, 32767})
	require.NoError(t, err)
	samples, err := codec.PCMFromL16((<-port.C()).Packet.Payload)
	require.NoError(t, err)
	assert.Equal(t, []int16{1, -2, 32767}, samples)
}

func TestRelayReportsBackpressureAndDropsClosedPorts(t *testing.T) {
	m := NewRelayManager()
	src, _ := member("caller", 1)
	slow, _ := member("slow", 1)
	gone, gonePort := member("gone", 1)
	m.StartRelay(src.Meta().ID, "caller")
	m.Subscribe(src.Meta().ID, slow)
	m.Subscribe(src.Meta().ID, gone)
	gonePort.Close()

	res, err := m.Publish(src.Meta().ID, []int16{1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SentTo)
	assert.Equal(t, 1, m.SubscriberCount(src.Meta().ID))

	res, err = m.Publish(src.Meta().ID, []int16{1})
	require.NoError(t, err)
	assert.Equal(t, []domain.MemberID{slow.Meta().ID}, res.Dropped)
}

func TestRelayManagerStopRelay(t *testing.T) {
	m := NewRelayManager()
	src, _ := member("caller", 1)
	m.StartRelay(src.Meta().ID, "caller")
	assert.True(t, m.HasRelay(src.Meta().ID))

	m.StopRelay(src.Meta().ID)
	assert.False(t, m.HasRelay(src.Meta().ID))
	_, err := m.Publish(src.Meta().ID, []int16{1})
	assert.ErrorIs(t, err, ErrNoRelay)
}

func TestPausedSubscriptionSkipsDelivery(t *testing.T) {
	m := NewRelayManager()
	src, _ := member("caller", 1)
	dst, port := member("agent", 1)
	relay := m.StartRelay(src.Meta().ID, "caller")
	sub := NewSubscription(dst)
	sub.Pause()
	relay.Subscribe(dst.Meta().ID, sub)

	res := relay.Publish([]int16{1})
	assert.Zero(t, res.SentTo)
	assert.Empty(t, res.Dropped)
	assert.Empty(t, port.C())

	sub.Resume()
	assert.Equal(t, 1, relay.Publish([]int16{1}).SentTo)
}

func TestUnsubscribeStopsDeliveryAndPrunes(t *testing.T) {
	m := NewRelayManager()
	src, _ := member("caller", 1)
	dst, port := member("agent", 4)
	m.StartRelay(src.Meta().ID, "caller")
	m.Subscribe(src.Meta().ID, dst)

	m.Unsubscribe(src.Meta().ID, dst.Meta().ID)
	res, err := m.Publish(src.Meta().ID, []int16{1})
	require.NoError(t, err)
	assert.Zero(t, res.SentTo)
	assert.Empty(t, port.C())
	assert.Zero(t, m.SubscriberCount(src.Meta().ID))
}
