// Package livekit joins bridge sessions to LiveKit rooms. Caller audio is
// published as an 8 kHz mono PCM track; remote audio tracks are resampled to
// 8 kHz mono and delivered per participant.
package livekit

import (
	"context"
	"errors"
	"strings"

	"github.com/dkeye/callbridge/internal/codec"
	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	lksdk "github.com/livekit/server-sdk-go/v2"
	lkmedia "github.com/livekit/server-sdk-go/v2/pkg/media"
	"github.com/rs/zerolog/log"
)

// TrackName is the published name of the caller's audio.
const TrackName = "phone"

type Gateway struct {
	URL    string
	Tokens *TokenIssuer
}

func NewGateway(url string, tokens *TokenIssuer) *Gateway {
	return &Gateway{URL: url, Tokens: tokens}
}

type connectResult struct {
	room *lksdk.Room
	err  error
}

func (g *Gateway) Join(ctx context.Context, name domain.RoomName, identity domain.Identity) (core.RoomHandle, error) {
	token, err := g.Tokens.Issue(name, identity, string(identity))
	if err != nil {
		return nil, &core.JoinError{Room: name, Reason: core.JoinReasonAuth, Err: err}
	}

	h := newHandle(name, identity)
	cb := &lksdk.RoomCallback{
		OnDisconnected: h.onDisconnected,
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed:   h.onTrackSubscribed,
			OnTrackUnsubscribed: h.onTrackUnsubscribed,
		},
	}

	// The SDK connect is not cancellable; a connect that outlives ctx is
	// disconnected as soon as it returns.
	resCh := make(chan connectResult, 1)
	go func() {
		room, err := lksdk.ConnectToRoomWithToken(g.URL, token, cb)
		resCh <- connectResult{room: room, err: err}
	}()

	var res connectResult
	select {
	case res = <-resCh:
	case <-ctx.Done():
		go func() {
			if late := <-resCh; late.room != nil {
				late.room.Disconnect()
			}
		}()
		reason := core.JoinReasonCanceled
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = core.JoinReasonTimeout
		}
		return nil, &core.JoinError{Room: name, Reason: reason, Err: ctx.Err()}
	}
	if res.err != nil {
		return nil, &core.JoinError{Room: name, Reason: classify(res.err), Err: res.err}
	}

	track, err := lkmedia.NewPCMLocalTrack(codec.SampleRate, 1, nil)
	if err != nil {
		res.room.Disconnect()
		return nil, &core.JoinError{Room: name, Reason: core.JoinReasonTransport, Err: err}
	}
	if _, err := res.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{Name: TrackName}); err != nil {
		track.Close()
		res.room.Disconnect()
		return nil, &core.JoinError{Room: name, Reason: core.JoinReasonTransport, Err: err}
	}
	h.attach(res.room, track, func() { track.Close() })

	log.Info().
		Str("module", "adapters.livekit").
		Str("room", string(name)).
		Str("identity", string(identity)).
		Msg("joined")
	return h, nil
}

// classify maps signalling failures onto join reasons. The SDK only
// surfaces the HTTP status in the error text.
func classify(err error) core.JoinReason {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "permission"):
		return core.JoinReasonAuth
	case strings.Contains(msg, "404"), strings.Contains(msg, "not found"):
		return core.JoinReasonUnavailable
	default:
		return core.JoinReasonTransport
	}
}
