package livekit

import (
	"errors"
	"time"

	"github.com/dkeye/callbridge/internal/domain"
	"github.com/livekit/protocol/auth"
)

var ErrNoCredentials = errors.New("livekit credentials not configured")

// TokenIssuer mints room join tokens for bridges and browser participants.
type TokenIssuer struct {
	APIKey    string
	APISecret string
	TTL       time.Duration
}

func NewTokenIssuer(apiKey, apiSecret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{APIKey: apiKey, APISecret: apiSecret, TTL: ttl}
}

// Issue grants join, publish and subscribe on one room.
func (t *TokenIssuer) Issue(room domain.RoomName, identity domain.Identity, name string) (string, error) {
	if t.APIKey == "" || t.APISecret == "" {
		return "", ErrNoCredentials
	}
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     string(room),
	}
	grant.SetCanPublish(true)
	grant.SetCanSubscribe(true)

	at := auth.NewAccessToken(t.APIKey, t.APISecret).
		SetIdentity(string(identity)).
		SetName(name).
		SetValidFor(t.TTL).
		SetVideoGrant(grant)
	return at.ToJWT()
}
