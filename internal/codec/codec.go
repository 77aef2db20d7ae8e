// Package codec converts between the telephony transport's companded
// 8 kHz audio and 16-bit linear PCM used by the room layer.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const SampleRate = 8000

var (
	ErrInvalidFrameLength = errors.New("invalid frame length")
	ErrUnsupportedFormat  = errors.New("unsupported media format")
)

// Codec is a stateless frame-wise companding transform.
type Codec interface {
	Name() string
	SampleRate() int
	Decode(frame []byte) ([]int16, error)
	Encode(samples []int16) ([]byte, error)
}

const (
	EncodingMuLaw = "audio/x-mulaw"
	EncodingALaw  = "audio/x-alaw"
)

// Lookup returns the codec for a transport encoding name.
func Lookup(encoding string, sampleRate, channels int) (Codec, error) {
	if sampleRate != SampleRate || channels != 1 {
		return nil, fmt.Errorf("%w: %s %d Hz %d ch", ErrUnsupportedFormat, encoding, sampleRate, channels)
	}
	switch encoding {
	case EncodingMuLaw, "mulaw", "pcmu":
		return MuLaw{}, nil
	case EncodingALaw, "alaw", "pcma":
		return ALaw{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, encoding)
	}
}

// FrameDuration is the playout length of n samples at 8 kHz.
func FrameDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

// PCMToL16 packs samples as network-order L16.
func PCMToL16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.BigEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// PCMFromL16 unpacks network-order L16.
func PCMFromL16(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes of L16", ErrInvalidFrameLength, len(b))
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.BigEndian.Uint16(b[i*2:]))
	}
	return out, nil
}
