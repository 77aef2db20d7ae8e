package domain

import "time"

// AudioFrame is one chunk of encoded audio as received from the phone leg.
// Seq is assigned in arrival order per call and track.
type AudioFrame struct {
	Track     Track
	Seq       uint64
	Timestamp time.Duration
	Payload   []byte
}
