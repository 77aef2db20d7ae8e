package core

// MediaSink is the transport-side endpoint of one call: encoded audio for
// the phone leg goes out through it. Owned by the transport adapter.
type MediaSink interface {
	// TrySend queues one encoded frame for the phone leg without blocking.
	TrySend(payload []byte) error
	// BridgeFailed tells the transport the bridge ended with an error so it
	// may terminate or reroute the call.
	BridgeFailed(reason error)
}
