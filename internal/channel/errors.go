package channel

import "errors"

var (
	// ErrNotConnected rejects an invoke issued while the channel is not in
	// the Connected state.
	ErrNotConnected = errors.New("channel not connected")

	// ErrNotSupported means the peer acknowledged an invoke but does not
	// implement the method. Best-effort invokes absorb it.
	ErrNotSupported = errors.New("method not supported by peer")

	// ErrStopped is the typed abort a start attempt resolves to when
	// Disconnect raced it. It is swallowed silently; the race is benign.
	ErrStopped = errors.New("channel stopped while starting")
)
