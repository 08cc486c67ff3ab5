package ice

import "errors"

// Typed errors. Most failures in this package are expected, recoverable
// conditions (parse errors, auth failures, timeouts) and are represented
// this way rather than as exceptions; see spec §7.
var (
	errSTUNInvalidMessage = errors.New("ice: STUN message is malformed")

	errNoWritableConnection = errors.New("ice: would block: no writable connection")
	errPortClosed           = errors.New("ice: port is closed")
	errChannelNotBound      = errors.New("ice: channel has no connections yet")
	errTransportDestroyed   = errors.New("ice: transport destroyed")

	// ErrNoCandidates is a fatal session-level error: candidate gathering
	// failed to produce any usable candidate.
	ErrNoCandidates = errors.New("ice: unable to allocate any candidates")

	// ErrSignalingTimeout is a fatal session-level error: the higher layer's
	// signalling timeout elapsed before a writable pair was found.
	ErrSignalingTimeout = errors.New("ice: signaling timeout exceeded")
)
