package signaling

import (
	"context"

	"github.com/makana/icecore/ice"
)

// Session is one browser/peer call, handed to a SessionHandler. It carries
// the remote offer and trickled ICE candidates in, and local answer/
// candidates back out, independent of the underlying signaling transport
// (websocket, MQTT, ...).
type Session struct {
	Context context.Context

	// Offer delivers the remote SDP offer exactly once.
	Offer <-chan string

	// RemoteCandidates delivers remote ICE candidates as they trickle in,
	// and is closed once the remote side signals end-of-candidates.
	RemoteCandidates <-chan ice.Candidate

	// SendAnswer delivers the local SDP answer to the remote peer.
	SendAnswer func(sdp string) error

	// SendLocalCandidate delivers one local ICE candidate to the remote peer.
	SendLocalCandidate func(c ice.Candidate) error
}
