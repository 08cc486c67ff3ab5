// Package ice implements the Interactive Connectivity Establishment
// connectivity core: candidate representation, the STUN binding protocol,
// and the Port/Connection/TransportChannel/Transport state machines that
// find a mutually reachable path between two peers.
//
// A legacy ("GOOGLE") and a standards-track ("RFC5245") protocol mode are
// both supported; see Port.Mode.
package ice

import (
	"flag"
	"os"
	"strings"

	"github.com/makana/icecore/internal/logging"
)

var log = logging.DefaultLogger.WithTag("ice")

const defaultStunServer = "stun.l.google.com:19302"

var (
	// Whether to allow IPv6 ICE candidates.
	flagEnableIPv6 bool

	// Default STUN server address, registered as -stunServer. Server-reflexive
	// Ports take their server address from their caller and do not read it.
	flagStunServer string
)

func init() {
	flag.BoolVar(&flagEnableIPv6, "6", false, "Allow use of IPv6")
	flag.StringVar(&flagStunServer, "stunServer", defaultStunServer, "Default STUN server address")

	var traceEnabled bool
	for _, tag := range strings.Split(os.Getenv("TRACE"), ",") {
		if tag == "ice" {
			traceEnabled = true
			break
		}
	}
	if traceEnabled {
		log = log.WithDefaultLevel(logging.MaxLevel)
	}
}

// Protocol mode controlling which STUN attributes and credential rules a
// Port/Connection pair uses on the wire.
type Mode int

const (
	// RFC5245 is the standards-track mode: PRIORITY, ICE-CONTROLLING/
	// ICE-CONTROLLED, USE-CANDIDATE, MESSAGE-INTEGRITY and FINGERPRINT are
	// all required.
	RFC5245 Mode = iota

	// GOOGLE is the legacy mode used by older libjingle-derived stacks:
	// none of the RFC5245 attributes above are sent or required, and
	// USERNAME is the plain concatenation of the two ufrags rather than
	// "RFRAG:LFRAG".
	GOOGLE
)

func (m Mode) String() string {
	switch m {
	case RFC5245:
		return "RFC5245"
	case GOOGLE:
		return "GOOGLE"
	default:
		return "unknown"
	}
}

// Component identifies a sub-stream of a media channel.
type Component int

const (
	ComponentRTP  Component = 1
	ComponentRTCP Component = 2
)

// Timeouts, per spec.md §5.
const (
	connectionResponseTimeout  = 5000 // ms: a single ping times out.
	connectionWriteConnectGap  = 5000 // ms: silence before WRITABLE -> WRITE_CONNECT.
	connectionWriteTimeout     = 15000 // ms: silence before WRITE_CONNECT -> WRITE_TIMEOUT.
	connectionReadTimeout      = 30000 // ms: silence before READABLE -> READ_TIMEOUT.
	portTimeout                = 30000 // ms: empty Port self-destructs.
	sessionSignalingTimeout    = 50000 // ms: higher-layer signalling timeout.
	minPingsBeforeWriteConnect = 5
)
