package ice

import (
	"sync"
)

// pendingOption records a SetOption call buffered before any Connection
// exists, replayed once one is selected.
type pendingOption struct {
	name  string
	value interface{}
}

// TransportChannel selects the best candidate pair out of the Connections
// gathered for one component and exposes a single logical read/write
// stream over whichever Connection currently wins, per spec.md §4.4.
//
// Grounded on the teacher's internal/ice/channel.go plus the proxy
// buffer-then-replay pattern from original_source/talk/p2p/base/
// transportchannelproxy.cc's SetOption/SetSrtpCiphers (the real
// implementation binds after the channel is constructed, so early calls
// must be queued).
type TransportChannel struct {
	name      string
	component Component

	mu sync.Mutex

	connections []*Connection
	selected    *Connection

	role       Role
	tiebreaker uint64

	pendingOptions []pendingOption
	pendingCiphers []string

	onReadable     func(*TransportChannel)
	onWritable     func(*TransportChannel)
	onData         func(*TransportChannel, []byte)
	onRoleConflict func(*TransportChannel, Role)

	destroyed bool
}

func newTransportChannel(name string, component Component) *TransportChannel {
	return &TransportChannel{name: name, component: component}
}

func (tc *TransportChannel) Name() string      { return tc.name }
func (tc *TransportChannel) Component() Component { return tc.component }

// AddConnection registers a newly created Connection with this channel and
// wires its callbacks to drive (re)selection.
func (tc *TransportChannel) AddConnection(c *Connection) {
	c.onReadable = func(conn *Connection) { tc.onConnectionStateChange() }
	c.onWritable = func(conn *Connection) { tc.onConnectionStateChange() }
	c.onData = func(conn *Connection, data []byte) { tc.onConnectionData(conn, data) }
	c.onDestroyed = func(conn *Connection) { tc.removeConnection(conn) }
	c.onRoleConflict = func(conn *Connection, target Role) { tc.onConnectionRoleConflict(target) }

	tc.mu.Lock()
	tc.connections = append(tc.connections, c)
	role, tiebreaker := tc.role, tc.tiebreaker
	opts := append([]pendingOption(nil), tc.pendingOptions...)
	ciphers := append([]string(nil), tc.pendingCiphers...)
	tc.mu.Unlock()

	c.SetIceRole(role, tiebreaker)
	for _, o := range opts {
		applyConnectionOption(c, o)
	}
	if len(ciphers) > 0 {
		applyConnectionSrtpCiphers(c, ciphers)
	}

	tc.onConnectionStateChange()
}

func (tc *TransportChannel) removeConnection(c *Connection) {
	tc.mu.Lock()
	for i, cand := range tc.connections {
		if cand == c {
			tc.connections = append(tc.connections[:i], tc.connections[i+1:]...)
			break
		}
	}
	if tc.selected == c {
		tc.selected = nil
	}
	tc.mu.Unlock()

	tc.onConnectionStateChange()
}

// onConnectionStateChange re-runs selection: writable, highest connection
// priority wins; ties break on the remote candidate's priority, per
// spec.md §4.4. Readable/Writable callbacks fire at most once per actual
// transition (spec.md §4.5's single-fire-per-change rule).
func (tc *TransportChannel) onConnectionStateChange() {
	tc.mu.Lock()

	wasReadable := tc.readableLocked()
	wasWritable := tc.writableLocked()

	best := tc.selectBestLocked()
	tc.selected = best

	isReadable := tc.readableLocked()
	isWritable := tc.writableLocked()
	onReadable, onWritable := tc.onReadable, tc.onWritable
	tc.mu.Unlock()

	if isReadable && !wasReadable && onReadable != nil {
		onReadable(tc)
	}
	if isWritable && !wasWritable && onWritable != nil {
		onWritable(tc)
	}
}

func (tc *TransportChannel) selectBestLocked() *Connection {
	var best *Connection
	for _, c := range tc.connections {
		if !c.Writable() {
			continue
		}
		if best == nil {
			best = c
			continue
		}
		if connectionPairPriority(c) > connectionPairPriority(best) {
			best = c
			continue
		}
		if connectionPairPriority(c) == connectionPairPriority(best) && c.Remote.Priority > best.Remote.Priority {
			best = c
		}
	}
	if best == nil {
		return tc.selected
	}
	return best
}

func connectionPairPriority(c *Connection) uint64 {
	// RFC 5245 §5.7.2 candidate-pair priority, taking the local side as the
	// controlling one (G) and the remote as controlled (D): min(G,D) in the
	// high 32 bits, then 2*max(G,D), plus 1 when G > D.
	g := uint64(c.Local.Priority)
	d := uint64(c.Remote.Priority)
	min, max := g, d
	if d < g {
		min, max = d, g
	}
	extra := uint64(0)
	if g > d {
		extra = 1
	}
	return min<<32 + max<<1 + extra
}

func (tc *TransportChannel) readableLocked() bool {
	for _, c := range tc.connections {
		if c.Readable() {
			return true
		}
	}
	return false
}

func (tc *TransportChannel) writableLocked() bool {
	return tc.selected != nil && tc.selected.Writable()
}

func (tc *TransportChannel) Readable() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.readableLocked()
}

func (tc *TransportChannel) Writable() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.writableLocked()
}

// onConnectionRoleConflict forwards a role conflict detected on one of this
// channel's Connections up to whichever Transport owns it, so the flip to
// target can be applied atomically across every channel, per spec.md §4.2.
func (tc *TransportChannel) onConnectionRoleConflict(target Role) {
	tc.mu.Lock()
	cb := tc.onRoleConflict
	tc.mu.Unlock()
	if cb != nil {
		cb(tc, target)
	}
}

func (tc *TransportChannel) onConnectionData(c *Connection, data []byte) {
	tc.mu.Lock()
	cb := tc.onData
	tc.mu.Unlock()
	if cb != nil {
		cb(tc, data)
	}
}

// SendPacket writes data over the currently selected Connection. Mirrors
// TransportChannelProxy::SendPacket's "fail if we don't have an impl yet"
// behavior.
func (tc *TransportChannel) SendPacket(data []byte) error {
	tc.mu.Lock()
	selected := tc.selected
	tc.mu.Unlock()

	tc.mu.Lock()
	hasAny := len(tc.connections) > 0
	tc.mu.Unlock()

	if selected == nil {
		if !hasAny {
			return errChannelNotBound
		}
		return errNoWritableConnection
	}
	return selected.Send(data)
}

// SetOption records name/value for every current and future Connection.
// Calls made before any Connection exists are buffered and replayed on
// AddConnection, mirroring transportchannelproxy.cc's pending_options_.
func (tc *TransportChannel) SetOption(name string, value interface{}) {
	tc.mu.Lock()
	tc.pendingOptions = append(tc.pendingOptions, pendingOption{name, value})
	conns := append([]*Connection(nil), tc.connections...)
	tc.mu.Unlock()

	for _, c := range conns {
		applyConnectionOption(c, pendingOption{name, value})
	}
}

// SetSrtpCiphers records the preferred cipher list for later DTLS-SRTP
// negotiation. Deliberately takes an opaque []string rather than importing
// internal/srtp: this package owns connectivity only (spec.md Non-goals),
// so a real implementation reads this list back out via GetSrtpCipher-style
// accessors from its own SRTP/DTLS collaborator.
func (tc *TransportChannel) SetSrtpCiphers(ciphers []string) {
	tc.mu.Lock()
	tc.pendingCiphers = append([]string(nil), ciphers...)
	conns := append([]*Connection(nil), tc.connections...)
	tc.mu.Unlock()

	for _, c := range conns {
		applyConnectionSrtpCiphers(c, ciphers)
	}
}

// applyConnectionOption and applyConnectionSrtpCiphers are placeholders for
// the socket-option and cipher-suite knobs a concrete Connection transport
// (UDP today) can actually honor; neither has any effect over plain UDP
// beyond bookkeeping, matching the teacher's UDPPort which ignores most
// talk_base::Socket::Option values.
func applyConnectionOption(c *Connection, opt pendingOption) {
	_ = c
	_ = opt
}

func applyConnectionSrtpCiphers(c *Connection, ciphers []string) {
	_ = c
	_ = ciphers
}

// SetIceRole propagates role/tiebreaker to this channel and every
// Connection it owns. Called by Transport whenever role negotiation
// settles or a conflict flips the shared role.
func (tc *TransportChannel) SetIceRole(role Role, tiebreaker uint64) {
	tc.mu.Lock()
	tc.role = role
	tc.tiebreaker = tiebreaker
	conns := append([]*Connection(nil), tc.connections...)
	tc.mu.Unlock()

	for _, c := range conns {
		c.SetIceRole(role, tiebreaker)
	}
}

// Destroy tears down every Connection owned by this channel.
func (tc *TransportChannel) Destroy() {
	tc.mu.Lock()
	if tc.destroyed {
		tc.mu.Unlock()
		return
	}
	tc.destroyed = true
	conns := append([]*Connection(nil), tc.connections...)
	tc.connections = nil
	tc.selected = nil
	tc.mu.Unlock()

	for _, c := range conns {
		c.Destroy()
	}
}
