package ice

import (
	"net"
	"sync"
	"time"
)

// Connection readable/writable states, per spec.md §4.3.
type readState int

const (
	readInit readState = iota
	readReadable
	readTimeout
)

type writeState int

const (
	writeInit writeState = iota
	writeWritable
	writeUnreliable
	writeConnect
	writeTimeout
)

// pendingPing tracks one outstanding binding request sent on this
// Connection, so its response (or timeout) can be matched and timed.
type pendingPing struct {
	transactionID string
	sentAt        time.Time
	role          Role // role this Connection advertised when the ping was sent
}

// Connection is one candidate pair: a local Port plus a specific remote
// address, with its own readable/writable state machine, per spec.md §4.3.
// Grounded on the teacher's internal/ice/connection.go, generalized to
// drive STUN encode/decode through stunmessage.go instead of the teacher's
// inline binary layout.
type Connection struct {
	port   *Port
	Local  Candidate
	Remote Candidate

	exec *executor

	mu sync.Mutex

	readState  readState
	writeState writeState

	// rtt is the smoothed round-trip time estimate in milliseconds, per
	// spec.md §4.3: rtt ← (3*rtt + measured) / 4, clamped to [100, 3000].
	rtt int

	pings          []pendingPing
	lastPingSentAt time.Time
	lastReadAt     time.Time

	role       Role
	tiebreaker uint64

	useCandidate bool

	onReadable     func(*Connection)
	onWritable     func(*Connection)
	onDestroyed    func(*Connection)
	onData         func(*Connection, []byte)
	onRoleConflict func(*Connection, Role)

	destroyed bool
}

const (
	minRTT = 100
	maxRTT = 3000

	// pingInterval is the steady-state connectivity check cadence.
	pingInterval = 350 * time.Millisecond
)

func newConnection(p *Port, local, remote Candidate) *Connection {
	c := &Connection{
		port:   p,
		Local:  local,
		Remote: remote,
		exec:   p.exec,
		rtt:    maxRTT,
	}
	c.exec.PostDelayed(c, pingInterval, c.pingTick)
	return c
}

// SetIceRole propagates the negotiated role and tiebreaker to this
// Connection, used to fill ICE-CONTROLLING/ICE-CONTROLLED on outbound
// pings.
func (c *Connection) SetIceRole(role Role, tiebreaker uint64) {
	c.mu.Lock()
	c.role = role
	c.tiebreaker = tiebreaker
	c.mu.Unlock()
}

func (c *Connection) Readable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readState == readReadable
}

func (c *Connection) Writable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeState == writeWritable || c.writeState == writeUnreliable
}

func (c *Connection) Priority() uint32 {
	return peerReflexivePriority(c.Local.Priority)
}

// pingTick builds and sends a connectivity-check binding request, then
// reschedules itself. Mirrors spec.md §4.3's periodic ping loop.
func (c *Connection) pingTick() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	req := newBindingRequest()
	mode := c.port.mode
	role := c.role
	c.pings = append(c.pings, pendingPing{transactionID: req.transactionID, sentAt: time.Now(), role: role})
	c.lastPingSentAt = time.Now()
	tiebreaker := c.tiebreaker
	priority := c.Priority()
	useCandidate := c.useCandidate
	ufrag := c.Remote.Ufrag
	localUfrag := c.Local.Ufrag
	password := c.Remote.Password
	c.mu.Unlock()

	if mode == RFC5245 {
		req.addPriority(priority)
		req.addUsername(ufrag + ":" + localUfrag)
		switch role {
		case RoleControlling:
			req.addIceControlling(tiebreaker)
			if useCandidate {
				req.addUseCandidate()
			}
		case RoleControlled:
			req.addIceControlled(tiebreaker)
		}
		req.addMessageIntegrity(password)
		req.addFingerprint()
	} else {
		req.addUsername(ufrag + localUfrag)
	}

	c.port.SendTo(req.Bytes(), c.Remote.Address.netAddr())

	c.checkWriteTimeout()
	c.checkReadTimeout()
	c.exec.PostDelayed(c, pingInterval, c.pingTick)
}

// onStunResponse matches a success/error response against outstanding
// pings, updates RTT, and transitions the write state machine per spec.md
// §4.3.
func (c *Connection) onStunResponse(msg *stunMessage) {
	c.mu.Lock()
	var sent time.Time
	var sentRole Role
	found := false
	for i, p := range c.pings {
		if p.transactionID == msg.transactionID {
			sent = p.sentAt
			sentRole = p.role
			c.pings = append(c.pings[:i], c.pings[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		c.mu.Unlock()
		return
	}

	if msg.class == classSuccessResponse {
		measured := int(time.Since(sent).Milliseconds())
		c.updateRTTLocked(measured)
		wasInit := c.writeState == writeInit || c.writeState == writeConnect
		c.writeState = writeWritable
		c.readState = readReadable
		c.lastReadAt = time.Now()
		c.mu.Unlock()

		if wasInit && c.onWritable != nil {
			c.onWritable(c)
		}
		if c.onReadable != nil {
			c.onReadable(c)
		}
		return
	}

	// Error response.
	code, _ := msg.getErrorCode(c.port.mode)
	c.mu.Unlock()

	switch code {
	case codeRoleConflict:
		// The peer out-tiebreaks us: we must take the opposite of whichever
		// role this specific (now-rejected) ping advertised, per
		// port.cc:1091's HandleRoleConflictFromPeer.
		target := RoleControlled
		if sentRole == RoleControlled {
			target = RoleControlling
		}
		c.handleRoleConflict(target)
	case codeUnauthorized, codeStaleCredentials:
		// Credentials changed underneath us (ICE restart); let the owning
		// Transport observe failure via the normal timeout path rather than
		// tearing down here, since a restart may supply fresh ones shortly.
	default:
		c.markWriteTimeout()
	}
}

// markWriteTimeout forces this Connection unwritable immediately, used when
// a ping comes back with an error this Connection cannot recover from (e.g.
// a fatal STUN error other than a role conflict or a retryable credential
// mismatch).
func (c *Connection) markWriteTimeout() {
	c.mu.Lock()
	c.writeState = writeTimeout
	c.mu.Unlock()
}

func (c *Connection) updateRTTLocked(measured int) {
	rtt := (3*c.rtt + measured) / 4
	if rtt < minRTT {
		rtt = minRTT
	}
	if rtt > maxRTT {
		rtt = maxRTT
	}
	c.rtt = rtt
}

// onStunRequest answers an inbound connectivity check and, per RFC 5245
// §7.2.1.1, treats receipt of a valid check as evidence of readability.
func (c *Connection) onStunRequest(req *stunMessage, src net.Addr) {
	if tiebreaker, isControlling, ok := req.getIceControl(); ok {
		c.mu.Lock()
		role := c.role
		localTiebreaker := c.tiebreaker
		c.mu.Unlock()

		// Per RFC 5245 §7.2.1.1 (mirrored by port.cc:462-487's
		// MaybeIceRoleConflict): a conflict only arises when both sides
		// believe they hold the SAME role. Which side switches depends on
		// which symmetric case it is, not a single shared comparison: in
		// the controlling/controlling case the smaller tiebreaker loses
		// (switches to controlled); in the controlled/controlled case the
		// larger tiebreaker loses (switches to controlling).
		switch {
		case isControlling && role == RoleControlling:
			if resolveRoleConflict(true, localTiebreaker, tiebreaker) {
				c.handleRoleConflict(RoleControlled)
			} else {
				c.port.sendError(req, src, codeRoleConflict)
				return
			}
		case !isControlling && role == RoleControlled:
			if resolveRoleConflict(true, tiebreaker, localTiebreaker) {
				c.handleRoleConflict(RoleControlling)
			} else {
				c.port.sendError(req, src, codeRoleConflict)
				return
			}
		}
	}

	resp := newBindingSuccessResponse(req.transactionID)
	resp.setXorMappedAddress(src)
	if c.port.mode == RFC5245 {
		resp.addMessageIntegrity(c.Local.Password)
		resp.addFingerprint()
	}
	c.port.SendTo(resp.Bytes(), src)

	c.mu.Lock()
	if req.hasUseCandidate() {
		c.useCandidate = true
	}
	wasUnreadable := c.readState != readReadable
	c.readState = readReadable
	c.lastReadAt = time.Now()
	// A fresh, validated request proves the path works again: recover from
	// WRITE_TIMEOUT back to WRITE_CONNECT rather than waiting for the next
	// ping, per port.cc:826's "if timed out sending writability checks,
	// start up again" on receipt of a valid binding request.
	if c.writeState == writeTimeout {
		c.writeState = writeConnect
	}
	c.mu.Unlock()

	if wasUnreadable && c.onReadable != nil {
		c.onReadable(c)
	}
}

// handleRoleConflict notifies this Connection's owning TransportChannel that
// target is the role this side must now hold. The actual flip is performed
// by the Transport (spec.md §4.2: all channels and connections must agree on
// role) and is idempotent against target, so this never mutates c.role
// directly — it only triggers the callback chain wired by
// TransportChannel.AddConnection, which runs up to Transport.OnRoleConflict
// and back down through every channel's SetIceRole. Passing an explicit
// target (rather than toggling) keeps repeat signals for the same
// conflict — e.g. one from an inbound request, another from a 487 response
// to this Connection's own ping — from flipping the role back and forth.
func (c *Connection) handleRoleConflict(target Role) {
	c.mu.Lock()
	cb := c.onRoleConflict
	c.mu.Unlock()
	if cb != nil {
		cb(c, target)
	}
}

// checkWriteTimeout implements spec.md §4.3's three-threshold write state
// machine (WRITABLE -> WRITE_CONNECT -> WRITE_TIMEOUT), grounded on
// Connection::UpdateState in original_source/talk/p2p/base/port.cc:917-984.
// A connection drops from WRITABLE to WRITE_CONNECT once at least
// minPingsBeforeWriteConnect pings have gone unanswered for longer than the
// RTT-derived response window, and the oldest of those pings is also older
// than connectionWriteConnectGap; it drops further to WRITE_TIMEOUT once the
// oldest unanswered ping exceeds connectionWriteTimeout.
func (c *Connection) checkWriteTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	rttEstimate := conservativeRTTEstimate(c.rtt)
	writeConnectGap := time.Duration(connectionWriteConnectGap) * time.Millisecond
	writeTimeout := time.Duration(connectionWriteTimeout) * time.Millisecond

	if c.writeState == writeWritable &&
		tooManyFailures(c.pings, minPingsBeforeWriteConnect, rttEstimate, now) &&
		tooLongWithoutResponse(c.pings, writeConnectGap, now) {
		c.writeState = writeConnect
	}

	if c.writeState == writeConnect && tooLongWithoutResponse(c.pings, writeTimeout, now) {
		c.writeState = writeTimeout
	}
}

// conservativeRTTEstimate clamps 2x the smoothed RTT to [minRTT, maxRTT], the
// window allowed for a ping response before it counts as a failure.
func conservativeRTTEstimate(rtt int) time.Duration {
	estimate := 2 * rtt
	if estimate < minRTT {
		estimate = minRTT
	}
	if estimate > maxRTT {
		estimate = maxRTT
	}
	return time.Duration(estimate) * time.Millisecond
}

// tooManyFailures reports whether at least maxFailures pings have gone
// unanswered long enough (rttEstimate past the maxFailures-th-oldest ping)
// to count as failures.
func tooManyFailures(pings []pendingPing, maxFailures int, rttEstimate time.Duration, now time.Time) bool {
	if len(pings) < maxFailures {
		return false
	}
	return now.Sub(pings[maxFailures-1].sentAt) > rttEstimate
}

// tooLongWithoutResponse reports whether the oldest outstanding ping has
// gone unanswered for longer than maxAge.
func tooLongWithoutResponse(pings []pendingPing, maxAge time.Duration, now time.Time) bool {
	if len(pings) == 0 {
		return false
	}
	return now.Sub(pings[0].sentAt) > maxAge
}

// checkReadTimeout implements spec.md §4.3: a Connection that was once
// readable but has received nothing for connectionReadTimeout goes back to
// the timeout state, forcing the owning TransportChannel to reselect.
func (c *Connection) checkReadTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readState != readReadable || c.lastReadAt.IsZero() {
		return
	}
	if time.Since(c.lastReadAt) > time.Duration(connectionReadTimeout)*time.Millisecond {
		c.readState = readTimeout
	}
}

func (c *Connection) onReadPacket(data []byte) {
	c.mu.Lock()
	wasReadable := c.readState == readReadable
	wasUnreadable := !wasReadable
	c.readState = readReadable
	c.lastReadAt = time.Now()
	// Mirrors port.cc:858's recovery on a valid data packet arriving over an
	// already-readable connection: WRITE_TIMEOUT -> WRITE_CONNECT.
	if wasReadable && c.writeState == writeTimeout {
		c.writeState = writeConnect
	}
	cb := c.onData
	c.mu.Unlock()

	if wasUnreadable && c.onReadable != nil {
		c.onReadable(c)
	}
	if cb != nil {
		cb(c, data)
	}
}

// Send writes application data directly to the remote address (not
// wrapped in STUN), used once the Connection is selected as the active
// pair by a TransportChannel.
func (c *Connection) Send(data []byte) error {
	return c.port.SendTo(data, c.Remote.Address.netAddr())
}

// Destroy tears down the Connection: cancels pending timers and notifies
// its Port so the Port's empty-connections self-destruct timer can arm.
func (c *Connection) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.mu.Unlock()

	c.exec.Clear(c)
	c.port.removeConnection(c.Remote.Address)
	if c.onDestroyed != nil {
		c.onDestroyed(c)
	}
}
