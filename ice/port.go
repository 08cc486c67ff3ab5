package ice

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/makana/icecore/ice/mdns"
)

// portKind tags the three flavors of Port, replacing the subclassing used
// by the original C++ (UDPPort/StunPort/TurnPort), per spec.md §4.2's
// "Kind" tagged union redesign.
type portKind int

const (
	kindHost portKind = iota
	kindServerReflexive
	kindRelay
)

// relayCredentials authenticates against a TURN-style relay server. Only
// used when a Port's kind is kindRelay.
type relayCredentials struct {
	Username string
	Password string
}

// Port owns one local socket and the set of Connections multiplexed over
// it. Grounded on the teacher's internal/ice/port.go base Port plus the
// UDPMux gather/demux pattern from pion-webrtc's ice package, generalized
// into the Kind tagged union per spec.md §4.2 (rather than the teacher's
// UDPPort/StunPort subclasses).
type Port struct {
	exec *executor

	mode      Mode
	kind      portKind
	component Component

	conn        net.PacketConn
	networkName string
	localAddr   TransportAddress

	// serverAddr/creds are only meaningful when kind == kindServerReflexive
	// or kindRelay.
	serverAddr TransportAddress
	creds      relayCredentials

	ufrag    string
	password string

	mu          sync.Mutex
	candidates  []Candidate
	connections map[string]*Connection // keyed by remote TransportAddress.String()

	onCandidateGathered func(Candidate)
	onUnknownAddress    func(remote net.Addr, msg *stunMessage) *Connection
	onDestroyed         func(*Port)

	closed bool
}

// newHostPort opens conn and wraps it as a host Port. The caller supplies
// networkName for foundation grouping and candidate bookkeeping.
func newHostPort(exec *executor, mode Mode, component Component, conn net.PacketConn, networkName string, ufrag, password string) (*Port, error) {
	local := makeTransportAddress(conn.LocalAddr())
	p := &Port{
		exec:        exec,
		mode:        mode,
		kind:        kindHost,
		component:   component,
		conn:        conn,
		networkName: networkName,
		localAddr:   local,
		ufrag:       ufrag,
		password:    password,
		connections: make(map[string]*Connection),
	}
	go p.readLoop()
	return p, nil
}

// newServerReflexivePort performs a STUN binding request against server to
// discover this host's public mapping, then wraps the result as a srflx
// Port sharing the same underlying socket as base.
func newServerReflexivePort(ctx context.Context, base *Port, server TransportAddress) (*Port, error) {
	conn, ok := base.conn.(*net.UDPConn)
	if !ok {
		return nil, errors.New("ice: server-reflexive gathering requires a UDP socket")
	}

	req := newBindingRequest()
	raddr := server.netAddr()

	respCh := make(chan *stunMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		if _, err := conn.WriteTo(req.Bytes(), raddr); err != nil {
			errCh <- err
			return
		}
		buf := make([]byte, 1500)
		deadline, ok := ctx.Deadline()
		if ok {
			conn.SetReadDeadline(deadline)
		}
		for {
			n, src, err := conn.ReadFrom(buf)
			if err != nil {
				errCh <- err
				return
			}
			msg, err := parseStunMessage(buf[:n])
			if err != nil || msg == nil {
				continue
			}
			if msg.transactionID == req.transactionID && src.String() == raddr.String() {
				respCh <- msg
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errCh:
		return nil, errors.Wrap(err, "ice: STUN binding request failed")
	case msg := <-respCh:
		mapped := msg.getMappedAddress()
		if mapped == nil {
			return nil, errors.New("ice: STUN response missing mapped address")
		}
		p := &Port{
			exec:        base.exec,
			mode:        base.mode,
			kind:        kindServerReflexive,
			component:   base.component,
			conn:        base.conn,
			networkName: base.networkName,
			localAddr:   makeTransportAddress(mapped),
			serverAddr:  server,
			ufrag:       base.ufrag,
			password:    base.password,
			connections: make(map[string]*Connection),
		}
		return p, nil
	}
}

// newRelayPort wraps base's socket as a relay Port behind the given TURN
// server address and credentials. Allocation itself is out of scope (see
// spec.md Non-goals); this models the steady-state send/receive Port
// interface a relay implementation would present.
func newRelayPort(base *Port, server TransportAddress, creds relayCredentials, relayedAddr TransportAddress) *Port {
	return &Port{
		exec:        base.exec,
		mode:        base.mode,
		kind:        kindRelay,
		component:   base.component,
		conn:        base.conn,
		networkName: base.networkName,
		localAddr:   relayedAddr,
		serverAddr:  server,
		creds:       creds,
		ufrag:       base.ufrag,
		password:    base.password,
		connections: make(map[string]*Connection),
	}
}

// GatherCandidates produces the single local candidate for this Port, typed
// after the Port's kind; for a host Port with useMdnsObfuscation set, that
// candidate's address carries an mDNS name in place of the raw IP, per
// spec.md §4.2's "prepare_address" operation.
func (p *Port) GatherCandidates(ctx context.Context, useMdnsObfuscation bool) ([]Candidate, error) {
	var typ string
	switch p.kind {
	case kindHost:
		typ = TypeHost
	case kindServerReflexive:
		typ = TypeSrflx
	case kindRelay:
		typ = TypeRelay
	}

	localPref := 65535
	priority := computePriority(typ, localPref, p.component)

	cand := Candidate{
		Component:  p.component,
		Address:    p.localAddr,
		Priority:   priority,
		Ufrag:      p.ufrag,
		Password:   p.password,
		Type:       typ,
		Foundation: computeFoundation(typ, p.baseAddress()),
		networkName: p.networkName,
	}
	if p.kind != kindHost {
		base := p.baseAddress()
		cand.RelatedAddress = &base
	}

	if p.kind == kindHost && useMdnsObfuscation {
		name, _, err := p.announceMdnsName(ctx)
		if err == nil {
			cand.Address.hostname = name
		} else {
			log.Debug("mdns announce failed, falling back to raw host candidate: %v", err)
		}
	}

	p.mu.Lock()
	p.candidates = append(p.candidates, cand)
	p.mu.Unlock()

	if p.onCandidateGathered != nil {
		p.onCandidateGathered(cand)
	}
	return []Candidate{cand}, nil
}

// GatherCandidates gathers one candidate from each of ports, skipping (and
// logging) any individual failure, and fails the whole operation only if
// every Port failed to produce a candidate.
func GatherCandidates(ctx context.Context, ports []*Port, useMdnsObfuscation bool) ([]Candidate, error) {
	var all []Candidate
	for _, p := range ports {
		cands, err := p.GatherCandidates(ctx, useMdnsObfuscation)
		if err != nil {
			log.Warn("candidate gathering failed for port %s: %v", p.localAddr, err)
			continue
		}
		all = append(all, cands...)
	}
	if len(all) == 0 {
		return nil, ErrNoCandidates
	}
	return all, nil
}

func (p *Port) baseAddress() TransportAddress {
	if p.kind == kindHost {
		return p.localAddr
	}
	return makeTransportAddress(p.conn.LocalAddr())
}

func (p *Port) announceMdnsName(ctx context.Context) (string, net.IP, error) {
	name := fmt.Sprintf("%x.local", newTiebreaker())
	ip := p.localAddr.ip
	if err := mdns.Announce(ctx, name, ip, 120*time.Second); err != nil {
		return "", nil, err
	}
	return name, ip, nil
}

// CreateConnection returns the Connection for remote, creating and storing
// it if one does not already exist. It fires no callback. Mirrors spec.md
// §4.2's create_connection.
func (p *Port) CreateConnection(local Candidate, remote Candidate) (conn *Connection, created bool, err error) {
	key := remote.Address.String()

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.connections[key]; ok {
		return c, false, nil
	}
	if p.closed {
		return nil, false, errPortClosed
	}

	c := newConnection(p, local, remote)
	p.connections[key] = c
	return c, true, nil
}

func (p *Port) removeConnection(remote TransportAddress) {
	p.mu.Lock()
	delete(p.connections, remote.String())
	empty := len(p.connections) == 0
	p.mu.Unlock()

	if empty {
		p.scheduleDestroyTimer()
	}
}

// scheduleDestroyTimer implements spec.md §4.2's port self-destruct: a Port
// with zero Connections destroys itself after portTimeout unless a new
// Connection is created first.
func (p *Port) scheduleDestroyTimer() {
	p.exec.PostDelayed(p, time.Duration(portTimeout)*time.Millisecond, func() {
		p.mu.Lock()
		empty := len(p.connections) == 0 && !p.closed
		p.mu.Unlock()
		if empty {
			p.Close()
		}
	})
}

func (p *Port) readLoop() {
	buf := make([]byte, 1500)
	for {
		n, src, err := p.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		data := append([]byte(nil), buf[:n]...)
		p.exec.Post(func() {
			p.handlePacket(data, src)
		})
	}
}

func (p *Port) handlePacket(data []byte, src net.Addr) {
	msg, err := parseStunMessage(data)
	if err != nil {
		log.Debug("ice: dropping malformed STUN-looking packet from %v: %v", src, err)
		return
	}
	if msg == nil {
		// Not STUN; hand off to whichever connection owns this remote
		// address as media/application data.
		p.dispatchData(data, src)
		return
	}

	// spec.md §4.2's get_stun_message contract: in RFC5245 mode, reject
	// before any other processing if FINGERPRINT is missing or wrong.
	// Mirrors original_source/talk/p2p/base/port.cc's GetStunMessage,
	// which runs StunMessage::ValidateFingerprint first for every
	// inbound STUN message in ICEPROTO_RFC5245 mode.
	if p.mode == RFC5245 && !validateFingerprint(data) {
		log.Debug("ice: dropping STUN message with invalid FINGERPRINT from %v", src)
		return
	}

	switch msg.class {
	case classRequest:
		p.handleStunRequest(msg, data, src)
	case classSuccessResponse, classErrorResponse:
		p.dispatchStunResponse(msg, src)
	}
}

func (p *Port) dispatchData(data []byte, src net.Addr) {
	key := makeTransportAddress(src).String()
	p.mu.Lock()
	c := p.connections[key]
	p.mu.Unlock()
	if c != nil {
		c.onReadPacket(data)
	}
}

func (p *Port) dispatchStunResponse(msg *stunMessage, src net.Addr) {
	key := makeTransportAddress(src).String()
	p.mu.Lock()
	c := p.connections[key]
	p.mu.Unlock()
	if c != nil {
		c.onStunResponse(msg)
	}
}

// handleStunRequest validates an inbound binding request (spec.md §4.2's
// get_stun_message contract: a missing or wrong ufrag, or in RFC5245 mode a
// failed MESSAGE-INTEGRITY check, is answered with 401; a request from an
// address with no Connection is answered with 400) and either routes it to
// an existing Connection or, when onUnknownAddress is set, asks that hook
// for one. Role conflicts (487) are answered by the Connection.
func (p *Port) handleStunRequest(msg *stunMessage, raw []byte, src net.Addr) {
	username, ok := msg.getUsername()
	if !ok || !validUsername(username, p.ufrag) {
		p.sendError(msg, src, codeUnauthorized)
		return
	}
	if p.mode == RFC5245 {
		if !validateMessageIntegrity(raw, p.password) {
			p.sendError(msg, src, codeUnauthorized)
			return
		}
	}

	key := makeTransportAddress(src).String()
	p.mu.Lock()
	c := p.connections[key]
	p.mu.Unlock()

	if c == nil && p.onUnknownAddress != nil {
		c = p.onUnknownAddress(src, msg)
	}
	if c == nil {
		p.sendError(msg, src, codeBadRequest)
		return
	}
	c.onStunRequest(msg, src)
}

// validUsername checks that combined (the STUN USERNAME attribute) begins
// with localFrag, per RFC 5245 §7.1.2.3's "localufrag:remoteufrag" form.
func validUsername(combined, localFrag string) bool {
	return len(combined) >= len(localFrag) && combined[:len(localFrag)] == localFrag
}

func (p *Port) sendError(req *stunMessage, dst net.Addr, code int) {
	resp := newBindingErrorResponse(req.transactionID, code, p.mode)
	if p.mode == RFC5245 {
		resp.addFingerprint()
	}
	p.SendTo(resp.Bytes(), dst)
}

// SendTo writes data to dst over this Port's socket.
func (p *Port) SendTo(data []byte, dst net.Addr) error {
	_, err := p.conn.WriteTo(data, dst)
	return err
}

// Close tears down the Port and all of its Connections.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := make([]*Connection, 0, len(p.connections))
	for _, c := range p.connections {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		c.Destroy()
	}
	p.exec.Clear(p)
	if p.onDestroyed != nil {
		p.onDestroyed(p)
	}
	if p.kind == kindHost {
		return p.conn.Close()
	}
	return nil
}
