package ice

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Agent is a single-component ICE session built on top of Port, Transport
// and TransportChannel: one local UDP socket, one remote candidate set
// accumulated from signalling, and a net.Conn view of whichever candidate
// pair converges to writable.
//
// Grounded on the teacher's internal/ice/agent.go entry point, rebuilt
// over this package's Port/Transport/TransportChannel state machines
// instead of the teacher's single monolithic agent loop.
type Agent struct {
	ctx context.Context

	mode Mode
	role Role

	mu             sync.Mutex
	mid            string
	localUfrag     string
	localPassword  string
	remotePassword string

	conn      net.PacketConn
	exec      *executor
	port      *Port
	transport *Transport
	channel   *TransportChannel

	localCandidates []Candidate
}

// NewAgent creates an Agent bound to ctx; canceling ctx releases its
// socket and timers. Defaults to RFC5245 mode and the controlled role,
// matching the answerer side peer_connection.go drives.
func NewAgent(ctx context.Context) *Agent {
	return &Agent{
		ctx:  ctx,
		mode: RFC5245,
		role: RoleControlled,
	}
}

// Configure sets the SDP media stream identifier and ICE credentials
// negotiated via offer/answer. username is "REMOTEFRAG:LOCALFRAG" per
// RFC 5245 §7.1.2.3.
func (a *Agent) Configure(mid, username, localPassword, remotePassword string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.mid = mid
	a.localPassword = localPassword
	a.remotePassword = remotePassword

	if parts := strings.SplitN(username, ":", 2); len(parts) == 2 {
		a.localUfrag = parts[1]
	} else {
		a.localUfrag = username
	}
}

// AddRemoteCandidate parses an SDP "a=candidate:..." line and, once the
// local port is gathering, creates the corresponding Connection.
func (a *Agent) AddRemoteCandidate(desc, mid string) error {
	remote, err := ParseAttributeLine(desc, mid)
	if err != nil {
		return errors.Wrap(err, "ice: parse remote candidate")
	}
	remote.Password = a.remotePassword

	a.mu.Lock()
	port := a.port
	channel := a.channel
	locals := a.localCandidates
	a.mu.Unlock()

	if port == nil || channel == nil || len(locals) == 0 {
		return errors.New("ice: AddRemoteCandidate called before EstablishConnection")
	}

	conn, _, err := port.CreateConnection(locals[0], remote)
	if err != nil {
		return err
	}
	channel.AddConnection(conn)
	return nil
}

// EstablishConnection opens a local host Port, gathers its candidates onto
// lcand, builds a single-channel Transport, and blocks until a candidate
// pair becomes writable. The returned net.Conn reads/writes over whichever
// pair TransportChannel currently selects.
func (a *Agent) EstablishConnection(lcand chan<- Candidate) (net.Conn, error) {
	a.mu.Lock()
	mid, localUfrag, localPassword := a.mid, a.localUfrag, a.localPassword
	a.mu.Unlock()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, errors.Wrap(err, "ice: open local socket")
	}

	exec := newExecutor()
	port, err := newHostPort(exec, a.mode, ComponentRTP, conn, "default", localUfrag, localPassword)
	if err != nil {
		exec.Stop()
		conn.Close()
		return nil, err
	}

	cands, err := port.GatherCandidates(a.ctx, false)
	if err != nil {
		port.Close()
		exec.Stop()
		return nil, err
	}

	transport := NewTransport(a.mode, a.role)
	channel, err := transport.CreateChannel(mid, ComponentRTP)
	if err != nil {
		port.Close()
		exec.Stop()
		return nil, err
	}

	a.mu.Lock()
	a.conn = conn
	a.exec = exec
	a.port = port
	a.transport = transport
	a.channel = channel
	a.localCandidates = cands
	a.mu.Unlock()

	go func() {
		<-a.ctx.Done()
		port.Close()
		exec.Stop()
	}()

	for _, c := range cands {
		lcand <- c
	}

	if err := transport.WaitWritable(a.ctx); err != nil {
		return nil, err
	}

	return newChannelConn(channel, conn.LocalAddr()), nil
}

// channelConn adapts a TransportChannel to net.Conn, so it can be handed
// to a generic byte-stream multiplexer (e.g. internal/mux) the way a raw
// socket would be.
type channelConn struct {
	channel   *TransportChannel
	localAddr net.Addr

	mu     sync.Mutex
	readCh chan []byte
	closed chan struct{}
}

func newChannelConn(tc *TransportChannel, local net.Addr) *channelConn {
	cc := &channelConn{
		channel:   tc,
		localAddr: local,
		readCh:    make(chan []byte, 64),
		closed:    make(chan struct{}),
	}
	tc.mu.Lock()
	tc.onData = func(_ *TransportChannel, data []byte) {
		cp := append([]byte(nil), data...)
		select {
		case cc.readCh <- cp:
		case <-cc.closed:
		}
	}
	tc.mu.Unlock()
	return cc
}

func (cc *channelConn) Read(p []byte) (int, error) {
	select {
	case data := <-cc.readCh:
		n := copy(p, data)
		return n, nil
	case <-cc.closed:
		return 0, errors.New("ice: channelConn closed")
	}
}

func (cc *channelConn) Write(p []byte) (int, error) {
	if err := cc.channel.SendPacket(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (cc *channelConn) Close() error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	select {
	case <-cc.closed:
	default:
		close(cc.closed)
	}
	cc.channel.Destroy()
	return nil
}

func (cc *channelConn) LocalAddr() net.Addr  { return cc.localAddr }
func (cc *channelConn) RemoteAddr() net.Addr {
	cc.channel.mu.Lock()
	defer cc.channel.mu.Unlock()
	if cc.channel.selected != nil {
		return cc.channel.selected.Remote.Address.netAddr()
	}
	return nil
}

func (cc *channelConn) SetDeadline(t time.Time) error      { return nil }
func (cc *channelConn) SetReadDeadline(t time.Time) error  { return nil }
func (cc *channelConn) SetWriteDeadline(t time.Time) error { return nil }
