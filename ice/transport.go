package ice

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// SignalingChannel is the collaborator a Transport uses to exchange
// candidates and credentials out of band with the remote peer. Wire
// transport (WebSocket, MQTT, SDP munging, ...) is outside this package's
// scope; spec.md's Non-goals exclude signalling transport itself, but the
// interface boundary is part of the core so Transport can buffer correctly
// before it is ready.
type SignalingChannel interface {
	SendCandidate(mid string, c Candidate) error
}

// Transport owns a named set of TransportChannels (one per "mid", e.g.
// "audio"/"video"/"data") sharing one ICE role/tiebreaker, and aggregates
// their readable/writable state with OR semantics, per spec.md §4.5.
//
// Grounded on the teacher's internal/ice/session.go (formerly a thin
// wrapper over the agent), generalized to the explicit channel-map +
// buffering design spec.md calls for.
type Transport struct {
	mode Mode

	mu sync.Mutex

	channels map[string]*TransportChannel

	role       Role
	tiebreaker uint64

	signaling       SignalingChannel
	signalingReady  bool
	bufferedCands   []bufferedCandidate

	readable bool
	writable bool

	onReadable func(*Transport)
	onWritable func(*Transport)

	destroyed bool
}

type bufferedCandidate struct {
	mid string
	c   Candidate
}

// NewTransport creates a Transport in the given protocol mode with an
// initial role, per spec.md §4.2's role-negotiation starting point (the
// offerer starts controlling by convention; callers pass RoleControlled
// for the answering side).
func NewTransport(mode Mode, role Role) *Transport {
	return &Transport{
		mode:       mode,
		channels:   make(map[string]*TransportChannel),
		role:       role,
		tiebreaker: newTiebreaker(),
	}
}

// SetSignalingChannel installs the out-of-band signalling collaborator.
// Must be called once before OnSignalingReady.
func (t *Transport) SetSignalingChannel(s SignalingChannel) {
	t.mu.Lock()
	t.signaling = s
	t.mu.Unlock()
}

// CreateChannel creates (or returns the existing) TransportChannel for
// name/component, wiring its role and aggregating its state into the
// Transport's own OR-combined readable/writable signals.
func (t *Transport) CreateChannel(name string, component Component) (*TransportChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.destroyed {
		return nil, errTransportDestroyed
	}
	if tc, ok := t.channels[name]; ok {
		return tc, nil
	}

	tc := newTransportChannel(name, component)
	tc.SetIceRole(t.role, t.tiebreaker)
	tc.onReadable = func(*TransportChannel) { t.recompute() }
	tc.onWritable = func(*TransportChannel) { t.recompute() }
	tc.onRoleConflict = func(_ *TransportChannel, target Role) { t.OnRoleConflict(target) }
	t.channels[name] = tc
	return tc, nil
}

// DestroyChannel tears down and removes the named channel, per
// TransportChannelProxy's destructor calling GetTransport()->DestroyChannel.
func (t *Transport) DestroyChannel(name string) {
	t.mu.Lock()
	tc, ok := t.channels[name]
	if ok {
		delete(t.channels, name)
	}
	t.mu.Unlock()

	if ok {
		tc.Destroy()
		t.recompute()
	}
}

func (t *Transport) Channel(name string) (*TransportChannel, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tc, ok := t.channels[name]
	return tc, ok
}

// recompute re-derives the Transport's OR-aggregated readable/writable
// state and fires callbacks exactly once per actual transition, per
// spec.md §4.5.
func (t *Transport) recompute() {
	t.mu.Lock()
	t.recomputeLocked()
	t.mu.Unlock()
}

func (t *Transport) recomputeLocked() {
	// recomputeLocked must be called with t.mu held; it unlocks briefly to
	// invoke callbacks without risking a deadlock if a callback re-enters
	// the Transport.
	wasReadable, wasWritable := t.readable, t.writable

	readable, writable := false, false
	for _, tc := range t.channels {
		if tc.Readable() {
			readable = true
		}
		if tc.Writable() {
			writable = true
		}
	}
	t.readable, t.writable = readable, writable
	onReadable, onWritable := t.onReadable, t.onWritable

	t.mu.Unlock()
	if readable && !wasReadable && onReadable != nil {
		onReadable(t)
	}
	if writable && !wasWritable && onWritable != nil {
		onWritable(t)
	}
	t.mu.Lock()
}

func (t *Transport) Readable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readable
}

func (t *Transport) Writable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writable
}

// WaitWritable blocks until the Transport becomes writable or
// sessionSignalingTimeout elapses, returning ErrSignalingTimeout in the
// latter case, per spec.md §4.5's session-level signalling timeout.
func (t *Transport) WaitWritable(ctx context.Context) error {
	if t.Writable() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(sessionSignalingTimeout)*time.Millisecond)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrSignalingTimeout
			}
			return ctx.Err()
		case <-ticker.C:
			if t.Writable() {
				return nil
			}
		}
	}
}

// OnSignalingReady flushes any candidates buffered before the signalling
// channel was ready to send, per spec.md §4.5's "candidate messages are
// buffered until signalling is ready" rule.
func (t *Transport) OnSignalingReady() error {
	t.mu.Lock()
	t.signalingReady = true
	signaling := t.signaling
	buffered := t.bufferedCands
	t.bufferedCands = nil
	t.mu.Unlock()

	if signaling == nil {
		return errors.New("ice: OnSignalingReady called with no SignalingChannel installed")
	}
	for _, b := range buffered {
		if err := signaling.SendCandidate(b.mid, b.c); err != nil {
			return err
		}
	}
	return nil
}

// SendCandidate forwards c to the signalling channel if it is ready, or
// buffers it otherwise.
func (t *Transport) SendCandidate(mid string, c Candidate) error {
	t.mu.Lock()
	if !t.signalingReady {
		t.bufferedCands = append(t.bufferedCands, bufferedCandidate{mid, c})
		t.mu.Unlock()
		return nil
	}
	signaling := t.signaling
	t.mu.Unlock()

	if signaling == nil {
		return errors.New("ice: no SignalingChannel installed")
	}
	return signaling.SendCandidate(mid, c)
}

// OnRoleConflict sets this Transport's role to target and propagates the
// change atomically to every channel, per spec.md §4.2: all channels in a
// Transport must agree on role, so a conflict on any one channel flips all
// of them together. Setting (rather than toggling) the role makes repeat
// conflict signals for the same resolution a no-op: a role conflict can be
// reported more than once for one underlying conflict (once from handling
// an inbound request, again from a 487 response to an outstanding ping),
// and must not flip the role back and forth.
func (t *Transport) OnRoleConflict(target Role) {
	t.mu.Lock()
	if t.role == target {
		t.mu.Unlock()
		return
	}
	t.role = target
	tiebreaker := t.tiebreaker
	chans := make([]*TransportChannel, 0, len(t.channels))
	for _, tc := range t.channels {
		chans = append(chans, tc)
	}
	t.mu.Unlock()

	for _, tc := range chans {
		tc.SetIceRole(target, tiebreaker)
	}
}

func (t *Transport) Role() Role {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.role
}

// Destroy synchronously tears down every channel, per spec.md §4.5's
// destroy_all_channels quiesce contract: it does not return until every
// channel (and its connections) has stopped.
func (t *Transport) Destroy() {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}
	t.destroyed = true
	chans := make([]*TransportChannel, 0, len(t.channels))
	for _, tc := range t.channels {
		chans = append(chans, tc)
	}
	t.channels = make(map[string]*TransportChannel)
	t.mu.Unlock()

	for _, tc := range chans {
		tc.Destroy()
	}
}
