package ice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSignaling struct {
	sent []Candidate
}

func (f *fakeSignaling) SendCandidate(mid string, c Candidate) error {
	f.sent = append(f.sent, c)
	return nil
}

func TestTransportCreateChannelIsIdempotent(t *testing.T) {
	tr := NewTransport(RFC5245, RoleControlling)
	a, err := tr.CreateChannel("audio", ComponentRTP)
	require.NoError(t, err)
	b, err := tr.CreateChannel("audio", ComponentRTP)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestTransportCreateChannelFailsAfterDestroy(t *testing.T) {
	tr := NewTransport(RFC5245, RoleControlling)
	tr.Destroy()
	_, err := tr.CreateChannel("audio", ComponentRTP)
	assert.ErrorIs(t, err, errTransportDestroyed)
}

func TestTransportOrAggregatesReadableWritable(t *testing.T) {
	tr := NewTransport(RFC5245, RoleControlling)
	audio, err := tr.CreateChannel("audio", ComponentRTP)
	require.NoError(t, err)
	video, err := tr.CreateChannel("video", ComponentRTP)
	require.NoError(t, err)

	assert.False(t, tr.Readable())
	assert.False(t, tr.Writable())

	// Simulate the audio channel becoming readable/writable without a real
	// Connection, by driving its callbacks directly.
	audio.mu.Lock()
	audio.connections = append(audio.connections, &Connection{writeState: writeWritable, readState: readReadable})
	audio.mu.Unlock()
	audio.onConnectionStateChange()

	assert.True(t, tr.Readable())
	assert.True(t, tr.Writable())

	_ = video
}

func TestTransportSignalingBuffersUntilReady(t *testing.T) {
	tr := NewTransport(RFC5245, RoleControlling)
	sig := &fakeSignaling{}
	tr.SetSignalingChannel(sig)

	cand := Candidate{Type: TypeHost}
	require.NoError(t, tr.SendCandidate("audio", cand))
	assert.Empty(t, sig.sent, "candidate must be buffered, not sent, before signalling is ready")

	require.NoError(t, tr.OnSignalingReady())
	require.Len(t, sig.sent, 1)
	assert.Equal(t, TypeHost, sig.sent[0].Type)

	// Once ready, further sends go straight through.
	require.NoError(t, tr.SendCandidate("audio", Candidate{Type: TypeSrflx}))
	require.Len(t, sig.sent, 2)
}

func TestTransportRoleConflictFlipsAllChannels(t *testing.T) {
	tr := NewTransport(RFC5245, RoleControlling)
	audio, err := tr.CreateChannel("audio", ComponentRTP)
	require.NoError(t, err)
	video, err := tr.CreateChannel("video", ComponentRTP)
	require.NoError(t, err)

	tr.OnRoleConflict(RoleControlled)

	assert.Equal(t, RoleControlled, tr.Role())
	assert.Equal(t, RoleControlled, audio.role)
	assert.Equal(t, RoleControlled, video.role)
}

// TestTransportRoleConflictPropagatesFromRealStunExchange wires two real
// Transports, each starting in the (conflicting) controlling role, over
// loopback sockets and checks that a genuine STUN binding-request exchange
// resolves the conflict by flipping exactly the losing side's Transport
// role, which then propagates to every channel it owns -- including one
// with no Connection at all -- per spec.md §4.2/§4.6.
func TestTransportRoleConflictPropagatesFromRealStunExchange(t *testing.T) {
	execA, execB := newExecutor(), newExecutor()
	defer execA.Stop()
	defer execB.Stop()

	portA := newLoopbackPort(t, execA, "ufragA", "passA")
	portB := newLoopbackPort(t, execB, "ufragB", "passB")
	defer portA.Close()
	defer portB.Close()

	ctx := context.Background()
	candsA, err := portA.GatherCandidates(ctx, false)
	require.NoError(t, err)
	candsB, err := portB.GatherCandidates(ctx, false)
	require.NoError(t, err)

	trA := NewTransport(RFC5245, RoleControlling)
	trB := NewTransport(RFC5245, RoleControlling)
	// Force a deterministic winner: the larger tiebreaker keeps control.
	trA.tiebreaker = 1
	trB.tiebreaker = 2

	audioA, err := trA.CreateChannel("audio", ComponentRTP)
	require.NoError(t, err)
	videoA, err := trA.CreateChannel("video", ComponentRTP) // no Connection; propagation-only
	require.NoError(t, err)
	audioB, err := trB.CreateChannel("audio", ComponentRTP)
	require.NoError(t, err)

	connA, _, err := portA.CreateConnection(candsA[0], candsB[0])
	require.NoError(t, err)
	connB, _, err := portB.CreateConnection(candsB[0], candsA[0])
	require.NoError(t, err)

	audioA.AddConnection(connA)
	audioB.AddConnection(connB)

	assert.Eventually(t, func() bool {
		return trA.Role() == RoleControlled
	}, 3*time.Second, 20*time.Millisecond, "transport A (smaller tiebreaker) never switched to controlled")

	assert.Equal(t, RoleControlling, trB.Role(), "transport B (larger tiebreaker) must keep control")

	audioA.mu.Lock()
	videoA.mu.Lock()
	assert.Equal(t, RoleControlled, audioA.role)
	assert.Equal(t, RoleControlled, videoA.role, "role flip must propagate to channels with no Connection")
	videoA.mu.Unlock()
	audioA.mu.Unlock()
}

func TestTransportWaitWritableTimesOut(t *testing.T) {
	tr := NewTransport(RFC5245, RoleControlling)
	_, err := tr.CreateChannel("audio", ComponentRTP)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = tr.WaitWritable(ctx)
	assert.Error(t, err)
}

func TestTransportDestroyIsSynchronous(t *testing.T) {
	tr := NewTransport(RFC5245, RoleControlling)
	audio, err := tr.CreateChannel("audio", ComponentRTP)
	require.NoError(t, err)

	tr.Destroy()

	_, ok := tr.Channel("audio")
	assert.False(t, ok)
	assert.True(t, audio.destroyed)
}
