package ice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportChannelSendPacketFailsWithoutConnection(t *testing.T) {
	tc := newTransportChannel("audio", ComponentRTP)
	err := tc.SendPacket([]byte("hello"))
	assert.ErrorIs(t, err, errChannelNotBound)
}

func TestTransportChannelSendPacketFailsWhenNotWritable(t *testing.T) {
	exec := newExecutor()
	defer exec.Stop()
	port := newLoopbackPort(t, exec, "ufrag", "pass")
	defer port.Close()

	tc := newTransportChannel("audio", ComponentRTP)
	remote := Candidate{Address: TransportAddress{protocol: UDP, port: 1}}
	conn, _, err := port.CreateConnection(Candidate{}, remote)
	require.NoError(t, err)
	tc.AddConnection(conn)

	err = tc.SendPacket([]byte("hello"))
	assert.ErrorIs(t, err, errNoWritableConnection)
}

func TestTransportChannelEndToEndSelectsWritableConnection(t *testing.T) {
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

	connA, _, err := portA.CreateConnection(candsA[0], candsB[0])
	require.NoError(t, err)

	tcA := newTransportChannel("audio", ComponentRTP)
	tcA.AddConnection(connA)

	assert.Eventually(t, func() bool {
		return tcA.Writable()
	}, 3*time.Second, 20*time.Millisecond, "channel never became writable")

	assert.NoError(t, tcA.SendPacket([]byte("payload")))
}

func TestTransportChannelSetOptionBuffersBeforeConnection(t *testing.T) {
	tc := newTransportChannel("audio", ComponentRTP)
	tc.SetOption("nodelay", true)

	tc.mu.Lock()
	n := len(tc.pendingOptions)
	tc.mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestTransportChannelSetSrtpCiphersBuffersBeforeConnection(t *testing.T) {
	tc := newTransportChannel("audio", ComponentRTP)
	tc.SetSrtpCiphers([]string{"AES_CM_128_HMAC_SHA1_80"})

	tc.mu.Lock()
	ciphers := tc.pendingCiphers
	tc.mu.Unlock()
	assert.Equal(t, []string{"AES_CM_128_HMAC_SHA1_80"}, ciphers)
}
