package ice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestChannelConnReadWrite wires two real Connections end to end, one on
// each loopback Port, and checks channelConn's net.Conn adapter carries application data in both
// directions once the channel is writable.
func TestChannelConnReadWrite(t *testing.T) {
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
	connB, _, err := portB.CreateConnection(candsB[0], candsA[0])
	require.NoError(t, err)

	tcA := newTransportChannel("mid0", ComponentRTP)
	tcA.AddConnection(connA)
	tcB := newTransportChannel("mid0", ComponentRTP)
	tcB.AddConnection(connB)

	ccA := newChannelConn(tcA, candsA[0].Address.netAddr())
	ccB := newChannelConn(tcB, candsB[0].Address.netAddr())

	assert.Eventually(t, func() bool {
		return tcA.Writable() && tcB.Writable()
	}, 3*time.Second, 20*time.Millisecond, "channels never became writable")

	_, err = ccA.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := ccB.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	require.NoError(t, ccA.Close())
	require.NoError(t, ccB.Close())
}

func TestAgentConfigureSplitsUsername(t *testing.T) {
	a := NewAgent(context.Background())
	a.Configure("mid0", "remoteFrag:localFrag", "localPwd", "remotePwd")

	assert.Equal(t, "localFrag", a.localUfrag)
	assert.Equal(t, "localPwd", a.localPassword)
	assert.Equal(t, "remotePwd", a.remotePassword)
}

func TestAgentAddRemoteCandidateBeforeEstablishFails(t *testing.T) {
	a := NewAgent(context.Background())
	a.Configure("mid0", "remoteFrag:localFrag", "localPwd", "remotePwd")

	cand := Candidate{Foundation: "1", Component: ComponentRTP, Type: TypeHost,
		Address: TransportAddress{protocol: UDP, port: 5000}}
	err := a.AddRemoteCandidate(cand.EncodeAttributeLine(), "mid0")
	assert.Error(t, err)
}
