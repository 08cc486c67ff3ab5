package ice

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLoopbackPort opens a UDP socket on loopback and wraps it as a host
// Port, for end-to-end tests that exercise the real STUN wire format.
func newLoopbackPort(t *testing.T, exec *executor, ufrag, password string) *Port {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	p, err := newHostPort(exec, RFC5245, ComponentRTP, conn, "lo", ufrag, password)
	require.NoError(t, err)
	return p
}

// TestConnectionPairBecomesWritableAndReadable exercises the full STUN
// binding round trip over real loopback sockets: a ping sent from A is
// answered by B, which must flip both Connections writable and readable.
func TestConnectionPairBecomesWritableAndReadable(t *testing.T) {
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

	connA, created, err := portA.CreateConnection(candsA[0], candsB[0])
	require.NoError(t, err)
	assert.True(t, created)

	connB, created, err := portB.CreateConnection(candsB[0], candsA[0])
	require.NoError(t, err)
	assert.True(t, created)

	assert.Eventually(t, func() bool {
		return connA.Writable() && connA.Readable()
	}, 3*time.Second, 20*time.Millisecond, "connection A never became writable/readable")

	assert.Eventually(t, func() bool {
		return connB.Writable() && connB.Readable()
	}, 3*time.Second, 20*time.Millisecond, "connection B never became writable/readable")
}

func TestConnectionDuplicateCreateConnectionReturnsSame(t *testing.T) {
	exec := newExecutor()
	defer exec.Stop()
	port := newLoopbackPort(t, exec, "ufrag", "pass")
	defer port.Close()

	remote := Candidate{Address: TransportAddress{protocol: UDP, ip: net.ParseIP("10.0.0.9"), port: 9}}
	c1, created1, err := port.CreateConnection(Candidate{}, remote)
	require.NoError(t, err)
	assert.True(t, created1)

	c2, created2, err := port.CreateConnection(Candidate{}, remote)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Same(t, c1, c2)
}

func TestConnectionCreateConnectionAfterCloseFails(t *testing.T) {
	exec := newExecutor()
	defer exec.Stop()
	port := newLoopbackPort(t, exec, "ufrag", "pass")
	port.Close()

	remote := Candidate{Address: TransportAddress{protocol: UDP, ip: net.ParseIP("10.0.0.9"), port: 9}}
	_, _, err := port.CreateConnection(Candidate{}, remote)
	assert.ErrorIs(t, err, errPortClosed)
}

func TestUpdateRTTClampedToBounds(t *testing.T) {
	c := &Connection{rtt: maxRTT}
	c.updateRTTLocked(0)
	assert.GreaterOrEqual(t, c.rtt, minRTT)

	c = &Connection{rtt: minRTT}
	c.updateRTTLocked(100000)
	assert.LessOrEqual(t, c.rtt, maxRTT)
}

func TestConnectionPriorityIsPeerReflexive(t *testing.T) {
	c := &Connection{Local: Candidate{Priority: computePriority(TypeHost, 1000, ComponentRTP)}}
	assert.Equal(t, peerReflexivePriority(c.Local.Priority), c.Priority())
}

// stalePings builds n pendingPing entries all sent age ago, old enough to
// count as failures/timeouts under any rtt estimate used below.
func stalePings(n int, age time.Duration) []pendingPing {
	pings := make([]pendingPing, n)
	sentAt := time.Now().Add(-age)
	for i := range pings {
		pings[i] = pendingPing{transactionID: string(rune('a' + i)), sentAt: sentAt}
	}
	return pings
}

// TestConnectionWriteStateDropsToWriteConnectAfterRepeatedFailures exercises
// the first threshold of spec.md §4.3's write-state machine: WRITABLE drops
// to WRITE_CONNECT once minPingsBeforeWriteConnect pings have gone
// unanswered past both the RTT-derived window and connectionWriteConnectGap.
func TestConnectionWriteStateDropsToWriteConnectAfterRepeatedFailures(t *testing.T) {
	c := &Connection{
		writeState: writeWritable,
		rtt:        minRTT,
		pings:      stalePings(minPingsBeforeWriteConnect, time.Duration(connectionWriteConnectGap+1)*time.Millisecond),
	}
	c.checkWriteTimeout()
	assert.Equal(t, writeConnect, c.writeState)
}

// TestConnectionWriteStateStaysWritableBelowFailureThreshold checks that
// fewer than minPingsBeforeWriteConnect outstanding failures never trips the
// WRITABLE -> WRITE_CONNECT transition, even when all of them are old.
func TestConnectionWriteStateStaysWritableBelowFailureThreshold(t *testing.T) {
	c := &Connection{
		writeState: writeWritable,
		rtt:        minRTT,
		pings:      stalePings(minPingsBeforeWriteConnect-1, time.Duration(connectionWriteConnectGap+1)*time.Millisecond),
	}
	c.checkWriteTimeout()
	assert.Equal(t, writeWritable, c.writeState)
}

// TestConnectionWriteStateEscalatesToWriteTimeout exercises the second
// threshold: once already in WRITE_CONNECT, the oldest outstanding ping
// aging past connectionWriteTimeout escalates to WRITE_TIMEOUT.
func TestConnectionWriteStateEscalatesToWriteTimeout(t *testing.T) {
	c := &Connection{
		writeState: writeConnect,
		rtt:        minRTT,
		pings:      stalePings(minPingsBeforeWriteConnect, time.Duration(connectionWriteTimeout+1)*time.Millisecond),
	}
	c.checkWriteTimeout()
	assert.Equal(t, writeTimeout, c.writeState)
}

// TestConnectionWriteStateRecoversOnValidInboundRequest covers Scenario D's
// recovery leg: a WRITE_TIMEOUT connection that receives a validated binding
// request (no ICE-CONTROLLING/CONTROLLED conflict) goes back to
// WRITE_CONNECT rather than staying dead, per port.cc:826.
func TestConnectionWriteStateRecoversOnValidInboundRequest(t *testing.T) {
	exec := newExecutor()
	defer exec.Stop()
	port := newLoopbackPort(t, exec, "ufrag", "pass")
	defer port.Close()

	remote := Candidate{Address: TransportAddress{protocol: UDP, ip: net.ParseIP("10.0.0.9"), port: 9}}
	c, _, err := port.CreateConnection(Candidate{}, remote)
	require.NoError(t, err)

	c.mu.Lock()
	c.writeState = writeTimeout
	c.mu.Unlock()

	req := newBindingRequest()
	c.onStunRequest(req, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4})

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, writeConnect, c.writeState)
}

// TestConnectionWriteStateRecoversOnReadableData covers Scenario D's other
// recovery leg: data arriving on a Connection that was already readable
// clears WRITE_TIMEOUT back to WRITE_CONNECT, per port.cc:858.
func TestConnectionWriteStateRecoversOnReadableData(t *testing.T) {
	c := &Connection{
		readState:  readReadable,
		writeState: writeTimeout,
		lastReadAt: time.Now(),
	}
	c.onReadPacket([]byte("data"))
	assert.Equal(t, writeConnect, c.writeState)
}
