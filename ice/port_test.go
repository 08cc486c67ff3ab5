package ice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatherCandidatesProducesHostCandidate(t *testing.T) {
	exec := newExecutor()
	defer exec.Stop()
	port := newLoopbackPort(t, exec, "ufrag", "pass")
	defer port.Close()

	cands, err := port.GatherCandidates(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, TypeHost, cands[0].Type)
	assert.Equal(t, "ufrag", cands[0].Ufrag)
	assert.NotEmpty(t, cands[0].Foundation)
}

func TestGatherCandidatesAggregatesAcrossPorts(t *testing.T) {
	execA, execB := newExecutor(), newExecutor()
	defer execA.Stop()
	defer execB.Stop()
	portA := newLoopbackPort(t, execA, "ufragA", "passA")
	portB := newLoopbackPort(t, execB, "ufragB", "passB")
	defer portA.Close()
	defer portB.Close()

	cands, err := GatherCandidates(context.Background(), []*Port{portA, portB}, false)
	require.NoError(t, err)
	assert.Len(t, cands, 2)
}

func TestGatherCandidatesNoPortsFails(t *testing.T) {
	_, err := GatherCandidates(context.Background(), nil, false)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestValidUsername(t *testing.T) {
	assert.True(t, validUsername("localfrag:remotefrag", "localfrag"))
	assert.False(t, validUsername("other:remotefrag", "localfrag"))
	assert.False(t, validUsername("loc", "localfrag"))
}

func TestPortRemovesDestroyedConnection(t *testing.T) {
	exec := newExecutor()
	defer exec.Stop()
	port := newLoopbackPort(t, exec, "ufrag", "pass")

	remote := Candidate{Address: TransportAddress{protocol: UDP, port: 1}}
	conn, _, err := port.CreateConnection(Candidate{}, remote)
	require.NoError(t, err)

	conn.Destroy()

	port.mu.Lock()
	_, stillOpen := port.connections[remote.Address.String()]
	port.mu.Unlock()
	assert.False(t, stillOpen)
}
