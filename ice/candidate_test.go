package ice

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePriorityMonotonic(t *testing.T) {
	host := computePriority(TypeHost, 65535, ComponentRTP)
	srflx := computePriority(TypeSrflx, 65535, ComponentRTP)
	relay := computePriority(TypeRelay, 65535, ComponentRTP)

	assert.Greater(t, host, srflx)
	assert.Greater(t, srflx, relay)
}

func TestComputePriorityComponentOrdering(t *testing.T) {
	rtp := computePriority(TypeHost, 100, ComponentRTP)
	rtcp := computePriority(TypeHost, 100, ComponentRTCP)
	assert.Greater(t, rtp, rtcp, "lower component id must win a higher priority")
}

func TestPeerReflexivePriorityPreservesLow24Bits(t *testing.T) {
	local := computePriority(TypeHost, 12345, ComponentRTP)
	pr := peerReflexivePriority(local)
	assert.Equal(t, local&0x00FFFFFF, pr&0x00FFFFFF)
	assert.Equal(t, uint32(typePreferenceReflx), pr>>24)
}

func TestComputeFoundationStableAndDistinct(t *testing.T) {
	a := TransportAddress{protocol: UDP, ip: mustParseIP("192.168.1.5"), port: 1, family: IPv4}
	b := TransportAddress{protocol: UDP, ip: mustParseIP("192.168.1.6"), port: 1, family: IPv4}

	f1 := computeFoundation(TypeHost, a)
	f2 := computeFoundation(TypeHost, a)
	f3 := computeFoundation(TypeHost, b)

	assert.Equal(t, f1, f2, "foundation must be deterministic for identical (type, base)")
	assert.NotEqual(t, f1, f3, "different base addresses must not collide")
}

func TestCandidateEqualIgnoresIDAndNetworkName(t *testing.T) {
	addr := TransportAddress{protocol: UDP, ip: mustParseIP("10.0.0.1"), port: 9, family: IPv4}
	c1 := Candidate{id: "a", networkName: "eth0", Address: addr, Type: TypeHost, Component: ComponentRTP}
	c2 := Candidate{id: "b", networkName: "wlan0", Address: addr, Type: TypeHost, Component: ComponentRTP}
	assert.True(t, c1.Equal(c2))
}

func TestCandidateEqualDiffersOnType(t *testing.T) {
	addr := TransportAddress{protocol: UDP, ip: mustParseIP("10.0.0.1"), port: 9, family: IPv4}
	c1 := Candidate{Address: addr, Type: TypeHost, Component: ComponentRTP}
	c2 := Candidate{Address: addr, Type: TypeSrflx, Component: ComponentRTP}
	assert.False(t, c1.Equal(c2))
}

func TestEncodeParseAttributeLineRoundTrip(t *testing.T) {
	orig := Candidate{
		Foundation: "1",
		Component:  ComponentRTP,
		Address:    TransportAddress{protocol: UDP, ip: mustParseIP("203.0.113.5"), port: 54321, family: IPv4},
		Priority:   2130706431,
		Type:       TypeHost,
		Generation: 0,
	}

	line := orig.EncodeAttributeLine()
	parsed, err := ParseAttributeLine(line, "audio")
	require.NoError(t, err)

	assert.Equal(t, orig.Foundation, parsed.Foundation)
	assert.Equal(t, orig.Component, parsed.Component)
	assert.Equal(t, orig.Priority, parsed.Priority)
	assert.Equal(t, orig.Type, parsed.Type)
	assert.Equal(t, "audio", parsed.Mid())
	assert.True(t, orig.Address.Equal(parsed.Address))
}

func TestParseAttributeLineWithExtensions(t *testing.T) {
	line := "candidate:1 1 udp 2130706431 203.0.113.5 54321 typ srflx raddr 192.168.1.5 rport 12345 generation 0"
	c, err := ParseAttributeLine(line, "video")
	require.NoError(t, err)

	assert.Equal(t, TypeSrflx, c.Type)
	require.NotNil(t, c.RelatedAddress)
	assert.Equal(t, "192.168.1.5", c.RelatedAddress.displayIP())
	assert.Equal(t, 12345, c.RelatedAddress.port)
}

func TestParseAttributeLineRejectsMalformed(t *testing.T) {
	_, err := ParseAttributeLine("candidate:not-a-valid-line", "audio")
	assert.Error(t, err)
}

func TestParseAttributeLineMdnsHostname(t *testing.T) {
	line := "candidate:1 1 udp 2130706431 4oi2fqo3n.local 54321 typ host"
	c, err := ParseAttributeLine(line, "audio")
	require.NoError(t, err)
	assert.Equal(t, "4oi2fqo3n.local", c.Address.displayIP())
}

func TestEncodeParseElementRoundTrip(t *testing.T) {
	orig := Candidate{
		Foundation: "2",
		Component:  ComponentRTCP,
		Address:    TransportAddress{protocol: UDP, ip: mustParseIP("198.51.100.9"), port: 4242, family: IPv4},
		Priority:   1694498815,
		Type:       TypeHost,
	}

	data, err := orig.EncodeElement()
	require.NoError(t, err)

	parsed, err := ParseElement(data, "audio")
	require.NoError(t, err)

	assert.Equal(t, orig.Foundation, parsed.Foundation)
	assert.Equal(t, orig.Type, parsed.Type)
	assert.True(t, orig.Address.Equal(parsed.Address))
}

func mustParseIP(s string) net.IP {
	ip := net.ParseIP(s)
	if ip == nil {
		panic("bad test IP: " + s)
	}
	return ip
}
