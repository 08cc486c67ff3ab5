package ice

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeTransportAddressUDP(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("192.168.0.1"), Port: 5000}
	ta := makeTransportAddress(addr)
	assert.Equal(t, UDP, ta.protocol)
	assert.Equal(t, 5000, ta.port)
	assert.Equal(t, IPv4, ta.family)
}

func TestMakeTransportAddressIPv6Family(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("::1"), Port: 5000}
	ta := makeTransportAddress(addr)
	assert.Equal(t, IPv6, ta.family)
}

func TestTransportAddressEqual(t *testing.T) {
	a := TransportAddress{protocol: UDP, ip: net.ParseIP("10.0.0.1"), port: 1}
	b := TransportAddress{protocol: UDP, ip: net.ParseIP("10.0.0.1"), port: 1}
	c := TransportAddress{protocol: UDP, ip: net.ParseIP("10.0.0.2"), port: 1}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestResolveNetAddrRejectsUnknownProtocol(t *testing.T) {
	_, err := resolveNetAddr("sctp", "10.0.0.1:5000")
	assert.Error(t, err)
}

func TestResolveNetAddrUDP(t *testing.T) {
	addr, err := resolveNetAddr(UDP, "10.0.0.1:5000")
	require.NoError(t, err)
	_, ok := addr.(*net.UDPAddr)
	assert.True(t, ok)
}

func TestTransportAddressStringIPv6BracketsHost(t *testing.T) {
	ta := TransportAddress{protocol: UDP, ip: net.ParseIP("2001:db8::1"), port: 443, family: IPv6}
	assert.Contains(t, ta.String(), "[2001:db8::1]:443")
}
