package ice

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Protocol tags recognized on the wire. See spec.md §3.
const (
	UDP    = "udp"
	TCP    = "tcp"
	SSLTCP = "ssltcp"
)

// Address family of a TransportAddress.
type Family int

const (
	Unresolved Family = iota
	IPv4
	IPv6
)

// TransportAddress is an immutable (protocol, ip, port) tuple. It is the
// value type carried by Candidate and used to key Port's remote-address to
// Connection map.
//
// Grounded on the teacher's internal/ice/transport.go TransportAddress,
// generalized to track address family explicitly (spec.md §3: "IP + port,
// IPv4 or IPv6").
type TransportAddress struct {
	protocol string
	ip       net.IP
	port     int
	family   Family

	// hostname, when set, is an mDNS name (e.g. "4f9e...local") that stands
	// in for ip on the wire, per spec.md §4.2's candidate obfuscation mode.
	// ip is still retained locally for socket I/O; only displayIP/String
	// hide it.
	hostname string
}

func makeTransportAddress(addr net.Addr) TransportAddress {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return TransportAddress{protocol: TCP, ip: a.IP, port: a.Port, family: familyOf(a.IP)}
	case *net.UDPAddr:
		return TransportAddress{protocol: UDP, ip: a.IP, port: a.Port, family: familyOf(a.IP)}
	default:
		panic("ice: unsupported net.Addr type: " + fmt.Sprintf("%T", addr))
	}
}

func familyOf(ip net.IP) Family {
	if ip == nil {
		return Unresolved
	}
	if ip.To4() != nil {
		return IPv4
	}
	return IPv6
}

func (ta TransportAddress) resolved() bool {
	return ta.family != Unresolved
}

func (ta TransportAddress) displayIP() string {
	if ta.hostname != "" {
		return ta.hostname
	}
	if ta.ip == nil {
		return ""
	}
	return ta.ip.String()
}

func (ta TransportAddress) netAddr() net.Addr {
	hostport := net.JoinHostPort(ta.displayIP(), strconv.Itoa(ta.port))
	switch ta.protocol {
	case TCP, SSLTCP:
		addr, _ := net.ResolveTCPAddr("tcp", hostport)
		return addr
	default:
		addr, _ := net.ResolveUDPAddr("udp", hostport)
		return addr
	}
}

func (ta TransportAddress) String() string {
	host := ta.displayIP()
	if ta.family == IPv6 {
		return fmt.Sprintf("%s/[%s]:%d", ta.protocol, host, ta.port)
	}
	return fmt.Sprintf("%s/%s:%d", ta.protocol, host, ta.port)
}

// Equal reports whether two addresses refer to the same (protocol, ip,
// port) tuple.
func (ta TransportAddress) Equal(other TransportAddress) bool {
	return ta.protocol == other.protocol && ta.port == other.port && ta.ip.Equal(other.ip)
}

func resolveNetAddr(network, address string) (net.Addr, error) {
	switch strings.ToLower(network) {
	case TCP, SSLTCP:
		return net.ResolveTCPAddr("tcp", address)
	case UDP:
		return net.ResolveUDPAddr("udp", address)
	default:
		return nil, fmt.Errorf("ice: invalid transport protocol: %s", network)
	}
}
