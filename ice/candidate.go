package ice

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
)

// Candidate type tags, per spec.md §3/§6.
const (
	TypeHost  = "host"
	TypeSrflx = "srflx"
	TypePrflx = "prflx"
	TypeRelay = "relay"
)

// Type preference values per RFC 5245 §4.1.2.1, used in priority
// computation.
const (
	typePreferenceHost  = 126
	typePreferenceReflx = 110 // srflx and prflx share this preference
	typePreferenceRelay = 0
)

// Candidate is an immutable descriptor of one reachable transport address
// of one peer. See spec.md §3/§4.1.
type Candidate struct {
	id string // opaque, excluded from equality/dedup

	mid       string // SDP "mid" of the owning data stream
	Component Component
	Address   TransportAddress
	Priority  uint32
	Ufrag     string
	Password  string
	Type      string
	Foundation string
	Generation uint32

	// RelatedAddress is set for srflx/relay candidates: the base address
	// behind the reflexive/relayed mapping.
	RelatedAddress *TransportAddress

	// Extension attributes preserved from the wire, re-emitted verbatim.
	attrs []candidateAttr

	// networkName identifies the interface this candidate was gathered on;
	// excluded from equality/dedup, as spec.md §4.1 specifies.
	networkName string
}

type candidateAttr struct {
	Name  string
	Value string
}

// Equal implements the dedup comparison from spec.md §4.1: identical
// (transport, address, type, component, generation), ignoring id and
// network name.
func (c Candidate) Equal(other Candidate) bool {
	return c.Address.protocol == other.Address.protocol &&
		c.Address.Equal(other.Address) &&
		c.Type == other.Type &&
		c.Component == other.Component &&
		c.Generation == other.Generation
}

// computePriority computes the RFC 5245 candidate priority:
//
//	(type_pref << 24) | (local_pref << 8) | (256 - component)
func computePriority(typ string, localPref int, component Component) uint32 {
	var typePref int
	switch typ {
	case TypeHost:
		typePref = typePreferenceHost
	case TypeSrflx, TypePrflx:
		typePref = typePreferenceReflx
	case TypeRelay:
		typePref = typePreferenceRelay
	default:
		panic("ice: illegal candidate type: " + typ)
	}
	return uint32(typePref)<<24 | uint32(localPref&0xFFFF)<<8 | uint32(256-int(component))
}

// peerReflexivePriority computes a connection's priority as if the local
// candidate were peer-reflexive, per spec.md §4.3's ping attribute rule:
//
//	(ICE_TYPE_PREFERENCE_PRFLX << 24) | (local_priority & 0x00FFFFFF)
func peerReflexivePriority(localPriority uint32) uint32 {
	return uint32(typePreferenceReflx)<<24 | (localPriority & 0x00FFFFFF)
}

// computeFoundation implements spec.md §4.1: CRC32 over
// type ‖ base_ip ‖ protocol, grouping candidates sharing type/base/protocol/server.
func computeFoundation(typ string, baseAddress TransportAddress) string {
	fingerprint := typ + "|" + baseAddress.displayIP() + "|" + baseAddress.protocol
	sum := crc32.ChecksumIEEE([]byte(fingerprint))
	return strconv.FormatUint(uint64(sum), 16)
}

func (c *Candidate) addAttr(name, value string) {
	c.attrs = append(c.attrs, candidateAttr{name, value})
}

func (c Candidate) isReflexive() bool {
	return c.Type == TypeSrflx || c.Type == TypePrflx
}

func (c Candidate) Mid() string {
	return c.mid
}

func (c Candidate) String() string {
	return c.EncodeAttributeLine()
}

// EncodeAttributeLine renders the candidate as an SDP-style "candidate:"
// attribute line, per spec.md §6:
//
//	candidate:<foundation> <component> <transport> <priority> <conn-addr> <port> typ <type> [raddr <addr>] [rport <port>] *(ext)
//
// Grounded on the teacher's internal/ice/candidate.go sdpString.
func (c Candidate) EncodeAttributeLine() string {
	var b strings.Builder
	fmt.Fprintf(&b, "candidate:%s %d %s %d %s %d typ %s",
		c.Foundation, c.Component, c.Address.protocol, c.Priority,
		c.Address.displayIP(), c.Address.port, c.Type)
	if c.RelatedAddress != nil {
		fmt.Fprintf(&b, " raddr %s rport %d", c.RelatedAddress.displayIP(), c.RelatedAddress.port)
	}
	if c.Generation != 0 {
		fmt.Fprintf(&b, " generation %d", c.Generation)
	}
	for _, a := range c.attrs {
		fmt.Fprintf(&b, " %s %s", a.Name, a.Value)
	}
	return b.String()
}

// ParseAttributeLine parses an SDP-style "candidate:" attribute line. The
// 8 mandatory fields (foundation, component, transport, priority, ip, port,
// "typ", type) must be present; unrecognized extensions are preserved but
// not interpreted, except "generation" which is parsed into Generation and
// "raddr"/"rport" which are parsed into RelatedAddress.
//
// Grounded on the teacher's internal/ice/candidate.go parseCandidateSDP.
func ParseAttributeLine(desc, mid string) (Candidate, error) {
	c := Candidate{mid: mid}

	r := strings.NewReader(desc)
	var protocol, ip, port, typKeyword string
	n, err := fmt.Fscanf(r, "candidate:%s %d %s %d %s %s %s %s",
		&c.Foundation, &c.Component, &protocol, &c.Priority, &ip, &port, &typKeyword, &c.Type)
	if err != nil {
		return c, fmt.Errorf("ice: malformed candidate line (parsed %d fields): %w", n, err)
	}
	if typKeyword != "typ" {
		return c, fmt.Errorf("ice: malformed candidate line: expected 'typ', got %q", typKeyword)
	}
	if c.Component < 1 || c.Component > 256 {
		return c, fmt.Errorf("ice: component id out of range: %d", c.Component)
	}

	if strings.HasSuffix(ip, ".local") {
		// mDNS-obfuscated candidate, per spec.md §4.2: the IP is not carried
		// on the wire at all. Resolution (if needed, e.g. to actually dial
		// out) is left to a later GatherCandidates-side lookup via
		// ice/mdns.Resolve; here we just preserve the name.
		portNum, _ := strconv.Atoi(port)
		c.Address = TransportAddress{protocol: strings.ToLower(protocol), port: portNum, hostname: ip}
		scanner := bufio.NewScanner(r)
		return finishParseAttributeLine(c, scanner, protocol)
	}

	addr, err := resolveNetAddr(protocol, ip+":"+port)
	if err != nil {
		return c, err
	}
	c.Address = makeTransportAddress(addr)
	c.Address.protocol = strings.ToLower(protocol)

	scanner := bufio.NewScanner(r)
	return finishParseAttributeLine(c, scanner, protocol)
}

// finishParseAttributeLine parses the extension attributes that follow the
// 8 mandatory fields of a candidate attribute line.
func finishParseAttributeLine(c Candidate, scanner *bufio.Scanner, protocol string) (Candidate, error) {
	scanner.Split(bufio.ScanWords)
	var name string
	for scanner.Scan() {
		if name == "" {
			name = scanner.Text()
			continue
		}
		value := scanner.Text()
		switch name {
		case "generation":
			gen, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return c, fmt.Errorf("ice: invalid generation extension: %w", err)
			}
			c.Generation = uint32(gen)
		case "raddr":
			if c.RelatedAddress == nil {
				c.RelatedAddress = &TransportAddress{}
			}
			ra, err := resolveNetAddr(protocol, value+":0")
			if err == nil {
				*c.RelatedAddress = makeTransportAddress(ra)
			}
		case "rport":
			if c.RelatedAddress != nil {
				p, _ := strconv.Atoi(value)
				c.RelatedAddress.port = p
			}
		default:
			c.addAttr(name, value)
		}
		name = ""
	}
	if name != "" {
		return c, fmt.Errorf("ice: unmatched attribute name: %s", name)
	}

	return c, nil
}

// candidateElement is the legacy structured (XML-like) form used by
// XMPP-style signalling, per spec.md §6. A namespace selects between
// legacy-Google and standards-track semantics; this module neither
// interprets nor records the namespace, since that policy belongs to the
// signalling collaborator.
type candidateElement struct {
	XMLName    xml.Name `xml:"candidate"`
	Foundation string   `xml:"foundation,attr"`
	Component  int      `xml:"component,attr"`
	Protocol   string   `xml:"protocol,attr"`
	Priority   uint32   `xml:"priority,attr"`
	IP         string   `xml:"ip,attr"`
	Port       int      `xml:"port,attr"`
	Type       string   `xml:"type,attr"`
	Generation uint32   `xml:"generation,attr"`
	RelAddr    string   `xml:"rel-addr,attr,omitempty"`
	RelPort    int      `xml:"rel-port,attr,omitempty"`
}

// EncodeElement renders the candidate as the structured XML-like form.
func (c Candidate) EncodeElement() ([]byte, error) {
	e := candidateElement{
		Foundation: c.Foundation,
		Component:  int(c.Component),
		Protocol:   c.Address.protocol,
		Priority:   c.Priority,
		IP:         c.Address.displayIP(),
		Port:       c.Address.port,
		Type:       c.Type,
		Generation: c.Generation,
	}
	if c.RelatedAddress != nil {
		e.RelAddr = c.RelatedAddress.displayIP()
		e.RelPort = c.RelatedAddress.port
	}
	return xml.Marshal(e)
}

// ParseElement parses the structured XML-like candidate form.
func ParseElement(data []byte, mid string) (Candidate, error) {
	var e candidateElement
	if err := xml.Unmarshal(data, &e); err != nil {
		return Candidate{}, err
	}
	c := Candidate{
		mid:        mid,
		Foundation: e.Foundation,
		Component:  Component(e.Component),
		Priority:   e.Priority,
		Type:       e.Type,
		Generation: e.Generation,
	}
	addr, err := resolveNetAddr(e.Protocol, fmt.Sprintf("%s:%d", e.IP, e.Port))
	if err != nil {
		return c, err
	}
	c.Address = makeTransportAddress(addr)
	c.Address.protocol = strings.ToLower(e.Protocol)
	if e.RelAddr != "" {
		ra, err := resolveNetAddr(e.Protocol, fmt.Sprintf("%s:%d", e.RelAddr, e.RelPort))
		if err == nil {
			addr := makeTransportAddress(ra)
			c.RelatedAddress = &addr
		}
	}
	return c, nil
}
