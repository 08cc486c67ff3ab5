package ice

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"net"
)

// STUN (RFC 5389) binding protocol codec. Grounded closely on the teacher's
// internal/ice/stun.go, extended with MESSAGE-INTEGRITY/FINGERPRINT
// validation (read side) and the full ICE error-code table, neither of
// which the teacher's codec implements.

// Message classes.
const (
	classRequest         uint16 = 0
	classIndication      uint16 = 1
	classSuccessResponse uint16 = 2
	classErrorResponse   uint16 = 3
)

const methodBinding = 0x1

const (
	stunHeaderLength = 20
	stunMagicCookie  = 0x2112A442
)

var stunMagicCookieBytes = [4]byte{0x21, 0x12, 0xA4, 0x42}
var stunFingerprintXor uint32 = 0x5354554e

// STUN attribute type codes, per spec.md §4.4/§6.
const (
	attrMappedAddress     uint16 = 0x0001
	attrUsername          uint16 = 0x0006
	attrMessageIntegrity  uint16 = 0x0008
	attrErrorCode         uint16 = 0x0009
	attrUnknownAttributes uint16 = 0x000A
	attrXorMappedAddress  uint16 = 0x0020
	attrPriority          uint16 = 0x0024
	attrUseCandidate      uint16 = 0x0025
	attrSoftware          uint16 = 0x8022
	attrFingerprint       uint16 = 0x8028
	attrIceControlled     uint16 = 0x8029
	attrIceControlling    uint16 = 0x802A
)

// ICE error codes, per spec.md §4.4/§7.
const (
	codeBadRequest        = 400
	codeUnauthorized      = 401
	codeUnknownAttribute  = 420
	codeStaleCredentials  = 438
	codeRoleConflict      = 487
	codeServerError       = 500
	codeGlobalFailure     = 600
)

var errorReasonPhrase = map[int]string{
	codeBadRequest:       "Bad Request",
	codeUnauthorized:     "Unauthorized",
	codeUnknownAttribute: "Unknown Attribute",
	codeStaleCredentials: "Stale Credentials",
	codeRoleConflict:     "Role Conflict",
	codeServerError:      "Server Error",
	codeGlobalFailure:    "Global Failure",
}

type stunAttribute struct {
	Type  uint16
	Value []byte
}

func (a *stunAttribute) numBytes() int {
	return 4 + len(a.Value) + pad4(len(a.Value))
}

func pad4(n int) int {
	return -n & 3
}

var zeros = make([]byte, 32)

// stunMessage is the parsed representation of a STUN binding
// request/response/error response, per spec.md §4.4.
type stunMessage struct {
	class         uint16
	method        uint16
	transactionID string // 12 bytes
	attributes    []*stunAttribute
}

func newStunMessage(class uint16, transactionID string) *stunMessage {
	if transactionID == "" {
		var buf [12]byte
		if _, err := rand.Read(buf[:]); err != nil {
			panic("ice: failed to generate STUN transaction id: " + err.Error())
		}
		transactionID = string(buf[:])
	} else if len(transactionID) != 12 {
		panic(fmt.Sprintf("ice: invalid STUN transaction id length: %d", len(transactionID)))
	}
	return &stunMessage{class: class, method: methodBinding, transactionID: transactionID}
}

func newBindingRequest() *stunMessage {
	return newStunMessage(classRequest, "")
}

func newBindingIndication() *stunMessage {
	return newStunMessage(classIndication, "")
}

func newBindingSuccessResponse(transactionID string) *stunMessage {
	return newStunMessage(classSuccessResponse, transactionID)
}

func newBindingErrorResponse(transactionID string, code int, mode Mode) *stunMessage {
	msg := newStunMessage(classErrorResponse, transactionID)
	msg.addErrorCode(code, mode)
	return msg
}

func (msg *stunMessage) addAttribute(t uint16, v []byte) *stunAttribute {
	vcopy := make([]byte, len(v))
	copy(vcopy, v)
	attr := &stunAttribute{t, vcopy}
	msg.attributes = append(msg.attributes, attr)
	return attr
}

func (msg *stunMessage) getAttribute(t uint16) *stunAttribute {
	for _, a := range msg.attributes {
		if a.Type == t {
			return a
		}
	}
	return nil
}

func (msg *stunMessage) length() int {
	n := 0
	for _, a := range msg.attributes {
		n += a.numBytes()
	}
	return n
}

func (msg *stunMessage) messageType() uint16 {
	return composeMessageType(msg.class, msg.method)
}

// Bytes serializes the message: write() contract from spec.md §4.4. Header
// length is fixed first, attributes are emitted in the order added.
func (msg *stunMessage) Bytes() []byte {
	length := msg.length()
	buf := make([]byte, stunHeaderLength+length)

	binary.BigEndian.PutUint16(buf[0:2], msg.messageType())
	binary.BigEndian.PutUint16(buf[2:4], uint16(length))
	binary.BigEndian.PutUint32(buf[4:8], stunMagicCookie)
	copy(buf[8:20], msg.transactionID)

	off := stunHeaderLength
	for _, a := range msg.attributes {
		binary.BigEndian.PutUint16(buf[off:off+2], a.Type)
		binary.BigEndian.PutUint16(buf[off+2:off+4], uint16(len(a.Value)))
		copy(buf[off+4:], a.Value)
		off += a.numBytes()
	}
	return buf
}

// parseStunMessage implements spec.md §4.4's read() contract: rejects if
// the length field disagrees with remaining bytes or an attribute length
// overruns. Returns (nil, nil) if data does not look like a STUN message at
// all (not an error: the caller may have non-STUN data).
func parseStunMessage(data []byte) (*stunMessage, error) {
	if len(data) < stunHeaderLength {
		return nil, nil
	}

	messageType := binary.BigEndian.Uint16(data[0:2])
	if messageType>>14 != 0 {
		return nil, nil
	}
	length := binary.BigEndian.Uint16(data[2:4])
	if int(length)%4 != 0 {
		return nil, nil
	}
	if binary.BigEndian.Uint32(data[4:8]) != stunMagicCookie {
		return nil, nil
	}
	if len(data) != stunHeaderLength+int(length) {
		return nil, errSTUNInvalidMessage
	}

	class, method := decomposeMessageType(messageType)
	msg := &stunMessage{
		class:         class,
		method:        method,
		transactionID: string(data[8:20]),
	}

	b := bytes.NewBuffer(data[stunHeaderLength:])
	for b.Len() > 0 {
		if b.Len() < 4 {
			return nil, errSTUNInvalidMessage
		}
		var hdr [4]byte
		b.Read(hdr[:])
		t := binary.BigEndian.Uint16(hdr[0:2])
		l := binary.BigEndian.Uint16(hdr[2:4])
		if int(l) > b.Len() {
			return nil, errSTUNInvalidMessage
		}
		value := make([]byte, l)
		b.Read(value)
		b.Next(pad4(int(l)))
		msg.attributes = append(msg.attributes, &stunAttribute{t, value})
	}
	return msg, nil
}

// composeMessageType/decomposeMessageType implement the STUN message-type
// bit layout (RFC 5389 figure 3), unchanged from the teacher.
const classMask1 = 0x0100
const classMask2 = 0x0010
const methodMask1 = 0x3e00
const methodMask2 = 0x00e0
const methodMask3 = 0x000f

func composeMessageType(class, method uint16) uint16 {
	t := (class<<7)&classMask1 | (class<<4)&classMask2
	t |= (method<<2)&methodMask1 | (method<<1)&methodMask2 | (method & methodMask3)
	return t
}

func decomposeMessageType(t uint16) (uint16, uint16) {
	class := (t&classMask1)>>7 | (t&classMask2)>>4
	method := (t&methodMask1)>>2 | (t&methodMask2)>>1 | (t & methodMask3)
	return class, method
}

func xorBytes(dest []byte, xor []byte) {
	for i := range dest {
		dest[i] ^= xor[i]
	}
}

// setXorMappedAddress attaches an XOR-MAPPED-ADDRESS attribute.
func (msg *stunMessage) setXorMappedAddress(addr net.Addr) {
	ip, port := addrParts(addr)

	var value []byte
	if ip4 := ip.To4(); ip4 != nil {
		value = make([]byte, 8)
		value[1] = 0x01
		copy(value[4:8], ip4)
	} else {
		value = make([]byte, 20)
		value[1] = 0x02
		copy(value[4:20], ip.To16())
	}
	binary.BigEndian.PutUint16(value[2:4], uint16(port))
	xorBytes(value[2:4], stunMagicCookieBytes[0:2])
	xorBytes(value[4:8], stunMagicCookieBytes[:])
	if len(value) > 8 {
		xorBytes(value[8:], []byte(msg.transactionID))
	}
	msg.addAttribute(attrXorMappedAddress, value)
}

// setMappedAddress attaches a plain MAPPED-ADDRESS attribute (legacy mode).
func (msg *stunMessage) setMappedAddress(addr net.Addr) {
	ip, port := addrParts(addr)
	var value []byte
	if ip4 := ip.To4(); ip4 != nil {
		value = make([]byte, 8)
		value[1] = 0x01
		copy(value[4:8], ip4)
	} else {
		value = make([]byte, 20)
		value[1] = 0x02
		copy(value[4:20], ip.To16())
	}
	binary.BigEndian.PutUint16(value[2:4], uint16(port))
	msg.addAttribute(attrMappedAddress, value)
}

func addrParts(addr net.Addr) (net.IP, int) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP, a.Port
	case *net.TCPAddr:
		return a.IP, a.Port
	default:
		panic(fmt.Sprintf("ice: unsupported net.Addr type: %T", addr))
	}
}

func (msg *stunMessage) getMappedAddress() *net.UDPAddr {
	if a := msg.getAttribute(attrXorMappedAddress); a != nil {
		return extractAddr(a.Value, msg.transactionID, true)
	}
	if a := msg.getAttribute(attrMappedAddress); a != nil {
		return extractAddr(a.Value, msg.transactionID, false)
	}
	return nil
}

func extractAddr(value []byte, transactionID string, doXor bool) *net.UDPAddr {
	if len(value) < 8 {
		return nil
	}
	addr := new(net.UDPAddr)
	addr.Port = int(binary.BigEndian.Uint16(value[2:4]))
	family := value[1]
	switch family {
	case 0x01:
		addr.IP = append(net.IP{}, value[4:8]...)
	case 0x02:
		if len(value) < 20 {
			return nil
		}
		addr.IP = append(net.IP{}, value[4:20]...)
	default:
		return nil
	}
	if doXor {
		addr.Port ^= stunMagicCookie >> 16
		xorBytes(addr.IP[0:4], stunMagicCookieBytes[:])
		if len(addr.IP) > 4 {
			xorBytes(addr.IP[4:], []byte(transactionID))
		}
	}
	return addr
}

// addMessageIntegrity implements RFC 5389 §15.4: HMAC-SHA1 over the buffer
// up to (not including) the MESSAGE-INTEGRITY attribute, with the message
// length field fixed to include the (dummy, then real) attribute first.
func (msg *stunMessage) addMessageIntegrity(password string) {
	attr := msg.addAttribute(attrMessageIntegrity, zeros[0:20])
	b := msg.Bytes()
	beforeAttr := len(b) - attr.numBytes()

	sig := hmac.New(sha1.New, []byte(password))
	sig.Write(b[0:beforeAttr])
	copy(attr.Value, sig.Sum(nil))
}

// validateMessageIntegrity implements spec.md §4.4: HMAC-SHA1 over the raw
// wire buffer (not the parsed message) up to (not including) the
// MESSAGE-INTEGRITY attribute, with the length field set to end at that
// attribute, compared against the attribute value.
func validateMessageIntegrity(raw []byte, password string) bool {
	off := stunHeaderLength
	for off+4 <= len(raw) {
		t := binary.BigEndian.Uint16(raw[off : off+2])
		l := int(binary.BigEndian.Uint16(raw[off+2 : off+4]))
		if off+4+l > len(raw) {
			return false
		}
		if t == attrMessageIntegrity {
			if l != 20 {
				return false
			}
			// The sender computed the HMAC before any later attribute (e.g.
			// FINGERPRINT) was appended, so its length field ended at MI.
			hdr := append([]byte(nil), raw[0:off]...)
			binary.BigEndian.PutUint16(hdr[2:4], uint16(off+4+l-stunHeaderLength))
			sig := hmac.New(sha1.New, []byte(password))
			sig.Write(hdr)
			expected := sig.Sum(nil)
			return hmac.Equal(expected, raw[off+4:off+4+l])
		}
		off += 4 + l + pad4(l)
	}
	return false
}

// addFingerprint implements RFC 5389 §15.5: CRC32 of the buffer up to just
// before FINGERPRINT, XORed with 0x5354554e.
func (msg *stunMessage) addFingerprint() {
	attr := msg.addAttribute(attrFingerprint, zeros[0:4])
	b := msg.Bytes()
	beforeAttr := len(b) - attr.numBytes()
	crc := crc32.ChecksumIEEE(b[0:beforeAttr])
	binary.BigEndian.PutUint32(attr.Value, crc^stunFingerprintXor)
}

// validateFingerprint implements spec.md §4.4 on the raw wire buffer: the
// FINGERPRINT attribute must be present as the last attribute and must
// match the CRC32 of everything before it; a message without it fails.
func validateFingerprint(raw []byte) bool {
	if len(raw) < stunHeaderLength+8 {
		return false
	}
	tail := raw[len(raw)-8:]
	t := binary.BigEndian.Uint16(tail[0:2])
	l := binary.BigEndian.Uint16(tail[2:4])
	if t != attrFingerprint || l != 4 {
		return false
	}
	expected := binary.BigEndian.Uint32(tail[4:8])
	crc := crc32.ChecksumIEEE(raw[0 : len(raw)-8])
	return crc^stunFingerprintXor == expected
}

func (msg *stunMessage) addPriority(p uint32) {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, p)
	msg.addAttribute(attrPriority, v)
}

func (msg *stunMessage) getPriority() uint32 {
	if a := msg.getAttribute(attrPriority); a != nil && len(a.Value) == 4 {
		return binary.BigEndian.Uint32(a.Value)
	}
	return 0
}

func (msg *stunMessage) addUsername(username string) {
	msg.addAttribute(attrUsername, []byte(username))
}

func (msg *stunMessage) getUsername() (string, bool) {
	if a := msg.getAttribute(attrUsername); a != nil {
		return string(a.Value), true
	}
	return "", false
}

func (msg *stunMessage) hasUseCandidate() bool {
	return msg.getAttribute(attrUseCandidate) != nil
}

func (msg *stunMessage) addUseCandidate() {
	msg.addAttribute(attrUseCandidate, nil)
}

func (msg *stunMessage) addIceControlling(tiebreaker uint64) {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, tiebreaker)
	msg.addAttribute(attrIceControlling, v)
}

func (msg *stunMessage) addIceControlled(tiebreaker uint64) {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, tiebreaker)
	msg.addAttribute(attrIceControlled, v)
}

// getIceControl returns (tiebreaker, isControlling, found).
func (msg *stunMessage) getIceControl() (uint64, bool, bool) {
	if a := msg.getAttribute(attrIceControlling); a != nil && len(a.Value) == 8 {
		return binary.BigEndian.Uint64(a.Value), true, true
	}
	if a := msg.getAttribute(attrIceControlled); a != nil && len(a.Value) == 8 {
		return binary.BigEndian.Uint64(a.Value), false, true
	}
	return 0, false, false
}

// addErrorCode encodes an ERROR-CODE attribute, per mode. RFC5245 mode uses
// RFC 5389 §15.6's canonical class*100+number split; GOOGLE mode packs
// class*256+number instead, matching the legacy libjingle wire format
// (original_source/talk/p2p/base/port.cc:570-571's SetClass(error_code/256)/
// SetNumber(error_code%256), vs port.cc:1081's canonical path taken only
// when not in the legacy protocol).
func (msg *stunMessage) addErrorCode(code int, mode Mode) {
	reason := errorReasonPhrase[code]
	value := make([]byte, 4+len(reason))
	if mode == GOOGLE {
		value[2] = byte(code / 256)
		value[3] = byte(code % 256)
	} else {
		value[2] = byte(code / 100)
		value[3] = byte(code % 100)
	}
	copy(value[4:], reason)
	msg.addAttribute(attrErrorCode, value)
}

// getErrorCode decodes an ERROR-CODE attribute into its numeric code, using
// the class/number split matching mode (see addErrorCode).
func (msg *stunMessage) getErrorCode(mode Mode) (int, bool) {
	a := msg.getAttribute(attrErrorCode)
	if a == nil || len(a.Value) < 4 {
		return 0, false
	}
	class := int(a.Value[2])
	number := int(a.Value[3])
	if mode == GOOGLE {
		return class*256 + number, true
	}
	return class*100 + number, true
}
