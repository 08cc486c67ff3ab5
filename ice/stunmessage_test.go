package ice

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindingRequestRoundTrip(t *testing.T) {
	req := newBindingRequest()
	req.addUsername("remoteFrag:localFrag")
	req.addPriority(12345)
	req.addIceControlling(0xdeadbeefcafebabe)
	req.addMessageIntegrity("password123")
	req.addFingerprint()

	raw := req.Bytes()
	parsed, err := parseStunMessage(raw)
	require.NoError(t, err)
	require.NotNil(t, parsed)

	assert.Equal(t, classRequest, parsed.class)
	assert.Equal(t, methodBinding, parsed.method)
	assert.Equal(t, req.transactionID, parsed.transactionID)

	username, ok := parsed.getUsername()
	require.True(t, ok)
	assert.Equal(t, "remoteFrag:localFrag", username)
	assert.Equal(t, uint32(12345), parsed.getPriority())

	tiebreaker, isControlling, ok := parsed.getIceControl()
	require.True(t, ok)
	assert.True(t, isControlling)
	assert.Equal(t, uint64(0xdeadbeefcafebabe), tiebreaker)
}

func TestMessageIntegrityValidates(t *testing.T) {
	req := newBindingRequest()
	req.addUsername("frag")
	req.addMessageIntegrity("secret")
	raw := req.Bytes()

	assert.True(t, validateMessageIntegrity(raw, "secret"))
	assert.False(t, validateMessageIntegrity(raw, "wrong-password"))
}

func TestMessageIntegrityRejectsTamperedBytes(t *testing.T) {
	req := newBindingRequest()
	req.addUsername("frag")
	req.addMessageIntegrity("secret")
	raw := req.Bytes()

	// Flip a bit in the username payload.
	raw[21] ^= 0xFF

	assert.False(t, validateMessageIntegrity(raw, "secret"))
}

func TestFingerprintValidates(t *testing.T) {
	req := newBindingRequest()
	req.addUsername("frag")
	req.addFingerprint()
	raw := req.Bytes()

	assert.True(t, validateFingerprint(raw))

	raw[len(raw)-1] ^= 0xFF
	assert.False(t, validateFingerprint(raw))
}

func TestFingerprintMustBeLastAttribute(t *testing.T) {
	req := newBindingRequest()
	req.addFingerprint()
	req.addUsername("frag") // appended after FINGERPRINT, which is invalid placement
	raw := req.Bytes()

	assert.False(t, validateFingerprint(raw))
}

func TestXorMappedAddressRoundTrip(t *testing.T) {
	resp := newBindingSuccessResponse("123456789012")
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.7").To4(), Port: 54321}
	resp.setXorMappedAddress(addr)

	raw := resp.Bytes()
	parsed, err := parseStunMessage(raw)
	require.NoError(t, err)

	mapped := parsed.getMappedAddress()
	require.NotNil(t, mapped)
	assert.Equal(t, addr.IP.String(), mapped.IP.String())
	assert.Equal(t, addr.Port, mapped.Port)
}

func TestXorMappedAddressIPv6(t *testing.T) {
	resp := newBindingSuccessResponse("abcdefghijkl")
	ip := net.ParseIP("2001:db8::1")
	addr := &net.UDPAddr{IP: ip, Port: 443}
	resp.setXorMappedAddress(addr)

	raw := resp.Bytes()
	parsed, err := parseStunMessage(raw)
	require.NoError(t, err)

	mapped := parsed.getMappedAddress()
	require.NotNil(t, mapped)
	assert.Equal(t, ip.String(), mapped.IP.String())
	assert.Equal(t, 443, mapped.Port)
}

func TestErrorCodeRoundTrip(t *testing.T) {
	for _, mode := range []Mode{RFC5245, GOOGLE} {
		for _, code := range []int{codeBadRequest, codeUnauthorized, codeRoleConflict, codeServerError} {
			resp := newBindingErrorResponse("000000000000", code, mode)
			raw := resp.Bytes()
			parsed, err := parseStunMessage(raw)
			require.NoError(t, err)

			got, ok := parsed.getErrorCode(mode)
			require.True(t, ok)
			assert.Equal(t, code, got, "mode=%v code=%v", mode, code)
		}
	}
}

// TestErrorCodeEncodingDiffersByMode confirms RFC5245 and GOOGLE mode use
// genuinely different wire encodings (class*100+number vs class*256+number),
// not just different decode paths over the same bytes.
func TestErrorCodeEncodingDiffersByMode(t *testing.T) {
	rfc5245 := newBindingErrorResponse("000000000000", codeRoleConflict, RFC5245)
	google := newBindingErrorResponse("000000000000", codeRoleConflict, GOOGLE)

	rfc5245Attr := rfc5245.getAttribute(attrErrorCode)
	googleAttr := google.getAttribute(attrErrorCode)
	require.NotNil(t, rfc5245Attr)
	require.NotNil(t, googleAttr)

	// codeRoleConflict == 487: RFC5245 packs class=4,number=87; GOOGLE packs
	// class=1,number=231.
	assert.Equal(t, byte(4), rfc5245Attr.Value[2])
	assert.Equal(t, byte(87), rfc5245Attr.Value[3])
	assert.Equal(t, byte(1), googleAttr.Value[2])
	assert.Equal(t, byte(231), googleAttr.Value[3])
}

func TestParseStunMessageRejectsTruncated(t *testing.T) {
	msg, err := parseStunMessage([]byte{0x00, 0x01})
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestParseStunMessageRejectsLengthMismatch(t *testing.T) {
	req := newBindingRequest()
	raw := req.Bytes()
	raw = append(raw, 0x00, 0x00, 0x00, 0x00) // garbage trailing bytes not reflected in length

	_, err := parseStunMessage(raw)
	assert.Error(t, err)
}

func TestParseStunMessageIgnoresNonStunData(t *testing.T) {
	data := []byte("this is plain application data, not stun.........")
	msg, err := parseStunMessage(data)
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestMessageTypeComposeDecompose(t *testing.T) {
	for _, class := range []uint16{classRequest, classIndication, classSuccessResponse, classErrorResponse} {
		mt := composeMessageType(class, methodBinding)
		gotClass, gotMethod := decomposeMessageType(mt)
		assert.Equal(t, class, gotClass)
		assert.Equal(t, uint16(methodBinding), gotMethod)
	}
}
