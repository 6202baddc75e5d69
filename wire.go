package ovnet

import (
	"crypto/rand"
	"encoding/binary"
)

// Cipher suite IDs carried in the packet header's flags+hops+cipher byte
// (spec.md §4.1).
type cipherSuite byte

const (
	cipherNone             cipherSuite = 0 // no encryption, Poly1305 MAC only
	cipherSalsa2012Poly1305 cipherSuite = 1
	cipherSelfPoly1305     cipherSuite = 2 // keyed with our own secret, for self-addressed replies
)

const (
	packetHeaderSize  = 8 + AddressSize + AddressSize + 1 + 8 // packetId, dest, source, flags/hops/cipher, truncated MAC
	fragmentHeaderSize = 8 + AddressSize + 1 + 1 + 1          // packetId, dest, 0xff marker, total<<4|fragNo, hops
	fragmentMarker     = 0xff

	macFieldSize = 8 // MAC is truncated to 64 bits on the wire, per spec.md §3 ("MAC: u64")

	maxHops = 7 // 3-bit hop count field
)

// packetHeader is the unencrypted header of a VL1 packet (spec.md §4.1).
// flagsByte layout: bit7 fragmented (more fragments follow this head
// packet), bits 6-4 hops, bit 3 reserved (zero), bits 2-0 cipher.
type packetHeader struct {
	packetID   uint64
	dest       Address
	source     Address
	hops       byte
	cipher     cipherSuite
	fragmented bool
	mac        [macFieldSize]byte
}

func (h *packetHeader) flagsByte() byte {
	var b byte
	if h.fragmented {
		b |= 0x80
	}
	b |= (h.hops & 0x07) << 4
	b |= byte(h.cipher & 0x07)
	return b
}

func (h *packetHeader) setFlagsByte(b byte) {
	h.fragmented = b&0x80 != 0
	h.hops = (b >> 4) & 0x07
	h.cipher = cipherSuite(b & 0x07)
}

// encodeHeader appends the wire header to out, with the MAC field either
// zeroed (for MAC computation) or set to h.mac (for transmission).
func (h *packetHeader) encodeHeader(out []byte, zeroMAC bool) []byte {
	var buf8 [8]byte
	binary.BigEndian.PutUint64(buf8[:], h.packetID)
	out = append(out, buf8[:]...)
	out = append(out, h.dest[:]...)
	out = append(out, h.source[:]...)
	out = append(out, h.flagsByte())
	if zeroMAC {
		var zero [macFieldSize]byte
		out = append(out, zero[:]...)
	} else {
		out = append(out, h.mac[:]...)
	}
	return out
}

func decodeHeader(data []byte) (*packetHeader, []byte, error) {
	if len(data) < packetHeaderSize {
		return nil, nil, DecodeError{}
	}
	h := new(packetHeader)
	h.packetID = binary.BigEndian.Uint64(data[0:8])
	copy(h.dest[:], data[8:8+AddressSize])
	copy(h.source[:], data[8+AddressSize:8+2*AddressSize])
	h.setFlagsByte(data[8+2*AddressSize])
	copy(h.mac[:], data[8+2*AddressSize+1:packetHeaderSize])
	return h, data[packetHeaderSize:], nil
}

// newPacketID returns a fresh random 64-bit packet ID, as required by
// spec.md §4.1 ("packetId (u64, random)").
func newPacketID() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

// macMessage builds the byte sequence the MAC covers: the header with the
// MAC field (and, per spec.md §4.1, the mutable hops field) zeroed, plus the
// payload. hops is explicitly excluded because relays mutate it in transit.
func macMessage(h *packetHeader, payload []byte) []byte {
	tmp := *h
	tmp.hops = 0
	out := make([]byte, 0, packetHeaderSize+len(payload))
	out = tmp.encodeHeader(out, true)
	out = append(out, payload...)
	return out
}

// sealPacket encrypts payload (if cipher != cipherNone), computes and
// stores h.mac, and returns the resulting cipherText. The caller combines
// h and the returned cipherText into wire bytes (via packetBytes), or
// fragments them (via splitIntoFragments) if they exceed the path budget.
//
// The Poly1305 key is the first 32 bytes of the Salsa20/12 keystream; the
// payload encryption (if any) begins at keystream byte 32, per spec.md §4.1.
func sealPacket(h *packetHeader, sharedKey *[32]byte, payload []byte) []byte {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], h.packetID)

	var polyKey [32]byte
	var cipherText []byte

	switch h.cipher {
	case cipherNone:
		cipherText = payload
		// MAC key is still derived from the shared secret even when the
		// payload itself is sent in the clear, so HELLO (which must be
		// readable before a session exists) stays authenticated.
		keystream := make([]byte, 32)
		salsa2012KeyStream(keystream, sharedKey, &nonce)
		copy(polyKey[:], keystream)
	case cipherSalsa2012Poly1305, cipherSelfPoly1305:
		keystream := make([]byte, 32+len(payload))
		salsa2012KeyStream(keystream, sharedKey, &nonce)
		copy(polyKey[:], keystream[:32])
		cipherText = make([]byte, len(payload))
		for i := range payload {
			cipherText[i] = payload[i] ^ keystream[32+i]
		}
	}

	msg := macMessage(h, cipherText)
	tag := poly1305Tag(&polyKey, msg)
	copy(h.mac[:], tag[:macFieldSize])
	return cipherText
}

// packetBytes combines a sealed header and its cipherText into wire bytes.
func packetBytes(h *packetHeader, cipherText []byte) []byte {
	out := h.encodeHeader(make([]byte, 0, packetHeaderSize+len(cipherText)), false)
	return append(out, cipherText...)
}

// authenticateAndDecrypt verifies h.mac against sharedKey and, if
// authentication succeeds, decrypts payload in place (for encrypting
// ciphers) and returns the plaintext. On MAC failure it returns AuthError
// and the packet must be dropped silently (spec.md §4.1, §8).
func authenticateAndDecrypt(h *packetHeader, sharedKey *[32]byte, cipherText []byte) ([]byte, error) {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], h.packetID)

	keystream := make([]byte, 32+len(cipherText))
	salsa2012KeyStream(keystream, sharedKey, &nonce)
	var polyKey [32]byte
	copy(polyKey[:], keystream[:32])

	msg := macMessage(h, cipherText)
	tag := poly1305Tag(&polyKey, msg)
	if !constantTimeEqual(tag[:macFieldSize], h.mac[:]) {
		return nil, AuthError{}
	}

	switch h.cipher {
	case cipherNone:
		return cipherText, nil
	case cipherSalsa2012Poly1305, cipherSelfPoly1305:
		plain := make([]byte, len(cipherText))
		for i := range cipherText {
			plain[i] = cipherText[i] ^ keystream[32+i]
		}
		return plain, nil
	default:
		return nil, UnsupportedVerbError{}
	}
}

// --- small wire helpers in the style of ironwood's wire.go chop functions ---

func wireChopBytes(out *[]byte, data *[]byte, size int) bool {
	if len(*data) < size {
		return false
	}
	*out = append((*out)[:0], (*data)[:size]...)
	*data = (*data)[size:]
	return true
}

func wireChopUint16(out *uint16, data *[]byte) bool {
	if len(*data) < 2 {
		return false
	}
	*out = binary.BigEndian.Uint16(*data)
	*data = (*data)[2:]
	return true
}

func wireChopUint32(out *uint32, data *[]byte) bool {
	if len(*data) < 4 {
		return false
	}
	*out = binary.BigEndian.Uint32(*data)
	*data = (*data)[4:]
	return true
}

func wireChopUint64(out *uint64, data *[]byte) bool {
	if len(*data) < 8 {
		return false
	}
	*out = binary.BigEndian.Uint64(*data)
	*data = (*data)[8:]
	return true
}

func wireChopAddress(out *Address, data *[]byte) bool {
	if len(*data) < AddressSize {
		return false
	}
	copy(out[:], (*data)[:AddressSize])
	*data = (*data)[AddressSize:]
	return true
}

func wirePutUint16(dst []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(dst, b[:]...)
}

func wirePutUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func wirePutUint64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}
