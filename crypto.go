package ovnet

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/poly1305"
)

// Key sizes for the hybrid C25519‖Ed25519 identity key pair described in
// spec.md §3. Adapted from ironwood's crypto.go, which wraps a single
// ed25519 key pair the same way; here we wrap two, one per algorithm.
const (
	curve25519PublicKeySize  = 32
	curve25519PrivateKeySize = 32
	ed25519PublicKeySize     = ed25519.PublicKeySize
	ed25519PrivateKeySize    = ed25519.PrivateKeySize

	// identityPublicKeySize is the C25519‖Ed25519 concatenation named by spec.md §3.
	identityPublicKeySize = curve25519PublicKeySize + ed25519PublicKeySize

	signatureSize = ed25519.SignatureSize
)

type curve25519PublicKey [curve25519PublicKeySize]byte
type curve25519PrivateKey [curve25519PrivateKeySize]byte

// secretKey holds both halves of an Identity's private material.
type secretKey struct {
	agree curve25519PrivateKey
	sign  ed25519.PrivateKey
}

// generateSecretKey creates a fresh, uncorrelated Curve25519/Ed25519 key pair.
func generateSecretKey() (secretKey, curve25519PublicKey, ed25519.PublicKey, error) {
	var sk secretKey
	if _, err := rand.Read(sk.agree[:]); err != nil {
		return sk, curve25519PublicKey{}, nil, err
	}
	// Clamp per the X25519 convention so the scalar is in the right subgroup.
	sk.agree[0] &= 248
	sk.agree[31] &= 127
	sk.agree[31] |= 64
	var pub curve25519PublicKey
	agreedPub, err := curve25519.X25519(sk.agree[:], curve25519.Basepoint)
	if err != nil {
		return sk, curve25519PublicKey{}, nil, err
	}
	copy(pub[:], agreedPub)

	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return sk, curve25519PublicKey{}, nil, err
	}
	sk.sign = edPriv
	return sk, pub, edPub, nil
}

// agreeShared performs an ECDH key agreement between our secret agreement
// key and a peer's Curve25519 public key, as used by the packet codec
// (spec.md §4.1) to derive the Salsa20/12 keystream key.
func (sk *secretKey) agreeShared(peer curve25519PublicKey) ([32]byte, error) {
	var shared [32]byte
	out, err := curve25519.X25519(sk.agree[:], peer[:])
	if err != nil {
		return shared, err
	}
	copy(shared[:], out)
	return shared, nil
}

func (sk *secretKey) signMessage(msg []byte) []byte {
	return ed25519.Sign(sk.sign, msg)
}

func verifySignature(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// salsa2012KeyStream fills out with a Salsa20/12 (12-round) keystream for
// the given 32-byte key and 8-byte nonce.
//
// golang.org/x/crypto/salsa20 only exports the standard 20-round variant,
// and no published module implements ZeroTier's reduced-round Salsa20/12, so
// this is a hand-rolled core grounded directly in the public Salsa20
// specification (Bernstein), reduced to 12 rounds (6 double-rounds) as
// spec.md §4.1 requires. See DESIGN.md for the standard-library
// justification.
func salsa2012KeyStream(out []byte, key *[32]byte, nonce *[8]byte) {
	var block [64]byte
	var counter uint64
	n := 0
	for n < len(out) {
		salsa2012Block(&block, key, nonce, counter)
		c := copy(out[n:], block[:])
		n += c
		counter++
	}
}

func salsa2012Block(out *[64]byte, key *[32]byte, nonce *[8]byte, counter uint64) {
	const sigma0, sigma1, sigma2, sigma3 = 0x61707865, 0x3320646e, 0x79622d32, 0x6b206574

	var x [16]uint32
	x[0] = sigma0
	x[1] = le32(key[0:4])
	x[2] = le32(key[4:8])
	x[3] = le32(key[8:12])
	x[4] = le32(key[12:16])
	x[5] = sigma1
	x[6] = le32(nonce[0:4])
	x[7] = le32(nonce[4:8])
	x[8] = uint32(counter)
	x[9] = uint32(counter >> 32)
	x[10] = sigma2
	x[11] = le32(key[16:20])
	x[12] = le32(key[20:24])
	x[13] = le32(key[24:28])
	x[14] = le32(key[28:32])
	x[15] = sigma3

	work := x
	for i := 0; i < 6; i++ { // 6 double-rounds == 12 rounds
		salsaQuarterRound(&work[0], &work[4], &work[8], &work[12])
		salsaQuarterRound(&work[5], &work[9], &work[13], &work[1])
		salsaQuarterRound(&work[10], &work[14], &work[2], &work[6])
		salsaQuarterRound(&work[15], &work[3], &work[7], &work[11])
		salsaQuarterRound(&work[0], &work[1], &work[2], &work[3])
		salsaQuarterRound(&work[5], &work[6], &work[7], &work[4])
		salsaQuarterRound(&work[10], &work[11], &work[8], &work[9])
		salsaQuarterRound(&work[15], &work[12], &work[13], &work[14])
	}
	for i := range work {
		work[i] += x[i]
		putLE32(out[i*4:i*4+4], work[i])
	}
}

func salsaQuarterRound(a, b, c, d *uint32) {
	*b ^= rotl(*a+*d, 7)
	*c ^= rotl(*b+*a, 9)
	*d ^= rotl(*c+*b, 13)
	*a ^= rotl(*d+*c, 18)
}

func rotl(v uint32, n uint) uint32 {
	return v<<n | v>>(32-n)
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// poly1305Tag computes the 16-byte Poly1305 authenticator of msg under key,
// used to authenticate the VL1 packet header+payload per spec.md §4.1.
func poly1305Tag(key *[32]byte, msg []byte) [16]byte {
	var tag [16]byte
	poly1305.Sum(&tag, msg, key)
	return tag
}

func poly1305Verify(key *[32]byte, msg []byte, tag []byte) bool {
	if len(tag) != 16 {
		return false
	}
	var want [16]byte
	copy(want[:], tag)
	return poly1305.Verify(&want, msg, key)
}

func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
