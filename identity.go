package ovnet

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Proof-of-work parameters for Identity generation (spec.md §3): the engine
// keeps hashing fresh key pairs until the memory-hard digest's first two
// bytes are both below identityPOWThreshold.
const (
	identityPOWThreshold = 17

	// Argon2id cost parameters. These are deliberately modest so that
	// identity generation remains fast in test environments while still
	// being a genuine memory-hard function, per spec.md §3's "memory-hard
	// hash" requirement. golang.org/x/crypto/argon2 is the ecosystem's
	// memory-hard KDF; see DESIGN.md / SPEC_FULL.md for the grounding.
	identityArgon2Time    = 1
	identityArgon2Memory  = 64 * 1024 // KiB
	identityArgon2Threads = 1
	identityArgon2KeyLen  = 32
)

// Identity is a node's cryptographic identity: a 40-bit Address bound to a
// hybrid Curve25519/Ed25519 public key by proof-of-work, per spec.md §3.
type Identity struct {
	Address   Address
	Agreement curve25519PublicKey
	Signing   ed25519.PublicKey

	secret *secretKey // nil for a "public only" Identity received from a peer
}

// ErrIdentityInvalid is returned when an identity's address does not match
// the proof-of-work derivation of its public key.
var ErrIdentityInvalid = errors.New("ovnet: identity address does not match public key digest")

// GenerateIdentity creates a new Identity with a fresh key pair, repeating
// key generation until the proof-of-work condition in spec.md §3 is met.
// This never returns with a low-quality address: the loop is unbounded, but
// in practice a qualifying key pair is found within about 227 attempts on
// average ((17/256)^2 acceptance probability for the two leading bytes of a
// roughly uniform digest).
func GenerateIdentity() (*Identity, error) {
	for {
		sk, agreePub, signPub, err := generateSecretKey()
		if err != nil {
			return nil, err
		}
		digest := identityDigest(agreePub, signPub)
		if digest[0] >= identityPOWThreshold || digest[1] >= identityPOWThreshold {
			continue
		}
		id := &Identity{
			Address:   addressFromDigest(digest),
			Agreement: agreePub,
			Signing:   append(ed25519.PublicKey(nil), signPub...),
			secret:    &sk,
		}
		return id, nil
	}
}

// identityDigest computes the memory-hard digest whose leading bits gate
// acceptance and whose low 40 bits become the node Address.
func identityDigest(agree curve25519PublicKey, sign ed25519.PublicKey) []byte {
	input := make([]byte, 0, len(agree)+len(sign))
	input = append(input, agree[:]...)
	input = append(input, sign...)
	// Salt is fixed and public: the point of the memory-hard step is
	// proof-of-work cost, not secrecy.
	salt := []byte("ovnet-identity-v1")
	return argon2.IDKey(input, salt, identityArgon2Time, identityArgon2Memory, identityArgon2Threads, identityArgon2KeyLen)
}

func addressFromDigest(digest []byte) Address {
	var a Address
	copy(a[:], digest[len(digest)-AddressSize:])
	// The address must never collide with the reserved "null" or broadcast
	// range; clear the top bit of the top byte as ZeroTier's derivation does
	// to keep addresses out of reserved ranges.
	a[0] &^= 0x80
	return a
}

// Verify checks that id.Address is consistent with id's public keys, i.e.
// that the proof-of-work derivation in spec.md §3 actually holds. Identities
// received over the wire (in HELLO, WHOIS replies, etc.) must pass this
// before being trusted.
func (id *Identity) Verify() bool {
	digest := identityDigest(id.Agreement, id.Signing)
	if digest[0] >= identityPOWThreshold || digest[1] >= identityPOWThreshold {
		return false
	}
	return addressFromDigest(digest) == id.Address
}

// HasSecret reports whether this Identity carries private key material,
// i.e. whether it is "our" identity rather than one learned about a peer.
func (id *Identity) HasSecret() bool {
	return id.secret != nil
}

// PublicKeyBytes returns the 64-byte C25519‖Ed25519 concatenation named by
// spec.md §3.
func (id *Identity) PublicKeyBytes() []byte {
	out := make([]byte, 0, identityPublicKeySize)
	out = append(out, id.Agreement[:]...)
	out = append(out, id.Signing...)
	return out
}

// Sign signs msg with id's secret signing key. Panics if id has no secret,
// which would be a programming error (only "our" identity ever signs).
func (id *Identity) Sign(msg []byte) []byte {
	if id.secret == nil {
		panic("ovnet: Sign called on an identity without a secret key")
	}
	return id.secret.signMessage(msg)
}

// VerifySignedBy verifies that sig is id's signature over msg.
func (id *Identity) VerifySignedBy(msg, sig []byte) bool {
	return verifySignature(id.Signing, msg, sig)
}

// identityFromPublicKeyBytes reconstructs a public-only Identity from the
// 64-byte C25519‖Ed25519 concatenation produced by PublicKeyBytes, deriving
// and verifying its Address from the embedded proof-of-work digest (spec.md
// §3 and §4.4's WHOIS reply, which carries only the public key).
func identityFromPublicKeyBytes(b []byte) (*Identity, error) {
	if len(b) != identityPublicKeySize {
		return nil, DecodeError{}
	}
	id := &Identity{Signing: append(ed25519.PublicKey(nil), b[curve25519PublicKeySize:identityPublicKeySize]...)}
	copy(id.Agreement[:], b[:curve25519PublicKeySize])
	id.Address = addressFromDigest(identityDigest(id.Agreement, id.Signing))
	if !id.Verify() {
		return nil, ErrIdentityInvalid
	}
	return id, nil
}

// agree performs ECDH between id's secret agreement key and other's public
// agreement key, deriving the shared secret used to key the packet codec's
// Salsa20/12 stream (spec.md §4.1).
func (id *Identity) agree(other *Identity) ([32]byte, error) {
	if id.secret == nil {
		return [32]byte{}, errors.New("ovnet: agree called without a secret key")
	}
	return id.secret.agreeShared(other.Agreement)
}

// String serializes the public portion of id, one field per colon-separated
// component, the plain-text persisted format named by spec.md §6
// ("canonical string-serialized identity").
func (id *Identity) String() string {
	var b strings.Builder
	b.WriteString(id.Address.String())
	b.WriteByte(':')
	b.WriteString(base64.RawStdEncoding.EncodeToString(id.Agreement[:]))
	b.WriteByte(':')
	b.WriteString(base64.RawStdEncoding.EncodeToString(id.Signing))
	if id.secret != nil {
		b.WriteByte(':')
		b.WriteString(base64.RawStdEncoding.EncodeToString(id.secret.agree[:]))
		b.WriteByte(':')
		b.WriteString(base64.RawStdEncoding.EncodeToString(id.secret.sign))
	}
	return b.String()
}

// ParseIdentity parses the format produced by Identity.String, either the
// public-only form ("addr:agree:sign") or the full form with secret
// material appended ("addr:agree:sign:secretAgree:secretSign").
func ParseIdentity(s string) (*Identity, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 && len(parts) != 5 {
		return nil, fmt.Errorf("ovnet: malformed identity string (%d fields)", len(parts))
	}
	addrBytes, err := decodeHexAddress(parts[0])
	if err != nil {
		return nil, err
	}
	agreeBytes, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil || len(agreeBytes) != curve25519PublicKeySize {
		return nil, errors.New("ovnet: malformed identity agreement key")
	}
	signBytes, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(signBytes) != ed25519PublicKeySize {
		return nil, errors.New("ovnet: malformed identity signing key")
	}
	id := &Identity{Address: addrBytes, Signing: ed25519.PublicKey(signBytes)}
	copy(id.Agreement[:], agreeBytes)

	if len(parts) == 5 {
		secAgree, err := base64.RawStdEncoding.DecodeString(parts[3])
		if err != nil || len(secAgree) != curve25519PrivateKeySize {
			return nil, errors.New("ovnet: malformed identity secret agreement key")
		}
		secSign, err := base64.RawStdEncoding.DecodeString(parts[4])
		if err != nil || len(secSign) != ed25519PrivateKeySize {
			return nil, errors.New("ovnet: malformed identity secret signing key")
		}
		var sk secretKey
		copy(sk.agree[:], secAgree)
		sk.sign = ed25519.PrivateKey(secSign)
		id.secret = &sk
	}
	if !id.Verify() {
		return nil, ErrIdentityInvalid
	}
	return id, nil
}

func decodeHexAddress(s string) (Address, error) {
	var a Address
	if len(s) != AddressSize*2 {
		return a, ErrBadAddress
	}
	for i := 0; i < AddressSize; i++ {
		hi, ok1 := hexNibble(s[i*2])
		lo, ok2 := hexNibble(s[i*2+1])
		if !ok1 || !ok2 {
			return a, ErrBadAddress
		}
		a[i] = hi<<4 | lo
	}
	return a, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
