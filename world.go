package ovnet

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
)

// Root is one planetary root server named by a World (spec.md §3).
type Root struct {
	Identity        *Identity
	StableEndpoints []InetAddr
}

// World is the signed roster of root servers (spec.md §3, §4.5). Nodes
// adopt a new World only if its Id matches the one they already trust and
// its Timestamp is strictly greater, the monotonic upgrade rule named by
// spec.md §3 ("A new world is adopted only if id matches and timestamp is
// greater; otherwise ignored").
type World struct {
	ID        uint64
	Timestamp Timestamp
	Roots     []Root
	Signature []byte
}

// ErrWorldSignatureInvalid is returned by VerifyWorld when the signature
// does not verify against the configured root verify key.
var ErrWorldSignatureInvalid = errors.New("ovnet: world signature invalid")

// worldSignedContent returns the byte sequence the World's Signature covers:
// id, timestamp, and each root's Identity public key and endpoints, in
// order. The signature itself is excluded; including the public keys makes
// a tampered roster fail verification.
func worldSignedContent(w *World) []byte {
	out := make([]byte, 0, 16+64*len(w.Roots))
	out = wirePutUint64(out, w.ID)
	out = wirePutUint64(out, uint64(w.Timestamp))
	for _, r := range w.Roots {
		out = append(out, r.Identity.PublicKeyBytes()...)
		out = wirePutUint16(out, uint16(len(r.StableEndpoints)))
		for _, ep := range r.StableEndpoints {
			b := ep.Addr().As16()
			out = append(out, b[:]...)
			var portBuf [2]byte
			binary.BigEndian.PutUint16(portBuf[:], ep.Port())
			out = append(out, portBuf[:]...)
		}
	}
	return out
}

// decodeWorldSignedContent parses the layout worldSignedContent produces
// (id, timestamp, and each root's public key and stable endpoints), used to
// recover a World carried inline in an OK(HELLO) reply (spec.md §4.4,
// "HELLO responses include ... a new world").
func decodeWorldSignedContent(data []byte) (*World, error) {
	w := new(World)
	if !wireChopUint64(&w.ID, &data) {
		return nil, DecodeError{}
	}
	var ts uint64
	if !wireChopUint64(&ts, &data) {
		return nil, DecodeError{}
	}
	w.Timestamp = Timestamp(ts)
	for len(data) > 0 {
		if len(data) < identityPublicKeySize+2 {
			return nil, DecodeError{}
		}
		id, err := identityFromPublicKeyBytes(data[:identityPublicKeySize])
		if err != nil {
			return nil, err
		}
		data = data[identityPublicKeySize:]
		var nEndpoints uint16
		if !wireChopUint16(&nEndpoints, &data) {
			return nil, DecodeError{}
		}
		root := Root{Identity: id}
		for j := uint16(0); j < nEndpoints; j++ {
			if len(data) < 18 {
				return nil, DecodeError{}
			}
			ep, ok := parseInetAddrBytes(data[:16], portOf(data[16:18]))
			if !ok {
				return nil, DecodeError{}
			}
			root.StableEndpoints = append(root.StableEndpoints, ep)
			data = data[18:]
		}
		w.Roots = append(w.Roots, root)
	}
	return w, nil
}

// VerifyWorld checks w.Signature against verifyKey, the planetary root's
// Ed25519 public key configured via WithRootVerifyKey (spec.md §3: "Signed
// by a well-known planetary root key").
func VerifyWorld(w *World, verifyKey ed25519.PublicKey) error {
	if len(verifyKey) != ed25519.PublicKeySize {
		return ErrWorldSignatureInvalid
	}
	if !ed25519.Verify(verifyKey, worldSignedContent(w), w.Signature) {
		return ErrWorldSignatureInvalid
	}
	return nil
}

// SignWorld signs w with the planetary root's secret signing key, used by
// whatever out-of-band tooling mints a World (not part of the runtime engine,
// but grounded here since it is the inverse of VerifyWorld and needed by
// tests).
func SignWorld(w *World, rootIdentity *Identity) []byte {
	return rootIdentity.Sign(worldSignedContent(w))
}

// encodeWorldBlob serializes w as the signed binary blob persisted under
// the "world" data store name (spec.md §6: "World is the signed binary
// blob").
func encodeWorldBlob(w *World) []byte {
	out := wirePutUint64(nil, w.ID)
	out = wirePutUint64(out, uint64(w.Timestamp))
	out = wirePutUint16(out, uint16(len(w.Roots)))
	for _, r := range w.Roots {
		out = append(out, r.Identity.PublicKeyBytes()...)
		out = append(out, r.Identity.Address[:]...)
		out = wirePutUint16(out, uint16(len(r.StableEndpoints)))
		for _, ep := range r.StableEndpoints {
			b := ep.Addr().As16()
			out = append(out, b[:]...)
			out = wirePutUint16(out, ep.Port())
		}
	}
	out = wirePutUint16(out, uint16(len(w.Signature)))
	out = append(out, w.Signature...)
	return out
}

// decodeWorldBlob parses the format produced by encodeWorldBlob.
func decodeWorldBlob(data []byte) (*World, error) {
	w := new(World)
	if !wireChopUint64(&w.ID, &data) {
		return nil, DecodeError{}
	}
	var ts uint64
	if !wireChopUint64(&ts, &data) {
		return nil, DecodeError{}
	}
	w.Timestamp = Timestamp(ts)
	var nRoots uint16
	if !wireChopUint16(&nRoots, &data) {
		return nil, DecodeError{}
	}
	for i := uint16(0); i < nRoots; i++ {
		if len(data) < identityPublicKeySize+AddressSize+2 {
			return nil, DecodeError{}
		}
		id := &Identity{}
		copy(id.Agreement[:], data[:curve25519PublicKeySize])
		id.Signing = append([]byte(nil), data[curve25519PublicKeySize:identityPublicKeySize]...)
		data = data[identityPublicKeySize:]
		copy(id.Address[:], data[:AddressSize])
		data = data[AddressSize:]
		var nEndpoints uint16
		if !wireChopUint16(&nEndpoints, &data) {
			return nil, DecodeError{}
		}
		root := Root{Identity: id}
		for j := uint16(0); j < nEndpoints; j++ {
			if len(data) < 18 {
				return nil, DecodeError{}
			}
			ep, ok := parseInetAddrBytes(data[:16], portOf(data[16:18]))
			if !ok {
				return nil, DecodeError{}
			}
			root.StableEndpoints = append(root.StableEndpoints, ep)
			data = data[18:]
		}
		w.Roots = append(w.Roots, root)
	}
	var sigLen uint16
	if !wireChopUint16(&sigLen, &data) {
		return nil, DecodeError{}
	}
	if len(data) < int(sigLen) {
		return nil, DecodeError{}
	}
	w.Signature = append([]byte(nil), data[:sigLen]...)
	return w, nil
}

func portOf(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// topology holds the currently-trusted World and derives root Peer roles
// from it (spec.md §4.5).
type topology struct {
	current *World
}

// shouldAdopt implements spec.md §3's World upgrade rule.
func (t *topology) shouldAdopt(candidate *World) bool {
	if t.current == nil {
		return true
	}
	if candidate.ID != t.current.ID {
		return false
	}
	return candidate.Timestamp > t.current.Timestamp
}

// adopt installs candidate as the current World if shouldAdopt allows it,
// returning whether the adoption happened.
func (t *topology) adopt(candidate *World) bool {
	if !t.shouldAdopt(candidate) {
		return false
	}
	t.current = candidate
	return true
}

// isRoot reports whether addr is one of the current World's root addresses.
func (t *topology) isRoot(addr Address) bool {
	if t.current == nil {
		return false
	}
	for _, r := range t.current.Roots {
		if r.Identity.Address == addr {
			return true
		}
	}
	return false
}

// rootEndpoints returns the stable endpoints of all currently-trusted roots,
// used to seed outbound HELLOs at cold boot (spec.md §8 scenario "cold boot").
func (t *topology) rootEndpoints() []InetAddr {
	if t.current == nil {
		return nil
	}
	var out []InetAddr
	for _, r := range t.current.Roots {
		out = append(out, r.StableEndpoints...)
	}
	return out
}
