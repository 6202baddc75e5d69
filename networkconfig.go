package ovnet

import (
	"crypto/ed25519"
	"errors"
	"net/netip"
)

// NetworkType distinguishes networks that require a Certificate of
// Membership from open ones (spec.md §3).
type NetworkType int

const (
	NetworkPrivate NetworkType = 0
	NetworkPublic  NetworkType = 1
)

// AssignedAddress is one (address, prefix length) pair statically assigned
// to this node on a network, capped at MaxAssignedAddresses (spec.md §3, §6).
type AssignedAddress struct {
	Addr       InetAddr
	PrefixBits int
}

// COMQualifier is one (id, value, maxDelta) tuple of a Certificate of
// Membership. A member's certificate is compatible with the network's
// current certificate iff, for every qualifier ID present in both, the
// absolute difference between values is <= the smaller of the two
// certificates' maxDelta for that ID. This is the "simplest rule consistent
// with monotonic revision and time range" resolution SPEC_FULL.md §3 picks
// for spec.md §9's open COM-matching question.
type COMQualifier struct {
	ID       uint64
	Value    uint64
	MaxDelta uint64
}

// CertificateOfMembership attests a node's membership in a private network,
// issued and signed by the network's controller (spec.md §3).
type CertificateOfMembership struct {
	NetworkID  uint64
	Timestamp  Timestamp
	Revision   uint64
	Qualifiers []COMQualifier
	Issuer     Address
	Signature  []byte
}

// ErrCOMSignatureInvalid is returned when a Certificate of Membership's
// signature does not verify against the issuer's signing key.
var ErrCOMSignatureInvalid = errors.New("ovnet: certificate of membership signature invalid")

// ErrNetworkConfigSignatureInvalid is returned when a NetworkConfig's
// signature does not verify against the controller's signing key.
var ErrNetworkConfigSignatureInvalid = errors.New("ovnet: network config signature invalid")

func comSignedContent(c *CertificateOfMembership) []byte {
	out := make([]byte, 0, 32+16*len(c.Qualifiers))
	out = wirePutUint64(out, c.NetworkID)
	out = wirePutUint64(out, uint64(c.Timestamp))
	out = wirePutUint64(out, c.Revision)
	for _, q := range c.Qualifiers {
		out = wirePutUint64(out, q.ID)
		out = wirePutUint64(out, q.Value)
		out = wirePutUint64(out, q.MaxDelta)
	}
	return out
}

// VerifyCOM checks c's signature against issuerKey.
func VerifyCOM(c *CertificateOfMembership, issuerKey ed25519.PublicKey) error {
	if !ed25519.Verify(issuerKey, comSignedContent(c), c.Signature) {
		return ErrCOMSignatureInvalid
	}
	return nil
}

// SignCOM signs c with the controller's identity.
func SignCOM(c *CertificateOfMembership, controller *Identity) []byte {
	return controller.Sign(comSignedContent(c))
}

// encodeCOM serializes c for presentation over the wire (spec.md §4.5's
// "source node must carry a current, non-expired COM"), alongside a
// FRAME/EXT_FRAME on a private network.
func encodeCOM(c *CertificateOfMembership) []byte {
	out := wirePutUint64(nil, c.NetworkID)
	out = wirePutUint64(out, uint64(c.Timestamp))
	out = wirePutUint64(out, c.Revision)
	out = wirePutUint16(out, uint16(len(c.Qualifiers)))
	for _, q := range c.Qualifiers {
		out = wirePutUint64(out, q.ID)
		out = wirePutUint64(out, q.Value)
		out = wirePutUint64(out, q.MaxDelta)
	}
	out = append(out, c.Issuer[:]...)
	out = wirePutUint16(out, uint16(len(c.Signature)))
	return append(out, c.Signature...)
}

func decodeCOM(data []byte) (*CertificateOfMembership, error) {
	c := new(CertificateOfMembership)
	if !wireChopUint64(&c.NetworkID, &data) {
		return nil, DecodeError{}
	}
	var ts uint64
	if !wireChopUint64(&ts, &data) {
		return nil, DecodeError{}
	}
	c.Timestamp = Timestamp(ts)
	if !wireChopUint64(&c.Revision, &data) {
		return nil, DecodeError{}
	}
	var nq uint16
	if !wireChopUint16(&nq, &data) {
		return nil, DecodeError{}
	}
	for i := uint16(0); i < nq; i++ {
		var q COMQualifier
		if !wireChopUint64(&q.ID, &data) || !wireChopUint64(&q.Value, &data) || !wireChopUint64(&q.MaxDelta, &data) {
			return nil, DecodeError{}
		}
		c.Qualifiers = append(c.Qualifiers, q)
	}
	if !wireChopAddress(&c.Issuer, &data) {
		return nil, DecodeError{}
	}
	var sigLen uint16
	if !wireChopUint16(&sigLen, &data) {
		return nil, DecodeError{}
	}
	if len(data) < int(sigLen) {
		return nil, DecodeError{}
	}
	c.Signature = append([]byte(nil), data[:sigLen]...)
	return c, nil
}

// CompatibleWith reports whether c and other agree closely enough on every
// shared qualifier to both consider the holder a current member of the same
// network (spec.md §4.5's "current, non-expired COM compatible with ours").
func (c *CertificateOfMembership) CompatibleWith(other *CertificateOfMembership) bool {
	others := make(map[uint64]COMQualifier, len(other.Qualifiers))
	for _, q := range other.Qualifiers {
		others[q.ID] = q
	}
	for _, q := range c.Qualifiers {
		oq, ok := others[q.ID]
		if !ok {
			continue
		}
		maxDelta := q.MaxDelta
		if oq.MaxDelta < maxDelta {
			maxDelta = oq.MaxDelta
		}
		var delta uint64
		if q.Value > oq.Value {
			delta = q.Value - oq.Value
		} else {
			delta = oq.Value - q.Value
		}
		if delta > maxDelta {
			return false
		}
	}
	return true
}

// NetworkConfig is the signed configuration of a joined virtual network
// (spec.md §3), as delivered by the controller in a NETWORK_CONFIG_REFRESH
// reply.
type NetworkConfig struct {
	NetworkID        uint64
	Revision         uint64
	Name             string
	Type             NetworkType
	MTU              int
	DHCPHint         bool
	BridgeAllowed    bool
	BroadcastEnabled bool
	Enabled          bool // supplemental: original header's ZT_VirtualNetworkConfig.enabled

	AssignedAddresses []AssignedAddress // <= MaxAssignedAddresses

	COM *CertificateOfMembership

	MulticastLimit int

	Signature []byte
}

func networkConfigSignedContent(c *NetworkConfig) []byte {
	out := make([]byte, 0, 64)
	out = wirePutUint64(out, c.NetworkID)
	out = wirePutUint64(out, c.Revision)
	out = wirePutUint16(out, uint16(len(c.Name)))
	out = append(out, c.Name...)
	var typeByte byte
	if c.Type == NetworkPublic {
		typeByte = 1
	}
	out = append(out, typeByte)
	out = wirePutUint32(out, uint32(c.MTU))
	out = wirePutUint32(out, uint32(c.MulticastLimit))
	out = wirePutUint16(out, uint16(len(c.AssignedAddresses)))
	for _, a := range c.AssignedAddresses {
		b := a.Addr.Addr().As16()
		out = append(out, b[:]...)
		out = append(out, byte(a.PrefixBits))
	}
	return out
}

// decodeNetworkConfigSignedContent parses networkConfigSignedContent's
// wire format, advancing data past what it consumed so the caller can read
// whatever trails the signed content (the signature length and bytes).
func decodeNetworkConfigSignedContent(data *[]byte) (*NetworkConfig, error) {
	c := new(NetworkConfig)
	if !wireChopUint64(&c.NetworkID, data) {
		return nil, DecodeError{}
	}
	if !wireChopUint64(&c.Revision, data) {
		return nil, DecodeError{}
	}
	var nameLen uint16
	if !wireChopUint16(&nameLen, data) {
		return nil, DecodeError{}
	}
	if len(*data) < int(nameLen) {
		return nil, DecodeError{}
	}
	c.Name = string((*data)[:nameLen])
	*data = (*data)[nameLen:]
	if len(*data) < 1 {
		return nil, DecodeError{}
	}
	if (*data)[0] == 1 {
		c.Type = NetworkPublic
	}
	*data = (*data)[1:]
	var mtu, limit uint32
	if !wireChopUint32(&mtu, data) || !wireChopUint32(&limit, data) {
		return nil, DecodeError{}
	}
	c.MTU = int(mtu)
	c.MulticastLimit = int(limit)
	var nAddrs uint16
	if !wireChopUint16(&nAddrs, data) {
		return nil, DecodeError{}
	}
	if nAddrs > MaxAssignedAddresses {
		return nil, DecodeError{}
	}
	for i := uint16(0); i < nAddrs; i++ {
		if len(*data) < 17 {
			return nil, DecodeError{}
		}
		addr := netip.AddrFrom16([16]byte((*data)[:16]))
		prefix := int((*data)[16])
		*data = (*data)[17:]
		c.AssignedAddresses = append(c.AssignedAddresses, AssignedAddress{
			Addr:       InetAddr{netip.AddrPortFrom(addr, 0)},
			PrefixBits: prefix,
		})
	}
	return c, nil
}

// VerifyNetworkConfig checks c's signature against the controller's signing key.
func VerifyNetworkConfig(c *NetworkConfig, controllerKey ed25519.PublicKey) bool {
	return ed25519.Verify(controllerKey, networkConfigSignedContent(c), c.Signature)
}

// SignNetworkConfig signs c with the controller's identity, the inverse of
// VerifyNetworkConfig, used by controller-side tooling and tests.
func SignNetworkConfig(c *NetworkConfig, controller *Identity) []byte {
	return controller.Sign(networkConfigSignedContent(c))
}
