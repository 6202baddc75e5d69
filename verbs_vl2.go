package ovnet

import "encoding/binary"

// frameBody is the VL2 FRAME verb: an Ethernet payload whose body carries
// the nwid and etherType explicitly, followed by an optional COM
// (spec.md §4.3).
type frameBody struct {
	nwid      uint64
	etherType uint16
	com       *CertificateOfMembership // presented on PRIVATE networks only, spec.md §4.5
	payload   []byte
}

func encodeFrame(f frameBody) []byte {
	out := wirePutUint64(nil, f.nwid)
	out = wirePutUint16(out, f.etherType)
	out = encodeCOMPresence(out, f.com)
	return append(out, f.payload...)
}

func decodeFrame(body []byte) (frameBody, error) {
	var f frameBody
	if !wireChopUint64(&f.nwid, &body) {
		return f, DecodeError{}
	}
	if !wireChopUint16(&f.etherType, &body) {
		return f, DecodeError{}
	}
	com, rest, err := decodeCOMPresence(body)
	if err != nil {
		return f, err
	}
	f.com = com
	f.payload = append([]byte(nil), rest...)
	return f, nil
}

// encodeCOMPresence appends an optional COM to out: a presence byte, then,
// if present, a length-prefixed encodeCOM blob. Used by FRAME and EXT_FRAME,
// the only verbs that ever need to carry one.
func encodeCOMPresence(out []byte, c *CertificateOfMembership) []byte {
	if c == nil {
		return append(out, 0)
	}
	out = append(out, 1)
	blob := encodeCOM(c)
	out = wirePutUint16(out, uint16(len(blob)))
	return append(out, blob...)
}

func decodeCOMPresence(body []byte) (*CertificateOfMembership, []byte, error) {
	if len(body) < 1 {
		return nil, nil, DecodeError{}
	}
	present, rest := body[0], body[1:]
	if present == 0 {
		return nil, rest, nil
	}
	var comLen uint16
	if !wireChopUint16(&comLen, &rest) {
		return nil, nil, DecodeError{}
	}
	if len(rest) < int(comLen) {
		return nil, nil, DecodeError{}
	}
	com, err := decodeCOM(rest[:comLen])
	if err != nil {
		return nil, nil, err
	}
	return com, rest[comLen:], nil
}

// extFrameBody is EXT_FRAME: a FRAME plus explicit source/dest MACs and
// flags, used when the sender is not the frame's Ethernet source (bridging)
// (spec.md §4.5's "claimed source MAC").
type extFrameBody struct {
	nwid      uint64
	flags     byte
	srcMAC    MAC
	dstMAC    MAC
	etherType uint16
	vlanID    uint16
	com       *CertificateOfMembership // presented on PRIVATE networks only, spec.md §4.5
	payload   []byte
}

const extFrameBridged = 0x01

func encodeExtFrame(f extFrameBody) []byte {
	out := wirePutUint64(nil, f.nwid)
	out = append(out, f.flags)
	out = append(out, f.srcMAC[:]...)
	out = append(out, f.dstMAC[:]...)
	out = wirePutUint16(out, f.etherType)
	out = wirePutUint16(out, f.vlanID)
	out = encodeCOMPresence(out, f.com)
	return append(out, f.payload...)
}

func decodeExtFrame(body []byte) (extFrameBody, error) {
	var f extFrameBody
	if !wireChopUint64(&f.nwid, &body) {
		return f, DecodeError{}
	}
	if len(body) < 1+6+6+2+2 {
		return f, DecodeError{}
	}
	f.flags = body[0]
	copy(f.srcMAC[:], body[1:7])
	copy(f.dstMAC[:], body[7:13])
	f.etherType = binary.BigEndian.Uint16(body[13:15])
	f.vlanID = binary.BigEndian.Uint16(body[15:17])
	com, rest, err := decodeCOMPresence(body[17:])
	if err != nil {
		return f, err
	}
	f.com = com
	f.payload = append([]byte(nil), rest...)
	return f, nil
}

// networkConfigRequestBody is NETWORK_CONFIG_REQUEST (spec.md §4.5).
type networkConfigRequestBody struct {
	nwid         uint64
	cachedRevision uint64
}

func encodeNetworkConfigRequest(r networkConfigRequestBody) []byte {
	out := wirePutUint64(nil, r.nwid)
	return wirePutUint64(out, r.cachedRevision)
}

func decodeNetworkConfigRequest(body []byte) (networkConfigRequestBody, error) {
	var r networkConfigRequestBody
	if !wireChopUint64(&r.nwid, &body) || !wireChopUint64(&r.cachedRevision, &body) {
		return r, DecodeError{}
	}
	return r, nil
}

// networkConfigRefreshBody is NETWORK_CONFIG_REFRESH, the controller's
// signed reply, or an explicit denial (spec.md §4.5).
type networkConfigRefreshBody struct {
	nwid   uint64
	status NetworkStatus // NetworkOK with a config, or a denial status
	config *NetworkConfig
}

func encodeNetworkConfigRefresh(r networkConfigRefreshBody) []byte {
	out := wirePutUint64(nil, r.nwid)
	out = append(out, byte(r.status))
	if r.config != nil {
		out = append(out, networkConfigSignedContent(r.config)...)
		out = wirePutUint16(out, uint16(len(r.config.Signature)))
		out = append(out, r.config.Signature...)
	}
	return out
}

func decodeNetworkConfigRefreshStatus(body []byte) (nwid uint64, status NetworkStatus, rest []byte, err error) {
	if !wireChopUint64(&nwid, &body) {
		return 0, 0, nil, DecodeError{}
	}
	if len(body) < 1 {
		return 0, 0, nil, DecodeError{}
	}
	status = NetworkStatus(body[0])
	return nwid, status, body[1:], nil
}

// encodeMulticastLike encodes one (nwid, group) pair the sender now
// subscribes to (spec.md §4.6).
func encodeMulticastLike(nwid uint64, group MulticastGroup) []byte {
	out := wirePutUint64(nil, nwid)
	out = append(out, group.MAC[:]...)
	return wirePutUint32(out, uint32(group.ADI))
}

func decodeMulticastLike(body []byte) (nwid uint64, group MulticastGroup, err error) {
	if !wireChopUint64(&nwid, &body) {
		return 0, MulticastGroup{}, DecodeError{}
	}
	if len(body) < 10 {
		return 0, MulticastGroup{}, DecodeError{}
	}
	copy(group.MAC[:], body[:6])
	group.ADI = ADI(binary.BigEndian.Uint32(body[6:10]))
	return nwid, group, nil
}

// multicastGatherBody requests known likers of (nwid, group) from a
// controller or root (spec.md §4.6).
type multicastGatherBody struct {
	nwid  uint64
	group MulticastGroup
	limit uint32
}

func encodeMulticastGather(g multicastGatherBody) []byte {
	out := wirePutUint64(nil, g.nwid)
	out = append(out, g.group.MAC[:]...)
	out = wirePutUint32(out, uint32(g.group.ADI))
	return wirePutUint32(out, g.limit)
}

func decodeMulticastGather(body []byte) (multicastGatherBody, error) {
	var g multicastGatherBody
	if !wireChopUint64(&g.nwid, &body) {
		return g, DecodeError{}
	}
	if len(body) < 14 {
		return g, DecodeError{}
	}
	copy(g.group.MAC[:], body[:6])
	g.group.ADI = ADI(binary.BigEndian.Uint32(body[6:10]))
	g.limit = binary.BigEndian.Uint32(body[10:14])
	return g, nil
}

// multicastFrameBody is a unicast-addressed copy of a multicast Ethernet
// frame, sent to one known liker (spec.md §4.6).
type multicastFrameBody struct {
	nwid      uint64
	group     MulticastGroup
	srcMAC    MAC
	etherType uint16
	payload   []byte
}

func encodeMulticastFrame(f multicastFrameBody) []byte {
	out := wirePutUint64(nil, f.nwid)
	out = append(out, f.group.MAC[:]...)
	out = wirePutUint32(out, uint32(f.group.ADI))
	out = append(out, f.srcMAC[:]...)
	out = wirePutUint16(out, f.etherType)
	return append(out, f.payload...)
}

func decodeMulticastFrame(body []byte) (multicastFrameBody, error) {
	var f multicastFrameBody
	if !wireChopUint64(&f.nwid, &body) {
		return f, DecodeError{}
	}
	if len(body) < 6+4+6+2 {
		return f, DecodeError{}
	}
	copy(f.group.MAC[:], body[:6])
	f.group.ADI = ADI(binary.BigEndian.Uint32(body[6:10]))
	copy(f.srcMAC[:], body[10:16])
	f.etherType = binary.BigEndian.Uint16(body[16:18])
	f.payload = append([]byte(nil), body[18:]...)
	return f, nil
}
