package ovnet

import "encoding/binary"

// helloBody is the HELLO verb's payload: identity, version, and the
// initiator's timestamp for RTT measurement (spec.md §4.4).
type helloBody struct {
	timestamp    Timestamp
	versionMajor uint16
	versionMinor uint16
	versionRev   uint16
	identity     *Identity
	worldID      uint64
	worldTS      Timestamp
}

func encodeHello(h helloBody) []byte {
	out := make([]byte, 0, 32+identityPublicKeySize)
	out = wirePutUint64(out, uint64(h.timestamp))
	out = wirePutUint16(out, h.versionMajor)
	out = wirePutUint16(out, h.versionMinor)
	out = wirePutUint16(out, h.versionRev)
	out = wirePutUint64(out, h.worldID)
	out = wirePutUint64(out, uint64(h.worldTS))
	out = append(out, h.identity.PublicKeyBytes()...)
	return out
}

func decodeHello(body []byte, addr Address) (helloBody, error) {
	var h helloBody
	var ts, worldID, worldTS uint64
	if !wireChopUint64(&ts, &body) {
		return h, DecodeError{}
	}
	h.timestamp = Timestamp(ts)
	if !wireChopUint16(&h.versionMajor, &body) || !wireChopUint16(&h.versionMinor, &body) || !wireChopUint16(&h.versionRev, &body) {
		return h, DecodeError{}
	}
	if !wireChopUint64(&worldID, &body) {
		return h, DecodeError{}
	}
	h.worldID = worldID
	if !wireChopUint64(&worldTS, &body) {
		return h, DecodeError{}
	}
	h.worldTS = Timestamp(worldTS)
	if len(body) < identityPublicKeySize {
		return h, DecodeError{}
	}
	id, err := identityFromPublicKeyBytes(body[:identityPublicKeySize])
	if err != nil {
		return h, AuthError{}
	}
	if id.Address != addr {
		return h, AuthError{}
	}
	h.identity = id
	return h, nil
}

// okHelloBody is an OK(HELLO) reply: the mirrored timestamp, for RTT, plus
// an optional newer World (spec.md §4.4: "HELLO responses include the
// initiator's reported world revision; if the responder has a newer world,
// it includes the new world in its OK").
type okHelloBody struct {
	mirroredTimestamp Timestamp
	versionMajor      uint16
	versionMinor      uint16
	versionRev        uint16
	newerWorld        *World // nil if the responder has nothing newer
}

func encodeOKHello(o okHelloBody) []byte {
	out := make([]byte, 0, 16)
	out = wirePutUint64(out, uint64(o.mirroredTimestamp))
	out = wirePutUint16(out, o.versionMajor)
	out = wirePutUint16(out, o.versionMinor)
	out = wirePutUint16(out, o.versionRev)
	if o.newerWorld != nil {
		out = append(out, 1)
		out = append(out, worldSignedContent(o.newerWorld)...)
		out = append(out, o.newerWorld.Signature...)
	} else {
		out = append(out, 0)
	}
	return out
}

func decodeOKHello(body []byte) (okHelloBody, error) {
	var o okHelloBody
	var ts uint64
	if !wireChopUint64(&ts, &body) {
		return o, DecodeError{}
	}
	o.mirroredTimestamp = Timestamp(ts)
	if !wireChopUint16(&o.versionMajor, &body) || !wireChopUint16(&o.versionMinor, &body) || !wireChopUint16(&o.versionRev, &body) {
		return o, DecodeError{}
	}
	if len(body) < 1 {
		return o, DecodeError{}
	}
	flag := body[0]
	body = body[1:]
	if flag != 0 {
		if len(body) < signatureSize {
			return o, DecodeError{}
		}
		sigAt := len(body) - signatureSize
		w, err := decodeWorldSignedContent(body[:sigAt])
		if err != nil {
			return o, err
		}
		w.Signature = append([]byte(nil), body[sigAt:]...)
		o.newerWorld = w
	}
	return o, nil
}

// okBody is the generic OK() reply header: which verb it acknowledges and
// that verb's original packetId, used to correlate replies (spec.md §4.4).
type okBody struct {
	inReplyToVerb     verb
	inReplyToPacketID uint64
	payload           []byte
}

func encodeOK(o okBody) []byte {
	out := make([]byte, 0, 9+len(o.payload))
	out = append(out, byte(o.inReplyToVerb))
	out = wirePutUint64(out, o.inReplyToPacketID)
	return append(out, o.payload...)
}

func decodeOK(body []byte) (okBody, error) {
	var o okBody
	if len(body) < 9 {
		return o, DecodeError{}
	}
	o.inReplyToVerb = verb(body[0])
	o.inReplyToPacketID = binary.BigEndian.Uint64(body[1:9])
	o.payload = body[9:]
	return o, nil
}

// errorBody is the generic ERROR() reply (spec.md §4.4, §7).
type errorBody struct {
	inReplyToVerb     verb
	inReplyToPacketID uint64
	code              verbErrorCode
	payload           []byte
}

func encodeError(e errorBody) []byte {
	out := make([]byte, 0, 10+len(e.payload))
	out = append(out, byte(e.inReplyToVerb))
	out = wirePutUint64(out, e.inReplyToPacketID)
	out = append(out, byte(e.code))
	return append(out, e.payload...)
}

func decodeError(body []byte) (errorBody, error) {
	var e errorBody
	if len(body) < 10 {
		return e, DecodeError{}
	}
	e.inReplyToVerb = verb(body[0])
	e.inReplyToPacketID = binary.BigEndian.Uint64(body[1:9])
	e.code = verbErrorCode(body[9])
	e.payload = body[10:]
	return e, nil
}

// whoisBody requests the Identity of an address we referenced but do not
// yet know (spec.md §4.4).
type whoisBody struct {
	target Address
}

func encodeWhois(w whoisBody) []byte {
	return append([]byte(nil), w.target[:]...)
}

func decodeWhois(body []byte) (whoisBody, error) {
	var w whoisBody
	if !wireChopAddress(&w.target, &body) {
		return w, DecodeError{}
	}
	return w, nil
}

// rendezvousBody is a hole-punch hint from a common root (spec.md §4.2).
type rendezvousBody struct {
	with     Address
	endpoint InetAddr
}

func encodeRendezvous(r rendezvousBody) []byte {
	out := append([]byte(nil), r.with[:]...)
	b := r.endpoint.Addr().As16()
	out = append(out, b[:]...)
	out = wirePutUint16(out, r.endpoint.Port())
	return out
}

func decodeRendezvous(body []byte) (rendezvousBody, error) {
	var r rendezvousBody
	if !wireChopAddress(&r.with, &body) {
		return r, DecodeError{}
	}
	if len(body) < 18 {
		return r, DecodeError{}
	}
	addr, ok := parseInetAddrBytes(body[:16], binary.BigEndian.Uint16(body[16:18]))
	if !ok {
		return r, DecodeError{}
	}
	r.endpoint = addr
	return r, nil
}

// echoBody carries an opaque payload mirrored back by OK(ECHO) (spec.md §4.4).
type echoBody struct {
	payload []byte
}

func encodeEcho(e echoBody) []byte { return append([]byte(nil), e.payload...) }

func decodeEcho(body []byte) (echoBody, error) {
	return echoBody{payload: append([]byte(nil), body...)}, nil
}

// pushDirectPathsBody advertises candidate endpoints (spec.md §4.4).
type pushDirectPathsBody struct {
	endpoints []InetAddr
}

func encodePushDirectPaths(p pushDirectPathsBody) []byte {
	out := wirePutUint16(nil, uint16(len(p.endpoints)))
	for _, ep := range p.endpoints {
		b := ep.Addr().As16()
		out = append(out, b[:]...)
		out = wirePutUint16(out, ep.Port())
	}
	return out
}

func decodePushDirectPaths(body []byte) (pushDirectPathsBody, error) {
	var p pushDirectPathsBody
	var n uint16
	if !wireChopUint16(&n, &body) {
		return p, DecodeError{}
	}
	for i := uint16(0); i < n; i++ {
		if len(body) < 18 {
			return p, DecodeError{}
		}
		addr, ok := parseInetAddrBytes(body[:16], binary.BigEndian.Uint16(body[16:18]))
		if !ok {
			return p, DecodeError{}
		}
		p.endpoints = append(p.endpoints, addr)
		body = body[18:]
	}
	return p, nil
}
