package ovnet

import "time"

// dispatchVerb routes a decoded, authenticated verb payload to its handler
// (spec.md §4.4). Unknown verbs are dropped silently.
func (n *Node) dispatchVerb(now Timestamp, local, remote InetAddr, h *packetHeader, vp verbPayload) {
	peer, _ := n.peers.Get(h.source)
	if peer != nil {
		peer.observePath(local, remote, now, true)
		peer.touchReceive(now, vp.v == verbFrame || vp.v == verbMulticastFrame)
	}

	switch vp.v {
	case verbHello:
		n.handleHello(now, local, remote, h, vp.body)
	case verbOK:
		n.handleOK(now, local, remote, h, peer, vp.body)
	case verbError:
		n.handleError(now, h, peer, vp.body)
	case verbWhois:
		n.handleWhois(now, local, remote, h, vp.body)
	case verbRendezvous:
		n.handleRendezvous(now, h, vp.body)
	case verbEcho:
		n.handleEcho(now, local, remote, h, vp.body)
	case verbPushDirectPaths:
		n.handlePushDirectPaths(now, peer, vp.body)
	case verbCircuitTest:
		n.handleCircuitTest(now, h, vp.body)
	case verbCircuitTestReport:
		n.handleCircuitTestReport(vp.body)
	case verbFrame:
		n.handleFrameVerb(now, h, vp.body)
	case verbExtFrame:
		n.handleExtFrameVerb(now, h, vp.body)
	case verbNetworkConfigRequest:
		n.handleNetworkConfigRequest(now, h, vp.body)
	case verbNetworkConfigRefresh:
		n.handleNetworkConfigRefresh(now, h, vp.body)
	case verbMulticastLike:
		n.handleMulticastLike(now, h, vp.body)
	case verbMulticastGather:
		n.handleMulticastGather(now, h, vp.body)
	case verbMulticastFrame:
		n.handleMulticastFrame(now, h, vp.body)
	default:
		// unsupported verb: silently dropped, spec.md §4.3
	}
}

func (n *Node) handleHello(now Timestamp, local, remote InetAddr, h *packetHeader, body []byte) {
	hb, err := decodeHello(body, h.source)
	if err != nil {
		return
	}
	peer, err := n.peers.GetOrCreate(hb.identity)
	if err != nil {
		if _, ok := err.(IdentityCollisionError); ok {
			n.host.Event(EventFatalIdentityCollision, h.source)
			n.markUnusable()
		}
		return
	}
	peer.observePath(local, remote, now, true)
	peer.setRemoteVersion(RemoteVersion{Major: int(hb.versionMajor), Minor: int(hb.versionMinor), Revision: int(hb.versionRev)})

	key, err := n.sharedKeyWith(peer.Identity)
	if err != nil {
		return
	}
	var newer *World
	n.mu.Lock()
	if n.topo.current != nil && (hb.worldID != n.topo.current.ID || hb.worldTS < n.topo.current.Timestamp) {
		newer = n.topo.current
	}
	n.mu.Unlock()

	ok := okBody{
		inReplyToVerb:     verbHello,
		inReplyToPacketID: h.packetID,
		payload:           encodeOKHello(okHelloBody{mirroredTimestamp: hb.timestamp, versionMajor: 1, versionMinor: 0, versionRev: 0, newerWorld: newer}),
	}
	n.sendVerb(now, local, remote, h.source, &key, cipherSalsa2012Poly1305, verbOK, encodeOK(ok))
}

func (n *Node) handleOK(now Timestamp, local, remote InetAddr, h *packetHeader, peer *Peer, body []byte) {
	ob, err := decodeOK(body)
	if err != nil || peer == nil {
		return
	}
	switch ob.inReplyToVerb {
	case verbHello:
		oh, err := decodeOKHello(ob.payload)
		if err != nil {
			return
		}
		rtt := float64(now.Sub(oh.mirroredTimestamp)) / float64(time.Millisecond)
		peer.recordRTT(local, remote, rtt)
		if oh.newerWorld != nil {
			n.adoptWorldIfNewer(oh.newerWorld)
		}
	case verbNetworkConfigRequest:
		// handled via NETWORK_CONFIG_REFRESH instead; nothing to do on OK alone
	case verbWhois:
		n.handleWhoisReply(now, ob.payload)
	}
}

// handleWhoisReply resolves an Identity learned via OK(WHOIS), registers it
// as a Peer, and resumes any HELLO burst a RENDEZVOUS deferred while the
// Identity was still unknown (spec.md §4.2, §4.4).
func (n *Node) handleWhoisReply(now Timestamp, payload []byte) {
	id, err := identityFromPublicKeyBytes(payload)
	if err != nil {
		return
	}
	peer, err := n.peers.GetOrCreate(id)
	if err != nil {
		if _, ok := err.(IdentityCollisionError); ok {
			n.host.Event(EventFatalIdentityCollision, id.Address)
			n.markUnusable()
		}
		return
	}

	n.mu.Lock()
	endpoint, ok := n.pendingRendezvous[id.Address]
	delete(n.pendingRendezvous, id.Address)
	n.mu.Unlock()
	if !ok {
		return
	}
	peer.observePath(InetAddr{}, endpoint, now, false)
	for i := 0; i < n.cfg.rendezvousBurst; i++ {
		n.sendHello(now, peer)
	}
}

func (n *Node) handleError(now Timestamp, h *packetHeader, peer *Peer, body []byte) {
	eb, err := decodeError(body)
	if err != nil {
		return
	}
	if eb.code == verbErrorIdentityCollision {
		n.host.Event(EventFatalIdentityCollision, h.source)
		n.markUnusable()
	}
}

func (n *Node) handleWhois(now Timestamp, local, remote InetAddr, h *packetHeader, body []byte) {
	wb, err := decodeWhois(body)
	if err != nil {
		return
	}
	target, ok := n.peers.Get(wb.target)
	if !ok {
		errBody := errorBody{inReplyToVerb: verbWhois, inReplyToPacketID: h.packetID, code: verbErrorObjNotFound}
		sender, senderOK := n.peers.Get(h.source)
		if !senderOK {
			return
		}
		key, kerr := n.sharedKeyWith(sender.Identity)
		if kerr != nil {
			return
		}
		n.sendVerb(now, local, remote, h.source, &key, cipherSalsa2012Poly1305, verbError, encodeError(errBody))
		return
	}
	sender, ok := n.peers.Get(h.source)
	if !ok {
		return
	}
	key, err := n.sharedKeyWith(sender.Identity)
	if err != nil {
		return
	}
	ok2 := okBody{inReplyToVerb: verbWhois, inReplyToPacketID: h.packetID, payload: target.Identity.PublicKeyBytes()}
	n.sendVerb(now, local, remote, h.source, &key, cipherSalsa2012Poly1305, verbOK, encodeOK(ok2))
}

func (n *Node) handleRendezvous(now Timestamp, h *packetHeader, body []byte) {
	rb, err := decodeRendezvous(body)
	if err != nil {
		return
	}
	peer, ok := n.peers.Get(rb.with)
	if !ok {
		// We don't have rb.with's Identity yet, so there's no shared key to
		// encrypt a HELLO with. Remember the endpoint and ask the peer that
		// sent us this RENDEZVOUS (normally a root) to resolve it; the HELLO
		// burst resumes in handleOK's WHOIS case once it does.
		n.mu.Lock()
		n.pendingRendezvous[rb.with] = rb.endpoint
		n.mu.Unlock()
		if sender, senderOK := n.peers.Get(h.source); senderOK {
			n.sendWhois(now, sender, rb.with)
		}
		return
	}
	peer.observePath(InetAddr{}, rb.endpoint, now, false)
	for i := 0; i < n.cfg.rendezvousBurst; i++ {
		n.sendHello(now, peer)
	}
}

func (n *Node) handleEcho(now Timestamp, local, remote InetAddr, h *packetHeader, body []byte) {
	eb, err := decodeEcho(body)
	if err != nil {
		return
	}
	sender, ok := n.peers.Get(h.source)
	if !ok {
		return
	}
	key, err := n.sharedKeyWith(sender.Identity)
	if err != nil {
		return
	}
	ok2 := okBody{inReplyToVerb: verbEcho, inReplyToPacketID: h.packetID, payload: eb.payload}
	n.sendVerb(now, local, remote, h.source, &key, cipherSalsa2012Poly1305, verbOK, encodeOK(ok2))
}

func (n *Node) handlePushDirectPaths(now Timestamp, peer *Peer, body []byte) {
	if peer == nil {
		return
	}
	pb, err := decodePushDirectPaths(body)
	if err != nil {
		return
	}
	for _, ep := range pb.endpoints {
		peer.observePath(InetAddr{}, ep, now, false)
	}
}
