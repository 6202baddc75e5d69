package ovnet

import "crypto/ed25519"

// controllerSigningKey returns nwid's controller's Ed25519 signing key, if
// we currently have a Peer record for it, for verifying a presented COM
// (spec.md §4.5). A controller we've never exchanged a config with yet
// yields nil, which admitInboundFrame treats as "cannot verify, reject."
func (n *Node) controllerSigningKey(nwid uint64) ed25519.PublicKey {
	peer, ok := n.peers.Get(controllerAddress(nwid))
	if !ok {
		return nil
	}
	return peer.Identity.Signing
}

// handleFrameVerb delivers a VL2 FRAME to the host tap, after VL2 admission
// checks (spec.md §4.5).
func (n *Node) handleFrameVerb(now Timestamp, h *packetHeader, body []byte) {
	fb, err := decodeFrame(body)
	if err != nil {
		return
	}
	nw, ok := n.networks.Get(fb.nwid)
	if !ok {
		return
	}
	srcMAC := macFromNetwork(fb.nwid, h.source)
	if !nw.admitInboundFrame(h.source, srcMAC, fb.com, n.controllerSigningKey(fb.nwid)) {
		return
	}
	dstMAC := nw.MAC
	n.host.VirtualNetworkFrame(fb.nwid, srcMAC, dstMAC, fb.etherType, 0, fb.payload)
}

// handleExtFrameVerb is handleFrameVerb's bridged counterpart, carrying
// explicit source/dest MACs (spec.md §4.5's claimed-source-MAC path).
func (n *Node) handleExtFrameVerb(now Timestamp, h *packetHeader, body []byte) {
	fb, err := decodeExtFrame(body)
	if err != nil {
		return
	}
	nw, ok := n.networks.Get(fb.nwid)
	if !ok {
		return
	}
	if !nw.admitInboundFrame(h.source, fb.srcMAC, fb.com, n.controllerSigningKey(fb.nwid)) {
		return
	}
	if fb.flags&extFrameBridged != 0 {
		nw.learnBridge(fb.srcMAC, h.source)
	}
	n.host.VirtualNetworkFrame(fb.nwid, fb.srcMAC, fb.dstMAC, fb.etherType, fb.vlanID, fb.payload)
}

// handleNetworkConfigRequest answers a NETWORK_CONFIG_REQUEST when this
// node is the nwid's controller. This engine does not implement controller
// logic (spec.md §1 assigns "the network-configuration-master service" to
// the host as an external collaborator); it always answers NOT_FOUND,
// leaving real controller behavior to a host-side service sitting behind
// the same Host.DataStoreGet/Put surface.
func (n *Node) handleNetworkConfigRequest(now Timestamp, h *packetHeader, body []byte) {
	rb, err := decodeNetworkConfigRequest(body)
	if err != nil {
		return
	}
	if controllerAddress(rb.nwid) != n.identity.Address {
		return
	}
	sender, ok := n.peers.Get(h.source)
	if !ok {
		return
	}
	path := sender.PreferredPath()
	if path == nil {
		return
	}
	key, err := n.sharedKeyWith(sender.Identity)
	if err != nil {
		return
	}
	refresh := networkConfigRefreshBody{nwid: rb.nwid, status: NetworkNotFound}
	n.sendVerb(now, path.Local, path.Remote, h.source, &key, cipherSalsa2012Poly1305, verbNetworkConfigRefresh, encodeNetworkConfigRefresh(refresh))
}

// handleNetworkConfigRefresh processes a controller's config reply (spec.md §4.5).
func (n *Node) handleNetworkConfigRefresh(now Timestamp, h *packetHeader, body []byte) {
	nwid, status, rest, err := decodeNetworkConfigRefreshStatus(body)
	if err != nil {
		return
	}
	nw, ok := n.networks.Get(nwid)
	if !ok {
		return
	}
	if controllerAddress(nwid) != h.source {
		return // only the controller may answer for its own nwid
	}
	if status != NetworkOK {
		nw.setStatus(status, nil)
		_ = n.host.VirtualNetworkConfig(nwid, PortConfigConfigUpdate, nil)
		return
	}
	controller, ok := n.peers.Get(h.source)
	if !ok {
		return
	}
	cfg, err := decodeNetworkConfigTail(nwid, rest, controller.Identity.Signing)
	if err != nil {
		return
	}
	if nw.applyConfig(cfg) {
		if err := n.host.VirtualNetworkConfig(nwid, PortConfigConfigUpdate, cfg); err != nil {
			nw.setStatus(NetworkPortError, err)
		}
	}
}

// decodeNetworkConfigTail parses the signed NetworkConfig body following
// the status byte in a NETWORK_CONFIG_REFRESH (the inverse of
// encodeNetworkConfigRefresh's config-present branch) and rejects it unless
// it verifies against controllerKey, per spec.md §4.5's "validate signature
// against controller identity".
func decodeNetworkConfigTail(nwid uint64, body []byte, controllerKey ed25519.PublicKey) (*NetworkConfig, error) {
	cfg, err := decodeNetworkConfigSignedContent(&body)
	if err != nil {
		return nil, err
	}
	var sigSize uint16
	if !wireChopUint16(&sigSize, &body) {
		return nil, DecodeError{}
	}
	if len(body) < int(sigSize) {
		return nil, DecodeError{}
	}
	cfg.Signature = append([]byte(nil), body[:sigSize]...)
	if !VerifyNetworkConfig(cfg, controllerKey) {
		return nil, ErrNetworkConfigSignatureInvalid
	}
	cfg.NetworkID = nwid
	cfg.Enabled = true
	return cfg, nil
}

func (n *Node) handleMulticastLike(now Timestamp, h *packetHeader, body []byte) {
	nwid, group, err := decodeMulticastLike(body)
	if err != nil {
		return
	}
	n.multicaster.like(nwid, group, h.source, now)
}

func (n *Node) handleMulticastGather(now Timestamp, h *packetHeader, body []byte) {
	gb, err := decodeMulticastGather(body)
	if err != nil {
		return
	}
	sender, ok := n.peers.Get(h.source)
	if !ok {
		return
	}
	path := sender.PreferredPath()
	if path == nil {
		return
	}
	key, err := n.sharedKeyWith(sender.Identity)
	if err != nil {
		return
	}
	likers := n.multicaster.Likers(gb.nwid, gb.group, int(gb.limit))
	body2 := make([]byte, 0, 10+len(likers)*AddressSize)
	body2 = wirePutUint64(body2, gb.nwid)
	body2 = append(body2, gb.group.MAC[:]...)
	body2 = wirePutUint32(body2, uint32(gb.group.ADI))
	body2 = wirePutUint16(body2, uint16(len(likers)))
	for _, a := range likers {
		body2 = append(body2, a[:]...)
	}
	ok2 := okBody{inReplyToVerb: verbMulticastGather, inReplyToPacketID: h.packetID, payload: body2}
	n.sendVerb(now, path.Local, path.Remote, h.source, &key, cipherSalsa2012Poly1305, verbOK, encodeOK(ok2))
}

func (n *Node) handleMulticastFrame(now Timestamp, h *packetHeader, body []byte) {
	fb, err := decodeMulticastFrame(body)
	if err != nil {
		return
	}
	nw, ok := n.networks.Get(fb.nwid)
	if !ok || nw.Status() != NetworkOK {
		return
	}
	n.host.VirtualNetworkFrame(fb.nwid, fb.srcMAC, fb.group.MAC, fb.etherType, 0, fb.payload)
}

func (n *Node) handleCircuitTest(now Timestamp, h *packetHeader, body []byte) {
	t, err := decodeCircuitTest(body)
	if err != nil {
		return
	}
	report := CircuitTestReport{
		TestID:        t.TestID,
		Timestamp:     now,
		ReceivedFrom:  h.source,
		ReportingHop:  n.identity.Address,
		RemainingHops: t.remaining(),
	}
	n.sendCircuitTestReport(now, t.Originator, report)

	next, ok := t.advance()
	if !ok {
		return
	}
	hop := next.currentHop()
	if hop == nil {
		return
	}
	for _, addr := range hop.Addresses {
		n.forwardCircuitTest(now, addr, next)
	}
}

func (n *Node) handleCircuitTestReport(body []byte) {
	// Reports are decoded to validate the wire format and then discarded;
	// CircuitTestBegin takes no report callback and no host callback
	// receives them.
	_, _ = decodeCircuitTestReport(body)
}

func (n *Node) sendCircuitTestReport(now Timestamp, originator Address, report CircuitTestReport) {
	peer, ok := n.peers.Get(originator)
	if !ok {
		return
	}
	path := peer.PreferredPath()
	if path == nil {
		return
	}
	key, err := n.sharedKeyWith(peer.Identity)
	if err != nil {
		return
	}
	n.sendVerb(now, path.Local, path.Remote, originator, &key, cipherSalsa2012Poly1305, verbCircuitTestReport, encodeCircuitTestReport(report))
}

func (n *Node) forwardCircuitTest(now Timestamp, dest Address, t *CircuitTest) {
	peer, ok := n.peers.Get(dest)
	if !ok {
		return
	}
	path := peer.PreferredPath()
	if path == nil {
		return
	}
	key, err := n.sharedKeyWith(peer.Identity)
	if err != nil {
		return
	}
	n.sendVerb(now, path.Local, path.Remote, dest, &key, cipherSalsa2012Poly1305, verbCircuitTest, encodeCircuitTest(t))
}

// CircuitTestBegin originates a circuit test from this node (spec.md §4.4, §9).
func (n *Node) CircuitTestBegin(now Timestamp, t *CircuitTest) ResultCode {
	t.Originator = n.identity.Address
	hop := t.currentHop()
	if hop == nil {
		return ResultErrorBadParameter
	}
	for _, addr := range hop.Addresses {
		n.forwardCircuitTest(now, addr, t)
	}
	return ResultOK
}
