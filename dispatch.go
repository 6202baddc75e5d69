package ovnet

// ProcessWirePacket is the host's entry point for an inbound UDP datagram
// (spec.md §4.3). Decode errors, MAC failures, and unknown verbs are
// dropped silently; it always returns ResultOK.
func (n *Node) ProcessWirePacket(now Timestamp, localAddr, remoteAddr InetAddr, data []byte) ResultCode {
	if !n.isUsable() {
		return ResultOK
	}

	if isFragment(data) {
		h, complete, ok := n.handleFragment(data)
		if !ok {
			return ResultOK // incomplete: held pending remaining fragments
		}
		return n.continueProcessWirePacket(now, localAddr, remoteAddr, h, complete)
	}

	h, rest, err := decodeHeader(data)
	if err != nil {
		return ResultOK // malformed framing: silent drop, spec.md §4.3
	}

	cipherText := rest
	if h.fragmented {
		complete, ok := n.assembleHead(h, cipherText)
		if !ok {
			return ResultOK // incomplete: held pending remaining fragments
		}
		cipherText = complete
	}

	return n.continueProcessWirePacket(now, localAddr, remoteAddr, h, cipherText)
}

// continueProcessWirePacket resumes decoding once a (possibly reassembled)
// whole packet's header and ciphertext are available.
func (n *Node) continueProcessWirePacket(now Timestamp, localAddr, remoteAddr InetAddr, h *packetHeader, cipherText []byte) ResultCode {
	if h.dest != n.identity.Address {
		n.relay(now, h, cipherText)
		return ResultOK
	}

	plain, err := n.authenticateFrom(h, cipherText)
	if err != nil {
		return ResultOK // auth failure: silent drop, spec.md §4.1/§8
	}

	vp, err := decodeVerbPayload(plain)
	if err != nil {
		return ResultOK
	}

	n.dispatchVerb(now, localAddr, remoteAddr, h, vp)
	return ResultOK
}

// authenticateFrom looks up the sender's Identity from the peer table and
// verifies/decrypts cipherText against it. If no Peer exists yet, it falls
// back to authenticateFirstHello: a HELLO carries the identity itself and
// is checked separately, since first contact is the one case where no
// Peer can possibly exist before the packet arrives.
func (n *Node) authenticateFrom(h *packetHeader, cipherText []byte) ([]byte, error) {
	peer, ok := n.peers.Get(h.source)
	if !ok {
		return n.authenticateFirstHello(h, cipherText)
	}
	key, err := n.sharedKeyWith(peer.Identity)
	if err != nil {
		return nil, err
	}
	return authenticateAndDecrypt(h, &key, cipherText)
}

// authenticateFirstHello authenticates a HELLO from an address we have no
// Peer for yet. Every HELLO is sent with cipherNone (see sendHello), so
// cipherText is already the cleartext verb payload; that's what makes this
// possible at all: we read the sender's Identity straight out of the body,
// derive the same ECDH shared key the sender used via that Identity's
// Agreement key, and only then verify the MAC. Anything other than a
// well-formed HELLO is rejected the same way a missing Peer always was,
// per spec.md §4.1/§8's silent-drop policy.
func (n *Node) authenticateFirstHello(h *packetHeader, cipherText []byte) ([]byte, error) {
	if h.cipher != cipherNone {
		return nil, PeerNotFoundError{}
	}
	vp, err := decodeVerbPayload(cipherText)
	if err != nil || vp.v != verbHello {
		return nil, PeerNotFoundError{}
	}
	hb, err := decodeHello(vp.body, h.source)
	if err != nil {
		return nil, err
	}
	key, err := n.sharedKeyWith(hb.identity)
	if err != nil {
		return nil, err
	}
	return authenticateAndDecrypt(h, &key, cipherText)
}

// handleFragment registers a trailing fragment, returning the reconstructed
// header and ciphertext if it completed an in-flight reassembly.
func (n *Node) handleFragment(data []byte) (*packetHeader, []byte, bool) {
	f, err := decodeFragment(data)
	if err != nil {
		return nil, nil, false
	}
	key := reassemblyKey{packetID: f.packetID}
	r, existed := n.reassembly.get(key)
	if !existed {
		r = allocReassembly()
	}
	if r.total == 0 {
		r.total = f.total
	}
	if int(f.fragNo) < len(r.pieces) {
		if r.pieces[f.fragNo] == nil {
			r.have++
		}
		r.pieces[f.fragNo] = append([]byte(nil), f.payload...)
	}
	if r.complete() {
		n.reassembly.remove(key)
		h, ct := r.header, r.reassembledCipherText()
		freeReassembly(r)
		return h, ct, true
	}
	n.reassembly.put(key, r)
	return nil, nil, false
}

// assembleHead registers the head piece of a fragmented packet, merging
// with any trailing fragments that already arrived, and attempts
// completion.
func (n *Node) assembleHead(h *packetHeader, headChunk []byte) ([]byte, bool) {
	key := reassemblyKey{packetID: h.packetID}
	r, existed := n.reassembly.get(key)
	if !existed {
		r = allocReassembly()
	}
	r.header = h
	r.headChunk = append([]byte(nil), headChunk...)
	if !r.haveHead {
		r.haveHead = true
		r.have++
	}
	if r.complete() {
		n.reassembly.remove(key)
		ct := r.reassembledCipherText()
		freeReassembly(r)
		return ct, true
	}
	n.reassembly.put(key, r)
	return nil, false
}

// relay forwards a packet not addressed to us, incrementing hops, per
// spec.md §4.1: "do not re-encrypt" — the ciphertext and MAC pass through
// unchanged; only the mutable hops field (excluded from the MAC) changes.
func (n *Node) relay(now Timestamp, h *packetHeader, cipherText []byte) {
	if h.hops >= maxHops {
		return
	}
	peer, ok := n.peers.Get(h.dest)
	if !ok {
		n.whoisViaRoots(now, h.dest)
		return
	}
	path := peer.PreferredPath()
	if path == nil {
		return
	}
	hh := *h
	hh.hops++
	out := packetBytes(&hh, cipherText)
	_ = n.host.WirePacketSend(path.Local, path.Remote, out)
	peer.touchSend(now)
}

// ProcessBackgroundTasks runs all time-driven maintenance (spec.md §4.3)
// and returns the next deadline the host should sleep until.
func (n *Node) ProcessBackgroundTasks(now Timestamp) (nextDeadline Timestamp, code ResultCode) {
	if !n.isUsable() {
		return now + 1000, ResultOK
	}

	var dl deadlineTracker

	anyRootResponded := false
	n.peers.Each(func(addr Address, p *Peer) {
		if !n.topo.isRoot(addr) {
			return
		}
		lastReceive, _, _, _ := p.snapshotTimes()
		if lastReceive != 0 && now.Sub(lastReceive) < n.cfg.offlineTimeout {
			anyRootResponded = true
		}
		dl.considerAfter(now, n.cfg.pingInterval)
	})
	n.setOnline(anyRootResponded || n.peers.Len() == 0 && n.topo.current == nil)

	n.bootstrapRoots(now, &dl)
	n.pingStalePaths(now, &dl)
	n.requestMissingConfigs(now, &dl)
	n.ageOutMulticast(now)

	if n.Cluster != nil {
		n.Cluster.sweepDead(now)
	}

	return dl.deadline(now, n.cfg.pingInterval), ResultOK
}

// bootstrapRoots sends an initial HELLO to every World root we don't yet
// have a Peer for, over each of its stable endpoints, replaying spec.md §8
// scenario 1 ("cold boot"): a fresh node with no peers reaches out to its
// configured roots rather than waiting to be contacted.
func (n *Node) bootstrapRoots(now Timestamp, dl *deadlineTracker) {
	n.mu.Lock()
	w := n.topo.current
	n.mu.Unlock()
	if w == nil {
		return
	}
	for _, root := range w.Roots {
		if _, ok := n.peers.Get(root.Identity.Address); ok {
			continue
		}
		for _, ep := range root.StableEndpoints {
			n.sendHelloTo(now, root.Identity, ep)
		}
		dl.considerAfter(now, n.cfg.pingInterval)
	}
}

func (n *Node) pingStalePaths(now Timestamp, dl *deadlineTracker) {
	n.peers.Each(func(addr Address, p *Peer) {
		pref := p.PreferredPath()
		if pref == nil || !pref.Alive(now, n.cfg.pathAliveTimeout) || now.Sub(pref.LastReceive) > n.cfg.pingInterval {
			n.sendHello(now, p)
		}
		dl.considerAfter(now, n.cfg.pingInterval)
	})
}

func (n *Node) requestMissingConfigs(now Timestamp, dl *deadlineTracker) {
	n.networks.Each(func(nwid uint64, nw *Network) {
		if nw.Status() == NetworkOK {
			return
		}
		if nw.dueForConfigRequest(now, n.cfg.netconfBackoffBase, n.cfg.netconfBackoffCap) {
			n.sendNetworkConfigRequest(now, nw)
			nw.markConfigRequested(now, n.cfg.netconfBackoffBase, n.cfg.netconfBackoffCap)
		}
		dl.considerAfter(now, n.cfg.netconfBackoffBase)
	})
}

func (n *Node) ageOutMulticast(now Timestamp) {
	// golang-lru/v2's expirable cache handles per-entry TTL eviction on
	// access; nothing additional to sweep here.
	_ = now
}

// Join adds nwid to the set of joined networks (spec.md §4.5). Calling
// Join twice on the same nwid is a no-op beyond the first (spec.md §8's
// idempotence property).
func (n *Node) Join(now Timestamp, nwid uint64) ResultCode {
	if !n.isUsable() {
		return ResultOK
	}
	nw, created := n.networks.GetOrCreate(nwid, n.identity.Address)
	if !created {
		return ResultOK
	}
	if err := n.host.VirtualNetworkConfig(nwid, PortConfigUp, nil); err != nil {
		nw.setStatus(NetworkPortError, err)
	}
	n.sendNetworkConfigRequest(now, nw)
	nw.markConfigRequested(now, n.cfg.netconfBackoffBase, n.cfg.netconfBackoffCap)
	return ResultOK
}

// Leave removes nwid, firing DOWN then DESTROY callbacks (spec.md §4.5).
func (n *Node) Leave(nwid uint64) ResultCode {
	nw, ok := n.networks.Get(nwid)
	if !ok {
		return ResultErrorNetworkNotFound
	}
	_ = n.host.VirtualNetworkConfig(nwid, PortConfigDown, nw.Config())
	_ = n.host.VirtualNetworkConfig(nwid, PortConfigDestroy, nil)
	n.networks.Remove(nwid)
	return ResultOK
}

// MulticastSubscribe adds a multicast group subscription on nwid (spec.md §4.6).
func (n *Node) MulticastSubscribe(nwid uint64, group MulticastGroup) ResultCode {
	nw, ok := n.networks.Get(nwid)
	if !ok {
		return ResultErrorNetworkNotFound
	}
	if nw.subscribe(group) {
		n.sendMulticastLike(nwid, group)
	}
	return ResultOK
}

// MulticastUnsubscribe removes a multicast group subscription.
func (n *Node) MulticastUnsubscribe(nwid uint64, group MulticastGroup) ResultCode {
	nw, ok := n.networks.Get(nwid)
	if !ok {
		return ResultErrorNetworkNotFound
	}
	nw.unsubscribe(group)
	return ResultOK
}

// ProcessVirtualNetworkFrame is the host's entry point for an outbound
// Ethernet frame from the virtual tap (spec.md §4.3/§4.5). Multicast and
// broadcast destinations fan out to known likers; unicast destinations
// resolve to a node Address (ZT-derived MAC, or the bridge table) and are
// sent as a single FRAME/EXT_FRAME.
func (n *Node) ProcessVirtualNetworkFrame(now Timestamp, nwid uint64, srcMAC, dstMAC MAC, etherType uint16, vlanID uint16, data []byte) ResultCode {
	if !n.isUsable() {
		return ResultOK
	}
	nw, ok := n.networks.Get(nwid)
	if !ok {
		return ResultErrorNetworkNotFound
	}
	if nw.Status() != NetworkOK {
		return ResultOK
	}
	cfg := nw.Config()
	if cfg == nil || !cfg.Enabled {
		return ResultOK
	}

	if dstMAC.IsMulticast() || dstMAC.IsBroadcast() {
		n.floodMulticastFrame(now, nw, dstMAC, srcMAC, etherType, data)
		return ResultOK
	}

	dest, ok := nw.resolveDestination(dstMAC, func(mac MAC) (Address, bool) {
		return addressFromNetworkMAC(nwid, mac)
	})
	if !ok {
		return ResultOK // destination unknown: drop, spec.md §4.5 gives no flood-on-unicast-miss rule
	}
	if dest == n.identity.Address {
		return ResultOK // looped back to ourselves, nothing to send
	}
	n.sendVL2Frame(now, nwid, dest, srcMAC, dstMAC, etherType, vlanID, data)
	return ResultOK
}

// floodMulticastFrame sends one unicast-addressed copy of a multicast frame
// to each known liker of (nwid, group), per spec.md §4.6's gather-then-
// replicate delivery model (no native IP multicast substrate assumed).
func (n *Node) floodMulticastFrame(now Timestamp, nw *Network, groupMAC MAC, srcMAC MAC, etherType uint16, data []byte) {
	group := MulticastGroup{MAC: groupMAC}
	cfg := nw.Config()
	limit := n.cfg.multicastLimitDefault
	if cfg != nil && cfg.MulticastLimit > 0 {
		limit = cfg.MulticastLimit
	}
	likers := n.multicaster.Likers(nw.NWID, group, limit)
	if n.multicaster.needsGather(nw.NWID, group, limit, now, n.cfg.multicastGatherTimeout) {
		n.sendMulticastGather(now, nw.NWID, group, limit)
	}
	if !n.multicaster.allowFlood(now, len(likers)) {
		return // over budget: drop this round rather than burst every liker at once
	}
	body := encodeMulticastFrame(multicastFrameBody{nwid: nw.NWID, group: group, srcMAC: srcMAC, etherType: etherType, payload: data})
	for _, dest := range likers {
		if dest == n.identity.Address {
			continue
		}
		peer, ok := n.peers.Get(dest)
		if !ok {
			continue
		}
		path := peer.PreferredPath()
		if path == nil {
			continue
		}
		key, err := n.sharedKeyWith(peer.Identity)
		if err != nil {
			continue
		}
		n.sendVerb(now, path.Local, path.Remote, dest, &key, cipherSalsa2012Poly1305, verbMulticastFrame, body)
	}
}

// sendVL2Frame sends a unicast Ethernet frame to dest, using the compact
// FRAME verb when srcMAC matches our own derived MAC, or EXT_FRAME when
// we're forwarding on behalf of a bridged source (spec.md §4.5).
func (n *Node) sendVL2Frame(now Timestamp, nwid uint64, dest Address, srcMAC, dstMAC MAC, etherType, vlanID uint16, data []byte) {
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
	com := n.ownCOM(nwid)
	if srcMAC == macFromNetwork(nwid, n.identity.Address) {
		body := encodeFrame(frameBody{nwid: nwid, etherType: etherType, com: com, payload: data})
		n.sendVerb(now, path.Local, path.Remote, dest, &key, cipherSalsa2012Poly1305, verbFrame, body)
		return
	}
	var flags byte = extFrameBridged
	body := encodeExtFrame(extFrameBody{nwid: nwid, flags: flags, srcMAC: srcMAC, dstMAC: dstMAC, etherType: etherType, vlanID: vlanID, com: com, payload: data})
	n.sendVerb(now, path.Local, path.Remote, dest, &key, cipherSalsa2012Poly1305, verbExtFrame, body)
}

// ownCOM returns the Certificate of Membership this node should present for
// nwid, for a PRIVATE network whose config has arrived with one. Public
// networks, or ones whose config we don't have yet, present none.
func (n *Node) ownCOM(nwid uint64) *CertificateOfMembership {
	nw, ok := n.networks.Get(nwid)
	if !ok {
		return nil
	}
	cfg := nw.Config()
	if cfg == nil || cfg.Type != NetworkPrivate {
		return nil
	}
	return cfg.COM
}
