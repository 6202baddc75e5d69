package ovnet

// sendVerb encrypts and transmits one verb packet to dest over path,
// fragmenting if necessary, and returns the packetId used (for RTT
// correlation) or 0 if the send failed.
func (n *Node) sendVerb(now Timestamp, local, remote InetAddr, dest Address, sharedKey *[32]byte, cipher cipherSuite, v verb, body []byte) uint64 {
	h := &packetHeader{
		packetID: newPacketID(),
		dest:     dest,
		source:   n.identity.Address,
		cipher:   cipher,
	}
	payload := encodeVerbPayload(v, body)
	cipherText := sealPacket(h, sharedKey, payload)

	if headBytes, tail, frag := splitIntoFragments(h, cipherText, n.cfg.maxFragmentPayload); frag {
		if err := n.host.WirePacketSend(local, remote, headBytes); err != nil {
			n.log.Debug().Err(err).Msg("wire packet send failed")
			return 0
		}
		for _, piece := range tail {
			_ = n.host.WirePacketSend(local, remote, piece)
		}
		return h.packetID
	}

	out := packetBytes(h, cipherText)
	if err := n.host.WirePacketSend(local, remote, out); err != nil {
		n.log.Debug().Err(err).Msg("wire packet send failed")
		return 0
	}
	return h.packetID
}

// sendHello sends a HELLO to p, authenticated with the ECDH-derived shared
// key (spec.md §4.1). It is always sent with cipherNone: a HELLO must be
// readable before either side has a session with the other, so it carries
// no secret and relies on the MAC alone for authenticity, per the decoding
// policy described at authenticateFrom. For a destination we don't yet
// have a Peer record for, see sendHelloTo.
func (n *Node) sendHello(now Timestamp, p *Peer) {
	path := p.PreferredPath()
	if path == nil {
		return
	}
	key, err := n.sharedKeyWith(p.Identity)
	if err != nil {
		return
	}
	body := encodeHello(helloBody{
		timestamp:    now,
		versionMajor: 1,
		versionMinor: 0,
		versionRev:   0,
		identity:     n.identity,
		worldID:      n.worldIDOrZero(),
		worldTS:      n.worldTSOrZero(),
	})
	n.sendVerb(now, path.Local, path.Remote, p.Identity.Address, &key, cipherNone, verbHello, body)
	p.touchSend(now)
}

// sendHelloTo sends an initial HELLO to dest, an Identity already known by
// some out-of-band means (e.g. a World root's signed roster entry) rather
// than an existing Peer record. It registers dest as a Peer first — the
// ECDH shared key derivable right now from dest's real Agreement key, and
// the Peer record this creates is also what lets the eventual OK(HELLO)
// reply be authenticated on the way back in, since authenticateFrom only
// has a cold-start path for the HELLO verb itself, not OK.
func (n *Node) sendHelloTo(now Timestamp, dest *Identity, remote InetAddr) {
	peer, err := n.peers.GetOrCreate(dest)
	if err != nil {
		return
	}
	peer.observePath(InetAddr{}, remote, now, false)
	n.sendHello(now, peer)
}

func (n *Node) worldIDOrZero() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.topo.current == nil {
		return 0
	}
	return n.topo.current.ID
}

func (n *Node) worldTSOrZero() Timestamp {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.topo.current == nil {
		return 0
	}
	return n.topo.current.Timestamp
}

func (n *Node) sendNetworkConfigRequest(now Timestamp, nw *Network) {
	controller := controllerAddress(nw.NWID)
	peer, ok := n.peers.Get(controller)
	var local, remote InetAddr
	var key [32]byte
	cipher := cipherNone
	if ok {
		if path := peer.PreferredPath(); path != nil {
			local, remote = path.Local, path.Remote
		}
		if k, err := n.sharedKeyWith(peer.Identity); err == nil {
			key = k
			cipher = cipherSalsa2012Poly1305
		}
	} else {
		for _, ep := range n.topo.rootEndpoints() {
			remote = ep
			break
		}
	}
	cfg := nw.Config()
	var cached uint64
	if cfg != nil {
		cached = cfg.Revision
	}
	body := encodeNetworkConfigRequest(networkConfigRequestBody{nwid: nw.NWID, cachedRevision: cached})
	n.sendVerb(now, local, remote, controller, &key, cipher, verbNetworkConfigRequest, body)
}

func (n *Node) sendMulticastLike(nwid uint64, group MulticastGroup) {
	controller := controllerAddress(nwid)
	peer, ok := n.peers.Get(controller)
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
	body := encodeMulticastLike(nwid, group)
	n.sendVerb(0, path.Local, path.Remote, controller, &key, cipherSalsa2012Poly1305, verbMulticastLike, body)
}

// sendWhois asks a known peer (typically a root) to resolve target's
// Identity (spec.md §4.4), rate-limited per sendWhois-capable peer.
func (n *Node) sendWhois(now Timestamp, via *Peer, target Address) {
	if via == nil || !via.shouldSendWhois(now, n.cfg.whoisRateLimit) {
		return
	}
	path := via.PreferredPath()
	if path == nil {
		return
	}
	key, err := n.sharedKeyWith(via.Identity)
	if err != nil {
		return
	}
	body := encodeWhois(whoisBody{target: target})
	n.sendVerb(now, path.Local, path.Remote, via.Identity.Address, &key, cipherSalsa2012Poly1305, verbWhois, body)
}

// whoisViaRoots asks every currently-known root to resolve target, used
// when a packet references an address we have no Peer record for at all
// (spec.md §4.4's "ask an upstream" resolution path).
func (n *Node) whoisViaRoots(now Timestamp, target Address) {
	n.peers.Each(func(addr Address, p *Peer) {
		if n.topo.isRoot(addr) {
			n.sendWhois(now, p, target)
		}
	})
}

func (n *Node) sendMulticastGather(now Timestamp, nwid uint64, group MulticastGroup, limit int) {
	controller := controllerAddress(nwid)
	peer, ok := n.peers.Get(controller)
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
	body := encodeMulticastGather(multicastGatherBody{nwid: nwid, group: group, limit: uint32(limit)})
	n.sendVerb(now, path.Local, path.Remote, controller, &key, cipherSalsa2012Poly1305, verbMulticastGather, body)
	n.multicaster.markGatherSent(nwid, group, now)
}
