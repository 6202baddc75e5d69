package ovnet

import (
	"crypto/ed25519"
	"sync"

	"github.com/rs/zerolog"
)

// NodeStatus is a point-in-time snapshot of a Node's identity and
// connectivity (spec.md §6, reinstated from the original header's
// ZT_NodeStatus per SPEC_FULL.md §3).
type NodeStatus struct {
	Address        Address
	WorldID        uint64
	WorldTimestamp Timestamp
	Online         bool
}

// Node is the embeddable engine (spec.md §1-2). It owns no goroutines of
// its own for the VL1/VL2 path: every exported entry point is synchronous
// and safe to call concurrently from multiple host threads (spec.md §5),
// hence THREAD_SAFE below is always true.
type Node struct {
	identity *Identity
	host     Host
	cfg      nodeConfig
	log      zerolog.Logger

	peers       *PeerTable
	networks    *NetworkTable
	multicaster *Multicaster
	reassembly  *reassemblyTable

	mu              sync.Mutex
	topo            topology
	online          bool
	lastRootContact Timestamp
	usable          bool // false once a fatal condition (e.g. identity collision) has occurred

	// pendingRendezvous remembers the endpoint a RENDEZVOUS offered for an
	// address whose Identity we didn't yet have, keyed so the HELLO burst
	// can resume once WHOIS resolves it (spec.md §4.2, §4.4).
	pendingRendezvous map[Address]InetAddr

	// Cluster is optional; nil unless the embedding host enables it.
	Cluster *Cluster
}

// THREAD_SAFE mirrors spec.md §9's "thread-safety advertisement" design
// note: the implementation honors §5's concurrency discipline everywhere,
// so this is unconditionally true.
const THREAD_SAFE = true

// NewNode constructs a Node, loading or generating its Identity via the
// host's data store, and replays spec.md §8 scenario 1 ("cold boot"): a
// fresh identity is generated and persisted exactly once, then an UP event
// fires.
func NewNode(host Host, opts ...Option) (*Node, ResultCode) {
	cfg := configDefaults()
	for _, opt := range opts {
		opt(&cfg)
	}

	id, code := loadOrCreateIdentity(host)
	if code != ResultOK {
		return nil, code
	}

	n := &Node{
		identity:          id,
		host:              host,
		cfg:               cfg,
		log:               cfg.logger,
		peers:             newPeerTable(),
		networks:          newNetworkTable(),
		multicaster:       newMulticaster(cfg.maxMulticastLikers, cfg.multicastTTL),
		reassembly:        newReassemblyTable(cfg.maxReassemblies, cfg.reassemblyTimeout),
		usable:            true,
		pendingRendezvous: make(map[Address]InetAddr),
	}

	if w, ok := loadWorld(host); ok {
		n.topo.current = w
	}

	n.host.Event(EventUp, nil)
	return n, ResultOK
}

func loadOrCreateIdentity(host Host) (*Identity, ResultCode) {
	secretBytes, found, err := host.DataStoreGet("identity.secret")
	if err != nil {
		return nil, ResultFatalDataStoreIO
	}
	if found {
		id, err := ParseIdentity(string(secretBytes))
		if err != nil {
			return nil, ResultFatalInternal
		}
		return id, ResultOK
	}

	id, err := GenerateIdentity()
	if err != nil {
		return nil, ResultFatalInternal
	}
	if err := host.DataStorePut("identity.secret", []byte(id.String()), true); err != nil {
		return nil, ResultFatalDataStoreIO
	}
	publicOnly := &Identity{Address: id.Address, Agreement: id.Agreement, Signing: id.Signing}
	if err := host.DataStorePut("identity.public", []byte(publicOnly.String()), false); err != nil {
		return nil, ResultFatalDataStoreIO
	}
	return id, ResultOK
}

// adoptWorldIfNewer verifies candidate against the configured root verify
// key and, if it passes shouldAdopt's monotonic upgrade rule (spec.md §3),
// installs and persists it.
func (n *Node) adoptWorldIfNewer(candidate *World) {
	if len(n.cfg.rootVerifyKey) != ed25519.PublicKeySize {
		return
	}
	if err := VerifyWorld(candidate, ed25519.PublicKey(n.cfg.rootVerifyKey)); err != nil {
		return
	}
	n.mu.Lock()
	adopted := n.topo.adopt(candidate)
	n.mu.Unlock()
	if adopted {
		_ = n.host.DataStorePut("world", encodeWorldBlob(candidate), true)
	}
}

func loadWorld(host Host) (*World, bool) {
	data, found, err := host.DataStoreGet("world")
	if err != nil || !found {
		return nil, false
	}
	w, err := decodeWorldBlob(data)
	if err != nil {
		return nil, false
	}
	return w, true
}

// Status returns the node's current identity and connectivity snapshot.
func (n *Node) Status() NodeStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	st := NodeStatus{Address: n.identity.Address, Online: n.online}
	if n.topo.current != nil {
		st.WorldID = n.topo.current.ID
		st.WorldTimestamp = n.topo.current.Timestamp
	}
	return st
}

// Identity returns the node's own identity (public and, if held, secret).
func (n *Node) Identity() *Identity { return n.identity }

// Peers returns a snapshot of every currently-known peer.
func (n *Node) Peers() []*Peer {
	var out []*Peer
	n.peers.Each(func(_ Address, p *Peer) { out = append(out, p) })
	return out
}

// Networks returns a snapshot of every currently-joined network.
func (n *Node) Networks() []*Network {
	var out []*Network
	n.networks.Each(func(_ uint64, nw *Network) { out = append(out, nw) })
	return out
}

func (n *Node) setOnline(v bool) {
	n.mu.Lock()
	changed := n.online != v
	n.online = v
	n.mu.Unlock()
	if changed {
		if v {
			n.host.Event(EventOnline, nil)
		} else {
			n.host.Event(EventOffline, nil)
		}
	}
}

// markUnusable flags the engine unusable after a fatal condition; per
// spec.md §8 scenario 5, subsequent entry points still return OK but the
// host is expected to tear the Node down.
func (n *Node) markUnusable() {
	n.mu.Lock()
	n.usable = false
	n.mu.Unlock()
}

func (n *Node) isUsable() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.usable
}

// sharedKeyWith derives the Salsa20/12 key for communication with peer p,
// memoized nowhere (recomputed per packet): ECDH is cheap relative to I/O,
// and caching would need invalidation machinery this engine has no other
// use for.
func (n *Node) sharedKeyWith(remoteID *Identity) ([32]byte, error) {
	return n.identity.agree(remoteID)
}
