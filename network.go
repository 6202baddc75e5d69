package ovnet

import (
	"crypto/ed25519"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// NetworkStatus is a joined network's current controller-relationship
// state (spec.md §3).
type NetworkStatus int

const (
	NetworkRequesting    NetworkStatus = 0
	NetworkOK            NetworkStatus = 1
	NetworkAccessDenied  NetworkStatus = 2
	NetworkNotFound      NetworkStatus = 3
	NetworkPortError     NetworkStatus = 4
	NetworkClientTooOld  NetworkStatus = 5
)

func (s NetworkStatus) String() string {
	switch s {
	case NetworkRequesting:
		return "REQUESTING"
	case NetworkOK:
		return "OK"
	case NetworkAccessDenied:
		return "ACCESS_DENIED"
	case NetworkNotFound:
		return "NOT_FOUND"
	case NetworkPortError:
		return "PORT_ERROR"
	case NetworkClientTooOld:
		return "CLIENT_TOO_OLD"
	default:
		return "UNKNOWN"
	}
}

// controllerAddress returns the Address that is authoritative for nwid,
// its top 40 bits, per spec.md §3 ("nwid's top 40 bits identify the
// controller node").
func controllerAddress(nwid uint64) Address {
	return AddressFromUint64(nwid >> 24)
}

const bridgeTableTTL = 10 * time.Minute

// Network is one joined virtual network (spec.md §3). mu guards everything
// but NWID and MAC, which are immutable after newNetwork.
type Network struct {
	NWID uint64
	MAC  MAC

	mu                sync.Mutex
	config            *NetworkConfig
	status            NetworkStatus
	multicastSubs     map[MulticastGroup]struct{}
	lastConfigRequest Timestamp
	nextConfigBackoff time.Duration
	portError         error

	bridgeTable *lru.LRU[MAC, Address] // observed-traffic MAC -> node Address, supplemental (spec.md §4.5 egress)
}

func newNetwork(nwid uint64, selfAddr Address) *Network {
	return &Network{
		NWID:          nwid,
		MAC:           macFromNetwork(nwid, selfAddr),
		status:        NetworkRequesting,
		multicastSubs: make(map[MulticastGroup]struct{}),
		bridgeTable:   lru.NewLRU[MAC, Address](1024, nil, bridgeTableTTL),
	}
}

func (n *Network) Status() NetworkStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *Network) Config() *NetworkConfig {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.config
}

// applyConfig validates revision monotonicity (spec.md §8: "C.revision >=
// previous revision; strictly lower revisions are ignored") and, if
// accepted, installs cfg and moves the network to OK.
func (n *Network) applyConfig(cfg *NetworkConfig) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.config != nil && cfg.Revision < n.config.Revision {
		return false
	}
	n.config = cfg
	n.status = NetworkOK
	n.portError = nil
	return true
}

func (n *Network) setStatus(s NetworkStatus, portErr error) {
	n.mu.Lock()
	n.status = s
	n.portError = portErr
	n.mu.Unlock()
}

func (n *Network) subscribe(g MulticastGroup) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.multicastSubs[g]; ok {
		return false
	}
	n.multicastSubs[g] = struct{}{}
	return true
}

func (n *Network) unsubscribe(g MulticastGroup) {
	n.mu.Lock()
	delete(n.multicastSubs, g)
	n.mu.Unlock()
}

func (n *Network) isSubscribed(g MulticastGroup) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.multicastSubs[g]
	return ok
}

func (n *Network) subscriptions() []MulticastGroup {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]MulticastGroup, 0, len(n.multicastSubs))
	for g := range n.multicastSubs {
		out = append(out, g)
	}
	return out
}

// dueForConfigRequest reports whether enough time has passed since
// lastConfigRequest, per spec.md §4.3's exponential backoff (base ~10s,
// cap ~5min).
func (n *Network) dueForConfigRequest(now Timestamp, base, cap_ time.Duration) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastConfigRequest == 0 {
		return true
	}
	return now.Sub(n.lastConfigRequest) >= n.backoffLocked(base, cap_)
}

func (n *Network) backoffLocked(base, cap_ time.Duration) time.Duration {
	if n.nextConfigBackoff == 0 {
		n.nextConfigBackoff = base
	}
	return n.nextConfigBackoff
}

func (n *Network) markConfigRequested(now Timestamp, base, cap_ time.Duration) {
	n.mu.Lock()
	n.lastConfigRequest = now
	next := n.nextConfigBackoff * 2
	if next < base {
		next = base
	}
	if next > cap_ {
		next = cap_
	}
	n.nextConfigBackoff = next
	n.mu.Unlock()
}

// admitInboundFrame applies spec.md §3/§4.5's ingress admission rule: the
// network must be OK; on a PRIVATE network the source must additionally
// present a COM, signed by controllerKey, that is CompatibleWith our own
// cached one; and if the source MAC doesn't match the source node's derived
// MAC, bridging must be allowed by the current config. A PRIVATE network
// with no cached COM of our own yet, or a source presenting none or an
// unverifiable one, is rejected outright rather than silently admitted.
func (n *Network) admitInboundFrame(src Address, srcMAC MAC, presented *CertificateOfMembership, controllerKey ed25519.PublicKey) bool {
	n.mu.Lock()
	status, cfg := n.status, n.config
	n.mu.Unlock()
	if status != NetworkOK || cfg == nil {
		return false
	}
	if cfg.Type == NetworkPrivate {
		if cfg.COM == nil || presented == nil || controllerKey == nil {
			return false
		}
		if VerifyCOM(presented, controllerKey) != nil {
			return false
		}
		if !cfg.COM.CompatibleWith(presented) {
			return false
		}
	}
	if srcMAC == macFromNetwork(n.NWID, src) {
		return true
	}
	return cfg.BridgeAllowed
}

// learnBridge records that srcMAC was observed arriving from src, feeding
// the egress bridge table (spec.md §4.5's "otherwise consult bridge table
// populated from observed traffic with TTL").
func (n *Network) learnBridge(srcMAC MAC, src Address) {
	if srcMAC.IsMulticast() || srcMAC.IsBroadcast() {
		return
	}
	n.bridgeTable.Add(srcMAC, src)
}

// resolveDestination maps dstMAC to a node Address for unicast egress
// (spec.md §4.5): ZT-assigned MACs decode directly; otherwise the bridge
// table (populated by learnBridge) is consulted.
func (n *Network) resolveDestination(dstMAC MAC, selfAddrSpace func(MAC) (Address, bool)) (Address, bool) {
	if addr, ok := selfAddrSpace(dstMAC); ok {
		return addr, true
	}
	return n.bridgeTable.Get(dstMAC)
}

// NetworkTable is the coarse-locked set of joined networks (spec.md §5).
type NetworkTable struct {
	mu       sync.RWMutex
	networks map[uint64]*Network
}

func newNetworkTable() *NetworkTable {
	return &NetworkTable{networks: make(map[uint64]*Network)}
}

func (t *NetworkTable) Get(nwid uint64) (*Network, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.networks[nwid]
	return n, ok
}

// GetOrCreate returns the existing Network for nwid, or creates and
// inserts one, reporting whether it was newly created.
func (t *NetworkTable) GetOrCreate(nwid uint64, selfAddr Address) (*Network, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.networks[nwid]; ok {
		return n, false
	}
	n := newNetwork(nwid, selfAddr)
	t.networks[nwid] = n
	return n, true
}

func (t *NetworkTable) Remove(nwid uint64) {
	t.mu.Lock()
	delete(t.networks, nwid)
	t.mu.Unlock()
}

func (t *NetworkTable) Each(fn func(nwid uint64, n *Network)) {
	t.mu.RLock()
	snapshot := make(map[uint64]*Network, len(t.networks))
	for k, v := range t.networks {
		snapshot[k] = v
	}
	t.mu.RUnlock()
	for k, v := range snapshot {
		fn(k, v)
	}
}

func (t *NetworkTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.networks)
}
