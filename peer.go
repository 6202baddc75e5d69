package ovnet

import (
	"sync"
	"time"
)

// PeerRole is a tagged variant distinguishing routing policy, not shape,
// per spec.md §9's "polymorphism over peer roles" design note.
type PeerRole int

const (
	RoleLeaf  PeerRole = 0
	RoleRelay PeerRole = 1
	RoleRoot  PeerRole = 2
)

func (r PeerRole) String() string {
	switch r {
	case RoleLeaf:
		return "LEAF"
	case RoleRelay:
		return "RELAY"
	case RoleRoot:
		return "ROOT"
	default:
		return "UNKNOWN"
	}
}

// RemoteVersion is the remote node's reported software version, reinstated
// from the original header's ZT_Peer.versionMajor/Minor/Rev (SPEC_FULL.md §3).
type RemoteVersion struct {
	Major, Minor, Revision int
}

// Peer is per-remote-node state (spec.md §3). All mutable fields are
// guarded by mu, the "finer lock" spec.md §5 calls for; the owning
// PeerTable's coarse RWMutex only protects the address-keyed map itself.
type Peer struct {
	Identity *Identity

	mu                sync.Mutex
	remoteVersion     *RemoteVersion
	paths             []Path // len <= MaxPeerNetworkPaths, index 0 is preferred
	lastReceive       Timestamp
	lastSend          Timestamp
	lastUnicastFrame  Timestamp
	lastMulticastFrame Timestamp
	latencyEWMA       float64
	role              PeerRole
	clusterRedirect   *InetAddr
	lastWhoisSent     Timestamp
}

func newPeer(id *Identity) *Peer {
	return &Peer{Identity: id, role: RoleLeaf}
}

// Role returns the peer's current trust-hierarchy role.
func (p *Peer) Role() PeerRole {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.role
}

// SetRole updates the peer's trust-hierarchy role, e.g. after it is learned
// to be a root from a World (spec.md §3, §4.5).
func (p *Peer) SetRole(r PeerRole) {
	p.mu.Lock()
	p.role = r
	p.mu.Unlock()
}

// Paths returns a snapshot of the peer's current candidate paths, most
// preferred first.
func (p *Peer) Paths() []Path {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Path, len(p.paths))
	copy(out, p.paths)
	return out
}

// PreferredPath returns the peer's best current path, or nil if it has none.
func (p *Peer) PreferredPath() *Path {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.paths) == 0 {
		return nil
	}
	pth := p.paths[0]
	return &pth
}

// observePath records activity on (or adds) the path matching local/remote,
// re-sorts the path list by preference, and enforces the
// MaxPeerNetworkPaths=4 cap by evicting the least-recently-received path
// (spec.md §3's invariant).
func (p *Peer) observePath(local, remote InetAddr, now Timestamp, received bool) *Path {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := pathKey{local: local.String(), remote: remote.String()}
	var found *Path
	for i := range p.paths {
		if p.paths[i].key() == key {
			found = &p.paths[i]
			break
		}
	}
	if found == nil {
		if len(p.paths) >= MaxPeerNetworkPaths {
			p.evictOldestLocked()
		}
		p.paths = append(p.paths, Path{Local: local, Remote: remote})
		found = &p.paths[len(p.paths)-1]
	}
	if received {
		found.LastReceive = now
		found.Active = true
	} else {
		found.LastSend = now
	}
	p.resortLocked()
	return found
}

// evictOldestLocked drops the path with the oldest LastReceive, per
// spec.md §3's "eviction: least-recently-received".
func (p *Peer) evictOldestLocked() {
	if len(p.paths) == 0 {
		return
	}
	oldest := 0
	for i := 1; i < len(p.paths); i++ {
		if p.paths[i].LastReceive < p.paths[oldest].LastReceive {
			oldest = i
		}
	}
	p.paths = append(p.paths[:oldest], p.paths[oldest+1:]...)
}

func (p *Peer) resortLocked() {
	for i := 1; i < len(p.paths); i++ {
		for j := i; j > 0 && p.paths[j].betterThan(&p.paths[j-1]); j-- {
			p.paths[j], p.paths[j-1] = p.paths[j-1], p.paths[j]
		}
	}
	for i := range p.paths {
		p.paths[i].Preferred = i == 0
	}
}

// recordRTT updates the peer's latency EWMA toward the measured round trip
// and marks the path that produced it as preferred-by-RTT (spec.md §4.2,
// §8 scenario 4).
func (p *Peer) recordRTT(local, remote InetAddr, rtt float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	const alpha = 0.3
	if p.latencyEWMA == 0 {
		p.latencyEWMA = rtt
	} else {
		p.latencyEWMA = alpha*rtt + (1-alpha)*p.latencyEWMA
	}
	key := pathKey{local: local.String(), remote: remote.String()}
	for i := range p.paths {
		if p.paths[i].key() == key {
			p.paths[i].rttMillis = rtt
			break
		}
	}
	p.resortLocked()
}

// LatencyEWMA returns the exponentially-weighted moving average round trip
// latency in milliseconds, or 0 if never measured.
func (p *Peer) LatencyEWMA() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latencyEWMA
}

func (p *Peer) touchSend(now Timestamp) {
	p.mu.Lock()
	p.lastSend = now
	p.mu.Unlock()
}

func (p *Peer) touchReceive(now Timestamp, multicast bool) {
	p.mu.Lock()
	p.lastReceive = now
	if multicast {
		p.lastMulticastFrame = now
	} else {
		p.lastUnicastFrame = now
	}
	p.mu.Unlock()
}

func (p *Peer) snapshotTimes() (lastReceive, lastSend, lastUnicast, lastMulticast Timestamp) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReceive, p.lastSend, p.lastUnicastFrame, p.lastMulticastFrame
}

// setRemoteVersion records the peer's advertised software version, learned
// from a HELLO (spec.md §4.4).
func (p *Peer) setRemoteVersion(v RemoteVersion) {
	p.mu.Lock()
	p.remoteVersion = &v
	p.mu.Unlock()
}

// shouldSendWhois reports whether a fresh WHOIS may be sent via this peer,
// enforcing the per-peer rate limit named by spec.md §4.4 ("≈1/s"), and
// records the attempt if so.
func (p *Peer) shouldSendWhois(now Timestamp, limit time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastWhoisSent != 0 && now.Sub(p.lastWhoisSent) < limit {
		return false
	}
	p.lastWhoisSent = now
	return true
}

func (p *Peer) setClusterRedirect(addr *InetAddr) {
	p.mu.Lock()
	p.clusterRedirect = addr
	p.mu.Unlock()
}
