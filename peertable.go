package ovnet

import (
	"sync"
	"time"
)

// IdentityCollisionError is raised when two different public keys claim the
// same 40-bit Address, spec.md §3's "collisions raise a fatal
// identity-collision event" invariant.
type IdentityCollisionError struct {
	Address Address
}

func (e IdentityCollisionError) Error() string {
	return "ovnet: identity collision at address " + e.Address.String()
}

// PeerTable is the coarse-locked, address-keyed directory of known peers
// (spec.md §3, §5: "coarse sync.RWMutex per table"). Per-peer mutable state
// lives behind Peer's own finer mutex.
type PeerTable struct {
	mu    sync.RWMutex
	peers map[Address]*Peer
}

func newPeerTable() *PeerTable {
	return &PeerTable{peers: make(map[Address]*Peer)}
}

// Get returns the peer known at addr, if any.
func (t *PeerTable) Get(addr Address) (*Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[addr]
	return p, ok
}

// GetOrCreate returns the existing peer for id.Address, creating one from id
// if none exists. If a peer already exists at that address with a different
// public key, it returns IdentityCollisionError and the existing peer is
// left untouched: the caller must not let traffic from the colliding
// identity overwrite a peer's trusted key (spec.md §3, §8 scenario "identity
// collision").
func (t *PeerTable) GetOrCreate(id *Identity) (*Peer, error) {
	t.mu.RLock()
	if p, ok := t.peers[id.Address]; ok {
		t.mu.RUnlock()
		if !identityKeysEqual(p.Identity, id) {
			return p, IdentityCollisionError{Address: id.Address}
		}
		return p, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[id.Address]; ok {
		if !identityKeysEqual(p.Identity, id) {
			return p, IdentityCollisionError{Address: id.Address}
		}
		return p, nil
	}
	p := newPeer(id)
	t.peers[id.Address] = p
	return p, nil
}

func identityKeysEqual(a, b *Identity) bool {
	return a.Agreement == b.Agreement && string(a.Signing) == string(b.Signing)
}

// Remove drops addr from the table, e.g. after it is judged permanently
// unreachable.
func (t *PeerTable) Remove(addr Address) {
	t.mu.Lock()
	delete(t.peers, addr)
	t.mu.Unlock()
}

// Len returns the number of known peers.
func (t *PeerTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// Each calls fn for a snapshot of every known peer. fn must not call back
// into the PeerTable.
func (t *PeerTable) Each(fn func(addr Address, p *Peer)) {
	t.mu.RLock()
	snapshot := make(map[Address]*Peer, len(t.peers))
	for k, v := range t.peers {
		snapshot[k] = v
	}
	t.mu.RUnlock()
	for k, v := range snapshot {
		fn(k, v)
	}
}

// AliveCount reports how many peers have at least one path alive as of now.
func (t *PeerTable) AliveCount(now Timestamp, pathAliveTimeout time.Duration) int {
	t.mu.RLock()
	snapshot := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		snapshot = append(snapshot, p)
	}
	t.mu.RUnlock()

	n := 0
	for _, p := range snapshot {
		for _, pth := range p.Paths() {
			if pth.Alive(now, pathAliveTimeout) {
				n++
				break
			}
		}
	}
	return n
}
