package ovnet

import (
	"net/netip"
	"testing"
)

func mustRemote(t *testing.T, n int) InetAddr {
	t.Helper()
	return InetAddr{netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, byte(n + 1)}), uint16(1000+n))}
}

func mustIdentity(t *testing.T) *Identity {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestPeerTableGetOrCreateIdempotent(t *testing.T) {
	tbl := newPeerTable()
	id := mustIdentity(t)
	p1, err := tbl.GetOrCreate(id)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := tbl.GetOrCreate(id)
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Fatal("expected GetOrCreate to return the same Peer for the same identity")
	}
	if tbl.Len() != 1 {
		t.Fatalf("expected one peer in the table, got %d", tbl.Len())
	}
}

func TestPeerTableDetectsIdentityCollision(t *testing.T) {
	tbl := newPeerTable()
	id := mustIdentity(t)
	if _, err := tbl.GetOrCreate(id); err != nil {
		t.Fatal(err)
	}

	colliding := mustIdentity(t)
	colliding.Address = id.Address // forge the same address with a different key

	_, err := tbl.GetOrCreate(colliding)
	if _, ok := err.(IdentityCollisionError); !ok {
		t.Fatalf("expected IdentityCollisionError, got %v", err)
	}
}

func TestPeerPathCapAndEviction(t *testing.T) {
	id := mustIdentity(t)
	p := newPeer(id)
	base := Timestamp(1000)
	for i := 0; i < MaxPeerNetworkPaths+2; i++ {
		remote := mustRemote(t, i)
		p.observePath(InetAddr{}, remote, base+Timestamp(i), true)
	}
	if len(p.Paths()) > MaxPeerNetworkPaths {
		t.Fatalf("expected at most %d paths, got %d", MaxPeerNetworkPaths, len(p.Paths()))
	}
}

func TestPeerPreferredPathPrefersMostRecentlyReceived(t *testing.T) {
	id := mustIdentity(t)
	p := newPeer(id)
	r1 := mustRemote(t, 1)
	r2 := mustRemote(t, 2)
	p.observePath(InetAddr{}, r1, 100, true)
	p.observePath(InetAddr{}, r2, 200, true)
	pref := p.PreferredPath()
	if pref == nil || pref.Remote != r2 {
		t.Fatalf("expected the most recently received path to be preferred, got %+v", pref)
	}
}
