package ovnet

import "testing"

// pipeHost is a memHost that forwards WirePacketSend straight into a peer
// Node's ProcessWirePacket, simulating two real Nodes talking over a wire
// without any actual sockets, so HELLO/OK round trips can be driven
// end-to-end in a test.
type pipeHost struct {
	*memHost
	localAddr  InetAddr
	remoteAddr InetAddr
	peer       *Node
	now        Timestamp
}

func newPipeHost(local, remote InetAddr) *pipeHost {
	return &pipeHost{memHost: newMemHost(), localAddr: local, remoteAddr: remote}
}

func (h *pipeHost) WirePacketSend(local, remote InetAddr, data []byte) error {
	_ = h.memHost.WirePacketSend(local, remote, data)
	if h.peer != nil {
		h.peer.ProcessWirePacket(h.now, h.remoteAddr, h.localAddr, data)
	}
	return nil
}

// TestHelloRoundTripEstablishesPeersBothWays drives spec.md §8 scenario 1's
// cold boot handshake between two independent Nodes with no prior Peer
// record of each other: A bootstraps to B purely from B's entry in a World
// roster installed directly (unsigned) on A, and the HELLO/OK(HELLO) round
// trip must leave both sides
// with a registered, authenticated Peer for the other.
func TestHelloRoundTripEstablishesPeersBothWays(t *testing.T) {
	addrA := mustRemote(t, 1)
	addrB := mustRemote(t, 2)

	hostA := newPipeHost(addrA, addrB)
	nodeA, code := NewNode(hostA)
	if code != ResultOK {
		t.Fatalf("NewNode(A) failed: %v", code)
	}
	hostB := newPipeHost(addrB, addrA)
	nodeB, code := NewNode(hostB)
	if code != ResultOK {
		t.Fatalf("NewNode(B) failed: %v", code)
	}
	hostA.peer, hostB.peer = nodeB, nodeA
	hostA.now, hostB.now = 1000, 1000

	rootIdentity := &Identity{Address: nodeB.identity.Address, Agreement: nodeB.identity.Agreement, Signing: nodeB.identity.Signing}
	nodeA.mu.Lock()
	nodeA.topo.current = &World{ID: 1, Timestamp: 1, Roots: []Root{{Identity: rootIdentity, StableEndpoints: []InetAddr{addrB}}}}
	nodeA.mu.Unlock()

	if _, code := nodeA.ProcessBackgroundTasks(1000); code != ResultOK {
		t.Fatalf("ProcessBackgroundTasks(A) failed: %v", code)
	}

	if len(hostA.sent) == 0 {
		t.Fatal("expected A to have sent an initial HELLO to B")
	}

	peerOfA, ok := nodeA.peers.Get(nodeB.identity.Address)
	if !ok {
		t.Fatal("expected A to have registered B as a peer before sending its first HELLO")
	}
	peerOfB, ok := nodeB.peers.Get(nodeA.identity.Address)
	if !ok {
		t.Fatal("expected B to have authenticated A's first HELLO and registered A as a peer")
	}
	if peerOfB.Identity.Address != nodeA.identity.Address {
		t.Fatalf("B's peer record for A has the wrong address: %v", peerOfB.Identity.Address)
	}

	lastReceive, _, _, _ := peerOfA.snapshotTimes()
	if lastReceive == 0 {
		t.Fatal("expected A to have received and authenticated B's OK(HELLO) reply")
	}
}
