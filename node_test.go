package ovnet

import (
	"sync"
	"testing"
	"time"
)

// memHost is a minimal in-memory Host, in the spirit of core_test.go's
// dummyConn: just enough fake plumbing to drive the entry points under
// test without any real sockets or filesystem.
type memHost struct {
	mu    sync.Mutex
	data  map[string][]byte
	sent  [][]byte
	frames []frameDelivery
	events []EventKind
}

type frameDelivery struct {
	nwid              uint64
	srcMAC, dstMAC    MAC
	etherType, vlanID uint16
	data              []byte
}

func newMemHost() *memHost {
	return &memHost{data: make(map[string][]byte)}
}

func (h *memHost) DataStoreGet(name string) ([]byte, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.data[name]
	return d, ok, nil
}

func (h *memHost) DataStorePut(name string, data []byte, secure bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if data == nil {
		delete(h.data, name)
		return nil
	}
	h.data[name] = append([]byte(nil), data...)
	return nil
}

func (h *memHost) WirePacketSend(local, remote InetAddr, data []byte) error {
	h.mu.Lock()
	h.sent = append(h.sent, append([]byte(nil), data...))
	h.mu.Unlock()
	return nil
}

func (h *memHost) VirtualNetworkFrame(nwid uint64, srcMAC, dstMAC MAC, etherType, vlanID uint16, data []byte) {
	h.mu.Lock()
	h.frames = append(h.frames, frameDelivery{nwid, srcMAC, dstMAC, etherType, vlanID, append([]byte(nil), data...)})
	h.mu.Unlock()
}

func (h *memHost) VirtualNetworkConfig(nwid uint64, op PortConfigOp, config *NetworkConfig) error {
	return nil
}

func (h *memHost) Event(kind EventKind, meta interface{}) {
	h.mu.Lock()
	h.events = append(h.events, kind)
	h.mu.Unlock()
}

func TestNewNodeFiresUpEvent(t *testing.T) {
	host := newMemHost()
	node, code := NewNode(host)
	if code != ResultOK {
		t.Fatalf("NewNode failed: %v", code)
	}
	if len(host.events) != 1 || host.events[0] != EventUp {
		t.Fatalf("expected a single UP event, got %v", host.events)
	}
	if node.Status().Address.IsZero() {
		t.Fatal("expected a generated, non-zero node address")
	}
}

func TestNewNodePersistsIdentityAcrossRestart(t *testing.T) {
	host := newMemHost()
	node1, code := NewNode(host)
	if code != ResultOK {
		t.Fatal(code)
	}
	node2, code := NewNode(host)
	if code != ResultOK {
		t.Fatal(code)
	}
	if node1.Status().Address != node2.Status().Address {
		t.Fatal("expected the second Node using the same host's data store to reuse the persisted identity")
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	host := newMemHost()
	node, _ := NewNode(host)
	if code := node.Join(1, 0x0102030405060708); code != ResultOK {
		t.Fatalf("first Join failed: %v", code)
	}
	if len(node.Networks()) != 1 {
		t.Fatalf("expected one joined network, got %d", len(node.Networks()))
	}
	if code := node.Join(2, 0x0102030405060708); code != ResultOK {
		t.Fatalf("second Join failed: %v", code)
	}
	if len(node.Networks()) != 1 {
		t.Fatalf("expected Join to be idempotent, got %d networks", len(node.Networks()))
	}
}

func TestLeaveUnjoinedNetworkReturnsNotFound(t *testing.T) {
	host := newMemHost()
	node, _ := NewNode(host)
	if code := node.Leave(0xabc); code != ResultErrorNetworkNotFound {
		t.Fatalf("expected ResultErrorNetworkNotFound, got %v", code)
	}
}

func TestMulticastSubscribeRequiresJoinedNetwork(t *testing.T) {
	host := newMemHost()
	node, _ := NewNode(host)
	group := MulticastGroup{MAC: MAC{0x01, 0, 0, 0, 0, 1}}
	if code := node.MulticastSubscribe(1, group); code != ResultErrorNetworkNotFound {
		t.Fatalf("expected ResultErrorNetworkNotFound before Join, got %v", code)
	}
	node.Join(1, 1)
	if code := node.MulticastSubscribe(1, group); code != ResultOK {
		t.Fatalf("expected MulticastSubscribe to succeed after Join, got %v", code)
	}
	nw, _ := node.networks.Get(1)
	if !nw.isSubscribed(group) {
		t.Fatal("expected the group to be recorded as subscribed")
	}
}

func TestProcessVirtualNetworkFrameDropsWhenNetworkNotOK(t *testing.T) {
	host := newMemHost()
	node, _ := NewNode(host)
	node.Join(1, 1)
	// No NETWORK_CONFIG_REFRESH has arrived yet, so the network is still
	// REQUESTING; egress must be silently dropped, not delivered or panicked.
	code := node.ProcessVirtualNetworkFrame(1, 1, MAC{1, 1, 1, 1, 1, 1}, MAC{2, 2, 2, 2, 2, 2}, 0x0800, 0, []byte("payload"))
	if code != ResultOK {
		t.Fatalf("expected ResultOK even when silently dropping, got %v", code)
	}
}

func TestAdoptWorldIfNewerRequiresVerification(t *testing.T) {
	host := newMemHost()
	rootKey, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	node, code := NewNode(host, WithRootVerifyKey(rootKey.Signing))
	if code != ResultOK {
		t.Fatal(code)
	}

	w := sampleWorld(t, 5, 1000)
	w.Signature = SignWorld(w, rootKey)
	node.adoptWorldIfNewer(w)
	if node.topo.current == nil || node.topo.current.ID != 5 {
		t.Fatal("expected a correctly signed World to be adopted")
	}
	if _, found, _ := host.DataStoreGet("world"); !found {
		t.Fatal("expected the adopted World to be persisted to the data store")
	}

	tampered := sampleWorld(t, 5, 2000)
	tampered.Signature = append([]byte(nil), w.Signature...) // signature doesn't match this content
	node.adoptWorldIfNewer(tampered)
	if node.topo.current.Timestamp != 1000 {
		t.Fatal("expected a World with an invalid signature to be rejected, not adopted")
	}
}

func TestHandleRendezvousDefersUntilWhoisResolves(t *testing.T) {
	host := newMemHost()
	node, code := NewNode(host)
	if code != ResultOK {
		t.Fatal(code)
	}

	root := mustIdentity(t)
	rootPeer, err := node.peers.GetOrCreate(&Identity{Address: root.Address, Agreement: root.Agreement, Signing: root.Signing})
	if err != nil {
		t.Fatal(err)
	}
	rootPeer.observePath(InetAddr{}, mustRemote(t, 1), 1, true)
	node.mu.Lock()
	node.topo.current = &World{ID: 1, Timestamp: 1, Roots: []Root{{Identity: root}}}
	node.mu.Unlock()

	unknown := mustIdentity(t)
	endpoint := mustRemote(t, 2)
	rb := rendezvousBody{with: unknown.Address, endpoint: endpoint}
	h := &packetHeader{source: root.Address}
	node.handleRendezvous(1, h, encodeRendezvous(rb))

	if _, ok := node.peers.Get(unknown.Address); ok {
		t.Fatal("a Peer must not be created for an unresolved RENDEZVOUS target")
	}
	node.mu.Lock()
	_, pending := node.pendingRendezvous[unknown.Address]
	node.mu.Unlock()
	if !pending {
		t.Fatal("expected the endpoint to be remembered pending WHOIS resolution")
	}
	if len(host.sent) == 0 {
		t.Fatal("expected a WHOIS to be sent to the root that offered the RENDEZVOUS")
	}

	node.handleWhoisReply(2, unknown.PublicKeyBytes())
	peer, ok := node.peers.Get(unknown.Address)
	if !ok {
		t.Fatal("expected a Peer to be created once WHOIS resolved the Identity")
	}
	if p := peer.PreferredPath(); p == nil || p.Remote != endpoint {
		t.Fatalf("expected the deferred endpoint to be applied to the resolved peer, got %+v", p)
	}
	node.mu.Lock()
	_, stillPending := node.pendingRendezvous[unknown.Address]
	node.mu.Unlock()
	if stillPending {
		t.Fatal("expected the pending entry to be consumed once resolved")
	}
}

func TestProcessVirtualNetworkFrameUnknownNetwork(t *testing.T) {
	host := newMemHost()
	node, _ := NewNode(host)
	code := node.ProcessVirtualNetworkFrame(1, 0xdead, MAC{}, MAC{}, 0, 0, nil)
	if code != ResultErrorNetworkNotFound {
		t.Fatalf("expected ResultErrorNetworkNotFound for an unjoined nwid, got %v", code)
	}
}

// TestProcessBackgroundTasksRepingsOnStalePath confirms ProcessBackgroundTasks
// re-HELLOs a peer once its preferred path's own staleness (Path.Alive
// against the configured path-alive timeout) expires, rather than only ever
// consulting the ping interval.
func TestProcessBackgroundTasksRepingsOnStalePath(t *testing.T) {
	host := newMemHost()
	node, code := NewNode(host, WithPathAliveTimeout(100*time.Millisecond), WithPingInterval(10_000*time.Millisecond))
	if code != ResultOK {
		t.Fatal(code)
	}

	remoteID := mustIdentity(t)
	peer, err := node.peers.GetOrCreate(remoteID)
	if err != nil {
		t.Fatal(err)
	}
	peer.observePath(InetAddr{}, mustRemote(t, 1), 1000, true)

	if _, code := node.ProcessBackgroundTasks(1050); code != ResultOK {
		t.Fatal(code)
	}
	if len(host.sent) != 0 {
		t.Fatalf("expected no HELLO while the path is still within its alive timeout, got %d sent", len(host.sent))
	}

	if _, code := node.ProcessBackgroundTasks(1200); code != ResultOK {
		t.Fatal(code)
	}
	if len(host.sent) == 0 {
		t.Fatal("expected a HELLO once the preferred path exceeded pathAliveTimeout, well short of pingInterval")
	}
}
