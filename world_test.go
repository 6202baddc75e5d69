package ovnet

import (
	"net/netip"
	"testing"
)

func sampleWorld(t *testing.T, id uint64, ts Timestamp) *World {
	t.Helper()
	root, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	ep := InetAddr{netip.AddrPortFrom(netip.AddrFrom4([4]byte{198, 51, 100, 1}), DefaultUDPPort)}
	return &World{ID: id, Timestamp: ts, Roots: []Root{{Identity: root, StableEndpoints: []InetAddr{ep}}}}
}

func TestWorldAdoptionRule(t *testing.T) {
	var topo topology
	w1 := sampleWorld(t, 1, 100)
	if !topo.shouldAdopt(w1) {
		t.Fatal("a first World should always be adoptable")
	}
	topo.adopt(w1)

	olderSameID := sampleWorld(t, 1, 50)
	if topo.shouldAdopt(olderSameID) {
		t.Fatal("a World with a lower timestamp must not be adopted")
	}

	newerDifferentID := sampleWorld(t, 2, 999)
	if topo.shouldAdopt(newerDifferentID) {
		t.Fatal("a World with a different ID must not be adopted even if newer")
	}

	newerSameID := sampleWorld(t, 1, 200)
	if !topo.adopt(newerSameID) {
		t.Fatal("a World with matching ID and a strictly greater timestamp must be adopted")
	}
	if topo.current.Timestamp != 200 {
		t.Fatal("expected the adopted World to become current")
	}
}

func TestWorldEncodeDecodeRoundTrip(t *testing.T) {
	w := sampleWorld(t, 42, 123)
	w.Signature = []byte{1, 2, 3, 4}
	blob := encodeWorldBlob(w)
	got, err := decodeWorldBlob(blob)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != w.ID || got.Timestamp != w.Timestamp {
		t.Fatalf("header mismatch: got %+v want %+v", got, w)
	}
	if len(got.Roots) != 1 || got.Roots[0].Identity.Address != w.Roots[0].Identity.Address {
		t.Fatal("root address lost in round trip")
	}
	if len(got.Roots[0].StableEndpoints) != 1 || got.Roots[0].StableEndpoints[0] != w.Roots[0].StableEndpoints[0] {
		t.Fatal("root stable endpoint lost in round trip")
	}
}

func TestSignVerifyWorld(t *testing.T) {
	rootKey, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	w := sampleWorld(t, 7, 1)
	w.Signature = SignWorld(w, rootKey)
	if err := VerifyWorld(w, rootKey.Signing); err != nil {
		t.Fatal(err)
	}
	w.Timestamp = 2
	if err := VerifyWorld(w, rootKey.Signing); err != ErrWorldSignatureInvalid {
		t.Fatalf("expected ErrWorldSignatureInvalid after mutating signed content, got %v", err)
	}
}

func TestDecodeWorldSignedContentRoundTrip(t *testing.T) {
	w := sampleWorld(t, 9, 55)
	got, err := decodeWorldSignedContent(worldSignedContent(w))
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != w.ID || got.Timestamp != w.Timestamp {
		t.Fatalf("header mismatch: got %+v want %+v", got, w)
	}
	if len(got.Roots) != 1 || got.Roots[0].Identity.Address != w.Roots[0].Identity.Address {
		t.Fatal("root identity lost in round trip")
	}
	if len(got.Roots[0].StableEndpoints) != 1 || got.Roots[0].StableEndpoints[0] != w.Roots[0].StableEndpoints[0] {
		t.Fatal("root stable endpoint lost in round trip")
	}
}

func TestOKHelloEmbeddedWorldRoundTrip(t *testing.T) {
	rootKey, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	w := sampleWorld(t, 3, 77)
	w.Signature = SignWorld(w, rootKey)

	encoded := encodeOKHello(okHelloBody{mirroredTimestamp: 1000, versionMajor: 1, newerWorld: w})
	got, err := decodeOKHello(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if got.newerWorld == nil {
		t.Fatal("expected the embedded World to survive decoding")
	}
	if got.newerWorld.ID != w.ID || got.newerWorld.Timestamp != w.Timestamp {
		t.Fatalf("decoded World header mismatch: got %+v want %+v", got.newerWorld, w)
	}
	if err := VerifyWorld(got.newerWorld, rootKey.Signing); err != nil {
		t.Fatalf("decoded World failed signature verification: %v", err)
	}
}

func TestOKHelloWithoutWorldDecodesCleanly(t *testing.T) {
	encoded := encodeOKHello(okHelloBody{mirroredTimestamp: 500})
	got, err := decodeOKHello(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if got.newerWorld != nil {
		t.Fatal("expected no embedded World when none was offered")
	}
}

func TestTopologyIsRootAndRootEndpoints(t *testing.T) {
	var topo topology
	w := sampleWorld(t, 1, 1)
	topo.adopt(w)
	if !topo.isRoot(w.Roots[0].Identity.Address) {
		t.Fatal("expected the World's root address to be recognized as a root")
	}
	if topo.isRoot(AddressFromUint64(0xdeadbeef)) {
		t.Fatal("a random address should not be recognized as a root")
	}
	if len(topo.rootEndpoints()) != 1 {
		t.Fatalf("expected one root endpoint, got %d", len(topo.rootEndpoints()))
	}
}
