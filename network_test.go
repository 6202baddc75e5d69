package ovnet

import "testing"

func TestApplyConfigRevisionMonotonicity(t *testing.T) {
	nw := newNetwork(1, AddressFromUint64(1))
	if !nw.applyConfig(&NetworkConfig{NetworkID: 1, Revision: 5, Enabled: true}) {
		t.Fatal("first config should always be accepted")
	}
	if nw.applyConfig(&NetworkConfig{NetworkID: 1, Revision: 3, Enabled: true}) {
		t.Fatal("a strictly lower revision must be rejected")
	}
	if nw.Config().Revision != 5 {
		t.Fatal("rejected config must not replace the installed one")
	}
	if !nw.applyConfig(&NetworkConfig{NetworkID: 1, Revision: 5, Enabled: true}) {
		t.Fatal("an equal revision should be accepted")
	}
	if !nw.applyConfig(&NetworkConfig{NetworkID: 1, Revision: 9, Enabled: true}) {
		t.Fatal("a higher revision should be accepted")
	}
	if nw.Status() != NetworkOK {
		t.Fatalf("expected network status OK after a good config, got %v", nw.Status())
	}
}

func TestAdmitInboundFrame(t *testing.T) {
	self := AddressFromUint64(1)
	nw := newNetwork(42, self)
	src := AddressFromUint64(2)
	srcMAC := macFromNetwork(42, src)

	if nw.admitInboundFrame(src, srcMAC, nil, nil) {
		t.Fatal("frames must be rejected before the network has a config")
	}

	nw.applyConfig(&NetworkConfig{NetworkID: 42, Revision: 1, Type: NetworkPublic, Enabled: true, BridgeAllowed: false})
	if !nw.admitInboundFrame(src, srcMAC, nil, nil) {
		t.Fatal("a frame whose MAC matches the sender's derived MAC must be admitted")
	}

	foreignMAC := MAC{0xfe, 1, 2, 3, 4, 5}
	if nw.admitInboundFrame(src, foreignMAC, nil, nil) {
		t.Fatal("a mismatched MAC must be rejected when bridging is disallowed")
	}

	nw.applyConfig(&NetworkConfig{NetworkID: 42, Revision: 2, Type: NetworkPublic, Enabled: true, BridgeAllowed: true})
	if !nw.admitInboundFrame(src, foreignMAC, nil, nil) {
		t.Fatal("a mismatched MAC must be admitted once bridging is allowed")
	}
}

func TestAdmitInboundFramePrivateRequiresCompatibleCOM(t *testing.T) {
	controller, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	self := AddressFromUint64(1)
	nw := newNetwork(42, self)
	src := AddressFromUint64(2)
	srcMAC := macFromNetwork(42, src)

	ourCOM := &CertificateOfMembership{NetworkID: 42, Revision: 1, Qualifiers: []COMQualifier{{ID: 0, Value: 1000, MaxDelta: 100}}, Issuer: controller.Address}
	ourCOM.Signature = SignCOM(ourCOM, controller)
	nw.applyConfig(&NetworkConfig{NetworkID: 42, Revision: 1, Type: NetworkPrivate, Enabled: true, COM: ourCOM})

	if nw.admitInboundFrame(src, srcMAC, nil, controller.Signing) {
		t.Fatal("a private network frame with no presented COM must be rejected")
	}

	farCOM := &CertificateOfMembership{NetworkID: 42, Revision: 1, Qualifiers: []COMQualifier{{ID: 0, Value: 5000, MaxDelta: 100}}, Issuer: controller.Address}
	farCOM.Signature = SignCOM(farCOM, controller)
	if nw.admitInboundFrame(src, srcMAC, farCOM, controller.Signing) {
		t.Fatal("a COM outside the qualifier's maxDelta must be rejected")
	}

	nearCOM := &CertificateOfMembership{NetworkID: 42, Revision: 1, Qualifiers: []COMQualifier{{ID: 0, Value: 1050, MaxDelta: 100}}, Issuer: controller.Address}
	nearCOM.Signature = SignCOM(nearCOM, controller)
	if !nw.admitInboundFrame(src, srcMAC, nearCOM, controller.Signing) {
		t.Fatal("a COM within the qualifier's maxDelta, correctly signed, must be admitted")
	}

	other, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	forged := &CertificateOfMembership{NetworkID: 42, Revision: 1, Qualifiers: nearCOM.Qualifiers, Issuer: other.Address}
	forged.Signature = SignCOM(forged, other)
	if nw.admitInboundFrame(src, srcMAC, forged, controller.Signing) {
		t.Fatal("a COM not signed by the controller's key must be rejected")
	}
}

func TestResolveDestinationPrefersDerivedThenBridgeTable(t *testing.T) {
	self := AddressFromUint64(1)
	nw := newNetwork(7, self)
	other := AddressFromUint64(5)
	otherMAC := macFromNetwork(7, other)

	selfAddrSpace := func(m MAC) (Address, bool) { return addressFromNetworkMAC(7, m) }

	got, ok := nw.resolveDestination(otherMAC, selfAddrSpace)
	if !ok || got != other {
		t.Fatalf("expected resolveDestination to decode a ZT-derived MAC directly, got %v ok=%v", got, ok)
	}

	bridgedMAC := MAC{0x02, 9, 9, 9, 9, 9}
	if _, ok := nw.resolveDestination(bridgedMAC, selfAddrSpace); ok {
		t.Fatal("an unlearned foreign MAC should not resolve")
	}
	nw.learnBridge(bridgedMAC, other)
	got, ok = nw.resolveDestination(bridgedMAC, selfAddrSpace)
	if !ok || got != other {
		t.Fatalf("expected a learned bridge MAC to resolve to the address that sent it, got %v ok=%v", got, ok)
	}
}

func TestNetworkTableGetOrCreate(t *testing.T) {
	tbl := newNetworkTable()
	nw1, created := tbl.GetOrCreate(1, AddressFromUint64(1))
	if !created {
		t.Fatal("expected the first GetOrCreate to report created=true")
	}
	nw2, created := tbl.GetOrCreate(1, AddressFromUint64(1))
	if created {
		t.Fatal("expected the second GetOrCreate for the same nwid to report created=false")
	}
	if nw1 != nw2 {
		t.Fatal("expected GetOrCreate to return the same Network instance for a repeated nwid")
	}
	if tbl.Len() != 1 {
		t.Fatalf("expected exactly one network in the table, got %d", tbl.Len())
	}
	tbl.Remove(1)
	if tbl.Len() != 0 {
		t.Fatal("expected the table to be empty after Remove")
	}
}
