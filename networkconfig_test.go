package ovnet

import (
	"net/netip"
	"testing"
)

func TestCOMCompatibleWithinDelta(t *testing.T) {
	a := &CertificateOfMembership{Qualifiers: []COMQualifier{{ID: 1, Value: 100, MaxDelta: 10}}}
	b := &CertificateOfMembership{Qualifiers: []COMQualifier{{ID: 1, Value: 105, MaxDelta: 10}}}
	if !a.CompatibleWith(b) {
		t.Fatal("expected certificates within the smaller maxDelta to be compatible")
	}
}

func TestCOMIncompatibleBeyondDelta(t *testing.T) {
	a := &CertificateOfMembership{Qualifiers: []COMQualifier{{ID: 1, Value: 100, MaxDelta: 10}}}
	b := &CertificateOfMembership{Qualifiers: []COMQualifier{{ID: 1, Value: 200, MaxDelta: 10}}}
	if a.CompatibleWith(b) {
		t.Fatal("expected certificates far outside maxDelta to be incompatible")
	}
}

func TestCOMUsesSmallerMaxDelta(t *testing.T) {
	a := &CertificateOfMembership{Qualifiers: []COMQualifier{{ID: 1, Value: 100, MaxDelta: 50}}}
	b := &CertificateOfMembership{Qualifiers: []COMQualifier{{ID: 1, Value: 130, MaxDelta: 10}}}
	if a.CompatibleWith(b) {
		t.Fatal("expected the smaller of the two sides' maxDelta to govern compatibility")
	}
}

func TestCOMIgnoresUnsharedQualifiers(t *testing.T) {
	a := &CertificateOfMembership{Qualifiers: []COMQualifier{{ID: 1, Value: 100, MaxDelta: 0}}}
	b := &CertificateOfMembership{Qualifiers: []COMQualifier{{ID: 2, Value: 999, MaxDelta: 0}}}
	if !a.CompatibleWith(b) {
		t.Fatal("qualifiers present on only one side should not affect compatibility")
	}
}

func TestSignVerifyCOM(t *testing.T) {
	controller, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	com := &CertificateOfMembership{NetworkID: 1, Timestamp: 1, Revision: 1, Issuer: controller.Address}
	com.Signature = SignCOM(com, controller)
	if err := VerifyCOM(com, controller.Signing); err != nil {
		t.Fatal(err)
	}
	com.Revision = 2
	if err := VerifyCOM(com, controller.Signing); err != ErrCOMSignatureInvalid {
		t.Fatalf("expected signature verification to fail after mutating signed content, got %v", err)
	}
}

func TestNetworkConfigRefreshTailRoundTrip(t *testing.T) {
	controller, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	cfg := &NetworkConfig{
		NetworkID:      0x0102030405060708,
		Revision:       7,
		Name:           "office",
		Type:           NetworkPrivate,
		MTU:            2800,
		MulticastLimit: 32,
		AssignedAddresses: []AssignedAddress{
			{Addr: InetAddr{netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 1, 2, 3}), 0)}, PrefixBits: 24},
		},
	}
	cfg.Signature = SignNetworkConfig(cfg, controller)

	refresh := networkConfigRefreshBody{nwid: cfg.NetworkID, status: NetworkOK, config: cfg}
	encoded := encodeNetworkConfigRefresh(refresh)

	nwid, status, rest, err := decodeNetworkConfigRefreshStatus(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if nwid != cfg.NetworkID || status != NetworkOK {
		t.Fatalf("header mismatch: got nwid=%x status=%v", nwid, status)
	}

	got, err := decodeNetworkConfigTail(nwid, rest, controller.Signing)
	if err != nil {
		t.Fatal(err)
	}
	if got.Revision != cfg.Revision || got.Name != cfg.Name || got.MTU != cfg.MTU {
		t.Fatalf("field mismatch: got %+v want %+v", got, cfg)
	}
	if len(got.AssignedAddresses) != 1 || got.AssignedAddresses[0].PrefixBits != 24 {
		t.Fatalf("assigned address lost in round trip: got %+v", got.AssignedAddresses)
	}
}

func TestNetworkConfigRefreshTailRejectsForgedSignature(t *testing.T) {
	controller, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	impostor, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	cfg := &NetworkConfig{NetworkID: 1, Revision: 1, Name: "x", MTU: 1500}
	cfg.Signature = SignNetworkConfig(cfg, impostor)

	encoded := encodeNetworkConfigRefresh(networkConfigRefreshBody{nwid: 1, status: NetworkOK, config: cfg})
	_, _, rest, err := decodeNetworkConfigRefreshStatus(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := decodeNetworkConfigTail(1, rest, controller.Signing); err != ErrNetworkConfigSignatureInvalid {
		t.Fatalf("expected ErrNetworkConfigSignatureInvalid for a config signed by the wrong key, got %v", err)
	}
}

func TestSignVerifyNetworkConfig(t *testing.T) {
	controller, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	cfg := &NetworkConfig{NetworkID: 1, Revision: 1, Name: "test-net", Type: NetworkPrivate, MTU: 2800}
	cfg.Signature = SignNetworkConfig(cfg, controller)
	if !VerifyNetworkConfig(cfg, controller.Signing) {
		t.Fatal("expected a freshly signed config to verify")
	}
	cfg.Revision = 2
	if VerifyNetworkConfig(cfg, controller.Signing) {
		t.Fatal("expected verification to fail after mutating signed content")
	}
}
