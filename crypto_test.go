package ovnet

import "testing"

func TestSalsa2012KeyStreamDeterministic(t *testing.T) {
	var key [32]byte
	var nonce [8]byte
	for i := range key {
		key[i] = byte(i)
	}
	nonce[0] = 7

	out1 := make([]byte, 128)
	out2 := make([]byte, 128)
	salsa2012KeyStream(out1, &key, &nonce)
	salsa2012KeyStream(out2, &key, &nonce)
	if string(out1) != string(out2) {
		t.Fatal("expected the keystream to be a pure function of key and nonce")
	}

	var otherNonce [8]byte
	otherNonce[0] = 8
	out3 := make([]byte, 128)
	salsa2012KeyStream(out3, &key, &otherNonce)
	if string(out1) == string(out3) {
		t.Fatal("expected different nonces to produce different keystreams")
	}
}

func TestPoly1305TagVerify(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i * 3)
	}
	msg := []byte("authenticate this message")
	tag := poly1305Tag(&key, msg)
	if !poly1305Verify(&key, msg, tag[:]) {
		t.Fatal("expected a freshly computed tag to verify")
	}
	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0xff
	if poly1305Verify(&key, tampered, tag[:]) {
		t.Fatal("expected verification to fail against a tampered message")
	}
}

func TestIdentityAgreeIsSymmetric(t *testing.T) {
	a, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	sharedA, err := a.agree(b)
	if err != nil {
		t.Fatal(err)
	}
	aPublicOnly := &Identity{Address: a.Address, Agreement: a.Agreement, Signing: a.Signing}
	sharedB, err := b.agree(aPublicOnly)
	if err != nil {
		t.Fatal(err)
	}
	if sharedA != sharedB {
		t.Fatal("ECDH agreement must produce the same shared secret on both sides")
	}
}
