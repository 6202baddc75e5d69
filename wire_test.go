package ovnet

import "testing"

func TestPacketHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := &packetHeader{
		packetID:   0x1122334455667788,
		dest:       AddressFromUint64(1),
		source:     AddressFromUint64(2),
		hops:       3,
		cipher:     cipherSalsa2012Poly1305,
		fragmented: true,
	}
	copy(h.mac[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	encoded := h.encodeHeader(nil, false)
	got, rest, err := decodeHeader(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no leftover bytes, got %d", len(rest))
	}
	if got.packetID != h.packetID || got.dest != h.dest || got.source != h.source {
		t.Fatalf("header fields mismatch: got %+v want %+v", got, h)
	}
	if got.hops != h.hops || got.cipher != h.cipher || got.fragmented != h.fragmented {
		t.Fatalf("flags byte round trip mismatch: got %+v want %+v", got, h)
	}
	if got.mac != h.mac {
		t.Fatal("MAC field lost in round trip")
	}
}

func TestSealAndAuthenticateRoundTrip(t *testing.T) {
	var sharedKey [32]byte
	for i := range sharedKey {
		sharedKey[i] = byte(i + 1)
	}
	h := &packetHeader{packetID: 42, dest: AddressFromUint64(9), source: AddressFromUint64(1), cipher: cipherSalsa2012Poly1305}
	payload := []byte("hello ovnet")

	cipherText := sealPacket(h, &sharedKey, payload)
	if string(cipherText) == string(payload) {
		t.Fatal("expected sealPacket to actually encrypt the payload under cipherSalsa2012Poly1305")
	}

	plain, err := authenticateAndDecrypt(h, &sharedKey, cipherText)
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != string(payload) {
		t.Fatalf("decrypted payload mismatch: got %q want %q", plain, payload)
	}
}

func TestAuthenticateRejectsWrongKey(t *testing.T) {
	var key1, key2 [32]byte
	key2[0] = 1
	h := &packetHeader{packetID: 1, dest: AddressFromUint64(1), source: AddressFromUint64(2), cipher: cipherSalsa2012Poly1305}
	cipherText := sealPacket(h, &key1, []byte("payload"))
	if _, err := authenticateAndDecrypt(h, &key2, cipherText); err != (AuthError{}) {
		t.Fatalf("expected AuthError under the wrong key, got %v", err)
	}
}

func TestAuthenticateRejectsMutatedCiphertext(t *testing.T) {
	var key [32]byte
	h := &packetHeader{packetID: 1, dest: AddressFromUint64(1), source: AddressFromUint64(2), cipher: cipherSalsa2012Poly1305}
	cipherText := sealPacket(h, &key, []byte("payload"))
	cipherText[0] ^= 0xff
	if _, err := authenticateAndDecrypt(h, &key, cipherText); err != (AuthError{}) {
		t.Fatalf("expected AuthError for tampered ciphertext, got %v", err)
	}
}

func TestCipherNoneStillAuthenticates(t *testing.T) {
	var key [32]byte
	h := &packetHeader{packetID: 1, dest: AddressFromUint64(1), source: AddressFromUint64(2), cipher: cipherNone}
	payload := []byte("hello")
	cipherText := sealPacket(h, &key, payload)
	if string(cipherText) != string(payload) {
		t.Fatal("cipherNone must send the payload in the clear")
	}
	plain, err := authenticateAndDecrypt(h, &key, cipherText)
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != string(payload) {
		t.Fatal("cipherNone round trip should return the same plaintext")
	}
	h.mac[0] ^= 0xff
	if _, err := authenticateAndDecrypt(h, &key, cipherText); err != (AuthError{}) {
		t.Fatal("cipherNone must still be authenticated: a corrupted MAC must fail")
	}
}
