package types

import (
	"testing"
)

// TestHashFromBytes verifies construction from exact-size input and
// rejection of everything else
func TestHashFromBytes(t *testing.T) {
	data := make([]byte, HashSize)
	for i := range data {
		data[i] = byte(i)
	}

	h, err := HashFromBytes(data)
	if err != nil {
		t.Fatalf("HashFromBytes: %v", err)
	}
	if h[0] != 0 || h[HashSize-1] != byte(HashSize-1) {
		t.Error("hash bytes mismatch")
	}

	if _, err := HashFromBytes(make([]byte, 16)); err == nil {
		t.Error("short input should be rejected")
	}
}

// TestPublicKeyFromBytes verifies the size check on key construction
func TestPublicKeyFromBytes(t *testing.T) {
	if _, err := PublicKeyFromBytes(make([]byte, PublicKeySize)); err != nil {
		t.Errorf("PublicKeyFromBytes: %v", err)
	}
	if _, err := PublicKeyFromBytes(make([]byte, PublicKeySize+1)); err == nil {
		t.Error("oversized input should be rejected")
	}
}

// TestHashBytesDeterministic verifies hashing is stable and
// content-sensitive
func TestHashBytesDeterministic(t *testing.T) {
	a := HashBytes([]byte("payload"))
	b := HashBytes([]byte("payload"))
	c := HashBytes([]byte("payloae"))

	if a != b {
		t.Error("equal input should hash equal")
	}
	if a == c {
		t.Error("different input should hash different")
	}
}

// TestEmptyChecks verifies the zero-value detectors
func TestEmptyChecks(t *testing.T) {
	if !IsHashEmpty(Hash{}) {
		t.Error("zero hash should be empty")
	}
	if IsHashEmpty(HashBytes([]byte("x"))) {
		t.Error("real hash should not be empty")
	}
	if !IsPublicKeyEmpty(PublicKey{}) {
		t.Error("zero key should be empty")
	}
	if IsPublicKeyEmpty(PublicKey{0x01}) {
		t.Error("nonzero key should not be empty")
	}
}
