package types

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashSize is the size of a hash in bytes.
const HashSize = 32

// PublicKeySize is the size of an Ed25519 public key in bytes.
const PublicKeySize = 32

// SignatureSize is the size of an Ed25519 signature in bytes.
const SignatureSize = 64

// Hash is a 32-byte SHA-256 digest.
type Hash [HashSize]byte

// PublicKey is a 32-byte Ed25519 public key.
type PublicKey [PublicKeySize]byte

// Signature is a 64-byte Ed25519 signature.
type Signature [SignatureSize]byte

// HashFromBytes creates a Hash from a byte slice, returning an error on
// length mismatch. Use for untrusted input (network, files).
func HashFromBytes(data []byte) (Hash, error) {
	var h Hash
	if len(data) != HashSize {
		return h, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(data))
	}
	copy(h[:], data)
	return h, nil
}

// PublicKeyFromBytes creates a PublicKey from a byte slice.
func PublicKeyFromBytes(data []byte) (PublicKey, error) {
	var pk PublicKey
	if len(data) != PublicKeySize {
		return pk, fmt.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(data))
	}
	copy(pk[:], data)
	return pk, nil
}

// SignatureFromBytes creates a Signature from a byte slice.
func SignatureFromBytes(data []byte) (Signature, error) {
	var sig Signature
	if len(data) != SignatureSize {
		return sig, fmt.Errorf("signature must be %d bytes, got %d", SignatureSize, len(data))
	}
	copy(sig[:], data)
	return sig, nil
}

// HashBytes computes the SHA-256 hash of data.
func HashBytes(data []byte) Hash {
	return sha256.Sum256(data)
}

// IsHashEmpty returns true if the hash is all zeros.
func IsHashEmpty(h Hash) bool {
	return h == Hash{}
}

// IsPublicKeyEmpty returns true if the public key is all zeros.
func IsPublicKeyEmpty(pk PublicKey) bool {
	return pk == PublicKey{}
}

// HashString returns the hex-encoded hash.
func HashString(h Hash) string {
	return hex.EncodeToString(h[:])
}

// PublicKeyString returns the hex-encoded public key.
func PublicKeyString(pk PublicKey) string {
	return hex.EncodeToString(pk[:])
}

// VerifySignature verifies an Ed25519 signature over message.
func VerifySignature(pubKey PublicKey, message []byte, sig Signature) bool {
	return ed25519.Verify(pubKey[:], message, sig[:])
}
