package types

import (
	"encoding/binary"
	"errors"
	"math"
)

// Errors
var (
	ErrInvalidAmount    = errors.New("invalid transfer amount")
	ErrSelfTransfer     = errors.New("transfer to self")
	ErrEmptySender      = errors.New("empty sender public key")
	ErrInvalidTxSig     = errors.New("invalid transaction signature")
)

// Transaction is a signed transfer of value between two accounts.
// (From, Nonce) identifies the sender's intent; two transactions with the
// same (From, Nonce) but different content are in conflict and exactly one
// may execute.
type Transaction struct {
	From      PublicKey `cramberry:"1"`
	To        PublicKey `cramberry:"2"`
	Amount    float64   `cramberry:"3"`
	Nonce     uint64    `cramberry:"4"`
	Timestamp int64     `cramberry:"5"`
	Signature Signature `cramberry:"6"`
}

// ValidateBasic performs stateless validation of a transaction.
func (tx *Transaction) ValidateBasic() error {
	if IsPublicKeyEmpty(tx.From) {
		return ErrEmptySender
	}
	if tx.Amount <= 0 || math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) {
		return ErrInvalidAmount
	}
	if tx.From == tx.To {
		return ErrSelfTransfer
	}
	return nil
}

// ContentHash returns the identity of a transaction for conflict detection
// and deterministic ordering: SHA-256 over (From, To, Amount, Nonce) with
// fixed-width encoding. The timestamp and signature are deliberately
// excluded so that a resend of the same transfer hashes identically.
func (tx *Transaction) ContentHash() Hash {
	buf := make([]byte, 0, 2*PublicKeySize+16)
	buf = append(buf, tx.From[:]...)
	buf = append(buf, tx.To[:]...)
	buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(tx.Amount))
	buf = binary.BigEndian.AppendUint64(buf, tx.Nonce)
	return HashBytes(buf)
}

// TxSignBytes returns the canonical bytes a sender signs for a transaction.
func TxSignBytes(chainID string, tx *Transaction) []byte {
	buf := make([]byte, 0, len(chainID)+2*PublicKeySize+24)
	buf = append(buf, []byte(chainID)...)
	buf = append(buf, tx.From[:]...)
	buf = append(buf, tx.To[:]...)
	buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(tx.Amount))
	buf = binary.BigEndian.AppendUint64(buf, tx.Nonce)
	buf = binary.BigEndian.AppendUint64(buf, uint64(tx.Timestamp))
	return buf
}

// VerifyTxSignature verifies the sender's signature on a transaction.
func VerifyTxSignature(chainID string, tx *Transaction) error {
	if !VerifySignature(tx.From, TxSignBytes(chainID, tx), tx.Signature) {
		return ErrInvalidTxSig
	}
	return nil
}
