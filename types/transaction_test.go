package types

import (
	"errors"
	"testing"
)

func makeTestTransaction() *Transaction {
	return &Transaction{
		From:      PublicKey{0x01},
		To:        PublicKey{0x02},
		Amount:    42.5,
		Nonce:     7,
		Timestamp: 1700000000,
	}
}

// TestTransactionValidateBasic verifies the stateless checks
func TestTransactionValidateBasic(t *testing.T) {
	if err := makeTestTransaction().ValidateBasic(); err != nil {
		t.Fatalf("ValidateBasic: %v", err)
	}

	empty := makeTestTransaction()
	empty.From = PublicKey{}
	if err := empty.ValidateBasic(); !errors.Is(err, ErrEmptySender) {
		t.Errorf("empty sender = %v, want ErrEmptySender", err)
	}

	zero := makeTestTransaction()
	zero.Amount = 0
	if err := zero.ValidateBasic(); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amount = %v, want ErrInvalidAmount", err)
	}

	negative := makeTestTransaction()
	negative.Amount = -1
	if err := negative.ValidateBasic(); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative amount = %v, want ErrInvalidAmount", err)
	}

	self := makeTestTransaction()
	self.To = self.From
	if err := self.ValidateBasic(); !errors.Is(err, ErrSelfTransfer) {
		t.Errorf("self transfer = %v, want ErrSelfTransfer", err)
	}
}

// TestContentHashIgnoresTimestamp verifies a resend with a fresh
// timestamp or signature keeps its identity
func TestContentHashIgnoresTimestamp(t *testing.T) {
	a := makeTestTransaction()
	b := makeTestTransaction()
	b.Timestamp = a.Timestamp + 60
	b.Signature = Signature{0xFF}

	if a.ContentHash() != b.ContentHash() {
		t.Error("timestamp and signature should not affect the content hash")
	}

	c := makeTestTransaction()
	c.Nonce++
	if a.ContentHash() == c.ContentHash() {
		t.Error("a different nonce should change the content hash")
	}
}
