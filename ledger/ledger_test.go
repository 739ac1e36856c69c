package ledger

import (
	"errors"
	"math"
	"testing"

	"github.com/blockberries/ledgerberry/engine"
	"github.com/blockberries/ledgerberry/types"
)

func makeTestKey(b byte) types.PublicKey {
	var pk types.PublicKey
	pk[0] = b
	return pk
}

func makeTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := New(map[types.PublicKey]float64{
		makeTestKey(1): 600000,
		makeTestKey(2): 400000,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func makeTestTransfer(from, to byte, amount float64, nonce uint64) *types.Transaction {
	return &types.Transaction{
		From:   makeTestKey(from),
		To:     makeTestKey(to),
		Amount: amount,
		Nonce:  nonce,
	}
}

// TestNewRejectsNegativeGenesis verifies a negative genesis balance is
// refused
func TestNewRejectsNegativeGenesis(t *testing.T) {
	_, err := New(map[types.PublicKey]float64{makeTestKey(1): -5})
	if !errors.Is(err, ErrNegativeBalance) {
		t.Errorf("New = %v, want ErrNegativeBalance", err)
	}
}

// TestTransferConservesSupply verifies internal transfers never change
// the total supply
func TestTransferConservesSupply(t *testing.T) {
	l := makeTestLedger(t)
	before := l.TotalSupply()

	if err := l.ApplyConservedTransfer(makeTestTransfer(1, 2, 1500, 1)); err != nil {
		t.Fatalf("ApplyConservedTransfer: %v", err)
	}
	if err := l.ApplyConservedTransfer(makeTestTransfer(2, 3, 250, 1)); err != nil {
		t.Fatalf("ApplyConservedTransfer: %v", err)
	}

	if got := l.TotalSupply(); got != before {
		t.Errorf("supply = %g, want %g", got, before)
	}
	if got := l.GetBalance(makeTestKey(1)); got != 598500 {
		t.Errorf("sender balance = %g, want 598500", got)
	}
	if got := l.GetBalance(makeTestKey(3)); got != 250 {
		t.Errorf("new account balance = %g, want 250", got)
	}
}

// TestTransferInsufficientFunds verifies a transfer cannot create a
// negative balance
func TestTransferInsufficientFunds(t *testing.T) {
	l := makeTestLedger(t)

	err := l.ApplyConservedTransfer(makeTestTransfer(2, 1, 400001, 1))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("ApplyConservedTransfer = %v, want ErrInsufficientFunds", err)
	}
	if got := l.GetBalance(makeTestKey(2)); got != 400000 {
		t.Errorf("balance after refused transfer = %g, want 400000", got)
	}
}

// TestTransferNonceWatermark verifies a reused or regressed nonce is
// refused
func TestTransferNonceWatermark(t *testing.T) {
	l := makeTestLedger(t)

	if err := l.ApplyConservedTransfer(makeTestTransfer(1, 2, 10, 5)); err != nil {
		t.Fatalf("ApplyConservedTransfer: %v", err)
	}
	if err := l.ApplyConservedTransfer(makeTestTransfer(1, 2, 10, 5)); !errors.Is(err, ErrStaleNonce) {
		t.Errorf("reused nonce = %v, want ErrStaleNonce", err)
	}
	if err := l.ApplyConservedTransfer(makeTestTransfer(1, 2, 10, 3)); !errors.Is(err, ErrStaleNonce) {
		t.Errorf("regressed nonce = %v, want ErrStaleNonce", err)
	}
	if err := l.ApplyConservedTransfer(makeTestTransfer(1, 2, 10, 6)); err != nil {
		t.Errorf("next nonce = %v, want nil", err)
	}
}

// TestDebitCreditAdjustSupply verifies the cross-shard halves move the
// local supply with the balance
func TestDebitCreditAdjustSupply(t *testing.T) {
	l := makeTestLedger(t)

	if err := l.Debit(makeTestKey(1), 100000); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if got := l.TotalSupply(); got != 900000 {
		t.Errorf("supply after debit = %g, want 900000", got)
	}

	if err := l.Credit(makeTestKey(3), 100000); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if got := l.TotalSupply(); got != 1000000 {
		t.Errorf("supply after credit = %g, want 1000000", got)
	}
	if !l.VerifyConservation(l.Snapshot()) {
		t.Error("ledger should verify after debit and credit")
	}
}

// TestDebitInsufficientFunds verifies an outbound debit cannot overdraw
func TestDebitInsufficientFunds(t *testing.T) {
	l := makeTestLedger(t)
	if err := l.Debit(makeTestKey(2), 400001); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("Debit = %v, want ErrInsufficientFunds", err)
	}
}

// TestStateHashTracksState verifies the canonical hash is stable for
// identical state and changes with it
func TestStateHashTracksState(t *testing.T) {
	l1 := makeTestLedger(t)
	l2 := makeTestLedger(t)

	if l1.CurrentStateHash() != l2.CurrentStateHash() {
		t.Error("identical ledgers should hash identically")
	}

	h := l1.CurrentStateHash()
	if err := l1.ApplyConservedTransfer(makeTestTransfer(1, 2, 10, 1)); err != nil {
		t.Fatalf("ApplyConservedTransfer: %v", err)
	}
	if l1.CurrentStateHash() == h {
		t.Error("state hash should change after a transfer")
	}

	// The same transfer brings the other ledger to the same state.
	if err := l2.ApplyConservedTransfer(makeTestTransfer(1, 2, 10, 1)); err != nil {
		t.Fatalf("ApplyConservedTransfer: %v", err)
	}
	if l1.CurrentStateHash() != l2.CurrentStateHash() {
		t.Error("converged ledgers should hash identically")
	}
}

// TestVerifyConservationDetectsViolations verifies inflated supply and
// negative balances fail verification
func TestVerifyConservationDetectsViolations(t *testing.T) {
	l := makeTestLedger(t)

	snap := l.Snapshot()
	if !l.VerifyConservation(snap) {
		t.Fatal("clean snapshot should verify")
	}

	inflated := l.Snapshot()
	inflated.TotalSupply = 1000100
	if l.VerifyConservation(inflated) {
		t.Error("snapshot with inflated supply should not verify")
	}

	negative := l.Snapshot()
	negative.Balances[makeTestKey(1)] = -1
	negative.TotalSupply = negative.TotalSupply - 600001
	if l.VerifyConservation(negative) {
		t.Error("snapshot with negative balance should not verify")
	}

	if l.VerifyConservation(nil) {
		t.Error("nil snapshot should not verify")
	}
}

// TestSnapshotIsDetached verifies mutating a snapshot leaves the ledger
// untouched
func TestSnapshotIsDetached(t *testing.T) {
	l := makeTestLedger(t)

	snap := l.Snapshot()
	snap.Balances[makeTestKey(1)] = 0

	if got := l.GetBalance(makeTestKey(1)); got != 600000 {
		t.Errorf("ledger balance = %g, want 600000", got)
	}
}

// TestDeltaSumVanishesForConservingTransition verifies the before/after
// delta of internal transfers is zero within tolerance
func TestDeltaSumVanishesForConservingTransition(t *testing.T) {
	l := makeTestLedger(t)
	before := l.Snapshot()

	for i := uint64(1); i <= 10; i++ {
		if err := l.ApplyConservedTransfer(makeTestTransfer(1, 2, 0.1, i)); err != nil {
			t.Fatalf("transfer %d: %v", i, err)
		}
	}
	after := l.Snapshot()

	if delta := engine.DeltaSum(before, after); math.Abs(delta) >= engine.ValidateTolerance {
		t.Errorf("delta sum = %g, want |delta| < %g", delta, engine.ValidateTolerance)
	}
}
