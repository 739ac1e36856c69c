package engine

import (
	"math"

	"github.com/blockberries/ledgerberry/types"
)

// LedgerSnapshot is an immutable view of the ledger at one state hash.
// Proposals are built from a before/after pair of snapshots.
type LedgerSnapshot struct {
	Balances    map[types.PublicKey]float64
	TotalSupply float64
	StateHash   types.Hash
}

// Ledger is the account store the engine validates proposals against.
// Implementations must be safe for concurrent use; the engine calls into
// the ledger while holding its own lock.
type Ledger interface {
	// CurrentStateHash returns the hash of the latest committed state.
	CurrentStateHash() types.Hash

	// TotalSupply returns the committed total supply.
	TotalSupply() float64

	// VerifyConservation reports whether the snapshot is internally
	// consistent: balances sum to TotalSupply within FinalizeTolerance
	// and no balance is negative.
	VerifyConservation(snap *LedgerSnapshot) bool

	// Snapshot captures the current committed state.
	Snapshot() *LedgerSnapshot
}

// DeltaSum computes the net balance change between two snapshots over the
// union of their accounts. A conserving transition yields zero up to
// float error.
func DeltaSum(before, after *LedgerSnapshot) float64 {
	sum := 0.0
	for key, b := range before.Balances {
		sum += after.Balances[key] - b
	}
	for key, a := range after.Balances {
		if _, ok := before.Balances[key]; !ok {
			sum += a
		}
	}
	return sum
}

// conserves checks the supply invariant across a transition: unchanged
// total supply, both snapshots internally consistent, and a delta-sum
// within ValidateTolerance.
func (e *Engine) conserves(before, after *LedgerSnapshot) bool {
	if before == nil || after == nil {
		return false
	}
	if before.TotalSupply != after.TotalSupply {
		return false
	}
	if !e.ledger.VerifyConservation(before) || !e.ledger.VerifyConservation(after) {
		return false
	}
	return math.Abs(DeltaSum(before, after)) < ValidateTolerance
}
