// Package ledger provides the reference in-memory account store: balances
// keyed by Ed25519 public key, a per-sender nonce watermark, and a
// canonical state hash over the sorted account set. It satisfies the
// engine's Ledger interface, the ordering pool's Applier, and the shard
// coordinator's Partition, so one instance backs all three layers.
package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/blockberries/ledgerberry/engine"
	"github.com/blockberries/ledgerberry/types"
)

// Errors
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrStaleNonce        = errors.New("stale nonce")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrNegativeBalance   = errors.New("negative balance")
)

// Ledger is an in-memory account store safe for concurrent use.
type Ledger struct {
	mu sync.RWMutex

	balances map[types.PublicKey]float64
	nonces   map[types.PublicKey]uint64
	supply   float64

	// stateHash caches the canonical hash; dirty marks it stale.
	stateHash types.Hash
	dirty     bool
}

// New builds a ledger from a genesis allocation. The total supply is the
// sum of the genesis balances.
func New(genesis map[types.PublicKey]float64) (*Ledger, error) {
	l := &Ledger{
		balances: make(map[types.PublicKey]float64, len(genesis)),
		nonces:   make(map[types.PublicKey]uint64),
		dirty:    true,
	}
	for key, balance := range genesis {
		if balance < 0 || math.IsNaN(balance) || math.IsInf(balance, 0) {
			return nil, fmt.Errorf("%w: genesis account %x", ErrNegativeBalance, key[:8])
		}
		l.balances[key] = balance
		l.supply += balance
	}
	return l, nil
}

// GetBalance returns the balance of an account; unknown accounts hold
// zero.
func (l *Ledger) GetBalance(account types.PublicKey) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account]
}

// GetNonce returns the highest nonce applied for a sender.
func (l *Ledger) GetNonce(account types.PublicKey) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nonces[account]
}

// TotalSupply returns the shard's total supply. It changes only through
// cross-shard Debit and Credit.
func (l *Ledger) TotalSupply() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply
}

// ApplyConservedTransfer moves value between two accounts inside the
// shard. The sender's balance must cover the amount and the nonce must
// exceed the sender's applied watermark. Supply is untouched.
func (l *Ledger) ApplyConservedTransfer(tx *types.Transaction) error {
	if err := tx.ValidateBasic(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if tx.Nonce <= l.nonces[tx.From] {
		return fmt.Errorf("%w: nonce %d, watermark %d", ErrStaleNonce, tx.Nonce, l.nonces[tx.From])
	}
	if l.balances[tx.From] < tx.Amount {
		return fmt.Errorf("%w: balance %g, need %g", ErrInsufficientFunds, l.balances[tx.From], tx.Amount)
	}

	l.balances[tx.From] -= tx.Amount
	l.balances[tx.To] += tx.Amount
	l.nonces[tx.From] = tx.Nonce
	l.dirty = true
	return nil
}

// Debit removes value from an account and from the shard's supply, the
// outbound half of a cross-shard transfer.
func (l *Ledger) Debit(account types.PublicKey, amount float64) error {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[account] < amount {
		return fmt.Errorf("%w: balance %g, need %g", ErrInsufficientFunds, l.balances[account], amount)
	}
	l.balances[account] -= amount
	l.supply -= amount
	l.dirty = true
	return nil
}

// Credit adds value to an account and to the shard's supply, the inbound
// half of a cross-shard transfer.
func (l *Ledger) Credit(account types.PublicKey, amount float64) error {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[account] += amount
	l.supply += amount
	l.dirty = true
	return nil
}

// CurrentStateHash returns the canonical hash of the committed state.
func (l *Ledger) CurrentStateHash() types.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateHashLocked()
}

func (l *Ledger) stateHashLocked() types.Hash {
	if !l.dirty {
		return l.stateHash
	}
	l.stateHash = hashState(l.balances, l.supply)
	l.dirty = false
	return l.stateHash
}

// hashState computes SHA-256 over the supply bits followed by every
// account in ascending key order as key ∥ balance bits. Map iteration
// order never leaks into the hash.
func hashState(balances map[types.PublicKey]float64, supply float64) types.Hash {
	keys := make([]types.PublicKey, 0, len(balances))
	for key := range balances {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})

	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(supply))
	h.Write(buf[:])
	for _, key := range keys {
		h.Write(key[:])
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(balances[key]))
		h.Write(buf[:])
	}

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// VerifyConservation reports whether a snapshot is internally
// consistent: no negative balance and balances summing to the snapshot's
// supply within the finalization tolerance.
func (l *Ledger) VerifyConservation(snap *engine.LedgerSnapshot) bool {
	if snap == nil {
		return false
	}
	sum := 0.0
	for _, balance := range snap.Balances {
		if balance < 0 {
			return false
		}
		sum += balance
	}
	return math.Abs(sum-snap.TotalSupply) < engine.FinalizeTolerance
}

// Snapshot captures the committed state, including its canonical hash.
func (l *Ledger) Snapshot() *engine.LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	balances := make(map[types.PublicKey]float64, len(l.balances))
	for key, balance := range l.balances {
		balances[key] = balance
	}
	return &engine.LedgerSnapshot{
		Balances:    balances,
		TotalSupply: l.supply,
		StateHash:   l.stateHashLocked(),
	}
}

// Accounts returns the number of accounts with an entry.
func (l *Ledger) Accounts() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.balances)
}

var _ engine.Ledger = (*Ledger)(nil)
