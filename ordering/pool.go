// Package ordering maintains the pool of pending transactions and derives
// the deterministic execution order shared by every honest node.
//
// Two pending transactions conflict iff they have the same (sender, nonce)
// but different content hashes; an identical resend is a no-op. Conflicts
// are resolved by vector clock comparison, the causally later transaction
// winning, with the smaller content hash breaking concurrent ties, so the
// outcome is independent of arrival order.
package ordering

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blockberries/ledgerberry/clock"
	"github.com/blockberries/ledgerberry/types"
)

// Errors
var (
	ErrPoolFull   = errors.New("transaction pool is full")
	ErrInvalidTx  = errors.New("invalid transaction")
	ErrConflict   = errors.New("conflicting transaction rejected")
	ErrTxNotFound = errors.New("transaction not found")
)

// DefaultMaxSize bounds the pool when no explicit capacity is configured.
const DefaultMaxSize = 10000

// PendingTransaction is a transaction awaiting ordered execution, together
// with the clock snapshot taken at admission.
type PendingTransaction struct {
	Tx          *types.Transaction
	Clock       *clock.Clock
	ContentHash types.Hash
	ReceivedAt  time.Time
	Executed    bool
	// Err records a per-transaction execution failure. A transaction that
	// loses its funds to an earlier winner in the same batch fails here
	// and is never retried.
	Err error
}

type senderNonce struct {
	sender types.PublicKey
	nonce  uint64
}

// Pool is the pending transaction pool. A single mutex guards the whole
// aggregate: Sort must complete before Execute runs, and both serialize
// against Add.
type Pool struct {
	mu      sync.Mutex
	clock   *clock.Clock
	entries map[types.Hash]*PendingTransaction
	byKey   map[senderNonce]types.Hash
	maxSize int
}

// NewPool creates a pool whose clock is owned by nodeID.
func NewPool(nodeID string, maxSize int) *Pool {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Pool{
		clock:   clock.New(nodeID),
		entries: make(map[types.Hash]*PendingTransaction),
		byKey:   make(map[senderNonce]types.Hash),
		maxSize: maxSize,
	}
}

// Add admits a transaction into the pool. remote is the clock snapshot
// the transaction was stamped with at its origin; nil for locally
// originated ones, which are stamped with the pool's own clock. On
// admission the pool clock merges the remote clock so later local stamps
// causally follow everything received, but the stored entry keeps the
// origin stamp: conflict resolution must compare the same two clocks on
// every node, whatever order the transactions arrived in. A rejected
// transaction never touches the pool clock.
//
// A conflicting transaction that loses resolution is rejected with
// ErrConflict; an identical resend returns nil without any effect.
func (p *Pool) Add(tx *types.Transaction, remote *clock.Clock) error {
	if tx == nil {
		return ErrInvalidTx
	}
	if err := tx.ValidateBasic(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTx, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	contentHash := tx.ContentHash()
	if _, ok := p.entries[contentHash]; ok {
		// Identical resend, nothing to do.
		return nil
	}

	key := senderNonce{sender: tx.From, nonce: tx.Nonce}
	newClock := p.entryStamp(remote)

	if existingHash, ok := p.byKey[key]; ok {
		existing := p.entries[existingHash]
		if !p.newEntryWins(existing, newClock, contentHash) {
			return fmt.Errorf("%w: sender %s nonce %d",
				ErrConflict, types.PublicKeyString(tx.From), tx.Nonce)
		}
		delete(p.entries, existingHash)
	} else if len(p.entries) >= p.maxSize {
		return ErrPoolFull
	}

	p.clock.Merge(remote)
	p.entries[contentHash] = &PendingTransaction{
		Tx:          tx,
		Clock:       newClock,
		ContentHash: contentHash,
		ReceivedAt:  time.Now(),
	}
	p.byKey[key] = contentHash
	return nil
}

// entryStamp returns the clock stamp a candidate entry would carry: the
// origin clock for remote transactions, the pool's next tick for local
// ones. The pool clock itself only advances once the entry is admitted.
func (p *Pool) entryStamp(remote *clock.Clock) *clock.Clock {
	if remote != nil {
		return remote.Copy()
	}
	stamp := p.clock.Copy()
	stamp.Increment()
	return stamp
}

// newEntryWins resolves a (sender, nonce) conflict: the causally later
// transaction wins; concurrent entries are decided by the smaller content
// hash, independent of arrival order.
func (p *Pool) newEntryWins(existing *PendingTransaction, newClock *clock.Clock, newHash types.Hash) bool {
	switch existing.Clock.Compare(newClock) {
	case clock.Before:
		return true
	case clock.After:
		return false
	default:
		return bytes.Compare(newHash[:], existing.ContentHash[:]) < 0
	}
}

// Sort returns all pending transactions in the deterministic total
// order: ascending clock counter sum, content hash breaking ties. The
// counter sum strictly increases along every causal chain, so the total
// order extends happened-before; pairwise causal-plus-hash comparison
// would not be transitive and could not feed a sort. Sort runs once,
// immediately before batch execution, so every validator derives an
// identical sequence.
func (p *Pool) Sort() []*PendingTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	pending := make([]*PendingTransaction, 0, len(p.entries))
	for _, e := range p.entries {
		pending = append(pending, e)
	}
	sort.Slice(pending, func(i, j int) bool {
		si, sj := pending[i].Clock.Sum(), pending[j].Clock.Sum()
		if si != sj {
			return si < sj
		}
		return bytes.Compare(pending[i].ContentHash[:], pending[j].ContentHash[:]) < 0
	})
	return pending
}

// Applier applies a verified transfer to the ledger.
type Applier interface {
	ApplyConservedTransfer(tx *types.Transaction) error
}

// Execute applies all pending transactions in sorted order. A transaction
// failing because an earlier winner consumed its funds is marked failed
// and skipped; a failure never aborts the rest of the batch. Returns the
// number of applied and failed transactions.
func (p *Pool) Execute(ledger Applier) (applied, failed int) {
	batch := p.Sort()

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range batch {
		if e.Executed {
			continue
		}
		e.Executed = true
		if err := ledger.ApplyConservedTransfer(e.Tx); err != nil {
			e.Err = err
			failed++
			continue
		}
		applied++
	}
	return applied, failed
}

// Cleanup removes executed entries and returns how many were dropped.
func (p *Pool) Cleanup() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	dropped := 0
	for hash, e := range p.entries {
		if !e.Executed {
			continue
		}
		delete(p.entries, hash)
		key := senderNonce{sender: e.Tx.From, nonce: e.Tx.Nonce}
		if p.byKey[key] == hash {
			delete(p.byKey, key)
		}
		dropped++
	}
	return dropped
}

// Size returns the number of pending entries.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Clock returns a copy of the pool's current clock, for gossiping
// alongside locally originated transactions.
func (p *Pool) Clock() *clock.Clock {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clock.Copy()
}

// Get returns the pending entry for a content hash.
func (p *Pool) Get(hash types.Hash) (*PendingTransaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[hash]
	if !ok {
		return nil, ErrTxNotFound
	}
	return e, nil
}
