// Package shard prevents double-spending when a transfer's sender and
// receiver live in different partitions.
//
// LockManager issues time-bounded locks, at most one live lock per sender.
// Coordinator drives the two-phase protocol over those locks: phase one
// debits the source partition under a fresh lock, phase two credits the
// target partition and releases it. If phase two fails the coordinator
// compensates the phase-one debit; the lock's passive expiry is the only
// remediation built into the manager itself.
package shard

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/blockberries/ledgerberry/types"
)

// Errors
var (
	ErrAlreadyLocked   = errors.New("sender already holds a live lock")
	ErrLockNotFound    = errors.New("lock not found")
	ErrLockExpired     = errors.New("lock expired")
	ErrTooManyLocks    = errors.New("lock table is full")
	ErrInvalidLockSpec = errors.New("invalid lock parameters")
)

const (
	// DefaultLockTTL bounds how long a cross-shard transfer may stay in
	// flight before the reservation lapses.
	DefaultLockTTL = 300 * time.Second

	// DefaultMaxLocks bounds the lock table.
	DefaultMaxLocks = 4096
)

// Lock is a reservation for one in-flight cross-shard transfer.
type Lock struct {
	Sender      types.PublicKey
	LockHash    types.Hash
	Amount      float64
	SourceShard uint32
	TargetShard uint32
	Sequence    uint64
	ExpiresAt   time.Time
	Committed   bool
}

// LockManager issues and tracks cross-shard locks. Acquire, HasPending and
// Release form one critical section under the manager's mutex, so "at most
// one live lock per sender" holds under concurrent callers.
type LockManager struct {
	mu       sync.Mutex
	bySender map[types.PublicKey]*Lock
	byHash   map[types.Hash]*Lock
	seq      uint64
	ttl      time.Duration
	maxLocks int
}

// NewLockManager creates a LockManager. Zero values select the defaults.
func NewLockManager(ttl time.Duration, maxLocks int) *LockManager {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if maxLocks <= 0 {
		maxLocks = DefaultMaxLocks
	}
	return &LockManager{
		bySender: make(map[types.PublicKey]*Lock),
		byHash:   make(map[types.Hash]*Lock),
		ttl:      ttl,
		maxLocks: maxLocks,
	}
}

// Acquire reserves the sender for one cross-shard transfer. It fails with
// ErrAlreadyLocked while the sender holds a non-expired lock; an expired
// lock is silently swept and replaced.
func (lm *LockManager) Acquire(sender types.PublicKey, amount float64, sourceShard, targetShard uint32) (*Lock, error) {
	if types.IsPublicKeyEmpty(sender) || amount <= 0 || math.IsNaN(amount) {
		return nil, ErrInvalidLockSpec
	}
	if sourceShard == targetShard {
		return nil, fmt.Errorf("%w: source and target shard are the same", ErrInvalidLockSpec)
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := time.Now()
	if existing, ok := lm.bySender[sender]; ok {
		if now.Before(existing.ExpiresAt) {
			return nil, ErrAlreadyLocked
		}
		lm.removeLocked(existing)
	}
	if len(lm.bySender) >= lm.maxLocks {
		return nil, ErrTooManyLocks
	}

	lm.seq++
	lock := &Lock{
		Sender:      sender,
		Amount:      amount,
		SourceShard: sourceShard,
		TargetShard: targetShard,
		Sequence:    lm.seq,
		ExpiresAt:   now.Add(lm.ttl),
	}
	lock.LockHash = lockHash(lock)

	lm.bySender[sender] = lock
	lm.byHash[lock.LockHash] = lock
	return lock, nil
}

// Release removes a lock, whether the transfer committed or aborted.
func (lm *LockManager) Release(hash types.Hash) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lock, ok := lm.byHash[hash]
	if !ok {
		return ErrLockNotFound
	}
	lm.removeLocked(lock)
	return nil
}

// MarkCommitted records that phase two completed for the lock.
func (lm *LockManager) MarkCommitted(hash types.Hash) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lock, ok := lm.byHash[hash]
	if !ok {
		return ErrLockNotFound
	}
	if time.Now().After(lock.ExpiresAt) {
		return ErrLockExpired
	}
	lock.Committed = true
	return nil
}

// HasPending reports whether the sender holds a live, non-expired lock.
func (lm *LockManager) HasPending(sender types.PublicKey) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lock, ok := lm.bySender[sender]
	return ok && time.Now().Before(lock.ExpiresAt)
}

// Get returns the live lock with the given hash.
func (lm *LockManager) Get(hash types.Hash) (*Lock, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lock, ok := lm.byHash[hash]
	if !ok {
		return nil, ErrLockNotFound
	}
	cp := *lock
	return &cp, nil
}

// Purge sweeps expired locks and returns how many were dropped.
func (lm *LockManager) Purge() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := time.Now()
	dropped := 0
	for _, lock := range lm.bySender {
		if now.After(lock.ExpiresAt) {
			lm.removeLocked(lock)
			dropped++
		}
	}
	return dropped
}

// Size returns the number of tracked locks, expired ones included.
func (lm *LockManager) Size() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.bySender)
}

func (lm *LockManager) removeLocked(lock *Lock) {
	delete(lm.bySender, lock.Sender)
	delete(lm.byHash, lock.LockHash)
}

// lockHash identifies a lock: SHA-256 over sender ∥ amount bits ∥ source
// shard ∥ target shard ∥ sequence, fixed-width big-endian.
func lockHash(l *Lock) types.Hash {
	buf := make([]byte, 0, types.PublicKeySize+24)
	buf = append(buf, l.Sender[:]...)
	buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(l.Amount))
	buf = binary.BigEndian.AppendUint32(buf, l.SourceShard)
	buf = binary.BigEndian.AppendUint32(buf, l.TargetShard)
	buf = binary.BigEndian.AppendUint64(buf, l.Sequence)
	return types.HashBytes(buf)
}
