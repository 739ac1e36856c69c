package shard

import (
	"fmt"
	"log"

	"github.com/blockberries/ledgerberry/types"
)

// Partition is the slice of the ledger living on one shard. Debit moves
// value out of the partition and Credit moves value in; each adjusts the
// partition's local supply so that per-shard conservation holds while a
// transfer is in flight.
type Partition interface {
	Debit(account types.PublicKey, amount float64) error
	Credit(account types.PublicKey, amount float64) error
}

// Coordinator drives the two-phase cross-shard transfer protocol on top of
// a LockManager. The coordinator plays the caller role described by the
// lock manager: it owns compensation for a phase-one debit whose phase two
// cannot complete.
type Coordinator struct {
	locks *LockManager
}

// NewCoordinator creates a Coordinator over the given lock manager.
func NewCoordinator(locks *LockManager) *Coordinator {
	return &Coordinator{locks: locks}
}

// Transfer moves amount from sender on the source partition to recipient
// on the target partition.
//
// Phase 1 acquires the sender's lock and debits the source partition.
// Phase 2 credits the target partition, marks the lock committed and
// releases it. A phase-2 failure triggers a compensating credit on the
// source; if even the compensation fails, the debit is left to operator
// remediation and the lock to passive expiry.
func (c *Coordinator) Transfer(source, target Partition, sender, recipient types.PublicKey, amount float64, sourceShard, targetShard uint32) error {
	lock, err := c.locks.Acquire(sender, amount, sourceShard, targetShard)
	if err != nil {
		return fmt.Errorf("cross-shard lock: %w", err)
	}

	if err := source.Debit(sender, amount); err != nil {
		if relErr := c.locks.Release(lock.LockHash); relErr != nil {
			log.Printf("[ERROR] shard: release after failed debit: %v", relErr)
		}
		return fmt.Errorf("phase 1 debit: %w", err)
	}

	if err := target.Credit(recipient, amount); err != nil {
		if compErr := source.Credit(sender, amount); compErr != nil {
			log.Printf("[ERROR] shard: compensation failed for lock %s: %v",
				types.HashString(lock.LockHash), compErr)
			return fmt.Errorf("phase 2 credit: %w (compensation failed: %v)", err, compErr)
		}
		if relErr := c.locks.Release(lock.LockHash); relErr != nil {
			log.Printf("[ERROR] shard: release after compensation: %v", relErr)
		}
		return fmt.Errorf("phase 2 credit: %w", err)
	}

	if err := c.locks.MarkCommitted(lock.LockHash); err != nil {
		// The value already moved; the stale lock lapses on its own.
		log.Printf("WARN: shard: mark committed %s: %v", types.HashString(lock.LockHash), err)
	}
	return c.locks.Release(lock.LockHash)
}
