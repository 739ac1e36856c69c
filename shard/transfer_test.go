package shard

import (
	"errors"
	"strings"
	"testing"

	"github.com/blockberries/ledgerberry/types"
)

// fakePartition is an in-memory Partition tracking balances and a local
// supply, with switchable failure modes.
type fakePartition struct {
	balances   map[types.PublicKey]float64
	supply     float64
	failDebit  bool
	failCredit bool
}

func newFakePartition(genesis map[types.PublicKey]float64) *fakePartition {
	p := &fakePartition{balances: make(map[types.PublicKey]float64)}
	for key, balance := range genesis {
		p.balances[key] = balance
		p.supply += balance
	}
	return p
}

func (p *fakePartition) Debit(account types.PublicKey, amount float64) error {
	if p.failDebit {
		return errors.New("debit refused")
	}
	if p.balances[account] < amount {
		return errors.New("insufficient funds")
	}
	p.balances[account] -= amount
	p.supply -= amount
	return nil
}

func (p *fakePartition) Credit(account types.PublicKey, amount float64) error {
	if p.failCredit {
		return errors.New("credit refused")
	}
	p.balances[account] += amount
	p.supply += amount
	return nil
}

// TestTransferCommits verifies the two-phase happy path moves value and
// leaves no lock behind
func TestTransferCommits(t *testing.T) {
	sender, recipient := makeTestSender(1), makeTestSender(2)
	source := newFakePartition(map[types.PublicKey]float64{sender: 100})
	target := newFakePartition(nil)

	lm := NewLockManager(0, 0)
	c := NewCoordinator(lm)

	if err := c.Transfer(source, target, sender, recipient, 40, 0, 1); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	if got := source.balances[sender]; got != 60 {
		t.Errorf("sender balance = %g, want 60", got)
	}
	if got := target.balances[recipient]; got != 40 {
		t.Errorf("recipient balance = %g, want 40", got)
	}
	// Value moved between shards; combined supply is conserved.
	if total := source.supply + target.supply; total != 100 {
		t.Errorf("combined supply = %g, want 100", total)
	}
	if lm.HasPending(sender) {
		t.Error("lock should be released after commit")
	}
}

// TestTransferDebitFailureReleasesLock verifies a phase-1 failure frees
// the sender and moves nothing
func TestTransferDebitFailureReleasesLock(t *testing.T) {
	sender, recipient := makeTestSender(1), makeTestSender(2)
	source := newFakePartition(map[types.PublicKey]float64{sender: 100})
	source.failDebit = true
	target := newFakePartition(nil)

	lm := NewLockManager(0, 0)
	c := NewCoordinator(lm)

	err := c.Transfer(source, target, sender, recipient, 40, 0, 1)
	if err == nil || !strings.Contains(err.Error(), "phase 1") {
		t.Fatalf("Transfer = %v, want phase 1 error", err)
	}
	if got := source.balances[sender]; got != 100 {
		t.Errorf("sender balance = %g, want 100", got)
	}
	if lm.HasPending(sender) {
		t.Error("lock should be released after failed debit")
	}
}

// TestTransferCreditFailureCompensates verifies a phase-2 failure
// restores the source debit
func TestTransferCreditFailureCompensates(t *testing.T) {
	sender, recipient := makeTestSender(1), makeTestSender(2)
	source := newFakePartition(map[types.PublicKey]float64{sender: 100})
	target := newFakePartition(nil)
	target.failCredit = true

	lm := NewLockManager(0, 0)
	c := NewCoordinator(lm)

	err := c.Transfer(source, target, sender, recipient, 40, 0, 1)
	if err == nil || !strings.Contains(err.Error(), "phase 2") {
		t.Fatalf("Transfer = %v, want phase 2 error", err)
	}
	if got := source.balances[sender]; got != 100 {
		t.Errorf("sender balance after compensation = %g, want 100", got)
	}
	if got := source.supply; got != 100 {
		t.Errorf("source supply after compensation = %g, want 100", got)
	}
	if lm.HasPending(sender) {
		t.Error("lock should be released after compensation")
	}
}

// TestTransferWhileSenderLocked verifies a concurrent transfer for the
// same sender is refused by the lock layer
func TestTransferWhileSenderLocked(t *testing.T) {
	sender, recipient := makeTestSender(1), makeTestSender(2)
	source := newFakePartition(map[types.PublicKey]float64{sender: 100})
	target := newFakePartition(nil)

	lm := NewLockManager(0, 0)
	if _, err := lm.Acquire(sender, 10, 0, 2); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	c := NewCoordinator(lm)
	err := c.Transfer(source, target, sender, recipient, 40, 0, 1)
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Errorf("Transfer = %v, want ErrAlreadyLocked", err)
	}
	if got := source.balances[sender]; got != 100 {
		t.Errorf("sender balance = %g, want 100", got)
	}
}
