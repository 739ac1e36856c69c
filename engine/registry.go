package engine

import (
	"fmt"
	"time"

	"github.com/blockberries/ledgerberry/types"
)

const (
	initialReputation = 0.5
	proposerCredit    = 0.02
	voterCredit       = 0.01
)

// Registry tracks the validator set in registration order. Removal is a
// soft delete: the entry stays, flagged inactive, so its history and
// reputation survive a later rejoin of the same operator under a new key.
//
// Registry is not locked; the owning Engine serializes access.
type Registry struct {
	validators []*types.Validator
	byKey      map[types.PublicKey]*types.Validator
	max        int
}

func NewRegistry(maxValidators int) *Registry {
	return &Registry{
		byKey: make(map[types.PublicKey]*types.Validator),
		max:   maxValidators,
	}
}

// Add registers a new active validator. Re-registering a known public key
// fails with ErrAlreadyRegistered even if the entry was soft-deleted.
func (r *Registry) Add(pubKey types.PublicKey, name string, now time.Time) (*types.Validator, error) {
	if types.IsPublicKeyEmpty(pubKey) {
		return nil, fmt.Errorf("%w: empty public key", ErrInvalidProposal)
	}
	if _, ok := r.byKey[pubKey]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	if len(r.validators) >= r.max {
		return nil, fmt.Errorf("%w: limit %d", ErrCapacityExceeded, r.max)
	}
	v := &types.Validator{
		PublicKey:  pubKey,
		Name:       name,
		JoinedAt:   now.Unix(),
		LastSeen:   now.Unix(),
		Reputation: initialReputation,
		Active:     true,
	}
	r.validators = append(r.validators, v)
	r.byKey[pubKey] = v
	return v, nil
}

// Remove soft-deletes a validator. Removing an already inactive entry is
// a no-op.
func (r *Registry) Remove(pubKey types.PublicKey) error {
	v, ok := r.byKey[pubKey]
	if !ok {
		return fmt.Errorf("%w: %x", ErrUnknownValidator, pubKey[:8])
	}
	v.Active = false
	return nil
}

func (r *Registry) Get(pubKey types.PublicKey) *types.Validator {
	return r.byKey[pubKey]
}

// GetActive returns the validator only if it exists and is active.
func (r *Registry) GetActive(pubKey types.PublicKey) *types.Validator {
	v := r.byKey[pubKey]
	if v == nil || !v.Active {
		return nil
	}
	return v
}

// Active returns the active validators in registration order. The slice
// is fresh but the pointers alias registry entries.
func (r *Registry) Active() []*types.Validator {
	active := make([]*types.Validator, 0, len(r.validators))
	for _, v := range r.validators {
		if v.Active {
			active = append(active, v)
		}
	}
	return active
}

func (r *Registry) ActiveCount() int {
	n := 0
	for _, v := range r.validators {
		if v.Active {
			n++
		}
	}
	return n
}

func (r *Registry) Size() int {
	return len(r.validators)
}

// Leader returns the round-robin leader for the given rotation index, or
// nil when no validator is active.
func (r *Registry) Leader(index uint32) *types.Validator {
	active := r.Active()
	if len(active) == 0 {
		return nil
	}
	return active[int(index)%len(active)]
}

// MarkSeen refreshes the liveness timestamp of a known validator.
func (r *Registry) MarkSeen(pubKey types.PublicKey, now time.Time) {
	if v, ok := r.byKey[pubKey]; ok {
		v.LastSeen = now.Unix()
	}
}

// Snapshot returns value copies of all validators in registration order.
func (r *Registry) Snapshot() []types.Validator {
	out := make([]types.Validator, len(r.validators))
	for i, v := range r.validators {
		out[i] = *types.CopyValidator(v)
	}
	return out
}

// Restore overwrites known entries with the given values and registers
// unknown ones, preserving the given order for new entries. Used both to
// commit finalization bookkeeping and to resume from a checkpoint.
func (r *Registry) Restore(validators []types.Validator) {
	for i := range validators {
		v := validators[i]
		if existing, ok := r.byKey[v.PublicKey]; ok {
			*existing = v
			continue
		}
		nv := new(types.Validator)
		*nv = v
		r.validators = append(r.validators, nv)
		r.byKey[nv.PublicKey] = nv
	}
}

// creditFinalize applies reputation and counter bookkeeping for one
// finalized proposal to a snapshot slice, leaving the registry untouched.
func creditFinalize(vals []types.Validator, proposer types.PublicKey, voters []types.PublicKey) {
	byKey := make(map[types.PublicKey]*types.Validator, len(vals))
	for i := range vals {
		byKey[vals[i].PublicKey] = &vals[i]
	}
	if v, ok := byKey[proposer]; ok {
		v.ProposalCount++
		v.Reputation = clampReputation(v.Reputation + proposerCredit)
	}
	for _, key := range voters {
		if v, ok := byKey[key]; ok {
			v.ValidationCount++
			v.Reputation = clampReputation(v.Reputation + voterCredit)
		}
	}
}

func clampReputation(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
