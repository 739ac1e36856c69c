// Package privval provides the private validator: the component holding a
// node's Ed25519 signing key and producing proposal and vote signatures.
//
// FilePV persists the key and a last-sign record to disk; the record
// prevents the validator from ever signing two different payloads for the
// same (sequence, round) slot, even across a crash and restart.
package privval

import (
	"errors"

	"github.com/blockberries/ledgerberry/types"
)

// Errors
var (
	ErrDoubleSign         = errors.New("double sign attempt")
	ErrSequenceRegression = errors.New("sequence regression")
	ErrRoundRegression    = errors.New("round regression")
	ErrStepRegression     = errors.New("step regression")
)

// PrivValidator signs consensus messages with the node's validator key.
type PrivValidator interface {
	// GetPubKey returns the validator's public key.
	GetPubKey() types.PublicKey

	// SignProposal signs a proposal over its canonical hash, filling in
	// the proposal's Signature field.
	SignProposal(chainID string, p *types.Proposal) error

	// SignVote signs a vote, filling in its Signature field. Signing a
	// second, different vote for the same (sequence, round) fails with
	// ErrDoubleSign; re-signing the identical vote is idempotent.
	SignVote(chainID string, v *types.Vote) error
}

// Step values for sign-state ordering within one (sequence, round) slot.
// A proposal is signed before any vote in the same slot.
const (
	StepProposal int8 = 0
	StepVote     int8 = 1
)

// LastSignState is the record of the most recent signature, kept to detect
// double-sign attempts.
type LastSignState struct {
	Sequence     uint64
	Round        uint32
	Step         int8
	ProposalHash types.Hash
	Decision     types.Decision
	Signature    types.Signature
	HasSigned    bool
}

// CheckSRS reports whether signing at (sequence, round, step) is allowed
// given the last signed slot. Equal slots return ErrDoubleSign; the caller
// decides whether the payload is identical and the cached signature can be
// reused.
func (lss *LastSignState) CheckSRS(sequence uint64, round uint32, step int8) error {
	if !lss.HasSigned {
		return nil
	}
	if lss.Sequence > sequence {
		return ErrSequenceRegression
	}
	if lss.Sequence == sequence {
		if lss.Round > round {
			return ErrRoundRegression
		}
		if lss.Round == round {
			if lss.Step > step {
				return ErrStepRegression
			}
			if lss.Step == step {
				return ErrDoubleSign
			}
		}
	}
	return nil
}
