package types

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Decision is a validator's verdict on a proposal.
type Decision uint8

const (
	DecisionUnknown Decision = 0
	DecisionApprove Decision = 1
	DecisionReject  Decision = 2
	DecisionAbstain Decision = 3
)

// DecisionString returns a human-readable decision name.
func DecisionString(d Decision) string {
	switch d {
	case DecisionApprove:
		return "Approve"
	case DecisionReject:
		return "Reject"
	case DecisionAbstain:
		return "Abstain"
	default:
		return fmt.Sprintf("Unknown(%d)", d)
	}
}

// Errors
var (
	ErrInvalidVote      = errors.New("invalid vote")
	ErrInvalidDecision  = errors.New("invalid vote decision")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Vote is a validator's signed verdict on a proposal. At most one vote per
// (SequenceNum, Validator) is counted by the engine.
type Vote struct {
	SequenceNum  uint64    `cramberry:"1"`
	Round        uint32    `cramberry:"2"`
	ProposalHash Hash      `cramberry:"3"`
	Validator    PublicKey `cramberry:"4"`
	Decision     Decision  `cramberry:"5"`
	Timestamp    int64     `cramberry:"6"`
	Reason       string    `cramberry:"7"`
	Signature    Signature `cramberry:"8"`
}

// ValidateBasic performs stateless validation of a vote.
func (v *Vote) ValidateBasic() error {
	if IsPublicKeyEmpty(v.Validator) {
		return fmt.Errorf("%w: empty validator key", ErrInvalidVote)
	}
	switch v.Decision {
	case DecisionApprove, DecisionReject, DecisionAbstain:
	default:
		return ErrInvalidDecision
	}
	return nil
}

// VoteSignBytes returns the canonical bytes a validator signs for a vote:
// the chain ID, the sequence and round, the carried proposal hash, and the
// decision byte. Binding the decision prevents a relayed Approve from being
// replayed as a Reject.
func VoteSignBytes(chainID string, v *Vote) []byte {
	buf := make([]byte, 0, len(chainID)+HashSize+13)
	buf = append(buf, []byte(chainID)...)
	buf = binary.BigEndian.AppendUint64(buf, v.SequenceNum)
	buf = binary.BigEndian.AppendUint32(buf, v.Round)
	buf = append(buf, v.ProposalHash[:]...)
	buf = append(buf, byte(v.Decision))
	return buf
}

// VerifyVoteSignature verifies the validator's signature on a vote.
func VerifyVoteSignature(chainID string, v *Vote, pubKey PublicKey) error {
	if !VerifySignature(pubKey, VoteSignBytes(chainID, v), v.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// CopyVote returns a copy of the vote.
func CopyVote(v *Vote) *Vote {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

// VotesEqual reports whether two votes carry the same verdict for the same
// proposal from the same validator. Timestamps and signatures are ignored
// so an identical resend compares equal.
func VotesEqual(a, b *Vote) bool {
	return a.SequenceNum == b.SequenceNum &&
		a.Round == b.Round &&
		a.ProposalHash == b.ProposalHash &&
		a.Validator == b.Validator &&
		a.Decision == b.Decision
}
