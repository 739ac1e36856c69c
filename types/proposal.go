package types

import (
	"encoding/binary"
	"math"
)

// Proposal is a candidate state transition for a single sequence number,
// produced by the round's leader. DeltaSum is the sum over all accounts of
// (balance after − balance before); peers recompute it independently and a
// finalized proposal must have |DeltaSum| below the conservation tolerance.
// A proposal is immutable once broadcast; only the engine's vote tally for
// it changes.
type Proposal struct {
	SequenceNum   uint64    `cramberry:"1"`
	Round         uint32    `cramberry:"2"`
	PrevStateHash Hash      `cramberry:"3"`
	NewStateHash  Hash      `cramberry:"4"`
	TotalSupply   float64   `cramberry:"5"`
	DeltaSum      float64   `cramberry:"6"`
	Timestamp     int64     `cramberry:"7"`
	Proposer      PublicKey `cramberry:"8"`
	TxCount       uint32    `cramberry:"9"`
	Signature     Signature `cramberry:"10"`
}

// ProposalHash computes the canonical hash of a proposal. The field order
// and widths are fixed: sequence (8) ∥ round (4) ∥ prev hash (32) ∥ new
// hash (32) ∥ supply bits (8) ∥ delta-sum bits (8) ∥ timestamp (8) ∥
// proposer (32) ∥ tx count (4), all integers big-endian and floats as
// their IEEE-754 bit patterns. The signature is not part of the hash.
func ProposalHash(p *Proposal) Hash {
	buf := make([]byte, 0, 136)
	buf = binary.BigEndian.AppendUint64(buf, p.SequenceNum)
	buf = binary.BigEndian.AppendUint32(buf, p.Round)
	buf = append(buf, p.PrevStateHash[:]...)
	buf = append(buf, p.NewStateHash[:]...)
	buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(p.TotalSupply))
	buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(p.DeltaSum))
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.Timestamp))
	buf = append(buf, p.Proposer[:]...)
	buf = binary.BigEndian.AppendUint32(buf, p.TxCount)
	return HashBytes(buf)
}

// ProposalSignBytes returns the bytes a proposer signs: the chain ID
// followed by the canonical proposal hash.
func ProposalSignBytes(chainID string, p *Proposal) []byte {
	h := ProposalHash(p)
	buf := make([]byte, 0, len(chainID)+HashSize)
	buf = append(buf, []byte(chainID)...)
	buf = append(buf, h[:]...)
	return buf
}

// VerifyProposalSignature verifies the proposer's signature over the
// canonical proposal hash.
func VerifyProposalSignature(chainID string, p *Proposal) bool {
	return VerifySignature(p.Proposer, ProposalSignBytes(chainID, p), p.Signature)
}

// CopyProposal returns a copy of the proposal. Proposals contain only
// value types, so a shallow copy is a deep copy.
func CopyProposal(p *Proposal) *Proposal {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
