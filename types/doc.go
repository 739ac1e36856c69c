// Package types defines the core data structures for the Ledgerberry
// consensus protocol.
//
// All wire and persisted types are plain Go structs with cramberry struct
// tags for deterministic binary serialization, following the blockberries
// convention. Value types (Hash, PublicKey, Signature) are fixed-size
// arrays so they can be used as map keys and compared directly.
//
// # Core Types
//
// Transaction: A signed transfer of value between two accounts, identified
// by (From, Nonce). The content hash over (From, To, Amount, Nonce) is the
// identity used for conflict resolution and deterministic ordering.
//
// Proposal: A candidate state transition submitted by the round's leader.
// It carries the before/after state hashes, the total supply, and the
// delta-sum of all balance changes so peers can independently verify the
// conservation law. Immutable once broadcast.
//
// Vote: A signed approval, rejection, or abstention for a proposal.
// At most one vote per (sequence, validator) is counted.
//
// Validator: A registered consensus participant with bookkeeping counters
// and a reputation score. Removal is a soft delete (Active = false).
//
// ConsensusStateData: The serializable snapshot of the consensus state
// machine, persisted as a single overwritten checkpoint record on every
// finalized sequence.
//
// # Hashing
//
// ProposalHash encodes every field in a fixed order with fixed-width
// big-endian integers and IEEE-754 bit patterns for floating point
// amounts, so the hash is identical bit-for-bit on every node.
package types
