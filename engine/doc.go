// Package engine implements the proof-of-conservation BFT consensus state
// machine.
//
// Instead of a computational puzzle, the safety gate for every proposal is
// the conservation law: the total supply must be unchanged across the
// state transition, every balance sum must equal the supply, no balance
// may go negative, and the embedded delta-sum must vanish within
// tolerance. A proposal violating any of these is rejected with
// ErrConservationViolated and never finalized.
//
// # Lifecycle
//
//	Idle → PrePrepare → Prepare → Finalized → (next height) Idle
//
// The round's leader, chosen round-robin over active validators,
// assembles a Proposal from a before/after ledger snapshot pair, signs it
// over its canonical hash, and auto-votes Approve. Peers validate (active
// proposer, sequence, previous state hash, supply, delta-sum, signature,
// evaluated in that order with the first failure winning) and vote. A quorum of
// ceil(0.67 · active) approvals permits Finalize, which advances the
// height, rotates the leader, persists the checkpoint, and clears the
// round. NextRound abandons a stalled round at any time without counting
// discarded votes as rejections.
//
// # Concurrency
//
// One Engine owns one consensus state; all public operations serialize on
// the engine's mutex and none performs network I/O. The only file I/O is
// the checkpoint write inside Finalize, the protocol's durability point.
// Round timing is the caller's job: ShouldAdvance is a pure check against
// the round deadline and TimeoutTicker is an optional scheduling helper.
//
// Multiple independent chains or shards run separate Engine instances;
// there is no process-wide state.
package engine
