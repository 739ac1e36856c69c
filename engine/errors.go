package engine

import "errors"

var (
	// ErrConservationViolated is returned when a proposal's state
	// transition breaks the conservation law: supply changed, balances no
	// longer sum to supply, a balance went negative, or the delta-sum
	// exceeds tolerance. It takes precedence over every later check.
	ErrConservationViolated = errors.New("conservation violated")

	ErrInvalidProposal  = errors.New("invalid proposal")
	ErrInvalidVote      = errors.New("invalid vote")
	ErrInvalidSignature = errors.New("invalid signature")

	ErrNotLeader        = errors.New("not the round leader")
	ErrWrongPhase       = errors.New("operation not allowed in current phase")
	ErrNoProposal       = errors.New("no open proposal")
	ErrQuorumNotReached = errors.New("quorum not reached")

	// ErrAlreadyVoted signals an exact duplicate of a vote already
	// counted. It is not a fault; conflicting votes are ErrConflictingVote.
	ErrAlreadyVoted    = errors.New("validator already voted")
	ErrConflictingVote = errors.New("conflicting vote for same sequence")

	ErrAlreadyRegistered   = errors.New("validator already registered")
	ErrUnknownValidator    = errors.New("unknown or inactive validator")
	ErrNotEnoughValidators = errors.New("not enough active validators")
	ErrCapacityExceeded    = errors.New("validator capacity exceeded")

	// ErrNoIdentity is returned by signing operations when the engine has
	// no local private validator configured (observer mode).
	ErrNoIdentity = errors.New("no local validator identity")

	ErrUnknownMessageType = errors.New("unknown consensus message type")
)
