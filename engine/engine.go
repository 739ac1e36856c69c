package engine

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/blockberries/ledgerberry/checkpoint"
	"github.com/blockberries/ledgerberry/evidence"
	"github.com/blockberries/ledgerberry/privval"
	"github.com/blockberries/ledgerberry/types"
)

// QuorumResult is the outcome of evaluating the vote tally.
type QuorumResult uint8

const (
	// QuorumPending means the tally is not yet decisive.
	QuorumPending QuorumResult = iota
	// QuorumApproved means enough approvals were counted to finalize.
	QuorumApproved
	// QuorumRejected means enough rejections were counted that approval
	// has become impossible.
	QuorumRejected
)

func (q QuorumResult) String() string {
	switch q {
	case QuorumPending:
		return "pending"
	case QuorumApproved:
		return "approved"
	case QuorumRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// RequiredApprovals returns the approval count needed for quorum over the
// given number of active validators, never less than one.
func RequiredApprovals(active int) int {
	required := int(math.Ceil(QuorumFraction * float64(active)))
	if required < 1 {
		required = 1
	}
	return required
}

// Engine is the proof-of-conservation consensus state machine for one
// chain. All exported methods are safe for concurrent use.
type Engine struct {
	mu sync.RWMutex

	config   Config
	ledger   Ledger
	registry *Registry
	state    *State

	privVal privval.PrivValidator
	store   checkpoint.Store
	evpool  *evidence.Pool

	proposalBroadcast func(*types.Proposal)
	voteBroadcast     func(*types.Vote)
}

// NewEngine builds an engine over the given ledger. pv may be nil for an
// observer node that validates and relays but never signs. If the
// checkpoint store holds a previous state it is restored.
func NewEngine(config Config, ledger Ledger, pv privval.PrivValidator, store checkpoint.Store) (*Engine, error) {
	if err := config.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if ledger == nil {
		return nil, errors.New("ledger must not be nil")
	}
	if store == nil {
		store = checkpoint.NopStore{}
	}
	e := &Engine{
		config:   config,
		ledger:   ledger,
		registry: NewRegistry(config.MaxValidators),
		state:    newState(),
		privVal:  pv,
		store:    store,
	}
	data, err := store.Load()
	switch {
	case err == nil:
		e.registry.Restore(data.Validators)
		e.state.fromData(data)
		log.Printf("[INFO] engine: restored checkpoint at height=%d round=%d phase=%s",
			e.state.Height, e.state.Round, e.state.Phase)
	case errors.Is(err, checkpoint.ErrNotFound):
	default:
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return e, nil
}

// SetPrivValidator installs the local signing identity. An engine built
// without one observes and relays until an identity is set.
func (e *Engine) SetPrivValidator(pv privval.PrivValidator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.privVal = pv
}

// SetEvidencePool attaches a pool that records conflicting votes.
func (e *Engine) SetEvidencePool(pool *evidence.Pool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evpool = pool
}

// SetProposalBroadcaster sets the function used to broadcast proposals.
func (e *Engine) SetProposalBroadcaster(fn func(*types.Proposal)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.proposalBroadcast = fn
}

// SetVoteBroadcaster sets the function used to broadcast votes.
func (e *Engine) SetVoteBroadcaster(fn func(*types.Vote)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.voteBroadcast = fn
}

func (e *Engine) ChainID() string {
	return e.config.ChainID
}

// --- Validator set management ---

// RegisterValidator adds a new active validator to the set.
func (e *Engine) RegisterValidator(pubKey types.PublicKey, name string) (*types.Validator, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.registry.Add(pubKey, name, time.Now())
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] engine: registered validator %q active=%d", name, e.registry.ActiveCount())
	return types.CopyValidator(v), nil
}

// RemoveValidator soft-deletes a validator; its history is retained.
func (e *Engine) RemoveValidator(pubKey types.PublicKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Remove(pubKey)
}

// Validators returns copies of all registry entries, including inactive
// ones, in registration order.
func (e *Engine) Validators() []types.Validator {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Snapshot()
}

func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.ActiveCount()
}

// Leader returns a copy of the current round's leader, or nil when no
// validator is active.
func (e *Engine) Leader() *types.Validator {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return types.CopyValidator(e.registry.Leader(e.state.LeaderIndex))
}

// IsLeader reports whether the local identity is the current leader.
func (e *Engine) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.privVal == nil {
		return false
	}
	leader := e.registry.Leader(e.state.LeaderIndex)
	return leader != nil && leader.PublicKey == e.privVal.GetPubKey()
}

// IsValidator reports whether the local identity is an active validator.
func (e *Engine) IsValidator() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.privVal == nil {
		return false
	}
	return e.registry.GetActive(e.privVal.GetPubKey()) != nil
}

// --- Proposing ---

// Propose builds, signs and opens a proposal for the transition from
// before to after. Only the current leader may propose, only from the
// Idle phase, and only for a transition that conserves supply. The
// leader's own Approve vote is counted immediately and handed to the
// vote broadcaster after the proposal, so peers tally it too.
func (e *Engine) Propose(before, after *LedgerSnapshot, txCount uint32) (*types.Proposal, error) {
	e.mu.Lock()
	p, vote, err := e.proposeLocked(before, after, txCount)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.BroadcastProposal(types.CopyProposal(p))
	if vote != nil {
		e.BroadcastVote(vote)
	}
	return p, nil
}

func (e *Engine) proposeLocked(before, after *LedgerSnapshot, txCount uint32) (*types.Proposal, *types.Vote, error) {
	if e.privVal == nil {
		return nil, nil, ErrNoIdentity
	}
	if e.state.Phase != PhaseIdle {
		return nil, nil, fmt.Errorf("%w: %s", ErrWrongPhase, e.state.Phase)
	}
	leader := e.registry.Leader(e.state.LeaderIndex)
	if leader == nil {
		return nil, nil, ErrNotEnoughValidators
	}
	local := e.privVal.GetPubKey()
	if leader.PublicKey != local {
		return nil, nil, fmt.Errorf("%w: leader is %q", ErrNotLeader, leader.Name)
	}
	if !e.conserves(before, after) {
		return nil, nil, ErrConservationViolated
	}

	now := time.Now()
	p := &types.Proposal{
		SequenceNum:   e.state.Height + 1,
		Round:         e.state.Round,
		PrevStateHash: before.StateHash,
		NewStateHash:  after.StateHash,
		TotalSupply:   after.TotalSupply,
		DeltaSum:      DeltaSum(before, after),
		Timestamp:     now.Unix(),
		Proposer:      local,
		TxCount:       txCount,
	}
	if err := e.privVal.SignProposal(e.config.ChainID, p); err != nil {
		return nil, nil, fmt.Errorf("sign proposal: %w", err)
	}

	e.state.Proposal = types.CopyProposal(p)
	e.state.Phase = PhasePrePrepare
	e.state.Votes = make(map[types.PublicKey]*types.Vote)

	vote, err := e.buildVoteLocked(types.DecisionApprove, "")
	if err != nil {
		// The proposal stands; the leader vote can be retried via Vote.
		log.Printf("[ERROR] engine: leader auto-vote failed: %v", err)
		vote = nil
	} else {
		e.state.Votes[vote.Validator] = vote
	}
	e.registry.MarkSeen(local, now)

	log.Printf("[INFO] engine: proposed seq=%d round=%d txs=%d delta=%g",
		p.SequenceNum, p.Round, p.TxCount, p.DeltaSum)
	return types.CopyProposal(p), types.CopyVote(vote), nil
}

// ValidateProposal checks a proposal against local state without
// mutating anything. Checks run in a fixed order and the first failure
// wins, so a conservation violation is reported as such even when later
// checks would also fail.
func (e *Engine) ValidateProposal(p *types.Proposal) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.validateProposalLocked(p)
}

func (e *Engine) validateProposalLocked(p *types.Proposal) error {
	if p == nil {
		return fmt.Errorf("%w: nil", ErrInvalidProposal)
	}
	if e.registry.GetActive(p.Proposer) == nil {
		return fmt.Errorf("%w: proposer %x", ErrUnknownValidator, p.Proposer[:8])
	}
	if p.SequenceNum != e.state.Height+1 {
		return fmt.Errorf("%w: sequence %d, expected %d", ErrInvalidProposal, p.SequenceNum, e.state.Height+1)
	}
	if p.PrevStateHash != e.ledger.CurrentStateHash() {
		return fmt.Errorf("%w: previous state hash mismatch", ErrInvalidProposal)
	}
	if p.TotalSupply != e.ledger.TotalSupply() {
		return fmt.Errorf("%w: total supply %g, expected %g", ErrConservationViolated, p.TotalSupply, e.ledger.TotalSupply())
	}
	if math.Abs(p.DeltaSum) >= ValidateTolerance {
		return fmt.Errorf("%w: delta sum %g", ErrConservationViolated, p.DeltaSum)
	}
	if !types.VerifyProposalSignature(e.config.ChainID, p) {
		return fmt.Errorf("%w: proposal %d", ErrInvalidSignature, p.SequenceNum)
	}
	return nil
}

// AcceptProposal validates a peer proposal and opens it as the current
// round's candidate. Accepting the already open proposal again is a
// no-op; a different proposal while one is open is rejected.
func (e *Engine) AcceptProposal(p *types.Proposal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.validateProposalLocked(p); err != nil {
		return err
	}
	if e.state.Proposal != nil {
		if types.ProposalHash(e.state.Proposal) == types.ProposalHash(p) {
			return nil
		}
		return fmt.Errorf("%w: proposal already open for seq %d", ErrWrongPhase, e.state.Proposal.SequenceNum)
	}
	if e.state.Phase != PhaseIdle {
		return fmt.Errorf("%w: %s", ErrWrongPhase, e.state.Phase)
	}
	if p.Round != e.state.Round {
		return fmt.Errorf("%w: round %d, current %d", ErrInvalidProposal, p.Round, e.state.Round)
	}

	e.state.Proposal = types.CopyProposal(p)
	e.state.Phase = PhasePrePrepare
	e.registry.MarkSeen(p.Proposer, time.Now())
	return nil
}

// --- Voting ---

// Vote signs and counts the local validator's verdict on the open
// proposal, returning a copy for broadcast.
func (e *Engine) Vote(decision types.Decision, reason string) (*types.Vote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.privVal == nil {
		return nil, ErrNoIdentity
	}
	if e.state.Proposal == nil {
		return nil, ErrNoProposal
	}
	local := e.privVal.GetPubKey()
	if e.registry.GetActive(local) == nil {
		return nil, ErrUnknownValidator
	}
	if existing, ok := e.state.Votes[local]; ok {
		if existing.Decision == decision {
			return types.CopyVote(existing), ErrAlreadyVoted
		}
		return nil, ErrConflictingVote
	}

	vote, err := e.buildVoteLocked(decision, reason)
	if err != nil {
		return nil, err
	}
	e.countVoteLocked(vote)
	return types.CopyVote(vote), nil
}

// buildVoteLocked assembles and signs a vote for the open proposal.
func (e *Engine) buildVoteLocked(decision types.Decision, reason string) (*types.Vote, error) {
	p := e.state.Proposal
	v := &types.Vote{
		SequenceNum:  p.SequenceNum,
		Round:        e.state.Round,
		ProposalHash: types.ProposalHash(p),
		Validator:    e.privVal.GetPubKey(),
		Decision:     decision,
		Timestamp:    time.Now().Unix(),
		Reason:       reason,
	}
	if err := e.privVal.SignVote(e.config.ChainID, v); err != nil {
		return nil, fmt.Errorf("sign vote: %w", err)
	}
	return v, nil
}

// ReceiveVote verifies and counts a vote from the network. An exact
// duplicate returns ErrAlreadyVoted; a conflicting vote from the same
// validator is recorded as evidence and returns ErrConflictingVote.
func (e *Engine) ReceiveVote(v *types.Vote) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if v == nil {
		return fmt.Errorf("%w: nil", ErrInvalidVote)
	}
	if err := v.ValidateBasic(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVote, err)
	}
	val := e.registry.GetActive(v.Validator)
	if val == nil {
		return fmt.Errorf("%w: voter %x", ErrUnknownValidator, v.Validator[:8])
	}
	if err := types.VerifyVoteSignature(e.config.ChainID, v, val.PublicKey); err != nil {
		return fmt.Errorf("%w: vote from %q", ErrInvalidSignature, val.Name)
	}

	// Evidence tracking sees every authenticated vote, including stale
	// ones, so equivocation in an already abandoned round is still caught.
	if e.evpool != nil {
		if ev, err := e.evpool.CheckVote(v); err != nil {
			log.Printf("WARN: engine: evidence check failed: %v", err)
		} else if ev != nil {
			log.Printf("WARN: engine: conflicting votes from %q at seq=%d", val.Name, v.SequenceNum)
			return fmt.Errorf("%w: validator %q", ErrConflictingVote, val.Name)
		}
	}

	if e.state.Proposal == nil {
		return ErrNoProposal
	}
	if v.SequenceNum != e.state.Proposal.SequenceNum ||
		v.Round != e.state.Round ||
		v.ProposalHash != types.ProposalHash(e.state.Proposal) {
		return fmt.Errorf("%w: stale vote seq=%d round=%d", ErrInvalidVote, v.SequenceNum, v.Round)
	}
	if existing, ok := e.state.Votes[v.Validator]; ok {
		if types.VotesEqual(existing, v) {
			return ErrAlreadyVoted
		}
		return fmt.Errorf("%w: validator %q", ErrConflictingVote, val.Name)
	}

	e.countVoteLocked(types.CopyVote(v))
	e.registry.MarkSeen(v.Validator, time.Now())
	return nil
}

// countVoteLocked records a verified vote and advances the phase once a
// non-proposer vote arrives.
func (e *Engine) countVoteLocked(v *types.Vote) {
	e.state.Votes[v.Validator] = v
	if e.state.Phase == PhasePrePrepare && v.Validator != e.state.Proposal.Proposer {
		e.state.Phase = PhasePrepare
	}
}

// --- Quorum and finalization ---

// CheckQuorum evaluates the vote tally for the open proposal. With fewer
// than MinActiveValidators active the result is always pending.
func (e *Engine) CheckQuorum() QuorumResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.quorumLocked()
}

func (e *Engine) quorumLocked() QuorumResult {
	active := e.registry.ActiveCount()
	if active < MinActiveValidators {
		return QuorumPending
	}
	required := RequiredApprovals(active)

	approvals, rejections := 0, 0
	for _, v := range e.state.Votes {
		switch v.Decision {
		case types.DecisionApprove:
			approvals++
		case types.DecisionReject:
			rejections++
		}
	}
	if approvals >= required {
		return QuorumApproved
	}
	// Rejection is decisive once approval is arithmetically impossible.
	if rejections > active-required {
		return QuorumRejected
	}
	return QuorumPending
}

// Finalize commits the open proposal: it re-checks quorum and the
// finalization tolerance, persists the checkpoint, and only then
// advances the height, rotates the leader and clears the round. A failed
// checkpoint write leaves the state untouched.
func (e *Engine) Finalize() (*types.Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.state.Proposal
	if p == nil {
		return nil, ErrNoProposal
	}
	if q := e.quorumLocked(); q != QuorumApproved {
		return nil, fmt.Errorf("%w: %s", ErrQuorumNotReached, q)
	}
	if math.Abs(p.DeltaSum) >= FinalizeTolerance {
		return nil, fmt.Errorf("%w: delta sum %g at finalize", ErrConservationViolated, p.DeltaSum)
	}

	voters := make([]types.PublicKey, 0, len(e.state.Votes))
	for key := range e.state.Votes {
		voters = append(voters, key)
	}
	vals := e.registry.Snapshot()
	creditFinalize(vals, p.Proposer, voters)

	committed := State{
		Height:      p.SequenceNum,
		Phase:       PhaseFinalized,
		LeaderIndex: e.state.LeaderIndex + 1,
	}
	if err := e.store.Save(committed.toData(vals)); err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}

	e.registry.Restore(vals)
	e.state.Height = p.SequenceNum
	e.state.Round = 0
	e.state.Phase = PhaseFinalized
	e.state.LeaderIndex++
	e.state.RoundDeadline = time.Time{}
	finalized := types.CopyProposal(p)
	e.state.resetRound()

	if e.evpool != nil {
		e.evpool.Update(e.state.Height, time.Now())
	}
	log.Printf("[INFO] engine: finalized seq=%d supply=%g next_leader=%d",
		finalized.SequenceNum, finalized.TotalSupply, e.state.LeaderIndex)
	return finalized, nil
}

// --- Round control ---

// BeginRound opens the next round window: after a finalization it moves
// the engine back to Idle, and in any case it arms the round deadline.
func (e *Engine) BeginRound() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase == PhaseFinalized {
		e.state.Phase = PhaseIdle
		e.state.Round = 0
	}
	e.state.RoundDeadline = time.Now().Add(e.config.timeoutFor(e.state.Round))
}

// NextRound abandons the current round: the proposal and votes are
// discarded without being counted as rejections, the round number is
// incremented and the leader rotates.
func (e *Engine) NextRound() {
	e.mu.Lock()
	defer e.mu.Unlock()

	log.Printf("[INFO] engine: advancing round %d -> %d at height %d",
		e.state.Round, e.state.Round+1, e.state.Height)
	e.state.Round++
	e.state.Phase = PhaseIdle
	e.state.LeaderIndex++
	e.state.resetRound()
	e.state.RoundDeadline = time.Now().Add(e.config.timeoutFor(e.state.Round))
}

// ShouldAdvance reports whether the round deadline has passed and the
// round should be abandoned via NextRound. It never fires for a
// finalized or unarmed round.
func (e *Engine) ShouldAdvance(now time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.state.Phase == PhaseFinalized || e.state.RoundDeadline.IsZero() {
		return false
	}
	return now.After(e.state.RoundDeadline)
}

// --- Inspection ---

func (e *Engine) Height() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Height
}

func (e *Engine) Round() uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Round
}

func (e *Engine) CurrentPhase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Phase
}

// CurrentProposal returns a copy of the open proposal, or nil.
func (e *Engine) CurrentProposal() *types.Proposal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return types.CopyProposal(e.state.Proposal)
}

// VoteCount returns the number of votes counted for the open proposal.
func (e *Engine) VoteCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.state.Votes)
}

// Metrics holds a point-in-time view of the consensus state for
// monitoring.
type Metrics struct {
	Height           uint64
	Round            uint32
	Phase            string
	Validators       int
	ActiveValidators int
	Votes            int
	LeaderName       string
	IsValidator      bool
}

// GetMetrics returns current consensus metrics.
func (e *Engine) GetMetrics() *Metrics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	leaderName := ""
	if leader := e.registry.Leader(e.state.LeaderIndex); leader != nil {
		leaderName = leader.Name
	}
	isValidator := e.privVal != nil && e.registry.GetActive(e.privVal.GetPubKey()) != nil

	return &Metrics{
		Height:           e.state.Height,
		Round:            e.state.Round,
		Phase:            e.state.Phase.String(),
		Validators:       e.registry.Size(),
		ActiveValidators: e.registry.ActiveCount(),
		Votes:            len(e.state.Votes),
		LeaderName:       leaderName,
		IsValidator:      isValidator,
	}
}
