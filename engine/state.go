package engine

import (
	"bytes"
	"sort"
	"time"

	"github.com/blockberries/ledgerberry/types"
)

// Phase is a stage of the consensus round.
type Phase uint8

const (
	// PhaseIdle means no proposal is open; the leader may propose.
	PhaseIdle Phase = iota

	// PhasePrePrepare means a proposal has been accepted and only the
	// proposer has voted so far.
	PhasePrePrepare

	// PhasePrepare means at least one non-proposer vote has been
	// counted.
	PhasePrepare

	// PhaseFinalized means the proposal reached quorum and was
	// committed; BeginRound starts the next height.
	PhaseFinalized
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePrePrepare:
		return "pre_prepare"
	case PhasePrepare:
		return "prepare"
	case PhaseFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// State is the mutable round state owned by an Engine. Height is the last
// finalized sequence number; an open proposal always carries Height+1.
type State struct {
	Height        uint64
	Round         uint32
	Phase         Phase
	Proposal      *types.Proposal
	Votes         map[types.PublicKey]*types.Vote
	LeaderIndex   uint32
	RoundDeadline time.Time
}

func newState() *State {
	return &State{
		Votes: make(map[types.PublicKey]*types.Vote),
	}
}

func (s *State) resetRound() {
	s.Proposal = nil
	s.Votes = make(map[types.PublicKey]*types.Vote)
}

// sortedVotes returns the counted votes ordered by validator key so that
// serialized state is deterministic.
func (s *State) sortedVotes() []types.Vote {
	votes := make([]types.Vote, 0, len(s.Votes))
	for _, v := range s.Votes {
		votes = append(votes, *v)
	}
	sort.Slice(votes, func(i, j int) bool {
		return bytes.Compare(votes[i].Validator[:], votes[j].Validator[:]) < 0
	})
	return votes
}

// toData assembles a serializable snapshot from the round state and the
// given validator set.
func (s *State) toData(validators []types.Validator) *types.ConsensusStateData {
	var deadline int64
	if !s.RoundDeadline.IsZero() {
		deadline = s.RoundDeadline.Unix()
	}
	return &types.ConsensusStateData{
		Validators:    validators,
		Height:        s.Height,
		Round:         s.Round,
		Phase:         uint8(s.Phase),
		Proposal:      types.CopyProposal(s.Proposal),
		Votes:         s.sortedVotes(),
		LeaderIndex:   s.LeaderIndex,
		RoundDeadline: deadline,
	}
}

// fromData restores the round state from a checkpoint snapshot.
func (s *State) fromData(data *types.ConsensusStateData) {
	s.Height = data.Height
	s.Round = data.Round
	s.Phase = Phase(data.Phase)
	s.Proposal = types.CopyProposal(data.Proposal)
	s.Votes = make(map[types.PublicKey]*types.Vote, len(data.Votes))
	for i := range data.Votes {
		v := data.Votes[i]
		s.Votes[v.Validator] = &v
	}
	s.LeaderIndex = data.LeaderIndex
	if data.RoundDeadline > 0 {
		s.RoundDeadline = time.Unix(data.RoundDeadline, 0)
	} else {
		s.RoundDeadline = time.Time{}
	}
}
