package engine

import (
	"bytes"
	"testing"
	"time"

	"github.com/blockberries/ledgerberry/types"
)

// TestStateDataRoundTrip verifies a round state survives serialization to
// checkpoint form and back
func TestStateDataRoundTrip(t *testing.T) {
	proposal := &types.Proposal{
		SequenceNum: 8,
		Round:       2,
		TotalSupply: 1000000,
		Timestamp:   time.Now().Unix(),
		Proposer:    types.PublicKey{0x01},
		TxCount:     3,
	}
	deadline := time.Unix(time.Now().Unix(), 0)

	state := &State{
		Height:        7,
		Round:         2,
		Phase:         PhasePrepare,
		Proposal:      proposal,
		Votes:         make(map[types.PublicKey]*types.Vote),
		LeaderIndex:   4,
		RoundDeadline: deadline,
	}
	for _, b := range []byte{0x30, 0x10, 0x20} {
		key := types.PublicKey{b}
		state.Votes[key] = &types.Vote{
			SequenceNum: 8,
			Round:       2,
			Validator:   key,
			Decision:    types.DecisionApprove,
		}
	}

	data := state.toData(nil)

	restored := &State{}
	restored.fromData(data)
	if restored.Height != state.Height || restored.Round != state.Round ||
		restored.Phase != state.Phase || restored.LeaderIndex != state.LeaderIndex {
		t.Errorf("restored round state = %+v, want %+v", restored, state)
	}
	if restored.Proposal == nil || *restored.Proposal != *proposal {
		t.Error("restored proposal differs from the original")
	}
	if !restored.RoundDeadline.Equal(deadline) {
		t.Errorf("restored deadline = %v, want %v", restored.RoundDeadline, deadline)
	}
	if len(restored.Votes) != len(state.Votes) {
		t.Fatalf("restored %d votes, want %d", len(restored.Votes), len(state.Votes))
	}
	for key, want := range state.Votes {
		got, ok := restored.Votes[key]
		if !ok || *got != *want {
			t.Errorf("vote for %x lost or altered in the round trip", key[:4])
		}
	}
}

// TestStateDataZeroRound verifies the freshly committed form a
// finalization persists: no proposal, no votes, a cleared deadline
func TestStateDataZeroRound(t *testing.T) {
	committed := State{
		Height:      3,
		Phase:       PhaseFinalized,
		LeaderIndex: 1,
	}
	vals := []types.Validator{{PublicKey: types.PublicKey{0x01}, Name: "val-0"}}

	data := committed.toData(vals)
	if data.Proposal != nil {
		t.Error("committed state should carry no proposal")
	}
	if len(data.Votes) != 0 {
		t.Errorf("committed state carries %d votes, want 0", len(data.Votes))
	}
	if data.RoundDeadline != 0 {
		t.Errorf("committed deadline = %d, want 0", data.RoundDeadline)
	}
	if data.Height != 3 || Phase(data.Phase) != PhaseFinalized || data.LeaderIndex != 1 {
		t.Errorf("committed fields = height %d phase %d leader %d", data.Height, data.Phase, data.LeaderIndex)
	}
	if len(data.Validators) != 1 || data.Validators[0].Name != "val-0" {
		t.Error("validator set should be carried through unchanged")
	}
}

// TestSortedVotesDeterministic verifies serialized votes come out ordered
// by validator key regardless of map iteration order
func TestSortedVotesDeterministic(t *testing.T) {
	state := newState()
	for b := byte(1); b <= 9; b++ {
		key := types.PublicKey{0xF0 - b}
		state.Votes[key] = &types.Vote{Validator: key, Decision: types.DecisionApprove}
	}

	votes := state.sortedVotes()
	if len(votes) != 9 {
		t.Fatalf("sorted %d votes, want 9", len(votes))
	}
	for i := 1; i < len(votes); i++ {
		if bytes.Compare(votes[i-1].Validator[:], votes[i].Validator[:]) >= 0 {
			t.Fatalf("votes out of order at position %d", i)
		}
	}
}
