package engine

import (
	"errors"
	"fmt"
	"log"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/ledgerberry/types"
)

// ConsensusMessageType identifies the type of a consensus wire message.
type ConsensusMessageType uint8

const (
	ConsensusMessageTypeProposal ConsensusMessageType = 1
	ConsensusMessageTypeVote     ConsensusMessageType = 2
)

var ErrInvalidMessage = errors.New("invalid consensus message")

// EncodeProposalMessage encodes a proposal with its type prefix for
// network transmission.
func EncodeProposalMessage(p *types.Proposal) ([]byte, error) {
	payload, err := cramberry.Marshal(p)
	if err != nil {
		return nil, err
	}
	msg := make([]byte, 1+len(payload))
	msg[0] = byte(ConsensusMessageTypeProposal)
	copy(msg[1:], payload)
	return msg, nil
}

// EncodeVoteMessage encodes a vote with its type prefix for network
// transmission.
func EncodeVoteMessage(v *types.Vote) ([]byte, error) {
	payload, err := cramberry.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := make([]byte, 1+len(payload))
	msg[0] = byte(ConsensusMessageTypeVote)
	copy(msg[1:], payload)
	return msg, nil
}

// HandleConsensusMessage decodes and applies a consensus message from the
// network. Messages are prefixed with a single type byte. An accepted
// peer proposal triggers the local validator's own Approve vote, which is
// handed to the vote broadcaster.
func (e *Engine) HandleConsensusMessage(peerID string, data []byte) error {
	if len(data) < 2 {
		return ErrInvalidMessage
	}
	msgType := ConsensusMessageType(data[0])
	payload := data[1:]

	switch msgType {
	case ConsensusMessageTypeProposal:
		p := &types.Proposal{}
		if err := cramberry.Unmarshal(payload, p); err != nil {
			return fmt.Errorf("%w: unmarshal proposal: %v", ErrInvalidMessage, err)
		}
		return e.handleProposal(peerID, p)

	case ConsensusMessageTypeVote:
		v := &types.Vote{}
		if err := cramberry.Unmarshal(payload, v); err != nil {
			return fmt.Errorf("%w: unmarshal vote: %v", ErrInvalidMessage, err)
		}
		return e.ReceiveVote(v)

	default:
		return fmt.Errorf("%w: %d", ErrUnknownMessageType, msgType)
	}
}

// handleProposal accepts a peer proposal and, when the local node is an
// active non-proposing validator, votes Approve. Invalid proposals are
// dropped without a vote; an honest validator does not vote on a
// transition it could not verify.
func (e *Engine) handleProposal(peerID string, p *types.Proposal) error {
	if err := e.AcceptProposal(p); err != nil {
		log.Printf("WARN: engine: dropped proposal from %s: %v", peerID, err)
		return err
	}

	if e.privVal == nil || e.privVal.GetPubKey() == p.Proposer || !e.IsValidator() {
		return nil
	}
	vote, err := e.Vote(types.DecisionApprove, "")
	if err != nil {
		if errors.Is(err, ErrAlreadyVoted) {
			return nil
		}
		return fmt.Errorf("vote on proposal: %w", err)
	}
	e.BroadcastVote(vote)
	return nil
}

// BroadcastProposal hands a proposal to the configured broadcaster.
func (e *Engine) BroadcastProposal(p *types.Proposal) {
	e.mu.RLock()
	fn := e.proposalBroadcast
	e.mu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

// BroadcastVote hands a vote to the configured broadcaster.
func (e *Engine) BroadcastVote(v *types.Vote) {
	e.mu.RLock()
	fn := e.voteBroadcast
	e.mu.RUnlock()

	if fn != nil {
		fn(v)
	}
}
