// Package evidence collects proof of Byzantine behavior observed by the
// consensus engine. The only evidence type is the duplicate vote: two
// validly signed votes from the same validator for the same sequence and
// round that do not carry the same verdict.
package evidence

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/blockberries/ledgerberry/types"
)

// Errors
var (
	ErrDuplicateEvidence = errors.New("duplicate evidence")
	ErrNotEquivocation   = errors.New("votes do not conflict")
	ErrDifferentSlot     = errors.New("votes are for different sequence or validator")
)

// MaxSeenVotes bounds the equivocation-detection index.
const MaxSeenVotes = 100000

// DuplicateVoteEvidence proves a validator signed two conflicting votes
// for the same sequence.
type DuplicateVoteEvidence struct {
	VoteA     types.Vote `cramberry:"1"`
	VoteB     types.Vote `cramberry:"2"`
	Timestamp int64      `cramberry:"3"`
}

// Validator returns the offending validator's public key.
func (ev *DuplicateVoteEvidence) Validator() types.PublicKey {
	return ev.VoteA.Validator
}

// Verify checks that the two votes prove equivocation: same slot, same
// validator, different verdicts. Votes from different rounds of the same
// sequence do not conflict; abandoning a round and voting again in the
// next is honest behavior.
func (ev *DuplicateVoteEvidence) Verify() error {
	if ev.VoteA.Validator != ev.VoteB.Validator ||
		ev.VoteA.SequenceNum != ev.VoteB.SequenceNum ||
		ev.VoteA.Round != ev.VoteB.Round {
		return ErrDifferentSlot
	}
	if types.VotesEqual(&ev.VoteA, &ev.VoteB) {
		return ErrNotEquivocation
	}
	return nil
}

// Config holds evidence pool limits.
type Config struct {
	// MaxAge is how long evidence stays pending before it is pruned.
	MaxAge time.Duration
}

// DefaultConfig returns the default evidence pool configuration.
func DefaultConfig() Config {
	return Config{MaxAge: 48 * time.Hour}
}

// Pool tracks seen votes and the evidence distilled from conflicts.
type Pool struct {
	mu     sync.RWMutex
	config Config

	pending   []*DuplicateVoteEvidence
	byOffense map[string]struct{}
	seenVotes map[string]*types.Vote
}

// NewPool creates an evidence pool.
func NewPool(config Config) *Pool {
	return &Pool{
		config:    config,
		byOffense: make(map[string]struct{}),
		seenVotes: make(map[string]*types.Vote),
	}
}

// CheckVote records a vote and returns evidence if it conflicts with a
// previously seen vote from the same validator at the same sequence.
// Returns (nil, nil) for first-seen and identical votes.
func (p *Pool) CheckVote(vote *types.Vote) (*DuplicateVoteEvidence, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := voteKey(vote)
	existing, ok := p.seenVotes[key]
	if !ok {
		if len(p.seenVotes) >= MaxSeenVotes {
			// Index full; detection degrades but consensus continues.
			return nil, nil
		}
		p.seenVotes[key] = types.CopyVote(vote)
		return nil, nil
	}

	if types.VotesEqual(existing, vote) {
		return nil, nil
	}

	if _, dup := p.byOffense[key]; dup {
		return nil, ErrDuplicateEvidence
	}

	ev := &DuplicateVoteEvidence{
		VoteA:     *existing,
		VoteB:     *vote,
		Timestamp: time.Now().UnixNano(),
	}
	p.byOffense[key] = struct{}{}
	p.pending = append(p.pending, ev)
	return ev, nil
}

// Pending returns copies of the evidence not yet handed off.
func (p *Pool) Pending() []*DuplicateVoteEvidence {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*DuplicateVoteEvidence, len(p.pending))
	for i, ev := range p.pending {
		cp := *ev
		out[i] = &cp
	}
	return out
}

// Update prunes vote tracking below the finalized sequence and expired
// pending evidence.
func (p *Pool) Update(finalizedSeq uint64, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, vote := range p.seenVotes {
		if vote.SequenceNum <= finalizedSeq {
			delete(p.seenVotes, key)
		}
	}

	cutoff := now.Add(-p.config.MaxAge).UnixNano()
	kept := p.pending[:0]
	for _, ev := range p.pending {
		if ev.Timestamp >= cutoff {
			kept = append(kept, ev)
		}
	}
	p.pending = kept
}

// Size returns the number of pending evidence items.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pending)
}

// voteKey identifies a validator's slot at one (sequence, round).
func voteKey(v *types.Vote) string {
	var buf [12 + types.PublicKeySize]byte
	binary.BigEndian.PutUint64(buf[:8], v.SequenceNum)
	binary.BigEndian.PutUint32(buf[8:12], v.Round)
	copy(buf[12:], v.Validator[:])
	return string(buf[:])
}
