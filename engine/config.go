package engine

import (
	"errors"
	"time"
)

const (
	// QuorumFraction is the share of active validators whose approval is
	// required to finalize; the required count is ceil(fraction * active).
	QuorumFraction = 0.67

	// MinActiveValidators is the floor below which quorum evaluation
	// stays pending regardless of votes received.
	MinActiveValidators = 3

	// ValidateTolerance bounds |deltaSum| for a proposal to be accepted.
	ValidateTolerance = 1e-12

	// FinalizeTolerance bounds |deltaSum| at finalization. It is looser
	// than ValidateTolerance to absorb float error accumulated across
	// the batch between proposal construction and commit.
	FinalizeTolerance = 1e-9
)

// Config holds the tunable parameters of a consensus engine. The zero
// value is not usable; start from DefaultConfig.
type Config struct {
	// ChainID namespaces every signature so that proposals and votes
	// cannot be replayed across chains or shards.
	ChainID string

	// RoundTimeout is the base duration of a consensus round. A round
	// that has not finalized when the deadline passes should be
	// abandoned via NextRound.
	RoundTimeout time.Duration

	// RoundTimeoutDelta is added per round number, so repeated failed
	// rounds back off linearly.
	RoundTimeoutDelta time.Duration

	// MaxValidators caps the registry size, counting soft-deleted
	// entries.
	MaxValidators int
}

func DefaultConfig() Config {
	return Config{
		ChainID:           "ledgerberry-dev",
		RoundTimeout:      5 * time.Second,
		RoundTimeoutDelta: 500 * time.Millisecond,
		MaxValidators:     128,
	}
}

func (c Config) ValidateBasic() error {
	if c.ChainID == "" {
		return errors.New("chain id must not be empty")
	}
	if c.RoundTimeout <= 0 {
		return errors.New("round timeout must be positive")
	}
	if c.RoundTimeoutDelta < 0 {
		return errors.New("round timeout delta must not be negative")
	}
	if c.MaxValidators < 1 {
		return errors.New("max validators must be at least 1")
	}
	return nil
}

// timeoutFor returns the deadline duration for the given round.
func (c Config) timeoutFor(round uint32) time.Duration {
	return c.RoundTimeout + time.Duration(round)*c.RoundTimeoutDelta
}
