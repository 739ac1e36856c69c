// Package checkpoint persists the consensus state as a single overwritten
// record, giving a crashed node the height, phase and validator set to
// resume from. The protocol finalizes one sequence at a time, so no append
// log is needed: every finalize atomically replaces the previous record.
//
// Record layout: magic (4) ∥ version (4) ∥ payload length (4) ∥ crc32 of
// payload (4) ∥ cramberry-encoded ConsensusStateData.
package checkpoint

import (
	"errors"

	"github.com/blockberries/ledgerberry/types"
)

// Errors
var (
	ErrNotFound   = errors.New("checkpoint not found")
	ErrCorrupted  = errors.New("checkpoint corrupted")
	ErrBadMagic   = errors.New("checkpoint has wrong magic number")
	ErrBadVersion = errors.New("unsupported checkpoint version")
)

const (
	// Magic identifies a ledgerberry checkpoint file ("LBCP").
	Magic uint32 = 0x4C424350

	// Version is the current checkpoint format version.
	Version uint32 = 1
)

// Store persists and restores consensus state snapshots.
type Store interface {
	// Save atomically replaces the stored snapshot. A node must not
	// advance past a finalize whose Save failed.
	Save(state *types.ConsensusStateData) error

	// Load returns the stored snapshot, or ErrNotFound when no
	// checkpoint has been written yet.
	Load() (*types.ConsensusStateData, error)
}

// NopStore discards checkpoints. For tests.
type NopStore struct{}

func (NopStore) Save(*types.ConsensusStateData) error     { return nil }
func (NopStore) Load() (*types.ConsensusStateData, error) { return nil, ErrNotFound }

var _ Store = NopStore{}
