package checkpoint

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/blockberries/ledgerberry/types"
)

func makeTestState() *types.ConsensusStateData {
	var pk types.PublicKey
	pk[0] = 7
	return &types.ConsensusStateData{
		Validators: []types.Validator{
			{PublicKey: pk, Name: "alice", Reputation: 0.5, Active: true},
		},
		Height:      42,
		Round:       1,
		Phase:       3,
		LeaderIndex: 5,
	}
}

func makeTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "consensus_state.db")
	store, err := NewFileStore(path, false)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store, path
}

// TestLoadMissingFile verifies a fresh store reports ErrNotFound
func TestLoadMissingFile(t *testing.T) {
	store, _ := makeTestStore(t)
	if _, err := store.Load(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load = %v, want ErrNotFound", err)
	}
}

// TestSaveLoadRoundTrip verifies a saved snapshot loads back intact
func TestSaveLoadRoundTrip(t *testing.T) {
	store, _ := makeTestStore(t)
	state := makeTestState()

	if err := store.Save(state); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Height != state.Height || loaded.Round != state.Round ||
		loaded.Phase != state.Phase || loaded.LeaderIndex != state.LeaderIndex {
		t.Errorf("loaded = %+v, want %+v", loaded, state)
	}
	if len(loaded.Validators) != 1 || loaded.Validators[0].Name != "alice" {
		t.Errorf("validators did not survive the round trip: %+v", loaded.Validators)
	}
}

// TestSaveOverwrites verifies only the latest snapshot is kept
func TestSaveOverwrites(t *testing.T) {
	store, _ := makeTestStore(t)

	first := makeTestState()
	if err := store.Save(first); err != nil {
		t.Fatalf("Save first: %v", err)
	}
	second := makeTestState()
	second.Height = 43
	if err := store.Save(second); err != nil {
		t.Fatalf("Save second: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Height != 43 {
		t.Errorf("loaded height = %d, want 43", loaded.Height)
	}
}

// TestLoadDetectsCorruption verifies a flipped payload byte fails the
// checksum
func TestLoadDetectsCorruption(t *testing.T) {
	store, path := makeTestStore(t)
	if err := store.Save(makeTestState()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := store.Load(); !errors.Is(err, ErrCorrupted) {
		t.Errorf("Load corrupted = %v, want ErrCorrupted", err)
	}
}

// TestLoadDetectsBadMagic verifies a foreign file is refused before any
// payload parsing
func TestLoadDetectsBadMagic(t *testing.T) {
	store, path := makeTestStore(t)
	if err := store.Save(makeTestState()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	binary.BigEndian.PutUint32(data[0:4], 0xDEADBEEF)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := store.Load(); !errors.Is(err, ErrBadMagic) {
		t.Errorf("Load = %v, want ErrBadMagic", err)
	}
}

// TestLoadDetectsBadVersion verifies an unknown format version is
// refused
func TestLoadDetectsBadVersion(t *testing.T) {
	store, path := makeTestStore(t)
	if err := store.Save(makeTestState()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	binary.BigEndian.PutUint32(data[4:8], Version+1)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := store.Load(); !errors.Is(err, ErrBadVersion) {
		t.Errorf("Load = %v, want ErrBadVersion", err)
	}
}

// TestLoadDetectsTruncation verifies a truncated record is reported as
// corrupted
func TestLoadDetectsTruncation(t *testing.T) {
	store, path := makeTestStore(t)
	if err := store.Save(makeTestState()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if err := os.WriteFile(path, data[:len(data)-3], 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := store.Load(); !errors.Is(err, ErrCorrupted) {
		t.Errorf("Load truncated = %v, want ErrCorrupted", err)
	}
}
