package checkpoint

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/ledgerberry/types"
)

const (
	checkpointFilePerm = 0600
	checkpointDirPerm  = 0700
	headerSize         = 16
)

// FileStore is a file-backed checkpoint store. Save writes to a temporary
// file in the same directory and renames it over the target, so a crash
// mid-write leaves the previous checkpoint intact.
type FileStore struct {
	mu   sync.Mutex
	path string
	// sync forces an fsync before the rename on every Save.
	sync bool
}

// NewFileStore creates a FileStore at path, creating parent directories
// as needed.
func NewFileStore(path string, syncOnSave bool) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), checkpointDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileStore{path: path, sync: syncOnSave}, nil
}

// Save atomically replaces the checkpoint record.
func (s *FileStore) Save(state *types.ConsensusStateData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := cramberry.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	buf := make([]byte, headerSize, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.BigEndian.PutUint32(buf[4:8], Version)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[12:16], crc32.ChecksumIEEE(payload))
	buf = append(buf, payload...)

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, checkpointFilePerm)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint temp file: %w", err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if s.sync {
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to sync checkpoint: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// Load reads and validates the checkpoint record.
func (s *FileStore) Load() (*types.ConsensusStateData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: truncated header (%d bytes)", ErrCorrupted, len(data))
	}

	if magic := binary.BigEndian.Uint32(data[0:4]); magic != Magic {
		return nil, fmt.Errorf("%w: 0x%08X", ErrBadMagic, magic)
	}
	if version := binary.BigEndian.Uint32(data[4:8]); version != Version {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, version)
	}

	length := binary.BigEndian.Uint32(data[8:12])
	payload := data[headerSize:]
	if uint32(len(payload)) != length {
		return nil, fmt.Errorf("%w: payload length %d, header says %d",
			ErrCorrupted, len(payload), length)
	}
	if crc := binary.BigEndian.Uint32(data[12:16]); crc != crc32.ChecksumIEEE(payload) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	}

	state := &types.ConsensusStateData{}
	if err := cramberry.Unmarshal(payload, state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return state, nil
}

var _ Store = (*FileStore)(nil)
