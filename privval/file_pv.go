package privval

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blockberries/ledgerberry/types"
)

const (
	keyFilePerm   = 0600
	stateFilePerm = 0600
	pvDirPerm     = 0700
)

// FilePV is a file-backed private validator.
type FilePV struct {
	mu sync.Mutex

	keyFilePath   string
	stateFilePath string

	pubKey  types.PublicKey
	privKey ed25519.PrivateKey

	lastSignState LastSignState
}

// filePVKey is the on-disk key file structure.
type filePVKey struct {
	PubKey  []byte `json:"pub_key"`
	PrivKey []byte `json:"priv_key"`
}

// filePVState is the on-disk sign-state structure.
type filePVState struct {
	Sequence     uint64 `json:"sequence"`
	Round        uint32 `json:"round"`
	Step         int8   `json:"step"`
	ProposalHash []byte `json:"proposal_hash,omitempty"`
	Decision     uint8  `json:"decision,omitempty"`
	Signature    []byte `json:"signature,omitempty"`
	HasSigned    bool   `json:"has_signed"`
}

// LoadOrGenFilePV loads a file-backed private validator, generating a new
// key pair when the key file does not exist yet.
func LoadOrGenFilePV(keyFilePath, stateFilePath string) (*FilePV, error) {
	pv := &FilePV{
		keyFilePath:   keyFilePath,
		stateFilePath: stateFilePath,
	}
	if err := pv.loadKey(); err != nil {
		return nil, err
	}
	if err := pv.loadState(); err != nil {
		return nil, err
	}
	return pv, nil
}

func (pv *FilePV) loadKey() error {
	data, err := os.ReadFile(pv.keyFilePath)
	if os.IsNotExist(err) {
		pub, priv, genErr := ed25519.GenerateKey(nil)
		if genErr != nil {
			return fmt.Errorf("failed to generate key: %w", genErr)
		}
		pv.pubKey, _ = types.PublicKeyFromBytes(pub)
		pv.privKey = priv
		return pv.saveKey()
	}
	if err != nil {
		return fmt.Errorf("failed to read key file: %w", err)
	}

	var key filePVKey
	if err := json.Unmarshal(data, &key); err != nil {
		return fmt.Errorf("failed to parse key file: %w", err)
	}
	if len(key.PrivKey) != ed25519.PrivateKeySize {
		return fmt.Errorf("invalid private key size: %d", len(key.PrivKey))
	}
	pub, err := types.PublicKeyFromBytes(key.PubKey)
	if err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}
	pv.pubKey = pub
	pv.privKey = key.PrivKey
	return nil
}

func (pv *FilePV) saveKey() error {
	if err := os.MkdirAll(filepath.Dir(pv.keyFilePath), pvDirPerm); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	key := filePVKey{
		PubKey:  pv.pubKey[:],
		PrivKey: pv.privKey,
	}
	data, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}
	if err := os.WriteFile(pv.keyFilePath, data, keyFilePerm); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

func (pv *FilePV) loadState() error {
	data, err := os.ReadFile(pv.stateFilePath)
	if os.IsNotExist(err) {
		pv.lastSignState = LastSignState{}
		return pv.saveState()
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var state filePVState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}

	pv.lastSignState = LastSignState{
		Sequence:  state.Sequence,
		Round:     state.Round,
		Step:      state.Step,
		Decision:  types.Decision(state.Decision),
		HasSigned: state.HasSigned,
	}
	if len(state.ProposalHash) > 0 {
		h, err := types.HashFromBytes(state.ProposalHash)
		if err != nil {
			return fmt.Errorf("invalid proposal hash in state file: %w", err)
		}
		pv.lastSignState.ProposalHash = h
	}
	if len(state.Signature) > 0 {
		sig, err := types.SignatureFromBytes(state.Signature)
		if err != nil {
			return fmt.Errorf("invalid signature in state file: %w", err)
		}
		pv.lastSignState.Signature = sig
	}
	return nil
}

func (pv *FilePV) saveState() error {
	if err := os.MkdirAll(filepath.Dir(pv.stateFilePath), pvDirPerm); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	state := filePVState{
		Sequence:  pv.lastSignState.Sequence,
		Round:     pv.lastSignState.Round,
		Step:      pv.lastSignState.Step,
		Decision:  uint8(pv.lastSignState.Decision),
		HasSigned: pv.lastSignState.HasSigned,
	}
	if pv.lastSignState.HasSigned {
		state.ProposalHash = pv.lastSignState.ProposalHash[:]
		state.Signature = pv.lastSignState.Signature[:]
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.WriteFile(pv.stateFilePath, data, stateFilePerm); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// GetPubKey returns the validator's public key.
func (pv *FilePV) GetPubKey() types.PublicKey {
	return pv.pubKey
}

// SignProposal signs a proposal over its canonical hash.
func (pv *FilePV) SignProposal(chainID string, p *types.Proposal) error {
	pv.mu.Lock()
	defer pv.mu.Unlock()

	hash := types.ProposalHash(p)
	if err := pv.lastSignState.CheckSRS(p.SequenceNum, p.Round, StepProposal); err != nil {
		if err == ErrDoubleSign && pv.lastSignState.ProposalHash == hash {
			p.Signature = pv.lastSignState.Signature
			return nil
		}
		return err
	}

	sig := ed25519.Sign(pv.privKey, types.ProposalSignBytes(chainID, p))
	p.Signature, _ = types.SignatureFromBytes(sig)

	pv.lastSignState = LastSignState{
		Sequence:     p.SequenceNum,
		Round:        p.Round,
		Step:         StepProposal,
		ProposalHash: hash,
		Signature:    p.Signature,
		HasSigned:    true,
	}
	return pv.saveState()
}

// SignVote signs a vote, refusing to sign two different votes for the same
// (sequence, round).
func (pv *FilePV) SignVote(chainID string, v *types.Vote) error {
	pv.mu.Lock()
	defer pv.mu.Unlock()

	if err := pv.lastSignState.CheckSRS(v.SequenceNum, v.Round, StepVote); err != nil {
		if err == ErrDoubleSign && pv.isSameVote(v) {
			v.Signature = pv.lastSignState.Signature
			return nil
		}
		return err
	}

	sig := ed25519.Sign(pv.privKey, types.VoteSignBytes(chainID, v))
	v.Signature, _ = types.SignatureFromBytes(sig)

	pv.lastSignState = LastSignState{
		Sequence:     v.SequenceNum,
		Round:        v.Round,
		Step:         StepVote,
		ProposalHash: v.ProposalHash,
		Decision:     v.Decision,
		Signature:    v.Signature,
		HasSigned:    true,
	}
	return pv.saveState()
}

func (pv *FilePV) isSameVote(v *types.Vote) bool {
	return pv.lastSignState.ProposalHash == v.ProposalHash &&
		pv.lastSignState.Decision == v.Decision
}

// Reset clears the last-sign state. Only for tests and chain resets.
func (pv *FilePV) Reset() error {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	pv.lastSignState = LastSignState{}
	return pv.saveState()
}

var _ PrivValidator = (*FilePV)(nil)
