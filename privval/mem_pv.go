package privval

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/blockberries/ledgerberry/types"
)

// MemPV is an in-memory private validator. It enforces the same
// double-sign rules as FilePV but persists nothing; intended for tests
// and ephemeral tooling, never for production validators.
type MemPV struct {
	mu sync.Mutex

	pubKey  types.PublicKey
	privKey ed25519.PrivateKey

	lastSignState LastSignState
}

// GenMemPV generates an in-memory private validator with a fresh key pair.
func GenMemPV() *MemPV {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		panic(fmt.Sprintf("privval: key generation failed: %v", err))
	}
	pubKey, _ := types.PublicKeyFromBytes(pub)
	return &MemPV{pubKey: pubKey, privKey: priv}
}

// GetPubKey returns the validator's public key.
func (pv *MemPV) GetPubKey() types.PublicKey {
	return pv.pubKey
}

// SignProposal signs a proposal over its canonical hash.
func (pv *MemPV) SignProposal(chainID string, p *types.Proposal) error {
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
	return nil
}

// SignVote signs a vote with double-sign prevention.
func (pv *MemPV) SignVote(chainID string, v *types.Vote) error {
	pv.mu.Lock()
	defer pv.mu.Unlock()

	if err := pv.lastSignState.CheckSRS(v.SequenceNum, v.Round, StepVote); err != nil {
		if err == ErrDoubleSign &&
			pv.lastSignState.ProposalHash == v.ProposalHash &&
			pv.lastSignState.Decision == v.Decision {
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
	return nil
}

var _ PrivValidator = (*MemPV)(nil)
