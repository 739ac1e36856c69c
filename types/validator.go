package types

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrEmptyValidatorKey  = errors.New("validator has empty public key")
	ErrEmptyValidatorName = errors.New("validator has empty name")
	ErrBadReputation      = errors.New("reputation outside [0,1]")
)

// Validator is a registered consensus participant. Removal is a soft
// delete: Active becomes false and the entry stays in the registry so that
// historical votes remain attributable.
type Validator struct {
	PublicKey       PublicKey `cramberry:"1"`
	Name            string    `cramberry:"2"`
	JoinedAt        int64     `cramberry:"3"`
	LastSeen        int64     `cramberry:"4"`
	ProposalCount   uint64    `cramberry:"5"`
	ValidationCount uint64    `cramberry:"6"`
	Reputation      float64   `cramberry:"7"`
	Active          bool      `cramberry:"8"`
}

// ValidateBasic performs stateless validation of a validator record.
func (v *Validator) ValidateBasic() error {
	if IsPublicKeyEmpty(v.PublicKey) {
		return ErrEmptyValidatorKey
	}
	if v.Name == "" {
		return ErrEmptyValidatorName
	}
	if v.Reputation < 0 || v.Reputation > 1 {
		return fmt.Errorf("%w: %f", ErrBadReputation, v.Reputation)
	}
	return nil
}

// CopyValidator returns a copy of the validator record.
func CopyValidator(v *Validator) *Validator {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
