// Package blake2 implements a keyed-MAC signer for clusters where the
// controller and node daemons share a secret, in the manner of munge-style
// deployments.
package blake2

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/workload-auth/cred/cred"
)

// ErrBadSignature is returned when a MAC does not match.
var ErrBadSignature = errors.New("blake2: signature mismatch")

// Signer computes keyed BLAKE2b-256 MACs over credential payloads.
type Signer struct {
	key []byte
}

// interface guard
var _ cred.Signer = (*Signer)(nil)

// New returns a signer keyed with key. BLAKE2b accepts keys up to 64
// bytes; shorter keys are allowed but fewer than 16 bytes is refused.
func New(key []byte) (*Signer, error) {
	if len(key) < 16 {
		return nil, fmt.Errorf("blake2: key too short (%d bytes)", len(key))
	}
	if _, err := blake2b.New256(key); err != nil {
		return nil, err
	}

	k := make([]byte, len(key))
	copy(k, key)

	return &Signer{key: k}, nil
}

func (s *Signer) Sign(payload []byte) ([]byte, error) {
	h, err := blake2b.New256(s.key)
	if err != nil {
		return nil, err
	}
	h.Write(payload)
	return h.Sum(nil), nil
}

func (s *Signer) Verify(payload, signature []byte) error {
	expected, err := s.Sign(payload)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(expected, signature) != 1 {
		return ErrBadSignature
	}
	return nil
}
