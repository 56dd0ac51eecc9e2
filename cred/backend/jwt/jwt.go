// Package jwt implements a public-key signer over JWS signing methods,
// for clusters where node daemons hold only the controller's public key.
package jwt

import (
	"encoding/base64"
	"fmt"

	"github.com/docker/libtrust"
	"github.com/golang-jwt/jwt/v4"

	"github.com/workload-auth/cred/cred"
)

// Signer produces detached JWS signatures over credential payloads using a
// libtrust key. The signing method follows the key type: RS256 for RSA
// keys, ES256 for EC keys.
type Signer struct {
	signingKey libtrust.PrivateKey
	method     jwt.SigningMethod
}

// interface guard
var _ cred.Signer = (*Signer)(nil)

// New returns a signer for signingKey.
func New(signingKey libtrust.PrivateKey) (*Signer, error) {
	method, err := detectSigningMethod(signingKey)
	if err != nil {
		return nil, err
	}

	return &Signer{
		signingKey: signingKey,
		method:     method,
	}, nil
}

func detectSigningMethod(signingKey libtrust.PrivateKey) (jwt.SigningMethod, error) {
	switch signingKey.KeyType() {
	case "RSA":
		return jwt.SigningMethodRS256, nil
	case "EC":
		return jwt.SigningMethodES256, nil
	default:
		return nil, fmt.Errorf("jwt: unsupported signing key type %q", signingKey.KeyType())
	}
}

func (s *Signer) Sign(payload []byte) ([]byte, error) {
	signature, err := s.method.Sign(signingString(payload), s.signingKey.CryptoPrivateKey())
	if err != nil {
		return nil, err
	}
	return []byte(signature), nil
}

func (s *Signer) Verify(payload, signature []byte) error {
	return s.method.Verify(signingString(payload), string(signature),
		s.signingKey.PublicKey().CryptoPublicKey())
}

func signingString(payload []byte) string {
	return base64.RawURLEncoding.EncodeToString(payload)
}
