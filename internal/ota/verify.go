package ota

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sweeney/camnode/internal/fault"
)

// Verifier checks image digests against descriptors.
type Verifier struct {
	key ed25519.PublicKey
}

// NewVerifier parses a hex-encoded ed25519 public key. An empty key yields a
// nil Verifier; updates are then reported but never applied.
func NewVerifier(hexKey string) (*Verifier, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: ota public key: %v", fault.ErrConfigInconsistent, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: ota public key is %d bytes, want %d",
			fault.ErrConfigInconsistent, len(raw), ed25519.PublicKeySize)
	}
	return &Verifier{key: ed25519.PublicKey(raw)}, nil
}

// Verify checks that digest matches d.SHA256 and that d.Signature is a valid
// signature over it.
func (v *Verifier) Verify(digest []byte, d Descriptor) error {
	want, err := hex.DecodeString(d.SHA256)
	if err != nil {
		return fmt.Errorf("%w: bad digest in descriptor: %v", fault.ErrVerification, err)
	}
	if !bytes.Equal(digest, want) {
		return fmt.Errorf("%w: digest mismatch", fault.ErrVerification)
	}
	sig, err := hex.DecodeString(d.Signature)
	if err != nil {
		return fmt.Errorf("%w: bad signature encoding: %v", fault.ErrVerification, err)
	}
	if !ed25519.Verify(v.key, digest, sig) {
		return fmt.Errorf("%w: signature invalid", fault.ErrVerification)
	}
	return nil
}
