// Package password digests and checks account passwords.
//
// SHA256 reproduces the scheme already used for stored accounts: a single
// unsalted SHA-256 round rendered as lowercase hex. It is kept so existing
// digests keep verifying. Bcrypt is the salted, adaptive replacement and is
// selected through configuration.
package password

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	SchemeSHA256 = "sha256"
	SchemeBcrypt = "bcrypt"
)

var ErrUnknownScheme = errors.New("unknown password scheme")

// Verifier turns a plaintext secret into a storable digest and checks a
// secret against a previously stored digest.
type Verifier interface {
	Digest(secret string) (string, error)
	Matches(secret, digest string) bool
}

// New returns the verifier for the configured scheme.
func New(scheme string) (Verifier, error) {
	switch scheme {
	case "", SchemeSHA256:
		return SHA256{}, nil
	case SchemeBcrypt:
		return Bcrypt{Cost: bcrypt.DefaultCost}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
}

type SHA256 struct{}

func (SHA256) Digest(secret string) (string, error) {
	return SHA256Hex(secret), nil
}

func (SHA256) Matches(secret, digest string) bool {
	got := SHA256Hex(secret)
	return subtle.ConstantTimeCompare([]byte(got), []byte(digest)) == 1
}

// SHA256Hex is the deterministic digest used by the SHA256 verifier.
func SHA256Hex(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

type Bcrypt struct {
	Cost int
}

func (b Bcrypt) Digest(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), b.Cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (b Bcrypt) Matches(secret, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)) == nil
}
