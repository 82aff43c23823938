// Package credential derives opaque tokens from room identifiers and
// passwords, and verifies supplied passwords against stored hashes.
package credential

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Hash returns the hex-encoded SHA-256 digest of input. The same input
// always yields the same token.
func Hash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// PasswordHasher turns plaintext passwords into stored hashes and checks
// candidates against them.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// DigestHasher stores the SHA-256 digest of the password and compares by
// digest equality.
type DigestHasher struct{}

// Hash implements PasswordHasher.
func (DigestHasher) Hash(password string) (string, error) {
	return Hash(password), nil
}

// Verify implements PasswordHasher.
func (DigestHasher) Verify(hash, password string) bool {
	return subtle.ConstantTimeCompare([]byte(hash), []byte(Hash(password))) == 1
}

// BcryptHasher stores salted bcrypt hashes. Cost 0 means bcrypt.DefaultCost.
type BcryptHasher struct {
	Cost int
}

// Hash implements PasswordHasher.
func (b BcryptHasher) Hash(password string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hash), nil
}

// Verify implements PasswordHasher.
func (BcryptHasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ErrUnknownHasher is returned by NewPasswordHasher for unsupported names.
var ErrUnknownHasher = errors.New("unknown password hasher")

// NewPasswordHasher maps a configuration name to a PasswordHasher.
func NewPasswordHasher(name string) (PasswordHasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sha256":
		return DigestHasher{}, nil
	case "bcrypt":
		return BcryptHasher{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownHasher, name)
	}
}
