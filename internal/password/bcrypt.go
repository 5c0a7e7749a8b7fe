// Package password hashes and checks account passwords with bcrypt.
package password

import (
	"errors"
	"fmt"

	"github.com/atinyakov/accounts/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor for new hashes.
const DefaultCost = 10

// MaxBytes is the longest password bcrypt accepts.
const MaxBytes = 72

// Bcrypt implements password hashing.
type Bcrypt struct {
	cost int
}

// NewBcrypt returns a hasher with the given cost, or DefaultCost when cost
// is outside bcrypt's accepted range.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Bcrypt{cost: cost}
}

// Hash returns the bcrypt digest of plaintext. Passwords longer than
// MaxBytes are rejected with a models.ErrValidation error.
func (b *Bcrypt) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxBytes {
		return "", errTooLong()
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), b.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest. A malformed digest is
// an error; a mismatch is not.
func (b *Bcrypt) Verify(plaintext, digest string) (bool, error) {
	if len(plaintext) > MaxBytes {
		return false, errTooLong()
	}
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("bcrypt: %w", err)
}

func errTooLong() error {
	return models.Errorf(models.ErrValidation, "Password must be at most %d bytes", MaxBytes)
}
