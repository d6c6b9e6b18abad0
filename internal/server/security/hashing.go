// Package security holds the credential primitives: slow salted hashing for
// secrets (bcrypt) and device key generation with fingerprint derivation.
package security

import (
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies secrets using bcrypt. Callers must not log or
// persist plaintext secrets.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to the
// valid bcrypt range. Non-positive cost selects bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{cost: cost}
}

// Hash produces a bcrypt hash of secret, suitable for storage.
func (h *Hasher) Hash(secret []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(secret, h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies secret against the stored hash. Returns nil if they match.
func (h *Hasher) Compare(hash string, secret []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), secret)
}
