package service

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// TokenHasher one-way hashes opaque session tokens. bcrypt salts every hash,
// so equal tokens produce different hashes and no index lookup by token is
// possible; verification always recomputes against the stored salt.
type TokenHasher struct {
	cost int

	// dummyHash is compared against when no real hash is available, so an
	// unknown id costs the same as a wrong token.
	dummyHash string
}

// NewTokenHasher creates a hasher with the given bcrypt cost.
// Out-of-range costs fall back to bcrypt.DefaultCost.
func NewTokenHasher(cost int) *TokenHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.New().String()), cost)
	if err != nil {
		// Only reachable with a broken cost, which is guarded above.
		log.Printf("[TokenHasher] Failed to generate dummy hash: %v", err)
	}
	return &TokenHasher{cost: cost, dummyHash: string(dummy)}
}

// Hash one-way transforms a session token into a storable hash.
func (h *TokenHasher) Hash(token string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash session token: %w", err)
	}
	return string(hashed), nil
}

// Verify recomputes the presented token against a stored hash. It never
// errors on user input; a malformed stored hash verifies as false after
// being logged (it means the row is corrupt, not that the caller is wrong).
func (h *TokenHasher) Verify(token, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
	if err == nil {
		return true
	}
	if err != bcrypt.ErrMismatchedHashAndPassword {
		log.Printf("[TokenHasher] Stored hash is malformed: %v", err)
	}
	return false
}

// VerifyDummy burns one bcrypt comparison without a real hash, keeping the
// unknown-id path timing-equivalent to a wrong-token path.
func (h *TokenHasher) VerifyDummy(token string) {
	_ = bcrypt.CompareHashAndPassword([]byte(h.dummyHash), []byte(token))
}
