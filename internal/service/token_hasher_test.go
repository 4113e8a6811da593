package service

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestTokenHasher_HashAndVerify(t *testing.T) {
	h := NewTokenHasher(bcrypt.MinCost)

	hash, err := h.Hash("session-token-abc")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if hash == "session-token-abc" {
		t.Error("hash must never equal the raw token")
	}

	if !h.Verify("session-token-abc", hash) {
		t.Error("correct token should verify")
	}

	if h.Verify("session-token-abd", hash) {
		t.Error("wrong token should not verify")
	}
}

func TestTokenHasher_SaltedHashesDiffer(t *testing.T) {
	h := NewTokenHasher(bcrypt.MinCost)

	first, err := h.Hash("same-token")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	second, err := h.Hash("same-token")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	// Per-record salts: equal tokens must not produce equal hashes, which is
	// what makes direct index lookup by token impossible.
	if first == second {
		t.Error("two hashes of the same token should differ")
	}

	if !h.Verify("same-token", first) || !h.Verify("same-token", second) {
		t.Error("both salted hashes should verify the original token")
	}
}

func TestTokenHasher_NeverErrorsOnUserInput(t *testing.T) {
	h := NewTokenHasher(bcrypt.MinCost)

	// Malformed stored hash is a false, not a panic or error.
	if h.Verify("anything", "not-a-bcrypt-hash") {
		t.Error("malformed stored hash should verify as false")
	}

	if h.Verify("", "") {
		t.Error("empty inputs should verify as false")
	}

	// bcrypt only uses the first 72 bytes; long tokens must still hash.
	long := strings.Repeat("x", 70)
	hash, err := h.Hash(long)
	if err != nil {
		t.Fatalf("expected no error for long token, got: %v", err)
	}
	if !h.Verify(long, hash) {
		t.Error("long token should verify against its own hash")
	}
}

func TestTokenHasher_OutOfRangeCostFallsBack(t *testing.T) {
	h := NewTokenHasher(999)

	hash, err := h.Hash("token")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !h.Verify("token", hash) {
		t.Error("hasher with clamped cost should still round-trip")
	}
}
