package security

import (
	"testing"
)

func TestHasher_HashAndVerify(t *testing.T) {
	h := NewHasher(4)
	hash, err := h.Hash("secret123")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "" || hash == "secret123" {
		t.Fatalf("Hash returned %q", hash)
	}
	if !h.Verify("secret123", hash) {
		t.Fatal("Verify should accept the original password")
	}
}

func TestHasher_VerifyWrongPassword(t *testing.T) {
	h := NewHasher(4)
	hash, _ := h.Hash("secret123")
	if h.Verify("secret124", hash) {
		t.Fatal("Verify with wrong password should fail")
	}
}

func TestHasher_VerifyEmptyOrMalformedHash(t *testing.T) {
	h := NewHasher(4)
	if h.Verify("secret123", "") {
		t.Error("empty hash must not match")
	}
	if h.Verify("secret123", "not-a-bcrypt-hash") {
		t.Error("malformed hash must not match")
	}
}

func TestHasher_SaltedHashesDiffer(t *testing.T) {
	h := NewHasher(4)
	a, _ := h.Hash("same-password")
	b, _ := h.Hash("same-password")
	if a == b {
		t.Error("two hashes of the same password should differ (salt)")
	}
}

func TestHasher_Cost(t *testing.T) {
	if h := NewHasher(12); h.Cost != 12 {
		t.Errorf("Cost = %d, want 12", h.Cost)
	}
	if h := NewHasher(0); h.Cost != 12 {
		t.Errorf("zero cost = %d, want default 12", h.Cost)
	}
	if h := NewHasher(2); h.Cost != 4 {
		t.Errorf("cost 2 clamped = %d, want 4", h.Cost)
	}
	if h := NewHasher(40); h.Cost != 31 {
		t.Errorf("cost 40 clamped = %d, want 31", h.Cost)
	}
}
