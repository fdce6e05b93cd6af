package password

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newFastHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	return h
}

func TestNewHasherCostRange(t *testing.T) {
	if _, err := NewHasher(bcrypt.MinCost - 1); err == nil {
		t.Fatalf("expected error below min cost")
	}
	if _, err := NewHasher(bcrypt.MaxCost + 1); err == nil {
		t.Fatalf("expected error above max cost")
	}
	if _, err := NewHasher(bcrypt.DefaultCost); err != nil {
		t.Fatalf("default cost: %v", err)
	}
}

func TestHashAndVerify(t *testing.T) {
	h := newFastHasher(t)

	hashed, err := h.Hash("correct-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(hashed, "$2") {
		t.Fatalf("expected bcrypt prefix, got %q", hashed)
	}

	res := h.Verify("correct-password", hashed)
	if !res.Matched || res.NeedsUpgrade {
		t.Fatalf("expected clean match, got %+v", res)
	}
	if res := h.Verify("wrong-password", hashed); res.Matched {
		t.Fatalf("wrong password must not match")
	}
}

func TestHashRejectsEmpty(t *testing.T) {
	h := newFastHasher(t)
	if _, err := h.Hash(""); err == nil {
		t.Fatalf("expected error for empty password")
	}
}

func TestVerifyLegacyPlaintext(t *testing.T) {
	h := newFastHasher(t)

	res := h.Verify("correct horse battery staple", "correct horse battery staple")
	if !res.Matched || !res.NeedsUpgrade {
		t.Fatalf("expected match with upgrade flag, got %+v", res)
	}
	if res := h.Verify("wrong", "correct horse battery staple"); res.Matched {
		t.Fatalf("wrong plaintext must not match")
	}
}

func TestVerifyEmptyInputsFailClosed(t *testing.T) {
	h := newFastHasher(t)

	for _, tc := range [][2]string{
		{"", ""},
		{"", "stored"},
		{"plain", ""},
	} {
		if res := h.Verify(tc[0], tc[1]); res.Matched {
			t.Fatalf("Verify(%q, %q) must not match", tc[0], tc[1])
		}
	}
}

func TestVerifyMalformedHashFailsClosed(t *testing.T) {
	h := newFastHasher(t)

	// A bcrypt prefix with garbage after it must not fall back to the
	// plaintext path.
	if res := h.Verify("$2a$garbage", "$2a$garbage"); res.Matched {
		t.Fatalf("malformed hash must not match itself")
	}
}
