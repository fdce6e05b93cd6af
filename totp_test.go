package authgate

import (
	"testing"
	"time"
)

// Vectors from RFC 6238 appendix B, 8 digits with the 30 second step.
func TestHOTPReferenceVectors(t *testing.T) {
	sha1Secret := []byte("12345678901234567890")
	sha256Secret := []byte("12345678901234567890123456789012")
	sha512Secret := []byte("1234567890123456789012345678901234567890123456789012345678901234")

	cases := []struct {
		secret    []byte
		algorithm string
		unix      int64
		want      string
	}{
		{sha1Secret, "SHA1", 59, "94287082"},
		{sha1Secret, "SHA1", 1111111109, "07081804"},
		{sha1Secret, "SHA1", 1111111111, "14050471"},
		{sha1Secret, "SHA1", 1234567890, "89005924"},
		{sha1Secret, "SHA1", 2000000000, "69279037"},
		{sha1Secret, "SHA1", 20000000000, "65353130"},
		{sha256Secret, "SHA256", 59, "46119246"},
		{sha512Secret, "SHA512", 59, "90693936"},
	}

	for _, tc := range cases {
		got, err := hotpCode(tc.secret, tc.unix/30, 8, tc.algorithm)
		if err != nil {
			t.Fatalf("%s T=%d: %v", tc.algorithm, tc.unix, err)
		}
		if got != tc.want {
			t.Fatalf("%s T=%d: got %s, want %s", tc.algorithm, tc.unix, got, tc.want)
		}
	}
}

func TestHOTPUnsupportedAlgorithm(t *testing.T) {
	if _, err := hotpCode([]byte("secret"), 1, 6, "MD5"); err == nil {
		t.Fatalf("expected error for unsupported algorithm")
	}
}

func TestVerifyCodeWithinSkewWindow(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Issuer: "edusphere", Digits: 6, Period: 30, Algorithm: "SHA1"})
	secret := []byte("12345678901234567890")
	now := time.Unix(1000000000, 0)
	base := now.Unix() / 30

	codeAt := func(counter int64) string {
		t.Helper()
		code, err := hotpCode(secret, counter, 6, "SHA1")
		if err != nil {
			t.Fatalf("hotp: %v", err)
		}
		return code
	}

	cases := []struct {
		name    string
		counter int64
		skew    int
		want    bool
	}{
		{"current step", base, 0, true},
		{"previous step within skew", base - 1, 1, true},
		{"next step within skew", base + 1, 1, true},
		{"two steps back outside login skew", base - 2, 1, false},
		{"two steps back within setup skew", base - 2, 2, true},
		{"two steps ahead within setup skew", base + 2, 2, true},
		{"three steps back outside setup skew", base - 3, 2, false},
	}
	for _, tc := range cases {
		ok, err := m.VerifyCode(secret, codeAt(tc.counter), now, tc.skew)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if ok != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, ok, tc.want)
		}
	}
}

func TestVerifyCodeInputValidation(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Issuer: "edusphere", Digits: 6, Period: 30, Algorithm: "SHA1"})
	secret := []byte("12345678901234567890")
	now := time.Unix(1000000000, 0)

	for _, code := range []string{"", "12345", "1234567", "12a456", "　12345"} {
		ok, err := m.VerifyCode(secret, code, now, 1)
		if err != nil {
			t.Fatalf("code %q: %v", code, err)
		}
		if ok {
			t.Fatalf("code %q must not verify", code)
		}
	}

	// Surrounding whitespace is tolerated.
	valid, err := hotpCode(secret, now.Unix()/30, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotp: %v", err)
	}
	ok, err := m.VerifyCode(secret, "  "+valid+"\n", now, 0)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("trimmed code must verify")
	}

	if _, err := m.VerifyCode(nil, valid, now, 1); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestGenerateSecret(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Issuer: "edusphere", Digits: 6, Period: 30, Algorithm: "SHA1"})

	raw, encoded, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(raw) != totpSecretBytes {
		t.Fatalf("expected %d secret bytes, got %d", totpSecretBytes, len(raw))
	}
	if encoded == "" || len(encoded) != 32 {
		t.Fatalf("unexpected base32 form %q", encoded)
	}

	_, other, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if encoded == other {
		t.Fatalf("secrets must differ between calls")
	}
}

func TestProvisionURI(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Issuer: "edusphere", Digits: 6, Period: 30, Algorithm: "sha1"})

	uri := m.ProvisionURI("JBSWY3DPEHPK3PXP", "student@example.com")
	want := "otpauth://totp/edusphere:student@example.com?algorithm=SHA1&digits=6&issuer=edusphere&period=30&secret=JBSWY3DPEHPK3PXP"
	if uri != want {
		t.Fatalf("got %q, want %q", uri, want)
	}
}
