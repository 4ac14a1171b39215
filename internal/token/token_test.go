package token

import (
	"strings"
	"testing"
)

func TestNewSetupTokenFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		tok := NewSetupToken()
		groups := strings.Split(tok, "-")
		if len(groups) != 9 {
			t.Fatalf("expected 9 groups, got %d in %q", len(groups), tok)
		}
		for _, g := range groups {
			if len(g) != 5 {
				t.Errorf("group %q has length %d, want 5", g, len(g))
			}
			for _, c := range g {
				if !strings.ContainsRune(alnumAlphabet, c) {
					t.Errorf("unexpected character %q in token", c)
				}
			}
		}
		if seen[tok] {
			t.Fatalf("duplicate token generated: %q", tok)
		}
		seen[tok] = true
	}
}

func TestNewOTPCodeFormat(t *testing.T) {
	for i := 0; i < 50; i++ {
		code := NewOTPCode()
		if len(code) != 9 {
			t.Fatalf("expected 9 characters, got %d in %q", len(code), code)
		}
		if code[4] != '-' {
			t.Fatalf("expected dash at position 4 in %q", code)
		}
		for _, c := range strings.ReplaceAll(code, "-", "") {
			if !strings.ContainsRune(otpAlphabet, c) {
				t.Errorf("character %q outside OTP alphabet", c)
			}
		}
	}
}

func TestOTPAlphabetExcludesConfusables(t *testing.T) {
	for _, c := range "0OIL1" {
		if strings.ContainsRune(otpAlphabet, c) {
			t.Errorf("alphabet must not contain %q", c)
		}
	}
}

func TestNormalizeOTP(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"dashed", "A2B3-C4D5", "A2B3C4D5"},
		{"lowercase", "a2b3-c4d5", "A2B3C4D5"},
		{"spaces", " A2B3 C4D5 ", "A2B3C4D5"},
		{"plain", "A2B3C4D5", "A2B3C4D5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeOTP(tt.in); got != tt.want {
				t.Errorf("NormalizeOTP(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHashPrefixes(t *testing.T) {
	// Known vectors for the empty string.
	h256 := HashSHA256("")
	if h256 != "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("unexpected sha256 of empty string: %s", h256)
	}
	h512 := HashSHA512("")
	if !strings.HasPrefix(h512, "sha512:cf83e1357eefb8bd") {
		t.Errorf("unexpected sha512 of empty string: %s", h512)
	}
	if len(strings.TrimPrefix(h512, "sha512:")) != 128 {
		t.Errorf("sha512 hex should be 128 chars")
	}
}

func TestHashNormalizedRoundTrip(t *testing.T) {
	code := NewOTPCode()
	if HashSHA256(NormalizeOTP(code)) != HashSHA256(NormalizeOTP(strings.ToLower(code))) {
		t.Error("hash should be stable across case and formatting")
	}
}

func TestNewOTPRequestID(t *testing.T) {
	id := NewOTPRequestID()
	if !strings.HasPrefix(id, "otp_req_") {
		t.Fatalf("missing prefix: %q", id)
	}
	if len(id) != len("otp_req_")+32 {
		t.Fatalf("expected 32 hex chars after prefix, got %q", id)
	}
}

func TestNewAPIKey(t *testing.T) {
	key := NewAPIKey()
	if len(key) != 43 {
		t.Fatalf("expected 43 chars (raw url base64 of 32 bytes), got %d", len(key))
	}
	if strings.ContainsAny(key, "+/=") {
		t.Errorf("key must be URL-safe, got %q", key)
	}
}

func TestNewWebhookToken(t *testing.T) {
	tok := NewWebhookToken()
	if len(tok) != 32 {
		t.Fatalf("expected 32 chars, got %d", len(tok))
	}
	for _, c := range tok {
		if !strings.ContainsRune(alnumAlphabet, c) {
			t.Errorf("unexpected character %q", c)
		}
	}
}
