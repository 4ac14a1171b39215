package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// otpAlphabet excludes visually confusable characters (0, O, I, L, 1)
// so codes survive dictation over the phone.
const otpAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// alnumAlphabet is used for webhook tokens and setup tokens.
const alnumAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewSetupToken returns the plain setup-token value: 45 alphanumeric
// characters (~268 bits) in groups of five separated by dashes for easy
// dictation. The value is shown exactly once; only its hash is stored.
func NewSetupToken() string {
	raw := randString(45, alnumAlphabet)
	groups := make([]string, 0, 9)
	for i := 0; i < len(raw); i += 5 {
		groups = append(groups, raw[i:i+5])
	}
	return strings.Join(groups, "-")
}

// NewOTPCode generates an 8-character email OTP in AAAA-BBBB format.
// Entropy: ~40 bits.
func NewOTPCode() string {
	raw := randString(8, otpAlphabet)
	return raw[:4] + "-" + raw[4:]
}

// NewOTPRequestID returns an identifier like "otp_req_<32 hex chars>".
func NewOTPRequestID() string {
	return "otp_req_" + randHex(16)
}

// NewAPIKey returns a URL-safe random key with 256 bits of entropy:
// 43 characters of unpadded base64.
func NewAPIKey() string {
	b := make([]byte, 32)
	mustRead(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// NewWebhookToken returns a 32-character alphanumeric token.
func NewWebhookToken() string {
	return randString(32, alnumAlphabet)
}

// NormalizeOTP strips dashes and spaces and uppercases, so user input
// like "a2b3-c4d5" hashes identically to the stored code.
func NormalizeOTP(code string) string {
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return strings.ToUpper(code)
}

// HashSHA256 returns "sha256:<hex>" of the value.
func HashSHA256(value string) string {
	sum := sha256.Sum256([]byte(value))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// HashSHA512 returns "sha512:<hex>" of the value.
func HashSHA512(value string) string {
	sum := sha512.Sum512([]byte(value))
	return "sha512:" + hex.EncodeToString(sum[:])
}

func randHex(n int) string {
	b := make([]byte, n)
	mustRead(b)
	return hex.EncodeToString(b)
}

// randString draws characters uniformly from alphabet using rejection
// sampling, so short alphabets carry no modulo bias.
func randString(n int, alphabet string) string {
	limit := byte(256 - 256%len(alphabet))
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		mustRead(buf)
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out)
}

func mustRead(b []byte) {
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
}
