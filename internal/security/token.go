package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

// sessionTokenBytes gives bearer tokens 256 bits of entropy.
const sessionTokenBytes = 32

// GenerateSessionToken returns a new opaque bearer token.
func GenerateSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateLinkToken returns a single-use token for emailed links
// (verification, password reset).
func GenerateLinkToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate link token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// OTPDigits is the length of emailed one-time codes.
const OTPDigits = 6

// GenerateNumericCode returns a uniformly random numeric code of the given
// length, zero-padded.
func GenerateNumericCode(digits int) (string, error) {
	if digits <= 0 {
		digits = OTPDigits
	}
	limit := big.NewInt(1)
	for i := 0; i < digits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate numeric code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
