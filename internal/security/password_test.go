package security

import (
	"strings"
	"testing"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "correct horse" {
		t.Fatalf("expected hash to differ from plaintext")
	}
	if !CheckPassword(hash, "correct horse") {
		t.Fatalf("expected matching password to verify")
	}
	if CheckPassword(hash, "wrong horse") {
		t.Fatalf("expected mismatched password to fail")
	}
}

func TestCheckPasswordEmptyHash(t *testing.T) {
	if CheckPassword("", "anything") {
		t.Fatalf("expected empty hash to fail")
	}
}

func TestValidatePasswordPolicy(t *testing.T) {
	if err := ValidatePasswordPolicy("short"); err == nil {
		t.Fatalf("expected short password to be rejected")
	}
	if err := ValidatePasswordPolicy(strings.Repeat("x", MaxPasswordLength+1)); err == nil {
		t.Fatalf("expected long password to be rejected")
	}
	if err := ValidatePasswordPolicy("validpass1"); err != nil {
		t.Fatalf("expected valid password, got %v", err)
	}
}
