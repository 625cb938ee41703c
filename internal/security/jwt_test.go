package security

import (
	"testing"
	"time"
)

func TestPendingTokenRoundTrip(t *testing.T) {
	ticket, err := IssuePendingToken("secret", 42, 5*time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, errParse := ParsePendingToken("secret", ticket)
	if errParse != nil {
		t.Fatalf("parse: %v", errParse)
	}
	if claims.UserID != 42 {
		t.Fatalf("expected user 42, got %d", claims.UserID)
	}
}

func TestPendingTokenWrongSecret(t *testing.T) {
	ticket, err := IssuePendingToken("secret", 42, 5*time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, errParse := ParsePendingToken("other", ticket); errParse == nil {
		t.Fatalf("expected wrong secret to be rejected")
	}
}

func TestPendingTokenExpired(t *testing.T) {
	ticket, err := IssuePendingToken("secret", 42, -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, errParse := ParsePendingToken("secret", ticket); errParse == nil {
		t.Fatalf("expected expired ticket to be rejected")
	}
}
