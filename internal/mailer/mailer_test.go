package mailer

import (
	"context"
	"strings"
	"testing"
)

func TestEnvelopeFrom(t *testing.T) {
	if got := envelopeFrom("SafeCircle <notify@localhost>"); got != "notify@localhost" {
		t.Fatalf("unexpected envelope address %q", got)
	}
	if got := envelopeFrom("notify@localhost"); got != "notify@localhost" {
		t.Fatalf("unexpected bare address %q", got)
	}
}

func TestSignInCodeEmail(t *testing.T) {
	msg := SignInCodeEmail("Ada", "123456")
	if msg.Subject == "" {
		t.Fatalf("expected a subject")
	}
	if !strings.Contains(msg.HTML, "123456") {
		t.Fatalf("expected the code in the body")
	}
	if !strings.Contains(msg.HTML, "Ada") {
		t.Fatalf("expected the name in the body")
	}
}

func TestTemplatesEscapeHTML(t *testing.T) {
	msg := VerificationEmail("<script>", "http://localhost/verify?token=a&b")
	if strings.Contains(msg.HTML, "<script>") {
		t.Fatalf("expected the name to be escaped")
	}
	if !strings.Contains(msg.HTML, "&amp;") {
		t.Fatalf("expected the link to be escaped")
	}
}

func TestTemplatesDefaultName(t *testing.T) {
	msg := PasswordResetEmail("", "http://localhost/reset")
	if !strings.Contains(msg.HTML, "Hi there,") {
		t.Fatalf("expected a fallback greeting")
	}
}

func TestLogMailerNeverFails(t *testing.T) {
	if err := (LogMailer{}).Send(context.Background(), Message{To: "a@x.com", Subject: "s"}); err != nil {
		t.Fatalf("send: %v", err)
	}
}
