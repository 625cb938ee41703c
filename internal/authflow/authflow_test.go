package authflow

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	otplib "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"

	"github.com/safecircle-tech/authd/internal/config"
	"github.com/safecircle-tech/authd/internal/credential"
	"github.com/safecircle-tech/authd/internal/db"
	"github.com/safecircle-tech/authd/internal/mailer"
	"github.com/safecircle-tech/authd/internal/models"
	"github.com/safecircle-tech/authd/internal/otp"
	"github.com/safecircle-tech/authd/internal/passkey"
	"github.com/safecircle-tech/authd/internal/security"
	"github.com/safecircle-tech/authd/internal/session"
)

func newTestMachine(t *testing.T) (*Machine, *gorm.DB) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "authflow-test.db")
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	wa, errWebAuthn := security.NewWebAuthn(config.WebAuthnConfig{
		RPDisplayName: "SafeCircle",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost:3000"},
	})
	if errWebAuthn != nil {
		t.Fatalf("webauthn: %v", errWebAuthn)
	}

	credentials := credential.NewVerifier(conn)
	codes := otp.NewIssuer(conn, mailer.LogMailer{})
	passkeys := passkey.NewVerifier(conn, wa)
	sessions := session.NewManager(conn, config.SessionConfig{Expiry: 30 * 24 * time.Hour})
	machine := NewMachine(credentials, codes, passkeys, sessions, config.JWTConfig{
		Secret: "test-secret",
		Expiry: 5 * time.Minute,
	})
	return machine, conn
}

func seedUser(t *testing.T, conn *gorm.DB, twoFactor bool) *models.User {
	t.Helper()
	hash, errHash := security.HashPassword("correct1")
	if errHash != nil {
		t.Fatalf("hash: %v", errHash)
	}
	user := &models.User{
		Email:            "a@x.com",
		Name:             "A",
		Password:         hash,
		EmailVerified:    true,
		TwoFactorEnabled: twoFactor,
	}
	if errCreate := conn.Create(user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return user
}

func TestLoginWithoutTwoFactorIssuesSession(t *testing.T) {
	machine, conn := newTestMachine(t)
	seedUser(t, conn, false)

	outcome, err := machine.Login(context.Background(), "a@x.com", "correct1", Device{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if outcome.SecondFactorRequired || outcome.Session == nil {
		t.Fatalf("expected a session in one transition")
	}
}

func TestLoginInvalidCredentialsUniform(t *testing.T) {
	machine, conn := newTestMachine(t)
	seedUser(t, conn, false)
	ctx := context.Background()

	_, errWrongPassword := machine.Login(ctx, "a@x.com", "wrong", Device{})
	_, errUnknownEmail := machine.Login(ctx, "nobody@x.com", "correct1", Device{})
	if !errors.Is(errWrongPassword, ErrInvalidCredentials) || !errors.Is(errUnknownEmail, ErrInvalidCredentials) {
		t.Fatalf("expected uniform rejection, got %v and %v", errWrongPassword, errUnknownEmail)
	}
}

func TestLoginUnverifiedEmail(t *testing.T) {
	machine, conn := newTestMachine(t)
	user := seedUser(t, conn, false)
	if errUpdate := conn.Model(&models.User{}).Where("id = ?", user.ID).
		Update("email_verified", false).Error; errUpdate != nil {
		t.Fatalf("update: %v", errUpdate)
	}

	if _, err := machine.Login(context.Background(), "a@x.com", "correct1", Device{}); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
}

func TestTwoFactorLoginWithOTP(t *testing.T) {
	machine, conn := newTestMachine(t)
	user := seedUser(t, conn, true)
	ctx := context.Background()

	outcome, err := machine.Login(ctx, "a@x.com", "correct1", Device{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !outcome.SecondFactorRequired || outcome.Session != nil {
		t.Fatalf("expected a pending second factor and no session")
	}
	ticket := outcome.PendingToken

	if _, errIssue := machine.RequestOTP(ctx, ticket); errIssue != nil {
		t.Fatalf("request otp: %v", errIssue)
	}
	var record models.OneTimeCode
	if errFind := conn.Where("user_id = ? AND consumed = ?", user.ID, false).
		First(&record).Error; errFind != nil {
		t.Fatalf("find code: %v", errFind)
	}

	wrong := "000000"
	if record.Code == wrong {
		wrong = "111111"
	}
	if _, errSubmit := machine.SubmitOTP(ctx, ticket, wrong, Device{}); !errors.Is(errSubmit, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", errSubmit)
	}

	done, errSubmit := machine.SubmitOTP(ctx, ticket, record.Code, Device{})
	if errSubmit != nil {
		t.Fatalf("submit otp: %v", errSubmit)
	}
	if done.Session == nil || done.Session.Token == "" {
		t.Fatalf("expected a session after the second factor")
	}

	// The consumed code never works again.
	if _, errReplay := machine.SubmitOTP(ctx, ticket, record.Code, Device{}); !errors.Is(errReplay, ErrInvalidCode) {
		t.Fatalf("expected replay to fail, got %v", errReplay)
	}
}

func TestTwoFactorLoginNeverIssuesSessionEarly(t *testing.T) {
	machine, conn := newTestMachine(t)
	user := seedUser(t, conn, true)
	ctx := context.Background()

	if _, err := machine.Login(ctx, "a@x.com", "correct1", Device{}); err != nil {
		t.Fatalf("login: %v", err)
	}

	var count int64
	if errCount := conn.Model(&models.Session{}).Where("user_id = ?", user.ID).
		Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("expected no session before the second factor, got %d", count)
	}
}

func TestTwoFactorLoginWithTOTP(t *testing.T) {
	machine, conn := newTestMachine(t)
	user := seedUser(t, conn, true)
	ctx := context.Background()

	key, errKey := totp.Generate(totp.GenerateOpts{Issuer: "SafeCircle", AccountName: user.Email})
	if errKey != nil {
		t.Fatalf("generate key: %v", errKey)
	}
	if errUpdate := conn.Model(&models.User{}).Where("id = ?", user.ID).
		Update("totp_secret", key.Secret()).Error; errUpdate != nil {
		t.Fatalf("store secret: %v", errUpdate)
	}

	outcome, errLogin := machine.Login(ctx, "a@x.com", "correct1", Device{})
	if errLogin != nil {
		t.Fatalf("login: %v", errLogin)
	}

	code, errCode := totp.GenerateCodeCustom(key.Secret(), time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otplib.DigitsSix,
		Algorithm: otplib.AlgorithmSHA1,
	})
	if errCode != nil {
		t.Fatalf("generate code: %v", errCode)
	}

	done, errSubmit := machine.SubmitTOTP(ctx, outcome.PendingToken, code, Device{})
	if errSubmit != nil {
		t.Fatalf("submit totp: %v", errSubmit)
	}
	if done.Session == nil {
		t.Fatalf("expected a session after the authenticator code")
	}
}

func TestPendingTicketBindsIdentity(t *testing.T) {
	machine, conn := newTestMachine(t)
	seedUser(t, conn, true)
	ctx := context.Background()

	if _, err := machine.SubmitOTP(ctx, "forged-ticket", "123456", Device{}); !errors.Is(err, ErrInvalidTicket) {
		t.Fatalf("expected ErrInvalidTicket, got %v", err)
	}

	// A ticket signed with a different secret is rejected too.
	other, errIssue := security.IssuePendingToken("other-secret", 1, time.Minute)
	if errIssue != nil {
		t.Fatalf("issue: %v", errIssue)
	}
	if _, err := machine.SubmitOTP(ctx, other, "123456", Device{}); !errors.Is(err, ErrInvalidTicket) {
		t.Fatalf("expected ErrInvalidTicket, got %v", err)
	}
}
