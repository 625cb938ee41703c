package passkey

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/safecircle-tech/authd/internal/config"
	"github.com/safecircle-tech/authd/internal/db"
	"github.com/safecircle-tech/authd/internal/models"
	"github.com/safecircle-tech/authd/internal/security"
)

func newTestVerifier(t *testing.T) (*Verifier, *gorm.DB) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "passkey-test.db") + "?_pragma=busy_timeout(5000)"
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
	return NewVerifier(conn, wa), conn
}

func seedUser(t *testing.T, conn *gorm.DB) *models.User {
	t.Helper()
	user := &models.User{Email: "a@x.com", Name: "A", EmailVerified: true}
	if errCreate := conn.Create(user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return user
}

func TestBeginRegistrationStoresChallenge(t *testing.T) {
	verifier, conn := newTestVerifier(t)
	user := seedUser(t, conn)

	creation, challengeID, err := verifier.BeginRegistration(context.Background(), user)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	if creation == nil || challengeID == "" {
		t.Fatalf("expected creation options and a challenge handle")
	}

	var record models.PasskeyChallenge
	if errFind := conn.Where("id = ?", challengeID).First(&record).Error; errFind != nil {
		t.Fatalf("find challenge: %v", errFind)
	}
	if record.Kind != models.ChallengeKindRegistration || record.Consumed {
		t.Fatalf("unexpected challenge state %+v", record)
	}
	if !record.ExpiresAt.After(time.Now().UTC()) {
		t.Fatalf("expected a future expiry")
	}
}

func TestBeginAuthenticationWithoutCredentials(t *testing.T) {
	verifier, conn := newTestVerifier(t)
	user := seedUser(t, conn)

	if _, _, err := verifier.BeginAuthentication(context.Background(), user); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestFinishRegistrationConsumesChallengeOnBadResponse(t *testing.T) {
	verifier, conn := newTestVerifier(t)
	user := seedUser(t, conn)
	ctx := context.Background()

	_, challengeID, err := verifier.BeginRegistration(ctx, user)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}

	// A garbage response fails, but the challenge is spent regardless.
	if _, errFinish := verifier.FinishRegistration(ctx, user, challengeID, []byte("{}"), "laptop"); errFinish == nil {
		t.Fatalf("expected a bad response to fail")
	}
	if _, errFinish := verifier.FinishRegistration(ctx, user, challengeID, []byte("{}"), "laptop"); !errors.Is(errFinish, ErrInvalidChallenge) {
		t.Fatalf("expected replay to hit ErrInvalidChallenge, got %v", errFinish)
	}
}

func TestConsumeChallengeUnknown(t *testing.T) {
	verifier, conn := newTestVerifier(t)
	user := seedUser(t, conn)

	if _, err := verifier.consumeChallenge(context.Background(), "missing", user.ID, models.ChallengeKindLogin); !errors.Is(err, ErrInvalidChallenge) {
		t.Fatalf("expected ErrInvalidChallenge, got %v", err)
	}
}

func TestConsumeChallengeWrongUser(t *testing.T) {
	verifier, conn := newTestVerifier(t)
	user := seedUser(t, conn)
	ctx := context.Background()

	_, challengeID, err := verifier.BeginRegistration(ctx, user)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	if _, errConsume := verifier.consumeChallenge(ctx, challengeID, user.ID+1, models.ChallengeKindRegistration); !errors.Is(errConsume, ErrInvalidChallenge) {
		t.Fatalf("expected another user's consume to fail, got %v", errConsume)
	}
}

func TestConsumeChallengeExpired(t *testing.T) {
	verifier, conn := newTestVerifier(t)
	user := seedUser(t, conn)
	ctx := context.Background()

	_, challengeID, err := verifier.BeginRegistration(ctx, user)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	if errUpdate := conn.Model(&models.PasskeyChallenge{}).Where("id = ?", challengeID).
		Update("expires_at", time.Now().UTC().Add(-time.Second)).Error; errUpdate != nil {
		t.Fatalf("expire: %v", errUpdate)
	}

	if _, errConsume := verifier.consumeChallenge(ctx, challengeID, user.ID, models.ChallengeKindRegistration); !errors.Is(errConsume, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", errConsume)
	}
	// Expired or not, the challenge is now spent.
	if _, errConsume := verifier.consumeChallenge(ctx, challengeID, user.ID, models.ChallengeKindRegistration); !errors.Is(errConsume, ErrInvalidChallenge) {
		t.Fatalf("expected ErrInvalidChallenge on replay, got %v", errConsume)
	}
}

func TestConsumeChallengeConcurrentReplay(t *testing.T) {
	verifier, conn := newTestVerifier(t)
	user := seedUser(t, conn)
	ctx := context.Background()

	_, challengeID, err := verifier.BeginRegistration(ctx, user)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errConsume := verifier.consumeChallenge(ctx, challengeID, user.ID, models.ChallengeKindRegistration)
			results <- errConsume
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for errConsume := range results {
		if errConsume == nil {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one concurrent consume to succeed, got %d", successes)
	}
}

func TestRemovePasskey(t *testing.T) {
	verifier, conn := newTestVerifier(t)
	user := seedUser(t, conn)
	ctx := context.Background()

	records := []models.PasskeyCredential{
		{UserID: user.ID, CredentialID: "cred-a", Label: "laptop", Credential: []byte(`{}`), CreatedAt: time.Now().UTC()},
		{UserID: user.ID, CredentialID: "cred-b", Label: "phone", Credential: []byte(`{}`), CreatedAt: time.Now().UTC()},
	}
	for i := range records {
		if errCreate := conn.Create(&records[i]).Error; errCreate != nil {
			t.Fatalf("create credential: %v", errCreate)
		}
	}

	removed, errRemove := verifier.Remove(ctx, user.ID, "cred-a")
	if errRemove != nil || !removed {
		t.Fatalf("expected removal to succeed, got %v %v", removed, errRemove)
	}

	// Removing one passkey leaves the others untouched.
	remaining, errList := verifier.List(ctx, user.ID)
	if errList != nil {
		t.Fatalf("list: %v", errList)
	}
	if len(remaining) != 1 || remaining[0].CredentialID != "cred-b" {
		t.Fatalf("expected cred-b to remain")
	}

	if removed, _ := verifier.Remove(ctx, user.ID+1, "cred-b"); removed {
		t.Fatalf("expected another user's removal to be a no-op")
	}
}
