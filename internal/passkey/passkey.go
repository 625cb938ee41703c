// Package passkey runs WebAuthn registration and login ceremonies and
// stores the resulting public-key credentials.
package passkey

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/safecircle-tech/authd/internal/models"
)

// ChallengeTTL bounds how long a ceremony may stay open.
const ChallengeTTL = 5 * time.Minute

var (
	// ErrInvalidChallenge indicates an unknown or already consumed
	// ceremony challenge.
	ErrInvalidChallenge = errors.New("passkey: invalid challenge")
	// ErrChallengeExpired indicates the ceremony was not completed in time.
	ErrChallengeExpired = errors.New("passkey: challenge expired")
	// ErrSignatureMismatch indicates the signed response did not verify
	// against any registered credential.
	ErrSignatureMismatch = errors.New("passkey: signature mismatch")
	// ErrNoCredentials indicates the user has no passkeys registered.
	ErrNoCredentials = errors.New("passkey: no credentials registered")
)

// Verifier owns passkey credentials and the single-use challenges that
// protect their ceremonies.
type Verifier struct {
	db *gorm.DB
	wa *webauthn.WebAuthn
}

// NewVerifier creates a Verifier over the given database and relying
// party.
func NewVerifier(db *gorm.DB, wa *webauthn.WebAuthn) *Verifier {
	return &Verifier{db: db, wa: wa}
}

// webauthnUser adapts a stored user and their credentials to the shape
// the ceremony library expects.
type webauthnUser struct {
	user        *models.User
	credentials []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte {
	return []byte(fmt.Sprintf("%d", u.user.ID))
}

func (u *webauthnUser) WebAuthnName() string {
	return u.user.Email
}

func (u *webauthnUser) WebAuthnDisplayName() string {
	if u.user.Name != "" {
		return u.user.Name
	}
	return u.user.Email
}

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (v *Verifier) loadWebAuthnUser(ctx context.Context, user *models.User) (*webauthnUser, error) {
	var records []models.PasskeyCredential
	err := v.db.WithContext(ctx).Where("user_id = ?", user.ID).
		Order("created_at ASC").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("passkey: load credentials: %w", err)
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal(record.Credential, &credential); err != nil {
			return nil, fmt.Errorf("passkey: decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return &webauthnUser{user: user, credentials: credentials}, nil
}

func (v *Verifier) storeChallenge(ctx context.Context, userID uint64, kind string, session *webauthn.SessionData) (string, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("passkey: encode session: %w", err)
	}
	now := time.Now().UTC()
	record := &models.PasskeyChallenge{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        kind,
		SessionData: data,
		ExpiresAt:   now.Add(ChallengeTTL),
		CreatedAt:   now,
	}
	if err := v.db.WithContext(ctx).Create(record).Error; err != nil {
		return "", fmt.Errorf("passkey: store challenge: %w", err)
	}
	return record.ID, nil
}

// consumeChallenge marks the challenge consumed and returns its session
// data. The consumption is a single conditional update so a challenge
// can be spent by at most one caller, and it happens before the signed
// response is examined. An expired challenge is consumed too but
// reported as expired.
func (v *Verifier) consumeChallenge(ctx context.Context, challengeID string, userID uint64, kind string) (*webauthn.SessionData, error) {
	res := v.db.WithContext(ctx).Model(&models.PasskeyChallenge{}).
		Where("id = ? AND user_id = ? AND kind = ? AND consumed = ?",
			challengeID, userID, kind, false).
		Update("consumed", true)
	if res.Error != nil {
		return nil, fmt.Errorf("passkey: consume challenge: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, ErrInvalidChallenge
	}

	var record models.PasskeyChallenge
	if err := v.db.WithContext(ctx).Where("id = ?", challengeID).First(&record).Error; err != nil {
		return nil, fmt.Errorf("passkey: load challenge: %w", err)
	}
	if !record.ExpiresAt.After(time.Now().UTC()) {
		return nil, ErrChallengeExpired
	}
	var session webauthn.SessionData
	if err := json.Unmarshal(record.SessionData, &session); err != nil {
		return nil, fmt.Errorf("passkey: decode session: %w", err)
	}
	return &session, nil
}

// BeginRegistration opens a registration ceremony for the user and
// returns the creation options plus the challenge handle the client must
// echo back.
func (v *Verifier) BeginRegistration(ctx context.Context, user *models.User) (*protocol.CredentialCreation, string, error) {
	waUser, err := v.loadWebAuthnUser(ctx, user)
	if err != nil {
		return nil, "", err
	}
	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(waUser.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(
			webauthn.Credentials(waUser.credentials).CredentialDescriptors()))
	}
	creation, session, err := v.wa.BeginRegistration(waUser, options...)
	if err != nil {
		return nil, "", fmt.Errorf("passkey: begin registration: %w", err)
	}
	challengeID, err := v.storeChallenge(ctx, user.ID, models.ChallengeKindRegistration, session)
	if err != nil {
		return nil, "", err
	}
	return creation, challengeID, nil
}

// FinishRegistration validates the signed creation response and stores
// the new credential under the given label.
func (v *Verifier) FinishRegistration(ctx context.Context, user *models.User, challengeID string, responseJSON []byte, label string) (*models.PasskeyCredential, error) {
	session, err := v.consumeChallenge(ctx, challengeID, user.ID, models.ChallengeKindRegistration)
	if err != nil {
		return nil, err
	}
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(responseJSON))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	waUser, err := v.loadWebAuthnUser(ctx, user)
	if err != nil {
		return nil, err
	}
	credential, err := v.wa.CreateCredential(waUser, *session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}

	data, err := json.Marshal(credential)
	if err != nil {
		return nil, fmt.Errorf("passkey: encode credential: %w", err)
	}
	record := &models.PasskeyCredential{
		UserID:       user.ID,
		CredentialID: base64.RawURLEncoding.EncodeToString(credential.ID),
		Label:        label,
		Credential:   data,
		CreatedAt:    time.Now().UTC(),
	}
	if err := v.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("passkey: store credential: %w", err)
	}
	return record, nil
}

// BeginAuthentication opens a login ceremony against the user's
// registered passkeys.
func (v *Verifier) BeginAuthentication(ctx context.Context, user *models.User) (*protocol.CredentialAssertion, string, error) {
	waUser, err := v.loadWebAuthnUser(ctx, user)
	if err != nil {
		return nil, "", err
	}
	if len(waUser.credentials) == 0 {
		return nil, "", ErrNoCredentials
	}
	assertion, session, err := v.wa.BeginLogin(waUser)
	if err != nil {
		return nil, "", fmt.Errorf("passkey: begin login: %w", err)
	}
	challengeID, err := v.storeChallenge(ctx, user.ID, models.ChallengeKindLogin, session)
	if err != nil {
		return nil, "", err
	}
	return assertion, challengeID, nil
}

// FinishAuthentication validates the signed assertion against one of the
// user's registered credentials. The challenge is spent before
// validation so a replayed response can never verify twice.
func (v *Verifier) FinishAuthentication(ctx context.Context, user *models.User, challengeID string, responseJSON []byte) error {
	session, err := v.consumeChallenge(ctx, challengeID, user.ID, models.ChallengeKindLogin)
	if err != nil {
		return err
	}
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(responseJSON))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	waUser, err := v.loadWebAuthnUser(ctx, user)
	if err != nil {
		return err
	}
	credential, err := v.wa.ValidateLogin(waUser, *session, parsed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}

	// Refresh the stored credential so the authenticator sign count
	// advances, and stamp last use.
	data, err := json.Marshal(credential)
	if err != nil {
		return fmt.Errorf("passkey: encode credential: %w", err)
	}
	now := time.Now().UTC()
	err = v.db.WithContext(ctx).Model(&models.PasskeyCredential{}).
		Where("user_id = ? AND credential_id = ?",
			user.ID, base64.RawURLEncoding.EncodeToString(credential.ID)).
		Updates(map[string]any{
			"credential":   data,
			"last_used_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("passkey: update credential: %w", err)
	}
	return nil
}

// List returns the user's registered passkeys.
func (v *Verifier) List(ctx context.Context, userID uint64) ([]models.PasskeyCredential, error) {
	var records []models.PasskeyCredential
	err := v.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at ASC").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("passkey: list credentials: %w", err)
	}
	return records, nil
}

// Remove deletes a single passkey by its credential ID. Other passkeys
// are unaffected. Returns false when the user owns no such credential.
func (v *Verifier) Remove(ctx context.Context, userID uint64, credentialID string) (bool, error) {
	res := v.db.WithContext(ctx).
		Where("user_id = ? AND credential_id = ?", userID, credentialID).
		Delete(&models.PasskeyCredential{})
	if res.Error != nil {
		return false, fmt.Errorf("passkey: remove credential: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// PurgeExpired removes consumed and expired ceremony challenges.
func (v *Verifier) PurgeExpired(ctx context.Context) error {
	err := v.db.WithContext(ctx).
		Where("consumed = ? OR expires_at <= ?", true, time.Now().UTC()).
		Delete(&models.PasskeyChallenge{}).Error
	if err != nil {
		return fmt.Errorf("passkey: purge challenges: %w", err)
	}
	return nil
}
