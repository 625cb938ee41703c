// Package credential validates password and authenticator-code factors
// against stored user records and manages authenticator enrollment.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	otplib "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/safecircle-tech/authd/internal/models"
	"github.com/safecircle-tech/authd/internal/security"
)

const (
	totpPeriod = 30
	totpSkew   = 1
)

var (
	// ErrUserNotFound indicates the referenced user does not exist.
	ErrUserNotFound = errors.New("credential: user not found")
	// ErrInvalidCode indicates an authenticator code that did not verify.
	ErrInvalidCode = errors.New("credential: invalid code")
	// ErrInvalidPassword indicates a password check failure.
	ErrInvalidPassword = errors.New("credential: invalid password")
	// ErrNotEnrolled indicates the user has no authenticator enrolled.
	ErrNotEnrolled = errors.New("credential: authenticator not enrolled")
)

// Verifier checks first- and second-factor credentials.
type Verifier struct {
	db *gorm.DB
}

// NewVerifier creates a Verifier over the given database.
func NewVerifier(db *gorm.DB) *Verifier {
	return &Verifier{db: db}
}

// FindByEmail loads a user by their lowercased email address. Returns
// nil without error when no such user exists so callers can apply a
// uniform rejection that does not leak account existence.
func (v *Verifier) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	var user models.User
	err := v.db.WithContext(ctx).Where("email = ?", normalized).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("credential: find user: %w", err)
	}
	return &user, nil
}

// FindByID loads a user by primary key.
func (v *Verifier) FindByID(ctx context.Context, userID uint64) (*models.User, error) {
	var user models.User
	err := v.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("credential: find user: %w", err)
	}
	return &user, nil
}

// VerifyPassword compares a plaintext password against the stored hash.
// Returns false for unknown users and on any internal failure; it never
// reveals which condition failed.
func (v *Verifier) VerifyPassword(ctx context.Context, userID uint64, plaintext string) bool {
	user, err := v.FindByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			log.WithError(err).Error("password verification lookup failed")
		}
		return false
	}
	return security.CheckPassword(user.Password, plaintext)
}

// VerifyTOTP checks a time-based authenticator code against the user's
// stored shared secret, tolerating one time step of clock skew either
// side. Returns false when no authenticator is enrolled.
func (v *Verifier) VerifyTOTP(ctx context.Context, userID uint64, code string) bool {
	user, err := v.FindByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			log.WithError(err).Error("authenticator verification lookup failed")
		}
		return false
	}
	if user.TOTPSecret == "" {
		return false
	}
	valid, err := totp.ValidateCustom(code, user.TOTPSecret, time.Now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otplib.DigitsSix,
		Algorithm: otplib.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return valid
}

// TOTPEnrollment carries the provisioning material handed to the client
// during authenticator setup.
type TOTPEnrollment struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

// PrepareTOTP generates a fresh shared secret for the user and stores it
// without enabling two-factor. The flag flips only after ConfirmTOTP
// proves the client holds the secret, so an enabled flag always has a
// secret behind it.
func (v *Verifier) PrepareTOTP(ctx context.Context, user *models.User, issuer string) (TOTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return TOTPEnrollment{}, fmt.Errorf("credential: generate authenticator secret: %w", err)
	}
	err = v.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("totp_secret", key.Secret()).Error
	if err != nil {
		return TOTPEnrollment{}, fmt.Errorf("credential: store authenticator secret: %w", err)
	}
	return TOTPEnrollment{Secret: key.Secret(), URI: key.URL()}, nil
}

// ConfirmTOTP validates a first code against the pending secret and
// enables two-factor for the user.
func (v *Verifier) ConfirmTOTP(ctx context.Context, userID uint64, code string) error {
	user, err := v.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.TOTPSecret == "" {
		return ErrNotEnrolled
	}
	if !v.VerifyTOTP(ctx, userID, code) {
		return ErrInvalidCode
	}
	err = v.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("two_factor_enabled", true).Error
	if err != nil {
		return fmt.Errorf("credential: enable two-factor: %w", err)
	}
	return nil
}

// DisableTOTP removes the user's authenticator after re-proving the
// password. The secret and the enabled flag are cleared together.
func (v *Verifier) DisableTOTP(ctx context.Context, userID uint64, password string) error {
	if !v.VerifyPassword(ctx, userID, password) {
		return ErrInvalidPassword
	}
	err := v.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"totp_secret":        "",
			"two_factor_enabled": false,
		}).Error
	if err != nil {
		return fmt.Errorf("credential: disable two-factor: %w", err)
	}
	return nil
}

// SetPassword replaces the user's password hash after validating the new
// password against policy. Used by the reset and change flows.
func (v *Verifier) SetPassword(ctx context.Context, userID uint64, plaintext string) error {
	if err := security.ValidatePasswordPolicy(plaintext); err != nil {
		return err
	}
	hash, err := security.HashPassword(plaintext)
	if err != nil {
		return fmt.Errorf("credential: hash password: %w", err)
	}
	err = v.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("password", hash).Error
	if err != nil {
		return fmt.Errorf("credential: store password: %w", err)
	}
	return nil
}
