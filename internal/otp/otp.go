// Package otp issues and verifies short-lived one-time sign-in codes
// delivered by email.
package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/safecircle-tech/authd/internal/mailer"
	"github.com/safecircle-tech/authd/internal/models"
	"github.com/safecircle-tech/authd/internal/security"
)

// CodeTTL is how long an issued code stays valid.
const CodeTTL = 5 * time.Minute

// ErrDispatchNotFound indicates an unknown dispatch token.
var ErrDispatchNotFound = errors.New("otp: dispatch not found")

// Issuer manages the one-time code lifecycle for sign-in verification.
type Issuer struct {
	db     *gorm.DB
	mailer mailer.Mailer
}

// NewIssuer creates an Issuer backed by the given database and mail
// collaborator.
func NewIssuer(db *gorm.DB, m mailer.Mailer) *Issuer {
	return &Issuer{db: db, mailer: m}
}

// Issue stores a fresh code for the user and hands it to the mail
// collaborator. Any outstanding code for the user is invalidated first.
// A delivery failure does not fail the call; it is recorded on the code
// record and observable through Status.
func (i *Issuer) Issue(ctx context.Context, user *models.User) (string, error) {
	code, err := security.GenerateNumericCode(security.OTPDigits)
	if err != nil {
		return "", fmt.Errorf("otp: generate code: %w", err)
	}

	now := time.Now().UTC()
	record := &models.OneTimeCode{
		UserID:        user.ID,
		Code:          code,
		DispatchToken: uuid.NewString(),
		ExpiresAt:     now.Add(CodeTTL),
		CreatedAt:     now,
	}
	err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND consumed = ?", user.ID, false).
			Delete(&models.OneTimeCode{}).Error; err != nil {
			return err
		}
		return tx.Create(record).Error
	})
	if err != nil {
		return "", fmt.Errorf("otp: store code: %w", err)
	}

	msg := mailer.SignInCodeEmail(user.Name, code)
	msg.To = user.Email
	if err := i.mailer.Send(ctx, msg); err != nil {
		log.WithError(err).WithField("user_id", user.ID).Warn("sign-in code delivery failed")
		if dbErr := i.db.WithContext(ctx).Model(&models.OneTimeCode{}).
			Where("id = ?", record.ID).
			Update("delivery_failed", true).Error; dbErr != nil {
			log.WithError(dbErr).Warn("failed to record code delivery failure")
		}
	}
	return record.DispatchToken, nil
}

// Verify consumes the user's outstanding code if it matches and has not
// expired. The check and the consumption happen in a single conditional
// update so two concurrent callers can never both succeed with the same
// code. Returns false on any mismatch without distinguishing the cause.
func (i *Issuer) Verify(ctx context.Context, userID uint64, code string) bool {
	res := i.db.WithContext(ctx).Model(&models.OneTimeCode{}).
		Where("user_id = ? AND code = ? AND consumed = ? AND expires_at > ?",
			userID, code, false, time.Now().UTC()).
		Update("consumed", true)
	if res.Error != nil {
		log.WithError(res.Error).WithField("user_id", userID).Error("one-time code verification query failed")
		return false
	}
	return res.RowsAffected == 1
}

// DispatchStatus reports the delivery outcome of an issued code.
type DispatchStatus struct {
	DeliveryFailed bool      `json:"delivery-failed"`
	Consumed       bool      `json:"consumed"`
	ExpiresAt      time.Time `json:"expires-at"`
}

// Status looks up the dispatch outcome for a previously issued code so a
// client can detect a failed delivery and request a new code.
func (i *Issuer) Status(ctx context.Context, dispatchToken string) (DispatchStatus, error) {
	var record models.OneTimeCode
	if err := i.db.WithContext(ctx).Where("dispatch_token = ?", dispatchToken).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DispatchStatus{}, ErrDispatchNotFound
		}
		return DispatchStatus{}, fmt.Errorf("otp: load dispatch: %w", err)
	}
	return DispatchStatus{
		DeliveryFailed: record.DeliveryFailed,
		Consumed:       record.Consumed,
		ExpiresAt:      record.ExpiresAt,
	}, nil
}

// PurgeExpired removes consumed and expired code rows. Correctness never
// depends on this running; it only keeps the table small.
func (i *Issuer) PurgeExpired(ctx context.Context) error {
	err := i.db.WithContext(ctx).
		Where("consumed = ? OR expires_at <= ?", true, time.Now().UTC()).
		Delete(&models.OneTimeCode{}).Error
	if err != nil {
		return fmt.Errorf("otp: purge expired: %w", err)
	}
	return nil
}
