// Package session issues, enumerates and revokes bearer sessions bound
// to a device fingerprint.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/safecircle-tech/authd/internal/config"
	"github.com/safecircle-tech/authd/internal/models"
	"github.com/safecircle-tech/authd/internal/security"
)

// ErrForbidden indicates an attempt to revoke a session owned by a
// different user.
var ErrForbidden = errors.New("session: forbidden")

// Manager owns the session table. All session mutation goes through it.
type Manager struct {
	db     *gorm.DB
	expiry time.Duration
}

// NewManager creates a Manager with the configured session lifetime.
func NewManager(db *gorm.DB, cfg config.SessionConfig) *Manager {
	return &Manager{db: db, expiry: cfg.Expiry}
}

// Create issues a new session for the user. The token is crypto-random
// and the record carries the device fingerprint derived from the
// user-agent header.
func (m *Manager) Create(ctx context.Context, userID uint64, userAgent, ipAddress string) (*models.Session, error) {
	token, err := security.GenerateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("session: generate token: %w", err)
	}
	now := time.Now().UTC()
	record := &models.Session{
		Token:        token,
		UserID:       userID,
		UserAgent:    userAgent,
		Fingerprint:  Fingerprint(userAgent),
		IPAddress:    ipAddress,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(m.expiry),
	}
	if err := m.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return record, nil
}

// Lookup resolves a bearer token to its live session, or nil when the
// token is unknown, revoked or expired.
func (m *Manager) Lookup(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, nil
	}
	var record models.Session
	err := m.db.WithContext(ctx).Where("token = ?", token).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: lookup: %w", err)
	}
	if record.Expired(time.Now().UTC()) {
		return nil, nil
	}
	return &record, nil
}

// View is the listing shape for a session. The bearer token is never
// included; the numeric ID is the only handle exposed to callers.
type View struct {
	ID           uint64    `json:"id"`
	Fingerprint  string    `json:"device"`
	UserAgent    string    `json:"user-agent"`
	IPAddress    string    `json:"ip-address"`
	CreatedAt    time.Time `json:"created-at"`
	LastActiveAt time.Time `json:"last-active-at"`
	Current      bool      `json:"current"`
}

// List returns the user's non-expired sessions ordered by most recent
// activity. The session matching currentToken is flagged as current.
func (m *Manager) List(ctx context.Context, userID uint64, currentToken string) ([]View, error) {
	var records []models.Session
	err := m.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, time.Now().UTC()).
		Order("last_active_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	views := make([]View, 0, len(records))
	for _, record := range records {
		views = append(views, View{
			ID:           record.ID,
			Fingerprint:  record.Fingerprint,
			UserAgent:    record.UserAgent,
			IPAddress:    record.IPAddress,
			CreatedAt:    record.CreatedAt,
			LastActiveAt: record.LastActiveAt,
			Current:      record.Token == currentToken,
		})
	}
	return views, nil
}

// Revoke deletes the session with the given ID. The caller must own the
// session; revoking another user's session fails with ErrForbidden. A
// missing session returns false without error so callers cannot probe
// for session existence.
func (m *Manager) Revoke(ctx context.Context, callerID, sessionID uint64) (bool, error) {
	var record models.Session
	err := m.db.WithContext(ctx).Where("id = ?", sessionID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("session: load for revoke: %w", err)
	}
	if record.UserID != callerID {
		return false, ErrForbidden
	}
	res := m.db.WithContext(ctx).Where("id = ? AND user_id = ?", sessionID, callerID).
		Delete(&models.Session{})
	if res.Error != nil {
		return false, fmt.Errorf("session: revoke: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RevokeByToken deletes the session carrying the given bearer token,
// subject to the same ownership check as Revoke.
func (m *Manager) RevokeByToken(ctx context.Context, callerID uint64, token string) (bool, error) {
	var record models.Session
	err := m.db.WithContext(ctx).Where("token = ?", token).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("session: load for revoke: %w", err)
	}
	if record.UserID != callerID {
		return false, ErrForbidden
	}
	res := m.db.WithContext(ctx).Where("id = ? AND user_id = ?", record.ID, callerID).
		Delete(&models.Session{})
	if res.Error != nil {
		return false, fmt.Errorf("session: revoke: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RevokeOthers deletes every session of the user except the one carrying
// currentToken. Returns the number of sessions removed.
func (m *Manager) RevokeOthers(ctx context.Context, userID uint64, currentToken string) (int64, error) {
	res := m.db.WithContext(ctx).
		Where("user_id = ? AND token <> ?", userID, currentToken).
		Delete(&models.Session{})
	if res.Error != nil {
		return 0, fmt.Errorf("session: revoke others: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Touch advances the session's last-active timestamp. Best effort; a
// failure is logged and never propagated to the request.
func (m *Manager) Touch(ctx context.Context, token string) {
	err := m.db.WithContext(ctx).Model(&models.Session{}).
		Where("token = ?", token).
		Update("last_active_at", time.Now().UTC()).Error
	if err != nil {
		log.WithError(err).Warn("failed to update session activity")
	}
}

// PurgeExpired removes expired session rows. Expiry is always enforced
// at lookup time; this only reclaims storage.
func (m *Manager) PurgeExpired(ctx context.Context) error {
	err := m.db.WithContext(ctx).
		Where("expires_at <= ?", time.Now().UTC()).
		Delete(&models.Session{}).Error
	if err != nil {
		return fmt.Errorf("session: purge expired: %w", err)
	}
	return nil
}
