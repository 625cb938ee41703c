package models

import (
	"time"

	"gorm.io/datatypes"
)

// PasskeyCredential stores one registered WebAuthn credential for a user.
// Only the public half is ever stored; a user may remove one credential
// without affecting the others.
type PasskeyCredential struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID       uint64 `gorm:"not null;index"`                 // Owning user.
	CredentialID string `gorm:"type:text;not null;uniqueIndex"` // Base64url-encoded WebAuthn credential ID.
	Label        string `gorm:"type:text"`                      // User-supplied display label.

	Credential datatypes.JSON `gorm:"not null"` // Serialized webauthn.Credential (public key, sign count, flags).

	CreatedAt  time.Time  `gorm:"not null;autoCreateTime"` // Registration timestamp.
	LastUsedAt *time.Time // Last successful assertion, if any.
}

// Challenge kinds for passkey ceremonies.
const (
	ChallengeKindRegistration = "registration"
	ChallengeKindLogin        = "login"
)

// PasskeyChallenge is a single-use WebAuthn ceremony state record. It is
// consumed atomically on the first finish attempt regardless of outcome.
type PasskeyChallenge struct {
	ID string `gorm:"type:text;primaryKey"` // Random challenge handle given to the client.

	UserID uint64 `gorm:"not null;index"`     // User the ceremony is bound to.
	Kind   string `gorm:"type:text;not null"` // registration or login.

	SessionData datatypes.JSON `gorm:"not null"` // Serialized webauthn.SessionData.

	Consumed  bool      `gorm:"not null;default:false"` // Set atomically on first use.
	ExpiresAt time.Time `gorm:"not null"`               // Short expiry checked at finish time.
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}
