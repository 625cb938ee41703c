package models

import "time"

// Account token kinds.
const (
	TokenKindEmailVerification = "email_verification"
	TokenKindPasswordReset     = "password_reset"
)

// AccountToken is a single-use emailed link token for email verification or
// password reset.
type AccountToken struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`                 // Owning user.
	Token  string `gorm:"type:text;not null;uniqueIndex"` // Random token embedded in the emailed link.
	Kind   string `gorm:"type:text;not null"`             // email_verification or password_reset.

	Consumed  bool      `gorm:"not null;default:false"` // Set atomically on first use.
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}
