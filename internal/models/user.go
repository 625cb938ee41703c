package models

import "time"

// User represents an end-user account stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email    string `gorm:"type:text;not null;uniqueIndex"` // Email address, stored lowercase.
	Name     string `gorm:"type:text"`                      // Display name.
	Image    string `gorm:"type:text"`                      // Optional avatar reference.
	Password string `gorm:"type:text;not null"`             // Hashed password.

	EmailVerified    bool `gorm:"not null;default:false"` // Whether the email address is confirmed.
	TwoFactorEnabled bool `gorm:"not null;default:false"` // Whether a second factor is required at login.

	// TOTPSecret is set only while two-factor enrollment is confirmed; a
	// user with TwoFactorEnabled=true always has a non-empty secret or at
	// least one passkey.
	TOTPSecret string `gorm:"type:text"`

	Passkeys []PasskeyCredential `gorm:"foreignKey:UserID"` // Registered passkeys.
	Sessions []Session           `gorm:"foreignKey:UserID"` // Active sessions.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
