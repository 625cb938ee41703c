package models

import "time"

// Session is a bearer-token session bound to a user and a device.
type Session struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key, the only identifier listings expose.

	Token  string `gorm:"type:text;not null;uniqueIndex"` // Opaque bearer token, never returned in listings.
	UserID uint64 `gorm:"not null;index"`                 // Owning user.

	UserAgent   string `gorm:"type:text"` // Raw User-Agent header at creation.
	Fingerprint string `gorm:"type:text"` // Display-friendly device fingerprint derived from the user agent.
	IPAddress   string `gorm:"type:text"` // Approximate network origin.

	CreatedAt    time.Time `gorm:"not null"`       // Creation timestamp.
	LastActiveAt time.Time `gorm:"not null;index"` // Updated on each authenticated request.
	ExpiresAt    time.Time `gorm:"not null"`       // Absolute expiry; expired sessions are treated as revoked.
}

// Expired reports whether the session is past its absolute expiry.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
