package models

import "time"

// OneTimeCode is a short-lived numeric code emailed to a user as a second
// factor. At most one unconsumed, unexpired code exists per user; issuing a
// new code deletes any outstanding one.
type OneTimeCode struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID        uint64 `gorm:"not null;index"`      // Owning user.
	Code          string `gorm:"type:text;not null"`  // 6-digit numeric code.
	DispatchToken string `gorm:"type:text;uniqueIndex"` // Opaque handle returned to the issuer.

	Consumed       bool `gorm:"not null;default:false"` // Set atomically on successful verification.
	DeliveryFailed bool `gorm:"not null;default:false"` // Set when the async email dispatch fails.

	ExpiresAt time.Time `gorm:"not null"`                // Fixed five-minute window.
	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
