package db

import (
	"fmt"

	"github.com/safecircle-tech/authd/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.User{},
		&models.PasskeyCredential{},
		&models.PasskeyChallenge{},
		&models.OneTimeCode{},
		&models.AccountToken{},
		&models.Session{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	// One lookup per verification: codes are fetched by user with the
	// consumed flag filtered in SQL, so index the pair.
	if errCodeIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_one_time_codes_user_consumed
		ON one_time_codes (user_id, consumed)
	`).Error; errCodeIdx != nil {
		return fmt.Errorf("db: create one time code index: %w", errCodeIdx)
	}
	if errSessionIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sessions_user_last_active
		ON sessions (user_id, last_active_at)
	`).Error; errSessionIdx != nil {
		return fmt.Errorf("db: create session index: %w", errSessionIdx)
	}

	return nil
}
