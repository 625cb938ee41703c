package db

import (
	"path/filepath"
	"testing"

	"github.com/safecircle-tech/authd/internal/models"
)

func TestOpenAndMigrateSQLite(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "db-test.db")
	conn, err := Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	// Migration is idempotent.
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("second migrate: %v", errMigrate)
	}

	user := models.User{Email: "a@x.com"}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	duplicate := models.User{Email: "a@x.com"}
	if errCreate := conn.Create(&duplicate).Error; errCreate == nil {
		t.Fatalf("expected the email unique index to reject duplicates")
	}
}
