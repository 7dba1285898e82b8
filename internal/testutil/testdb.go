package testutil

import (
	"disclosure-cache-api/internal/auth"
	"disclosure-cache-api/internal/database"
	"disclosure-cache-api/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewInMemoryDB creates an in-memory SQLite DB and runs migrations.
func NewInMemoryDB() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	// a single connection keeps every query on the same in-memory database
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// CreateUser inserts a user with a bcrypt hash of password.
func CreateUser(db *gorm.DB, id, username, password string, role models.Role) (*models.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &models.User{ID: id, Username: username, PasswordHash: hash, Role: role}
	if err := db.Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// TestIssuer is the token issuer shared by handler, middleware and route tests.
func TestIssuer() *auth.Issuer {
	return auth.NewIssuer("test-secret", "disclosure-cache-api", "disclosure-cache-clients", 0)
}
