package postgres

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"

	"github.com/HORNET-Storage/hornets-relay-core/lib/logging"
	gormstore "github.com/HORNET-Storage/hornets-relay-core/lib/stores/gorm"
)

// InitStore connects to the database named by dsn and migrates the schema
func InitStore(dsn string, logger *logging.Logger) (*gormstore.GormStore, error) {
	if logger == nil {
		logger = logging.GetLogger()
	}
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}

	store, err := gormstore.Open(postgres.Open(dsn), logger)
	if err != nil {
		return nil, err
	}

	sqlDB, err := store.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	if err := store.Init(); err != nil {
		return nil, err
	}

	logger.Info("Postgres event store ready")
	return store, nil
}
