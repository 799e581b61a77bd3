package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"

	"github.com/HORNET-Storage/hornets-relay-core/lib/logging"
	gormstore "github.com/HORNET-Storage/hornets-relay-core/lib/stores/gorm"
)

// InitStore opens (or creates) events.db under basepath
func InitStore(basepath string, logger *logging.Logger) (*gormstore.GormStore, error) {
	if logger == nil {
		logger = logging.GetLogger()
	}

	if err := os.MkdirAll(basepath, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	// WAL with immediate transaction locks keeps concurrent upserts from deadlocking
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=30000&_txlock=immediate&_synchronous=normal&_mutex=no&_locking_mode=normal&cache=shared", filepath.Join(basepath, "events.db"))

	store, err := gormstore.Open(sqlite.Open(dsn), logger)
	if err != nil {
		return nil, err
	}

	sqlDB, err := store.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(30)
	sqlDB.SetConnMaxLifetime(60 * time.Minute)
	sqlDB.SetConnMaxIdleTime(20 * time.Minute)

	if err := store.Init(); err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA temp_store = MEMORY",
		"PRAGMA cache_size = -16000",
	}
	for _, pragma := range pragmas {
		if err := store.DB.Exec(pragma).Error; err != nil {
			logger.Warnf("Failed to set %s: %v", pragma, err)
		}
	}

	logger.Info("SQLite event store ready", map[string]interface{}{
		"path": basepath,
	})
	return store, nil
}
