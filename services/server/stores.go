package main

import (
	"fmt"

	"github.com/HORNET-Storage/hornets-relay-core/lib/config"
	"github.com/HORNET-Storage/hornets-relay-core/lib/logging"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores/badgerhold"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores/bbolt"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores/gorm/postgres"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores/gorm/sqlite"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores/memory"
	"github.com/HORNET-Storage/hornets-relay-core/lib/types"
)

// openStore opens the repository named by storage.driver
func openStore(cfg *types.Config, logger *logging.Logger) (stores.EventRepository, error) {
	path := config.GetStoragePath()

	var (
		repo stores.EventRepository
		err  error
	)

	switch cfg.Storage.Driver {
	case "memory":
		repo = memory.New()
	case "badgerhold", "":
		repo, err = unwrap(badgerhold.InitStore(path, logger))
	case "bbolt":
		repo, err = unwrap(bbolt.InitStore(path, logger))
	case "sqlite":
		repo, err = unwrap(sqlite.InitStore(path, logger))
	case "postgres":
		repo, err = unwrap(postgres.InitStore(cfg.Storage.DSN, logger))
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Event store opened", map[string]interface{}{
		"driver": cfg.Storage.Driver,
		"path":   path,
	})
	return repo, nil
}

// unwrap keeps a failed constructor's typed nil out of the interface
func unwrap[T stores.EventRepository](store T, err error) (stores.EventRepository, error) {
	if err != nil {
		return nil, err
	}
	return store, nil
}
