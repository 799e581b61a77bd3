// Package gorm stores events in a SQL database through gorm. The sqlite and
// postgres subpackages open the dialector.
package gorm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/multierr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/HORNET-Storage/hornets-relay-core/lib/logging"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores"
)

var (
	_ stores.EventRepository    = (*GormStore)(nil)
	_ stores.ExpiredEventPurger = (*GormStore)(nil)
)

type GormStore struct {
	DB     *gorm.DB
	logger *logging.Logger

	mu     sync.RWMutex
	closed bool
}

// Open connects through dialector. Callers tune the pool and then call Init.
func Open(dialector gorm.Dialector, logger *logging.Logger) (*GormStore, error) {
	if logger == nil {
		logger = logging.GetLogger()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
		PrepareStmt:          true,
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &GormStore{DB: db, logger: logger}, nil
}

// Init migrates the event tables. The connection is closed when migration fails.
func (store *GormStore) Init() error {
	if err := store.DB.AutoMigrate(&Event{}, &GenericTag{}); err != nil {
		return multierr.Append(fmt.Errorf("failed to migrate database schema: %w", err), store.closeDB())
	}
	return nil
}

func (store *GormStore) IsSearchSupported() bool {
	return false
}

// Destroy closes the connection pool. Calling it again is a no-op.
func (store *GormStore) Destroy() error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.closed {
		return nil
	}
	store.closed = true
	return store.closeDB()
}

func (store *GormStore) closeDB() error {
	sqlDB, err := store.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// session hands out the db for one operation unless the store is closed.
// The returned release must be called when the operation is done.
func (store *GormStore) session(ctx context.Context) (*gorm.DB, func(), error) {
	store.mu.RLock()
	if store.closed {
		store.mu.RUnlock()
		return nil, nil, stores.ErrClosed
	}
	return store.DB.WithContext(ctx), store.mu.RUnlock, nil
}

// ──────── Upsert ────────

func (store *GormStore) Upsert(ctx context.Context, ev *nostr.Event) (stores.UpsertResult, error) {
	row, tags, err := toModel(ev)
	if err != nil {
		return stores.UpsertResult{}, err
	}

	db, release, err := store.session(ctx)
	if err != nil {
		return stores.UpsertResult{}, err
	}
	defer release()

	var result stores.UpsertResult
	err = db.Transaction(func(tx *gorm.DB) error {
		result = stores.UpsertResult{}

		var count int64
		if err := tx.Model(&Event{}).Where("id = ?", row.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			result.IsDuplicate = true
			return nil
		}

		if row.Address != nil {
			var existing Event
			err := tx.Where("address = ?", *row.Address).Limit(1).Find(&existing).Error
			if err != nil {
				return err
			}
			if existing.ID != "" {
				previous := &nostr.Event{ID: existing.ID, CreatedAt: nostr.Timestamp(existing.Timestamp)}
				if !stores.ShouldReplace(previous, ev) {
					result.IsDuplicate = true
					return nil
				}
				if err := deleteEvents(tx, []string{existing.ID}); err != nil {
					return err
				}
			}
		}

		created := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
		if created.Error != nil {
			return created.Error
		}
		if created.RowsAffected == 0 {
			result.IsDuplicate = true
			return nil
		}

		if len(tags) > 0 {
			return tx.CreateInBatches(tags, 100).Error
		}
		return nil
	})
	if err != nil {
		return stores.UpsertResult{}, err
	}
	return result, nil
}

func deleteEvents(tx *gorm.DB, ids []string) error {
	if err := tx.Where("event_id IN ?", ids).Delete(&GenericTag{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", ids).Delete(&Event{}).Error
}

// ──────── Find ────────

func (store *GormStore) Find(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	db, release, err := store.session(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	limit := stores.EffectiveLimit(filter)
	if limit == 0 || filter.Search != "" {
		return []*nostr.Event{}, nil
	}

	query := db.Model(&Event{}).
		Where("expiration IS NULL OR expiration >= ?", time.Now().Unix())

	if len(filter.IDs) > 0 {
		query = query.Where("id IN ?", filter.IDs)
	}
	if len(filter.Authors) > 0 {
		query = query.Where("author IN ?", filter.Authors)
	}
	if len(filter.Kinds) > 0 {
		query = query.Where("kind IN ?", filter.Kinds)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", int64(*filter.Since))
	}
	if filter.Until != nil {
		query = query.Where("created_at <= ?", int64(*filter.Until))
	}

	// AND across tag names, OR within values
	names := make([]string, 0, len(filter.Tags))
	for name := range filter.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values := filter.Tags[name]
		if len(values) == 0 {
			continue
		}
		tagged := db.Model(&GenericTag{}).
			Select("event_id").
			Where("name = ? AND value IN ?", strings.TrimPrefix(name, "#"), values)
		query = query.Where("id IN (?)", tagged)
	}

	var rows []Event
	err = query.
		Order("created_at DESC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	found := make([]*nostr.Event, 0, len(rows))
	for i := range rows {
		ev, err := rows[i].toEvent()
		if err != nil {
			return nil, err
		}
		found = append(found, ev)
	}

	store.logger.Debugf("Find: %d events from sql", len(found))
	return found, nil
}

func (store *GormStore) FindOne(ctx context.Context, filter nostr.Filter) (*nostr.Event, error) {
	return stores.FindOne(ctx, store, filter)
}

// ──────── DeleteExpired ────────

// DeleteExpired removes every event whose expiration is before now
func (store *GormStore) DeleteExpired(ctx context.Context, now int64) (int, error) {
	db, release, err := store.session(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	removed := 0
	err = db.Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&Event{}).Where("expiration < ?", now).Pluck("id", &ids).Error; err != nil {
			return err
		}
		removed = len(ids)
		if removed == 0 {
			return nil
		}
		return deleteEvents(tx, ids)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired events: %w", err)
	}
	return removed, nil
}
