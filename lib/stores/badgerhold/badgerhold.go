// Package badgerhold stores events in BadgerDB using a raw key schema for
// the event path and a badgerhold-managed token index for search.
package badgerhold

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/multierr"

	"github.com/HORNET-Storage/hornets-relay-core/lib/logging"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores"
)

var (
	_ stores.EventRepository    = (*BadgerholdStore)(nil)
	_ stores.ExpiredEventPurger = (*BadgerholdStore)(nil)
)

type BadgerholdStore struct {
	Ctx    context.Context
	cancel context.CancelFunc // stops the GC goroutine on shutdown

	DatabasePath string
	Database     *badgerhold.Store

	logger *logging.Logger

	// serializes upserts so replaceable lookups never hit txn conflicts
	writeMu sync.Mutex

	closed bool
	mu     sync.RWMutex
}

func cborEncode(value interface{}) ([]byte, error) {
	return cbor.Marshal(value)
}

func cborDecode(data []byte, value interface{}) error {
	return cbor.Unmarshal(data, value)
}

// InitStore opens or creates the database under basepath
func InitStore(basepath string, logger *logging.Logger) (*BadgerholdStore, error) {
	if logger == nil {
		logger = logging.GetLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	store := &BadgerholdStore{
		Ctx:          ctx,
		cancel:       cancel,
		DatabasePath: basepath,
		logger:       logger,
	}

	options := badgerhold.DefaultOptions
	options.Encoder = cborEncode
	options.Decoder = cborDecode
	options.Dir = store.DatabasePath
	options.ValueDir = store.DatabasePath

	// Events are small, so values stay in the LSM tree and only the latest
	// version of each key is kept.
	options.Options = options.Options.
		WithLogger(nil).
		WithBlockCacheSize(64 << 20).
		WithIndexCacheSize(32 << 20).
		WithMemTableSize(16 << 20).
		WithNumMemtables(2).
		WithValueLogFileSize(64 << 20).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueThreshold(32 << 10)

	var err error
	store.Database, err = badgerhold.Open(options)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open event database: %w", err)
	}

	if err := CheckSchemaVersion(store.Database.Badger()); err != nil {
		cancel()
		return nil, multierr.Append(
			fmt.Errorf("schema version check failed: %w", err),
			store.Database.Close(),
		)
	}

	go runPeriodicGC(store, 5*time.Minute)

	return store, nil
}

// IsSearchSupported is true: content is tokenized into a badgerhold index
func (store *BadgerholdStore) IsSearchSupported() bool {
	return true
}

// Destroy closes the database. Calling it again is a no-op.
func (store *BadgerholdStore) Destroy() error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.closed {
		return nil
	}
	store.closed = true

	store.cancel()

	// final GC pass so less garbage is left behind for the next startup
	runGCCycle(store.Database.Badger(), 0.3, 50)

	var result error
	result = multierr.Append(result, store.Database.Badger().Sync())
	result = multierr.Append(result, store.Database.Close())
	return result
}

// IsClosed returns true if the store has been closed
func (store *BadgerholdStore) IsClosed() bool {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return store.closed
}

// view runs fn in a read transaction unless the store is closed
func (store *BadgerholdStore) view(fn func(tx *badger.Txn) error) error {
	store.mu.RLock()
	defer store.mu.RUnlock()

	if store.closed {
		return stores.ErrClosed
	}
	return store.Database.Badger().View(fn)
}

// update runs fn in a write transaction unless the store is closed
func (store *BadgerholdStore) update(fn func(tx *badger.Txn) error) error {
	store.mu.RLock()
	defer store.mu.RUnlock()

	if store.closed {
		return stores.ErrClosed
	}

	store.writeMu.Lock()
	defer store.writeMu.Unlock()
	return store.Database.Badger().Update(fn)
}

// runPeriodicGC reclaims dead value log space until the store is closed
func runPeriodicGC(store *BadgerholdStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			store.mu.RLock()
			if !store.closed {
				if n := runGCCycle(store.Database.Badger(), 0.5, 20); n > 0 {
					store.logger.Debugf("[GC] %d value log files rewritten", n)
				}
			}
			store.mu.RUnlock()

		case <-store.Ctx.Done():
			return
		}
	}
}

// runGCCycle executes up to maxIterations value log GC rounds
func runGCCycle(db *badger.DB, discardRatio float64, maxIterations int) int {
	gcIterations := 0
	for i := 0; i < maxIterations; i++ {
		if err := db.RunValueLogGC(discardRatio); err != nil {
			break
		}
		gcIterations++
	}
	return gcIterations
}
