// Package bbolt stores events in a single bbolt file with hand-maintained
// index buckets.
package bbolt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/nbd-wtf/go-nostr"
	"go.etcd.io/bbolt"

	"github.com/HORNET-Storage/hornets-relay-core/lib/events"
	"github.com/HORNET-Storage/hornets-relay-core/lib/logging"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores"
)

var (
	_ stores.EventRepository    = (*BBoltStore)(nil)
	_ stores.ExpiredEventPurger = (*BBoltStore)(nil)
)

// Buckets
//
//	events       {eventID}                      → CBOR(storedEvent)
//	by_time      {hexTime16}:{eventID}          → nil
//	by_author    {author}:{hexTime16}:{eventID} → nil
//	by_kind      {kind}:{hexTime16}:{eventID}   → nil
//	addresses    {kind}:{author}:{dTag}         → eventID
//	expirations  {hexExpiration16}:{eventID}    → nil
var (
	bucketEvents      = []byte("events")
	bucketByTime      = []byte("by_time")
	bucketByAuthor    = []byte("by_author")
	bucketByKind      = []byte("by_kind")
	bucketAddresses   = []byte("addresses")
	bucketExpirations = []byte("expirations")

	allBuckets = [][]byte{bucketEvents, bucketByTime, bucketByAuthor, bucketByKind, bucketAddresses, bucketExpirations}
)

type storedEvent struct {
	PubKey    string     `cbor:"p"`
	Author    string     `cbor:"a"`
	CreatedAt int64      `cbor:"c"`
	Kind      int        `cbor:"k"`
	Tags      nostr.Tags `cbor:"t"`
	Content   string     `cbor:"n"`
	Sig       string     `cbor:"s"`
}

type BBoltStore struct {
	Db     *bbolt.DB
	Path   string
	logger *logging.Logger

	mu     sync.RWMutex
	closed bool
}

// InitStore opens or creates events.db under basepath
func InitStore(basepath string, logger *logging.Logger) (*BBoltStore, error) {
	if logger == nil {
		logger = logging.GetLogger()
	}
	if err := os.MkdirAll(basepath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	path := filepath.Join(basepath, "events.db")
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BBoltStore{Db: db, Path: path, logger: logger}, nil
}

func (store *BBoltStore) IsSearchSupported() bool {
	return false
}

// Destroy closes the database file. Calling it again is a no-op.
func (store *BBoltStore) Destroy() error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.closed {
		return nil
	}
	store.closed = true
	return store.Db.Close()
}

func (store *BBoltStore) view(fn func(tx *bbolt.Tx) error) error {
	store.mu.RLock()
	defer store.mu.RUnlock()

	if store.closed {
		return stores.ErrClosed
	}
	return store.Db.View(fn)
}

func (store *BBoltStore) update(fn func(tx *bbolt.Tx) error) error {
	store.mu.RLock()
	defer store.mu.RUnlock()

	if store.closed {
		return stores.ErrClosed
	}
	return store.Db.Update(fn)
}

// ──────── keys ────────

func hexTime(ts int64) string {
	return fmt.Sprintf("%016x", uint64(ts))
}

func timeKey(ts int64, id string) []byte {
	return []byte(hexTime(ts) + ":" + id)
}

func authorKey(author string, ts int64, id string) []byte {
	return []byte(author + ":" + hexTime(ts) + ":" + id)
}

func kindKey(kind int, ts int64, id string) []byte {
	return []byte(strconv.Itoa(kind) + ":" + hexTime(ts) + ":" + id)
}

// tail of every index key is {hexTime16}:{eventID}
func parseIndexKey(key []byte) (int64, string) {
	if len(key) < 64+1+16 {
		return 0, ""
	}
	id := string(key[len(key)-64:])
	ts, _ := strconv.ParseUint(string(key[len(key)-64-1-16:len(key)-64-1]), 16, 64)
	return int64(ts), id
}

func getEvent(tx *bbolt.Tx, id string) (*nostr.Event, string, error) {
	raw := tx.Bucket(bucketEvents).Get([]byte(id))
	if raw == nil {
		return nil, "", nil
	}
	var se storedEvent
	if err := cbor.Unmarshal(raw, &se); err != nil {
		return nil, "", fmt.Errorf("failed to decode event %s: %w", id, err)
	}
	return &nostr.Event{
		ID:        id,
		PubKey:    se.PubKey,
		CreatedAt: nostr.Timestamp(se.CreatedAt),
		Kind:      se.Kind,
		Tags:      se.Tags,
		Content:   se.Content,
		Sig:       se.Sig,
	}, se.Author, nil
}

func putIndexes(tx *bbolt.Tx, ev *nostr.Event, author string) error {
	ts := int64(ev.CreatedAt)
	if err := tx.Bucket(bucketByTime).Put(timeKey(ts, ev.ID), nil); err != nil {
		return err
	}
	if err := tx.Bucket(bucketByAuthor).Put(authorKey(author, ts, ev.ID), nil); err != nil {
		return err
	}
	if err := tx.Bucket(bucketByKind).Put(kindKey(ev.Kind, ts, ev.ID), nil); err != nil {
		return err
	}
	if expiration, ok := events.ExtractExpiration(ev); ok {
		return tx.Bucket(bucketExpirations).Put(timeKey(expiration, ev.ID), nil)
	}
	return nil
}

func deleteEvent(tx *bbolt.Tx, ev *nostr.Event, author string) error {
	ts := int64(ev.CreatedAt)
	for bucket, key := range map[string][]byte{
		string(bucketEvents):   []byte(ev.ID),
		string(bucketByTime):   timeKey(ts, ev.ID),
		string(bucketByAuthor): authorKey(author, ts, ev.ID),
		string(bucketByKind):   kindKey(ev.Kind, ts, ev.ID),
	} {
		if err := tx.Bucket([]byte(bucket)).Delete(key); err != nil {
			return err
		}
	}
	if expiration, ok := events.ExtractExpiration(ev); ok {
		if err := tx.Bucket(bucketExpirations).Delete(timeKey(expiration, ev.ID)); err != nil {
			return err
		}
	}
	if address, ok := stores.AddressOf(ev); ok {
		addresses := tx.Bucket(bucketAddresses)
		if current := addresses.Get([]byte(address.String())); string(current) == ev.ID {
			return addresses.Delete([]byte(address.String()))
		}
	}
	return nil
}

// ──────── Upsert ────────

func (store *BBoltStore) Upsert(_ context.Context, ev *nostr.Event) (stores.UpsertResult, error) {
	author := events.GetAuthor(ev, true)
	val, err := cbor.Marshal(storedEvent{
		PubKey:    ev.PubKey,
		Author:    author,
		CreatedAt: int64(ev.CreatedAt),
		Kind:      ev.Kind,
		Tags:      ev.Tags,
		Content:   ev.Content,
		Sig:       ev.Sig,
	})
	if err != nil {
		return stores.UpsertResult{}, fmt.Errorf("failed to encode event: %w", err)
	}

	var result stores.UpsertResult
	err = store.update(func(tx *bbolt.Tx) error {
		result = stores.UpsertResult{}

		if tx.Bucket(bucketEvents).Get([]byte(ev.ID)) != nil {
			result.IsDuplicate = true
			return nil
		}

		if address, ok := stores.AddressOf(ev); ok {
			addresses := tx.Bucket(bucketAddresses)
			if existingID := addresses.Get([]byte(address.String())); existingID != nil {
				existing, existingAuthor, err := getEvent(tx, string(existingID))
				if err != nil {
					return err
				}
				if existing != nil {
					if !stores.ShouldReplace(existing, ev) {
						result.IsDuplicate = true
						return nil
					}
					if err := deleteEvent(tx, existing, existingAuthor); err != nil {
						return err
					}
				}
			}
			if err := addresses.Put([]byte(address.String()), []byte(ev.ID)); err != nil {
				return err
			}
		}

		if err := tx.Bucket(bucketEvents).Put([]byte(ev.ID), val); err != nil {
			return err
		}
		return putIndexes(tx, ev, author)
	})
	if err != nil {
		return stores.UpsertResult{}, err
	}
	return result, nil
}

// ──────── Find ────────

func (store *BBoltStore) Find(_ context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	limit := stores.EffectiveLimit(filter)
	if limit == 0 || filter.Search != "" {
		if store.isClosed() {
			return nil, stores.ErrClosed
		}
		return []*nostr.Event{}, nil
	}

	now := time.Now().Unix()
	accept := func(ev *nostr.Event) bool {
		return events.MatchesFilter(ev, filter) && stores.Visible(ev, now)
	}

	var results []*nostr.Event
	err := store.view(func(tx *bbolt.Tx) error {
		if len(filter.IDs) > 0 {
			for _, id := range filter.IDs {
				ev, _, err := getEvent(tx, id)
				if err != nil {
					return err
				}
				if ev != nil && accept(ev) {
					results = append(results, ev)
				}
			}
			return nil
		}

		bucket, prefixes := indexFor(tx, filter)
		seen := make(map[string]struct{})
		for _, prefix := range prefixes {
			err := scanNewestFirst(bucket.Cursor(), prefix, filter, limit, func(id string) (bool, error) {
				if _, dup := seen[id]; dup {
					return false, nil
				}
				seen[id] = struct{}{}

				ev, _, err := getEvent(tx, id)
				if err != nil || ev == nil || !accept(ev) {
					return false, err
				}
				results = append(results, ev)
				return true, nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stores.SortEvents(results)
	if len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = []*nostr.Event{}
	}
	store.logger.Debugf("Find: %d events from bbolt", len(results))
	return results, nil
}

func (store *BBoltStore) FindOne(ctx context.Context, filter nostr.Filter) (*nostr.Event, error) {
	return stores.FindOne(ctx, store, filter)
}

func (store *BBoltStore) isClosed() bool {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return store.closed
}

// indexFor picks the narrowest index bucket for filter
func indexFor(tx *bbolt.Tx, filter nostr.Filter) (*bbolt.Bucket, [][]byte) {
	switch {
	case len(filter.Authors) > 0:
		prefixes := make([][]byte, len(filter.Authors))
		for i, author := range filter.Authors {
			prefixes[i] = []byte(author + ":")
		}
		return tx.Bucket(bucketByAuthor), prefixes
	case len(filter.Kinds) > 0:
		prefixes := make([][]byte, len(filter.Kinds))
		for i, kind := range filter.Kinds {
			prefixes[i] = []byte(strconv.Itoa(kind) + ":")
		}
		return tx.Bucket(bucketByKind), prefixes
	default:
		return tx.Bucket(bucketByTime), [][]byte{nil}
	}
}

// scanNewestFirst walks the keys under prefix from the newest timestamp
// allowed by the filter backwards. visit reports whether the id matched.
// The scan stops once limit matches were seen and the timestamp moved on.
func scanNewestFirst(c *bbolt.Cursor, prefix []byte, filter nostr.Filter, limit int, visit func(id string) (bool, error)) error {
	upper := append([]byte{}, prefix...)
	if filter.Until != nil {
		upper = append(upper, []byte(hexTime(int64(*filter.Until))+";")...)
	} else {
		upper = append(upper, 0xFF)
	}

	k, _ := c.Seek(upper)
	if k == nil {
		k, _ = c.Last()
	} else {
		k, _ = c.Prev()
	}

	matched := 0
	var lastTs int64
	for ; k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Prev() {
		ts, id := parseIndexKey(k)
		if filter.Since != nil && ts < int64(*filter.Since) {
			break
		}
		if matched >= limit && ts < lastTs {
			break
		}

		ok, err := visit(id)
		if err != nil {
			return err
		}
		if ok {
			matched++
			lastTs = ts
		}
	}
	return nil
}

// ──────── DeleteExpired ────────

// DeleteExpired removes every event whose expiration is before now
func (store *BBoltStore) DeleteExpired(_ context.Context, now int64) (int, error) {
	removed := 0
	err := store.update(func(tx *bbolt.Tx) error {
		removed = 0

		var expiredIDs []string
		c := tx.Bucket(bucketExpirations).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			expiration, id := parseIndexKey(k)
			if expiration >= now {
				break
			}
			expiredIDs = append(expiredIDs, id)
		}

		for _, id := range expiredIDs {
			ev, author, err := getEvent(tx, id)
			if err != nil {
				return err
			}
			if ev == nil {
				continue
			}
			if err := deleteEvent(tx, ev, author); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
