package badgerhold

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/nbd-wtf/go-nostr"

	"github.com/HORNET-Storage/hornets-relay-core/lib/events"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores"
)

// ───────────────────────────────────────────────────────────────────
// Key Schema
//
//   evt:{eventID}                                         → CBOR(storedEvent)
//   eti:{kind}:{hexTime16}:{eventID}                      → nil   (kind-time)
//   eai:{author}:{hexTime16}:{eventID}                    → nil   (author-time)
//   ets:{hexTime16}:{eventID}                             → nil   (global time)
//   tag:{tagName}:{tagValue}\x00{hexTime16}:{eventID}     → nil   (tag)
//   adr:{kind}:{author}:{dTag}                            → eventID (replaceable address)
//   exp:{hexExpiration16}:{eventID}                       → nil   (NIP-40)
//   _schema:version                                       → CBOR(int)
//
// hexTime16  = fmt.Sprintf("%016x", uint64(createdAt))
//              16-char zero-padded hex ⇒ correct lexicographic sort.
// author is the delegator when a valid delegation tag is present.
// ───────────────────────────────────────────────────────────────────

const (
	prefixEvent      = "evt:"
	prefixKindTime   = "eti:"
	prefixAuthorTime = "eai:"
	prefixEventTime  = "ets:"
	prefixTag        = "tag:"
	prefixAddress    = "adr:"
	prefixExpiration = "exp:"

	schemaVersionKey     = "_schema:version"
	currentSchemaVersion = 1
)

// storedEvent is the CBOR value stored at evt:{id}.
// The event ID lives in the key so it is NOT duplicated here.
type storedEvent struct {
	PubKey    string     `cbor:"p"`
	Author    string     `cbor:"a"`
	CreatedAt int64      `cbor:"c"`
	Kind      int        `cbor:"k"`
	Tags      nostr.Tags `cbor:"t"`
	Content   string     `cbor:"n"`
	Sig       string     `cbor:"s"`
}

// ──────── key builders ────────

func eventKey(id string) []byte {
	return []byte(prefixEvent + id)
}

func kindTimeKey(kind int, ts int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%d:%016x:%s", prefixKindTime, kind, uint64(ts), id))
}

func authorTimeKey(author string, ts int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%016x:%s", prefixAuthorTime, author, uint64(ts), id))
}

func eventTimeKey(ts int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%016x:%s", prefixEventTime, uint64(ts), id))
}

func tagIndexKey(name, value string, ts int64, id string) []byte {
	// \x00 separates variable-length tagValue from the fixed-length suffix
	return []byte(fmt.Sprintf("%s%s:%s\x00%016x:%s", prefixTag, name, value, uint64(ts), id))
}

func addressKey(address stores.Address) []byte {
	return []byte(prefixAddress + address.String())
}

func expirationKey(expiration int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%016x:%s", prefixExpiration, uint64(expiration), id))
}

// ──────── key parsers ────────

// extractEventIDFromKey returns the last 64 characters of any index key
// (event IDs are always 64-char hex at the tail).
func extractEventIDFromKey(key []byte) string {
	if len(key) < 64 {
		return ""
	}
	return string(key[len(key)-64:])
}

// extractTimestampFromKey returns the embedded timestamp. Layout: …:{16hex}:{64id}
func extractTimestampFromKey(key []byte) int64 {
	if len(key) < 64+1+16 {
		return 0
	}
	hexStr := string(key[len(key)-64-1-16 : len(key)-64-1])
	ts, _ := strconv.ParseUint(hexStr, 16, 64)
	return int64(ts)
}

// ──────── seek helpers (reverse iteration) ────────

// seekEnd returns prefix + 0xFF padding so a reverse iterator starts past all
// matching keys.
func seekEnd(prefix []byte) []byte {
	out := make([]byte, 0, len(prefix)+80)
	out = append(out, prefix...)
	for i := 0; i < 80; i++ {
		out = append(out, 0xFF)
	}
	return out
}

// seekBefore positions a reverse iterator at or before a given timestamp
// within a prefix (for Until bounds).
func seekBefore(prefix []byte, until int64) []byte {
	ts := fmt.Sprintf("%016x:", uint64(until))
	out := make([]byte, 0, len(prefix)+17+64)
	out = append(out, prefix...)
	out = append(out, []byte(ts)...)
	for i := 0; i < 64; i++ {
		out = append(out, 0xFF)
	}
	return out
}

// ──────── low-level helpers ────────

// getEvent fetches and decodes a single event by ID within a transaction.
func getEvent(tx *badger.Txn, id string) (*nostr.Event, string, error) {
	item, err := tx.Get(eventKey(id))
	if err != nil {
		return nil, "", err
	}
	var se storedEvent
	err = item.Value(func(val []byte) error {
		return cbor.Unmarshal(val, &se)
	})
	if err != nil {
		return nil, "", err
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

func indexKeys(ev *nostr.Event, author string) [][]byte {
	ts := int64(ev.CreatedAt)
	keys := [][]byte{
		kindTimeKey(ev.Kind, ts, ev.ID),
		authorTimeKey(author, ts, ev.ID),
		eventTimeKey(ts, ev.ID),
	}
	for _, tag := range ev.Tags {
		if len(tag) < 2 || len(tag[0]) != 1 {
			continue
		}
		keys = append(keys, tagIndexKey(tag[0], tag[1], ts, ev.ID))
	}
	if expiration, ok := events.ExtractExpiration(ev); ok {
		keys = append(keys, expirationKey(expiration, ev.ID))
	}
	return keys
}

// deleteEventTx removes an event with every index entry pointing at it
func (store *BadgerholdStore) deleteEventTx(tx *badger.Txn, ev *nostr.Event, author string) error {
	if err := tx.Delete(eventKey(ev.ID)); err != nil {
		return err
	}
	for _, key := range indexKeys(ev, author) {
		if err := tx.Delete(key); err != nil {
			return err
		}
	}
	if address, ok := stores.AddressOf(ev); ok {
		item, err := tx.Get(addressKey(address))
		if err == nil {
			var current []byte
			if current, err = item.ValueCopy(nil); err == nil && string(current) == ev.ID {
				if err := tx.Delete(addressKey(address)); err != nil {
					return err
				}
			}
		}
	}
	return store.removeFromSearchIndexTx(tx, ev.ID)
}

// ──────── Upsert ────────

func (store *BadgerholdStore) Upsert(_ context.Context, ev *nostr.Event) (stores.UpsertResult, error) {
	ts := int64(ev.CreatedAt)
	author := events.GetAuthor(ev, true)

	val, err := cbor.Marshal(storedEvent{
		PubKey:    ev.PubKey,
		Author:    author,
		CreatedAt: ts,
		Kind:      ev.Kind,
		Tags:      ev.Tags,
		Content:   ev.Content,
		Sig:       ev.Sig,
	})
	if err != nil {
		return stores.UpsertResult{}, fmt.Errorf("failed to encode event: %w", err)
	}

	var result stores.UpsertResult

	// Single transaction: replacement, event data and all index keys
	err = store.update(func(tx *badger.Txn) error {
		result = stores.UpsertResult{}

		if _, err := tx.Get(eventKey(ev.ID)); err == nil {
			result.IsDuplicate = true
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		address, replaceable := stores.AddressOf(ev)
		if replaceable {
			replaced, err := store.replaceAddressTx(tx, address, ev)
			if err != nil {
				return err
			}
			if !replaced {
				result.IsDuplicate = true
				return nil
			}
			if err := tx.Set(addressKey(address), []byte(ev.ID)); err != nil {
				return err
			}
		}

		if err := tx.Set(eventKey(ev.ID), val); err != nil {
			return err
		}
		for _, key := range indexKeys(ev, author) {
			if err := tx.Set(key, nil); err != nil {
				return err
			}
		}
		return store.updateSearchIndexTx(tx, ev)
	})
	if err != nil {
		return stores.UpsertResult{}, err
	}
	return result, nil
}

// replaceAddressTx deletes the event stored at address when ev supersedes
// it. It reports false when the stored event wins.
func (store *BadgerholdStore) replaceAddressTx(tx *badger.Txn, address stores.Address, ev *nostr.Event) (bool, error) {
	item, err := tx.Get(addressKey(address))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	existingID, err := item.ValueCopy(nil)
	if err != nil {
		return false, err
	}

	existing, existingAuthor, err := getEvent(tx, string(existingID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if !stores.ShouldReplace(existing, ev) {
		return false, nil
	}
	return true, store.deleteEventTx(tx, existing, existingAuthor)
}

// ──────── Find ────────

func (store *BadgerholdStore) Find(_ context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	if store.IsClosed() {
		return nil, stores.ErrClosed
	}

	limit := stores.EffectiveLimit(filter)
	if limit == 0 {
		return []*nostr.Event{}, nil
	}

	store.logger.Debugf("Find: kinds=%v authors=%d ids=%d tags=%d search=%t limit=%d",
		filter.Kinds, len(filter.Authors), len(filter.IDs), len(filter.Tags), filter.Search != "", limit)

	if filter.Search != "" {
		return store.searchEvents(filter, limit)
	}

	q := query{filter: filter, limit: limit, now: time.Now().Unix()}

	var results []*nostr.Event
	err := store.view(func(tx *badger.Txn) error {
		var e error
		switch {
		case len(filter.IDs) > 0:
			results, e = q.byIDs(tx)
		case primaryTag(filter) != "":
			results, e = q.byTags(tx)
		case len(filter.Authors) > 0:
			results, e = q.byAuthors(tx)
		case len(filter.Kinds) > 0:
			results, e = q.byKinds(tx)
		default:
			results, e = q.allEvents(tx)
		}
		return e
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (store *BadgerholdStore) FindOne(ctx context.Context, filter nostr.Filter) (*nostr.Event, error) {
	return stores.FindOne(ctx, store, filter)
}

// primaryTag picks the indexed tag name a query scans. Only single-letter
// tags are indexed.
func primaryTag(filter nostr.Filter) string {
	var names []string
	for name, values := range filter.Tags {
		name = strings.TrimPrefix(name, "#")
		if len(name) == 1 && len(values) > 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[0]
}

type query struct {
	filter nostr.Filter
	limit  int
	now    int64
}

func (q query) accept(ev *nostr.Event) bool {
	return events.MatchesFilter(ev, q.filter) && stores.Visible(ev, q.now)
}

// ──── query strategies ────

func (q query) byIDs(tx *badger.Txn) ([]*nostr.Event, error) {
	var results []*nostr.Event
	for _, id := range q.filter.IDs {
		ev, _, err := getEvent(tx, id)
		if errors.Is(err, badger.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if q.accept(ev) {
			results = append(results, ev)
		}
	}
	return finish(results, q.limit), nil
}

func (q query) byTags(tx *badger.Txn) ([]*nostr.Event, error) {
	name := primaryTag(q.filter)
	values := q.filter.Tags[name]
	if values == nil {
		values = q.filter.Tags["#"+name]
	}

	prefixes := make([][]byte, len(values))
	for i, v := range values {
		prefixes[i] = []byte(fmt.Sprintf("%s%s:%s\x00", prefixTag, name, v))
	}
	return q.collectFromPrefixes(tx, prefixes)
}

func (q query) byAuthors(tx *badger.Txn) ([]*nostr.Event, error) {
	prefixes := make([][]byte, len(q.filter.Authors))
	for i, a := range q.filter.Authors {
		prefixes[i] = []byte(prefixAuthorTime + a + ":")
	}
	return q.collectFromPrefixes(tx, prefixes)
}

func (q query) byKinds(tx *badger.Txn) ([]*nostr.Event, error) {
	prefixes := make([][]byte, len(q.filter.Kinds))
	for i, k := range q.filter.Kinds {
		prefixes[i] = []byte(fmt.Sprintf("%s%d:", prefixKindTime, k))
	}
	return q.collectFromPrefixes(tx, prefixes)
}

func (q query) allEvents(tx *badger.Txn) ([]*nostr.Event, error) {
	return q.collectFromPrefixes(tx, [][]byte{[]byte(prefixEventTime)})
}

// ──── core collector ────

// collectFromPrefixes reverse-iterates one or more index prefixes, fetches
// each event, applies the full filter, and returns up to limit results
// newest-first. A prefix is only abandoned once it has produced limit
// matches and moved past the timestamp of the last one, so equal-timestamp
// ties can still be ordered by id.
func (q query) collectFromPrefixes(tx *badger.Txn, prefixes [][]byte) ([]*nostr.Event, error) {
	seen := make(map[string]struct{})
	var results []*nostr.Event

	for _, prefix := range prefixes {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false // index keys carry no value
		opts.Reverse = true
		opts.Prefix = prefix // required for reverse prefix iteration in BadgerDB

		it := tx.NewIterator(opts)

		var sk []byte
		if q.filter.Until != nil {
			sk = seekBefore(prefix, int64(*q.filter.Until))
		} else {
			sk = seekEnd(prefix)
		}

		matched := 0
		var lastTs int64
		for it.Seek(sk); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			ts := extractTimestampFromKey(key)

			// Since bound – everything older can be skipped
			if q.filter.Since != nil && ts < int64(*q.filter.Since) {
				break
			}
			if matched >= q.limit && ts < lastTs {
				break
			}

			eid := extractEventIDFromKey(key)
			if _, dup := seen[eid]; dup {
				continue
			}
			seen[eid] = struct{}{}

			ev, _, err := getEvent(tx, eid)
			if err != nil {
				continue
			}

			if q.accept(ev) {
				results = append(results, ev)
				matched++
				lastTs = ts
			}
		}
		it.Close()
	}

	return finish(results, q.limit), nil
}

func finish(results []*nostr.Event, limit int) []*nostr.Event {
	stores.SortEvents(results)
	if len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = []*nostr.Event{}
	}
	return results
}

// ──────── DeleteExpired ────────

// DeleteExpired removes every event whose expiration is before now
func (store *BadgerholdStore) DeleteExpired(_ context.Context, now int64) (int, error) {
	removed := 0
	err := store.update(func(tx *badger.Txn) error {
		removed = 0

		prefix := []byte(prefixExpiration)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		var expiredIDs []string
		it := tx.NewIterator(opts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if extractTimestampFromKey(key) >= now {
				break
			}
			expiredIDs = append(expiredIDs, extractEventIDFromKey(key))
		}
		it.Close()

		for _, id := range expiredIDs {
			ev, author, err := getEvent(tx, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := store.deleteEventTx(tx, ev, author); err != nil {
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

// ──────── schema version ────────

// CheckSchemaVersion verifies the database is on the expected schema version.
// If the database is empty it stamps it with the current version.
func CheckSchemaVersion(db *badger.DB) error {
	var version int
	var hasVersion bool

	err := db.View(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(schemaVersionKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		hasVersion = true
		return item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &version)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if hasVersion {
		if version != currentSchemaVersion {
			return fmt.Errorf("database schema version %d is not supported (expected %d)",
				version, currentSchemaVersion)
		}
		return nil
	}

	// Fresh database – stamp current version
	return db.Update(func(tx *badger.Txn) error {
		val, _ := cbor.Marshal(currentSchemaVersion)
		return tx.Set([]byte(schemaVersionKey), val)
	})
}
