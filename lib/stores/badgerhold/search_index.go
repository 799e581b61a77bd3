package badgerhold

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/dgraph-io/badger/v4"
	"github.com/nbd-wtf/go-nostr"
	"github.com/timshannon/badgerhold/v4"
)

// SearchIndexEntry represents a searchable event in the index
type SearchIndexEntry struct {
	EventID   string   `badgerhold:"key"`
	Tokens    []string // Tokenized content for faster searching
	Kind      int
	CreatedAt int64
}

// TokenizeContent breaks content into searchable tokens
func TokenizeContent(content string) []string {
	// Convert to lowercase for case-insensitive search
	content = strings.ToLower(content)

	// Split by whitespace and punctuation
	var tokens []string
	var currentToken strings.Builder

	flush := func() {
		// Only include tokens with length > 2 to avoid noise
		if currentToken.Len() > 2 {
			tokens = append(tokens, currentToken.String())
		}
		currentToken.Reset()
	}

	for _, r := range content {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			currentToken.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	// Remove duplicates
	seen := make(map[string]struct{}, len(tokens))
	unique := tokens[:0]
	for _, token := range tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		unique = append(unique, token)
	}

	return unique
}

// updateSearchIndexTx indexes the content of an event in the same
// transaction that stores it
func (store *BadgerholdStore) updateSearchIndexTx(tx *badger.Txn, event *nostr.Event) error {
	tokens := TokenizeContent(event.Content)
	if len(tokens) == 0 {
		return nil
	}

	entry := SearchIndexEntry{
		EventID:   event.ID,
		Tokens:    tokens,
		Kind:      event.Kind,
		CreatedAt: int64(event.CreatedAt),
	}
	return store.Database.TxUpsert(tx, event.ID, entry)
}

// removeFromSearchIndexTx removes an event from the search index
func (store *BadgerholdStore) removeFromSearchIndexTx(tx *badger.Txn, eventID string) error {
	err := store.Database.TxDelete(tx, eventID, SearchIndexEntry{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil
	}
	return err
}

// searchEvents returns events whose content shares any token with the
// search term and that match the rest of the filter
func (store *BadgerholdStore) searchEvents(filter nostr.Filter, limit int) ([]*nostr.Event, error) {
	searchTokens := TokenizeContent(filter.Search)
	if len(searchTokens) == 0 {
		return []*nostr.Event{}, nil
	}

	// Combine token queries with OR logic
	indexQuery := badgerhold.Where("Tokens").Contains(searchTokens[0])
	for _, token := range searchTokens[1:] {
		indexQuery = indexQuery.Or(badgerhold.Where("Tokens").Contains(token))
	}

	rest := filter
	rest.Search = ""
	q := query{filter: rest, limit: limit, now: time.Now().Unix()}

	var results []*nostr.Event
	err := store.view(func(tx *badger.Txn) error {
		var indexEntries []SearchIndexEntry
		if err := store.Database.TxFind(tx, &indexEntries, indexQuery); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("search index query failed: %w", err)
		}

		for _, entry := range indexEntries {
			ev, _, err := getEvent(tx, entry.EventID)
			if err != nil {
				continue
			}
			if q.accept(ev) {
				results = append(results, ev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return finish(results, limit), nil
}
