package gorm

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/nbd-wtf/go-nostr"

	"github.com/HORNET-Storage/hornets-relay-core/lib/events"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is one stored nostr event. Author is the delegator when a valid
// delegation tag is present. Address columns are only set for replaceable
// kinds, so the unique index never constrains regular events.
type Event struct {
	ID         string  `gorm:"primaryKey;size:64"`
	PubKey     string  `gorm:"size:64;not null"`
	Author     string  `gorm:"size:64;not null;index:idx_events_author_created,priority:1"`
	Timestamp  int64   `gorm:"column:created_at;not null;index:idx_events_author_created,priority:2;index:idx_events_kind_created,priority:2;index:idx_events_created"`
	Kind       int     `gorm:"not null;index:idx_events_kind_created,priority:1"`
	Tags       string  `gorm:"type:text;not null"`
	Content    string  `gorm:"type:text;not null"`
	Sig        string  `gorm:"size:128;not null"`
	Address    *string `gorm:"uniqueIndex:idx_events_address"`
	Expiration *int64  `gorm:"index"`
}

// GenericTag indexes single-letter tags for tag filters
type GenericTag struct {
	ID        uint   `gorm:"primaryKey"`
	EventID   string `gorm:"size:64;not null;index"`
	Name      string `gorm:"size:16;not null;index:idx_tags_name_value,priority:1"`
	Value     string `gorm:"not null;index:idx_tags_name_value,priority:2"`
	Timestamp int64  `gorm:"column:created_at;not null"`
}

func toModel(ev *nostr.Event) (*Event, []GenericTag, error) {
	tags := ev.Tags
	if tags == nil {
		tags = nostr.Tags{}
	}
	encodedTags, err := json.MarshalToString(tags)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode tags: %w", err)
	}

	row := &Event{
		ID:        ev.ID,
		PubKey:    ev.PubKey,
		Author:    events.GetAuthor(ev, true),
		Timestamp: int64(ev.CreatedAt),
		Kind:      ev.Kind,
		Tags:      encodedTags,
		Content:   ev.Content,
		Sig:       ev.Sig,
	}
	if address, ok := stores.AddressOf(ev); ok {
		key := address.String()
		row.Address = &key
	}
	if expiration, ok := events.ExtractExpiration(ev); ok {
		row.Expiration = &expiration
	}

	var genericTags []GenericTag
	for _, tag := range ev.Tags {
		if len(tag) < 2 || len(tag[0]) != 1 {
			continue
		}
		genericTags = append(genericTags, GenericTag{
			EventID:   ev.ID,
			Name:      tag[0],
			Value:     tag[1],
			Timestamp: row.Timestamp,
		})
	}
	return row, genericTags, nil
}

func (row *Event) toEvent() (*nostr.Event, error) {
	var tags nostr.Tags
	if err := json.UnmarshalFromString(row.Tags, &tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags of %s: %w", row.ID, err)
	}
	return &nostr.Event{
		ID:        row.ID,
		PubKey:    row.PubKey,
		CreatedAt: nostr.Timestamp(row.Timestamp),
		Kind:      row.Kind,
		Tags:      tags,
		Content:   row.Content,
		Sig:       row.Sig,
	}, nil
}
