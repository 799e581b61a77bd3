package gorm

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToModel(t *testing.T) {
	tests := []struct {
		name        string
		ev          *nostr.Event
		wantAddress string
		wantExpires bool
		wantTags    int
	}{
		{
			name:     "regular note",
			ev:       &nostr.Event{ID: "01", PubKey: "aa", Kind: 1, Tags: nostr.Tags{{"e", "ff"}, {"p", "bb"}, {"client", "x"}}},
			wantTags: 2,
		},
		{
			name:        "replaceable",
			ev:          &nostr.Event{ID: "02", PubKey: "aa", Kind: 10002},
			wantAddress: "10002:aa:",
		},
		{
			name:        "parameterized with expiration",
			ev:          &nostr.Event{ID: "03", PubKey: "aa", Kind: 30023, Tags: nostr.Tags{{"d", "post"}, {"expiration", "1700000000"}}},
			wantAddress: "30023:aa:post",
			wantExpires: true,
			wantTags:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, tags, err := toModel(tt.ev)
			require.NoError(t, err)

			if tt.wantAddress == "" {
				assert.Nil(t, row.Address)
			} else {
				require.NotNil(t, row.Address)
				assert.Equal(t, tt.wantAddress, *row.Address)
			}
			assert.Equal(t, tt.wantExpires, row.Expiration != nil)
			assert.Len(t, tags, tt.wantTags)

			back, err := row.toEvent()
			require.NoError(t, err)
			assert.Equal(t, tt.ev.ID, back.ID)
			assert.Len(t, back.Tags, len(tt.ev.Tags))
		})
	}
}
