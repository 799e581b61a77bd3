package websocket

import (
	"sort"

	"github.com/HORNET-Storage/hornets-relay-core/lib/types"
)

// NIP11RelayInfo is the relay information document served to
// application/nostr+json requests
type NIP11RelayInfo struct {
	Name          string            `json:"name,omitempty"`
	Description   string            `json:"description,omitempty"`
	Pubkey        string            `json:"pubkey,omitempty"`
	Contact       string            `json:"contact,omitempty"`
	Icon          string            `json:"icon,omitempty"`
	SupportedNIPs []int             `json:"supported_nips,omitempty"`
	Software      string            `json:"software,omitempty"`
	Version       string            `json:"version,omitempty"`
	Limitation    *RelayLimitations `json:"limitation,omitempty"`
}

type RelayLimitations struct {
	MaxSubscriptions    int   `json:"max_subscriptions,omitempty"`
	MinPowDifficulty    int   `json:"min_pow_difficulty,omitempty"`
	AuthRequired        bool  `json:"auth_required"`
	CreatedAtLowerLimit int64 `json:"created_at_lower_limit,omitempty"`
	CreatedAtUpperLimit int64 `json:"created_at_upper_limit,omitempty"`
}

// relayFeatures is what the information document needs from the relay
type relayFeatures interface {
	AuthEnabled() bool
	IsSearchSupported() bool
}

const nipSearch = 50

// NewRelayInfo builds the information document from configuration. NIP-50
// is advertised only when the repository can search.
func NewRelayInfo(relay types.RelayConfig, limits types.LimitsConfig, features relayFeatures) NIP11RelayInfo {
	nips := append([]int(nil), relay.SupportedNIPs...)
	hasSearch := false
	for _, nip := range nips {
		if nip == nipSearch {
			hasSearch = true
		}
	}
	if features.IsSearchSupported() && !hasSearch {
		nips = append(nips, nipSearch)
	}
	if !features.IsSearchSupported() && hasSearch {
		filtered := nips[:0]
		for _, nip := range nips {
			if nip != nipSearch {
				filtered = append(filtered, nip)
			}
		}
		nips = filtered
	}
	sort.Ints(nips)

	return NIP11RelayInfo{
		Name:          relay.Name,
		Description:   relay.Description,
		Pubkey:        relay.Pubkey,
		Contact:       relay.Contact,
		Icon:          relay.Icon,
		SupportedNIPs: nips,
		Software:      relay.Software,
		Version:       relay.Version,
		Limitation: &RelayLimitations{
			MaxSubscriptions:    limits.MaxSubscriptionsPerClient,
			MinPowDifficulty:    limits.MinPowDifficulty,
			AuthRequired:        features.AuthEnabled(),
			CreatedAtLowerLimit: limits.CreatedAtLowerLimit,
			CreatedAtUpperLimit: limits.CreatedAtUpperLimit,
		},
	}
}
