package models

import "strings"

// PingType selects the mention added in front of a tracker message.
type PingType string

const (
	PingNone     PingType = "PN"
	PingHere     PingType = "PH"
	PingEveryone PingType = "PE"
)

// Mention returns the Discord mention for the ping type, empty for none.
func (p PingType) Mention() string {
	switch p {
	case PingHere:
		return "@here"
	case PingEveryone:
		return "@everyone"
	default:
		return ""
	}
}

// Tracker is a standing subscription rule. Nil pointers and empty slices
// are unconfigured constraints.
type Tracker struct {
	ID        int64
	Name      string
	IsEnabled bool
	WebhookID int64

	ExcludeHighSec bool
	ExcludeLowSec  bool
	ExcludeNullSec bool
	ExcludeWSpace  bool

	RequireMinAttackers *int
	RequireMaxAttackers *int
	RequireMinValue     *float64 // ISK
	RequireMaxValue     *float64 // ISK

	RequireVictimShipTypes     []int64
	ExcludeVictimShipTypes     []int64
	RequireVictimShipGroups    []int64
	RequireAttackersShipTypes  []int64
	ExcludeAttackersShipTypes  []int64
	RequireAttackersShipGroups []int64

	RequireSolarSystems   []int64
	RequireConstellations []int64
	RequireRegions        []int64

	RequireNPCKills bool
	ExcludeNPCKills bool

	RequireAttackerAlliances      []int64
	RequireAttackerCorporations   []int64
	ExcludeAttackerAlliances      []int64
	ExcludeAttackerCorporations   []int64
	RequireVictimAlliances        []int64
	RequireVictimCorporations     []int64
	RequireFinalBlowOrganizations []int64 // alliance or corporation ids

	Color         string // "#rrggbb"
	PingType      PingType
	PingGroups    []string // Discord role ids
	IsPostingName bool
}

// HasSecSpaceExclusion reports whether any sec-space exclude flag is set.
func (t *Tracker) HasSecSpaceExclusion() bool {
	return t.ExcludeHighSec || t.ExcludeLowSec || t.ExcludeNullSec || t.ExcludeWSpace
}

// PingPrefix renders the mentions placed before the message content.
func (t *Tracker) PingPrefix() string {
	parts := make([]string, 0, len(t.PingGroups)+1)
	if m := t.PingType.Mention(); m != "" {
		parts = append(parts, m)
	}
	for _, g := range t.PingGroups {
		if g = strings.TrimSpace(g); g != "" {
			parts = append(parts, "<@&"+g+">")
		}
	}
	return strings.Join(parts, " ")
}
