package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// KillmailFormatVersion is written into every serialized killmail.
const KillmailFormatVersion = 1

// Killmail is one combat loss event. Values are treated as read-only once
// constructed; derived copies are made with the With* methods.
type Killmail struct {
	ID            int64
	Time          time.Time
	SolarSystemID *int64
	Victim        Victim
	Attackers     []Attacker // feed order
	Zkb           *ZkbInfo
	Hash          string
	TrackerInfo   *TrackerInfo
}

// Victim of a killmail.
type Victim struct {
	CharacterID   *int64 `json:"character_id,omitempty"`
	CorporationID *int64 `json:"corporation_id,omitempty"`
	AllianceID    *int64 `json:"alliance_id,omitempty"`
	FactionID     *int64 `json:"faction_id,omitempty"`
	DamageTaken   int64  `json:"damage_taken"`
	ShipTypeID    *int64 `json:"ship_type_id,omitempty"`
}

// Attacker of a killmail.
type Attacker struct {
	CharacterID    *int64  `json:"character_id,omitempty"`
	CorporationID  *int64  `json:"corporation_id,omitempty"`
	AllianceID     *int64  `json:"alliance_id,omitempty"`
	FactionID      *int64  `json:"faction_id,omitempty"`
	DamageDone     int64   `json:"damage_done"`
	SecurityStatus float64 `json:"security_status"`
	ShipTypeID     *int64  `json:"ship_type_id,omitempty"`
	WeaponTypeID   *int64  `json:"weapon_type_id,omitempty"`
	IsFinalBlow    bool    `json:"is_final_blow"`
}

// ZkbInfo is the zKillboard valuation block.
type ZkbInfo struct {
	LocationID     *int64  `json:"location_id,omitempty"`
	FittedValue    float64 `json:"fitted_value"`
	DroppedValue   float64 `json:"dropped_value"`
	DestroyedValue float64 `json:"destroyed_value"`
	TotalValue     float64 `json:"total_value"`
	Points         int64   `json:"points"`
	IsNPC          bool    `json:"is_npc"`
	IsSolo         bool    `json:"is_solo"`
	IsAwox         bool    `json:"is_awox"`
}

// TrackerInfo is attached to a killmail after it matched a tracker.
type TrackerInfo struct {
	TrackerID           int64        `json:"tracker_id"`
	MatchingShipTypeIDs []int64      `json:"matching_ship_type_ids,omitempty"`
	MainOrg             *EntityCount `json:"main_org,omitempty"`
}

type killmailJSON struct {
	Version       int          `json:"version"`
	ID            int64        `json:"id"`
	Time          time.Time    `json:"time"`
	SolarSystemID *int64       `json:"solar_system_id"`
	Victim        Victim       `json:"victim"`
	Attackers     []Attacker   `json:"attackers"`
	Zkb           *ZkbInfo     `json:"zkb"`
	Hash          string       `json:"hash,omitempty"`
	TrackerInfo   *TrackerInfo `json:"tracker_info,omitempty"`
}

// MarshalJSON writes the stable wire format.
func (k Killmail) MarshalJSON() ([]byte, error) {
	attackers := k.Attackers
	if attackers == nil {
		attackers = []Attacker{}
	}
	return json.Marshal(killmailJSON{
		Version:       KillmailFormatVersion,
		ID:            k.ID,
		Time:          k.Time.UTC(),
		SolarSystemID: k.SolarSystemID,
		Victim:        k.Victim,
		Attackers:     attackers,
		Zkb:           k.Zkb,
		Hash:          k.Hash,
		TrackerInfo:   k.TrackerInfo,
	})
}

// UnmarshalJSON reads the wire format. A missing version is read as 1.
func (k *Killmail) UnmarshalJSON(data []byte) error {
	var raw killmailJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Version > KillmailFormatVersion {
		return fmt.Errorf("unsupported killmail format version %d", raw.Version)
	}
	if raw.ID == 0 {
		return fmt.Errorf("killmail without id")
	}
	*k = Killmail{
		ID:            raw.ID,
		Time:          raw.Time.UTC(),
		SolarSystemID: raw.SolarSystemID,
		Victim:        raw.Victim,
		Attackers:     raw.Attackers,
		Zkb:           raw.Zkb,
		Hash:          raw.Hash,
		TrackerInfo:   raw.TrackerInfo,
	}
	if len(k.Attackers) == 0 {
		k.Attackers = nil
	}
	if k.TrackerInfo != nil && len(k.TrackerInfo.MatchingShipTypeIDs) == 0 {
		k.TrackerInfo.MatchingShipTypeIDs = nil
	}
	return nil
}

// AsJSON serializes the killmail.
func (k *Killmail) AsJSON() ([]byte, error) {
	return json.Marshal(k)
}

// KillmailFromJSON parses a killmail serialized with AsJSON.
func KillmailFromJSON(data []byte) (*Killmail, error) {
	var k Killmail
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("failed to parse killmail: %w", err)
	}
	return &k, nil
}

// AsMap returns the wire format as a generic map. Numbers are json.Number
// so that large ids keep their precision.
func (k *Killmail) AsMap() (map[string]any, error) {
	data, err := k.AsJSON()
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// KillmailFromMap is the inverse of AsMap.
func KillmailFromMap(m map[string]any) (*Killmail, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode killmail map: %w", err)
	}
	return KillmailFromJSON(data)
}

func (k *Killmail) String() string {
	return fmt.Sprintf("Killmail(id=%d)", k.ID)
}

func (k *Killmail) GoString() string {
	return k.String()
}

// FinalBlow returns the attacker flagged as final blow, falling back to the
// first attacker.
func (k *Killmail) FinalBlow() (Attacker, bool) {
	for _, a := range k.Attackers {
		if a.IsFinalBlow {
			return a, true
		}
	}
	if len(k.Attackers) > 0 {
		return k.Attackers[0], true
	}
	return Attacker{}, false
}

// EntityIDs returns every id referenced by the victim, the attackers, the
// solar system and the zkb location.
func (k *Killmail) EntityIDs() map[int64]struct{} {
	ids := make(map[int64]struct{})
	add := func(ptrs ...*int64) {
		for _, p := range ptrs {
			if p != nil {
				ids[*p] = struct{}{}
			}
		}
	}
	v := k.Victim
	add(v.CharacterID, v.CorporationID, v.AllianceID, v.FactionID, v.ShipTypeID)
	for _, a := range k.Attackers {
		add(a.CharacterID, a.CorporationID, a.AllianceID, a.FactionID, a.ShipTypeID, a.WeaponTypeID)
	}
	add(k.SolarSystemID)
	if k.Zkb != nil {
		add(k.Zkb.LocationID)
	}
	return ids
}

// AttackersShipTypeIDs returns attacker ship types in attacker order,
// duplicates included. Attackers without a ship are skipped.
func (k *Killmail) AttackersShipTypeIDs() []int64 {
	ids := make([]int64, 0, len(k.Attackers))
	for _, a := range k.Attackers {
		if a.ShipTypeID != nil {
			ids = append(ids, *a.ShipTypeID)
		}
	}
	return ids
}

// ShipTypeIDs returns the ship types of the victim and all attackers.
func (k *Killmail) ShipTypeIDs() map[int64]struct{} {
	ids := make(map[int64]struct{})
	if k.Victim.ShipTypeID != nil {
		ids[*k.Victim.ShipTypeID] = struct{}{}
	}
	for _, id := range k.AttackersShipTypeIDs() {
		ids[id] = struct{}{}
	}
	return ids
}

// AttackerEntityCounts tallies attacker alliances and corporations, largest
// first. Ties go to alliances, then to the lower id.
func (k *Killmail) AttackerEntityCounts() []EntityCount {
	alliances := make(map[int64]int)
	corporations := make(map[int64]int)
	for _, a := range k.Attackers {
		if a.AllianceID != nil {
			alliances[*a.AllianceID]++
		}
		if a.CorporationID != nil {
			corporations[*a.CorporationID]++
		}
	}
	counts := make([]EntityCount, 0, len(alliances)+len(corporations))
	for id, n := range alliances {
		counts = append(counts, EntityCount{ID: id, Category: CategoryAlliance, Count: n})
	}
	for id, n := range corporations {
		counts = append(counts, EntityCount{ID: id, Category: CategoryCorporation, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		if counts[i].Category != counts[j].Category {
			return counts[i].IsAlliance()
		}
		return counts[i].ID < counts[j].ID
	})
	return counts
}

// MainAttackerGroup returns the largest attacking alliance or corporation.
func (k *Killmail) MainAttackerGroup() *EntityCount {
	counts := k.AttackerEntityCounts()
	if len(counts) == 0 {
		return nil
	}
	main := counts[0]
	return &main
}

// WithTrackerInfo returns a copy of k carrying info.
func (k *Killmail) WithTrackerInfo(info TrackerInfo) *Killmail {
	c := *k
	c.TrackerInfo = &info
	return &c
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}
