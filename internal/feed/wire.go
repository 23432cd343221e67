package feed

import (
	"encoding/json"
	"time"
)

// RedisQResponse is the body returned by the RedisQ listen endpoint.
type RedisQResponse struct {
	Package *RedisQPackage `json:"package"`
}

// RedisQPackage is one killmail package. Killmail may be missing, in which
// case the body is fetched from ESI with the zkb hash.
type RedisQPackage struct {
	KillID   int64           `json:"killID"`
	Killmail json.RawMessage `json:"killmail"`
	Zkb      ZkbData         `json:"zkb"`
}

// ZkbData is zKillboard's valuation block as sent by RedisQ and the API.
type ZkbData struct {
	LocationID     int64   `json:"locationID"`
	Hash           string  `json:"hash"`
	FittedValue    float64 `json:"fittedValue"`
	DroppedValue   float64 `json:"droppedValue"`
	DestroyedValue float64 `json:"destroyedValue"`
	TotalValue     float64 `json:"totalValue"`
	Points         int64   `json:"points"`
	NPC            bool    `json:"npc"`
	Solo           bool    `json:"solo"`
	Awox           bool    `json:"awox"`
	Href           string  `json:"href"`
}

// ZkbLookupEntry is one element of the zKillboard API killID response.
type ZkbLookupEntry struct {
	KillmailID int64   `json:"killmail_id"`
	Zkb        ZkbData `json:"zkb"`
}

// ESIKillmail is the authoritative killmail body.
type ESIKillmail struct {
	KillmailID    int64         `json:"killmail_id"`
	KillmailTime  time.Time     `json:"killmail_time"`
	SolarSystemID *int64        `json:"solar_system_id"`
	Victim        ESIVictim     `json:"victim"`
	Attackers     []ESIAttacker `json:"attackers"`
}

type ESIVictim struct {
	CharacterID   *int64 `json:"character_id"`
	CorporationID *int64 `json:"corporation_id"`
	AllianceID    *int64 `json:"alliance_id"`
	FactionID     *int64 `json:"faction_id"`
	ShipTypeID    *int64 `json:"ship_type_id"`
	DamageTaken   int64  `json:"damage_taken"`
}

type ESIAttacker struct {
	CharacterID    *int64  `json:"character_id"`
	CorporationID  *int64  `json:"corporation_id"`
	AllianceID     *int64  `json:"alliance_id"`
	FactionID      *int64  `json:"faction_id"`
	ShipTypeID     *int64  `json:"ship_type_id"`
	WeaponTypeID   *int64  `json:"weapon_type_id"`
	DamageDone     int64   `json:"damage_done"`
	FinalBlow      bool    `json:"final_blow"`
	SecurityStatus float64 `json:"security_status"`
}
