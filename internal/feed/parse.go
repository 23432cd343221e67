package feed

import (
	"encoding/json"
	"errors"
	"fmt"

	"killtracker/internal/models"
)

// ErrMissingBody is returned when a package carries no killmail body.
var ErrMissingBody = errors.New("package has no killmail body")

// KillmailFromPackage builds a killmail from a RedisQ package with an
// embedded body.
func KillmailFromPackage(pkg *RedisQPackage) (*models.Killmail, error) {
	if len(pkg.Killmail) == 0 || string(pkg.Killmail) == "null" {
		return nil, ErrMissingBody
	}
	var body ESIKillmail
	if err := json.Unmarshal(pkg.Killmail, &body); err != nil {
		return nil, fmt.Errorf("failed to parse killmail body of %d: %w", pkg.KillID, err)
	}
	if body.KillmailID == 0 {
		body.KillmailID = pkg.KillID
	}
	return KillmailFromBody(pkg.Zkb, &body)
}

// KillmailFromLookup merges a zKillboard API entry with the ESI body.
func KillmailFromLookup(entry *ZkbLookupEntry, body *ESIKillmail) (*models.Killmail, error) {
	if body.KillmailID == 0 {
		body.KillmailID = entry.KillmailID
	}
	if entry.KillmailID != body.KillmailID {
		return nil, fmt.Errorf("lookup id %d does not match body id %d", entry.KillmailID, body.KillmailID)
	}
	return KillmailFromBody(entry.Zkb, body)
}

// KillmailFromBody converts wire data into the canonical model. A missing
// or zero solar system id is kept absent.
func KillmailFromBody(zkb ZkbData, body *ESIKillmail) (*models.Killmail, error) {
	if body.KillmailID == 0 {
		return nil, errors.New("killmail body without id")
	}
	km := &models.Killmail{
		ID:            body.KillmailID,
		Time:          body.KillmailTime.UTC(),
		SolarSystemID: nonZero(body.SolarSystemID),
		Victim: models.Victim{
			CharacterID:   nonZero(body.Victim.CharacterID),
			CorporationID: nonZero(body.Victim.CorporationID),
			AllianceID:    nonZero(body.Victim.AllianceID),
			FactionID:     nonZero(body.Victim.FactionID),
			DamageTaken:   max(body.Victim.DamageTaken, 0),
			ShipTypeID:    nonZero(body.Victim.ShipTypeID),
		},
		Zkb: &models.ZkbInfo{
			LocationID:     nonZero(&zkb.LocationID),
			FittedValue:    zkb.FittedValue,
			DroppedValue:   zkb.DroppedValue,
			DestroyedValue: zkb.DestroyedValue,
			TotalValue:     zkb.TotalValue,
			Points:         zkb.Points,
			IsNPC:          zkb.NPC,
			IsSolo:         zkb.Solo,
			IsAwox:         zkb.Awox,
		},
		Hash: zkb.Hash,
	}
	for _, a := range body.Attackers {
		km.Attackers = append(km.Attackers, models.Attacker{
			CharacterID:    nonZero(a.CharacterID),
			CorporationID:  nonZero(a.CorporationID),
			AllianceID:     nonZero(a.AllianceID),
			FactionID:      nonZero(a.FactionID),
			DamageDone:     max(a.DamageDone, 0),
			SecurityStatus: a.SecurityStatus,
			ShipTypeID:     nonZero(a.ShipTypeID),
			WeaponTypeID:   nonZero(a.WeaponTypeID),
			IsFinalBlow:    a.FinalBlow,
		})
	}
	return km, nil
}

func nonZero(v *int64) *int64 {
	if v == nil || *v == 0 {
		return nil
	}
	return models.Int64(*v)
}
