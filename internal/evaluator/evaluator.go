package evaluator

import (
	"killtracker/internal/models"
	"killtracker/internal/universe"
)

// predicate is one tracker constraint. Unconfigured constraints return true.
type predicate struct {
	name string
	fn   func(e *Evaluator, t *models.Tracker, km *models.Killmail) bool
}

var predicates = []predicate{
	{"sec_space", (*Evaluator).matchSecSpace},
	{"location", (*Evaluator).matchLocation},
	{"attacker_count", (*Evaluator).matchAttackerCount},
	{"value", (*Evaluator).matchValue},
	{"npc", (*Evaluator).matchNPC},
	{"victim_ship", (*Evaluator).matchVictimShip},
	{"attacker_ships", (*Evaluator).matchAttackerShips},
	{"victim_org", (*Evaluator).matchVictimOrg},
	{"attacker_orgs", (*Evaluator).matchAttackerOrgs},
	{"final_blow", (*Evaluator).matchFinalBlow},
}

// Evaluator decides whether a killmail is relevant for a tracker. It only
// reads from the injected lookup and never fails.
type Evaluator struct {
	lookup universe.Lookup
}

func NewEvaluator(lookup universe.Lookup) *Evaluator {
	return &Evaluator{lookup: lookup}
}

// Matches reports whether every configured constraint of t holds for km.
func (e *Evaluator) Matches(t *models.Tracker, km *models.Killmail) bool {
	ok, _ := e.Explain(t, km)
	return ok
}

// Explain is Matches plus the name of the first failing constraint.
func (e *Evaluator) Explain(t *models.Tracker, km *models.Killmail) (bool, string) {
	for _, p := range predicates {
		if !p.fn(e, t, km) {
			return false, p.name
		}
	}
	return true, ""
}

// Match returns a copy of km tagged with tracker details when it matches.
func (e *Evaluator) Match(t *models.Tracker, km *models.Killmail) (*models.Killmail, bool) {
	if !e.Matches(t, km) {
		return nil, false
	}
	info := models.TrackerInfo{
		TrackerID:           t.ID,
		MatchingShipTypeIDs: e.matchingShipTypes(t, km),
		MainOrg:             km.MainAttackerGroup(),
	}
	return km.WithTrackerInfo(info), true
}

func (e *Evaluator) solarSystem(km *models.Killmail) (universe.SolarSystem, bool) {
	if km.SolarSystemID == nil || e.lookup == nil {
		return universe.SolarSystem{}, false
	}
	return e.lookup.SolarSystem(*km.SolarSystemID)
}

// matchSecSpace fails for an unknown location whenever any exclusion is set.
func (e *Evaluator) matchSecSpace(t *models.Tracker, km *models.Killmail) bool {
	if !t.HasSecSpaceExclusion() {
		return true
	}
	system, ok := e.solarSystem(km)
	if !ok {
		return false
	}
	switch system.SecSpace() {
	case universe.HighSec:
		return !t.ExcludeHighSec
	case universe.LowSec:
		return !t.ExcludeLowSec
	case universe.NullSec:
		return !t.ExcludeNullSec
	case universe.WSpace:
		return !t.ExcludeWSpace
	default:
		return false
	}
}

func (e *Evaluator) matchLocation(t *models.Tracker, km *models.Killmail) bool {
	if len(t.RequireSolarSystems) == 0 && len(t.RequireConstellations) == 0 && len(t.RequireRegions) == 0 {
		return true
	}
	if km.SolarSystemID == nil {
		return false
	}
	if len(t.RequireSolarSystems) > 0 && !contains(t.RequireSolarSystems, *km.SolarSystemID) {
		return false
	}
	if len(t.RequireConstellations) == 0 && len(t.RequireRegions) == 0 {
		return true
	}
	system, ok := e.solarSystem(km)
	if !ok {
		return false
	}
	if len(t.RequireConstellations) > 0 && !contains(t.RequireConstellations, system.ConstellationID) {
		return false
	}
	if len(t.RequireRegions) > 0 && !contains(t.RequireRegions, system.RegionID) {
		return false
	}
	return true
}

func (e *Evaluator) matchAttackerCount(t *models.Tracker, km *models.Killmail) bool {
	n := len(km.Attackers)
	if t.RequireMinAttackers != nil && n < *t.RequireMinAttackers {
		return false
	}
	if t.RequireMaxAttackers != nil && n > *t.RequireMaxAttackers {
		return false
	}
	return true
}

func (e *Evaluator) matchValue(t *models.Tracker, km *models.Killmail) bool {
	if t.RequireMinValue == nil && t.RequireMaxValue == nil {
		return true
	}
	if km.Zkb == nil {
		return false
	}
	if t.RequireMinValue != nil && km.Zkb.TotalValue < *t.RequireMinValue {
		return false
	}
	if t.RequireMaxValue != nil && km.Zkb.TotalValue > *t.RequireMaxValue {
		return false
	}
	return true
}

func (e *Evaluator) matchNPC(t *models.Tracker, km *models.Killmail) bool {
	isNPC := km.Zkb != nil && km.Zkb.IsNPC
	if t.RequireNPCKills && !isNPC {
		return false
	}
	if t.ExcludeNPCKills && isNPC {
		return false
	}
	return true
}

func (e *Evaluator) matchVictimShip(t *models.Tracker, km *models.Killmail) bool {
	ship := km.Victim.ShipTypeID
	if len(t.RequireVictimShipTypes) > 0 && (ship == nil || !contains(t.RequireVictimShipTypes, *ship)) {
		return false
	}
	if len(t.ExcludeVictimShipTypes) > 0 && ship != nil && contains(t.ExcludeVictimShipTypes, *ship) {
		return false
	}
	if len(t.RequireVictimShipGroups) > 0 {
		if ship == nil || !e.inShipGroups(t.RequireVictimShipGroups, *ship) {
			return false
		}
	}
	return true
}

func (e *Evaluator) matchAttackerShips(t *models.Tracker, km *models.Killmail) bool {
	ships := km.AttackersShipTypeIDs()
	if len(t.RequireAttackersShipTypes) > 0 && !intersects(t.RequireAttackersShipTypes, ships) {
		return false
	}
	if len(t.ExcludeAttackersShipTypes) > 0 && intersects(t.ExcludeAttackersShipTypes, ships) {
		return false
	}
	if len(t.RequireAttackersShipGroups) > 0 {
		found := false
		for _, s := range ships {
			if e.inShipGroups(t.RequireAttackersShipGroups, s) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (e *Evaluator) matchVictimOrg(t *models.Tracker, km *models.Killmail) bool {
	v := km.Victim
	if len(t.RequireVictimAlliances) > 0 && (v.AllianceID == nil || !contains(t.RequireVictimAlliances, *v.AllianceID)) {
		return false
	}
	if len(t.RequireVictimCorporations) > 0 && (v.CorporationID == nil || !contains(t.RequireVictimCorporations, *v.CorporationID)) {
		return false
	}
	return true
}

func (e *Evaluator) matchAttackerOrgs(t *models.Tracker, km *models.Killmail) bool {
	var alliances, corporations []int64
	for _, a := range km.Attackers {
		if a.AllianceID != nil {
			alliances = append(alliances, *a.AllianceID)
		}
		if a.CorporationID != nil {
			corporations = append(corporations, *a.CorporationID)
		}
	}
	if len(t.RequireAttackerAlliances) > 0 && !intersects(t.RequireAttackerAlliances, alliances) {
		return false
	}
	if len(t.RequireAttackerCorporations) > 0 && !intersects(t.RequireAttackerCorporations, corporations) {
		return false
	}
	if len(t.ExcludeAttackerAlliances) > 0 && intersects(t.ExcludeAttackerAlliances, alliances) {
		return false
	}
	if len(t.ExcludeAttackerCorporations) > 0 && intersects(t.ExcludeAttackerCorporations, corporations) {
		return false
	}
	return true
}

func (e *Evaluator) matchFinalBlow(t *models.Tracker, km *models.Killmail) bool {
	if len(t.RequireFinalBlowOrganizations) == 0 {
		return true
	}
	fb, ok := km.FinalBlow()
	if !ok {
		return false
	}
	if fb.AllianceID != nil && contains(t.RequireFinalBlowOrganizations, *fb.AllianceID) {
		return true
	}
	return fb.CorporationID != nil && contains(t.RequireFinalBlowOrganizations, *fb.CorporationID)
}

// matchingShipTypes lists the ship types that satisfied a ship requirement,
// used by the composer to highlight them.
func (e *Evaluator) matchingShipTypes(t *models.Tracker, km *models.Killmail) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	add := func(id int64) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	if v := km.Victim.ShipTypeID; v != nil {
		if contains(t.RequireVictimShipTypes, *v) || (len(t.RequireVictimShipGroups) > 0 && e.inShipGroups(t.RequireVictimShipGroups, *v)) {
			add(*v)
		}
	}
	for _, s := range km.AttackersShipTypeIDs() {
		if contains(t.RequireAttackersShipTypes, s) || (len(t.RequireAttackersShipGroups) > 0 && e.inShipGroups(t.RequireAttackersShipGroups, s)) {
			add(s)
		}
	}
	return out
}

func (e *Evaluator) inShipGroups(groups []int64, typeID int64) bool {
	if e.lookup == nil {
		return false
	}
	group, ok := e.lookup.ShipGroupID(typeID)
	return ok && contains(groups, group)
}

func contains(list []int64, v int64) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func intersects(list, values []int64) bool {
	for _, v := range values {
		if contains(list, v) {
			return true
		}
	}
	return false
}
