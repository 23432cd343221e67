package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"killtracker/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const trackerColumns = `
	id, name, is_enabled, webhook_id,
	exclude_high_sec, exclude_low_sec, exclude_null_sec, exclude_w_space,
	require_min_attackers, require_max_attackers, require_min_value, require_max_value,
	require_victim_ship_types, exclude_victim_ship_types, require_victim_ship_groups,
	require_attackers_ship_types, exclude_attackers_ship_types, require_attackers_ship_groups,
	require_solar_systems, require_constellations, require_regions,
	require_npc_kills, exclude_npc_kills,
	require_attacker_alliances, require_attacker_corporations,
	exclude_attacker_alliances, exclude_attacker_corporations,
	require_victim_alliances, require_victim_corporations,
	require_final_blow_organizations,
	color, ping_type, ping_groups, is_posting_name`

// TrackerRepository reads trackers. Trackers are edited elsewhere.
type TrackerRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewTrackerRepository(db *sql.DB, logger *zap.Logger) *TrackerRepository {
	return &TrackerRepository{db: db, logger: logger}
}

// GetTracker returns the tracker with id, or ErrNotFound.
func (r *TrackerRepository) GetTracker(ctx context.Context, id int64) (*models.Tracker, error) {
	query := `SELECT ` + trackerColumns + ` FROM killtracker_trackers WHERE id = $1`

	t, err := scanTracker(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tracker %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query tracker: %w", err)
	}
	return t, nil
}

// ListEnabled returns all enabled trackers ordered by id.
func (r *TrackerRepository) ListEnabled(ctx context.Context) ([]*models.Tracker, error) {
	query := `SELECT ` + trackerColumns + ` FROM killtracker_trackers WHERE is_enabled = TRUE ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query trackers: %w", err)
	}
	defer rows.Close()

	var trackers []*models.Tracker
	for rows.Next() {
		t, err := scanTracker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracker: %w", err)
		}
		trackers = append(trackers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trackers: %w", err)
	}
	return trackers, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTracker(row rowScanner) (*models.Tracker, error) {
	var (
		t                      models.Tracker
		minAttackers           sql.NullInt64
		maxAttackers           sql.NullInt64
		minValue               sql.NullFloat64
		maxValue               sql.NullFloat64
		pingType               string
		pingGroups             pq.StringArray
		victimShipTypes        pq.Int64Array
		excludeVictimShipTypes pq.Int64Array
		victimShipGroups       pq.Int64Array
		attackerShipTypes      pq.Int64Array
		excludeAttackerShips   pq.Int64Array
		attackerShipGroups     pq.Int64Array
		solarSystems           pq.Int64Array
		constellations         pq.Int64Array
		regions                pq.Int64Array
		attackerAlliances      pq.Int64Array
		attackerCorporations   pq.Int64Array
		excludeAlliances       pq.Int64Array
		excludeCorporations    pq.Int64Array
		victimAlliances        pq.Int64Array
		victimCorporations     pq.Int64Array
		finalBlowOrgs          pq.Int64Array
	)

	err := row.Scan(
		&t.ID, &t.Name, &t.IsEnabled, &t.WebhookID,
		&t.ExcludeHighSec, &t.ExcludeLowSec, &t.ExcludeNullSec, &t.ExcludeWSpace,
		&minAttackers, &maxAttackers, &minValue, &maxValue,
		&victimShipTypes, &excludeVictimShipTypes, &victimShipGroups,
		&attackerShipTypes, &excludeAttackerShips, &attackerShipGroups,
		&solarSystems, &constellations, &regions,
		&t.RequireNPCKills, &t.ExcludeNPCKills,
		&attackerAlliances, &attackerCorporations,
		&excludeAlliances, &excludeCorporations,
		&victimAlliances, &victimCorporations,
		&finalBlowOrgs,
		&t.Color, &pingType, &pingGroups, &t.IsPostingName,
	)
	if err != nil {
		return nil, err
	}

	if minAttackers.Valid {
		v := int(minAttackers.Int64)
		t.RequireMinAttackers = &v
	}
	if maxAttackers.Valid {
		v := int(maxAttackers.Int64)
		t.RequireMaxAttackers = &v
	}
	if minValue.Valid {
		t.RequireMinValue = &minValue.Float64
	}
	if maxValue.Valid {
		t.RequireMaxValue = &maxValue.Float64
	}
	t.PingType = models.PingType(pingType)
	t.PingGroups = nonEmptyStrings(pingGroups)
	t.RequireVictimShipTypes = nonEmpty(victimShipTypes)
	t.ExcludeVictimShipTypes = nonEmpty(excludeVictimShipTypes)
	t.RequireVictimShipGroups = nonEmpty(victimShipGroups)
	t.RequireAttackersShipTypes = nonEmpty(attackerShipTypes)
	t.ExcludeAttackersShipTypes = nonEmpty(excludeAttackerShips)
	t.RequireAttackersShipGroups = nonEmpty(attackerShipGroups)
	t.RequireSolarSystems = nonEmpty(solarSystems)
	t.RequireConstellations = nonEmpty(constellations)
	t.RequireRegions = nonEmpty(regions)
	t.RequireAttackerAlliances = nonEmpty(attackerAlliances)
	t.RequireAttackerCorporations = nonEmpty(attackerCorporations)
	t.ExcludeAttackerAlliances = nonEmpty(excludeAlliances)
	t.ExcludeAttackerCorporations = nonEmpty(excludeCorporations)
	t.RequireVictimAlliances = nonEmpty(victimAlliances)
	t.RequireVictimCorporations = nonEmpty(victimCorporations)
	t.RequireFinalBlowOrganizations = nonEmpty(finalBlowOrgs)
	return &t, nil
}

func nonEmpty(a pq.Int64Array) []int64 {
	if len(a) == 0 {
		return nil
	}
	return []int64(a)
}

func nonEmptyStrings(a pq.StringArray) []string {
	if len(a) == 0 {
		return nil
	}
	return []string(a)
}
