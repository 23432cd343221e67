package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"killtracker/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var trackerColumnNames = []string{
	"id", "name", "is_enabled", "webhook_id",
	"exclude_high_sec", "exclude_low_sec", "exclude_null_sec", "exclude_w_space",
	"require_min_attackers", "require_max_attackers", "require_min_value", "require_max_value",
	"require_victim_ship_types", "exclude_victim_ship_types", "require_victim_ship_groups",
	"require_attackers_ship_types", "exclude_attackers_ship_types", "require_attackers_ship_groups",
	"require_solar_systems", "require_constellations", "require_regions",
	"require_npc_kills", "exclude_npc_kills",
	"require_attacker_alliances", "require_attacker_corporations",
	"exclude_attacker_alliances", "exclude_attacker_corporations",
	"require_victim_alliances", "require_victim_corporations",
	"require_final_blow_organizations",
	"color", "ping_type", "ping_groups", "is_posting_name",
}

func TestTrackerRepository_GetTracker(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewTrackerRepository(db, zap.NewNop())

	rows := sqlmock.NewRows(trackerColumnNames).AddRow(
		int64(7), "Capitals", true, int64(3),
		true, false, false, true,
		int64(5), nil, 1e9, nil,
		"{}", "{670}", "{485,547}",
		"{}", "{}", "{}",
		"{30000142}", "{}", "{}",
		false, true,
		"{99000001}", "{}",
		"{}", "{98000001,98000002}",
		"{}", "{}",
		"{}",
		"#ff0000", "PH", "{1234,5678}", false,
	)
	mock.ExpectQuery(`FROM killtracker_trackers WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(rows)

	tracker, err := repo.GetTracker(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, "Capitals", tracker.Name)
	assert.Equal(t, int64(3), tracker.WebhookID)
	assert.True(t, tracker.ExcludeHighSec)
	assert.True(t, tracker.ExcludeWSpace)
	require.NotNil(t, tracker.RequireMinAttackers)
	assert.Equal(t, 5, *tracker.RequireMinAttackers)
	assert.Nil(t, tracker.RequireMaxAttackers)
	require.NotNil(t, tracker.RequireMinValue)
	assert.Equal(t, 1e9, *tracker.RequireMinValue)
	assert.Nil(t, tracker.RequireMaxValue)
	assert.Nil(t, tracker.RequireVictimShipTypes)
	assert.Equal(t, []int64{670}, tracker.ExcludeVictimShipTypes)
	assert.Equal(t, []int64{485, 547}, tracker.RequireVictimShipGroups)
	assert.Equal(t, []int64{30000142}, tracker.RequireSolarSystems)
	assert.True(t, tracker.ExcludeNPCKills)
	assert.Equal(t, []int64{99000001}, tracker.RequireAttackerAlliances)
	assert.Equal(t, []int64{98000001, 98000002}, tracker.ExcludeAttackerCorporations)
	assert.Equal(t, models.PingHere, tracker.PingType)
	assert.Equal(t, []string{"1234", "5678"}, tracker.PingGroups)
	assert.False(t, tracker.IsPostingName)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackerRepository_GetTracker_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewTrackerRepository(db, zap.NewNop())

	mock.ExpectQuery(`FROM killtracker_trackers`).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows(trackerColumnNames))

	_, err := repo.GetTracker(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackerRepository_ListEnabled(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewTrackerRepository(db, zap.NewNop())

	row := func(id int64, name string) []driver.Value {
		return []driver.Value{
			id, name, true, int64(1),
			false, false, false, false,
			nil, nil, nil, nil,
			"{}", "{}", "{}", "{}", "{}", "{}", "{}", "{}", "{}",
			false, false,
			"{}", "{}", "{}", "{}", "{}", "{}", "{}",
			"", "PN", "{}", true,
		}
	}
	rows := sqlmock.NewRows(trackerColumnNames).
		AddRow(row(1, "All")...).
		AddRow(row(2, "Nullsec")...)
	mock.ExpectQuery(`FROM killtracker_trackers WHERE is_enabled = TRUE`).
		WillReturnRows(rows)

	trackers, err := repo.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, trackers, 2)
	assert.Equal(t, "All", trackers[0].Name)
	assert.Equal(t, "Nullsec", trackers[1].Name)
	assert.Nil(t, trackers[0].PingGroups)
	assert.True(t, trackers[1].IsPostingName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookRepository_GetWebhook(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewWebhookRepository(db, zap.NewNop())

	rows := sqlmock.NewRows([]string{"id", "name", "url", "is_enabled"}).
		AddRow(int64(3), "Alerts", "https://discord.com/api/webhooks/1/abc", true)
	mock.ExpectQuery(`SELECT id, name, url, is_enabled FROM killtracker_webhooks WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(rows)

	w, err := repo.GetWebhook(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "Alerts", w.Name)
	assert.True(t, w.IsEnabled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookRepository_GetWebhook_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewWebhookRepository(db, zap.NewNop())

	mock.ExpectQuery(`FROM killtracker_webhooks`).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetWebhook(context.Background(), 9)
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookRepository_ListEnabled(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewWebhookRepository(db, zap.NewNop())

	rows := sqlmock.NewRows([]string{"id", "name", "url", "is_enabled"}).
		AddRow(int64(1), "A", "https://example.com/a", true).
		AddRow(int64(2), "B", "https://example.com/b", true)
	mock.ExpectQuery(`FROM killtracker_webhooks WHERE is_enabled = TRUE`).
		WillReturnRows(rows)

	webhooks, err := repo.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, webhooks, 2)
	assert.Equal(t, int64(2), webhooks[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func newKillmail() *models.Killmail {
	return &models.Killmail{
		ID:            10000001,
		Time:          time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		SolarSystemID: models.Int64(30000142),
		Victim:        models.Victim{ShipTypeID: models.Int64(670)},
		Attackers:     []models.Attacker{{IsFinalBlow: true}},
	}
}

func TestKillmailRepository_Store(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewKillmailRepository(db, zap.NewNop())
	km := newKillmail()

	mock.ExpectExec(`INSERT INTO killtracker_killmails`).
		WithArgs(km.ID, km.Time, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO killtracker_killmails`).
		WithArgs(km.ID, km.Time, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.Store(context.Background(), km)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Store(context.Background(), km)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKillmailRepository_Get(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewKillmailRepository(db, zap.NewNop())
	km := newKillmail()

	data, err := km.AsJSON()
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT data FROM killtracker_killmails WHERE id = \$1`).
		WithArgs(km.ID).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(snappy.Encode(nil, data)))

	got, err := repo.Get(context.Background(), km.ID)
	require.NoError(t, err)
	assert.Equal(t, km.ID, got.ID)
	assert.True(t, km.Time.Equal(got.Time))
	assert.Equal(t, int64(670), *got.Victim.ShipTypeID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKillmailRepository_DeleteStale(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewKillmailRepository(db, zap.NewNop())
	before := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM killtracker_killmails WHERE created_at < \$1`).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteStale(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
