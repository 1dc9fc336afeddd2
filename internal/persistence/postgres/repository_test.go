package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/events"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var activityColumnNames = []string{
	"id", "user_id", "external_activity_id", "activity_type", "vendor_activity_type", "category", "name",
	"start_time", "duration_seconds", "duration_minutes", "distance_km", "calories", "avg_heart_rate", "max_heart_rate",
	"elevation_gain_m", "avg_speed_kmh", "raw_payload", "linked_cardio_log_id", "linked_workout_log_id", "created_at", "updated_at",
}

func activityRows(id string, created time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(activityColumnNames).AddRow(
		id, "user-1", "ext-1", "", "", "other", "",
		nil, 0, 0, 0.0, 0, nil, nil,
		nil, nil, []byte(`{}`), nil, nil, created, created,
	)
}

var connectionColumnNames = []string{"id", "user_id", "provider", "provider_user_id", "access_token", "token_secret", "is_active", "connected_at", "last_sync_at"}

func TestClaimDeviceActivityInsertsWhenNew(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	repo := NewActivityRepo(db)
	created := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO device_activities \(user_id, external_activity_id\) VALUES \(\$1,\$2\)\s+ON CONFLICT`).
		WithArgs("user-1", "ext-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("act-1"))
	mock.ExpectQuery(`SELECT .+ FROM device_activities\s+WHERE user_id=\$1 AND external_activity_id=\$2 FOR UPDATE`).
		WithArgs("user-1", "ext-1").
		WillReturnRows(activityRows("act-1", created))
	mock.ExpectCommit()

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx domain.ActivityTx) error {
		activity, claimed, err := tx.ClaimDeviceActivity(ctx, "user-1", "ext-1")
		require.NoError(t, err)
		require.True(t, claimed)
		require.Equal(t, "act-1", activity.ID)
		require.Equal(t, domain.LinkUnlinked, activity.LinkState())
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDeviceActivityLocksExisting(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	repo := NewActivityRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO device_activities \(user_id, external_activity_id\)`).
		WithArgs("user-1", "ext-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("user-1", "ext-1").
		WillReturnRows(activityRows("act-1", time.Now().UTC()))
	mock.ExpectCommit()

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx domain.ActivityTx) error {
		_, claimed, err := tx.ClaimDeviceActivity(ctx, "user-1", "ext-1")
		require.NoError(t, err)
		require.False(t, claimed)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	repo := NewActivityRepo(db)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO user_stats`).
		WithArgs("user-1", 85, 1, 37).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectRollback()

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx domain.ActivityTx) error {
		require.NoError(t, tx.IncrementAggregateStats(ctx, "user-1", 85, 1, 37))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLogsSkipEmptyPatch(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	repo := NewActivityRepo(db)
	minutes := 45

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE strength_logs SET`).
		WithArgs("log-1", &minutes, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx domain.ActivityTx) error {
		require.NoError(t, tx.UpdateCardioLog(ctx, "log-0", domain.LogPatch{}))
		distanceOnly := 3.5
		require.NoError(t, tx.UpdateStrengthLog(ctx, "log-0", domain.LogPatch{DistanceKm: &distanceOnly}))
		return tx.UpdateStrengthLog(ctx, "log-1", domain.LogPatch{DurationMinutes: &minutes})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordEventRoutesThroughCatalog(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	repo := NewActivityRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO outbox`).
		WithArgs("strength_log", "log-1", events.TypeXPAwarded, "gamification_events", "gamification_events-value", "user-1", pgxmock.AnyArg(), "log-1:"+events.TypeXPAwarded).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO outbox`).
		WithArgs("device_activity", "act-1", events.TypeDeviceActivityIngested, "device_activity_events", "device_activity_events-value", "act-1", pgxmock.AnyArg(), nil).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectRollback()

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx domain.ActivityTx) error {
		require.NoError(t, tx.RecordEvent(ctx, domain.OutboxEvent{Type: events.TypeXPAwarded, AggregateID: "log-1", PartitionKey: "user-1", Payload: events.XPAwarded{XP: 85}}))
		require.NoError(t, tx.RecordEvent(ctx, domain.OutboxEvent{Type: events.TypeDeviceActivityIngested, AggregateID: "act-1", Payload: events.DeviceActivityIngested{}}))
		return tx.RecordEvent(ctx, domain.OutboxEvent{Type: "unknown.event", AggregateID: "x"})
	})
	require.ErrorContains(t, err, "unknown event type")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRouteCacheUnknownActivity(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	repo := NewActivityRepo(db)

	mock.ExpectExec(`UPDATE device_activities\s+SET raw_payload = jsonb_set`).
		WithArgs("missing", domain.RouteCacheKey, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.SaveRouteCache(context.Background(), "missing", domain.Route{})
	require.ErrorIs(t, err, domain.ErrDeviceActivityNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDeviceActivitiesReturnsNextCursor(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	repo := NewActivityRepo(db)
	created := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cursor := &domain.Cursor{StartTime: created.Add(time.Hour), ID: "act-9"}

	mock.ExpectQuery(`FROM device_activities WHERE user_id=\$1 AND \(COALESCE\(start_time, created_at\), id\) < \(\$3, \$4\) ORDER BY`).
		WithArgs("user-1", 1, cursor.StartTime, cursor.ID).
		WillReturnRows(activityRows("act-1", created))

	results, next, err := repo.ListDeviceActivities(context.Background(), "user-1", cursor, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, next)
	require.Equal(t, domain.Cursor{StartTime: created, ID: "act-1"}, *next)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrInitAggregateStats(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	repo := NewActivityRepo(db)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO user_stats \(user_id\) VALUES \(\$1\) ON CONFLICT \(user_id\) DO NOTHING`).
		WithArgs("user-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT user_id, total_xp, total_workouts, total_minutes, updated_at FROM user_stats`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "total_xp", "total_workouts", "total_minutes", "updated_at"}).AddRow("user-1", 0, 0, 0, now))

	stats, err := repo.GetOrInitAggregateStats(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, domain.AggregateStats{UserID: "user-1", UpdatedAt: now}, *stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActiveConnectionMissing(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	repo := NewConnectionRepo(db)

	mock.ExpectQuery(`FROM device_connections\s+WHERE user_id=\$1 AND provider=\$2 AND is_active`).
		WithArgs("user-1", domain.ProviderDevice).
		WillReturnError(pgx.ErrNoRows)

	conn, err := repo.GetActiveConnection(context.Background(), "user-1")
	require.NoError(t, err)
	require.Nil(t, conn)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertConnectionDeactivatesPrevious(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	repo := NewConnectionRepo(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE device_connections SET is_active=false`).
		WithArgs("user-1", domain.ProviderDevice).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO device_connections`).
		WithArgs("user-1", domain.ProviderDevice, pgxmock.AnyArg(), "tok", "sec").
		WillReturnRows(pgxmock.NewRows(connectionColumnNames).AddRow("conn-2", "user-1", domain.ProviderDevice, nil, "tok", "sec", true, now, nil))
	mock.ExpectCommit()

	conn, err := repo.UpsertConnection(context.Background(), domain.Connection{UserID: "user-1", AccessToken: "tok", TokenSecret: "sec"})
	require.NoError(t, err)
	require.Equal(t, "conn-2", conn.ID)
	require.True(t, conn.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeConnectionDeletesMirror(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	repo := NewConnectionRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM device_activities WHERE user_id=\$1`).
		WithArgs("user-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`DELETE FROM device_connections`).
		WithArgs("user-1", domain.ProviderDevice).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.PurgeConnection(context.Background(), "user-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEveryCatalogTopicHasSpec(t *testing.T) {
	for eventType, meta := range eventCatalog {
		spec, ok := topicSpecs[meta.Topic]
		require.True(t, ok, "no topic spec for %s", eventType)
		require.Positive(t, spec.Partitions)
	}
	require.Equal(t, []string{"device_activity_events", "gamification_events"}, Topics())
	require.True(t, topicSpecs["gamification_events"].Critical)
}
