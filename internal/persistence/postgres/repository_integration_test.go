//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap/zaptest"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/ingest"
	"example.com/devicesync/internal/migrate"
	"example.com/devicesync/internal/vendor"
)

func startPostgres(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("devicesync"),
		postgrescontainer.WithUsername("devicesync"),
		postgrescontainer.WithPassword("devicesync"),
		postgrescontainer.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	require.NoError(t, migrate.Up(ctx, connStr))

	db, err := New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		db, err := New(ctx, connStr)
		if err == nil {
			db.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}

func strengthActivity(t *testing.T, externalID string) vendor.Activity {
	t.Helper()
	raw := fmt.Sprintf(`{"activityId":%q,"activityType":"STRENGTH_TRAINING","durationInSeconds":2220,"activeKilocalories":210,"startTimeInSeconds":1748760000}`, externalID)
	activity, err := vendor.ParseActivity(json.RawMessage(raw))
	require.NoError(t, err)
	return activity
}

func TestConcurrentIngestionAwardsXPOnce(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	connections := NewConnectionRepo(db)
	activities := NewActivityRepo(db)
	userID := uuid.NewString()

	_, err := connections.UpsertConnection(ctx, domain.Connection{UserID: userID, AccessToken: "tok", TokenSecret: "sec"})
	require.NoError(t, err)

	engine := ingest.NewEngine(activities, connections, ingest.WithLogger(zaptest.NewLogger(t)))
	payload := strengthActivity(t, "9001")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := engine.Ingest(ctx, ingest.PathPush, userID, payload)
			require.NoError(t, err)
			if result.Created {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, created)

	stats, err := activities.GetOrInitAggregateStats(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 85, stats.TotalXP)
	require.Equal(t, 1, stats.TotalWorkouts)
	require.Equal(t, 37, stats.TotalMinutes)

	var logs int
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM strength_logs WHERE user_id=$1`, userID).Scan(&logs))
	require.Equal(t, 1, logs)

	var xpEvents int
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE event_type='gamification.xp_awarded' AND partition_key=$1`, userID).Scan(&xpEvents))
	require.Equal(t, 1, xpEvents)
}

func TestRouteCacheSurvivesMirrorOverwrite(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	connections := NewConnectionRepo(db)
	activities := NewActivityRepo(db)
	userID := uuid.NewString()

	_, err := connections.UpsertConnection(ctx, domain.Connection{UserID: userID, AccessToken: "tok", TokenSecret: "sec"})
	require.NoError(t, err)
	engine := ingest.NewEngine(activities, connections)

	first, err := engine.Ingest(ctx, ingest.PathPull, userID, strengthActivity(t, "42"))
	require.NoError(t, err)

	route := domain.Route{
		Positions:  []domain.RoutePosition{{Lat: 1, Lon: 2, Timestamp: 1}, {Lat: 1.001, Lon: 2, Timestamp: 2}},
		Source:     "samples",
		ResolvedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, activities.SaveRouteCache(ctx, first.DeviceActivityID, route))

	_, err = engine.Ingest(ctx, ingest.PathPush, userID, strengthActivity(t, "42"))
	require.NoError(t, err)

	mirror, err := activities.GetDeviceActivity(ctx, userID, "42")
	require.NoError(t, err)
	cached, ok := domain.CachedRoute(mirror.RawPayload)
	require.True(t, ok)
	require.Len(t, cached.Positions, 2)

	page, next, err := activities.ListDeviceActivities(ctx, userID, nil, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Nil(t, next)
}

func TestOnlyOneActiveConnectionPerUser(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	repo := NewConnectionRepo(db)
	userID := uuid.NewString()

	_, err := repo.UpsertConnection(ctx, domain.Connection{UserID: userID, AccessToken: "old", TokenSecret: "s1"})
	require.NoError(t, err)
	_, err = repo.UpsertConnection(ctx, domain.Connection{UserID: userID, AccessToken: "new", TokenSecret: "s2"})
	require.NoError(t, err)

	active, err := repo.GetActiveConnection(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, "new", active.AccessToken)

	stale, err := repo.FindActiveByToken(ctx, "old")
	require.NoError(t, err)
	require.Nil(t, stale)

	require.NoError(t, repo.DeactivateConnection(ctx, userID))
	active, err = repo.GetActiveConnection(ctx, userID)
	require.NoError(t, err)
	require.Nil(t, active)
}
