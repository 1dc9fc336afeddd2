package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/events"
	"example.com/devicesync/internal/persistence/memory"
	"example.com/devicesync/internal/vendor"
)

const testUser = "user-1"

var fixedNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	_, err := store.UpsertConnection(context.Background(), domain.Connection{UserID: testUser, AccessToken: "tok", TokenSecret: "sec"})
	require.NoError(t, err)
	engine := NewEngine(store, store, WithLogger(zaptest.NewLogger(t)), WithClock(func() time.Time { return fixedNow }))
	return engine, store
}

func activity(t *testing.T, raw string) vendor.Activity {
	t.Helper()
	a, err := vendor.ParseActivity(json.RawMessage(raw))
	require.NoError(t, err)
	return a
}

func strengthPayload(id string, seconds int) string {
	return fmt.Sprintf(`{"activityId":%q,"activityType":"STRENGTH_TRAINING","durationInSeconds":%d,"activeKilocalories":210,"startTimeInSeconds":1748760000}`, id, seconds)
}

func countEvents(store *memory.Store, eventType string) int {
	n := 0
	for _, e := range store.Events() {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func TestStrengthXP(t *testing.T) {
	cases := map[int]int{1: 50, 4: 50, 5: 55, 29: 75, 30: 80, 37: 85, 149: 195, 150: 200, 600: 200}
	for minutes, want := range cases {
		require.Equal(t, want, StrengthXP(minutes), "minutes=%d", minutes)
	}
}

func TestNormalizeRounding(t *testing.T) {
	m := normalize(activity(t, `{"activityId":"1","durationInSeconds":89,"distanceInMeters":5004.9,"activeKilocalories":310.6,"averageHeartRateInBeatsPerMinute":141.5,"averageSpeedInMetersPerSecond":2.5}`))
	require.Equal(t, 1, m.DurationMinutes)
	require.Equal(t, 89, m.DurationSeconds)
	require.Equal(t, 5.0, m.DistanceKm)
	require.Equal(t, 311, m.Calories)
	require.Equal(t, 142, *m.AvgHeartRate)
	require.Equal(t, 9.0, *m.AvgSpeedKmh)

	m = normalize(activity(t, `{"activityId":"1","durationInSeconds":90,"distanceInMeters":12346}`))
	require.Equal(t, 2, m.DurationMinutes)
	require.Equal(t, 12.35, m.DistanceKm)
}

func TestIngestStrengthAwardsXPOnce(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	payload := activity(t, strengthPayload("9001", 37*60))

	first, err := engine.Ingest(ctx, PathPull, testUser, payload)
	require.NoError(t, err)
	require.True(t, first.Created)
	require.Equal(t, domain.CategoryStrength, first.Category)
	require.Equal(t, 85, first.XPAwarded)
	require.NotEmpty(t, first.LinkedLogID)

	second, err := engine.Ingest(ctx, PathPush, testUser, payload)
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Zero(t, second.XPAwarded)
	require.Equal(t, first.DeviceActivityID, second.DeviceActivityID)
	require.Equal(t, first.LinkedLogID, second.LinkedLogID)

	require.Equal(t, 1, store.ActivityCount(testUser))
	logs := store.StrengthLogs(testUser)
	require.Len(t, logs, 1)
	require.Equal(t, 85, logs[0].XPEarned)
	require.Equal(t, "device", logs[0].Source)
	require.Contains(t, logs[0].Notes, "Synced from device")
	require.Empty(t, store.CardioLogs(testUser))

	stats, err := store.GetOrInitAggregateStats(ctx, testUser)
	require.NoError(t, err)
	require.Equal(t, 85, stats.TotalXP)
	require.Equal(t, 1, stats.TotalWorkouts)
	require.Equal(t, 37, stats.TotalMinutes)

	require.Equal(t, 1, countEvents(store, events.TypeXPAwarded))
	require.Equal(t, 2, countEvents(store, events.TypeDeviceActivityIngested))
}

func TestIngestConcurrentDeliveriesConverge(t *testing.T) {
	engine, store := newEngine(t)
	payload := activity(t, strengthPayload("race", 45*60))

	var wg sync.WaitGroup
	created := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := PathPull
			if i%2 == 0 {
				path = PathPush
			}
			res, err := engine.Ingest(context.Background(), path, testUser, payload)
			if err == nil {
				created <- res.Created
			}
		}(i)
	}
	wg.Wait()
	close(created)

	createdCount, total := 0, 0
	for c := range created {
		total++
		if c {
			createdCount++
		}
	}
	require.Equal(t, 8, total)
	require.Equal(t, 1, createdCount)
	require.Len(t, store.StrengthLogs(testUser), 1)

	stats, err := store.GetOrInitAggregateStats(context.Background(), testUser)
	require.NoError(t, err)
	require.Equal(t, StrengthXP(45), stats.TotalXP)
	require.Equal(t, 1, stats.TotalWorkouts)
}

func TestIngestCardioThenUpdateOverwritesLinkedLog(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	first, err := engine.Ingest(ctx, PathPush, testUser, activity(t,
		`{"activityId":"run-1","activityType":"TRAIL_RUNNING","durationInSeconds":1800,"distanceInMeters":5000,"activeKilocalories":300,"averageHeartRateInBeatsPerMinute":150}`))
	require.NoError(t, err)
	require.True(t, first.Created)
	require.Equal(t, domain.CategoryCardio, first.Category)
	require.Zero(t, first.XPAwarded)

	logs := store.CardioLogs(testUser)
	require.Len(t, logs, 1)
	require.Equal(t, "running", logs[0].ActivityType)
	require.Equal(t, 30, logs[0].DurationMinutes)
	require.Equal(t, 5.0, logs[0].DistanceKm)
	require.Equal(t, 150, *logs[0].AvgHeartRate)

	second, err := engine.Ingest(ctx, PathPull, testUser, activity(t,
		`{"activityId":"run-1","activityType":"TRAIL_RUNNING","durationInSeconds":2700,"distanceInMeters":6120,"activityName":"Evening loop"}`))
	require.NoError(t, err)
	require.False(t, second.Created)

	logs = store.CardioLogs(testUser)
	require.Len(t, logs, 1)
	require.Equal(t, 45, logs[0].DurationMinutes)
	require.Equal(t, 6.12, logs[0].DistanceKm)
	require.Equal(t, 300, logs[0].Calories, "calories absent from the update stay untouched")
	require.Equal(t, "Synced from device - Evening loop", logs[0].Notes)

	mirror, err := store.GetDeviceActivity(ctx, testUser, "run-1")
	require.NoError(t, err)
	require.Equal(t, 45, mirror.DurationMinutes)
	require.Equal(t, 0, mirror.Calories, "mirror is a full overwrite")
	require.Nil(t, mirror.AvgHeartRate)
	require.Equal(t, "Evening loop", mirror.Name)
}

func TestIngestZeroDurationNeverCreatesLog(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	for _, seconds := range []int{20, 0} {
		res, err := engine.Ingest(ctx, PathPush, testUser, activity(t, strengthPayload("short", seconds)))
		require.NoError(t, err)
		require.Empty(t, res.LinkedLogID)
		require.Zero(t, res.XPAwarded)
	}

	require.Equal(t, 1, store.ActivityCount(testUser))
	require.Empty(t, store.StrengthLogs(testUser))
	mirror, err := store.GetDeviceActivity(ctx, testUser, "short")
	require.NoError(t, err)
	require.Equal(t, domain.LinkUnlinked, mirror.LinkState())
}

func TestIngestUnlinkedMirrorLinksWhenDurationArrives(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	_, err := engine.Ingest(ctx, PathPush, testUser, activity(t, strengthPayload("late", 0)))
	require.NoError(t, err)

	res, err := engine.Ingest(ctx, PathPull, testUser, activity(t, strengthPayload("late", 600)))
	require.NoError(t, err)
	require.False(t, res.Created)
	require.Equal(t, 60, res.XPAwarded)
	require.Len(t, store.StrengthLogs(testUser), 1)
}

func TestIngestOtherCategoryIsMirroredOnly(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	res, err := engine.Ingest(ctx, PathPull, testUser, activity(t, `{"activityId":"sup","activityType":"PADDLE_BOARDING","durationInSeconds":3600}`))
	require.NoError(t, err)
	require.True(t, res.Created)
	require.Equal(t, domain.CategoryOther, res.Category)
	require.Empty(t, res.LinkedLogID)
	require.Empty(t, store.CardioLogs(testUser))
	require.Empty(t, store.StrengthLogs(testUser))

	page, _, err := store.ListDeviceActivities(ctx, testUser, nil, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "other", page[0].ActivityType)
}

func TestIngestRejectsMissingExternalID(t *testing.T) {
	engine, store := newEngine(t)
	_, err := engine.Ingest(context.Background(), PathPush, testUser, activity(t, `{"activityType":"RUNNING","durationInSeconds":600}`))
	require.ErrorIs(t, err, domain.ErrMalformedPayload)
	require.Zero(t, store.ActivityCount(testUser))
}

func TestIngestStampsLastSync(t *testing.T) {
	engine, store := newEngine(t)
	_, err := engine.Ingest(context.Background(), PathPull, testUser, activity(t, strengthPayload("1", 600)))
	require.NoError(t, err)

	conn, err := store.GetActiveConnection(context.Background(), testUser)
	require.NoError(t, err)
	require.NotNil(t, conn.LastSyncAt)
	require.Equal(t, fixedNow, *conn.LastSyncAt)
}

func TestIngestKeepsCachedRoute(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	payload := activity(t, `{"activityId":"ride","activityType":"CYCLING","durationInSeconds":3600,"distanceInMeters":30000}`)

	res, err := engine.Ingest(ctx, PathPull, testUser, payload)
	require.NoError(t, err)
	require.NoError(t, store.SaveRouteCache(ctx, res.DeviceActivityID, domain.Route{
		Positions: []domain.RoutePosition{{Lat: 1, Lon: 1}, {Lat: 1.1, Lon: 1.1}},
		Source:    "samples",
	}))

	_, err = engine.Ingest(ctx, PathPush, testUser, payload)
	require.NoError(t, err)

	mirror, err := store.GetDeviceActivity(ctx, testUser, "ride")
	require.NoError(t, err)
	_, ok := domain.CachedRoute(mirror.RawPayload)
	require.True(t, ok)
}

func TestApplyEditUpdatesInPlaceWithoutReaward(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	first, err := engine.Ingest(ctx, PathPush, testUser, activity(t, strengthPayload("lift", 37*60)))
	require.NoError(t, err)

	// the edit changes both duration and category
	res, err := engine.ApplyEdit(ctx, testUser, activity(t, `{"activityId":"lift","activityType":"INDOOR_CARDIO","durationInSeconds":3600}`))
	require.NoError(t, err)
	require.False(t, res.Created)
	require.Equal(t, first.LinkedLogID, res.LinkedLogID)
	require.Zero(t, res.XPAwarded)

	logs := store.StrengthLogs(testUser)
	require.Len(t, logs, 1)
	require.Equal(t, 60, logs[0].DurationMinutes)
	require.Equal(t, 85, logs[0].XPEarned)
	require.Empty(t, store.CardioLogs(testUser))

	stats, err := store.GetOrInitAggregateStats(ctx, testUser)
	require.NoError(t, err)
	require.Equal(t, 85, stats.TotalXP)
	require.Equal(t, 37, stats.TotalMinutes)

	mirror, err := store.GetDeviceActivity(ctx, testUser, "lift")
	require.NoError(t, err)
	require.Equal(t, domain.CategoryCardio, mirror.Category)
	require.Equal(t, domain.LinkLinkedStrength, mirror.LinkState())
}

func TestApplyEditUnknownActivity(t *testing.T) {
	engine, store := newEngine(t)
	_, err := engine.ApplyEdit(context.Background(), testUser, activity(t, strengthPayload("never-seen", 600)))
	require.ErrorIs(t, err, domain.ErrNotIngested)
	require.Zero(t, store.ActivityCount(testUser))
	require.Empty(t, store.Events())
}
