package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/devicesync/internal/domain"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.ActivityTx) error {
		_, claimed, err := tx.ClaimDeviceActivity(ctx, "user-1", "ext-1")
		require.NoError(t, err)
		require.True(t, claimed)
		require.NoError(t, tx.IncrementAggregateStats(ctx, "user-1", 50, 1, 10))
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, 0, store.ActivityCount("user-1"))

	stats, err := store.GetOrInitAggregateStats(ctx, "user-1")
	require.NoError(t, err)
	require.Zero(t, stats.TotalXP)
}

func TestClaimReturnsExistingRow(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	var firstID string
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.ActivityTx) error {
		activity, claimed, err := tx.ClaimDeviceActivity(ctx, "user-1", "ext-1")
		require.True(t, claimed)
		firstID = activity.ID
		return err
	}))
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.ActivityTx) error {
		activity, claimed, err := tx.ClaimDeviceActivity(ctx, "user-1", "ext-1")
		require.False(t, claimed)
		require.Equal(t, firstID, activity.ID)
		return err
	}))
}

func TestConnectionLifecycle(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	first, err := store.UpsertConnection(ctx, domain.Connection{UserID: "user-1", AccessToken: "tok-1", TokenSecret: "sec-1"})
	require.NoError(t, err)
	second, err := store.UpsertConnection(ctx, domain.Connection{UserID: "user-1", AccessToken: "tok-2", TokenSecret: "sec-2"})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	active, err := store.GetActiveConnection(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, "tok-2", active.AccessToken)

	stale, err := store.FindActiveByToken(ctx, "tok-1")
	require.NoError(t, err)
	require.Nil(t, stale)

	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateLastSync(ctx, "user-1", at))
	require.NoError(t, store.SetProviderUserID(ctx, "user-1", "vendor-1"))
	active, err = store.GetActiveConnection(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, at, *active.LastSyncAt)
	require.Equal(t, "vendor-1", *active.ProviderUserID)

	require.NoError(t, store.DeactivateConnection(ctx, "user-1"))
	active, err = store.GetActiveConnection(ctx, "user-1")
	require.NoError(t, err)
	require.Nil(t, active)
}

func TestListDeviceActivitiesPaginates(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.ActivityTx) error {
		for i, ext := range []string{"a", "b", "c"} {
			start := base.Add(time.Duration(i) * time.Hour)
			if _, err := tx.UpsertDeviceActivity(ctx, domain.DeviceActivity{UserID: "user-1", ExternalActivityID: ext, StartTime: &start}); err != nil {
				return err
			}
		}
		return nil
	}))

	page, next, err := store.ListDeviceActivities(ctx, "user-1", nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "c", page[0].ExternalActivityID)
	require.Equal(t, "b", page[1].ExternalActivityID)
	require.NotNil(t, next)

	page, next, err = store.ListDeviceActivities(ctx, "user-1", next, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "a", page[0].ExternalActivityID)
	require.Nil(t, next)
}

func TestSaveRouteCacheMergesIntoRawPayload(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	var id string
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.ActivityTx) error {
		var err error
		id, err = tx.UpsertDeviceActivity(ctx, domain.DeviceActivity{UserID: "user-1", ExternalActivityID: "ext", RawPayload: []byte(`{"activityId":"ext"}`)})
		return err
	}))

	route := domain.Route{Positions: []domain.RoutePosition{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}}, Source: "samples"}
	require.NoError(t, store.SaveRouteCache(ctx, id, route))
	require.ErrorIs(t, store.SaveRouteCache(ctx, "missing", route), domain.ErrDeviceActivityNotFound)

	activity, err := store.GetDeviceActivity(ctx, "user-1", "ext")
	require.NoError(t, err)
	cached, ok := domain.CachedRoute(activity.RawPayload)
	require.True(t, ok)
	require.Equal(t, "samples", cached.Source)
}
