package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLinkState(t *testing.T) {
	var missing *DeviceActivity
	require.Equal(t, LinkUnlinked, missing.LinkState())
	require.Equal(t, "", missing.LinkedLogID())

	empty := ""
	activity := &DeviceActivity{LinkedCardioLogID: &empty}
	require.Equal(t, LinkUnlinked, activity.LinkState())

	cardio := "cardio-1"
	activity.LinkedCardioLogID = &cardio
	require.Equal(t, LinkLinkedCardio, activity.LinkState())
	require.Equal(t, "cardio-1", activity.LinkedLogID())

	workout := "workout-1"
	activity = &DeviceActivity{LinkedWorkoutLogID: &workout}
	require.Equal(t, LinkLinkedStrength, activity.LinkState())
	require.Equal(t, "workout-1", activity.LinkedLogID())
}

func TestLogPatchEmpty(t *testing.T) {
	require.True(t, LogPatch{}.Empty())
	minutes := 3
	require.False(t, LogPatch{DurationMinutes: &minutes}.Empty())
}

func sampleRoute() Route {
	return Route{
		Positions: []RoutePosition{
			{Lat: 51.5, Lon: -0.12, Timestamp: 1},
			{Lat: 51.6, Lon: -0.13, Timestamp: 2},
		},
		TotalDistanceKm: 12.3,
		Source:          "samples",
		ResolvedAt:      time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestCachedRoute(t *testing.T) {
	_, ok := CachedRoute(nil)
	require.False(t, ok)

	_, ok = CachedRoute(json.RawMessage(`{"activityId":"1"}`))
	require.False(t, ok)

	_, ok = CachedRoute(json.RawMessage(`{"routeCache":null}`))
	require.False(t, ok)

	_, ok = CachedRoute(json.RawMessage(`{"routeCache":{"positions":[{"lat":1,"lon":2,"timestamp":0}]}}`))
	require.False(t, ok, "a single point is not a route")

	body, err := json.Marshal(map[string]any{"activityId": "1", RouteCacheKey: sampleRoute()})
	require.NoError(t, err)
	route, ok := CachedRoute(body)
	require.True(t, ok)
	require.Len(t, route.Positions, 2)
	require.Equal(t, 12.3, route.TotalDistanceKm)
}

func TestCarryRouteCache(t *testing.T) {
	previous, err := json.Marshal(map[string]any{"activityId": "1", "durationInSeconds": 60, RouteCacheKey: sampleRoute()})
	require.NoError(t, err)

	next := json.RawMessage(`{"activityId":"1","durationInSeconds":120}`)
	merged := CarryRouteCache(next, previous)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(merged, &fields))
	require.JSONEq(t, `120`, string(fields["durationInSeconds"]))
	_, ok := CachedRoute(merged)
	require.True(t, ok)

	// nothing to carry
	require.JSONEq(t, string(next), string(CarryRouteCache(next, json.RawMessage(`{"activityId":"1"}`))))
	require.JSONEq(t, string(next), string(CarryRouteCache(next, nil)))

	// an explicit route on the new payload wins
	own := json.RawMessage(`{"activityId":"1","routeCache":{"positions":[]}}`)
	require.JSONEq(t, string(own), string(CarryRouteCache(own, previous)))
}
