package domain

import (
	"encoding/json"
	"time"
)

// RouteCacheKey is the raw-payload attribute holding a resolved route.
const RouteCacheKey = "routeCache"

// RoutePosition is one point of a resolved route.
type RoutePosition struct {
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Timestamp int64    `json:"timestamp"`
	Speed     *float64 `json:"speed"`
}

// Route is the normalized GPS track of a device activity.
type Route struct {
	Positions       []RoutePosition `json:"positions"`
	TotalDistanceKm float64         `json:"totalDistanceKm"`
	AverageSpeedKmh float64         `json:"averageSpeedKmh"`
	MaxSpeedKmh     float64         `json:"maxSpeedKmh"`
	Source          string          `json:"source"`
	ResolvedAt      time.Time       `json:"resolvedAt"`
}

// CachedRoute extracts a previously stored route from a raw payload.
func CachedRoute(raw json.RawMessage) (*Route, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, false
	}
	cached, ok := envelope[RouteCacheKey]
	if !ok || len(cached) == 0 || string(cached) == "null" {
		return nil, false
	}
	var route Route
	if err := json.Unmarshal(cached, &route); err != nil || len(route.Positions) < 2 {
		return nil, false
	}
	return &route, true
}

// CarryRouteCache copies the route attachment of previous into next, so that a
// provider overwrite of the raw payload does not drop a resolved route.
// next is returned unchanged when previous holds no route or next already has one.
func CarryRouteCache(next, previous json.RawMessage) json.RawMessage {
	if len(previous) == 0 {
		return next
	}
	var prev map[string]json.RawMessage
	if err := json.Unmarshal(previous, &prev); err != nil {
		return next
	}
	cached, ok := prev[RouteCacheKey]
	if !ok {
		return next
	}

	out := map[string]json.RawMessage{}
	if len(next) > 0 {
		if err := json.Unmarshal(next, &out); err != nil {
			return next
		}
	}
	if _, exists := out[RouteCacheKey]; exists {
		return next
	}
	out[RouteCacheKey] = cached

	merged, err := json.Marshal(out)
	if err != nil {
		return next
	}
	return merged
}
