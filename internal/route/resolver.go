// Package route resolves and caches the GPS track of a mirrored device activity.
package route

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/observability"
	"example.com/devicesync/internal/vendor"
)

const (
	SourceSamples  = "samples"
	SourcePolyline = "polyline"
)

// DetailsFetcher loads activity details from the provider.
type DetailsFetcher interface {
	GetActivityDetails(ctx context.Context, tokens vendor.Tokens, externalID string) (*vendor.ActivityDetails, error)
}

// ResolveOptions tunes one resolution.
type ResolveOptions struct {
	// Refresh bypasses and replaces the cached route.
	Refresh bool
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithLogger overrides the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// Resolver serves routes from the mirror cache, fetching from the provider on a miss.
// Two concurrent misses for the same activity both fetch and the later cache write wins.
type Resolver struct {
	connections domain.ConnectionStore
	activities  domain.DeviceActivityReader
	fetcher     DetailsFetcher
	logger      *zap.Logger
	now         func() time.Time
}

// NewResolver constructs a Resolver.
func NewResolver(connections domain.ConnectionStore, activities domain.DeviceActivityReader, fetcher DetailsFetcher, opts ...Option) *Resolver {
	r := &Resolver{
		connections: connections,
		activities:  activities,
		fetcher:     fetcher,
		logger:      zap.NewNop(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveRoute returns the route of the user's activity. domain.ErrRouteNotFound means the
// provider holds no usable map data.
func (r *Resolver) ResolveRoute(ctx context.Context, userID, externalID string, opts ResolveOptions) (*domain.Route, error) {
	activity, err := r.activities.GetDeviceActivity(ctx, userID, externalID)
	if err != nil {
		return nil, fmt.Errorf("load device activity: %w", err)
	}
	if activity == nil {
		return nil, domain.ErrDeviceActivityNotFound
	}

	if !opts.Refresh {
		if cached, ok := domain.CachedRoute(activity.RawPayload); ok {
			observability.RecordRouteCache(true)
			return cached, nil
		}
	}
	observability.RecordRouteCache(false)

	conn, err := r.connections.GetActiveConnection(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}
	if conn == nil {
		return nil, domain.ErrConnectionNotFound
	}

	details, err := r.fetcher.GetActivityDetails(ctx, vendor.Tokens{Token: conn.AccessToken, Secret: conn.TokenSecret}, externalID)
	if err != nil {
		if vendor.IsUnauthorized(err) {
			if derr := r.connections.DeactivateConnection(ctx, userID); derr != nil {
				r.logger.Error("deactivate connection failed", zap.String("user_id", userID), zap.Error(derr))
			}
			return nil, domain.ErrReconnectRequired
		}
		return nil, fmt.Errorf("fetch activity details: %w", err)
	}
	if details == nil {
		return nil, domain.ErrRouteNotFound
	}

	resolved := fromSamples(details.Samples)
	if resolved == nil && details.Polyline != "" {
		resolved = fromPolyline(details.Polyline, details.Summary, activity)
	}
	if resolved == nil {
		return nil, domain.ErrRouteNotFound
	}
	resolved.ResolvedAt = r.now()

	if err := r.activities.SaveRouteCache(ctx, activity.ID, *resolved); err != nil {
		r.logger.Warn("route cache write failed",
			zap.String("device_activity_id", activity.ID),
			zap.Error(err),
		)
	}
	return resolved, nil
}

// fromSamples builds a route from the points carrying both coordinates. Speeds missing
// from a sample are excluded from the mean.
func fromSamples(samples []vendor.Sample) *domain.Route {
	positions := make([]domain.RoutePosition, 0, len(samples))
	for _, s := range samples {
		if s.LatitudeInDegree == nil || s.LongitudeInDegree == nil {
			continue
		}
		pos := domain.RoutePosition{Lat: *s.LatitudeInDegree, Lon: *s.LongitudeInDegree}
		if s.StartTimeInSeconds != nil {
			pos.Timestamp = *s.StartTimeInSeconds
		}
		if s.SpeedMetersPerSecond != nil {
			kmh := *s.SpeedMetersPerSecond * msToKmh
			pos.Speed = &kmh
		}
		positions = append(positions, pos)
	}
	if len(positions) < 2 {
		return nil
	}

	var meters, speedSum, maxSpeed float64
	speedCount := 0
	for i, pos := range positions {
		if i > 0 {
			prev := positions[i-1]
			meters += haversineMeters(prev.Lat, prev.Lon, pos.Lat, pos.Lon)
		}
		if pos.Speed != nil {
			speedSum += *pos.Speed
			speedCount++
			maxSpeed = math.Max(maxSpeed, *pos.Speed)
		}
	}

	route := &domain.Route{
		Positions:       positions,
		TotalDistanceKm: round2(meters / 1000),
		MaxSpeedKmh:     round2(maxSpeed),
		Source:          SourceSamples,
	}
	if speedCount > 0 {
		route.AverageSpeedKmh = round2(speedSum / float64(speedCount))
	}
	return route
}

// fromPolyline builds a route from an encoded polyline. Positions get index timestamps and
// no speed; distance and speeds come from the activity summary, falling back to the mirror.
func fromPolyline(encoded string, summary vendor.Activity, mirror *domain.DeviceActivity) *domain.Route {
	points, err := decodePolyline(encoded)
	if err != nil || len(points) < 2 {
		return nil
	}

	positions := make([]domain.RoutePosition, len(points))
	for i, p := range points {
		positions[i] = domain.RoutePosition{Lat: p.Lat, Lon: p.Lon, Timestamp: int64(i)}
	}

	route := &domain.Route{Positions: positions, Source: SourcePolyline}

	switch {
	case summary.DistanceInMeters != nil:
		route.TotalDistanceKm = round2(*summary.DistanceInMeters / 1000)
	case mirror != nil:
		route.TotalDistanceKm = mirror.DistanceKm
	}

	switch {
	case summary.AverageSpeedInMetersPerSecond != nil:
		route.AverageSpeedKmh = round2(*summary.AverageSpeedInMetersPerSecond * msToKmh)
	case mirror != nil && mirror.AvgSpeedKmh != nil:
		route.AverageSpeedKmh = *mirror.AvgSpeedKmh
	case mirror != nil && mirror.DurationSeconds > 0:
		route.AverageSpeedKmh = round2(route.TotalDistanceKm / (float64(mirror.DurationSeconds) / 3600))
	}

	if summary.MaxSpeedInMetersPerSecond != nil {
		route.MaxSpeedKmh = round2(*summary.MaxSpeedInMetersPerSecond * msToKmh)
	}
	return route
}
