package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/devicesync/internal/domain"
)

const activityColumns = `id, user_id, external_activity_id, activity_type, vendor_activity_type, category, name,
        start_time, duration_seconds, duration_minutes, distance_km, calories, avg_heart_rate, max_heart_rate,
        elevation_gain_m, avg_speed_kmh, raw_payload, linked_cardio_log_id, linked_workout_log_id, created_at, updated_at`

// ActivityRepo implements domain.ActivityStore and domain.DeviceActivityReader.
type ActivityRepo struct {
	db *DB
}

// NewActivityRepo constructs an ActivityRepo.
func NewActivityRepo(db *DB) *ActivityRepo {
	return &ActivityRepo{db: db}
}

// WithinTx runs fn in one read-committed transaction. Row locks taken by
// ClaimDeviceActivity and FindDeviceActivityForUpdate serialise concurrent
// reconciliations of the same activity.
func (r *ActivityRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.ActivityTx) error) error {
	return inTx(ctx, r.db.Pool, func(tx pgx.Tx) error {
		return fn(ctx, &activityTx{tx: tx})
	})
}

func scanActivity(row pgx.Row) (*domain.DeviceActivity, error) {
	var (
		a        domain.DeviceActivity
		category string
		raw      []byte
	)
	if err := row.Scan(
		&a.ID, &a.UserID, &a.ExternalActivityID, &a.ActivityType, &a.VendorActivityType, &category, &a.Name,
		&a.StartTime, &a.DurationSeconds, &a.DurationMinutes, &a.DistanceKm, &a.Calories, &a.AvgHeartRate, &a.MaxHeartRate,
		&a.ElevationGainM, &a.AvgSpeedKmh, &raw, &a.LinkedCardioLogID, &a.LinkedWorkoutLogID, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Category = domain.Category(category)
	if len(raw) > 0 {
		a.RawPayload = json.RawMessage(raw)
	}
	return &a, nil
}

func scanOptionalActivity(row pgx.Row) (*domain.DeviceActivity, error) {
	a, err := scanActivity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// GetDeviceActivity returns the mirror for the dedup key or nil.
func (r *ActivityRepo) GetDeviceActivity(ctx context.Context, userID, externalID string) (*domain.DeviceActivity, error) {
	const query = `SELECT ` + activityColumns + ` FROM device_activities WHERE user_id=$1 AND external_activity_id=$2`
	return scanOptionalActivity(r.db.Pool.QueryRow(ctx, query, userID, externalID))
}

// ListDeviceActivities pages the user's mirror newest first by start time, then id.
// Activities without a start time sort by when they were first mirrored.
func (r *ActivityRepo) ListDeviceActivities(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.DeviceActivity, *domain.Cursor, error) {
	args := []any{userID, limit}
	query := `SELECT ` + activityColumns + ` FROM device_activities WHERE user_id=$1`

	if cursor != nil {
		query += ` AND (COALESCE(start_time, created_at), id) < ($3, $4)`
		args = append(args, cursor.StartTime, cursor.ID)
	}

	query += ` ORDER BY COALESCE(start_time, created_at) DESC, id DESC LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.DeviceActivity, 0, limit)
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{StartTime: last.SortTime(), ID: last.ID}
	}
	return results, nextCursor, nil
}

// SaveRouteCache attaches route under the route cache key of the mirror's raw payload.
// Only that key is written, so concurrent provider overwrites keep their fields.
func (r *ActivityRepo) SaveRouteCache(ctx context.Context, deviceActivityID string, route domain.Route) error {
	encoded, err := json.Marshal(route)
	if err != nil {
		return fmt.Errorf("encode route: %w", err)
	}

	const stmt = `UPDATE device_activities
        SET raw_payload = jsonb_set(COALESCE(raw_payload, '{}'::jsonb), ARRAY[$2::text], $3::jsonb, true)
        WHERE id=$1`

	tag, err := r.db.Pool.Exec(ctx, stmt, deviceActivityID, domain.RouteCacheKey, string(encoded))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDeviceActivityNotFound
	}
	return nil
}

// GetOrInitAggregateStats returns the user's counters, creating a zero row when absent.
func (r *ActivityRepo) GetOrInitAggregateStats(ctx context.Context, userID string) (*domain.AggregateStats, error) {
	if _, err := r.db.Pool.Exec(ctx, `INSERT INTO user_stats (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, err
	}

	var stats domain.AggregateStats
	err := r.db.Pool.QueryRow(ctx,
		`SELECT user_id, total_xp, total_workouts, total_minutes, updated_at FROM user_stats WHERE user_id=$1`, userID,
	).Scan(&stats.UserID, &stats.TotalXP, &stats.TotalWorkouts, &stats.TotalMinutes, &stats.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
