package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"example.com/devicesync/internal/domain"
)

// activityTx implements domain.ActivityTx on an open transaction.
type activityTx struct {
	tx pgx.Tx
}

// ClaimDeviceActivity inserts an empty mirror when the dedup key is new and then locks
// the row. A concurrent claimer blocks on the insert until the winner commits, so
// exactly one transaction observes claimed=true.
func (t *activityTx) ClaimDeviceActivity(ctx context.Context, userID, externalID string) (*domain.DeviceActivity, bool, error) {
	const claim = `INSERT INTO device_activities (user_id, external_activity_id) VALUES ($1,$2)
        ON CONFLICT (user_id, external_activity_id) DO NOTHING
        RETURNING id`

	var id string
	claimed := true
	if err := t.tx.QueryRow(ctx, claim, userID, externalID).Scan(&id); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, err
		}
		claimed = false
	}

	activity, err := t.FindDeviceActivityForUpdate(ctx, userID, externalID)
	if err != nil {
		return nil, false, err
	}
	if activity == nil {
		return nil, false, domain.ErrDeviceActivityNotFound
	}
	return activity, claimed, nil
}

// FindDeviceActivityForUpdate locks an existing mirror; it returns nil when absent.
func (t *activityTx) FindDeviceActivityForUpdate(ctx context.Context, userID, externalID string) (*domain.DeviceActivity, error) {
	const query = `SELECT ` + activityColumns + ` FROM device_activities
        WHERE user_id=$1 AND external_activity_id=$2 FOR UPDATE`
	return scanOptionalActivity(t.tx.QueryRow(ctx, query, userID, externalID))
}

// UpsertDeviceActivity writes every vendor-sourced column of the mirror.
func (t *activityTx) UpsertDeviceActivity(ctx context.Context, a domain.DeviceActivity) (string, error) {
	const stmt = `INSERT INTO device_activities (user_id, external_activity_id, activity_type, vendor_activity_type, category, name,
            start_time, duration_seconds, duration_minutes, distance_km, calories, avg_heart_rate, max_heart_rate,
            elevation_gain_m, avg_speed_kmh, raw_payload, linked_cardio_log_id, linked_workout_log_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
        ON CONFLICT (user_id, external_activity_id) DO UPDATE SET
            activity_type = EXCLUDED.activity_type,
            vendor_activity_type = EXCLUDED.vendor_activity_type,
            category = EXCLUDED.category,
            name = EXCLUDED.name,
            start_time = EXCLUDED.start_time,
            duration_seconds = EXCLUDED.duration_seconds,
            duration_minutes = EXCLUDED.duration_minutes,
            distance_km = EXCLUDED.distance_km,
            calories = EXCLUDED.calories,
            avg_heart_rate = EXCLUDED.avg_heart_rate,
            max_heart_rate = EXCLUDED.max_heart_rate,
            elevation_gain_m = EXCLUDED.elevation_gain_m,
            avg_speed_kmh = EXCLUDED.avg_speed_kmh,
            raw_payload = EXCLUDED.raw_payload,
            linked_cardio_log_id = EXCLUDED.linked_cardio_log_id,
            linked_workout_log_id = EXCLUDED.linked_workout_log_id,
            updated_at = NOW()
        RETURNING id`

	raw := a.RawPayload
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	var id string
	err := t.tx.QueryRow(ctx, stmt,
		a.UserID,
		a.ExternalActivityID,
		a.ActivityType,
		a.VendorActivityType,
		string(a.Category),
		a.Name,
		a.StartTime,
		a.DurationSeconds,
		a.DurationMinutes,
		a.DistanceKm,
		a.Calories,
		a.AvgHeartRate,
		a.MaxHeartRate,
		a.ElevationGainM,
		a.AvgSpeedKmh,
		string(raw),
		a.LinkedCardioLogID,
		a.LinkedWorkoutLogID,
	).Scan(&id)
	return id, err
}

func (t *activityTx) CreateCardioLog(ctx context.Context, log domain.CardioLog) (string, error) {
	const stmt = `INSERT INTO cardio_logs (user_id, activity_type, duration_minutes, distance_km, calories, avg_heart_rate, logged_at, notes, source)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING id`

	var id string
	err := t.tx.QueryRow(ctx, stmt,
		log.UserID, log.ActivityType, log.DurationMinutes, log.DistanceKm, log.Calories, log.AvgHeartRate, log.LoggedAt, log.Notes, log.Source,
	).Scan(&id)
	return id, err
}

// UpdateCardioLog overwrites the fields present in patch.
func (t *activityTx) UpdateCardioLog(ctx context.Context, id string, patch domain.LogPatch) error {
	if patch.Empty() {
		return nil
	}
	const stmt = `UPDATE cardio_logs SET
            duration_minutes = COALESCE($2, duration_minutes),
            distance_km = COALESCE($3, distance_km),
            calories = COALESCE($4, calories),
            logged_at = COALESCE($5, logged_at),
            notes = COALESCE($6, notes),
            updated_at = NOW()
        WHERE id=$1`
	_, err := t.tx.Exec(ctx, stmt, id, patch.DurationMinutes, patch.DistanceKm, patch.Calories, patch.LoggedAt, patch.Notes)
	return err
}

func (t *activityTx) CreateStrengthLog(ctx context.Context, log domain.StrengthLog) (string, error) {
	const stmt = `INSERT INTO strength_logs (user_id, workout_type, duration_minutes, calories, logged_at, notes, source, xp_earned)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id`

	var id string
	err := t.tx.QueryRow(ctx, stmt,
		log.UserID, log.WorkoutType, log.DurationMinutes, log.Calories, log.LoggedAt, log.Notes, log.Source, log.XPEarned,
	).Scan(&id)
	return id, err
}

// UpdateStrengthLog overwrites the fields present in patch. Distance does not apply and
// xp_earned never changes after creation.
func (t *activityTx) UpdateStrengthLog(ctx context.Context, id string, patch domain.LogPatch) error {
	if patch.DurationMinutes == nil && patch.Calories == nil && patch.LoggedAt == nil && patch.Notes == nil {
		return nil
	}
	const stmt = `UPDATE strength_logs SET
            duration_minutes = COALESCE($2, duration_minutes),
            calories = COALESCE($3, calories),
            logged_at = COALESCE($4, logged_at),
            notes = COALESCE($5, notes),
            updated_at = NOW()
        WHERE id=$1`
	_, err := t.tx.Exec(ctx, stmt, id, patch.DurationMinutes, patch.Calories, patch.LoggedAt, patch.Notes)
	return err
}

func (t *activityTx) IncrementAggregateStats(ctx context.Context, userID string, xp, workouts, minutes int) error {
	const stmt = `INSERT INTO user_stats (user_id, total_xp, total_workouts, total_minutes, updated_at)
        VALUES ($1,$2,$3,$4,NOW())
        ON CONFLICT (user_id) DO UPDATE SET
            total_xp = user_stats.total_xp + EXCLUDED.total_xp,
            total_workouts = user_stats.total_workouts + EXCLUDED.total_workouts,
            total_minutes = user_stats.total_minutes + EXCLUDED.total_minutes,
            updated_at = NOW()`
	_, err := t.tx.Exec(ctx, stmt, userID, xp, workouts, minutes)
	return err
}

func (t *activityTx) RecordEvent(ctx context.Context, event domain.OutboxEvent) error {
	return insertOutbox(ctx, t.tx, event)
}
