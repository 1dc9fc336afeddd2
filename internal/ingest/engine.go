// Package ingest reconciles provider activities with the mirror table and the internal
// cardio/strength logs.
//
// Every ingestion runs in one transaction that starts by claiming the mirror row for
// (user, external id). The claim holds the row lock until commit, so concurrent
// deliveries of the same activity serialise and the first writer decides which log,
// if any, gets created. A mirror moves from unlinked to linked cardio or linked
// strength exactly once; later deliveries only update the linked log.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"example.com/devicesync/internal/classifier"
	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/events"
	"example.com/devicesync/internal/observability"
	"example.com/devicesync/internal/vendor"
)

// Path names the entry point an activity arrived through.
type Path string

const (
	PathPull Path = "pull"
	PathPush Path = "push"
	PathEdit Path = "edit"
)

// Result describes the outcome of one ingestion.
type Result struct {
	Created          bool
	DeviceActivityID string
	LinkedLogID      string
	Category         domain.Category
	XPAwarded        int
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger overrides the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine is the single reconciliation path shared by pull sync and webhooks.
type Engine struct {
	store       domain.ActivityStore
	connections domain.ConnectionStore
	logger      *zap.Logger
	now         func() time.Time
}

// NewEngine constructs an Engine.
func NewEngine(store domain.ActivityStore, connections domain.ConnectionStore, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		connections: connections,
		logger:      zap.NewNop(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ingest upserts the mirror for activity and, on first sight of a non-zero cardio or
// strength activity, creates its linked log. Payloads without an id are rejected with
// domain.ErrMalformedPayload.
func (e *Engine) Ingest(ctx context.Context, path Path, userID string, activity vendor.Activity) (Result, error) {
	externalID := activity.ExternalID()
	if externalID == "" {
		e.rejectMalformed(path, userID, activity)
		return Result{}, domain.ErrMalformedPayload
	}

	normalizedType, category := classifier.Classify(activity.ActivityType)
	m := normalize(activity)
	now := e.now()

	var result Result
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.ActivityTx) error {
		existing, claimed, err := tx.ClaimDeviceActivity(ctx, userID, externalID)
		if err != nil {
			return fmt.Errorf("claim device activity: %w", err)
		}
		result = Result{Created: claimed, Category: category}

		mirror := buildMirror(userID, externalID, normalizedType, category, activity, m, existing)
		if existing.LinkState() == domain.LinkUnlinked {
			xp, err := e.createLinkedLog(ctx, tx, &mirror, activity, m, now)
			if err != nil {
				return err
			}
			result.XPAwarded = xp
		} else if err := updateLinkedLog(ctx, tx, existing, editPatch(activity, m)); err != nil {
			return err
		}

		id, err := tx.UpsertDeviceActivity(ctx, mirror)
		if err != nil {
			return fmt.Errorf("upsert device activity: %w", err)
		}
		result.DeviceActivityID = id
		result.LinkedLogID = mirror.LinkedLogID()

		return tx.RecordEvent(ctx, ingestedEvent(path, id, mirror, claimed, now))
	})
	if err != nil {
		observability.RecordIngestion(string(path), "failed")
		return Result{}, err
	}

	e.afterCommit(ctx, path, userID, externalID, result, now)
	return result, nil
}

// ApplyEdit applies a provider edit notification to an already mirrored activity. Linked
// logs are updated in place; nothing is created and no XP is awarded, even when the edit
// changes the duration or the category. It returns domain.ErrNotIngested when the
// activity was never mirrored.
func (e *Engine) ApplyEdit(ctx context.Context, userID string, activity vendor.Activity) (Result, error) {
	externalID := activity.ExternalID()
	if externalID == "" {
		e.rejectMalformed(PathEdit, userID, activity)
		return Result{}, domain.ErrMalformedPayload
	}

	normalizedType, category := classifier.Classify(activity.ActivityType)
	m := normalize(activity)
	now := e.now()

	var result Result
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.ActivityTx) error {
		existing, err := tx.FindDeviceActivityForUpdate(ctx, userID, externalID)
		if err != nil {
			return fmt.Errorf("lock device activity: %w", err)
		}
		if existing == nil {
			return domain.ErrNotIngested
		}

		if err := updateLinkedLog(ctx, tx, existing, editPatch(activity, m)); err != nil {
			return err
		}

		mirror := buildMirror(userID, externalID, normalizedType, category, activity, m, existing)
		id, err := tx.UpsertDeviceActivity(ctx, mirror)
		if err != nil {
			return fmt.Errorf("upsert device activity: %w", err)
		}
		result = Result{DeviceActivityID: id, LinkedLogID: mirror.LinkedLogID(), Category: category}

		return tx.RecordEvent(ctx, ingestedEvent(PathEdit, id, mirror, false, now))
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotIngested) {
			observability.RecordIngestion(string(PathEdit), "not_ingested")
		} else {
			observability.RecordIngestion(string(PathEdit), "failed")
		}
		return Result{}, err
	}

	e.afterCommit(ctx, PathEdit, userID, externalID, result, now)
	return result, nil
}

// createLinkedLog is the only place a log is ever created for a mirror. It must run
// while the mirror row is claimed and unlinked.
func (e *Engine) createLinkedLog(ctx context.Context, tx domain.ActivityTx, mirror *domain.DeviceActivity, activity vendor.Activity, m measurements, now time.Time) (int, error) {
	if m.DurationMinutes <= 0 {
		return 0, nil
	}

	loggedAt := now
	if m.StartTime != nil {
		loggedAt = *m.StartTime
	}

	switch mirror.Category {
	case domain.CategoryCardio:
		id, err := tx.CreateCardioLog(ctx, domain.CardioLog{
			UserID:          mirror.UserID,
			ActivityType:    mirror.ActivityType,
			DurationMinutes: m.DurationMinutes,
			DistanceKm:      m.DistanceKm,
			Calories:        m.Calories,
			AvgHeartRate:    m.AvgHeartRate,
			LoggedAt:        loggedAt,
			Notes:           note(activity),
			Source:          deviceSource,
		})
		if err != nil {
			return 0, fmt.Errorf("create cardio log: %w", err)
		}
		mirror.LinkedCardioLogID = &id
		return 0, nil

	case domain.CategoryStrength:
		xp := StrengthXP(m.DurationMinutes)
		id, err := tx.CreateStrengthLog(ctx, domain.StrengthLog{
			UserID:          mirror.UserID,
			WorkoutType:     mirror.ActivityType,
			DurationMinutes: m.DurationMinutes,
			Calories:        m.Calories,
			LoggedAt:        loggedAt,
			Notes:           note(activity),
			Source:          deviceSource,
			XPEarned:        xp,
		})
		if err != nil {
			return 0, fmt.Errorf("create strength log: %w", err)
		}
		mirror.LinkedWorkoutLogID = &id

		if err := tx.IncrementAggregateStats(ctx, mirror.UserID, xp, 1, m.DurationMinutes); err != nil {
			return 0, fmt.Errorf("increment aggregate stats: %w", err)
		}
		err = tx.RecordEvent(ctx, domain.OutboxEvent{
			Type:         events.TypeXPAwarded,
			AggregateID:  id,
			PartitionKey: mirror.UserID,
			Payload: events.XPAwarded{
				UserID:           mirror.UserID,
				StrengthLogID:    id,
				DeviceActivityID: mirror.ID,
				XP:               xp,
				Minutes:          m.DurationMinutes,
				OccurredAt:       now,
			},
		})
		if err != nil {
			return 0, err
		}
		return xp, nil
	}
	return 0, nil
}

func updateLinkedLog(ctx context.Context, tx domain.ActivityTx, existing *domain.DeviceActivity, patch domain.LogPatch) error {
	if patch.Empty() {
		return nil
	}
	switch existing.LinkState() {
	case domain.LinkLinkedCardio:
		if err := tx.UpdateCardioLog(ctx, *existing.LinkedCardioLogID, patch); err != nil {
			return fmt.Errorf("update cardio log: %w", err)
		}
	case domain.LinkLinkedStrength:
		if err := tx.UpdateStrengthLog(ctx, *existing.LinkedWorkoutLogID, patch); err != nil {
			return fmt.Errorf("update strength log: %w", err)
		}
	}
	return nil
}

func ingestedEvent(path Path, id string, mirror domain.DeviceActivity, created bool, now time.Time) domain.OutboxEvent {
	return domain.OutboxEvent{
		Type:         events.TypeDeviceActivityIngested,
		AggregateID:  id,
		PartitionKey: mirror.UserID,
		Payload: events.DeviceActivityIngested{
			DeviceActivityID:   id,
			UserID:             mirror.UserID,
			ExternalActivityID: mirror.ExternalActivityID,
			ActivityType:       mirror.ActivityType,
			Category:           string(mirror.Category),
			Created:            created,
			LinkedLogID:        mirror.LinkedLogID(),
			StartTime:          mirror.StartTime,
			DurationMinutes:    mirror.DurationMinutes,
			Path:               string(path),
			OccurredAt:         now,
		},
	}
}

func (e *Engine) afterCommit(ctx context.Context, path Path, userID, externalID string, result Result, now time.Time) {
	outcome := "updated"
	if result.Created {
		outcome = "created"
	}
	observability.RecordIngestion(string(path), outcome)
	observability.RecordXPAwarded(result.XPAwarded)
	observability.RecordActivityIngested(now)

	e.logger.Info("device activity ingested",
		zap.String("path", string(path)),
		zap.String("user_id", userID),
		zap.String("external_activity_id", externalID),
		zap.String("device_activity_id", result.DeviceActivityID),
		zap.String("category", string(result.Category)),
		zap.Bool("created", result.Created),
		zap.String("linked_log_id", result.LinkedLogID),
		zap.Int("xp_awarded", result.XPAwarded),
	)

	if err := e.connections.UpdateLastSync(ctx, userID, now); err != nil {
		e.logger.Warn("update last sync failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (e *Engine) rejectMalformed(path Path, userID string, activity vendor.Activity) {
	observability.RecordIngestion(string(path), "malformed")
	e.logger.Warn("skipping provider activity without id",
		zap.String("path", string(path)),
		zap.String("user_id", userID),
		zap.Int("payload_bytes", len(activity.Raw)),
	)
}
