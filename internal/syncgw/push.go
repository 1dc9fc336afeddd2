package syncgw

import (
	"context"
	"encoding/json"
	"errors"
	"runtime/debug"

	"go.uber.org/zap"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/ingest"
	"example.com/devicesync/internal/observability"
	"example.com/devicesync/internal/vendor"
)

// Push kinds, used as log and metric labels.
const (
	KindActivities      = "activities"
	KindActivityDetails = "activity_details"
	KindManualUpdates   = "manual_updates"
)

const (
	outcomeIngested     = "ingested"
	outcomeMalformed    = "malformed"
	outcomeUnknownToken = "unknown_token"
	outcomeFailed       = "failed"
	outcomeDeadline     = "deadline_exceeded"
)

// PushReport counts what happened to each item of a webhook delivery.
type PushReport struct {
	Received int `json:"received"`
	Ingested int `json:"ingested"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

func (r *PushReport) add(outcome string) {
	switch outcome {
	case outcomeIngested:
		r.Ingested++
	case outcomeMalformed, outcomeUnknownToken:
		r.Skipped++
	default:
		r.Failed++
	}
}

type applyFunc func(ctx context.Context, userID string, activity vendor.Activity) error

// HandleActivityPush ingests every item of an activities or activity-details push. Items
// whose access token matches no active connection are skipped. It never returns an
// error: failures are logged and counted per item.
func (g *Gateway) HandleActivityPush(ctx context.Context, payload vendor.PushPayload) PushReport {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.PushDeadline)
	defer cancel()

	apply := func(ctx context.Context, userID string, activity vendor.Activity) error {
		_, err := g.engine.Ingest(ctx, ingest.PathPush, userID, activity)
		return err
	}

	var report PushReport
	g.processItems(ctx, KindActivities, payload.Activities, apply, &report)
	g.processItems(ctx, KindActivityDetails, payload.ActivityDetails, apply, &report)
	return report
}

// HandleManualEditPush applies provider edit notifications in place. An edit for an
// activity that was never mirrored falls back to a full ingestion. It never returns an error.
func (g *Gateway) HandleManualEditPush(ctx context.Context, payload vendor.PushPayload) PushReport {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.PushDeadline)
	defer cancel()

	apply := func(ctx context.Context, userID string, activity vendor.Activity) error {
		_, err := g.engine.ApplyEdit(ctx, userID, activity)
		if errors.Is(err, domain.ErrNotIngested) {
			_, err = g.engine.Ingest(ctx, ingest.PathEdit, userID, activity)
		}
		return err
	}

	var report PushReport
	g.processItems(ctx, KindManualUpdates, payload.ManuallyUpdatedActivities, apply, &report)
	return report
}

func (g *Gateway) processItems(ctx context.Context, kind string, items []json.RawMessage, apply applyFunc, report *PushReport) {
	dropped := false
	for i, raw := range items {
		report.Received++
		if ctx.Err() != nil {
			if !dropped {
				g.logger.Error("webhook deadline exceeded, dropping remaining items", zap.String("kind", kind), zap.Int("remaining", len(items)-i))
				dropped = true
			}
			observability.RecordWebhookItem(kind, outcomeDeadline)
			report.add(outcomeDeadline)
			continue
		}

		outcome := g.processItem(ctx, kind, raw, apply)
		observability.RecordWebhookItem(kind, outcome)
		report.add(outcome)
	}
}

// processItem handles one webhook item. Panics are recovered here so the rest of the
// batch still runs.
func (g *Gateway) processItem(ctx context.Context, kind string, raw json.RawMessage, apply applyFunc) (outcome string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err := observability.PanicError(recovered)
			g.logger.Error("webhook item panicked",
				zap.String("kind", kind),
				zap.Error(err),
				zap.ByteString("stack", debug.Stack()),
			)
			observability.CaptureException(err, map[string]string{"component": "webhook", "kind": kind})
			outcome = outcomeFailed
		}
	}()

	activity, err := vendor.ParseActivity(raw)
	if err != nil {
		g.logger.Warn("webhook item is not valid json", zap.String("kind", kind), zap.Error(err))
		return outcomeMalformed
	}
	if activity.UserAccessToken == "" {
		g.logger.Warn("webhook item without access token", zap.String("kind", kind), zap.String("external_activity_id", activity.ExternalID()))
		return outcomeUnknownToken
	}

	conn, err := g.connections.FindActiveByToken(ctx, activity.UserAccessToken)
	if err != nil {
		g.logger.Error("connection lookup failed", zap.String("kind", kind), zap.Error(err))
		return outcomeFailed
	}
	if conn == nil {
		g.logger.Info("skipping webhook item for unknown or revoked token",
			zap.String("kind", kind),
			zap.String("external_activity_id", activity.ExternalID()),
		)
		return outcomeUnknownToken
	}

	if (conn.ProviderUserID == nil || *conn.ProviderUserID == "") && activity.UserID != "" {
		g.recordProviderUser(ctx, conn.UserID, string(activity.UserID))
	}

	if err := apply(ctx, conn.UserID, activity); err != nil {
		if errors.Is(err, domain.ErrMalformedPayload) {
			return outcomeMalformed
		}
		g.logger.Error("webhook item ingestion failed",
			zap.String("kind", kind),
			zap.String("user_id", conn.UserID),
			zap.String("external_activity_id", activity.ExternalID()),
			zap.Error(err),
		)
		observability.CaptureException(err, map[string]string{"component": "webhook", "kind": kind})
		return outcomeFailed
	}
	return outcomeIngested
}
