// Package syncgw orchestrates the three ingestion paths: caller-initiated pull sync,
// provider activity webhooks and provider manual-edit webhooks. All of them funnel
// into the ingestion engine one item at a time.
package syncgw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/ingest"
	"example.com/devicesync/internal/observability"
	"example.com/devicesync/internal/vendor"
)

// ActivityLister fetches activities from the provider.
type ActivityLister interface {
	ListActivities(ctx context.Context, tokens vendor.Tokens, start, end time.Time) ([]vendor.Activity, error)
}

// Ingester reconciles single activities.
type Ingester interface {
	Ingest(ctx context.Context, path ingest.Path, userID string, activity vendor.Activity) (ingest.Result, error)
	ApplyEdit(ctx context.Context, userID string, activity vendor.Activity) (ingest.Result, error)
}

// Config tunes pull windows and the webhook processing budget.
type Config struct {
	PullWindow       time.Duration
	DefaultPullRange time.Duration
	PushDeadline     time.Duration
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithLogger overrides the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// Gateway is the entry point for every ingestion path.
type Gateway struct {
	connections domain.ConnectionStore
	lister      ActivityLister
	engine      Ingester
	cfg         Config
	logger      *zap.Logger
	now         func() time.Time
}

// NewGateway constructs a Gateway. Zero config values take the defaults: a 24h pull
// window, a 7 day default range and a 25s push deadline.
func NewGateway(connections domain.ConnectionStore, lister ActivityLister, engine Ingester, cfg Config, opts ...Option) *Gateway {
	if cfg.PullWindow <= 0 {
		cfg.PullWindow = 24 * time.Hour
	}
	if cfg.DefaultPullRange <= 0 {
		cfg.DefaultPullRange = 7 * 24 * time.Hour
	}
	if cfg.PushDeadline <= 0 {
		cfg.PushDeadline = 25 * time.Second
	}
	g := &Gateway{
		connections: connections,
		lister:      lister,
		engine:      engine,
		cfg:         cfg,
		logger:      zap.NewNop(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SyncResult summarises a pull sync.
type SyncResult struct {
	// SyncedCount is the number of activities seen for the first time.
	SyncedCount int
	// TotalCount is the number of activities the provider returned.
	TotalCount int
}

// PullSync fetches the user's activities in [start, end) and ingests them. A nil end
// means now and a nil start means end minus the default range. The range is requested
// in windows no larger than the provider allows.
//
// A provider 401 deactivates the connection and returns domain.ErrReconnectRequired. Any
// other failure returns an error wrapping domain.ErrSyncFailed; activities ingested before
// the failure stay committed.
func (g *Gateway) PullSync(ctx context.Context, userID string, start, end *time.Time) (SyncResult, error) {
	conn, err := g.connections.GetActiveConnection(ctx, userID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("load connection: %w", err)
	}
	if conn == nil {
		return SyncResult{}, domain.ErrConnectionNotFound
	}

	to := g.now()
	if end != nil {
		to = end.UTC()
	}
	from := to.Add(-g.cfg.DefaultPullRange)
	if start != nil {
		from = start.UTC()
	}
	if !from.Before(to) {
		return SyncResult{}, fmt.Errorf("%w: start %s is not before end %s", domain.ErrInvalidRange, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	tokens := vendor.Tokens{Token: conn.AccessToken, Secret: conn.TokenSecret}
	providerUserKnown := conn.ProviderUserID != nil && *conn.ProviderUserID != ""

	var result SyncResult
	for windowStart := from; windowStart.Before(to); windowStart = windowStart.Add(g.cfg.PullWindow) {
		windowEnd := windowStart.Add(g.cfg.PullWindow)
		if windowEnd.After(to) {
			windowEnd = to
		}

		activities, err := g.lister.ListActivities(ctx, tokens, windowStart, windowEnd)
		if err != nil {
			return result, g.pullFailure(ctx, userID, err)
		}
		result.TotalCount += len(activities)

		for _, activity := range activities {
			if !providerUserKnown && activity.UserID != "" {
				providerUserKnown = g.recordProviderUser(ctx, userID, string(activity.UserID))
			}

			res, err := g.engine.Ingest(ctx, ingest.PathPull, userID, activity)
			if err != nil {
				if errors.Is(err, domain.ErrMalformedPayload) {
					continue
				}
				observability.RecordPullSync("failed", time.Time{})
				return result, fmt.Errorf("%w: %w", domain.ErrSyncFailed, err)
			}
			if res.Created {
				result.SyncedCount++
			}
		}
	}

	observability.RecordPullSync("ok", g.now())
	g.logger.Info("pull sync completed",
		zap.String("user_id", userID),
		zap.Time("start", from),
		zap.Time("end", to),
		zap.Int("synced", result.SyncedCount),
		zap.Int("total", result.TotalCount),
	)
	return result, nil
}

func (g *Gateway) pullFailure(ctx context.Context, userID string, err error) error {
	if vendor.IsUnauthorized(err) {
		observability.RecordPullSync("reconnect_required", time.Time{})
		g.logger.Warn("provider rejected credentials, deactivating connection", zap.String("user_id", userID))
		if derr := g.connections.DeactivateConnection(ctx, userID); derr != nil {
			g.logger.Error("deactivate connection failed", zap.String("user_id", userID), zap.Error(derr))
		}
		return domain.ErrReconnectRequired
	}
	observability.RecordPullSync("failed", time.Time{})
	g.logger.Error("pull sync failed", zap.String("user_id", userID), zap.Error(err))
	return fmt.Errorf("%w: %w", domain.ErrSyncFailed, err)
}

// recordProviderUser stores the provider user id and reports whether it is now known.
func (g *Gateway) recordProviderUser(ctx context.Context, userID, providerUserID string) bool {
	if err := g.connections.SetProviderUserID(ctx, userID, providerUserID); err != nil {
		g.logger.Warn("store provider user id failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return true
}
