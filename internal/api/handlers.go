// Package api exposes HTTP handlers for the device sync service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"example.com/devicesync/internal/auth"
	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/persistence"
	"example.com/devicesync/internal/route"
	"example.com/devicesync/internal/syncgw"
	"example.com/devicesync/internal/vendor"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Syncer runs pull syncs and provider pushes.
type Syncer interface {
	PullSync(ctx context.Context, userID string, start, end *time.Time) (syncgw.SyncResult, error)
	HandleActivityPush(ctx context.Context, payload vendor.PushPayload) syncgw.PushReport
	HandleManualEditPush(ctx context.Context, payload vendor.PushPayload) syncgw.PushReport
}

// RouteResolver resolves the GPS track of a mirrored activity.
type RouteResolver interface {
	ResolveRoute(ctx context.Context, userID, externalID string, opts route.ResolveOptions) (*domain.Route, error)
}

// Handler coordinates HTTP requests with the sync gateway and stores.
type Handler struct {
	syncer      Syncer
	routes      RouteResolver
	connections domain.ConnectionStore
	activities  domain.DeviceActivityReader
	logger      *zap.Logger
}

// NewHandler builds a Handler.
func NewHandler(syncer Syncer, routes RouteResolver, connections domain.ConnectionStore, activities domain.DeviceActivityReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		syncer:      syncer,
		routes:      routes,
		connections: connections,
		activities:  activities,
		logger:      logger,
	}
}

// RegisterRoutes wires endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", healthz)

	r.Route("/v1/device", func(r chi.Router) {
		r.With(requireScope(auth.ScopeDeviceSync)).Post("/sync", h.pullSync)
		r.With(requireScope(auth.ScopeDeviceRead)).Get("/connection", h.getConnection)
		r.With(requireScope(auth.ScopeDeviceSync)).Delete("/connection", h.disconnect)
		r.With(requireScope(auth.ScopeDeviceRead)).Get("/activities", h.listActivities)
		r.With(requireScope(auth.ScopeDeviceRead)).Get("/activities/{externalID}/route", h.activityRoute)
		r.With(requireScope(auth.ScopeDeviceRead)).Get("/stats", h.stats)
	})

	r.Route("/webhooks/device", func(r chi.Router) {
		r.Post("/activities", h.webhook(syncgw.KindActivities, h.syncer.HandleActivityPush))
		r.Post("/activity-details", h.webhook(syncgw.KindActivityDetails, h.syncer.HandleActivityPush))
		r.Post("/manual-updates", h.webhook(syncgw.KindManualUpdates, h.syncer.HandleManualEditPush))
	})
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) pullSync(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())

	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	result, err := h.syncer.PullSync(r.Context(), claims.Subject, req.StartDate, req.EndDate)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrConnectionNotFound):
			writeError(w, http.StatusNotFound, "not_connected", "no active device connection")
		case errors.Is(err, domain.ErrReconnectRequired):
			writeJSON(w, http.StatusConflict, ReconnectResponse{
				Type:              "reconnect_required",
				Detail:            "device connection expired, reconnect required",
				ReconnectRequired: true,
			})
		case errors.Is(err, domain.ErrInvalidRange):
			writeError(w, http.StatusBadRequest, "validation_failed", "start_date must be before end_date")
		default:
			h.logger.Error("pull sync failed", zap.String("user_id", claims.Subject), zap.Error(err))
			writeError(w, http.StatusBadGateway, "sync_failed", "device provider request failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, SyncResponse{SyncedCount: result.SyncedCount, TotalCount: result.TotalCount})
}

func (h *Handler) getConnection(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())

	conn, err := h.connections.GetActiveConnection(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toConnectionView(conn))
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	purge, _ := strconv.ParseBool(r.URL.Query().Get("purge"))

	var err error
	if purge {
		err = h.connections.PurgeConnection(r.Context(), claims.Subject)
	} else {
		err = h.connections.DeactivateConnection(r.Context(), claims.Subject)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	h.logger.Info("device connection removed", zap.String("user_id", claims.Subject), zap.Bool("purge", purge))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())

	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxPageSize)
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	items, next, err := h.activities.ListDeviceActivities(r.Context(), claims.Subject, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := ListActivitiesResponse{
		Items:      make([]ActivityView, 0, len(items)),
		NextCursor: persistence.EncodeCursor(next),
	}
	for _, item := range items {
		resp.Items = append(resp.Items, toActivityView(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) activityRoute(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	externalID := chi.URLParam(r, "externalID")
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	resolved, err := h.routes.ResolveRoute(r.Context(), claims.Subject, externalID, route.ResolveOptions{Refresh: refresh})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRouteNotFound):
			writeError(w, http.StatusNotFound, "no_route", "no route available for this activity")
		case errors.Is(err, domain.ErrDeviceActivityNotFound):
			writeError(w, http.StatusNotFound, "not_found", "device activity not found")
		case errors.Is(err, domain.ErrConnectionNotFound):
			writeError(w, http.StatusNotFound, "not_connected", "no active device connection")
		case errors.Is(err, domain.ErrReconnectRequired):
			writeJSON(w, http.StatusConflict, ReconnectResponse{
				Type:              "reconnect_required",
				Detail:            "device connection expired, reconnect required",
				ReconnectRequired: true,
			})
		default:
			h.logger.Error("route resolution failed",
				zap.String("user_id", claims.Subject),
				zap.String("external_activity_id", externalID),
				zap.Error(err),
			)
			writeError(w, http.StatusBadGateway, "route_failed", "unable to resolve route")
		}
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())

	stats, err := h.activities.GetOrInitAggregateStats(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		TotalXP:       stats.TotalXP,
		TotalWorkouts: stats.TotalWorkouts,
		TotalMinutes:  stats.TotalMinutes,
	})
}

// requireScope rejects requests whose bearer token lacks scope.
func requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.FromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			if !claims.HasScope(scope) {
				writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
