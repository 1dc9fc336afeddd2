package api

import (
	"time"

	"example.com/devicesync/internal/domain"
)

// SyncRequest is the optional body of POST /v1/device/sync. Omitted bounds default to
// the last seven days.
type SyncRequest struct {
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// SyncResponse reports the outcome of a pull sync.
type SyncResponse struct {
	SyncedCount int `json:"synced_count"`
	TotalCount  int `json:"total_count"`
}

// ReconnectResponse tells the client to run the OAuth handshake again.
type ReconnectResponse struct {
	Type              string `json:"type"`
	Detail            string `json:"detail"`
	ReconnectRequired bool   `json:"reconnect_required"`
}

// ConnectionView describes the caller's device connection without its credentials.
type ConnectionView struct {
	Connected      bool       `json:"connected"`
	Provider       string     `json:"provider,omitempty"`
	ProviderUserID *string    `json:"provider_user_id,omitempty"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
}

// ActivityView exposes one mirrored device activity.
type ActivityView struct {
	ID                 string     `json:"id"`
	ExternalActivityID string     `json:"external_activity_id"`
	ActivityType       string     `json:"activity_type"`
	VendorActivityType string     `json:"vendor_activity_type"`
	Category           string     `json:"category"`
	Name               string     `json:"name,omitempty"`
	StartTime          *time.Time `json:"start_time,omitempty"`
	DurationMinutes    int        `json:"duration_minutes"`
	DistanceKm         float64    `json:"distance_km"`
	Calories           int        `json:"calories"`
	AvgHeartRate       *int       `json:"avg_heart_rate,omitempty"`
	MaxHeartRate       *int       `json:"max_heart_rate,omitempty"`
	ElevationGainM     *float64   `json:"elevation_gain_m,omitempty"`
	AvgSpeedKmh        *float64   `json:"avg_speed_kmh,omitempty"`
	LinkState          string     `json:"link_state"`
	LinkedLogID        string     `json:"linked_log_id,omitempty"`
	HasRoute           bool       `json:"has_route"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// StatsResponse carries the caller's gamification totals.
type StatsResponse struct {
	TotalXP       int `json:"total_xp"`
	TotalWorkouts int `json:"total_workouts"`
	TotalMinutes  int `json:"total_minutes"`
}

// WebhookResponse acknowledges a provider push.
type WebhookResponse struct {
	Success bool `json:"success"`
}

func toConnectionView(conn *domain.Connection) ConnectionView {
	if conn == nil {
		return ConnectionView{}
	}
	connectedAt := conn.ConnectedAt
	return ConnectionView{
		Connected:      conn.IsActive,
		Provider:       conn.Provider,
		ProviderUserID: conn.ProviderUserID,
		ConnectedAt:    &connectedAt,
		LastSyncAt:     conn.LastSyncAt,
	}
}

func toActivityView(a domain.DeviceActivity) ActivityView {
	_, hasRoute := domain.CachedRoute(a.RawPayload)
	return ActivityView{
		ID:                 a.ID,
		ExternalActivityID: a.ExternalActivityID,
		ActivityType:       a.ActivityType,
		VendorActivityType: a.VendorActivityType,
		Category:           string(a.Category),
		Name:               a.Name,
		StartTime:          a.StartTime,
		DurationMinutes:    a.DurationMinutes,
		DistanceKm:         a.DistanceKm,
		Calories:           a.Calories,
		AvgHeartRate:       a.AvgHeartRate,
		MaxHeartRate:       a.MaxHeartRate,
		ElevationGainM:     a.ElevationGainM,
		AvgSpeedKmh:        a.AvgSpeedKmh,
		LinkState:          string(a.LinkState()),
		LinkedLogID:        a.LinkedLogID(),
		HasRoute:           hasRoute,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}
