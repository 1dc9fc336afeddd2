// Package events defines the payloads published for device-sync changes.
package events

import "time"

const (
	// TypeDeviceActivityIngested is emitted for every successful ingestion.
	TypeDeviceActivityIngested = "device_activity.ingested"
	// TypeXPAwarded is emitted when a strength log earns experience points.
	TypeXPAwarded = "gamification.xp_awarded"
)

// DeviceActivityIngested describes one reconciliation of a provider activity.
type DeviceActivityIngested struct {
	DeviceActivityID   string     `json:"device_activity_id"`
	UserID             string     `json:"user_id"`
	ExternalActivityID string     `json:"external_activity_id"`
	ActivityType       string     `json:"activity_type"`
	Category           string     `json:"category"`
	Created            bool       `json:"created"`
	LinkedLogID        string     `json:"linked_log_id,omitempty"`
	StartTime          *time.Time `json:"start_time,omitempty"`
	DurationMinutes    int        `json:"duration_minutes"`
	Path               string     `json:"path"`
	OccurredAt         time.Time  `json:"occurred_at"`
}

// XPAwarded tracks a one-time gamification award for a device-sourced workout.
type XPAwarded struct {
	UserID           string    `json:"user_id"`
	StrengthLogID    string    `json:"strength_log_id"`
	DeviceActivityID string    `json:"device_activity_id"`
	XP               int       `json:"xp"`
	Minutes          int       `json:"minutes"`
	OccurredAt       time.Time `json:"occurred_at"`
}
