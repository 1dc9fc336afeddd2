package domain

import (
	"encoding/json"
	"time"
)

// Category groups device activities by the kind of internal log they produce.
type Category string

const (
	CategoryCardio   Category = "cardio"
	CategoryStrength Category = "strength"
	CategoryOther    Category = "other"
)

// LinkState describes which internal log, if any, a DeviceActivity points at.
// Unlinked is the only non-terminal state.
type LinkState string

const (
	LinkUnlinked       LinkState = "unlinked"
	LinkLinkedCardio   LinkState = "linked_cardio"
	LinkLinkedStrength LinkState = "linked_strength"
)

// DeviceActivity is the canonical mirror of one provider activity.
// (UserID, ExternalActivityID) is unique.
type DeviceActivity struct {
	ID                 string
	UserID             string
	ExternalActivityID string
	ActivityType       string
	VendorActivityType string
	Category           Category
	Name               string
	StartTime          *time.Time
	DurationSeconds    int
	DurationMinutes    int
	DistanceKm         float64
	Calories           int
	AvgHeartRate       *int
	MaxHeartRate       *int
	ElevationGainM     *float64
	AvgSpeedKmh        *float64
	RawPayload         json.RawMessage
	LinkedCardioLogID  *string
	LinkedWorkoutLogID *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// LinkState reports the link state derived from the back-references.
func (a *DeviceActivity) LinkState() LinkState {
	if a == nil {
		return LinkUnlinked
	}
	switch {
	case a.LinkedCardioLogID != nil && *a.LinkedCardioLogID != "":
		return LinkLinkedCardio
	case a.LinkedWorkoutLogID != nil && *a.LinkedWorkoutLogID != "":
		return LinkLinkedStrength
	default:
		return LinkUnlinked
	}
}

// SortTime is the history ordering key: the start time, or the mirror's creation time
// when the provider sent none.
func (a DeviceActivity) SortTime() time.Time {
	if a.StartTime != nil {
		return *a.StartTime
	}
	return a.CreatedAt
}

// LinkedLogID returns the id of whichever internal log is linked, or "".
func (a *DeviceActivity) LinkedLogID() string {
	switch a.LinkState() {
	case LinkLinkedCardio:
		return *a.LinkedCardioLogID
	case LinkLinkedStrength:
		return *a.LinkedWorkoutLogID
	default:
		return ""
	}
}

// CardioLog is the internal cardio entry created from a device activity.
type CardioLog struct {
	ID              string
	UserID          string
	ActivityType    string
	DurationMinutes int
	DistanceKm      float64
	Calories        int
	AvgHeartRate    *int
	LoggedAt        time.Time
	Notes           string
	Source          string
}

// StrengthLog is the internal workout entry created from a device activity.
type StrengthLog struct {
	ID              string
	UserID          string
	WorkoutType     string
	DurationMinutes int
	Calories        int
	LoggedAt        time.Time
	Notes           string
	Source          string
	XPEarned        int
}

// LogPatch carries the edit-worthy fields of a provider update. Nil fields are left
// untouched; DistanceKm is ignored for strength logs.
type LogPatch struct {
	DurationMinutes *int
	DistanceKm      *float64
	Calories        *int
	LoggedAt        *time.Time
	Notes           *string
}

// Empty reports whether the patch changes nothing.
func (p LogPatch) Empty() bool {
	return p.DurationMinutes == nil && p.DistanceKm == nil && p.Calories == nil && p.LoggedAt == nil && p.Notes == nil
}

// AggregateStats holds the per-user gamification counters.
type AggregateStats struct {
	UserID        string
	TotalXP       int
	TotalWorkouts int
	TotalMinutes  int
	UpdatedAt     time.Time
}

// Cursor models the pagination token for activity history.
type Cursor struct {
	StartTime time.Time
	ID        string
}
