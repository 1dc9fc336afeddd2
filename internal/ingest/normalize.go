package ingest

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/vendor"
)

const (
	deviceSource = "device"
	deviceNote   = "Synced from device"
)

// measurements are the normalized values derived from one provider payload.
type measurements struct {
	StartTime       *time.Time
	DurationSeconds int
	DurationMinutes int
	DistanceKm      float64
	Calories        int
	AvgHeartRate    *int
	MaxHeartRate    *int
	ElevationGainM  *float64
	AvgSpeedKmh     *float64
}

func normalize(activity vendor.Activity) measurements {
	var m measurements
	if activity.StartTimeInSeconds != nil {
		ts := time.Unix(*activity.StartTimeInSeconds, 0).UTC()
		m.StartTime = &ts
	}
	if activity.DurationInSeconds != nil && *activity.DurationInSeconds > 0 {
		m.DurationSeconds = int(math.Round(*activity.DurationInSeconds))
		m.DurationMinutes = roundMinutes(*activity.DurationInSeconds)
	}
	if activity.DistanceInMeters != nil && *activity.DistanceInMeters > 0 {
		m.DistanceKm = metersToKm(*activity.DistanceInMeters)
	}
	if activity.ActiveKilocalories != nil && *activity.ActiveKilocalories > 0 {
		m.Calories = int(math.Round(*activity.ActiveKilocalories))
	}
	m.AvgHeartRate = roundedInt(activity.AverageHeartRateInBeatsPerMinute)
	m.MaxHeartRate = roundedInt(activity.MaxHeartRateInBeatsPerMinute)
	if activity.TotalElevationGainInMeters != nil {
		v := round2(*activity.TotalElevationGainInMeters)
		m.ElevationGainM = &v
	}
	if activity.AverageSpeedInMetersPerSecond != nil {
		v := round2(*activity.AverageSpeedInMetersPerSecond * 3.6)
		m.AvgSpeedKmh = &v
	}
	return m
}

// roundMinutes converts seconds to whole minutes, half up.
func roundMinutes(seconds float64) int {
	return int(math.Round(seconds / 60))
}

// metersToKm converts metres to kilometres rounded to two decimals.
func metersToKm(meters float64) float64 {
	return round2(meters / 1000)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func roundedInt(v *float64) *int {
	if v == nil {
		return nil
	}
	out := int(math.Round(*v))
	return &out
}

// StrengthXP is the one-time award for a newly created strength log.
func StrengthXP(minutes int) int {
	return min(200, 50+(minutes/5)*5)
}

// note marks a log as device-sourced and keeps the provider's title and description.
func note(activity vendor.Activity) string {
	parts := []string{deviceNote}
	if activity.ActivityName != nil && strings.TrimSpace(*activity.ActivityName) != "" {
		parts = append(parts, strings.TrimSpace(*activity.ActivityName))
	}
	if activity.Description != nil && strings.TrimSpace(*activity.Description) != "" {
		parts = append(parts, strings.TrimSpace(*activity.Description))
	}
	return strings.Join(parts, " - ")
}

// editPatch selects the edit-worthy fields the payload actually carries.
func editPatch(activity vendor.Activity, m measurements) domain.LogPatch {
	var patch domain.LogPatch
	if activity.DurationInSeconds != nil {
		minutes := m.DurationMinutes
		patch.DurationMinutes = &minutes
	}
	if activity.DistanceInMeters != nil {
		km := m.DistanceKm
		patch.DistanceKm = &km
	}
	if activity.ActiveKilocalories != nil {
		calories := m.Calories
		patch.Calories = &calories
	}
	if m.StartTime != nil {
		at := *m.StartTime
		patch.LoggedAt = &at
	}
	if activity.ActivityName != nil || activity.Description != nil {
		text := note(activity)
		patch.Notes = &text
	}
	return patch
}

// buildMirror overwrites every vendor-sourced field of existing with the payload's
// values. Link references and a cached route are carried over.
func buildMirror(userID, externalID, normalizedType string, category domain.Category, activity vendor.Activity, m measurements, existing *domain.DeviceActivity) domain.DeviceActivity {
	mirror := domain.DeviceActivity{
		UserID:             userID,
		ExternalActivityID: externalID,
		ActivityType:       normalizedType,
		VendorActivityType: activity.ActivityType,
		Category:           category,
		StartTime:          m.StartTime,
		DurationSeconds:    m.DurationSeconds,
		DurationMinutes:    m.DurationMinutes,
		DistanceKm:         m.DistanceKm,
		Calories:           m.Calories,
		AvgHeartRate:       m.AvgHeartRate,
		MaxHeartRate:       m.MaxHeartRate,
		ElevationGainM:     m.ElevationGainM,
		AvgSpeedKmh:        m.AvgSpeedKmh,
		RawPayload:         rawPayload(activity),
	}
	if activity.ActivityName != nil {
		mirror.Name = *activity.ActivityName
	}
	if existing != nil {
		mirror.ID = existing.ID
		mirror.LinkedCardioLogID = existing.LinkedCardioLogID
		mirror.LinkedWorkoutLogID = existing.LinkedWorkoutLogID
		mirror.CreatedAt = existing.CreatedAt
		mirror.RawPayload = domain.CarryRouteCache(mirror.RawPayload, existing.RawPayload)
	}
	return mirror
}

func rawPayload(activity vendor.Activity) json.RawMessage {
	if len(activity.Raw) > 0 {
		return activity.Raw
	}
	encoded, err := json.Marshal(activity)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return encoded
}
