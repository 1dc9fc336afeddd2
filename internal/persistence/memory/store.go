// Package memory provides an in-process implementation of the device sync stores for
// local development and tests. Transactions are serialised behind one mutex and roll
// back by restoring a snapshot.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/devicesync/internal/domain"
)

type state struct {
	connections map[string]domain.Connection
	activities  map[activityKey]domain.DeviceActivity
	cardio      map[string]domain.CardioLog
	strength    map[string]domain.StrengthLog
	stats       map[string]domain.AggregateStats
	events      []domain.OutboxEvent
}

type activityKey struct {
	userID     string
	externalID string
}

func newState() state {
	return state{
		connections: make(map[string]domain.Connection),
		activities:  make(map[activityKey]domain.DeviceActivity),
		cardio:      make(map[string]domain.CardioLog),
		strength:    make(map[string]domain.StrengthLog),
		stats:       make(map[string]domain.AggregateStats),
	}
}

func (s state) clone() state {
	out := newState()
	for k, v := range s.connections {
		out.connections[k] = v
	}
	for k, v := range s.activities {
		out.activities[k] = v
	}
	for k, v := range s.cardio {
		out.cardio[k] = v
	}
	for k, v := range s.strength {
		out.strength[k] = v
	}
	for k, v := range s.stats {
		out.stats[k] = v
	}
	out.events = append(out.events, s.events...)
	return out
}

// Store implements domain.ConnectionStore, domain.ActivityStore and domain.DeviceActivityReader.
type Store struct {
	mu  sync.Mutex
	st  state
	now func() time.Time
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{st: newState(), now: func() time.Time { return time.Now().UTC() }}
}

// GetActiveConnection returns the user's active connection or nil.
func (s *Store) GetActiveConnection(_ context.Context, userID string) (*domain.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.st.connections {
		if conn.UserID == userID && conn.Provider == domain.ProviderDevice && conn.IsActive {
			c := conn
			return &c, nil
		}
	}
	return nil, nil
}

// FindActiveByToken returns the active connection holding accessToken or nil.
func (s *Store) FindActiveByToken(_ context.Context, accessToken string) (*domain.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.st.connections {
		if conn.AccessToken == accessToken && conn.IsActive {
			c := conn
			return &c, nil
		}
	}
	return nil, nil
}

// DeactivateConnection marks the user's active connection inactive.
func (s *Store) DeactivateConnection(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateActive(userID, func(c *domain.Connection) { c.IsActive = false })
	return nil
}

// UpdateLastSync stamps the user's active connection.
func (s *Store) UpdateLastSync(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateActive(userID, func(c *domain.Connection) {
		ts := at
		c.LastSyncAt = &ts
	})
	return nil
}

// SetProviderUserID records the provider's user id on the active connection.
func (s *Store) SetProviderUserID(_ context.Context, userID, providerUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateActive(userID, func(c *domain.Connection) {
		id := providerUserID
		c.ProviderUserID = &id
	})
	return nil
}

// PurgeConnection deletes every connection and mirrored activity of the user.
func (s *Store) PurgeConnection(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, conn := range s.st.connections {
		if conn.UserID == userID {
			delete(s.st.connections, id)
		}
	}
	for key := range s.st.activities {
		if key.userID == userID {
			delete(s.st.activities, key)
		}
	}
	return nil
}

// UpsertConnection stores conn as the user's only active connection.
func (s *Store) UpsertConnection(_ context.Context, conn domain.Connection) (*domain.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateActive(conn.UserID, func(c *domain.Connection) { c.IsActive = false })

	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.Provider == "" {
		conn.Provider = domain.ProviderDevice
	}
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = s.now()
	}
	conn.IsActive = true
	s.st.connections[conn.ID] = conn
	out := conn
	return &out, nil
}

func (s *Store) updateActive(userID string, fn func(*domain.Connection)) {
	for id, conn := range s.st.connections {
		if conn.UserID == userID && conn.IsActive {
			fn(&conn)
			s.st.connections[id] = conn
		}
	}
}

// WithinTx runs fn exclusively; the changes are discarded when fn returns an error or panics.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.ActivityTx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	committed := false
	defer func() {
		if !committed {
			s.st = snapshot
		}
	}()

	if err = fn(ctx, &memTx{store: s}); err != nil {
		return err
	}
	committed = true
	return nil
}

type memTx struct {
	store *Store
}

func (t *memTx) ClaimDeviceActivity(_ context.Context, userID, externalID string) (*domain.DeviceActivity, bool, error) {
	key := activityKey{userID: userID, externalID: externalID}
	if existing, ok := t.store.st.activities[key]; ok {
		a := existing
		return &a, false, nil
	}
	now := t.store.now()
	stub := domain.DeviceActivity{
		ID:                 uuid.NewString(),
		UserID:             userID,
		ExternalActivityID: externalID,
		Category:           domain.CategoryOther,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	t.store.st.activities[key] = stub
	return &stub, true, nil
}

func (t *memTx) FindDeviceActivityForUpdate(_ context.Context, userID, externalID string) (*domain.DeviceActivity, error) {
	existing, ok := t.store.st.activities[activityKey{userID: userID, externalID: externalID}]
	if !ok {
		return nil, nil
	}
	return &existing, nil
}

func (t *memTx) UpsertDeviceActivity(_ context.Context, activity domain.DeviceActivity) (string, error) {
	key := activityKey{userID: activity.UserID, externalID: activity.ExternalActivityID}
	now := t.store.now()
	if existing, ok := t.store.st.activities[key]; ok {
		activity.ID = existing.ID
		activity.CreatedAt = existing.CreatedAt
	} else {
		if activity.ID == "" {
			activity.ID = uuid.NewString()
		}
		activity.CreatedAt = now
	}
	activity.UpdatedAt = now
	activity.RawPayload = append(json.RawMessage(nil), activity.RawPayload...)
	t.store.st.activities[key] = activity
	return activity.ID, nil
}

func (t *memTx) CreateCardioLog(_ context.Context, log domain.CardioLog) (string, error) {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	t.store.st.cardio[log.ID] = log
	return log.ID, nil
}

func (t *memTx) UpdateCardioLog(_ context.Context, id string, patch domain.LogPatch) error {
	log, ok := t.store.st.cardio[id]
	if !ok {
		return nil
	}
	if patch.DurationMinutes != nil {
		log.DurationMinutes = *patch.DurationMinutes
	}
	if patch.DistanceKm != nil {
		log.DistanceKm = *patch.DistanceKm
	}
	if patch.Calories != nil {
		log.Calories = *patch.Calories
	}
	if patch.LoggedAt != nil {
		log.LoggedAt = *patch.LoggedAt
	}
	if patch.Notes != nil {
		log.Notes = *patch.Notes
	}
	t.store.st.cardio[id] = log
	return nil
}

func (t *memTx) CreateStrengthLog(_ context.Context, log domain.StrengthLog) (string, error) {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	t.store.st.strength[log.ID] = log
	return log.ID, nil
}

func (t *memTx) UpdateStrengthLog(_ context.Context, id string, patch domain.LogPatch) error {
	log, ok := t.store.st.strength[id]
	if !ok {
		return nil
	}
	if patch.DurationMinutes != nil {
		log.DurationMinutes = *patch.DurationMinutes
	}
	if patch.Calories != nil {
		log.Calories = *patch.Calories
	}
	if patch.LoggedAt != nil {
		log.LoggedAt = *patch.LoggedAt
	}
	if patch.Notes != nil {
		log.Notes = *patch.Notes
	}
	t.store.st.strength[id] = log
	return nil
}

func (t *memTx) IncrementAggregateStats(_ context.Context, userID string, xp, workouts, minutes int) error {
	stats, ok := t.store.st.stats[userID]
	if !ok {
		stats = domain.AggregateStats{UserID: userID}
	}
	stats.TotalXP += xp
	stats.TotalWorkouts += workouts
	stats.TotalMinutes += minutes
	stats.UpdatedAt = t.store.now()
	t.store.st.stats[userID] = stats
	return nil
}

func (t *memTx) RecordEvent(_ context.Context, event domain.OutboxEvent) error {
	t.store.st.events = append(t.store.st.events, event)
	return nil
}

// GetDeviceActivity returns the mirror for the dedup key or nil.
func (s *Store) GetDeviceActivity(_ context.Context, userID, externalID string) (*domain.DeviceActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	activity, ok := s.st.activities[activityKey{userID: userID, externalID: externalID}]
	if !ok {
		return nil, nil
	}
	return &activity, nil
}

// ListDeviceActivities pages the user's mirror newest first by start time, then id.
func (s *Store) ListDeviceActivities(_ context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.DeviceActivity, *domain.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]domain.DeviceActivity, 0)
	for key, activity := range s.st.activities {
		if key.userID == userID {
			all = append(all, activity)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		ti, tj := all[i].SortTime(), all[j].SortTime()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return all[i].ID > all[j].ID
	})

	results := make([]domain.DeviceActivity, 0, limit)
	for _, activity := range all {
		if cursor != nil {
			ts := activity.SortTime()
			if ts.After(cursor.StartTime) || (ts.Equal(cursor.StartTime) && activity.ID >= cursor.ID) {
				continue
			}
		}
		results = append(results, activity)
		if len(results) == limit {
			break
		}
	}

	var next *domain.Cursor
	if len(results) == limit && limit > 0 {
		last := results[len(results)-1]
		next = &domain.Cursor{StartTime: last.SortTime(), ID: last.ID}
	}
	return results, next, nil
}

// SaveRouteCache attaches route to the raw payload of the mirror row.
func (s *Store) SaveRouteCache(_ context.Context, deviceActivityID string, route domain.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, activity := range s.st.activities {
		if activity.ID != deviceActivityID {
			continue
		}
		fields := map[string]json.RawMessage{}
		if len(activity.RawPayload) > 0 {
			if err := json.Unmarshal(activity.RawPayload, &fields); err != nil {
				return err
			}
		}
		encoded, err := json.Marshal(route)
		if err != nil {
			return err
		}
		fields[domain.RouteCacheKey] = encoded
		merged, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		activity.RawPayload = merged
		s.st.activities[key] = activity
		return nil
	}
	return domain.ErrDeviceActivityNotFound
}

// GetOrInitAggregateStats returns the user's counters, creating a zero row when absent.
func (s *Store) GetOrInitAggregateStats(_ context.Context, userID string) (*domain.AggregateStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.st.stats[userID]
	if !ok {
		stats = domain.AggregateStats{UserID: userID, UpdatedAt: s.now()}
		s.st.stats[userID] = stats
	}
	return &stats, nil
}

// CardioLogs returns the user's cardio logs.
func (s *Store) CardioLogs(userID string) []domain.CardioLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CardioLog, 0)
	for _, log := range s.st.cardio {
		if log.UserID == userID {
			out = append(out, log)
		}
	}
	return out
}

// StrengthLogs returns the user's strength logs.
func (s *Store) StrengthLogs(userID string) []domain.StrengthLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.StrengthLog, 0)
	for _, log := range s.st.strength {
		if log.UserID == userID {
			out = append(out, log)
		}
	}
	return out
}

// Events returns the recorded outbox events in order.
func (s *Store) Events() []domain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxEvent(nil), s.st.events...)
}

// ActivityCount returns the number of mirrored activities for the user.
func (s *Store) ActivityCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for key := range s.st.activities {
		if key.userID == userID {
			count++
		}
	}
	return count
}
