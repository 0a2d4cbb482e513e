// Package memstore is an in-memory monitor.Store. It enforces the same
// uniqueness rules as the SQL schema and backs engine tests and local runs
// without a database.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"plantwatch-backend/internal/monitor"
)

type Store struct {
	mu       sync.Mutex
	plants   map[string]monitor.Plant
	machines map[string]monitor.Machine
	readings []monitor.SensorReading
	alerts   map[string]monitor.Alert
	downtime map[string]monitor.DowntimeEvent
	events   []monitor.Event
	seq      int
	order    map[string]int

	// claims serialises scheme trigger claims per downtime event.
	claims map[string]*sync.Mutex
}

var _ monitor.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		plants:   map[string]monitor.Plant{},
		machines: map[string]monitor.Machine{},
		alerts:   map[string]monitor.Alert{},
		downtime: map[string]monitor.DowntimeEvent{},
		order:    map[string]int{},
		claims:   map[string]*sync.Mutex{},
	}
}

func (s *Store) nextID(id string) string {
	if id == "" {
		id = uuid.NewString()
	}
	s.seq++
	s.order[id] = s.seq
	return id
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, monitor.ErrNotFound)
}

func (s *Store) CreatePlant(ctx context.Context, plant monitor.Plant) (monitor.Plant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plants[plant.ID]; ok && plant.ID != "" {
		return monitor.Plant{}, fmt.Errorf("plant %s exists: %w", plant.ID, monitor.ErrConflict)
	}
	plant.ID = s.nextID(plant.ID)
	s.plants[plant.ID] = plant
	return plant, nil
}

func (s *Store) GetPlant(ctx context.Context, plantID string) (monitor.Plant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plants[plantID]
	if !ok {
		return monitor.Plant{}, notFound("plant", plantID)
	}
	return p, nil
}

func (s *Store) SavePlantHealth(ctx context.Context, plantID string, health int, status monitor.PlantStatus, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plants[plantID]
	if !ok {
		return notFound("plant", plantID)
	}
	p.OverallHealth = health
	p.Status = status
	at := syncedAt
	p.SyncedAt = &at
	s.plants[plantID] = p
	return nil
}

func (s *Store) HealthSnapshot(ctx context.Context, plantID string) (monitor.HealthSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plants[plantID]; !ok {
		return monitor.HealthSnapshot{}, notFound("plant", plantID)
	}
	var snap monitor.HealthSnapshot
	for _, m := range s.machines {
		if m.PlantID == plantID {
			snap.MachineStatuses = append(snap.MachineStatuses, m.Status)
		}
	}
	for _, a := range s.alerts {
		if a.PlantID == plantID && a.Status == monitor.AlertActive {
			snap.ActiveAlertSeverities = append(snap.ActiveAlertSeverities, a.Severity)
		}
	}
	return snap, nil
}

func (s *Store) CreateMachine(ctx context.Context, m monitor.Machine) (monitor.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plants[m.PlantID]; !ok {
		return monitor.Machine{}, notFound("plant", m.PlantID)
	}
	m.ID = s.nextID(m.ID)
	m.Sensors = append([]monitor.SensorConfig(nil), m.Sensors...)
	s.machines[m.ID] = m
	return m, nil
}

func (s *Store) GetMachine(ctx context.Context, machineID string) (monitor.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[machineID]
	if !ok {
		return monitor.Machine{}, notFound("machine", machineID)
	}
	m.Sensors = append([]monitor.SensorConfig(nil), m.Sensors...)
	return m, nil
}

func (s *Store) ListMachines(ctx context.Context, plantID string) ([]monitor.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []monitor.Machine{}
	for _, m := range s.machines {
		if m.PlantID == plantID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] < s.order[out[j].ID] })
	return out, nil
}

func (s *Store) UpdateMachineState(ctx context.Context, machineID string, status monitor.MachineStatus, live monitor.LiveReadings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[machineID]
	if !ok {
		return notFound("machine", machineID)
	}
	m.Status = status
	if live.Temperature != nil {
		m.Temperature = live.Temperature
	}
	if live.Vibration != nil {
		m.Vibration = live.Vibration
	}
	if live.Load != nil {
		m.Load = live.Load
	}
	m.UpdatedAt = time.Now().UTC()
	s.machines[machineID] = m
	return nil
}

func (s *Store) SetMachineStatus(ctx context.Context, machineID string, status monitor.MachineStatus) error {
	return s.UpdateMachineState(ctx, machineID, status, monitor.LiveReadings{})
}

func (s *Store) InsertReading(ctx context.Context, r monitor.SensorReading) (monitor.SensorReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.machines[r.MachineID]; !ok {
		return monitor.SensorReading{}, notFound("machine", r.MachineID)
	}
	r.ID = s.nextID(r.ID)
	s.readings = append(s.readings, r)
	return r, nil
}

func (s *Store) LinkReadingAlert(ctx context.Context, readingID, alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.readings {
		if s.readings[i].ID == readingID {
			id := alertID
			s.readings[i].AlertID = &id
			return nil
		}
	}
	return notFound("reading", readingID)
}

func (s *Store) LatestReadings(ctx context.Context, machineID string) ([]monitor.SensorReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := map[string]monitor.SensorReading{}
	for _, r := range s.readings {
		if r.MachineID != machineID {
			continue
		}
		if cur, ok := latest[r.SensorType]; !ok || !r.Timestamp.Before(cur.Timestamp) {
			latest[r.SensorType] = r
		}
	}
	out := make([]monitor.SensorReading, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) ReadingHistory(ctx context.Context, machineID, sensorType string, since time.Time) ([]monitor.SensorReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []monitor.SensorReading{}
	for _, r := range s.readings {
		if r.MachineID != machineID || r.Timestamp.Before(since) {
			continue
		}
		if sensorType != "" && r.SensorType != sensorType {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Readings returns every stored reading in insertion order.
func (s *Store) Readings() []monitor.SensorReading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]monitor.SensorReading(nil), s.readings...)
}

func (s *Store) activeAlertLocked(key monitor.SensorKey) (monitor.Alert, bool) {
	for _, a := range s.alerts {
		if a.Status != monitor.AlertActive {
			continue
		}
		if k, ok := a.Key(); ok && k == key {
			return a, true
		}
	}
	return monitor.Alert{}, false
}

func (s *Store) UpsertActiveAlert(ctx context.Context, d monitor.AlertDraft) (monitor.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.activeAlertLocked(d.Key); ok {
		a.Severity = d.Severity
		a.Title = d.Title
		a.Description = d.Description
		a.Value = d.Value
		a.ProductionImpact = d.ProductionImpact
		a.Confidence = d.Confidence
		s.alerts[a.ID] = a
		return a, false, nil
	}
	machineID := d.Key.MachineID
	a := monitor.Alert{
		ID:               s.nextID(""),
		PlantID:          d.PlantID,
		MachineID:        &machineID,
		Severity:         d.Severity,
		Title:            d.Title,
		Description:      d.Description,
		Status:           monitor.AlertActive,
		SensorType:       d.Key.SensorType,
		Source:           d.Key.Source,
		Value:            d.Value,
		ProductionImpact: d.ProductionImpact,
		Confidence:       d.Confidence,
		CreatedAt:        d.At,
		UpdatedAt:        d.At,
	}
	s.alerts[a.ID] = a
	return a, true, nil
}

func (s *Store) GetAlert(ctx context.Context, alertID string) (monitor.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return monitor.Alert{}, notFound("alert", alertID)
	}
	return a, nil
}

func (s *Store) FindActiveAlert(ctx context.Context, key monitor.SensorKey) (monitor.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activeAlertLocked(key)
	if !ok {
		return monitor.Alert{}, notFound("active alert", key.String())
	}
	return a, nil
}

func (s *Store) ListAlerts(ctx context.Context, plantID string, status monitor.AlertStatus) ([]monitor.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []monitor.Alert{}
	for _, a := range s.alerts {
		if a.PlantID == plantID && (status == "" || a.Status == status) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] > s.order[out[j].ID] })
	return out, nil
}

func (s *Store) TransitionAlert(ctx context.Context, alertID string, fn func(monitor.Alert) (monitor.Alert, error)) (monitor.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return monitor.Alert{}, notFound("alert", alertID)
	}
	next, err := fn(a)
	if err != nil {
		return monitor.Alert{}, err
	}
	if next.Status == monitor.AlertActive && a.Status != monitor.AlertActive {
		if k, ok := next.Key(); ok {
			if _, dup := s.activeAlertLocked(k); dup {
				return monitor.Alert{}, fmt.Errorf("active alert for %s exists: %w", k, monitor.ErrConflict)
			}
		}
	}
	s.alerts[alertID] = next
	return next, nil
}

func (s *Store) OpenDowntime(ctx context.Context, d monitor.DowntimeDraft) (monitor.DowntimeEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.downtime {
		if ev.MachineID == d.MachineID && ev.Status == monitor.DowntimeOngoing {
			return ev, false, nil
		}
	}
	ev := monitor.DowntimeEvent{
		ID:        s.nextID(""),
		MachineID: d.MachineID,
		PlantID:   d.PlantID,
		AlertID:   d.AlertID,
		StartTime: d.StartTime,
		Cause:     d.Cause,
		Status:    monitor.DowntimeOngoing,
		CreatedAt: d.StartTime,
		UpdatedAt: d.StartTime,
	}
	s.downtime[ev.ID] = ev
	return ev, true, nil
}

func (s *Store) GetDowntime(ctx context.Context, eventID string) (monitor.DowntimeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.downtime[eventID]
	if !ok {
		return monitor.DowntimeEvent{}, notFound("downtime event", eventID)
	}
	return ev, nil
}

func (s *Store) ListDowntime(ctx context.Context, plantID string, status monitor.DowntimeStatus) ([]monitor.DowntimeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []monitor.DowntimeEvent{}
	for _, ev := range s.downtime {
		if ev.PlantID == plantID && (status == "" || ev.Status == status) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] > s.order[out[j].ID] })
	return out, nil
}

func (s *Store) CloseDowntime(ctx context.Context, eventID string, fn func(monitor.DowntimeEvent) (monitor.DowntimeEvent, error)) (monitor.DowntimeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.downtime[eventID]
	if !ok {
		return monitor.DowntimeEvent{}, notFound("downtime event", eventID)
	}
	next, err := fn(ev)
	if err != nil {
		return monitor.DowntimeEvent{}, err
	}
	s.downtime[eventID] = next
	return next, nil
}

// ClaimSchemeTrigger serialises claims on one event with a per-event lock.
// The store lock is released while fn runs, so a slow matcher only holds up
// other claims on the same event.
func (s *Store) ClaimSchemeTrigger(ctx context.Context, eventID string, fn func(monitor.DowntimeEvent) (float64, bool, error)) (bool, error) {
	s.mu.Lock()
	ev, ok := s.downtime[eventID]
	if !ok {
		s.mu.Unlock()
		return false, notFound("downtime event", eventID)
	}
	claim, ok := s.claims[eventID]
	if !ok {
		claim = &sync.Mutex{}
		s.claims[eventID] = claim
	}
	s.mu.Unlock()

	claim.Lock()
	defer claim.Unlock()

	s.mu.Lock()
	ev = s.downtime[eventID]
	s.mu.Unlock()
	if ev.SchemeTriggered {
		return false, nil
	}
	total, fire, err := fn(ev)
	if err != nil || !fire {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ev = s.downtime[eventID]
	ev.SchemeTriggered = true
	ev.TotalLoss = &total
	s.downtime[eventID] = ev
	return true, nil
}

func (s *Store) AppendEvent(ctx context.Context, evt monitor.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

// Events returns the appended event log in order.
func (s *Store) Events() []monitor.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]monitor.Event(nil), s.events...)
}
