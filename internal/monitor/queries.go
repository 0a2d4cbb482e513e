package monitor

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

const maxHistoryHours = 24 * 30

func (e *Engine) GetPlant(ctx context.Context, plantID string) (Plant, error) {
	if err := requireID("plant_id", plantID); err != nil {
		return Plant{}, err
	}
	return e.store.GetPlant(ctx, plantID)
}

func (e *Engine) GetMachine(ctx context.Context, machineID string) (Machine, error) {
	if err := requireID("machine_id", machineID); err != nil {
		return Machine{}, err
	}
	return e.store.GetMachine(ctx, machineID)
}

// ListAlerts returns a plant's alerts, newest first. An empty status lists all.
func (e *Engine) ListAlerts(ctx context.Context, plantID string, status AlertStatus) ([]Alert, error) {
	if err := requireID("plant_id", plantID); err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, invalid("unknown alert status", ErrorDetail{Field: "status", Problem: "invalid", Hint: "Use active, acknowledged, resolved or dismissed"})
	}
	if _, err := e.store.GetPlant(ctx, plantID); err != nil {
		return nil, err
	}
	return e.store.ListAlerts(ctx, plantID, status)
}

func (e *Engine) GetAlert(ctx context.Context, alertID string) (Alert, error) {
	if err := requireID("alert_id", alertID); err != nil {
		return Alert{}, err
	}
	return e.store.GetAlert(ctx, alertID)
}

func (e *Engine) ListDowntime(ctx context.Context, plantID string, status DowntimeStatus) ([]DowntimeEvent, error) {
	if err := requireID("plant_id", plantID); err != nil {
		return nil, err
	}
	if status != "" && status != DowntimeOngoing && status != DowntimeResolved {
		return nil, invalid("unknown downtime status", ErrorDetail{Field: "status", Problem: "invalid", Hint: "Use ongoing or resolved"})
	}
	if _, err := e.store.GetPlant(ctx, plantID); err != nil {
		return nil, err
	}
	return e.store.ListDowntime(ctx, plantID, status)
}

func (e *Engine) GetDowntime(ctx context.Context, eventID string) (DowntimeEvent, error) {
	if err := requireID("event_id", eventID); err != nil {
		return DowntimeEvent{}, err
	}
	return e.store.GetDowntime(ctx, eventID)
}

// CostAnalysis is the read-only cost evaluation of a downtime event.
func (e *Engine) CostAnalysis(ctx context.Context, eventID string) (CostAnalysis, error) {
	if err := requireID("event_id", eventID); err != nil {
		return CostAnalysis{}, err
	}
	return e.cost.Evaluate(ctx, eventID, e.now())
}

// GetLatestReadings returns the newest reading per sensor type. The reading
// log is authoritative; a cached entry only replaces the log's when it is
// strictly newer, so a partial or evicted cache never hides sensors.
func (e *Engine) GetLatestReadings(ctx context.Context, machineID string) ([]SensorReading, error) {
	if err := requireID("machine_id", machineID); err != nil {
		return nil, err
	}
	if _, err := e.store.GetMachine(ctx, machineID); err != nil {
		return nil, err
	}
	readings, err := e.store.LatestReadings(ctx, machineID)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		cached, err := e.cache.Latest(ctx, machineID)
		if err != nil {
			e.log.Warn("read latest from cache failed", zap.String("machine_id", machineID), zap.Error(err))
		} else {
			readings = mergeLatest(readings, cached)
		}
	}
	sortBySensor(readings)
	return readings, nil
}

func mergeLatest(logged, cached []SensorReading) []SensorReading {
	bySensor := make(map[string]int, len(logged))
	out := append([]SensorReading(nil), logged...)
	for i, rd := range out {
		bySensor[rd.SensorType] = i
	}
	for _, rd := range cached {
		i, ok := bySensor[rd.SensorType]
		if !ok {
			bySensor[rd.SensorType] = len(out)
			out = append(out, rd)
			continue
		}
		if rd.Timestamp.After(out[i].Timestamp) {
			out[i] = rd
		}
	}
	return out
}

// GetReadingHistory returns readings of the last windowHours, oldest first.
// An empty sensorType returns every sensor.
func (e *Engine) GetReadingHistory(ctx context.Context, machineID, sensorType string, windowHours int) ([]SensorReading, error) {
	if err := requireID("machine_id", machineID); err != nil {
		return nil, err
	}
	if windowHours <= 0 || windowHours > maxHistoryHours {
		return nil, invalid("invalid history window", ErrorDetail{Field: "hours", Problem: "out_of_range", Hint: "Use 1 to 720 hours"})
	}
	if _, err := e.store.GetMachine(ctx, machineID); err != nil {
		return nil, err
	}
	since := e.now().Add(-time.Duration(windowHours) * time.Hour)
	return e.store.ReadingHistory(ctx, machineID, normalizeSensorType(sensorType), since)
}

func sortBySensor(readings []SensorReading) {
	sort.Slice(readings, func(i, j int) bool { return readings[i].SensorType < readings[j].SensorType })
}

type MachineSummary struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Status MachineStatus `json:"status"`
}

type Diagnostics struct {
	PlantID         string           `json:"plant_id"`
	PlantHealth     int              `json:"plant_health"`
	PlantStatus     PlantStatus      `json:"plant_status"`
	SyncedAt        time.Time        `json:"synced_at"`
	Machines        []MachineSummary `json:"machines"`
	ActiveAlerts    int              `json:"active_alerts"`
	OngoingDowntime int              `json:"ongoing_downtime"`
}

// RunDiagnostics recomputes plant health and reports the current state of
// every machine.
func (e *Engine) RunDiagnostics(ctx context.Context, plantID string) (Diagnostics, error) {
	if err := requireID("plant_id", plantID); err != nil {
		return Diagnostics{}, err
	}
	if _, err := e.store.GetPlant(ctx, plantID); err != nil {
		return Diagnostics{}, err
	}
	ph, err := e.recomputeHealth(ctx, plantID, e.now())
	if err != nil {
		return Diagnostics{}, err
	}
	machines, err := e.store.ListMachines(ctx, plantID)
	if err != nil {
		return Diagnostics{}, err
	}
	alerts, err := e.store.ListAlerts(ctx, plantID, AlertActive)
	if err != nil {
		return Diagnostics{}, err
	}
	downtime, err := e.store.ListDowntime(ctx, plantID, DowntimeOngoing)
	if err != nil {
		return Diagnostics{}, err
	}
	d := Diagnostics{
		PlantID:         plantID,
		PlantHealth:     ph.Health,
		PlantStatus:     ph.Status,
		SyncedAt:        ph.SyncedAt,
		Machines:        make([]MachineSummary, 0, len(machines)),
		ActiveAlerts:    len(alerts),
		OngoingDowntime: len(downtime),
	}
	for _, m := range machines {
		d.Machines = append(d.Machines, MachineSummary{ID: m.ID, Name: m.Name, Status: m.Status})
	}
	return d, nil
}
