package monitor

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

type ReadingInput struct {
	SensorType string     `json:"sensor_type"`
	Value      *float64   `json:"value"`
	Unit       string     `json:"unit,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

type Anomaly struct {
	SensorType   string         `json:"sensor_type"`
	Value        float64        `json:"value"`
	Severity     Classification `json:"severity"`
	AlertID      string         `json:"alert_id"`
	AlertCreated bool           `json:"alert_created"`
}

type IngestResult struct {
	MachineID         string        `json:"machine_id"`
	Stored            int           `json:"stored"`
	Anomalies         []Anomaly     `json:"anomalies"`
	AlertsCreated     int           `json:"alerts_created"`
	DowntimeTriggered bool          `json:"downtime_triggered"`
	DowntimeEventID   *string       `json:"downtime_event_id,omitempty"`
	MachineStatus     MachineStatus `json:"machine_status"`
	PlantHealth       int           `json:"plant_health"`
	PlantStatus       PlantStatus   `json:"plant_status"`
}

const maxBatchSize = 500

func validateReadings(machineID string, source Source, readings []ReadingInput) error {
	if err := requireID("machine_id", machineID); err != nil {
		return err
	}
	if !source.Valid() {
		return invalid("unknown reading source", ErrorDetail{Field: "source", Problem: "invalid", Hint: "Use live, simulated or historian"})
	}
	if len(readings) == 0 {
		return invalid("reading batch is empty", ErrorDetail{Field: "readings", Problem: "required", Hint: "Provide at least one reading"})
	}
	if len(readings) > maxBatchSize {
		return invalid("reading batch is too large", ErrorDetail{Field: "readings", Problem: "too_many", Hint: fmt.Sprintf("At most %d readings per batch", maxBatchSize)})
	}
	var details []ErrorDetail
	for i, r := range readings {
		if normalizeSensorType(r.SensorType) == "" {
			details = append(details, ErrorDetail{Field: fmt.Sprintf("readings[%d].sensor_type", i), Problem: "required"})
		}
		switch {
		case r.Value == nil:
			details = append(details, ErrorDetail{Field: fmt.Sprintf("readings[%d].value", i), Problem: "required"})
		case math.IsNaN(*r.Value) || math.IsInf(*r.Value, 0):
			details = append(details, ErrorDetail{Field: fmt.Sprintf("readings[%d].value", i), Problem: "invalid", Hint: "Must be a finite number"})
		}
	}
	if len(details) > 0 {
		return invalid("invalid readings", details...)
	}
	return nil
}

// Ingest processes a batch of live readings for one machine.
func (e *Engine) Ingest(ctx context.Context, machineID string, readings []ReadingInput) (IngestResult, error) {
	return e.IngestFrom(ctx, machineID, SourceLive, readings)
}

// IngestFrom processes a batch tagged with source. Readings are classified
// and stored in order; the machine status is derived once from the whole batch.
func (e *Engine) IngestFrom(ctx context.Context, machineID string, source Source, readings []ReadingInput) (IngestResult, error) {
	if err := validateReadings(machineID, source, readings); err != nil {
		return IngestResult{}, err
	}
	m, err := e.store.GetMachine(ctx, machineID)
	if err != nil {
		return IngestResult{}, err
	}
	return e.ingestBatch(ctx, m, source, readings, e.now())
}

func (e *Engine) ingestBatch(ctx context.Context, m Machine, source Source, readings []ReadingInput, now time.Time) (IngestResult, error) {
	res := IngestResult{MachineID: m.ID, Anomalies: []Anomaly{}}
	classes := make([]Classification, 0, len(readings))
	stored := make([]SensorReading, 0, len(readings))
	var live LiveReadings
	var cause *Alert

	for _, in := range readings {
		sensorType := normalizeSensorType(in.SensorType)
		value := *in.Value
		class, t := e.classifier.Classify(m.Sensors, sensorType, value)

		ts := now
		if in.Timestamp != nil {
			ts = in.Timestamp.UTC()
		}
		unit := in.Unit
		if unit == "" {
			unit = t.Unit
		}
		rec, err := e.store.InsertReading(ctx, SensorReading{
			MachineID:  m.ID,
			SensorType: sensorType,
			Value:      value,
			Unit:       unit,
			Source:     source,
			Timestamp:  ts,
			IsAnomaly:  class.IsAnomaly(),
			Severity:   class,
		})
		if err != nil {
			return IngestResult{}, fmt.Errorf("store %s reading for machine %s: %w", sensorType, m.ID, err)
		}
		classes = append(classes, class)
		live.set(sensorType, value)

		if class.IsAnomaly() {
			key := NewSensorKey(m.ID, sensorType, source)
			alert, created, err := e.alerts.RecordAnomaly(ctx, m, key, class, value, t, now)
			if err != nil {
				return IngestResult{}, err
			}
			if err := e.store.LinkReadingAlert(ctx, rec.ID, alert.ID); err != nil {
				return IngestResult{}, fmt.Errorf("link reading %s to alert %s: %w", rec.ID, alert.ID, err)
			}
			alertID := alert.ID
			rec.AlertID = &alertID
			if created {
				res.AlertsCreated++
			}
			if class == ClassCritical && cause == nil {
				a := alert
				cause = &a
			}
			res.Anomalies = append(res.Anomalies, Anomaly{
				SensorType:   sensorType,
				Value:        value,
				Severity:     class,
				AlertID:      alert.ID,
				AlertCreated: created,
			})
			evtType := EventAlertUpdated
			if created {
				evtType = EventAlertCreated
			}
			e.emit(ctx, Event{Type: evtType, PlantID: m.PlantID, MachineID: m.ID, At: now, Payload: alert})
		}
		stored = append(stored, rec)
	}
	res.Stored = len(stored)

	status := DeriveStatus(classes)
	if err := e.store.UpdateMachineState(ctx, m.ID, status, live); err != nil {
		return IngestResult{}, fmt.Errorf("update machine %s: %w", m.ID, err)
	}
	res.MachineStatus = status
	if status != m.Status {
		e.emit(ctx, Event{Type: EventMachineStatus, PlantID: m.PlantID, MachineID: m.ID, At: now, Payload: statusChange{From: m.Status, To: status}})
	}

	if status == MachineDown {
		ev, opened, err := e.downtime.OnCriticalTransition(ctx, m, cause, now)
		if err != nil {
			return IngestResult{}, err
		}
		id := ev.ID
		res.DowntimeEventID = &id
		res.DowntimeTriggered = opened
		if opened {
			e.emit(ctx, Event{Type: EventDowntimeOpened, PlantID: m.PlantID, MachineID: m.ID, At: now, Payload: ev})
		}
	}

	if e.cache != nil {
		if err := e.cache.StoreLatest(ctx, m.ID, stored); err != nil {
			e.log.Warn("cache latest readings failed", zap.String("machine_id", m.ID), zap.Error(err))
		}
	}

	ph, err := e.recomputeHealth(ctx, m.PlantID, now)
	if err != nil {
		return IngestResult{}, err
	}
	res.PlantHealth = ph.Health
	res.PlantStatus = ph.Status

	e.log.Debug("readings ingested",
		zap.String("machine_id", m.ID),
		zap.String("source", string(source)),
		zap.Int("stored", res.Stored),
		zap.Int("anomalies", len(res.Anomalies)),
		zap.String("status", string(status)),
	)
	return res, nil
}

type statusChange struct {
	From MachineStatus `json:"from"`
	To   MachineStatus `json:"to"`
}

func (l *LiveReadings) set(sensorType string, value float64) {
	v := value
	switch sensorType {
	case "temperature":
		l.Temperature = &v
	case "vibration":
		l.Vibration = &v
	case "load":
		l.Load = &v
	}
}

// liveSensorTypes are simulated and reset when a machine has no sensor config.
var liveSensorTypes = []string{"temperature", "vibration", "load"}

func machineSensorTypes(m Machine) []string {
	if len(m.Sensors) == 0 {
		return liveSensorTypes
	}
	seen := make(map[string]bool, len(m.Sensors))
	types := make([]string, 0, len(m.Sensors))
	for _, s := range m.Sensors {
		name := normalizeSensorType(s.SensorType)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		types = append(types, name)
	}
	return types
}

// Simulate feeds one synthetic reading per machine sensor through the
// ingestion path. Values are drawn between the lower normal bound and a
// quarter band past the upper critical bound, so all three classes occur.
func (e *Engine) Simulate(ctx context.Context, machineID string) (IngestResult, error) {
	if err := requireID("machine_id", machineID); err != nil {
		return IngestResult{}, err
	}
	m, err := e.store.GetMachine(ctx, machineID)
	if err != nil {
		return IngestResult{}, err
	}
	var readings []ReadingInput
	for _, st := range machineSensorTypes(m) {
		t, ok := e.classifier.Resolve(m.Sensors, st)
		if !ok {
			continue
		}
		warnMin, warnMax, _, critMax := t.Bounds()
		hi := critMax + (critMax-warnMax)*0.25
		v := math.Round((warnMin+e.random()*(hi-warnMin))*100) / 100
		readings = append(readings, ReadingInput{SensorType: st, Value: &v, Unit: t.Unit})
	}
	if len(readings) == 0 {
		return IngestResult{}, invalid("machine has no classifiable sensors", ErrorDetail{Field: "sensors", Problem: "empty"})
	}
	return e.ingestBatch(ctx, m, SourceSimulated, readings, e.now())
}

type ResetResult struct {
	IngestResult
	ResolvedAlerts []string `json:"resolved_alerts"`
}

// Reset writes a normal reading at the middle of the normal band for
// sensorType, or for every machine sensor when sensorType is empty, and
// resolves the active alerts on those sensors. An ongoing downtime event stays
// open until a repair is logged.
func (e *Engine) Reset(ctx context.Context, machineID, sensorType string) (ResetResult, error) {
	if err := requireID("machine_id", machineID); err != nil {
		return ResetResult{}, err
	}
	m, err := e.store.GetMachine(ctx, machineID)
	if err != nil {
		return ResetResult{}, err
	}
	types := machineSensorTypes(m)
	if st := normalizeSensorType(sensorType); st != "" {
		types = []string{st}
	}
	var readings []ReadingInput
	for _, st := range types {
		t, ok := e.classifier.Resolve(m.Sensors, st)
		if !ok {
			if sensorType != "" {
				return ResetResult{}, invalid("no threshold for sensor type", ErrorDetail{Field: "sensor_type", Problem: "unknown", Hint: st})
			}
			continue
		}
		v := math.Round((t.NormalMin+t.NormalMax)/2*100) / 100
		readings = append(readings, ReadingInput{SensorType: st, Value: &v, Unit: t.Unit})
	}
	if len(readings) == 0 {
		return ResetResult{}, invalid("machine has no classifiable sensors", ErrorDetail{Field: "sensors", Problem: "empty"})
	}

	now := e.now()
	resolved := []string{}
	for _, r := range readings {
		for _, src := range []Source{SourceLive, SourceSimulated, SourceHistorian} {
			alert, ok, err := e.alerts.Resolve(ctx, NewSensorKey(m.ID, r.SensorType, src), now)
			if err != nil {
				return ResetResult{}, err
			}
			if ok {
				resolved = append(resolved, alert.ID)
				e.emit(ctx, Event{Type: EventAlertStatus, PlantID: m.PlantID, MachineID: m.ID, At: now, Payload: alert})
			}
		}
	}
	res, err := e.ingestBatch(ctx, m, SourceSimulated, readings, now)
	if err != nil {
		return ResetResult{}, err
	}
	return ResetResult{IngestResult: res, ResolvedAlerts: resolved}, nil
}
