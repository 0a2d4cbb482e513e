package monitor

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
)

type RepairResult struct {
	Event           DowntimeEvent `json:"event"`
	CostAnalysis    CostAnalysis  `json:"cost_analysis"`
	SchemeTriggered bool          `json:"scheme_triggered"`
	SchemeResult    *SchemeResult `json:"scheme_result"`
	PlantHealth     int           `json:"plant_health"`
	PlantStatus     PlantStatus   `json:"plant_status"`
}

// SubmitRepair closes an ongoing downtime event, returns the machine to
// Active and runs the cost trigger. A scheme matcher failure is logged and
// leaves the one-shot flag unset; the repair itself still succeeds.
func (e *Engine) SubmitRepair(ctx context.Context, eventID string, in RepairInput) (RepairResult, error) {
	if err := requireID("event_id", eventID); err != nil {
		return RepairResult{}, err
	}
	now := e.now()
	ev, err := e.downtime.OnRepairLogged(ctx, eventID, in, now)
	if err != nil {
		return RepairResult{}, err
	}
	e.emit(ctx, Event{Type: EventDowntimeClosed, PlantID: ev.PlantID, MachineID: ev.MachineID, At: now, Payload: ev})

	m, err := e.store.GetMachine(ctx, ev.MachineID)
	if err != nil {
		return RepairResult{}, fmt.Errorf("load machine %s: %w", ev.MachineID, err)
	}
	if err := e.store.SetMachineStatus(ctx, m.ID, MachineActive); err != nil {
		return RepairResult{}, fmt.Errorf("reactivate machine %s: %w", m.ID, err)
	}
	if m.Status != MachineActive {
		e.emit(ctx, Event{Type: EventMachineStatus, PlantID: m.PlantID, MachineID: m.ID, At: now, Payload: statusChange{From: m.Status, To: MachineActive}})
	}
	ph, err := e.recomputeHealth(ctx, m.PlantID, now)
	if err != nil {
		return RepairResult{}, err
	}

	res := RepairResult{
		Event:        ev,
		CostAnalysis: AnalyzeCost(ev, m.HourlyDowntimeCost, e.cost.Threshold(), now),
		PlantHealth:  ph.Health,
		PlantStatus:  ph.Status,
	}
	if !res.CostAnalysis.ThresholdBreached {
		return res, nil
	}
	scheme, err := e.cost.TriggerIfNeeded(ctx, ev.ID, now)
	if err != nil {
		e.log.Warn("scheme trigger failed",
			zap.String("event_id", ev.ID),
			zap.String("machine_id", ev.MachineID),
			zap.Float64("total_loss", res.CostAnalysis.TotalLoss),
			zap.Error(err),
		)
		return res, nil
	}
	if scheme != nil {
		res.SchemeTriggered = true
		res.SchemeResult = scheme
		res.CostAnalysis.SchemeTriggered = true
		total := scheme.TotalLoss
		res.Event.SchemeTriggered = true
		res.Event.TotalLoss = &total
		e.emit(ctx, Event{Type: EventSchemeTriggered, PlantID: ev.PlantID, MachineID: ev.MachineID, At: now, Payload: scheme})
		e.log.Info("scheme matcher triggered",
			zap.String("event_id", ev.ID),
			zap.Float64("total_loss", scheme.TotalLoss),
			zap.Int("schemes", len(scheme.Schemes)),
		)
	}
	return res, nil
}

// TriggerSchemes runs the one-shot cost trigger for an already resolved event.
// It returns nil when the event is below threshold or has already fired.
func (e *Engine) TriggerSchemes(ctx context.Context, eventID string) (*SchemeResult, error) {
	if err := requireID("event_id", eventID); err != nil {
		return nil, err
	}
	if _, err := e.store.GetDowntime(ctx, eventID); err != nil {
		return nil, err
	}
	return e.cost.TriggerIfNeeded(ctx, eventID, e.now())
}

type AlertUpdate struct {
	Alert       Alert       `json:"alert"`
	PlantHealth int         `json:"plant_health"`
	PlantStatus PlantStatus `json:"plant_status"`
}

func (e *Engine) AcknowledgeAlert(ctx context.Context, alertID string) (AlertUpdate, error) {
	return e.transitionAlert(ctx, alertID, AlertAcknowledged)
}

func (e *Engine) ResolveAlert(ctx context.Context, alertID string) (AlertUpdate, error) {
	return e.transitionAlert(ctx, alertID, AlertResolved)
}

func (e *Engine) DismissAlert(ctx context.Context, alertID string) (AlertUpdate, error) {
	return e.transitionAlert(ctx, alertID, AlertDismissed)
}

func (e *Engine) transitionAlert(ctx context.Context, alertID string, to AlertStatus) (AlertUpdate, error) {
	if err := requireID("alert_id", alertID); err != nil {
		return AlertUpdate{}, err
	}
	now := e.now()
	alert, err := e.alerts.Transition(ctx, alertID, to, now)
	if err != nil {
		return AlertUpdate{}, err
	}
	machineID := ""
	if alert.MachineID != nil {
		machineID = *alert.MachineID
	}
	e.emit(ctx, Event{Type: EventAlertStatus, PlantID: alert.PlantID, MachineID: machineID, At: now, Payload: alert})
	ph, err := e.recomputeHealth(ctx, alert.PlantID, now)
	if err != nil {
		return AlertUpdate{}, err
	}
	return AlertUpdate{Alert: alert, PlantHealth: ph.Health, PlantStatus: ph.Status}, nil
}

type PlantInput struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Industry string `json:"industry"`
	Location string `json:"location"`
}

func (e *Engine) CreatePlant(ctx context.Context, in PlantInput) (Plant, error) {
	if strings.TrimSpace(in.Name) == "" {
		return Plant{}, invalid("plant name is required", ErrorDetail{Field: "name", Problem: "required"})
	}
	now := e.now()
	return e.store.CreatePlant(ctx, Plant{
		ID:            in.ID,
		Name:          strings.TrimSpace(in.Name),
		Industry:      in.Industry,
		Location:      in.Location,
		OverallHealth: 100,
		Status:        PlantStable,
		CreatedAt:     now,
	})
}

type MachineInput struct {
	Name               string         `json:"name"`
	Type               string         `json:"type"`
	Department         string         `json:"department"`
	HourlyDowntimeCost float64        `json:"hourly_downtime_cost"`
	Sensors            []SensorConfig `json:"sensors"`
}

func (in MachineInput) validate() error {
	var details []ErrorDetail
	if strings.TrimSpace(in.Name) == "" {
		details = append(details, ErrorDetail{Field: "name", Problem: "required"})
	}
	if in.HourlyDowntimeCost < 0 || math.IsNaN(in.HourlyDowntimeCost) || math.IsInf(in.HourlyDowntimeCost, 0) {
		details = append(details, ErrorDetail{Field: "hourly_downtime_cost", Problem: "invalid", Hint: "Must be a non-negative amount"})
	}
	seen := map[string]bool{}
	for i, s := range in.Sensors {
		field := fmt.Sprintf("sensors[%d]", i)
		name := normalizeSensorType(s.SensorType)
		switch {
		case name == "":
			details = append(details, ErrorDetail{Field: field + ".sensor_type", Problem: "required"})
		case seen[name]:
			details = append(details, ErrorDetail{Field: field + ".sensor_type", Problem: "duplicate", Hint: name})
		}
		seen[name] = true
		if s.NormalMax < s.NormalMin {
			details = append(details, ErrorDetail{Field: field + ".normal_max", Problem: "invalid", Hint: "Must not be below normal_min"})
		}
	}
	if len(details) > 0 {
		return invalid("invalid machine", details...)
	}
	return nil
}

// RegisterMachine adds a machine to a plant. New machines start Idle.
func (e *Engine) RegisterMachine(ctx context.Context, plantID string, in MachineInput) (Machine, error) {
	if err := requireID("plant_id", plantID); err != nil {
		return Machine{}, err
	}
	if err := in.validate(); err != nil {
		return Machine{}, err
	}
	if _, err := e.store.GetPlant(ctx, plantID); err != nil {
		return Machine{}, err
	}
	sensors := make([]SensorConfig, 0, len(in.Sensors))
	for _, s := range in.Sensors {
		s.SensorType = normalizeSensorType(s.SensorType)
		sensors = append(sensors, s)
	}
	now := e.now()
	m, err := e.store.CreateMachine(ctx, Machine{
		PlantID:            plantID,
		Name:               strings.TrimSpace(in.Name),
		Type:               in.Type,
		Department:         in.Department,
		Status:             MachineIdle,
		HourlyDowntimeCost: in.HourlyDowntimeCost,
		Sensors:            sensors,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		return Machine{}, err
	}
	e.log.Info("machine registered", zap.String("machine_id", m.ID), zap.String("plant_id", plantID))
	return m, nil
}

// SetMachineStatus is the operator override; it is the only way into Idle or
// Maintenance after registration.
func (e *Engine) SetMachineStatus(ctx context.Context, machineID string, status MachineStatus) (Machine, error) {
	if err := requireID("machine_id", machineID); err != nil {
		return Machine{}, err
	}
	if !status.Valid() {
		return Machine{}, invalid("unknown machine status", ErrorDetail{Field: "status", Problem: "invalid", Hint: "Use Active, Idle, Warning, Down or Maintenance"})
	}
	m, err := e.store.GetMachine(ctx, machineID)
	if err != nil {
		return Machine{}, err
	}
	if err := e.store.SetMachineStatus(ctx, machineID, status); err != nil {
		return Machine{}, fmt.Errorf("set machine %s status: %w", machineID, err)
	}
	now := e.now()
	e.emit(ctx, Event{Type: EventMachineStatus, PlantID: m.PlantID, MachineID: m.ID, At: now, Payload: statusChange{From: m.Status, To: status}})
	if _, err := e.recomputeHealth(ctx, m.PlantID, now); err != nil {
		return Machine{}, err
	}
	m.Status = status
	m.UpdatedAt = now
	return m, nil
}
