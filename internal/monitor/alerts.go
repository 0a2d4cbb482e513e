package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AlertLedger keeps at most one active alert per sensor key.
type AlertLedger struct {
	store Store
}

func NewAlertLedger(store Store) *AlertLedger {
	return &AlertLedger{store: store}
}

// RecordAnomaly creates the active alert for key or refreshes the existing one
// in place. The bool reports whether a new alert was created.
func (l *AlertLedger) RecordAnomaly(ctx context.Context, machine Machine, key SensorKey, class Classification, value float64, t Threshold, at time.Time) (Alert, bool, error) {
	if !class.IsAnomaly() {
		return Alert{}, false, fmt.Errorf("record anomaly for %s: %w", key, invalid("classification is not an anomaly", ErrorDetail{Field: "severity", Problem: string(class), Hint: "only Warning and Critical raise alerts"}))
	}
	impact, confidence := Estimate(t, value)
	draft := AlertDraft{
		Key:              key,
		PlantID:          machine.PlantID,
		Severity:         severityFor(class),
		Title:            alertTitle(machine, key.SensorType, class),
		Description:      alertDescription(machine, key.SensorType, class, value, t, impact),
		Value:            value,
		ProductionImpact: impact,
		Confidence:       confidence,
		At:               at,
	}
	alert, created, err := l.store.UpsertActiveAlert(ctx, draft)
	if err != nil {
		return Alert{}, false, fmt.Errorf("upsert alert %s: %w", key, err)
	}
	return alert, created, nil
}

// Resolve closes the active alert for key, if any. It is used when a reset
// clears the underlying condition.
func (l *AlertLedger) Resolve(ctx context.Context, key SensorKey, at time.Time) (Alert, bool, error) {
	active, err := l.store.FindActiveAlert(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return Alert{}, false, nil
		}
		return Alert{}, false, err
	}
	resolved, err := l.Transition(ctx, active.ID, AlertResolved, at)
	if err != nil {
		return Alert{}, false, err
	}
	return resolved, true, nil
}

// Transition moves an alert along its lifecycle.
func (l *AlertLedger) Transition(ctx context.Context, alertID string, to AlertStatus, at time.Time) (Alert, error) {
	return l.store.TransitionAlert(ctx, alertID, func(a Alert) (Alert, error) {
		if err := checkAlertTransition(a.Status, to); err != nil {
			return Alert{}, err
		}
		a.Status = to
		a.UpdatedAt = at
		if to == AlertResolved || to == AlertDismissed {
			resolvedAt := at
			a.ResolvedAt = &resolvedAt
		}
		return a, nil
	})
}

func checkAlertTransition(from, to AlertStatus) error {
	allowed := false
	switch from {
	case AlertActive:
		allowed = to == AlertAcknowledged || to == AlertResolved || to == AlertDismissed
	case AlertAcknowledged:
		allowed = to == AlertResolved || to == AlertDismissed
	}
	if !allowed {
		return fmt.Errorf("alert is %s, cannot move to %s: %w", from, to, ErrConflict)
	}
	return nil
}

func severityFor(class Classification) AlertSeverity {
	if class == ClassCritical {
		return SeverityCritical
	}
	return SeverityWarning
}

func sensorLabel(sensorType string) string {
	if sensorType == "" {
		return "Sensor"
	}
	return strings.ToUpper(sensorType[:1]) + sensorType[1:]
}

func alertTitle(m Machine, sensorType string, class Classification) string {
	return fmt.Sprintf("%s %s on %s", class, strings.ToLower(sensorLabel(sensorType)), m.Name)
}

func alertDescription(m Machine, sensorType string, class Classification, value float64, t Threshold, impact float64) string {
	_, _, critMin, critMax := t.Bounds()
	unit := ""
	if t.Unit != "" {
		unit = " " + t.Unit
	}
	where := m.Name
	if m.Department != "" {
		where = fmt.Sprintf("%s (%s)", m.Name, m.Department)
	}
	return fmt.Sprintf(
		"%s reading of %.2f%s on %s is outside the normal range %.2f-%.2f%s (critical below %.2f or above %.2f). Severity %s, estimated production impact %.1f%%.",
		sensorLabel(sensorType), value, unit, where, t.NormalMin, t.NormalMax, unit, critMin, critMax, class, impact,
	)
}
