package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"plantwatch-backend/internal/monitor"
)

const alertColumns = `id, plant_id, machine_id, severity, title, description, status, sensor_type, source, value, production_impact, confidence, created_at, updated_at, resolved_at`

func scanAlert(row scanner, extra ...any) (monitor.Alert, error) {
	var a monitor.Alert
	var severity, status, source string
	dest := []any{&a.ID, &a.PlantID, &a.MachineID, &severity, &a.Title, &a.Description, &status, &a.SensorType, &source, &a.Value, &a.ProductionImpact, &a.Confidence, &a.CreatedAt, &a.UpdatedAt, &a.ResolvedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return monitor.Alert{}, err
	}
	a.Severity = monitor.AlertSeverity(severity)
	a.Status = monitor.AlertStatus(status)
	a.Source = monitor.Source(source)
	return a, nil
}

// UpsertActiveAlert relies on the partial unique index over active alerts.
// A conflicting insert updates the existing row in place and leaves its
// timestamps alone; xmax is zero only for a freshly inserted row.
func (r *Repository) UpsertActiveAlert(ctx context.Context, d monitor.AlertDraft) (monitor.Alert, bool, error) {
	if err := checkID("machine", d.Key.MachineID); err != nil {
		return monitor.Alert{}, false, err
	}
	row := r.Store.Pool.QueryRow(ctx, `
		INSERT INTO alerts (id, plant_id, machine_id, severity, title, description, status, sensor_type, source, value, production_impact, confidence, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,'active',$7,$8,$9,$10,$11,$12,$12)
		ON CONFLICT (machine_id, sensor_type, source) WHERE status = 'active'
		DO UPDATE SET
			severity=EXCLUDED.severity,
			title=EXCLUDED.title,
			description=EXCLUDED.description,
			value=EXCLUDED.value,
			production_impact=EXCLUDED.production_impact,
			confidence=EXCLUDED.confidence
		RETURNING `+alertColumns+`, (xmax = 0) AS inserted`,
		uuid.NewString(), d.PlantID, d.Key.MachineID, string(d.Severity), d.Title, d.Description,
		d.Key.SensorType, string(d.Key.Source), d.Value, d.ProductionImpact, d.Confidence, d.At,
	)
	var inserted bool
	a, err := scanAlert(row, &inserted)
	if err != nil {
		return monitor.Alert{}, false, mapErr("alert", d.Key.String(), err)
	}
	return a, inserted, nil
}

func (r *Repository) GetAlert(ctx context.Context, alertID string) (monitor.Alert, error) {
	if err := checkID("alert", alertID); err != nil {
		return monitor.Alert{}, err
	}
	row := r.Store.Pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=$1`, alertID)
	a, err := scanAlert(row)
	if err != nil {
		return monitor.Alert{}, mapErr("alert", alertID, err)
	}
	return a, nil
}

func (r *Repository) FindActiveAlert(ctx context.Context, key monitor.SensorKey) (monitor.Alert, error) {
	if err := checkID("machine", key.MachineID); err != nil {
		return monitor.Alert{}, err
	}
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE machine_id=$1 AND sensor_type=$2 AND source=$3 AND status='active'`,
		key.MachineID, key.SensorType, string(key.Source))
	a, err := scanAlert(row)
	if err != nil {
		return monitor.Alert{}, mapErr("active alert", key.String(), err)
	}
	return a, nil
}

func (r *Repository) ListAlerts(ctx context.Context, plantID string, status monitor.AlertStatus) ([]monitor.Alert, error) {
	if err := checkID("plant", plantID); err != nil {
		return nil, err
	}
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE plant_id=$1`
	args := []any{plantID}
	if status != "" {
		query += " AND status=$2"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC"
	rows, err := r.Store.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []monitor.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// TransitionAlert applies fn to the row under FOR UPDATE so concurrent
// lifecycle calls on one alert serialise.
func (r *Repository) TransitionAlert(ctx context.Context, alertID string, fn func(monitor.Alert) (monitor.Alert, error)) (monitor.Alert, error) {
	if err := checkID("alert", alertID); err != nil {
		return monitor.Alert{}, err
	}
	var out monitor.Alert
	err := r.Store.withTx(ctx, func(tx pgx.Tx) error {
		current, err := scanAlert(tx.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=$1 FOR UPDATE`, alertID))
		if err != nil {
			return mapErr("alert", alertID, err)
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		out, err = scanAlert(tx.QueryRow(ctx, `
			UPDATE alerts SET status=$1, updated_at=$2, resolved_at=$3
			WHERE id=$4
			RETURNING `+alertColumns,
			string(next.Status), next.UpdatedAt, next.ResolvedAt, alertID,
		))
		if err != nil {
			return mapErr("alert", alertID, err)
		}
		return nil
	})
	if err != nil {
		return monitor.Alert{}, err
	}
	return out, nil
}
