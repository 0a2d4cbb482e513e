package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"plantwatch-backend/internal/monitor"
)

const downtimeColumns = `id, machine_id, plant_id, alert_id, start_time, end_time, duration_hours, repair_cost, cause, description, status, total_loss, scheme_triggered, created_at, updated_at`

func scanDowntime(row scanner) (monitor.DowntimeEvent, error) {
	var ev monitor.DowntimeEvent
	var status string
	if err := row.Scan(&ev.ID, &ev.MachineID, &ev.PlantID, &ev.AlertID, &ev.StartTime, &ev.EndTime, &ev.DurationHours, &ev.RepairCost, &ev.Cause, &ev.Description, &status, &ev.TotalLoss, &ev.SchemeTriggered, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
		return monitor.DowntimeEvent{}, err
	}
	ev.Status = monitor.DowntimeStatus(status)
	return ev, nil
}

const openDowntimeAttempts = 3

// OpenDowntime inserts an ongoing event unless the partial unique index
// already holds one for the machine, in which case that event is returned.
// The existing event can close between the insert and the read, so the pair
// is retried a few times.
func (r *Repository) OpenDowntime(ctx context.Context, d monitor.DowntimeDraft) (monitor.DowntimeEvent, bool, error) {
	if err := checkID("machine", d.MachineID); err != nil {
		return monitor.DowntimeEvent{}, false, err
	}
	for attempt := 0; attempt < openDowntimeAttempts; attempt++ {
		row := r.Store.Pool.QueryRow(ctx, `
			INSERT INTO downtime_events (id, machine_id, plant_id, alert_id, start_time, cause, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,'ongoing',$5,$5)
			ON CONFLICT (machine_id) WHERE status = 'ongoing' DO NOTHING
			RETURNING `+downtimeColumns,
			uuid.NewString(), d.MachineID, d.PlantID, d.AlertID, d.StartTime, d.Cause,
		)
		ev, err := scanDowntime(row)
		if err == nil {
			return ev, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return monitor.DowntimeEvent{}, false, mapErr("downtime for machine", d.MachineID, err)
		}
		existing, err := scanDowntime(r.Store.Pool.QueryRow(ctx, `
			SELECT `+downtimeColumns+` FROM downtime_events
			WHERE machine_id=$1 AND status='ongoing'`, d.MachineID))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return monitor.DowntimeEvent{}, false, mapErr("downtime for machine", d.MachineID, err)
		}
	}
	return monitor.DowntimeEvent{}, false, mapErr("downtime for machine", d.MachineID, errors.New("ongoing event kept changing"))
}

func (r *Repository) GetDowntime(ctx context.Context, eventID string) (monitor.DowntimeEvent, error) {
	if err := checkID("downtime event", eventID); err != nil {
		return monitor.DowntimeEvent{}, err
	}
	ev, err := scanDowntime(r.Store.Pool.QueryRow(ctx, `SELECT `+downtimeColumns+` FROM downtime_events WHERE id=$1`, eventID))
	if err != nil {
		return monitor.DowntimeEvent{}, mapErr("downtime event", eventID, err)
	}
	return ev, nil
}

func (r *Repository) ListDowntime(ctx context.Context, plantID string, status monitor.DowntimeStatus) ([]monitor.DowntimeEvent, error) {
	if err := checkID("plant", plantID); err != nil {
		return nil, err
	}
	query := `SELECT ` + downtimeColumns + ` FROM downtime_events WHERE plant_id=$1`
	args := []any{plantID}
	if status != "" {
		query += " AND status=$2"
		args = append(args, string(status))
	}
	query += " ORDER BY start_time DESC"
	rows, err := r.Store.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []monitor.DowntimeEvent{}
	for rows.Next() {
		ev, err := scanDowntime(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, ev)
	}
	return results, rows.Err()
}

func (r *Repository) lockDowntime(ctx context.Context, tx pgx.Tx, eventID string) (monitor.DowntimeEvent, error) {
	ev, err := scanDowntime(tx.QueryRow(ctx, `SELECT `+downtimeColumns+` FROM downtime_events WHERE id=$1 FOR UPDATE`, eventID))
	if err != nil {
		return monitor.DowntimeEvent{}, mapErr("downtime event", eventID, err)
	}
	return ev, nil
}

// CloseDowntime locks the event so two repair submissions cannot both see it
// ongoing.
func (r *Repository) CloseDowntime(ctx context.Context, eventID string, fn func(monitor.DowntimeEvent) (monitor.DowntimeEvent, error)) (monitor.DowntimeEvent, error) {
	if err := checkID("downtime event", eventID); err != nil {
		return monitor.DowntimeEvent{}, err
	}
	var out monitor.DowntimeEvent
	err := r.Store.withTx(ctx, func(tx pgx.Tx) error {
		current, err := r.lockDowntime(ctx, tx, eventID)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		out, err = scanDowntime(tx.QueryRow(ctx, `
			UPDATE downtime_events
			SET end_time=$1, duration_hours=$2, repair_cost=$3, cause=$4, description=$5, status=$6, updated_at=$7
			WHERE id=$8
			RETURNING `+downtimeColumns,
			next.EndTime, next.DurationHours, next.RepairCost, next.Cause, next.Description, string(next.Status), next.UpdatedAt, eventID,
		))
		if err != nil {
			return mapErr("downtime event", eventID, err)
		}
		return nil
	})
	if err != nil {
		return monitor.DowntimeEvent{}, err
	}
	return out, nil
}

// ClaimSchemeTrigger holds the row lock across fn, which includes the scheme
// matcher call, so the flag can only be set by one caller. Any error or a
// fire=false result rolls the transaction back and leaves the flag unset.
func (r *Repository) ClaimSchemeTrigger(ctx context.Context, eventID string, fn func(monitor.DowntimeEvent) (float64, bool, error)) (bool, error) {
	if err := checkID("downtime event", eventID); err != nil {
		return false, err
	}
	fired := false
	err := r.Store.withTx(ctx, func(tx pgx.Tx) error {
		current, err := r.lockDowntime(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if current.SchemeTriggered {
			return nil
		}
		total, fire, err := fn(current)
		if err != nil || !fire {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE downtime_events SET scheme_triggered=true, total_loss=$1, updated_at=now()
			WHERE id=$2 AND scheme_triggered=false`, total, eventID); err != nil {
			return mapErr("downtime event", eventID, err)
		}
		fired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return fired, nil
}
