package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"plantwatch-backend/internal/monitor"
)

// Repository is the PostgreSQL implementation of monitor.Store.
type Repository struct {
	Store *Store
}

var _ monitor.Store = (*Repository)(nil)

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

type scanner interface {
	Scan(dest ...any) error
}

const plantColumns = `id, name, industry, location, overall_health, status, synced_at, created_at`

func scanPlant(row scanner) (monitor.Plant, error) {
	var p monitor.Plant
	var status string
	if err := row.Scan(&p.ID, &p.Name, &p.Industry, &p.Location, &p.OverallHealth, &status, &p.SyncedAt, &p.CreatedAt); err != nil {
		return monitor.Plant{}, err
	}
	p.Status = monitor.PlantStatus(status)
	return p, nil
}

func (r *Repository) CreatePlant(ctx context.Context, p monitor.Plant) (monitor.Plant, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	} else if _, err := uuid.Parse(p.ID); err != nil {
		return monitor.Plant{}, fmt.Errorf("plant id %q is not a uuid: %w", p.ID, monitor.ErrValidation)
	}
	row := r.Store.Pool.QueryRow(ctx, `
		INSERT INTO plants (id, name, industry, location, overall_health, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING `+plantColumns,
		p.ID, p.Name, p.Industry, p.Location, p.OverallHealth, string(p.Status), p.CreatedAt,
	)
	created, err := scanPlant(row)
	if err != nil {
		return monitor.Plant{}, mapErr("plant", p.ID, err)
	}
	return created, nil
}

func (r *Repository) GetPlant(ctx context.Context, plantID string) (monitor.Plant, error) {
	if err := checkID("plant", plantID); err != nil {
		return monitor.Plant{}, err
	}
	row := r.Store.Pool.QueryRow(ctx, `SELECT `+plantColumns+` FROM plants WHERE id=$1`, plantID)
	p, err := scanPlant(row)
	if err != nil {
		return monitor.Plant{}, mapErr("plant", plantID, err)
	}
	return p, nil
}

func (r *Repository) SavePlantHealth(ctx context.Context, plantID string, health int, status monitor.PlantStatus, syncedAt time.Time) error {
	if err := checkID("plant", plantID); err != nil {
		return err
	}
	tag, err := r.Store.Pool.Exec(ctx, `UPDATE plants SET overall_health=$1, status=$2, synced_at=$3 WHERE id=$4`,
		health, string(status), syncedAt, plantID)
	if err != nil {
		return mapErr("plant", plantID, err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("plant", plantID, pgx.ErrNoRows)
	}
	return nil
}

// HealthSnapshot reads machine statuses and the severities of active alerts.
// Both queries run in one repeatable read, read-only transaction so they
// see the same snapshot.
func (r *Repository) HealthSnapshot(ctx context.Context, plantID string) (monitor.HealthSnapshot, error) {
	if err := checkID("plant", plantID); err != nil {
		return monitor.HealthSnapshot{}, err
	}
	var snap monitor.HealthSnapshot
	err := r.Store.withTxOptions(ctx, snapshotTxOptions, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM plants WHERE id=$1)`, plantID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return pgx.ErrNoRows
		}
		rows, err := tx.Query(ctx, `SELECT status FROM machines WHERE plant_id=$1`, plantID)
		if err != nil {
			return err
		}
		statuses, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		for _, s := range statuses {
			snap.MachineStatuses = append(snap.MachineStatuses, monitor.MachineStatus(s))
		}
		rows, err = tx.Query(ctx, `SELECT severity FROM alerts WHERE plant_id=$1 AND status='active'`, plantID)
		if err != nil {
			return err
		}
		severities, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		for _, s := range severities {
			snap.ActiveAlertSeverities = append(snap.ActiveAlertSeverities, monitor.AlertSeverity(s))
		}
		return nil
	})
	if err != nil {
		return monitor.HealthSnapshot{}, mapErr("plant", plantID, err)
	}
	return snap, nil
}

const machineColumns = `id, plant_id, name, type, department, status, temperature, vibration, load, hourly_downtime_cost, sensor_config, created_at, updated_at`

func scanMachine(row scanner) (monitor.Machine, error) {
	var m monitor.Machine
	var status string
	var sensors []byte
	if err := row.Scan(&m.ID, &m.PlantID, &m.Name, &m.Type, &m.Department, &status, &m.Temperature, &m.Vibration, &m.Load, &m.HourlyDowntimeCost, &sensors, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return monitor.Machine{}, err
	}
	m.Status = monitor.MachineStatus(status)
	m.Sensors = []monitor.SensorConfig{}
	if len(sensors) > 0 {
		if err := json.Unmarshal(sensors, &m.Sensors); err != nil {
			return monitor.Machine{}, fmt.Errorf("decode sensor_config: %w", err)
		}
	}
	return m, nil
}

func (r *Repository) CreateMachine(ctx context.Context, m monitor.Machine) (monitor.Machine, error) {
	if err := checkID("plant", m.PlantID); err != nil {
		return monitor.Machine{}, err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	sensors := m.Sensors
	if sensors == nil {
		sensors = []monitor.SensorConfig{}
	}
	cfg, err := json.Marshal(sensors)
	if err != nil {
		return monitor.Machine{}, err
	}
	row := r.Store.Pool.QueryRow(ctx, `
		INSERT INTO machines (id, plant_id, name, type, department, status, temperature, vibration, load, hourly_downtime_cost, sensor_config, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING `+machineColumns,
		m.ID, m.PlantID, m.Name, m.Type, m.Department, string(m.Status), m.Temperature, m.Vibration, m.Load, m.HourlyDowntimeCost, cfg, m.CreatedAt, m.UpdatedAt,
	)
	created, err := scanMachine(row)
	if err != nil {
		return monitor.Machine{}, mapErr("machine", m.ID, err)
	}
	return created, nil
}

func (r *Repository) GetMachine(ctx context.Context, machineID string) (monitor.Machine, error) {
	if err := checkID("machine", machineID); err != nil {
		return monitor.Machine{}, err
	}
	row := r.Store.Pool.QueryRow(ctx, `SELECT `+machineColumns+` FROM machines WHERE id=$1`, machineID)
	m, err := scanMachine(row)
	if err != nil {
		return monitor.Machine{}, mapErr("machine", machineID, err)
	}
	return m, nil
}

func (r *Repository) ListMachines(ctx context.Context, plantID string) ([]monitor.Machine, error) {
	if err := checkID("plant", plantID); err != nil {
		return nil, err
	}
	rows, err := r.Store.Pool.Query(ctx, `SELECT `+machineColumns+` FROM machines WHERE plant_id=$1 ORDER BY created_at, name`, plantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []monitor.Machine{}
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// UpdateMachineState writes the batch-derived status. Live scalar columns are
// last-write-wins; a nil reading keeps the stored value.
func (r *Repository) UpdateMachineState(ctx context.Context, machineID string, status monitor.MachineStatus, live monitor.LiveReadings) error {
	if err := checkID("machine", machineID); err != nil {
		return err
	}
	tag, err := r.Store.Pool.Exec(ctx, `
		UPDATE machines
		SET status=$1,
			temperature=COALESCE($2, temperature),
			vibration=COALESCE($3, vibration),
			load=COALESCE($4, load),
			updated_at=now()
		WHERE id=$5`,
		string(status), live.Temperature, live.Vibration, live.Load, machineID,
	)
	if err != nil {
		return mapErr("machine", machineID, err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("machine", machineID, pgx.ErrNoRows)
	}
	return nil
}

func (r *Repository) SetMachineStatus(ctx context.Context, machineID string, status monitor.MachineStatus) error {
	return r.UpdateMachineState(ctx, machineID, status, monitor.LiveReadings{})
}

func (r *Repository) AppendEvent(ctx context.Context, evt monitor.Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return err
	}
	_, err = r.Store.Pool.Exec(ctx, `
		INSERT INTO engine_events (type, plant_id, machine_id, payload, at)
		VALUES ($1,$2,$3,$4,$5)`,
		evt.Type, nullable(evt.PlantID), nullable(evt.MachineID), payload, evt.At,
	)
	return err
}
