package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"plantwatch-backend/internal/monitor"
)

const readingColumns = `id, machine_id, sensor_type, value, unit, source, ts, is_anomaly, severity, alert_id`

func scanReading(row scanner) (monitor.SensorReading, error) {
	var rd monitor.SensorReading
	var source, severity string
	if err := row.Scan(&rd.ID, &rd.MachineID, &rd.SensorType, &rd.Value, &rd.Unit, &source, &rd.Timestamp, &rd.IsAnomaly, &severity, &rd.AlertID); err != nil {
		return monitor.SensorReading{}, err
	}
	rd.Source = monitor.Source(source)
	rd.Severity = monitor.Classification(severity)
	return rd, nil
}

func (r *Repository) InsertReading(ctx context.Context, rd monitor.SensorReading) (monitor.SensorReading, error) {
	if err := checkID("machine", rd.MachineID); err != nil {
		return monitor.SensorReading{}, err
	}
	if rd.ID == "" {
		rd.ID = uuid.NewString()
	}
	row := r.Store.Pool.QueryRow(ctx, `
		INSERT INTO sensor_readings (id, machine_id, sensor_type, value, unit, source, ts, is_anomaly, severity, alert_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING `+readingColumns,
		rd.ID, rd.MachineID, rd.SensorType, rd.Value, rd.Unit, string(rd.Source), rd.Timestamp, rd.IsAnomaly, string(rd.Severity), rd.AlertID,
	)
	stored, err := scanReading(row)
	if err != nil {
		return monitor.SensorReading{}, mapErr("reading", rd.ID, err)
	}
	return stored, nil
}

// LinkReadingAlert backfills the alert a reading caused. It is the only
// update a reading row ever receives.
func (r *Repository) LinkReadingAlert(ctx context.Context, readingID, alertID string) error {
	tag, err := r.Store.Pool.Exec(ctx, `UPDATE sensor_readings SET alert_id=$1 WHERE id=$2`, alertID, readingID)
	if err != nil {
		return mapErr("reading", readingID, err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("reading", readingID, pgx.ErrNoRows)
	}
	return nil
}

func (r *Repository) LatestReadings(ctx context.Context, machineID string) ([]monitor.SensorReading, error) {
	if err := checkID("machine", machineID); err != nil {
		return nil, err
	}
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT DISTINCT ON (sensor_type) `+readingColumns+`
		FROM sensor_readings
		WHERE machine_id=$1
		ORDER BY sensor_type, ts DESC`, machineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []monitor.SensorReading{}
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rd)
	}
	return results, rows.Err()
}

func (r *Repository) ReadingHistory(ctx context.Context, machineID, sensorType string, since time.Time) ([]monitor.SensorReading, error) {
	if err := checkID("machine", machineID); err != nil {
		return nil, err
	}
	query := `SELECT ` + readingColumns + ` FROM sensor_readings WHERE machine_id=$1 AND ts >= $2`
	args := []any{machineID, since}
	if sensorType != "" {
		query += " AND sensor_type=$3"
		args = append(args, sensorType)
	}
	query += " ORDER BY ts ASC"
	rows, err := r.Store.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []monitor.SensorReading{}
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rd)
	}
	return results, rows.Err()
}
