package historian

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"plantwatch-backend/internal/monitor"
)

// ErrNotConfigured is returned by a nil Puller. It unwraps to
// monitor.ErrValidation so callers report it as a bad request.
var ErrNotConfigured = &monitor.ValidationError{
	Message: "historian is not configured",
	Details: []monitor.ErrorDetail{{Field: "historian", Problem: "not configured", Hint: "set HISTORIAN_TYPE and HISTORIAN_MAPPING_PATH"}},
}

// Ingester is the slice of the engine a pull feeds.
type Ingester interface {
	IngestFrom(ctx context.Context, machineID string, source monitor.Source, readings []monitor.ReadingInput) (monitor.IngestResult, error)
}

// Puller reads the newest mapped row for a machine from the historian and
// pushes it through the ingest pipeline tagged as historian data.
type Puller struct {
	db       *sql.DB
	dialect  Dialect
	mapping  Mapping
	ingester Ingester
	log      *zap.Logger
}

func NewPuller(db *sql.DB, dialect Dialect, mapping Mapping, ingester Ingester, logger *zap.Logger) *Puller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Puller{db: db, dialect: dialect, mapping: mapping, ingester: ingester, log: logger}
}

func (p *Puller) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Puller) Pull(ctx context.Context, machineID string) (monitor.IngestResult, error) {
	if p == nil {
		return monitor.IngestResult{}, ErrNotConfigured
	}
	tm, ok := p.mapping[machineID]
	if !ok {
		return monitor.IngestResult{}, &monitor.ValidationError{
			Message: "machine has no historian mapping",
			Details: []monitor.ErrorDetail{{Field: "machine_id", Problem: "not mapped", Hint: "add the machine to the historian mapping file"}},
		}
	}
	readings, err := p.latest(ctx, machineID, tm)
	if err != nil {
		return monitor.IngestResult{}, err
	}
	p.log.Debug("historian row read",
		zap.String("machine_id", machineID),
		zap.String("table", tm.Table),
		zap.Int("readings", len(readings)),
	)
	return p.ingester.IngestFrom(ctx, machineID, monitor.SourceHistorian, readings)
}

func (p *Puller) latest(ctx context.Context, machineID string, tm TableMapping) ([]monitor.ReadingInput, error) {
	query, err := p.dialect.LatestRow(tm.Table, tm.TimestampColumn, tm.columns(), tm.KeyColumn)
	if err != nil {
		return nil, err
	}
	var args []any
	if tm.KeyColumn != "" {
		args = append(args, tm.KeyValue)
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s historian: %w", p.dialect.Name(), err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate %s historian: %w", p.dialect.Name(), err)
		}
		return nil, fmt.Errorf("historian rows for machine %s: %w", machineID, monitor.ErrNotFound)
	}
	values := make([]any, len(tm.Sensors)+1)
	for i := range values {
		var v any
		values[i] = &v
	}
	if err := rows.Scan(values...); err != nil {
		return nil, fmt.Errorf("scan %s historian row: %w", p.dialect.Name(), err)
	}

	var at *time.Time
	if ts, ok := toTime(*(values[0].(*any))); ok {
		ts = ts.UTC()
		at = &ts
	}
	readings := make([]monitor.ReadingInput, 0, len(tm.Sensors))
	for i, s := range tm.Sensors {
		raw := *(values[i+1].(*any))
		if raw == nil {
			continue
		}
		f, ok := toFloat(raw)
		if !ok {
			p.log.Warn("historian value is not numeric",
				zap.String("machine_id", machineID),
				zap.String("column", s.Column),
			)
			continue
		}
		readings = append(readings, monitor.ReadingInput{SensorType: s.SensorType, Value: &f, Unit: s.Unit, Timestamp: at})
	}
	if len(readings) == 0 {
		return nil, fmt.Errorf("historian row for machine %s has no numeric values: %w", machineID, monitor.ErrNotFound)
	}
	return readings, nil
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case int:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(string(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	default:
		return time.Time{}, false
	}
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
