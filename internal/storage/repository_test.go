package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantwatch-backend/internal/monitor"
)

func setupTestRepository(t *testing.T) (*Repository, func()) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	store, err := NewStore(context.Background(), dsn)
	require.NoError(t, err, "failed to connect to db")
	schema, err := os.ReadFile("../../migrations/001_init.sql")
	require.NoError(t, err)
	_, err = store.Pool.Exec(context.Background(), string(schema))
	require.NoError(t, err, "failed to apply schema")
	return NewRepository(store), store.Close
}

func seedMachine(t *testing.T, repo *Repository) (monitor.Plant, monitor.Machine) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	plant, err := repo.CreatePlant(ctx, monitor.Plant{Name: "test plant", OverallHealth: 100, Status: monitor.PlantStable, CreatedAt: now})
	require.NoError(t, err)
	machine, err := repo.CreateMachine(ctx, monitor.Machine{
		PlantID:            plant.ID,
		Name:               "press",
		Status:             monitor.MachineIdle,
		HourlyDowntimeCost: 5000,
		Sensors:            []monitor.SensorConfig{{SensorType: "temperature", NormalMin: 20, NormalMax: 75}},
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	require.NoError(t, err)
	return plant, machine
}

func TestUpsertActiveAlertDedupes(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()
	ctx := context.Background()
	plant, machine := seedMachine(t, repo)
	key := monitor.NewSensorKey(machine.ID, "temperature", monitor.SourceLive)
	at := time.Now().UTC().Truncate(time.Microsecond)

	first, created, err := repo.UpsertActiveAlert(ctx, monitor.AlertDraft{Key: key, PlantID: plant.ID, Severity: monitor.SeverityWarning, Title: "warm", Value: 80, At: at})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.UpsertActiveAlert(ctx, monitor.AlertDraft{Key: key, PlantID: plant.ID, Severity: monitor.SeverityCritical, Title: "hot", Value: 95, At: at.Add(time.Minute)})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, monitor.SeverityCritical, second.Severity)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))

	found, err := repo.FindActiveAlert(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	resolved, err := repo.TransitionAlert(ctx, first.ID, func(a monitor.Alert) (monitor.Alert, error) {
		a.Status = monitor.AlertResolved
		now := at.Add(time.Hour)
		a.UpdatedAt, a.ResolvedAt = now, &now
		return a, nil
	})
	require.NoError(t, err)
	assert.Equal(t, monitor.AlertResolved, resolved.Status)

	_, err = repo.FindActiveAlert(ctx, key)
	assert.ErrorIs(t, err, monitor.ErrNotFound)

	third, created, err := repo.UpsertActiveAlert(ctx, monitor.AlertDraft{Key: key, PlantID: plant.ID, Severity: monitor.SeverityWarning, Title: "warm", Value: 80, At: at})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestOpenDowntimeSingleOngoing(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()
	ctx := context.Background()
	plant, machine := seedMachine(t, repo)

	var wg sync.WaitGroup
	var mu sync.Mutex
	opened := 0
	ids := map[string]bool{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev, ok, err := repo.OpenDowntime(ctx, monitor.DowntimeDraft{MachineID: machine.ID, PlantID: plant.ID, StartTime: time.Now().UTC()})
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				opened++
			}
			ids[ev.ID] = true
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, opened)
	assert.Len(t, ids, 1)

	ongoing, err := repo.ListDowntime(ctx, plant.ID, monitor.DowntimeOngoing)
	require.NoError(t, err)
	assert.Len(t, ongoing, 1)
}

func TestClaimSchemeTriggerOnce(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()
	ctx := context.Background()
	plant, machine := seedMachine(t, repo)
	ev, _, err := repo.OpenDowntime(ctx, monitor.DowntimeDraft{MachineID: machine.ID, PlantID: plant.ID, StartTime: time.Now().UTC().Add(-3 * time.Hour)})
	require.NoError(t, err)

	_, err = repo.ClaimSchemeTrigger(ctx, ev.ID, func(monitor.DowntimeEvent) (float64, bool, error) {
		return 0, false, errors.New("matcher down")
	})
	require.Error(t, err)
	stored, err := repo.GetDowntime(ctx, ev.ID)
	require.NoError(t, err)
	assert.False(t, stored.SchemeTriggered)

	var wg sync.WaitGroup
	var mu sync.Mutex
	calls, fired := 0, 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.ClaimSchemeTrigger(ctx, ev.ID, func(monitor.DowntimeEvent) (float64, bool, error) {
				mu.Lock()
				calls++
				mu.Unlock()
				return 55000, true, nil
			})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				fired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, fired)

	stored, err = repo.GetDowntime(ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, stored.SchemeTriggered)
	require.NotNil(t, stored.TotalLoss)
	assert.Equal(t, 55000.0, *stored.TotalLoss)
}

func TestHealthSnapshotCountsOnlyActiveAlerts(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()
	ctx := context.Background()
	plant, machine := seedMachine(t, repo)
	require.NoError(t, repo.SetMachineStatus(ctx, machine.ID, monitor.MachineDown))
	_, _, err := repo.UpsertActiveAlert(ctx, monitor.AlertDraft{
		Key: monitor.NewSensorKey(machine.ID, "vibration", monitor.SourceLive), PlantID: plant.ID,
		Severity: monitor.SeverityCritical, Title: "shaking", At: time.Now().UTC(),
	})
	require.NoError(t, err)

	snap, err := repo.HealthSnapshot(ctx, plant.ID)
	require.NoError(t, err)
	assert.Equal(t, []monitor.MachineStatus{monitor.MachineDown}, snap.MachineStatuses)
	assert.Equal(t, []monitor.AlertSeverity{monitor.SeverityCritical}, snap.ActiveAlertSeverities)
}

func TestSnapshotTxOptions(t *testing.T) {
	assert.Equal(t, pgx.RepeatableRead, snapshotTxOptions.IsoLevel)
	assert.Equal(t, pgx.ReadOnly, snapshotTxOptions.AccessMode)
}

func TestSnapshotTxIsRepeatableRead(t *testing.T) {
	repo, cleanup := setupTestRepository(t)
	defer cleanup()
	ctx := context.Background()
	var level, readOnly string
	err := repo.Store.withTxOptions(ctx, snapshotTxOptions, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SHOW transaction_isolation`).Scan(&level); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `SHOW transaction_read_only`).Scan(&readOnly)
	})
	require.NoError(t, err)
	assert.Equal(t, "repeatable read", level)
	assert.Equal(t, "on", readOnly)
}

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr("alert", "a1", nil))
	assert.ErrorIs(t, mapErr("alert", "a1", pgx.ErrNoRows), monitor.ErrNotFound)
	dup := &pgconn.PgError{Code: uniqueViolation, ConstraintName: "alerts_active_key_idx"}
	err := mapErr("alert", "a1", fmt.Errorf("exec: %w", dup))
	assert.ErrorIs(t, err, monitor.ErrConflict)
	assert.Contains(t, err.Error(), "alerts_active_key_idx")
	other := errors.New("connection reset")
	assert.ErrorIs(t, mapErr("alert", "a1", other), other)
}

func TestCheckID(t *testing.T) {
	assert.ErrorIs(t, checkID("machine", "not-a-uuid"), monitor.ErrNotFound)
	assert.NoError(t, checkID("machine", "5f0c6a52-6a43-4c3e-9a59-2f1d7f3c9b10"))
}
