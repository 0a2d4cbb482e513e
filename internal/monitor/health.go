package monitor

import (
	"context"
	"fmt"
	"time"
)

const (
	penaltyMachineDown        = 15
	penaltyMachineWarning     = 8
	penaltyMachineMaintenance = 3
	penaltyAlertCritical      = 10
	penaltyAlertWarning       = 5

	healthStableFloor  = 80
	healthWarningFloor = 50
)

// ComputeHealth derives the plant score and status from a snapshot. It holds no
// state, so the same snapshot always yields the same result.
func ComputeHealth(s HealthSnapshot) (int, PlantStatus) {
	score := 100
	for _, st := range s.MachineStatuses {
		switch st {
		case MachineDown:
			score -= penaltyMachineDown
		case MachineWarning:
			score -= penaltyMachineWarning
		case MachineMaintenance:
			score -= penaltyMachineMaintenance
		}
	}
	for _, sev := range s.ActiveAlertSeverities {
		switch sev {
		case SeverityCritical:
			score -= penaltyAlertCritical
		case SeverityWarning:
			score -= penaltyAlertWarning
		}
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, PlantStatusFor(score)
}

func PlantStatusFor(score int) PlantStatus {
	switch {
	case score >= healthStableFloor:
		return PlantStable
	case score >= healthWarningFloor:
		return PlantWarning
	default:
		return PlantCritical
	}
}

type PlantHealth struct {
	PlantID  string      `json:"plant_id"`
	Health   int         `json:"health"`
	Status   PlantStatus `json:"status"`
	SyncedAt time.Time   `json:"synced_at"`
}

// HealthAggregator recomputes and persists the cached plant score.
type HealthAggregator struct {
	store Store
}

func NewHealthAggregator(store Store) *HealthAggregator {
	return &HealthAggregator{store: store}
}

func (h *HealthAggregator) Recompute(ctx context.Context, plantID string, at time.Time) (PlantHealth, error) {
	snap, err := h.store.HealthSnapshot(ctx, plantID)
	if err != nil {
		return PlantHealth{}, fmt.Errorf("load health snapshot for plant %s: %w", plantID, err)
	}
	score, status := ComputeHealth(snap)
	if err := h.store.SavePlantHealth(ctx, plantID, score, status, at); err != nil {
		return PlantHealth{}, fmt.Errorf("save plant health %s: %w", plantID, err)
	}
	return PlantHealth{PlantID: plantID, Health: score, Status: status, SyncedAt: at}, nil
}
