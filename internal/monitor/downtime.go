package monitor

import (
	"context"
	"fmt"
	"math"
	"time"
)

// RepairInput is an operator's repair submission for a downtime event.
type RepairInput struct {
	RepairCost  *float64 `json:"repair_cost"`
	Description string   `json:"description"`
	Cause       string   `json:"cause"`
	// EstimatedHours is a planning figure only; the persisted duration is
	// always the elapsed time.
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
}

func (in RepairInput) validate() error {
	var details []ErrorDetail
	switch {
	case in.RepairCost == nil:
		details = append(details, ErrorDetail{Field: "repair_cost", Problem: "required", Hint: "Provide the repair or replacement cost"})
	case math.IsNaN(*in.RepairCost) || math.IsInf(*in.RepairCost, 0) || *in.RepairCost < 0:
		details = append(details, ErrorDetail{Field: "repair_cost", Problem: "invalid", Hint: "Must be a non-negative amount"})
	}
	if in.EstimatedHours != nil && (*in.EstimatedHours < 0 || math.IsNaN(*in.EstimatedHours)) {
		details = append(details, ErrorDetail{Field: "estimated_hours", Problem: "invalid", Hint: "Must be a non-negative number of hours"})
	}
	if len(details) > 0 {
		return invalid("invalid repair submission", details...)
	}
	return nil
}

// DowntimeLedger opens and closes downtime events.
type DowntimeLedger struct {
	store Store
}

func NewDowntimeLedger(store Store) *DowntimeLedger {
	return &DowntimeLedger{store: store}
}

// OnCriticalTransition opens a downtime event for a machine that just went
// Down. If one is already ongoing it is returned unchanged with opened=false.
func (d *DowntimeLedger) OnCriticalTransition(ctx context.Context, machine Machine, cause *Alert, at time.Time) (DowntimeEvent, bool, error) {
	draft := DowntimeDraft{
		MachineID: machine.ID,
		PlantID:   machine.PlantID,
		StartTime: at,
	}
	if cause != nil {
		id := cause.ID
		draft.AlertID = &id
		draft.Cause = cause.Title
	}
	event, opened, err := d.store.OpenDowntime(ctx, draft)
	if err != nil {
		return DowntimeEvent{}, false, fmt.Errorf("open downtime for machine %s: %w", machine.ID, err)
	}
	return event, opened, nil
}

// OnRepairLogged closes an ongoing event with the submitted repair cost.
// Closing an already resolved event is a conflict.
func (d *DowntimeLedger) OnRepairLogged(ctx context.Context, eventID string, in RepairInput, at time.Time) (DowntimeEvent, error) {
	if err := in.validate(); err != nil {
		return DowntimeEvent{}, err
	}
	return d.store.CloseDowntime(ctx, eventID, func(ev DowntimeEvent) (DowntimeEvent, error) {
		if ev.Status == DowntimeResolved {
			return DowntimeEvent{}, fmt.Errorf("downtime event %s already resolved: %w", ev.ID, ErrConflict)
		}
		hours := ElapsedHours(ev.StartTime, at)
		cost := *in.RepairCost
		end := at
		ev.EndTime = &end
		ev.DurationHours = &hours
		ev.RepairCost = &cost
		ev.Status = DowntimeResolved
		ev.UpdatedAt = at
		if in.Cause != "" {
			ev.Cause = in.Cause
		}
		if in.Description != "" {
			ev.Description = in.Description
		}
		return ev, nil
	})
}

// ElapsedHours is the duration between start and end in hours, rounded to two
// decimals and never negative.
func ElapsedHours(start, end time.Time) float64 {
	h := end.Sub(start).Hours()
	if h < 0 {
		return 0
	}
	return math.Round(h*100) / 100
}
