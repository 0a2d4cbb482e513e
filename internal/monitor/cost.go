package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCostThreshold is the total loss (INR) at or above which a closed
// downtime event is handed to the scheme matcher.
const DefaultCostThreshold = 50000.0

const DefaultMatchTimeout = 15 * time.Second

type CostAnalysis struct {
	EventID            string  `json:"event_id"`
	MachineID          string  `json:"machine_id"`
	DurationHours      float64 `json:"duration_hours"`
	RepairCost         float64 `json:"repair_cost"`
	HourlyDowntimeCost float64 `json:"hourly_downtime_cost"`
	ProductionLoss     float64 `json:"production_loss"`
	TotalLoss          float64 `json:"total_loss"`
	Threshold          float64 `json:"threshold"`
	ThresholdBreached  bool    `json:"threshold_breached"`
	SchemeTriggered    bool    `json:"scheme_triggered"`
	Ongoing            bool    `json:"ongoing"`
}

type SchemeResult struct {
	Schemes   []Scheme `json:"schemes"`
	Issue     string   `json:"issue"`
	TotalLoss float64  `json:"total_loss"`
}

// AnalyzeCost is the pure loss computation. An ongoing event is costed with
// the hours elapsed until now and no repair cost.
func AnalyzeCost(ev DowntimeEvent, hourlyCost, threshold float64, now time.Time) CostAnalysis {
	hours := ElapsedHours(ev.StartTime, now)
	if ev.DurationHours != nil {
		hours = *ev.DurationHours
	}
	repair := 0.0
	if ev.RepairCost != nil {
		repair = *ev.RepairCost
	}
	production := decimal.NewFromFloat(hours).Mul(decimal.NewFromFloat(hourlyCost)).Round(0)
	total := decimal.NewFromFloat(repair).Add(production)
	return CostAnalysis{
		EventID:            ev.ID,
		MachineID:          ev.MachineID,
		DurationHours:      hours,
		RepairCost:         repair,
		HourlyDowntimeCost: hourlyCost,
		ProductionLoss:     production.InexactFloat64(),
		TotalLoss:          total.InexactFloat64(),
		Threshold:          threshold,
		ThresholdBreached:  total.GreaterThanOrEqual(decimal.NewFromFloat(threshold)),
		SchemeTriggered:    ev.SchemeTriggered,
		Ongoing:            ev.Status == DowntimeOngoing,
	}
}

// CostTrigger fires the scheme matcher at most once per closed downtime event.
type CostTrigger struct {
	store     Store
	matcher   SchemeMatcher
	threshold float64
	timeout   time.Duration
}

func NewCostTrigger(store Store, matcher SchemeMatcher, threshold float64, timeout time.Duration) *CostTrigger {
	if threshold <= 0 {
		threshold = DefaultCostThreshold
	}
	if timeout <= 0 {
		timeout = DefaultMatchTimeout
	}
	return &CostTrigger{store: store, matcher: matcher, threshold: threshold, timeout: timeout}
}

func (c *CostTrigger) Threshold() float64 { return c.threshold }

// Evaluate loads the event and its machine and returns the cost analysis.
// It never mutates state.
func (c *CostTrigger) Evaluate(ctx context.Context, eventID string, now time.Time) (CostAnalysis, error) {
	ev, err := c.store.GetDowntime(ctx, eventID)
	if err != nil {
		return CostAnalysis{}, err
	}
	m, err := c.store.GetMachine(ctx, ev.MachineID)
	if err != nil {
		return CostAnalysis{}, fmt.Errorf("load machine %s: %w", ev.MachineID, err)
	}
	return AnalyzeCost(ev, m.HourlyDowntimeCost, c.threshold, now), nil
}

// TriggerIfNeeded calls the matcher when the resolved event breached the
// threshold and has not fired before. The flag is set only when the matcher
// returns, so a failed call leaves the event eligible for a later attempt.
// A nil result with a nil error means nothing fired.
func (c *CostTrigger) TriggerIfNeeded(ctx context.Context, eventID string, now time.Time) (*SchemeResult, error) {
	if c.matcher == nil {
		return nil, nil
	}
	ev, err := c.store.GetDowntime(ctx, eventID)
	if err != nil {
		return nil, err
	}
	m, err := c.store.GetMachine(ctx, ev.MachineID)
	if err != nil {
		return nil, fmt.Errorf("load machine %s: %w", ev.MachineID, err)
	}
	profile := Profile{PlantID: m.PlantID}
	if p, err := c.store.GetPlant(ctx, m.PlantID); err == nil {
		profile.PlantName = p.Name
		profile.Industry = p.Industry
		profile.Location = p.Location
	}

	var result *SchemeResult
	fired, err := c.store.ClaimSchemeTrigger(ctx, eventID, func(locked DowntimeEvent) (float64, bool, error) {
		if locked.Status != DowntimeResolved {
			return 0, false, nil
		}
		analysis := AnalyzeCost(locked, m.HourlyDowntimeCost, c.threshold, now)
		if !analysis.ThresholdBreached {
			return 0, false, nil
		}
		issue := IssueSummary(m, analysis)

		mctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		schemes, err := c.matcher.MatchSchemes(mctx, profile, issue)
		if err != nil {
			return 0, false, fmt.Errorf("match schemes for downtime %s: %w", locked.ID, err)
		}
		result = &SchemeResult{Schemes: schemes, Issue: issue, TotalLoss: analysis.TotalLoss}
		return analysis.TotalLoss, true, nil
	})
	if err != nil {
		return nil, err
	}
	if !fired {
		return nil, nil
	}
	return result, nil
}

// IssueSummary is the operational issue text handed to the scheme matcher.
func IssueSummary(m Machine, a CostAnalysis) string {
	kind := m.Type
	if kind == "" {
		kind = "machine"
	}
	dept := ""
	if m.Department != "" {
		dept = " in " + m.Department
	}
	return fmt.Sprintf(
		"Machine %s (%s)%s was down for %.2f hours. Repair cost INR %.0f, production loss INR %.0f, total loss INR %.0f. Looking for schemes that support equipment repair, modernisation or downtime losses.",
		m.Name, kind, dept, a.DurationHours, a.RepairCost, a.ProductionLoss, a.TotalLoss,
	)
}
