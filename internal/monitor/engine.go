package monitor

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

type Options struct {
	Store      Store
	Thresholds *DefaultThresholds
	Matcher    SchemeMatcher
	Publisher  Publisher
	Cache      LiveCache
	Logger     *zap.Logger

	CostThreshold float64
	MatchTimeout  time.Duration

	// Clock and Random default to time.Now and math/rand/v2.
	Clock  func() time.Time
	Random func() float64
}

// Engine turns sensor readings into alerts, machine status, downtime events
// and plant health, and exposes the lifecycle operations around them.
type Engine struct {
	store      Store
	classifier *Classifier
	alerts     *AlertLedger
	downtime   *DowntimeLedger
	health     *HealthAggregator
	cost       *CostTrigger
	publisher  Publisher
	cache      LiveCache
	log        *zap.Logger
	now        func() time.Time
	random     func() float64
}

func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Random == nil {
		opts.Random = rand.Float64
	}
	return &Engine{
		store:      opts.Store,
		classifier: NewClassifier(opts.Thresholds),
		alerts:     NewAlertLedger(opts.Store),
		downtime:   NewDowntimeLedger(opts.Store),
		health:     NewHealthAggregator(opts.Store),
		cost:       NewCostTrigger(opts.Store, opts.Matcher, opts.CostThreshold, opts.MatchTimeout),
		publisher:  opts.Publisher,
		cache:      opts.Cache,
		log:        opts.Logger,
		now:        func() time.Time { return opts.Clock().UTC() },
		random:     opts.Random,
	}
}

// emit records the event in the event log and publishes it. Neither failure
// is returned to the caller.
func (e *Engine) emit(ctx context.Context, evt Event) {
	if err := e.store.AppendEvent(ctx, evt); err != nil {
		e.log.Warn("append event failed",
			zap.String("type", evt.Type),
			zap.String("plant_id", evt.PlantID),
			zap.Error(err),
		)
	}
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, evt); err != nil {
		e.log.Warn("publish event failed",
			zap.String("type", evt.Type),
			zap.String("plant_id", evt.PlantID),
			zap.Error(err),
		)
	}
}

func (e *Engine) recomputeHealth(ctx context.Context, plantID string, at time.Time) (PlantHealth, error) {
	ph, err := e.health.Recompute(ctx, plantID, at)
	if err != nil {
		return PlantHealth{}, err
	}
	e.emit(ctx, Event{Type: EventPlantHealth, PlantID: plantID, At: at, Payload: ph})
	return ph, nil
}

func requireID(field, value string) error {
	if value == "" {
		return invalid(field+" is required", ErrorDetail{Field: field, Problem: "required"})
	}
	return nil
}
