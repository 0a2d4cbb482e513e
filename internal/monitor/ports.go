package monitor

import (
	"context"
	"time"
)

// Store is the relational state the engine reads and mutates. Implementations
// must enforce the single-active-alert and single-ongoing-downtime invariants
// themselves; the engine never relies on a prior read for them.
type Store interface {
	CreatePlant(ctx context.Context, plant Plant) (Plant, error)
	GetPlant(ctx context.Context, plantID string) (Plant, error)
	SavePlantHealth(ctx context.Context, plantID string, health int, status PlantStatus, syncedAt time.Time) error
	HealthSnapshot(ctx context.Context, plantID string) (HealthSnapshot, error)

	CreateMachine(ctx context.Context, machine Machine) (Machine, error)
	GetMachine(ctx context.Context, machineID string) (Machine, error)
	ListMachines(ctx context.Context, plantID string) ([]Machine, error)
	UpdateMachineState(ctx context.Context, machineID string, status MachineStatus, live LiveReadings) error
	SetMachineStatus(ctx context.Context, machineID string, status MachineStatus) error

	InsertReading(ctx context.Context, reading SensorReading) (SensorReading, error)
	LinkReadingAlert(ctx context.Context, readingID, alertID string) error
	LatestReadings(ctx context.Context, machineID string) ([]SensorReading, error)
	ReadingHistory(ctx context.Context, machineID, sensorType string, since time.Time) ([]SensorReading, error)

	// UpsertActiveAlert inserts a new active alert for draft.Key or updates the
	// existing one in place. The bool reports whether a row was created.
	UpsertActiveAlert(ctx context.Context, draft AlertDraft) (Alert, bool, error)
	GetAlert(ctx context.Context, alertID string) (Alert, error)
	FindActiveAlert(ctx context.Context, key SensorKey) (Alert, error)
	ListAlerts(ctx context.Context, plantID string, status AlertStatus) ([]Alert, error)
	// TransitionAlert locks the alert row, applies fn and persists its result.
	TransitionAlert(ctx context.Context, alertID string, fn func(Alert) (Alert, error)) (Alert, error)

	// OpenDowntime creates an ongoing event unless the machine already has one,
	// in which case the existing event is returned with false.
	OpenDowntime(ctx context.Context, draft DowntimeDraft) (DowntimeEvent, bool, error)
	GetDowntime(ctx context.Context, eventID string) (DowntimeEvent, error)
	ListDowntime(ctx context.Context, plantID string, status DowntimeStatus) ([]DowntimeEvent, error)
	// CloseDowntime locks the event row, applies fn and persists its result.
	CloseDowntime(ctx context.Context, eventID string, fn func(DowntimeEvent) (DowntimeEvent, error)) (DowntimeEvent, error)
	// ClaimSchemeTrigger locks the event row and, if the one-shot flag is still
	// unset, calls fn. The flag and total loss are persisted only when fn
	// returns fire=true and a nil error.
	ClaimSchemeTrigger(ctx context.Context, eventID string, fn func(DowntimeEvent) (totalLoss float64, fire bool, err error)) (bool, error)

	AppendEvent(ctx context.Context, evt Event) error
}

// Profile describes the plant when asking for matching subsidy schemes.
type Profile struct {
	PlantID   string `json:"plant_id"`
	PlantName string `json:"plant_name"`
	Industry  string `json:"industry"`
	Location  string `json:"location"`
}

type Scheme struct {
	Name                string   `json:"name" yaml:"name"`
	Ministry            string   `json:"ministry" yaml:"ministry"`
	Level               string   `json:"level" yaml:"level"`
	MaxBenefit          string   `json:"max_benefit" yaml:"max_benefit"`
	BenefitType         string   `json:"benefit_type" yaml:"benefit_type"`
	Description         string   `json:"description" yaml:"description"`
	EligibilityCriteria []string `json:"eligibility_criteria" yaml:"eligibility_criteria"`
	PriorityMatch       bool     `json:"priority_match" yaml:"priority_match"`
}

// SchemeMatcher is the external collaborator that recommends subsidy schemes.
type SchemeMatcher interface {
	MatchSchemes(ctx context.Context, profile Profile, issue string) ([]Scheme, error)
}

// Event is published after a committed mutation.
type Event struct {
	Type      string    `json:"type"`
	PlantID   string    `json:"plant_id"`
	MachineID string    `json:"machine_id,omitempty"`
	At        time.Time `json:"at"`
	Payload   any       `json:"payload"`
}

const (
	EventAlertCreated    = "alert.created"
	EventAlertUpdated    = "alert.updated"
	EventAlertStatus     = "alert.status"
	EventMachineStatus   = "machine.status"
	EventDowntimeOpened  = "downtime.opened"
	EventDowntimeClosed  = "downtime.closed"
	EventPlantHealth     = "plant.health"
	EventSchemeTriggered = "scheme.triggered"
)

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Publishers fans one event out to several publishers and returns the first error.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, evt Event) error {
	var first error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LiveCache keeps the newest reading per sensor type of a machine.
type LiveCache interface {
	StoreLatest(ctx context.Context, machineID string, readings []SensorReading) error
	Latest(ctx context.Context, machineID string) ([]SensorReading, error)
}
