package monitor

import (
	"strings"
	"time"
)

type MachineStatus string

const (
	MachineActive      MachineStatus = "Active"
	MachineIdle        MachineStatus = "Idle"
	MachineWarning     MachineStatus = "Warning"
	MachineDown        MachineStatus = "Down"
	MachineMaintenance MachineStatus = "Maintenance"
)

func (s MachineStatus) Valid() bool {
	switch s {
	case MachineActive, MachineIdle, MachineWarning, MachineDown, MachineMaintenance:
		return true
	}
	return false
}

// Classification is the outcome of running a reading through the threshold classifier.
type Classification string

const (
	ClassNormal         Classification = "Normal"
	ClassWarning        Classification = "Warning"
	ClassCritical       Classification = "Critical"
	ClassUnclassifiable Classification = "Unclassifiable"
)

func (c Classification) IsAnomaly() bool {
	return c == ClassWarning || c == ClassCritical
}

type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "Critical"
	SeverityWarning  AlertSeverity = "Warning"
	SeverityInfo     AlertSeverity = "Info"
	SeveritySystem   AlertSeverity = "System"
)

type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
	AlertDismissed    AlertStatus = "dismissed"
)

func (s AlertStatus) Valid() bool {
	switch s {
	case AlertActive, AlertAcknowledged, AlertResolved, AlertDismissed:
		return true
	}
	return false
}

type DowntimeStatus string

const (
	DowntimeOngoing  DowntimeStatus = "ongoing"
	DowntimeResolved DowntimeStatus = "resolved"
)

type PlantStatus string

const (
	PlantStable   PlantStatus = "stable"
	PlantWarning  PlantStatus = "warning"
	PlantCritical PlantStatus = "critical"
)

// Source tags the ingestion path a reading arrived through.
type Source string

const (
	SourceLive      Source = "live"
	SourceSimulated Source = "simulated"
	SourceHistorian Source = "historian"
)

func (s Source) Valid() bool {
	switch s {
	case SourceLive, SourceSimulated, SourceHistorian:
		return true
	}
	return false
}

type SensorConfig struct {
	SensorType  string   `json:"sensor_type" yaml:"sensor_type"`
	Unit        string   `json:"unit" yaml:"unit"`
	NormalMin   float64  `json:"normal_min" yaml:"normal_min"`
	NormalMax   float64  `json:"normal_max" yaml:"normal_max"`
	CriticalMin *float64 `json:"critical_min,omitempty" yaml:"critical_min"`
	CriticalMax *float64 `json:"critical_max,omitempty" yaml:"critical_max"`
}

type Plant struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Industry      string      `json:"industry"`
	Location      string      `json:"location"`
	OverallHealth int         `json:"overall_health"`
	Status        PlantStatus `json:"status"`
	SyncedAt      *time.Time  `json:"synced_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

type Machine struct {
	ID                 string         `json:"id"`
	PlantID            string         `json:"plant_id"`
	Name               string         `json:"name"`
	Type               string         `json:"type"`
	Department         string         `json:"department"`
	Status             MachineStatus  `json:"status"`
	Temperature        *float64       `json:"temperature,omitempty"`
	Vibration          *float64       `json:"vibration,omitempty"`
	Load               *float64       `json:"load,omitempty"`
	HourlyDowntimeCost float64        `json:"hourly_downtime_cost"`
	Sensors            []SensorConfig `json:"sensors"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// LiveReadings are the scalar columns kept on the machine row.
// A nil field leaves the stored value untouched.
type LiveReadings struct {
	Temperature *float64
	Vibration   *float64
	Load        *float64
}

type SensorReading struct {
	ID         string         `json:"id"`
	MachineID  string         `json:"machine_id"`
	SensorType string         `json:"sensor_type"`
	Value      float64        `json:"value"`
	Unit       string         `json:"unit"`
	Source     Source         `json:"source"`
	Timestamp  time.Time      `json:"timestamp"`
	IsAnomaly  bool           `json:"is_anomaly"`
	Severity   Classification `json:"severity"`
	AlertID    *string        `json:"alert_id,omitempty"`
}

type Alert struct {
	ID               string        `json:"id"`
	PlantID          string        `json:"plant_id"`
	MachineID        *string       `json:"machine_id,omitempty"`
	Severity         AlertSeverity `json:"severity"`
	Title            string        `json:"title"`
	Description      string        `json:"description"`
	Status           AlertStatus   `json:"status"`
	SensorType       string        `json:"sensor_type"`
	Source           Source        `json:"source"`
	Value            float64       `json:"value"`
	ProductionImpact float64       `json:"production_impact"`
	Confidence       int           `json:"confidence"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	ResolvedAt       *time.Time    `json:"resolved_at,omitempty"`
}

// Key returns the dedup key of a machine-bound alert.
func (a Alert) Key() (SensorKey, bool) {
	if a.MachineID == nil {
		return SensorKey{}, false
	}
	return SensorKey{MachineID: *a.MachineID, SensorType: a.SensorType, Source: a.Source}, true
}

// AlertDraft is what the alert ledger hands to the store for insert-or-update.
type AlertDraft struct {
	Key              SensorKey
	PlantID          string
	Severity         AlertSeverity
	Title            string
	Description      string
	Value            float64
	ProductionImpact float64
	Confidence       int
	At               time.Time
}

type DowntimeEvent struct {
	ID              string         `json:"id"`
	MachineID       string         `json:"machine_id"`
	PlantID         string         `json:"plant_id"`
	AlertID         *string        `json:"alert_id,omitempty"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         *time.Time     `json:"end_time,omitempty"`
	DurationHours   *float64       `json:"duration_hours,omitempty"`
	RepairCost      *float64       `json:"repair_cost,omitempty"`
	Cause           string         `json:"cause"`
	Description     string         `json:"description"`
	Status          DowntimeStatus `json:"status"`
	TotalLoss       *float64       `json:"total_loss,omitempty"`
	SchemeTriggered bool           `json:"scheme_triggered"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type DowntimeDraft struct {
	MachineID string
	PlantID   string
	AlertID   *string
	StartTime time.Time
	Cause     string
}

// HealthSnapshot is the slice of machine and alert state the health score depends on.
type HealthSnapshot struct {
	MachineStatuses       []MachineStatus
	ActiveAlertSeverities []AlertSeverity
}

func normalizeSensorType(sensorType string) string {
	return strings.ToLower(strings.TrimSpace(sensorType))
}
