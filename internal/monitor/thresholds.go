package monitor

import (
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Threshold is the band a sensor type is classified against.
type Threshold struct {
	Unit        string   `yaml:"unit"`
	NormalMin   float64  `yaml:"normal_min"`
	NormalMax   float64  `yaml:"normal_max"`
	CriticalMin *float64 `yaml:"critical_min"`
	CriticalMax *float64 `yaml:"critical_max"`
}

// Bounds returns the warning and critical limits. Missing critical limits fall
// back to 1.5x the normal max and 0.5x the normal min.
func (t Threshold) Bounds() (warnMin, warnMax, critMin, critMax float64) {
	warnMin, warnMax = t.NormalMin, t.NormalMax
	critMax = t.NormalMax * 1.5
	if t.CriticalMax != nil {
		critMax = *t.CriticalMax
	}
	critMin = t.NormalMin * 0.5
	if t.CriticalMin != nil {
		critMin = *t.CriticalMin
	}
	return warnMin, warnMax, critMin, critMax
}

func (t Threshold) valid() bool {
	for _, v := range []float64{t.NormalMin, t.NormalMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if t.NormalMax < t.NormalMin {
		return false
	}
	_, warnMax, critMin, critMax := t.Bounds()
	if math.IsNaN(critMin) || math.IsNaN(critMax) {
		return false
	}
	return critMax >= warnMax && critMin <= t.NormalMin
}

func thresholdFromConfig(cfg SensorConfig) Threshold {
	return Threshold{
		Unit:        cfg.Unit,
		NormalMin:   cfg.NormalMin,
		NormalMax:   cfg.NormalMax,
		CriticalMin: cfg.CriticalMin,
		CriticalMax: cfg.CriticalMax,
	}
}

// DefaultThresholds is the fallback table used when a machine declares no
// configuration for a sensor type. It is immutable after construction.
type DefaultThresholds struct {
	table map[string]Threshold
}

func ptr[T any](v T) *T { return &v }

var builtinThresholds = map[string]Threshold{
	"temperature": {Unit: "°C", NormalMin: 20, NormalMax: 75, CriticalMax: ptr(90.0)},
	"vibration":   {Unit: "mm/s", NormalMin: 0, NormalMax: 4.5, CriticalMax: ptr(7.1)},
	"load":        {Unit: "%", NormalMin: 0, NormalMax: 85, CriticalMax: ptr(95.0)},
	"rpm":         {Unit: "rpm", NormalMin: 500, NormalMax: 3000, CriticalMax: ptr(3600.0)},
	"pressure":    {Unit: "bar", NormalMin: 2, NormalMax: 8, CriticalMax: ptr(10.0)},
	"current":     {Unit: "A", NormalMin: 5, NormalMax: 40, CriticalMax: ptr(50.0)},
}

func BuiltinThresholds() *DefaultThresholds {
	return NewDefaultThresholds(nil)
}

// NewDefaultThresholds copies the builtin table and applies overrides on top.
func NewDefaultThresholds(overrides map[string]Threshold) *DefaultThresholds {
	table := make(map[string]Threshold, len(builtinThresholds)+len(overrides))
	for k, v := range builtinThresholds {
		table[k] = v
	}
	for k, v := range overrides {
		table[normalizeSensorType(k)] = v
	}
	return &DefaultThresholds{table: table}
}

type thresholdFile struct {
	Sensors map[string]Threshold `yaml:"sensors"`
}

// LoadThresholds reads a YAML override file. An empty path yields the builtin table.
func LoadThresholds(path string) (*DefaultThresholds, error) {
	if path == "" {
		return BuiltinThresholds(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read thresholds: %w", err)
	}
	return ParseThresholds(data)
}

func ParseThresholds(data []byte) (*DefaultThresholds, error) {
	var file thresholdFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse thresholds: %w", err)
	}
	for name, t := range file.Sensors {
		if !t.valid() {
			return nil, fmt.Errorf("threshold %q: normal range or critical bounds are inconsistent", name)
		}
	}
	return NewDefaultThresholds(file.Sensors), nil
}

func (d *DefaultThresholds) Lookup(sensorType string) (Threshold, bool) {
	if d == nil {
		return Threshold{}, false
	}
	t, ok := d.table[normalizeSensorType(sensorType)]
	return t, ok
}

func (d *DefaultThresholds) SensorTypes() []string {
	if d == nil {
		return nil
	}
	names := make([]string, 0, len(d.table))
	for name := range d.table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
