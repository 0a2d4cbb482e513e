package monitor

import "math"

// Classifier maps a reading to Normal, Warning or Critical using the machine's
// own sensor configuration, falling back to the default table.
type Classifier struct {
	defaults *DefaultThresholds
}

func NewClassifier(defaults *DefaultThresholds) *Classifier {
	if defaults == nil {
		defaults = BuiltinThresholds()
	}
	return &Classifier{defaults: defaults}
}

// Resolve finds the threshold that applies to sensorType. A malformed machine
// configuration is ignored in favour of the default table.
func (c *Classifier) Resolve(sensors []SensorConfig, sensorType string) (Threshold, bool) {
	name := normalizeSensorType(sensorType)
	for _, cfg := range sensors {
		if normalizeSensorType(cfg.SensorType) != name {
			continue
		}
		t := thresholdFromConfig(cfg)
		if t.valid() {
			return t, true
		}
		break
	}
	return c.defaults.Lookup(name)
}

func (c *Classifier) Classify(sensors []SensorConfig, sensorType string, value float64) (Classification, Threshold) {
	t, ok := c.Resolve(sensors, sensorType)
	if !ok {
		return ClassUnclassifiable, Threshold{}
	}
	return ClassifyValue(t, value), t
}

// ClassifyValue applies the band rule: outside the critical bounds is Critical,
// outside the normal band is Warning, anything else is Normal.
func ClassifyValue(t Threshold, value float64) Classification {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return ClassUnclassifiable
	}
	warnMin, warnMax, critMin, critMax := t.Bounds()
	switch {
	case value > critMax || value < critMin:
		return ClassCritical
	case value > warnMax || value < warnMin:
		return ClassWarning
	default:
		return ClassNormal
	}
}
