package monitor

import "fmt"

// SensorKey identifies the physical condition an alert tracks. At most one
// active alert exists per key.
type SensorKey struct {
	MachineID  string
	SensorType string
	Source     Source
}

func NewSensorKey(machineID, sensorType string, source Source) SensorKey {
	return SensorKey{MachineID: machineID, SensorType: normalizeSensorType(sensorType), Source: source}
}

func (k SensorKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.MachineID, k.SensorType, k.Source)
}
