package historian

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SensorColumn maps one historian column onto an engine sensor type.
type SensorColumn struct {
	SensorType string `yaml:"sensor_type"`
	Column     string `yaml:"column"`
	Unit       string `yaml:"unit"`
}

// TableMapping says where a machine's readings live in the historian.
type TableMapping struct {
	Table           string         `yaml:"table"`
	TimestampColumn string         `yaml:"timestamp_column"`
	KeyColumn       string         `yaml:"key_column"`
	KeyValue        string         `yaml:"key_value"`
	Sensors         []SensorColumn `yaml:"sensors"`
}

// Mapping is keyed by engine machine id.
type Mapping map[string]TableMapping

type mappingFile struct {
	Machines Mapping `yaml:"machines"`
}

func LoadMapping(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read historian mapping: %w", err)
	}
	return ParseMapping(data)
}

func ParseMapping(data []byte) (Mapping, error) {
	var file mappingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode historian mapping: %w", err)
	}
	if len(file.Machines) == 0 {
		return nil, fmt.Errorf("historian mapping has no machines")
	}
	for machineID, tm := range file.Machines {
		if err := tm.validate(); err != nil {
			return nil, fmt.Errorf("machine %s: %w", machineID, err)
		}
	}
	return file.Machines, nil
}

func (tm TableMapping) validate() error {
	if _, _, err := quoteQualified(tm.Table, 2, func(s string) string { return s }); err != nil {
		return fmt.Errorf("table: %w", err)
	}
	if !IsSafeIdentifier(tm.TimestampColumn) {
		return fmt.Errorf("timestamp_column %q is not a safe identifier", tm.TimestampColumn)
	}
	if tm.KeyColumn != "" && !IsSafeIdentifier(tm.KeyColumn) {
		return fmt.Errorf("key_column %q is not a safe identifier", tm.KeyColumn)
	}
	if tm.KeyColumn != "" && tm.KeyValue == "" {
		return fmt.Errorf("key_value is required with key_column")
	}
	if len(tm.Sensors) == 0 {
		return fmt.Errorf("no sensors mapped")
	}
	seen := map[string]bool{}
	for _, s := range tm.Sensors {
		if !IsSafeIdentifier(s.Column) {
			return fmt.Errorf("column %q is not a safe identifier", s.Column)
		}
		st := strings.ToLower(strings.TrimSpace(s.SensorType))
		if st == "" {
			return fmt.Errorf("column %s has no sensor_type", s.Column)
		}
		if seen[st] {
			return fmt.Errorf("sensor_type %s mapped twice", st)
		}
		seen[st] = true
	}
	return nil
}

func (tm TableMapping) columns() []string {
	cols := make([]string, len(tm.Sensors))
	for i, s := range tm.Sensors {
		cols[i] = s.Column
	}
	return cols
}
