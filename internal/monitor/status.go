package monitor

// DeriveStatus returns the machine status implied by one ingestion batch.
// Critical dominates Warning; a batch without anomalies yields Active. Idle and
// Maintenance are operator states and are never produced here.
func DeriveStatus(classes []Classification) MachineStatus {
	status := MachineActive
	for _, c := range classes {
		switch c {
		case ClassCritical:
			return MachineDown
		case ClassWarning:
			status = MachineWarning
		}
	}
	return status
}
