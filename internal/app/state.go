package app

// WorkflowState is the coarse session state the coordinator walks through.
// States are strictly ordered; the only back-edge is redoing calibration.
type WorkflowState int

const (
	StateConnecting WorkflowState = iota
	StateCalibrating
	StateMeasuringWeight
	StateExecuting
	StateFinalizing
	StateComplete
	StateAborted
)

// String returns the state label used in logs and progress events.
func (s WorkflowState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateCalibrating:
		return "Calibrating"
	case StateMeasuringWeight:
		return "MeasuringWeight"
	case StateExecuting:
		return "Executing"
	case StateFinalizing:
		return "Finalizing"
	case StateComplete:
		return "Complete"
	case StateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// ProgressEvent is what external presentation layers receive at workflow
// and phase transitions and periodically during execution. The coordinator
// never blocks on a consumer; with nobody listening events are dropped.
type ProgressEvent struct {
	SessionID   string  `json:"session_id"`
	AthleteID   string  `json:"athlete_id"`
	TestType    string  `json:"test_type"`
	State       string  `json:"state"`
	Phase       string  `json:"phase"`
	StreamTimeS float64 `json:"stream_time_s"`
	BodyWeightN float64 `json:"body_weight_n,omitempty"`
	VelocityMS  float64 `json:"velocity_ms,omitempty"`
}
