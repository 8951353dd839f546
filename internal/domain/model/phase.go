package model

// TestPhase is the closed set of movement phases the detector can be in.
// Exactly one phase is current at any instant; transitions follow the
// per-test-type table and never jump arbitrarily.
type TestPhase int

const (
	PhaseIdle TestPhase = iota
	PhaseQuietStanding
	PhaseUnweighting
	PhaseBraking
	PhasePropulsion
	PhaseFlight
	PhaseLanding
	PhaseRecovery
	PhaseAborted
)

// String returns the canonical phase name used in logs and progress events.
func (p TestPhase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseQuietStanding:
		return "QuietStanding"
	case PhaseUnweighting:
		return "Unweighting"
	case PhaseBraking:
		return "Braking"
	case PhasePropulsion:
		return "Propulsion"
	case PhaseFlight:
		return "Flight"
	case PhaseLanding:
		return "Landing"
	case PhaseRecovery:
		return "Recovery"
	case PhaseAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the phase ends a test. Recovery is the normal
// terminal phase; Aborted is terminal and excludes metric finalization.
func (p TestPhase) Terminal() bool {
	return p == PhaseRecovery || p == PhaseAborted
}

// PhaseSegment records the evidence accumulated for a completed phase.
// Segments are append-only; the metrics engine owns the list.
type PhaseSegment struct {
	Phase       TestPhase
	StartTime   float64 // seconds, stream clock
	EndTime     float64
	FirstSample int // index into the session's sample stream
	LastSample  int
}

// Duration returns the segment length in seconds.
func (s PhaseSegment) Duration() float64 {
	return s.EndTime - s.StartTime
}

// TestType identifies the movement profile a session exercises.
type TestType int

const (
	TestCountermovementJump TestType = iota
	TestIsometricPull
	TestBalanceHold
)

// ParseTestType maps a test type name onto its TestType value.
func ParseTestType(name string) (TestType, bool) {
	switch name {
	case "cmj":
		return TestCountermovementJump, true
	case "isometric_pull":
		return TestIsometricPull, true
	case "balance_hold":
		return TestBalanceHold, true
	default:
		return TestCountermovementJump, false
	}
}

// String returns the test type name used in results and logs.
func (t TestType) String() string {
	switch t {
	case TestCountermovementJump:
		return "cmj"
	case TestIsometricPull:
		return "isometric_pull"
	case TestBalanceHold:
		return "balance_hold"
	default:
		return "unknown"
	}
}
