package model

import "time"

// TestSession is the mutable record of one test run. It is mutated only by
// the session coordinator and destroyed (or archived) at finalization; every
// core operation receives it explicitly rather than through shared state.
type TestSession struct {
	ID          string
	AthleteID   string
	TestType    TestType
	BodyWeightN float64 // 0 until measured; newtons
	Calibration *CalibrationProfile
	Phase       TestPhase
	Segments    []PhaseSegment
	StartedAt   time.Time
}

// Calibrated reports whether the session holds a calibration profile.
func (s *TestSession) Calibrated() bool {
	return s.Calibration != nil
}

// Quality is the ordinal classification attached to a finished test.
type Quality int

const (
	QualityPoor Quality = iota
	QualityFair
	QualityGood
	QualityExcellent
)

// String returns the quality label used in results and exports.
func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "Excellent"
	case QualityGood:
		return "Good"
	case QualityFair:
		return "Fair"
	default:
		return "Poor"
	}
}

// Stable metric keys consumed by presentation and export collaborators.
// These strings are a published vocabulary; do not rename.
const (
	MetricPeakForce            = "peakForce"
	MetricJumpHeightFlightTime = "jumpHeightFlightTime"
	MetricJumpHeightImpulse    = "jumpHeightImpulse"
	MetricRFD                  = "rfd"
	MetricImpulse              = "impulse"
	MetricAsymmetryIndex       = "asymmetryIndex"
	MetricFlightTimeMs         = "flightTimeMs"
	MetricContactTimeMs        = "contactTimeMs"
	MetricCOPRangeLeft         = "copRangeLeft"
	MetricCOPRangeRight        = "copRangeRight"
	MetricQualityScore         = "qualityScore"
)

// TestResult is created exactly once at finalization and is immutable
// afterwards. Incomplete results carry only the metrics that could be
// computed from the segments that actually completed.
type TestResult struct {
	SessionID    string
	TestType     TestType
	Metrics      map[string]float64
	Quality      Quality
	QualityScore float64 // 0-100
	DurationMs   float64
	CreatedAt    time.Time
	Incomplete   bool // mandatory phase missing or session aborted
}
