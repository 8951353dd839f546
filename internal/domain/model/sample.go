// Package model contains domain models passed between layers.
package model

// Gravity is the standard gravitational acceleration used for all
// mass/velocity conversions, in m/s^2.
const Gravity = 9.81

// ForceSample is one reading from the dual plate. Timestamps are monotonic
// seconds from stream start; forces are newtons, moments newton-metres.
// Samples are produced once by the device link and immutable afterwards.
type ForceSample struct {
	Timestamp float64 // seconds, strictly increasing within a stream
	LeftFz    float64
	RightFz   float64
	LeftMx    float64
	LeftMy    float64
	RightMx   float64
	RightMy   float64
}

// TotalFz returns the summed vertical force across both plates.
func (s ForceSample) TotalFz() float64 {
	return s.LeftFz + s.RightFz
}

// Calibrated returns a copy of the sample with the per-plate zero offsets
// removed. Moment channels are left untouched; their offsets are folded into
// the centre-of-pressure guard instead.
func (s ForceSample) Calibrated(p CalibrationProfile) ForceSample {
	s.LeftFz -= p.LeftOffset
	s.RightFz -= p.RightOffset
	return s
}

// CalibrationProfile holds the per-plate zero offsets and the noise floor
// measured over the unloaded quiet window. Created once per session and
// immutable after creation; no sample reaches the detector without one.
type CalibrationProfile struct {
	LeftOffset  float64
	RightOffset float64
	NoiseStdDev float64 // std-dev of total Fz over the quiet window, newtons
	SampleCount int
}
