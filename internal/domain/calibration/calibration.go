// Package calibration computes per-plate zero offsets and the noise floor
// from an unloaded quiet window, and measures bodyweight from a calibrated
// stream. Both gates must pass before any sample reaches the phase detector.
package calibration

import (
	"fmt"
	"math"

	"github.com/okian/jumplab/internal/domain/model"
)

// Default calibration configuration constants.
const (
	defaultSampleRateHz  = 1000
	defaultDurationS     = 2.5
	defaultNoiseCeilingN = 12.0
)

// Option applies a configuration option to the Calibrator.
type Option func(*Calibrator)

// WithSampleRate sets the stream rate in Hz.
func WithSampleRate(hz int) Option {
	return func(c *Calibrator) {
		if hz > 0 {
			c.sampleRateHz = hz
		}
	}
}

// WithDuration sets the quiet-window length in seconds.
func WithDuration(seconds float64) Option {
	return func(c *Calibrator) {
		if seconds > 0 {
			c.durationS = seconds
		}
	}
}

// WithNoiseCeiling sets the maximum tolerated total-force std-dev in newtons.
func WithNoiseCeiling(n float64) Option {
	return func(c *Calibrator) {
		if n > 0 {
			c.noiseCeilingN = n
		}
	}
}

// Calibrator accumulates the quiet window incrementally. Feed samples with
// Add until Done reports true, then call Profile exactly once.
type Calibrator struct {
	sampleRateHz  int
	durationS     float64
	noiseCeilingN float64

	n          int
	sumLeft    float64
	sumRight   float64
	sumTotal   float64
	sumTotalSq float64
}

// NewCalibrator creates a calibrator with configuration options.
func NewCalibrator(opts ...Option) *Calibrator {
	c := &Calibrator{
		sampleRateHz:  defaultSampleRateHz,
		durationS:     defaultDurationS,
		noiseCeilingN: defaultNoiseCeilingN,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Required returns the number of quiet-window samples the calibrator needs.
func (c *Calibrator) Required() int {
	return int(float64(c.sampleRateHz) * c.durationS)
}

// Add accumulates one raw (uncalibrated) sample. Corrupt samples with
// non-finite forces never count toward the window; a NaN reaching the sums
// would otherwise pass the noise gate and poison the profile.
func (c *Calibrator) Add(s model.ForceSample) {
	if !finite(s.LeftFz) || !finite(s.RightFz) {
		return
	}
	c.n++
	c.sumLeft += s.LeftFz
	c.sumRight += s.RightFz
	total := s.TotalFz()
	c.sumTotal += total
	c.sumTotalSq += total * total
}

// Done reports whether the quiet window is complete.
func (c *Calibrator) Done() bool {
	return c.n >= c.Required()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Profile computes the calibration profile from the accumulated window.
// A noisy window fails with ErrExcessiveNoise and must be retried by the
// caller; a partial one fails with ErrInsufficientDuration. Failure never
// yields a usable profile.
func (c *Calibrator) Profile() (model.CalibrationProfile, error) {
	if c.n < c.Required() {
		return model.CalibrationProfile{}, fmt.Errorf("%w: got %d of %d samples", ErrInsufficientDuration, c.n, c.Required())
	}

	n := float64(c.n)
	meanTotal := c.sumTotal / n
	variance := c.sumTotalSq/n - meanTotal*meanTotal
	if variance < 0 {
		variance = 0 // guard against catastrophic cancellation on clean signals
	}
	noise := math.Sqrt(variance)

	if noise > c.noiseCeilingN {
		return model.CalibrationProfile{}, fmt.Errorf("%w: std-dev %.2f N exceeds ceiling %.2f N", ErrExcessiveNoise, noise, c.noiseCeilingN)
	}

	return model.CalibrationProfile{
		LeftOffset:  c.sumLeft / n,
		RightOffset: c.sumRight / n,
		NoiseStdDev: noise,
		SampleCount: c.n,
	}, nil
}
