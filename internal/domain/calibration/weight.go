package calibration

import (
	"math"

	"github.com/okian/jumplab/internal/domain/model"
)

// Default weight measurement constants.
const (
	defaultWeightWindowS  = 1.0
	defaultStabilityKg    = 0.5
	defaultMinBodyweightN = 100.0 // nobody testable weighs under ~10 kg
	kgToNewtons           = model.Gravity
)

// WeightOption applies a configuration option to the WeightMeasurer.
type WeightOption func(*WeightMeasurer)

// WithWeightSampleRate sets the stream rate in Hz.
func WithWeightSampleRate(hz int) WeightOption {
	return func(w *WeightMeasurer) {
		if hz > 0 {
			w.sampleRateHz = hz
		}
	}
}

// WithWeightWindow sets the stability window length in seconds.
func WithWeightWindow(seconds float64) WeightOption {
	return func(w *WeightMeasurer) {
		if seconds > 0 {
			w.windowS = seconds
		}
	}
}

// WithStabilityThreshold sets the tolerated std-dev in kilograms.
func WithStabilityThreshold(kg float64) WeightOption {
	return func(w *WeightMeasurer) {
		if kg > 0 {
			w.stabilityKg = kg
		}
	}
}

// WeightMeasurer finds the bodyweight baseline: the mean total force over a
// sliding window whose std-dev stays below the stability threshold for the
// whole window. Samples must already be calibrated.
type WeightMeasurer struct {
	sampleRateHz int
	windowS      float64
	stabilityKg  float64

	window []float64
	head   int
	filled bool
	sum    float64
	sumSq  float64
}

// NewWeightMeasurer creates a weight measurer with configuration options.
func NewWeightMeasurer(opts ...WeightOption) *WeightMeasurer {
	w := &WeightMeasurer{
		sampleRateHz: defaultSampleRateHz,
		windowS:      defaultWeightWindowS,
		stabilityKg:  defaultStabilityKg,
	}

	for _, opt := range opts {
		opt(w)
	}

	size := int(float64(w.sampleRateHz) * w.windowS)
	if size < 2 {
		size = 2
	}
	w.window = make([]float64, size)

	return w
}

// Add feeds one calibrated sample. It returns the measured bodyweight in
// newtons and true once the window is full and stable; until then the
// returned weight is zero.
func (w *WeightMeasurer) Add(s model.ForceSample) (float64, bool) {
	total := s.TotalFz()
	// A non-finite total would poison the running sums and then every
	// downstream metric; corrupt samples never enter the window.
	if !finite(total) {
		return 0, false
	}

	if w.filled {
		old := w.window[w.head]
		w.sum -= old
		w.sumSq -= old * old
	}
	w.window[w.head] = total
	w.sum += total
	w.sumSq += total * total
	w.head++
	if w.head == len(w.window) {
		w.head = 0
		w.filled = true
	}

	if !w.filled {
		return 0, false
	}

	n := float64(len(w.window))
	mean := w.sum / n
	variance := w.sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	std := math.Sqrt(variance)

	if mean < defaultMinBodyweightN {
		return 0, false // plate not loaded yet
	}
	if std > w.stabilityKg*kgToNewtons {
		return 0, false
	}
	return mean, true
}

// Reset clears the window so a measurement can be redone.
func (w *WeightMeasurer) Reset() {
	for i := range w.window {
		w.window[i] = 0
	}
	w.head = 0
	w.filled = false
	w.sum = 0
	w.sumSq = 0
}
