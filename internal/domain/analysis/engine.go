// Package analysis is the metrics engine: it accumulates phase-scoped
// statistics incrementally and computes the derived-metric set and quality
// classification once the detector reaches a terminal phase.
package analysis

import (
	"math"

	"github.com/okian/jumplab/internal/domain/model"
)

// Default analysis configuration constants.
const (
	defaultRFDWindowS = 0.100
	defaultCOPMinFzN  = 20.0
	defaultCOPStride  = 10
	defaultHeightTol  = 0.15
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithRFDWindow sets the regression window at propulsion onset, seconds.
func WithRFDWindow(seconds float64) Option {
	return func(e *Engine) {
		if seconds > 0 {
			e.rfdWindowS = seconds
		}
	}
}

// WithCOPGuard sets the minimum vertical force for centre-of-pressure
// division and the sampling stride.
func WithCOPGuard(minFzN float64, stride int) Option {
	return func(e *Engine) {
		if minFzN > 0 {
			e.copMinFzN = minFzN
		}
		if stride > 0 {
			e.copStride = stride
		}
	}
}

// WithHeightTolerance sets the relative jump-height disagreement beyond
// which quality degrades.
func WithHeightTolerance(tol float64) Option {
	return func(e *Engine) {
		if tol > 0 && tol < 1 {
			e.heightTol = tol
		}
	}
}

// WithNoiseCeiling passes the configured calibration ceiling so the quality
// score can grade the measured noise floor against it.
func WithNoiseCeiling(n float64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.noiseCeilingN = n
		}
	}
}

// copRange tracks the bounding box of centre-of-pressure excursions for one
// plate, in metres.
type copRange struct {
	minX, maxX float64
	minY, maxY float64
	n          int
}

func (c *copRange) add(x, y float64) {
	if c.n == 0 {
		c.minX, c.maxX = x, x
		c.minY, c.maxY = y, y
	} else {
		c.minX = math.Min(c.minX, x)
		c.maxX = math.Max(c.maxX, x)
		c.minY = math.Min(c.minY, y)
		c.maxY = math.Max(c.maxY, y)
	}
	c.n++
}

// extent returns the diagonal of the excursion bounding box.
func (c *copRange) extent() float64 {
	if c.n == 0 {
		return 0
	}
	dx := c.maxX - c.minX
	dy := c.maxY - c.minY
	return math.Hypot(dx, dy)
}

// segmentStats accumulates evidence for one phase.
type segmentStats struct {
	phase        model.TestPhase
	startTime    float64
	endTime      float64
	peakForce    float64
	peakTime     float64
	netImpulse   float64 // trapezoidal integral of F - bodyweight
	leftImpulse  float64 // trapezoidal integral of left Fz
	rightImpulse float64
	samples      int
	copLeft      copRange
	copRight     copRange
	closed       bool
}

// Engine is the per-session metrics accumulator. Like the detector it is
// fed from the single consumer loop and holds no internal concurrency.
type Engine struct {
	testType    model.TestType
	bodyweightN float64
	profile     model.CalibrationProfile

	rfdWindowS    float64
	copMinFzN     float64
	copStride     int
	heightTol     float64
	noiseCeilingN float64

	current    model.TestPhase
	stats      map[model.TestPhase]*segmentStats
	segments   []model.PhaseSegment
	lastSample model.ForceSample
	haveLast   bool
	sampleIdx  int

	// window holds the samples observed since the last boundary. Dwell
	// conditions confirm after their onset, so on a transition the
	// contributions accumulated past the onset are re-attributed to the
	// phase that actually owns them.
	window []model.ForceSample

	firstTime float64
	lastTime  float64
	started   bool

	rfdTimes  []float64
	rfdForces []float64
}

// NewEngine creates a metrics engine for one test.
func NewEngine(testType model.TestType, bodyweightN float64, profile model.CalibrationProfile, opts ...Option) *Engine {
	e := &Engine{
		testType:      testType,
		bodyweightN:   bodyweightN,
		profile:       profile,
		rfdWindowS:    defaultRFDWindowS,
		copMinFzN:     defaultCOPMinFzN,
		copStride:     defaultCOPStride,
		heightTol:     defaultHeightTol,
		noiseCeilingN: 0,
		current:       model.PhaseIdle,
		stats:         make(map[model.TestPhase]*segmentStats),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// OnTransition records a phase boundary: the closed segment is appended to
// the evidence list and subsequent samples accumulate under the new phase.
// Integral contributions observed after the boundary time (dwell lag) move
// from the closed phase to the new one.
func (e *Engine) OnTransition(seg model.PhaseSegment, next model.TestPhase) {
	moveNet, moveLeft, moveRight := e.tailContributions(seg.EndTime)

	if st := e.stats[seg.Phase]; st != nil {
		st.endTime = seg.EndTime
		st.netImpulse -= moveNet
		st.leftImpulse -= moveLeft
		st.rightImpulse -= moveRight
		st.closed = true
	}
	if seg.Phase != model.PhaseIdle {
		e.segments = append(e.segments, seg)
	}
	e.current = next
	if next != model.PhaseAborted && e.stats[next] == nil {
		st := &segmentStats{
			phase:        next,
			startTime:    seg.EndTime,
			netImpulse:   moveNet,
			leftImpulse:  moveLeft,
			rightImpulse: moveRight,
		}
		e.stats[next] = st
		if next == model.PhasePropulsion {
			e.seedRFD(seg.EndTime)
		}
	}
	e.trimWindow(seg.EndTime)
}

// tailContributions sums the trapezoid contributions of window pairs whose
// right endpoint lies past the boundary.
func (e *Engine) tailContributions(boundary float64) (net, left, right float64) {
	for i := 1; i < len(e.window); i++ {
		a, b := e.window[i-1], e.window[i]
		if b.Timestamp <= boundary {
			continue
		}
		dt := b.Timestamp - a.Timestamp
		if dt <= 0 {
			continue
		}
		net += 0.5 * ((a.TotalFz() - e.bodyweightN) + (b.TotalFz() - e.bodyweightN)) * dt
		left += 0.5 * (a.LeftFz + b.LeftFz) * dt
		right += 0.5 * (a.RightFz + b.RightFz) * dt
	}
	return net, left, right
}

// seedRFD replays window samples past the propulsion onset into the RFD
// regression buffer, covering the dwell lag before the transition confirmed.
func (e *Engine) seedRFD(onset float64) {
	for _, s := range e.window {
		if s.Timestamp >= onset && s.Timestamp-onset <= e.rfdWindowS {
			e.rfdTimes = append(e.rfdTimes, s.Timestamp-onset)
			e.rfdForces = append(e.rfdForces, s.TotalFz())
		}
	}
}

// trimWindow drops window samples at or before the boundary, keeping one
// sample of history for trapezoid continuity.
func (e *Engine) trimWindow(boundary float64) {
	cut := 0
	for i, s := range e.window {
		if s.Timestamp <= boundary {
			cut = i
		}
	}
	e.window = append(e.window[:0], e.window[cut:]...)
}

// Observe accumulates one calibrated sample under the current phase.
func (e *Engine) Observe(s model.ForceSample) {
	if !e.started {
		e.firstTime = s.Timestamp
		e.started = true
	}
	e.lastTime = s.Timestamp
	idx := e.sampleIdx
	e.sampleIdx++
	e.window = append(e.window, s)

	st := e.stats[e.current]
	if st == nil {
		return // Idle or Aborted; nothing accumulates
	}

	total := s.TotalFz()
	if st.samples == 0 || total > st.peakForce {
		st.peakForce = total
		st.peakTime = s.Timestamp
	}
	st.samples++

	if e.haveLast {
		dt := s.Timestamp - e.lastSample.Timestamp
		if dt > 0 {
			st.netImpulse += 0.5 * ((total - e.bodyweightN) + (e.lastSample.TotalFz() - e.bodyweightN)) * dt
			st.leftImpulse += 0.5 * (s.LeftFz + e.lastSample.LeftFz) * dt
			st.rightImpulse += 0.5 * (s.RightFz + e.lastSample.RightFz) * dt
		}
	}
	e.lastSample = s
	e.haveLast = true

	if idx%e.copStride == 0 {
		if math.Abs(s.LeftFz) >= e.copMinFzN {
			st.copLeft.add(s.LeftMy/s.LeftFz, s.LeftMx/s.LeftFz)
		}
		if math.Abs(s.RightFz) >= e.copMinFzN {
			st.copRight.add(s.RightMy/s.RightFz, s.RightMx/s.RightFz)
		}
	}

	if e.current == model.PhasePropulsion && s.Timestamp-st.startTime <= e.rfdWindowS {
		e.rfdTimes = append(e.rfdTimes, s.Timestamp-st.startTime)
		e.rfdForces = append(e.rfdForces, total)
	}
}

// Segments returns the closed segments recorded so far.
func (e *Engine) Segments() []model.PhaseSegment {
	return e.segments
}
