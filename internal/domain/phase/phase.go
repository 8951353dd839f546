// Package phase implements the movement-phase state machine. One detector
// instance serves one session; it consumes calibrated samples synchronously
// and emits a transition each time the current phase closes.
package phase

import (
	"github.com/okian/jumplab/internal/domain/model"
)

// Default detector configuration constants.
const (
	defaultFlightThresholdN  = 30.0
	defaultUnweightK         = 5.0
	defaultDwellS            = 0.030
	defaultLandingToleranceN = 50.0
	defaultMaxPhaseS         = 10.0
	defaultBalanceHoldS      = 10.0

	// Noise floor used when a calibration reports an implausibly clean
	// signal, so the unweighting threshold never collapses onto bodyweight.
	minNoiseFloorN = 1.0
)

// AbortReason explains why a detector was forced into the Aborted phase.
type AbortReason int

const (
	AbortStreamEnded AbortReason = iota
	AbortCancelled
	AbortStopped
	AbortTimeout
)

// String returns the reason label used in logs and progress events.
func (r AbortReason) String() string {
	switch r {
	case AbortStreamEnded:
		return "stream_ended"
	case AbortCancelled:
		return "cancelled"
	case AbortStopped:
		return "stopped"
	case AbortTimeout:
		return "phase_timeout"
	default:
		return "unknown"
	}
}

// Transition reports a closed phase and the phase entered in its place.
type Transition struct {
	From    model.TestPhase
	To      model.TestPhase
	Time    float64 // stream seconds; for dwell conditions this is the condition onset
	Segment model.PhaseSegment
	Abort   AbortReason // meaningful only when To is Aborted
}

// Detector is the per-session phase state machine. It is not safe for
// concurrent use; the pipeline feeds it from a single consumer loop.
type Detector struct {
	testType    model.TestType
	bodyweightN float64
	massKg      float64
	noiseStdN   float64

	flightThresholdN  float64
	unweightK         float64
	dwellS            float64
	landingToleranceN float64
	maxPhaseS         float64
	balanceHoldS      float64

	phase         model.TestPhase
	phaseStart    float64
	phaseStartIdx int

	sampleIdx int
	lastTime  float64
	lastNet   float64 // previous net acceleration, for the trapezoid
	haveLast  bool
	velocity  float64

	candidateActive bool
	candidateStart  float64
	candidateIdx    int
	candidateVel    float64

	takeoffVelocity float64
	tookOff         bool

	segments []model.PhaseSegment
}

// NewDetector creates a detector for one test. The bodyweight baseline and
// the calibration noise floor parameterize every threshold condition.
func NewDetector(testType model.TestType, bodyweightN float64, profile model.CalibrationProfile, opts ...Option) *Detector {
	d := &Detector{
		testType:          testType,
		bodyweightN:       bodyweightN,
		massKg:            bodyweightN / model.Gravity,
		noiseStdN:         profile.NoiseStdDev,
		flightThresholdN:  defaultFlightThresholdN,
		unweightK:         defaultUnweightK,
		dwellS:            defaultDwellS,
		landingToleranceN: defaultLandingToleranceN,
		maxPhaseS:         defaultMaxPhaseS,
		balanceHoldS:      defaultBalanceHoldS,
		phase:             model.PhaseIdle,
	}

	if d.noiseStdN < minNoiseFloorN {
		d.noiseStdN = minNoiseFloorN
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Phase returns the current phase.
func (d *Detector) Phase() model.TestPhase {
	return d.phase
}

// Velocity returns the vertical velocity integrated since movement onset.
func (d *Detector) Velocity() float64 {
	return d.velocity
}

// TakeoffVelocity returns the integrated velocity at flight onset.
func (d *Detector) TakeoffVelocity() (float64, bool) {
	return d.takeoffVelocity, d.tookOff
}

// Segments returns the closed segments accumulated so far, in order.
func (d *Detector) Segments() []model.PhaseSegment {
	return d.segments
}

// Done reports whether the detector reached a terminal phase.
func (d *Detector) Done() bool {
	return d.phase.Terminal()
}

// Process consumes one calibrated sample and returns the transition it
// caused, if any. Samples with non-increasing timestamps are ignored; the
// pipeline already accounts for them as signal errors.
func (d *Detector) Process(s model.ForceSample) (Transition, bool) {
	if d.phase.Terminal() {
		return Transition{}, false
	}
	if d.sampleIdx > 0 && s.Timestamp <= d.lastTime {
		return Transition{}, false
	}

	idx := d.sampleIdx
	d.sampleIdx++

	// First sample opens the quiet-standing phase.
	if d.phase == model.PhaseIdle {
		d.lastTime = s.Timestamp
		d.lastNet = d.netAccel(s)
		d.haveLast = true
		return d.transition(model.PhaseQuietStanding, s.Timestamp, idx, 0), true
	}

	d.integrate(s)
	d.lastTime = s.Timestamp

	// Abort guard: a phase that overstays its budget means corrupted input,
	// not a slow athlete. A hold-governed phase is bounded by its own
	// configured duration instead, so the budget does not apply to it.
	if !d.holdGoverned() && s.Timestamp-d.phaseStart > d.maxPhaseS {
		return d.abort(s.Timestamp, idx, AbortTimeout), true
	}

	next, ok := nextPhase(d.testType, d.phase)
	if !ok {
		return Transition{}, false
	}

	onset, fire := d.evaluate(next, s, idx)
	if !fire {
		return Transition{}, false
	}
	return d.transition(next, onset, idx, 0), true
}

// Abort forces the detector into the terminal Aborted phase, closing the
// current segment at the given stream time.
func (d *Detector) Abort(t float64, reason AbortReason) Transition {
	if d.phase.Terminal() {
		return Transition{From: d.phase, To: d.phase, Time: t, Abort: reason}
	}
	if t < d.lastTime {
		t = d.lastTime
	}
	idx := d.sampleIdx - 1
	if idx < 0 {
		idx = 0
	}
	return d.abort(t, idx, reason)
}

// integrate advances the trapezoidal velocity integral. During quiet
// standing the integral is pinned to zero until an unweighting candidate
// opens, so drift cannot accumulate while the athlete stands still.
func (d *Detector) integrate(s model.ForceSample) {
	net := d.netAccel(s)
	if d.haveLast {
		dt := s.Timestamp - d.lastTime
		d.velocity += 0.5 * (net + d.lastNet) * dt
	}
	d.lastNet = net
	d.haveLast = true

	if d.phase == model.PhaseQuietStanding && !d.candidateActive {
		d.velocity = 0
	}
}

// holdGoverned reports whether the current phase closes on a configured
// hold duration rather than a force condition.
func (d *Detector) holdGoverned() bool {
	return d.testType == model.TestBalanceHold && d.phase == model.PhaseQuietStanding
}

// netAccel returns (F - bodyweight) / mass for the sample.
func (d *Detector) netAccel(s model.ForceSample) float64 {
	if d.massKg <= 0 {
		return 0
	}
	return (s.TotalFz() - d.bodyweightN) / d.massKg
}

// evaluate checks whether the condition for entering next holds. For dwell
// conditions it returns the condition onset time once the dwell elapsed.
func (d *Detector) evaluate(next model.TestPhase, s model.ForceSample, idx int) (float64, bool) {
	total := s.TotalFz()

	switch d.phase {
	case model.PhaseQuietStanding:
		switch d.testType {
		case model.TestBalanceHold:
			// The hold itself is the test; it closes after the configured time.
			return s.Timestamp, s.Timestamp-d.phaseStart >= d.balanceHoldS
		case model.TestIsometricPull:
			return d.dwell(total > d.bodyweightN+d.unweightK*d.noiseStdN, s.Timestamp, idx)
		default:
			return d.dwell(total < d.bodyweightN-d.unweightK*d.noiseStdN, s.Timestamp, idx)
		}

	case model.PhaseUnweighting:
		// Force back above bodyweight while still moving down: braking onset.
		return s.Timestamp, total >= d.bodyweightN && d.velocity < 0

	case model.PhaseBraking:
		// Velocity crosses zero: concentric push begins.
		return s.Timestamp, d.velocity >= 0

	case model.PhasePropulsion:
		if d.testType == model.TestIsometricPull {
			return d.dwell(total <= d.bodyweightN+d.landingToleranceN, s.Timestamp, idx)
		}
		onset, fire := d.dwell(total < d.flightThresholdN, s.Timestamp, idx)
		if fire {
			// Velocity at the moment the plate unloaded, not at dwell confirmation;
			// during the dwell the only force is gravity.
			d.takeoffVelocity = d.candidateVel
			d.tookOff = true
		}
		return onset, fire

	case model.PhaseFlight:
		return s.Timestamp, total > d.flightThresholdN

	case model.PhaseLanding:
		diff := total - d.bodyweightN
		if diff < 0 {
			diff = -diff
		}
		return d.dwell(diff <= d.landingToleranceN, s.Timestamp, idx)

	default:
		return 0, false
	}
}

// dwell requires cond to hold continuously for the configured dwell window
// and reports the time the condition first held.
func (d *Detector) dwell(cond bool, t float64, idx int) (float64, bool) {
	if !cond {
		d.candidateActive = false
		return 0, false
	}
	if !d.candidateActive {
		d.candidateActive = true
		d.candidateStart = t
		d.candidateIdx = idx
		d.candidateVel = d.velocity
	}
	if t-d.candidateStart >= d.dwellS {
		return d.candidateStart, true
	}
	return 0, false
}

// transition closes the current phase at time t and opens next.
func (d *Detector) transition(next model.TestPhase, t float64, idx int, reason AbortReason) Transition {
	endIdx := idx
	if d.candidateActive {
		endIdx = d.candidateIdx // segment boundary sits at the condition onset
	}
	seg := model.PhaseSegment{
		Phase:       d.phase,
		StartTime:   d.phaseStart,
		EndTime:     t,
		FirstSample: d.phaseStartIdx,
		LastSample:  endIdx,
	}
	tr := Transition{From: d.phase, To: next, Time: t, Segment: seg, Abort: reason}

	if d.phase != model.PhaseIdle {
		d.segments = append(d.segments, seg)
	}

	startIdx := idx
	if d.candidateActive {
		startIdx = d.candidateIdx
	}
	d.phase = next
	d.phaseStart = t
	d.phaseStartIdx = startIdx
	d.candidateActive = false

	return tr
}

func (d *Detector) abort(t float64, idx int, reason AbortReason) Transition {
	return d.transition(model.PhaseAborted, t, idx, reason)
}
