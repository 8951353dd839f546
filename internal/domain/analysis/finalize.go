package analysis

import (
	"math"
	"time"

	"github.com/okian/jumplab/internal/domain/model"
	"github.com/okian/jumplab/internal/domain/phase"
)

// Quality component weights. Together they sum to 100 for a jump test; test
// types without two height estimates renormalize over the applicable ones.
const (
	weightCompleteness = 40.0
	weightAgreement    = 25.0
	weightNoise        = 15.0
	weightAsymmetry    = 20.0

	// Asymmetry saturates the quality penalty at this index value.
	asymmetryPenaltyCap = 30.0

	// Quality enum cutoffs.
	cutoffExcellent = 85.0
	cutoffGood      = 70.0
	cutoffFair      = 50.0
)

// FinalizeInput carries the facts only the detector and the pipeline know.
type FinalizeInput struct {
	SessionID       string
	TakeoffVelocity float64
	TookOff         bool
	Aborted         bool
	DroppedSamples  int
	TotalSamples    int
}

// Finalize computes the derived-metric set from the accumulated segments.
// It is called exactly once per session, after the detector reached a
// terminal phase. A mandatory phase that never closed yields a result
// flagged incomplete, with the metrics that depend on it omitted rather
// than fabricated.
func (e *Engine) Finalize(in FinalizeInput) model.TestResult {
	metrics := make(map[string]float64)

	closed := make(map[model.TestPhase]bool, len(e.segments))
	for _, seg := range e.segments {
		closed[seg.Phase] = true
	}

	mandatory := phase.MandatoryPhases(e.testType)
	complete := !in.Aborted
	for _, p := range mandatory {
		if !closed[p] {
			complete = false
		}
	}

	peak := e.peakForce()
	if peak > 0 {
		metrics[model.MetricPeakForce] = peak
	}

	if prop := e.closedStats(model.PhasePropulsion); prop != nil {
		metrics[model.MetricImpulse] = prop.netImpulse
	}

	if rfd, ok := e.rfdSlope(); ok {
		metrics[model.MetricRFD] = rfd
	}

	asym, haveAsym := e.asymmetry()
	if haveAsym {
		metrics[model.MetricAsymmetryIndex] = asym
	}

	var heightFT, heightImp float64
	var haveFT, haveImp bool
	if flight := e.closedStats(model.PhaseFlight); flight != nil {
		tf := flight.endTime - flight.startTime
		if tf > 0 {
			metrics[model.MetricFlightTimeMs] = tf * 1000
			heightFT = model.Gravity * tf * tf / 8
			metrics[model.MetricJumpHeightFlightTime] = heightFT
			haveFT = true
		}
	}
	if in.TookOff && in.TakeoffVelocity > 0 {
		heightImp = in.TakeoffVelocity * in.TakeoffVelocity / (2 * model.Gravity)
		metrics[model.MetricJumpHeightImpulse] = heightImp
		haveImp = true
	}

	if ct, ok := e.contactTime(); ok {
		metrics[model.MetricContactTimeMs] = ct * 1000
	}

	if left, right, ok := e.copRanges(); ok {
		metrics[model.MetricCOPRangeLeft] = left
		metrics[model.MetricCOPRangeRight] = right
	}

	score := e.qualityScore(qualityInput{
		mandatory: mandatory,
		closed:    closed,
		haveFT:    haveFT,
		haveImp:   haveImp,
		heightFT:  heightFT,
		heightImp: heightImp,
		asym:      asym,
		haveAsym:  haveAsym,
		dropped:   in.DroppedSamples,
		total:     in.TotalSamples,
	})
	metrics[model.MetricQualityScore] = score

	return model.TestResult{
		SessionID:    in.SessionID,
		TestType:     e.testType,
		Metrics:      metrics,
		Quality:      qualityFromScore(score),
		QualityScore: score,
		DurationMs:   (e.lastTime - e.firstTime) * 1000,
		CreatedAt:    time.Now(),
		Incomplete:   !complete,
	}
}

// closedStats returns the stats for a phase only once its segment closed.
func (e *Engine) closedStats(p model.TestPhase) *segmentStats {
	st := e.stats[p]
	if st == nil || !st.closed {
		return nil
	}
	return st
}

// peakForce is taken over the effort phases, not the landing spike.
func (e *Engine) peakForce() float64 {
	var peak float64
	phases := []model.TestPhase{model.PhaseBraking, model.PhasePropulsion}
	if e.testType == model.TestBalanceHold {
		phases = []model.TestPhase{model.PhaseQuietStanding}
	}
	for _, p := range phases {
		if st := e.closedStats(p); st != nil && st.peakForce > peak {
			peak = st.peakForce
		}
	}
	return peak
}

// rfdSlope fits force against time over the propulsion-onset window by
// least squares. A two-point slope would amplify sample noise.
func (e *Engine) rfdSlope() (float64, bool) {
	n := len(e.rfdTimes)
	if n < 3 {
		return 0, false
	}
	var sumX, sumY, sumXY, sumX2 float64
	for i := 0; i < n; i++ {
		x, y := e.rfdTimes[i], e.rfdForces[i]
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}
	fn := float64(n)
	denom := fn*sumX2 - sumX*sumX
	if denom == 0 {
		return 0, false
	}
	return (fn*sumXY - sumX*sumY) / denom, true
}

// asymmetry is the left/right impulse imbalance over the key segment:
// propulsion for jumps and pulls, the hold itself for balance tests.
// Segment-scoped integrals keep instantaneous noise out of the index.
func (e *Engine) asymmetry() (float64, bool) {
	keyPhase := model.PhasePropulsion
	if e.testType == model.TestBalanceHold {
		keyPhase = model.PhaseQuietStanding
	}
	st := e.closedStats(keyPhase)
	if st == nil {
		return 0, false
	}
	left := math.Abs(st.leftImpulse)
	right := math.Abs(st.rightImpulse)
	sum := left + right
	if sum <= 0 {
		return 0, true
	}
	idx := 100 * math.Abs(left-right) / sum
	return math.Min(idx, 100), true
}

// contactTime spans movement onset to takeoff.
func (e *Engine) contactTime() (float64, bool) {
	un := e.closedStats(model.PhaseUnweighting)
	flight := e.stats[model.PhaseFlight]
	if un == nil || flight == nil {
		return 0, false
	}
	return flight.startTime - un.startTime, true
}

// copRanges reports the centre-of-pressure excursion extents per plate,
// aggregated over all closed segments' samples.
func (e *Engine) copRanges() (left, right float64, ok bool) {
	var l, r copRange
	for _, st := range e.stats {
		if st.copLeft.n > 0 {
			l.add(st.copLeft.minX, st.copLeft.minY)
			l.add(st.copLeft.maxX, st.copLeft.maxY)
		}
		if st.copRight.n > 0 {
			r.add(st.copRight.minX, st.copRight.minY)
			r.add(st.copRight.maxX, st.copRight.maxY)
		}
	}
	if l.n == 0 && r.n == 0 {
		return 0, 0, false
	}
	return l.extent(), r.extent(), true
}

type qualityInput struct {
	mandatory []model.TestPhase
	closed    map[model.TestPhase]bool
	haveFT    bool
	haveImp   bool
	heightFT  float64
	heightImp float64
	asym      float64
	haveAsym  bool
	dropped   int
	total     int
}

// qualityScore combines phase completeness, jump-height agreement,
// calibration noise, and asymmetry into a 0-100 score. Dropped samples are
// a no-signal penalty, never a hard failure.
func (e *Engine) qualityScore(in qualityInput) float64 {
	var achieved, applicable float64

	applicable += weightCompleteness
	if len(in.mandatory) > 0 {
		done := 0
		for _, p := range in.mandatory {
			if in.closed[p] {
				done++
			}
		}
		achieved += weightCompleteness * float64(done) / float64(len(in.mandatory))
	} else {
		achieved += weightCompleteness
	}

	if e.testType == model.TestCountermovementJump {
		applicable += weightAgreement
		if in.haveFT && in.haveImp {
			ref := math.Max(in.heightFT, in.heightImp)
			if ref > 0 {
				rel := math.Abs(in.heightFT-in.heightImp) / ref
				achieved += weightAgreement * clamp01(1-rel/e.heightTol)
			}
		}
	}

	applicable += weightNoise
	if e.noiseCeilingN > 0 {
		achieved += weightNoise * clamp01(1-e.profile.NoiseStdDev/e.noiseCeilingN)
	} else {
		achieved += weightNoise
	}

	applicable += weightAsymmetry
	if in.haveAsym {
		achieved += weightAsymmetry * clamp01(1-in.asym/asymmetryPenaltyCap)
	}

	score := 100 * achieved / applicable

	if in.total > 0 && in.dropped > 0 {
		score -= 100 * float64(in.dropped) / float64(in.total+in.dropped)
	}

	return math.Max(0, math.Min(100, score))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// qualityFromScore maps the numeric score onto the ordinal enum.
func qualityFromScore(score float64) model.Quality {
	switch {
	case score >= cutoffExcellent:
		return model.QualityExcellent
	case score >= cutoffGood:
		return model.QualityGood
	case score >= cutoffFair:
		return model.QualityFair
	default:
		return model.QualityPoor
	}
}
