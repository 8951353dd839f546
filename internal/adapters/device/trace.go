package device

import (
	"math/rand"

	"github.com/okian/jumplab/internal/domain/model"
)

// Trace synthesis constants.
const (
	traceNoiseSeed = 42 // deterministic for reproducible replays

	defaultQuietS    = 1.0
	defaultUnweightS = 0.3
	defaultDipN      = 250.0
	defaultPushS     = 0.4
	defaultPushN     = 900.0
	defaultLandingS  = 0.12
	defaultRecoveryS = 0.8
)

// TraceBuilder assembles a synthetic force trace piecewise. Pieces are
// recorded as descriptors and only rendered when Samples is called, so the
// left/right split, zero offsets, centre-of-pressure position, and noise
// settings apply to every piece no matter where in the chain they are set.
// Timestamps run continuously from zero at the builder's rate.
type TraceBuilder struct {
	rateHz    int
	leftShare float64
	leftOffN  float64
	rightOffN float64
	copXM     float64
	copYM     float64
	noiseN    float64
	pieces    []tracePiece
}

// tracePiece is a linear force segment; constant pieces have fromN == toN.
type tracePiece struct {
	durationS float64
	fromN     float64
	toN       float64
}

// NewTraceBuilder creates a builder producing an evenly split signal with
// no offsets and no noise.
func NewTraceBuilder(rateHz int) *TraceBuilder {
	if rateHz <= 0 {
		rateHz = defaultRateHz
	}
	return &TraceBuilder{
		rateHz:    rateHz,
		leftShare: 0.5,
	}
}

// LeftShare sets the fraction of total force carried by the left plate.
func (b *TraceBuilder) LeftShare(share float64) *TraceBuilder {
	if share >= 0 && share <= 1 {
		b.leftShare = share
	}
	return b
}

// Offsets applies per-plate zero offsets, simulating an uncalibrated device.
func (b *TraceBuilder) Offsets(leftN, rightN float64) *TraceBuilder {
	b.leftOffN = leftN
	b.rightOffN = rightN
	return b
}

// COP places the centre of pressure at (x, y) metres on both plates; the
// moment channels follow from it.
func (b *TraceBuilder) COP(xM, yM float64) *TraceBuilder {
	b.copXM = xM
	b.copYM = yM
	return b
}

// Noise adds deterministic uniform noise of the given amplitude to each
// plate channel.
func (b *TraceBuilder) Noise(amplitudeN float64) *TraceBuilder {
	if amplitudeN >= 0 {
		b.noiseN = amplitudeN
	}
	return b
}

// Hold appends a constant-force piece.
func (b *TraceBuilder) Hold(durationS, totalN float64) *TraceBuilder {
	b.pieces = append(b.pieces, tracePiece{durationS: durationS, fromN: totalN, toN: totalN})
	return b
}

// Ramp appends a linear force piece from one level to another.
func (b *TraceBuilder) Ramp(durationS, fromN, toN float64) *TraceBuilder {
	b.pieces = append(b.pieces, tracePiece{durationS: durationS, fromN: fromN, toN: toN})
	return b
}

// Flight appends a zero-force piece lasting the ballistic flight time for
// the given takeoff velocity.
func (b *TraceBuilder) Flight(takeoffVelocity float64) *TraceBuilder {
	return b.Hold(2*takeoffVelocity/model.Gravity, 0)
}

// Samples renders the recorded pieces into a trace. Rendering reseeds the
// noise source, so repeated calls yield identical samples.
func (b *TraceBuilder) Samples() []model.ForceSample {
	dt := 1.0 / float64(b.rateHz)
	rng := rand.New(rand.NewSource(traceNoiseSeed)) //nolint:gosec // deterministic seed for reproducible traces

	var (
		t   float64
		out []model.ForceSample
	)
	for _, p := range b.pieces {
		n := int(p.durationS * float64(b.rateHz))
		for i := 0; i < n; i++ {
			frac := float64(i) / float64(n)
			totalN := p.fromN + (p.toN-p.fromN)*frac

			left := totalN * b.leftShare
			right := totalN * (1 - b.leftShare)
			if b.noiseN > 0 {
				left += (rng.Float64()*2 - 1) * b.noiseN
				right += (rng.Float64()*2 - 1) * b.noiseN
			}

			out = append(out, model.ForceSample{
				Timestamp: t,
				LeftFz:    left + b.leftOffN,
				RightFz:   right + b.rightOffN,
				LeftMx:    left * b.copYM,
				LeftMy:    left * b.copXM,
				RightMx:   right * b.copYM,
				RightMy:   right * b.copXM,
			})
			t += dt
		}
	}
	return out
}

// CMJTrace builds a canonical countermovement-jump trace: quiet standing,
// a constant unweighting dip, a constant push, ballistic flight, a landing
// spike, and recovery back to bodyweight. Constant pieces keep the takeoff
// velocity analytically exact: v = (push*pushS - dip*unweightS) / mass.
func CMJTrace(bodyweightN float64, rateHz int) *TraceBuilder {
	mass := bodyweightN / model.Gravity
	vTakeoff := (defaultPushN*defaultPushS - defaultDipN*defaultUnweightS) / mass

	return NewTraceBuilder(rateHz).
		Hold(defaultQuietS, bodyweightN).
		Hold(defaultUnweightS, bodyweightN-defaultDipN).
		Hold(defaultPushS, bodyweightN+defaultPushN).
		Flight(vTakeoff).
		Hold(defaultLandingS, 1.8*bodyweightN).
		Hold(defaultRecoveryS, bodyweightN)
}

// UnloadedTrace builds a quiet window of an empty plate, optionally with
// offsets and noise already applied through the builder.
func UnloadedTrace(rateHz int, durationS float64) *TraceBuilder {
	return NewTraceBuilder(rateHz).Hold(durationS, 0)
}
