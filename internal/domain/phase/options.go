package phase

// Option applies a configuration option to the Detector.
type Option func(*Detector)

// WithFlightThreshold sets the near-zero force level marking flight, newtons.
func WithFlightThreshold(n float64) Option {
	return func(d *Detector) {
		if n > 0 {
			d.flightThresholdN = n
		}
	}
}

// WithUnweightMultiplier sets k in the unweighting onset condition
// (force below bodyweight minus k times the noise floor).
func WithUnweightMultiplier(k float64) Option {
	return func(d *Detector) {
		if k > 0 {
			d.unweightK = k
		}
	}
}

// WithDwell sets the minimum hold time for threshold conditions, seconds.
func WithDwell(seconds float64) Option {
	return func(d *Detector) {
		if seconds >= 0 {
			d.dwellS = seconds
		}
	}
}

// WithLandingTolerance sets the restabilization band around bodyweight, newtons.
func WithLandingTolerance(n float64) Option {
	return func(d *Detector) {
		if n > 0 {
			d.landingToleranceN = n
		}
	}
}

// WithMaxPhaseDuration sets the per-phase abort guard, seconds.
func WithMaxPhaseDuration(seconds float64) Option {
	return func(d *Detector) {
		if seconds > 0 {
			d.maxPhaseS = seconds
		}
	}
}

// WithBalanceHold sets the balance-hold test duration, seconds.
func WithBalanceHold(seconds float64) Option {
	return func(d *Detector) {
		if seconds > 0 {
			d.balanceHoldS = seconds
		}
	}
}
