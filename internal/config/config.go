// Package config defines engine configuration structures and loading hooks.
//
// Conventions:
//   - Provide New() initializer to build a Config with defaults.
//   - Thresholds the detector and metrics engine depend on are configuration,
//     never hard-coded constants in the engines themselves.
//   - External errors must be wrapped via this package's error helpers.
package config

// Supported sample rates, Hz.
var supportedSampleRates = map[int]bool{500: true, 1000: true, 2000: true}

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address for /metrics and /ws.
	Addr string `koanf:"addr"`

	// DeviceID selects the plate to connect to.
	DeviceID string `koanf:"device_id"`

	// AthleteID tags the session in results and progress events.
	AthleteID string `koanf:"athlete_id"`

	// TestType selects the movement profile: cmj, isometric_pull,
	// balance_hold.
	TestType string `koanf:"test_type"`

	// SampleRateHz is the negotiated device rate. One of 500, 1000, 2000.
	SampleRateHz int `koanf:"sample_rate_hz"`

	// QueueSize bounds the in-memory sample queue between the device
	// producer and the pipeline consumer.
	QueueSize int `koanf:"queue_size"`

	// CalibrationDurationS is the quiet-window length used to compute the
	// zero offsets and noise floor.
	CalibrationDurationS float64 `koanf:"calibration_duration_s"`

	// NoiseCeilingN rejects a calibration whose total-force std-dev
	// exceeds it.
	NoiseCeilingN float64 `koanf:"noise_ceiling_n"`

	// WeightStabilityThresholdKg bounds the total-force std-dev (expressed
	// in kilograms) tolerated during bodyweight measurement.
	WeightStabilityThresholdKg float64 `koanf:"weight_stability_threshold_kg"`

	// WeightWindowS is the stability window over which bodyweight is
	// averaged.
	WeightWindowS float64 `koanf:"weight_window_s"`

	// FlightForceThresholdN is the near-zero force level marking flight.
	FlightForceThresholdN float64 `koanf:"flight_force_threshold_n"`

	// UnweightNoiseMultiplier is k in the QuietStanding->Unweighting
	// condition: force below bodyweight minus k times the noise floor.
	UnweightNoiseMultiplier float64 `koanf:"unweight_noise_multiplier"`

	// DwellMs is the minimum hold time for threshold conditions before a
	// transition fires (hysteresis against noise flapping).
	DwellMs float64 `koanf:"dwell_ms"`

	// LandingToleranceN is the half-width of the band around bodyweight
	// that counts as restabilized after landing.
	LandingToleranceN float64 `koanf:"landing_tolerance_n"`

	// MaxPhaseDurationMs aborts a test when any single phase exceeds it.
	MaxPhaseDurationMs float64 `koanf:"max_phase_duration_ms"`

	// BalanceHoldS is how long a balance-hold test keeps the athlete in
	// quiet standing before the test completes.
	BalanceHoldS float64 `koanf:"balance_hold_s"`

	// RFDWindowMs is the regression window at propulsion onset.
	RFDWindowMs float64 `koanf:"rfd_window_ms"`

	// COPMinFzN guards centre-of-pressure division against near-zero Fz.
	COPMinFzN float64 `koanf:"cop_min_fz_n"`

	// COPSampleStride spaces centre-of-pressure sampling, in samples.
	COPSampleStride int `koanf:"cop_sample_stride"`

	// HeightAgreementTolerance is the relative difference between the two
	// jump-height estimates beyond which quality degrades.
	HeightAgreementTolerance float64 `koanf:"height_agreement_tolerance"`
}

// New creates a Config populated with defaults. The numeric thresholds are
// tuned for countermovement-jump traces at 1000 Hz and can all be overridden
// through file or environment configuration.
func New() *Config {
	return &Config{
		LogLevel:                   "info",
		Addr:                       ":9180",
		DeviceID:                   "sim-0",
		AthleteID:                  "athlete-local",
		TestType:                   "cmj",
		SampleRateHz:               1000,
		QueueSize:                  8192,
		CalibrationDurationS:       2.5,
		NoiseCeilingN:              12.0,
		WeightStabilityThresholdKg: 0.5,
		WeightWindowS:              1.0,
		FlightForceThresholdN:      30.0,
		UnweightNoiseMultiplier:    5.0,
		DwellMs:                    30.0,
		LandingToleranceN:          50.0,
		MaxPhaseDurationMs:         10_000,
		BalanceHoldS:               10.0,
		RFDWindowMs:                100.0,
		COPMinFzN:                  20.0,
		COPSampleStride:            10,
		HeightAgreementTolerance:   0.15,
	}
}
