package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if JUMPLAB_CONFIG is set
//  3. env (prefix JUMPLAB_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("JUMPLAB_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: JUMPLAB_SAMPLE_RATE_HZ, JUMPLAB_QUEUE_SIZE, ...
	// Map env keys like JUMPLAB_SAMPLE_RATE_HZ -> sample_rate_hz (flat keys).
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("JUMPLAB_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "jumplab_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks internal consistency of the configuration.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.TestType {
	case "cmj", "isometric_pull", "balance_hold":
	default:
		return fmt.Errorf("%w: test_type must be cmj, isometric_pull, or balance_hold; got %q", ErrInvalidConfig, c.TestType)
	}
	if !supportedSampleRates[c.SampleRateHz] {
		return fmt.Errorf("%w: sample_rate_hz must be one of 500, 1000, 2000; got %d", ErrInvalidConfig, c.SampleRateHz)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	}
	if c.CalibrationDurationS <= 0 {
		return fmt.Errorf("%w: calibration_duration_s must be positive", ErrInvalidConfig)
	}
	if c.NoiseCeilingN <= 0 {
		return fmt.Errorf("%w: noise_ceiling_n must be positive", ErrInvalidConfig)
	}
	if c.WeightStabilityThresholdKg <= 0 || c.WeightWindowS <= 0 {
		return fmt.Errorf("%w: weight stability parameters must be positive", ErrInvalidConfig)
	}
	if c.FlightForceThresholdN <= 0 {
		return fmt.Errorf("%w: flight_force_threshold_n must be positive", ErrInvalidConfig)
	}
	if c.DwellMs < 0 || c.MaxPhaseDurationMs <= 0 {
		return fmt.Errorf("%w: dwell_ms must be non-negative and max_phase_duration_ms positive", ErrInvalidConfig)
	}
	if c.BalanceHoldS <= 0 {
		return fmt.Errorf("%w: balance_hold_s must be positive", ErrInvalidConfig)
	}
	if c.RFDWindowMs <= 0 || c.COPSampleStride <= 0 {
		return fmt.Errorf("%w: rfd_window_ms and cop_sample_stride must be positive", ErrInvalidConfig)
	}
	if c.HeightAgreementTolerance <= 0 || c.HeightAgreementTolerance >= 1 {
		return fmt.Errorf("%w: height_agreement_tolerance must be in (0,1)", ErrInvalidConfig)
	}
	return nil
}
