package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/jumplab/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9180")
				convey.So(cfg.SampleRateHz, convey.ShouldEqual, 1000)
				convey.So(cfg.CalibrationDurationS, convey.ShouldEqual, 2.5)
				convey.So(cfg.FlightForceThresholdN, convey.ShouldEqual, 30.0)
				convey.So(cfg.MaxPhaseDurationMs, convey.ShouldEqual, 10_000)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("JUMPLAB_ADDR", ":8080")
			_ = os.Setenv("JUMPLAB_SAMPLE_RATE_HZ", "2000")
			_ = os.Setenv("JUMPLAB_QUEUE_SIZE", "1024")
			_ = os.Setenv("JUMPLAB_FLIGHT_FORCE_THRESHOLD_N", "25")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.SampleRateHz, convey.ShouldEqual, 2000)
				convey.So(cfg.QueueSize, convey.ShouldEqual, 1024)
				convey.So(cfg.FlightForceThresholdN, convey.ShouldEqual, 25.0)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
addr: ":9090"
sample_rate_hz: 500
calibration_duration_s: 3.0
noise_ceiling_n: 8.0
`
			tmpFile := createTempConfigFile(t, yamlContent)
			_ = os.Setenv("JUMPLAB_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then the file values should override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.SampleRateHz, convey.ShouldEqual, 500)
				convey.So(cfg.CalibrationDurationS, convey.ShouldEqual, 3.0)
				convey.So(cfg.NoiseCeilingN, convey.ShouldEqual, 8.0)
			})
		})

		convey.Convey("When the sample rate is unsupported", func() {
			_ = os.Setenv("JUMPLAB_SAMPLE_RATE_HZ", "44100")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then loading should fail with ErrInvalidConfig", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(err, convey.ShouldWrap, config.ErrInvalidConfig)
			})
		})
	})
}

func TestConfigValidate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New()

		convey.Convey("Then it should validate cleanly", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("When a threshold is zeroed out", func() {
			cfg.FlightForceThresholdN = 0

			convey.Convey("Then validation should fail", func() {
				convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
			})
		})

		convey.Convey("When the height tolerance is out of range", func() {
			cfg.HeightAgreementTolerance = 1.5

			convey.Convey("Then validation should fail", func() {
				convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
			})
		})
	})
}

func clearConfigEnvVars() {
	for _, k := range []string{
		"JUMPLAB_CONFIG",
		"JUMPLAB_ADDR",
		"JUMPLAB_SAMPLE_RATE_HZ",
		"JUMPLAB_QUEUE_SIZE",
		"JUMPLAB_FLIGHT_FORCE_THRESHOLD_N",
	} {
		_ = os.Unsetenv(k)
	}
}

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}
