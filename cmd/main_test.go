package main

import (
	"context"
	"os"
	"testing"

	"github.com/okian/jumplab/internal/app"
	"github.com/okian/jumplab/internal/config"
	"github.com/okian/jumplab/internal/domain/model"
	"github.com/okian/jumplab/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestProcessWiring(t *testing.T) {
	convey.Convey("Given the process entrypoint", t, func() {
		convey.Convey("When loading configuration from the environment", func() {
			_ = os.Setenv("JUMPLAB_ADDR", ":8080")
			_ = os.Setenv("JUMPLAB_TEST_TYPE", "isometric_pull")
			defer func() {
				_ = os.Unsetenv("JUMPLAB_ADDR")
				_ = os.Unsetenv("JUMPLAB_TEST_TYPE")
			}()

			convey.Convey("Then the overrides land in the config", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.TestType, convey.ShouldEqual, "isometric_pull")
			})
		})

		convey.Convey("When creating the coordinator with defaults", func() {
			svc := app.New()
			convey.So(svc, convey.ShouldNotBeNil)
			convey.So(svc.State(), convey.ShouldEqual, app.StateConnecting)
		})

		convey.Convey("When synthesizing the demo trace", func() {
			cfg := config.New()

			for _, tt := range []model.TestType{
				model.TestCountermovementJump,
				model.TestIsometricPull,
				model.TestBalanceHold,
			} {
				samples := sessionTrace(cfg, tt)
				convey.So(len(samples), convey.ShouldBeGreaterThan, cfg.SampleRateHz)

				// The leading piece is the unloaded calibration window.
				convey.So(samples[0].TotalFz(), convey.ShouldAlmostEqual, 0, 2*traceNoiseN)
				convey.So(samples[0].Timestamp, convey.ShouldEqual, 0)
			}
		})
	})
}
