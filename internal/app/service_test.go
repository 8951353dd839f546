package app_test

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/okian/jumplab/internal/adapters/device"
	"github.com/okian/jumplab/internal/adapters/repository"
	"github.com/okian/jumplab/internal/app"
	"github.com/okian/jumplab/internal/config"
	"github.com/okian/jumplab/internal/domain/calibration"
	"github.com/okian/jumplab/internal/domain/model"
	"github.com/okian/jumplab/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

const bodyweightN = 735.75 // 75 kg

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	logger.SetLevelString("error")
	os.Exit(m.Run())
}

// fullSessionTrace covers a whole session on one continuous timeline: an
// unloaded calibration window, the athlete stepping on and standing, and a
// countermovement jump.
func fullSessionTrace() []model.ForceSample {
	return device.NewTraceBuilder(1000).
		Hold(2.6, 0).
		Hold(2.0, bodyweightN).
		Hold(0.3, bodyweightN-250).
		Hold(0.4, bodyweightN+900).
		Flight(3.8).
		Hold(0.12, 1.8*bodyweightN).
		Hold(0.8, bodyweightN).
		Samples()
}

func newService(trace []model.ForceSample, opts ...app.Option) (*app.Service, repository.Store) {
	store := repository.NewInMemoryStore()
	opts = append(opts,
		app.WithDevice(device.NewSimulated(device.WithTrace(trace))),
		app.WithStore(store),
	)
	return app.New(opts...), store
}

func waitState(svc *app.Service, want app.WorkflowState, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if svc.State() == want {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestWorkflowOrdering(t *testing.T) {
	Convey("Given a fresh coordinator", t, func() {
		svc, _ := newService(fullSessionTrace())

		Convey("Then calibration before connect is a workflow violation", func() {
			_, err := svc.StartCalibration(context.Background())
			So(errors.Is(err, app.ErrWorkflow), ShouldBeTrue)
		})

		Convey("When connected but not calibrated", func() {
			err := svc.Connect(context.Background(), "sim-0", "athlete-1", model.TestCountermovementJump)
			So(err, ShouldBeNil)
			defer svc.Close()

			Convey("Then starting a test is rejected and nothing advances", func() {
				_, err := svc.StartTest(context.Background())
				So(errors.Is(err, app.ErrWorkflow), ShouldBeTrue)
				So(svc.State(), ShouldEqual, app.StateCalibrating)

				sess, ok := svc.Session()
				So(ok, ShouldBeTrue)
				So(sess.Phase, ShouldEqual, model.PhaseIdle)
			})

			Convey("Then a second connect is rejected", func() {
				err := svc.Connect(context.Background(), "sim-0", "athlete-1", model.TestCountermovementJump)
				So(errors.Is(err, app.ErrWorkflow), ShouldBeTrue)
			})
		})
	})
}

func TestFullSession(t *testing.T) {
	Convey("Given a connected coordinator and a complete jump trace", t, func() {
		svc, store := newService(fullSessionTrace())
		ctx := context.Background()

		So(svc.Connect(ctx, "sim-0", "athlete-1", model.TestCountermovementJump), ShouldBeNil)
		defer svc.Close()

		Convey("When calibration runs on the unloaded window", func() {
			profile, err := svc.StartCalibration(ctx)
			So(err, ShouldBeNil)
			So(profile.LeftOffset, ShouldAlmostEqual, 0, 0.001)
			So(profile.RightOffset, ShouldAlmostEqual, 0, 0.001)
			So(svc.State(), ShouldEqual, app.StateMeasuringWeight)

			Convey("And the test runs to completion", func() {
				res, err := svc.StartTest(ctx)
				So(err, ShouldBeNil)
				So(svc.State(), ShouldEqual, app.StateComplete)
				So(res.Incomplete, ShouldBeFalse)
				So(res.TestType, ShouldEqual, model.TestCountermovementJump)

				Convey("Then bodyweight was measured off the stream", func() {
					sess, ok := svc.Session()
					So(ok, ShouldBeTrue)
					So(sess.BodyWeightN, ShouldAlmostEqual, bodyweightN, 0.5)
				})

				Convey("Then the jump metrics match the trace construction", func() {
					want := 3.8 * 3.8 / (2 * model.Gravity)
					So(res.Metrics[model.MetricJumpHeightImpulse], ShouldAlmostEqual, want, 0.02*want)
					So(res.Metrics[model.MetricJumpHeightFlightTime], ShouldAlmostEqual, want, 0.02*want)
					So(res.Quality, ShouldEqual, model.QualityExcellent)
				})

				Convey("Then the result is persisted under the session ID", func() {
					sess, _ := svc.Session()
					saved, err := store.Get(ctx, sess.ID)
					So(err, ShouldBeNil)
					So(saved.SessionID, ShouldEqual, sess.ID)
					So(store.Count(ctx), ShouldEqual, 1)
				})

				Convey("Then progress events were published", func() {
					select {
					case ev := <-svc.Events():
						So(ev.SessionID, ShouldNotBeEmpty)
					default:
						So("no events", ShouldBeEmpty)
					}
				})
			})
		})
	})
}

func TestCalibrationRedo(t *testing.T) {
	Convey("Given a trace whose first quiet window is too noisy", t, func() {
		// The first quiet window drifts across +-60 N; its std-dev (~35 N)
		// blows past the noise ceiling while the mean stays near zero.
		trace := device.NewTraceBuilder(1000).
			Ramp(2.5, -60, 60).
			Hold(2.6, 0).
			Hold(2.0, bodyweightN).
			Hold(0.3, bodyweightN-250).
			Hold(0.4, bodyweightN+900).
			Flight(3.8).
			Hold(0.12, 1.8*bodyweightN).
			Hold(0.8, bodyweightN).
			Samples()
		// The trace outgrows the default queue; nothing may shed while the
		// replay outpaces the calibration consumer.
		cfg := config.New()
		cfg.QueueSize = 16384
		svc, _ := newService(trace, app.WithConfig(cfg))
		ctx := context.Background()

		So(svc.Connect(ctx, "sim-0", "athlete-1", model.TestCountermovementJump), ShouldBeNil)
		defer svc.Close()

		Convey("When the first calibration attempt runs", func() {
			_, err := svc.StartCalibration(ctx)

			Convey("Then it is rejected and no profile is installed", func() {
				So(errors.Is(err, calibration.ErrExcessiveNoise), ShouldBeTrue)
				So(svc.State(), ShouldEqual, app.StateCalibrating)

				_, terr := svc.StartTest(ctx)
				So(errors.Is(terr, app.ErrWorkflow), ShouldBeTrue)
			})

			Convey("And a redo on the clean window succeeds", func() {
				profile, rerr := svc.StartCalibration(ctx)
				So(rerr, ShouldBeNil)
				So(profile.NoiseStdDev, ShouldBeLessThan, 12)
				So(svc.State(), ShouldEqual, app.StateMeasuringWeight)

				res, terr := svc.StartTest(ctx)
				So(terr, ShouldBeNil)
				So(res.Incomplete, ShouldBeFalse)
			})
		})
	})
}

func TestBalanceHoldSession(t *testing.T) {
	Convey("Given a balance-hold session with a short configured hold", t, func() {
		trace := device.NewTraceBuilder(1000).
			Hold(2.6, 0).
			Hold(4.0, bodyweightN).
			Samples()
		cfg := config.New()
		cfg.BalanceHoldS = 0.5
		svc, store := newService(trace, app.WithConfig(cfg))
		ctx := context.Background()

		So(svc.Connect(ctx, "sim-0", "athlete-1", model.TestBalanceHold), ShouldBeNil)
		defer svc.Close()

		Convey("When the athlete stands through the hold", func() {
			_, err := svc.StartCalibration(ctx)
			So(err, ShouldBeNil)

			res, err := svc.StartTest(ctx)

			Convey("Then the hold completes rather than timing out", func() {
				So(err, ShouldBeNil)
				So(res.Incomplete, ShouldBeFalse)
				So(res.TestType, ShouldEqual, model.TestBalanceHold)
				So(svc.State(), ShouldEqual, app.StateComplete)
				So(store.Count(ctx), ShouldEqual, 1)
			})
		})
	})
}

func TestCorruptSamplesDuringSetup(t *testing.T) {
	Convey("Given a trace with corrupt samples in the calibration and weight windows", t, func() {
		trace := fullSessionTrace()
		trace[1000].LeftFz = math.NaN()
		trace[3000].RightFz = math.Inf(1)
		svc, _ := newService(trace)
		ctx := context.Background()

		So(svc.Connect(ctx, "sim-0", "athlete-1", model.TestCountermovementJump), ShouldBeNil)
		defer svc.Close()

		Convey("When calibration and weight measurement run over them", func() {
			profile, err := svc.StartCalibration(ctx)

			Convey("Then the profile stays finite and near zero", func() {
				So(err, ShouldBeNil)
				So(profile.LeftOffset, ShouldAlmostEqual, 0, 0.001)
				So(math.IsNaN(profile.NoiseStdDev), ShouldBeFalse)
			})

			Convey("And bodyweight is still measured off the clean samples", func() {
				So(err, ShouldBeNil)
				res, terr := svc.StartTest(ctx)
				So(terr, ShouldBeNil)
				So(res.Incomplete, ShouldBeFalse)

				sess, ok := svc.Session()
				So(ok, ShouldBeTrue)
				So(sess.BodyWeightN, ShouldAlmostEqual, bodyweightN, 0.5)
			})
		})
	})
}

func TestStreamEndsMidTest(t *testing.T) {
	Convey("Given a trace that ends during propulsion", t, func() {
		trace := device.NewTraceBuilder(1000).
			Hold(2.6, 0).
			Hold(2.0, bodyweightN).
			Hold(0.3, bodyweightN-250).
			Hold(0.2, bodyweightN+900).
			Samples()
		svc, store := newService(trace)
		ctx := context.Background()

		So(svc.Connect(ctx, "sim-0", "athlete-1", model.TestCountermovementJump), ShouldBeNil)
		defer svc.Close()
		_, err := svc.StartCalibration(ctx)
		So(err, ShouldBeNil)

		Convey("When the test runs off the end of the stream", func() {
			res, err := svc.StartTest(ctx)

			Convey("Then it finalizes an incomplete result instead of hanging", func() {
				So(err, ShouldBeNil)
				So(res.Incomplete, ShouldBeTrue)
				So(svc.State(), ShouldEqual, app.StateAborted)

				_, ok := res.Metrics[model.MetricJumpHeightFlightTime]
				So(ok, ShouldBeFalse)
				So(store.Count(ctx), ShouldEqual, 1)
			})
		})
	})
}

// realtimeService builds a paced 500 Hz session that idles at bodyweight
// forever, so stop and cancel can interrupt a live test deterministically.
func realtimeService() (*app.Service, repository.Store) {
	cfg := config.New()
	cfg.SampleRateHz = 500
	cfg.CalibrationDurationS = 0.2
	cfg.WeightWindowS = 0.2

	trace := device.NewTraceBuilder(500).
		Hold(0.25, 0).
		Hold(10.0, bodyweightN).
		Samples()

	store := repository.NewInMemoryStore()
	svc := app.New(
		app.WithDevice(device.NewSimulated(
			device.WithTrace(trace),
			device.WithRate(500),
			device.WithRealtime(true),
		)),
		app.WithStore(store),
		app.WithConfig(cfg),
	)
	return svc, store
}

func TestStopTest(t *testing.T) {
	Convey("Given a live test idling at bodyweight", t, func() {
		svc, store := realtimeService()
		ctx := context.Background()

		So(svc.Connect(ctx, "sim-0", "athlete-1", model.TestCountermovementJump), ShouldBeNil)
		defer svc.Close()
		_, err := svc.StartCalibration(ctx)
		So(err, ShouldBeNil)

		type outcome struct {
			res model.TestResult
			err error
		}
		done := make(chan outcome, 1)
		go func() {
			res, err := svc.StartTest(ctx)
			done <- outcome{res, err}
		}()

		So(waitState(svc, app.StateExecuting, 3*time.Second), ShouldBeTrue)

		Convey("When the operator stops the test", func() {
			So(svc.StopTest(), ShouldBeNil)

			var out outcome
			select {
			case out = <-done:
			case <-time.After(3 * time.Second):
				So("test did not finalize", ShouldBeEmpty)
			}

			Convey("Then it finalizes whatever exists and completes", func() {
				So(out.err, ShouldBeNil)
				So(out.res.Incomplete, ShouldBeTrue)
				So(svc.State(), ShouldEqual, app.StateComplete)
				So(store.Count(ctx), ShouldEqual, 1)
			})
		})
	})
}

func TestCancel(t *testing.T) {
	Convey("Given a live test idling at bodyweight", t, func() {
		svc, store := realtimeService()
		ctx := context.Background()

		So(svc.Connect(ctx, "sim-0", "athlete-1", model.TestCountermovementJump), ShouldBeNil)
		defer svc.Close()
		_, err := svc.StartCalibration(ctx)
		So(err, ShouldBeNil)

		type outcome struct {
			res model.TestResult
			err error
		}
		done := make(chan outcome, 1)
		go func() {
			res, err := svc.StartTest(ctx)
			done <- outcome{res, err}
		}()

		So(waitState(svc, app.StateExecuting, 3*time.Second), ShouldBeTrue)

		Convey("When the session is cancelled", func() {
			So(svc.Cancel(), ShouldBeNil)

			var out outcome
			select {
			case out = <-done:
			case <-time.After(3 * time.Second):
				So("test did not finalize", ShouldBeEmpty)
			}

			Convey("Then the session aborts", func() {
				So(out.err, ShouldBeNil)
				So(out.res.Incomplete, ShouldBeTrue)
				So(svc.State(), ShouldEqual, app.StateAborted)

				sess, ok := svc.Session()
				So(ok, ShouldBeTrue)
				So(sess.Phase, ShouldEqual, model.PhaseAborted)
				So(store.Count(ctx), ShouldEqual, 1)
			})

			Convey("And cancelling again is rejected", func() {
				So(errors.Is(svc.Cancel(), app.ErrWorkflow), ShouldBeTrue)
			})
		})
	})
}
