package calibration_test

import (
	"math"
	"testing"

	"github.com/okian/jumplab/internal/domain/calibration"
	"github.com/okian/jumplab/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func quietSample(t float64, left, right float64) model.ForceSample {
	return model.ForceSample{Timestamp: t, LeftFz: left, RightFz: right}
}

func TestCalibrator(t *testing.T) {
	Convey("Given a calibrator at 1000 Hz with a 1 s quiet window", t, func() {
		cal := calibration.NewCalibrator(
			calibration.WithSampleRate(1000),
			calibration.WithDuration(1.0),
			calibration.WithNoiseCeiling(5.0),
		)

		Convey("When fed a clean offset signal", func() {
			for i := 0; i < cal.Required(); i++ {
				cal.Add(quietSample(float64(i)/1000, 3.5, -1.25))
			}

			profile, err := cal.Profile()

			Convey("Then the offsets equal the channel means and noise is zero", func() {
				So(err, ShouldBeNil)
				So(profile.LeftOffset, ShouldAlmostEqual, 3.5, 1e-9)
				So(profile.RightOffset, ShouldAlmostEqual, -1.25, 1e-9)
				So(profile.NoiseStdDev, ShouldAlmostEqual, 0, 1e-6)
				So(profile.SampleCount, ShouldEqual, 1000)
			})

			Convey("And calibrated samples subtract the offsets", func() {
				So(err, ShouldBeNil)
				s := quietSample(2.0, 10.0, 10.0).Calibrated(profile)
				So(s.LeftFz, ShouldAlmostEqual, 6.5, 1e-9)
				So(s.RightFz, ShouldAlmostEqual, 11.25, 1e-9)
			})
		})

		Convey("When fed an alternating signal above the noise ceiling", func() {
			// Square wave of +-8 N around zero: std-dev 8 N > ceiling 5 N.
			for i := 0; i < cal.Required(); i++ {
				v := 8.0
				if i%2 == 1 {
					v = -8.0
				}
				cal.Add(quietSample(float64(i)/1000, v, 0))
			}

			profile, err := cal.Profile()

			Convey("Then calibration fails with ErrExcessiveNoise and no profile", func() {
				So(err, ShouldWrap, calibration.ErrExcessiveNoise)
				So(profile, ShouldResemble, model.CalibrationProfile{})
			})
		})

		Convey("When a corrupt sample lands inside the window", func() {
			cal.Add(quietSample(0, math.NaN(), math.Inf(1)))
			for i := 0; i < cal.Required(); i++ {
				cal.Add(quietSample(float64(i+1)/1000, 3.5, -1.25))
			}

			profile, err := cal.Profile()

			Convey("Then it never reaches the statistics", func() {
				So(err, ShouldBeNil)
				So(math.IsNaN(profile.LeftOffset), ShouldBeFalse)
				So(profile.LeftOffset, ShouldAlmostEqual, 3.5, 1e-9)
				So(profile.NoiseStdDev, ShouldAlmostEqual, 0, 1e-6)
				So(profile.SampleCount, ShouldEqual, 1000)
			})
		})

		Convey("When the window is cut short", func() {
			for i := 0; i < cal.Required()/2; i++ {
				cal.Add(quietSample(float64(i)/1000, 0, 0))
			}

			_, err := cal.Profile()

			Convey("Then calibration fails with ErrInsufficientDuration", func() {
				So(cal.Done(), ShouldBeFalse)
				So(err, ShouldWrap, calibration.ErrInsufficientDuration)
			})
		})
	})
}

func TestWeightMeasurer(t *testing.T) {
	Convey("Given a weight measurer with a 0.5 s window", t, func() {
		wm := calibration.NewWeightMeasurer(
			calibration.WithWeightSampleRate(1000),
			calibration.WithWeightWindow(0.5),
			calibration.WithStabilityThreshold(0.5),
		)

		Convey("When an athlete stands steadily at 735.75 N", func() {
			var weight float64
			var stable bool
			for i := 0; i < 600 && !stable; i++ {
				weight, stable = wm.Add(quietSample(float64(i)/1000, 367.875, 367.875))
			}

			Convey("Then bodyweight is the window mean", func() {
				So(stable, ShouldBeTrue)
				So(weight, ShouldAlmostEqual, 735.75, 1e-6)
			})
		})

		Convey("When the signal keeps oscillating beyond the threshold", func() {
			stableEver := false
			for i := 0; i < 2000; i++ {
				v := 360.0 + 40.0*math.Sin(float64(i)/3)
				if _, ok := wm.Add(quietSample(float64(i)/1000, v, v)); ok {
					stableEver = true
				}
			}

			Convey("Then no bodyweight is reported", func() {
				So(stableEver, ShouldBeFalse)
			})
		})

		Convey("When the plate is unloaded", func() {
			stableEver := false
			for i := 0; i < 2000; i++ {
				if _, ok := wm.Add(quietSample(float64(i)/1000, 0.1, -0.1)); ok {
					stableEver = true
				}
			}

			Convey("Then no bodyweight is reported", func() {
				So(stableEver, ShouldBeFalse)
			})
		})

		Convey("When a corrupt sample arrives mid-stream", func() {
			_, ok := wm.Add(quietSample(0, math.NaN(), 367.875))

			var weight float64
			var stable bool
			for i := 0; i < 600 && !stable; i++ {
				weight, stable = wm.Add(quietSample(float64(i+1)/1000, 367.875, 367.875))
			}

			Convey("Then it is ignored and the clean window still reads", func() {
				So(ok, ShouldBeFalse)
				So(stable, ShouldBeTrue)
				So(weight, ShouldAlmostEqual, 735.75, 1e-6)
			})
		})

		Convey("When Reset is called after a stable read", func() {
			for i := 0; i < 600; i++ {
				wm.Add(quietSample(float64(i)/1000, 400, 400))
			}
			wm.Reset()
			_, stable := wm.Add(quietSample(1.0, 400, 400))

			Convey("Then the window starts over", func() {
				So(stable, ShouldBeFalse)
			})
		})
	})
}
