package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/jumplab/internal/adapters/device"
	"github.com/okian/jumplab/internal/adapters/stream"
	"github.com/okian/jumplab/internal/app"
	"github.com/okian/jumplab/internal/config"
	"github.com/okian/jumplab/internal/domain/model"
	"github.com/okian/jumplab/pkg/logger"
	"github.com/okian/jumplab/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second

	// Simulated athlete parameters for the demo session.
	demoBodyweightN = 735.75 // 75 kg
	traceNoiseN     = 2.0
)

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		// Use stderr for initialization errors since the logger isn't available yet
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	testType, ok := model.ParseTestType(cfg.TestType)
	if !ok {
		os.Stderr.WriteString("unknown test_type: " + cfg.TestType + "\n")
		return
	}

	// Create the coordinator over a paced simulated plate. Hardware links
	// plug in here by swapping the device implementation.
	svc := app.New(
		app.WithLogger(log),
		app.WithConfig(cfg),
		app.WithDevice(device.NewSimulated(
			device.WithRate(cfg.SampleRateHz),
			device.WithRealtime(true),
			device.WithTrace(sessionTrace(cfg, testType)),
		)),
	)
	defer svc.Close()

	// Bridge coordinator progress into the websocket broadcaster.
	broadcaster := stream.NewBroadcaster()
	defer broadcaster.Close()
	go func() {
		for {
			select {
			case ev := <-svc.Events():
				broadcaster.Publish(ctx, ev)
			case <-ctx.Done():
				return
			}
		}
	}()

	// HTTP mux and routes.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", broadcaster.Handler())
	mux.HandleFunc("/api/progress", broadcaster.SnapshotHandler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// Start the HTTP server
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
		}
	}()

	// Run the session workflow; the server keeps serving metrics and the
	// last progress snapshot after it finishes.
	go runSession(ctx, svc, cfg, testType, log)

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
}

// runSession walks the full workflow once: connect, calibrate, test.
func runSession(ctx context.Context, svc *app.Service, cfg *config.Config, testType model.TestType, log logger.Logger) {
	if err := svc.Connect(ctx, cfg.DeviceID, cfg.AthleteID, testType); err != nil {
		log.Error(ctx, "device connect failed", logger.Error(err))
		return
	}

	profile, err := svc.StartCalibration(ctx)
	if err != nil {
		log.Error(ctx, "calibration failed", logger.Error(err))
		return
	}
	log.Info(ctx, "calibration complete",
		logger.Float64("leftOffset", profile.LeftOffset),
		logger.Float64("rightOffset", profile.RightOffset),
		logger.Float64("noiseStdDev", profile.NoiseStdDev),
	)

	result, err := svc.StartTest(ctx)
	if err != nil {
		log.Error(ctx, "test failed", logger.Error(err))
		return
	}

	fields := []logger.Field{
		logger.String("sessionID", result.SessionID),
		logger.String("testType", result.TestType.String()),
		logger.String("quality", result.Quality.String()),
		logger.Any("incomplete", result.Incomplete),
		logger.Float64("durationMs", result.DurationMs),
	}
	for k, v := range result.Metrics {
		fields = append(fields, logger.Float64(k, v))
	}
	log.Info(ctx, "test finished", fields...)
}

// sessionTrace synthesizes the plate signal for one demo session: an
// unloaded calibration window, the athlete stepping on and standing still,
// then the movement for the selected test type.
func sessionTrace(cfg *config.Config, testType model.TestType) []model.ForceSample {
	b := device.NewTraceBuilder(cfg.SampleRateHz).
		Noise(traceNoiseN).
		Hold(cfg.CalibrationDurationS+0.2, 0).
		Hold(cfg.WeightWindowS+1.0, demoBodyweightN)

	switch testType {
	case model.TestIsometricPull:
		b.Hold(1.0, demoBodyweightN).
			Ramp(0.5, demoBodyweightN, demoBodyweightN+800).
			Hold(2.0, demoBodyweightN+800).
			Ramp(0.5, demoBodyweightN+800, demoBodyweightN).
			Hold(1.5, demoBodyweightN)
	case model.TestBalanceHold:
		b.Hold(12.0, demoBodyweightN)
	default:
		mass := demoBodyweightN / model.Gravity
		vTakeoff := (900*0.4 - 250*0.3) / mass
		b.Hold(1.0, demoBodyweightN).
			Hold(0.3, demoBodyweightN-250).
			Hold(0.4, demoBodyweightN+900).
			Flight(vTakeoff).
			Hold(0.12, 1.8*demoBodyweightN).
			Hold(1.0, demoBodyweightN)
	}
	return b.Samples()
}
