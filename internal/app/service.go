// Package app provides the session coordinator: it owns the ordered
// workflow (connect, calibrate, measure bodyweight, execute, finalize),
// supervises the producer/consumer pipeline, and assembles the TestResult.
package app

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/jumplab/internal/adapters/device"
	samplequeue "github.com/okian/jumplab/internal/adapters/mq/queue"
	"github.com/okian/jumplab/internal/adapters/repository"
	"github.com/okian/jumplab/internal/config"
	"github.com/okian/jumplab/internal/domain/analysis"
	"github.com/okian/jumplab/internal/domain/calibration"
	"github.com/okian/jumplab/internal/domain/model"
	"github.com/okian/jumplab/internal/domain/phase"
	"github.com/okian/jumplab/pkg/logger"
	"github.com/okian/jumplab/pkg/metrics"
)

// Coordinator constants.
const (
	eventBufferSize   = 64
	progressIntervalS = 0.25
	msPerSecond       = 1000.0
)

// Service coordinates one test session at a time over one device link.
type Service struct {
	mu sync.Mutex

	dev   device.Device
	store repository.Store
	cfg   *config.Config

	handle    *device.Handle
	queue     *samplequeue.InMemoryQueue
	envelopes <-chan samplequeue.Envelope
	streamCtx context.Context
	stopFeed  context.CancelFunc

	session *model.TestSession
	state   WorkflowState

	// stopRequested distinguishes a StopTest (finalize what exists) from a
	// Cancel (abort) when the sentinel arrives through the queue.
	stopRequested bool

	events chan ProgressEvent

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithDevice sets the device link implementation.
func WithDevice(d device.Device) Option {
	return func(s *Service) {
		if d != nil {
			s.dev = d
		}
	}
}

// WithStore sets the result sink.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithConfig sets the engine configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a coordinator with default configuration. A simulated
// device and an in-memory store are used unless options replace them.
func New(opts ...Option) *Service {
	s := &Service{
		dev:    device.NewSimulated(),
		store:  repository.NewInMemoryStore(),
		cfg:    config.New(),
		state:  StateConnecting,
		events: make(chan ProgressEvent, eventBufferSize),
		logger: logger.Get().Named("coordinator"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Events returns the progress event channel. Events are dropped when the
// buffer is full, so a headless run without a consumer works identically.
func (s *Service) Events() <-chan ProgressEvent {
	return s.events
}

// State returns the current workflow state.
func (s *Service) State() WorkflowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns a copy of the current session, if any.
func (s *Service) Session() (model.TestSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return model.TestSession{}, false
	}
	return *s.session, true
}

// Connect opens the device link, creates the session, and starts the
// producer pump. On success the workflow sits in Calibrating.
func (s *Service) Connect(ctx context.Context, deviceID, athleteID string, testType model.TestType) error {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return fmt.Errorf("%w: connect is only valid before a session starts (state %s)", ErrWorkflow, s.state)
	}
	s.mu.Unlock()

	h, err := s.dev.Connect(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("device connect failed: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	samples, err := s.dev.Stream(streamCtx, h)
	if err != nil {
		cancel()
		_ = s.dev.Disconnect(h)
		return fmt.Errorf("sample stream failed: %w", err)
	}

	q := samplequeue.NewInMemoryQueue(samplequeue.WithCapacity(s.cfg.QueueSize))

	s.mu.Lock()
	s.handle = h
	s.queue = q
	s.streamCtx = streamCtx
	s.stopFeed = cancel
	s.envelopes = q.Dequeue(streamCtx)
	s.session = &model.TestSession{
		ID:        uuid.NewString(),
		AthleteID: athleteID,
		TestType:  testType,
		Phase:     model.PhaseIdle,
		StartedAt: time.Now(),
	}
	s.state = StateCalibrating
	s.mu.Unlock()

	go s.pump(streamCtx, samples, h, q)

	metrics.RecordSessionStarted()
	s.logger.Info(ctx, "session connected",
		logger.String("sessionID", s.session.ID),
		logger.String("deviceID", deviceID),
		logger.Int("rateHz", h.RateHz()),
	)
	s.emit(0)
	return nil
}

// pump moves samples from the device stream into the queue. The device side
// never blocks on the pipeline: the queue sheds oldest samples instead.
func (s *Service) pump(ctx context.Context, samples <-chan model.ForceSample, h *device.Handle, q *samplequeue.InMemoryQueue) {
	for sample := range samples {
		if !q.Push(ctx, sample) {
			return
		}
		metrics.RecordSampleIngested()
	}
	err := h.Err()
	s.logger.Warn(ctx, "sample stream terminated", logger.Error(err))
	q.PushEnd(context.Background(), err)
}

// StartCalibration consumes a quiet window and installs the calibration
// profile. It may be re-run (redo) until a test starts; a noisy window
// fails and leaves no profile set.
func (s *Service) StartCalibration(ctx context.Context) (model.CalibrationProfile, error) {
	s.mu.Lock()
	if s.state != StateCalibrating && s.state != StateMeasuringWeight {
		st := s.state
		s.mu.Unlock()
		return model.CalibrationProfile{}, fmt.Errorf("%w: cannot calibrate in state %s", ErrWorkflow, st)
	}
	s.state = StateCalibrating
	s.session.Calibration = nil
	envelopes := s.envelopes
	s.mu.Unlock()

	metrics.RecordCalibrationAttempt()

	cal := calibration.NewCalibrator(
		calibration.WithSampleRate(s.cfg.SampleRateHz),
		calibration.WithDuration(s.cfg.CalibrationDurationS),
		calibration.WithNoiseCeiling(s.cfg.NoiseCeilingN),
	)

	var lastTS float64
	var seen int
	for !cal.Done() {
		e, err := s.nextEnvelope(ctx, envelopes)
		if err != nil {
			return model.CalibrationProfile{}, err
		}
		if e.Kind != samplequeue.KindSample {
			return model.CalibrationProfile{}, s.handleControlOutsideTest(ctx, e)
		}
		if !validSample(e.Sample, lastTS, seen) {
			metrics.RecordSampleCorrupt()
			s.logger.Debug(ctx, "corrupt sample dropped", logger.Float64("timestamp", e.Sample.Timestamp))
			continue
		}
		lastTS = e.Sample.Timestamp
		seen++
		cal.Add(e.Sample)
	}

	profile, err := cal.Profile()
	if err != nil {
		metrics.RecordCalibrationFailure()
		s.logger.Warn(ctx, "calibration rejected", logger.Error(err))
		return model.CalibrationProfile{}, err
	}

	s.mu.Lock()
	s.session.Calibration = &profile
	s.state = StateMeasuringWeight
	s.mu.Unlock()

	s.logger.Info(ctx, "calibration accepted",
		logger.Float64("leftOffset", profile.LeftOffset),
		logger.Float64("rightOffset", profile.RightOffset),
		logger.Float64("noiseStdDev", profile.NoiseStdDev),
	)
	s.emit(0)
	return profile, nil
}

// StartTest measures bodyweight on the calibrated stream and runs the test
// to its terminal phase, returning the finalized result. It blocks for the
// duration of the test.
func (s *Service) StartTest(ctx context.Context) (model.TestResult, error) {
	s.mu.Lock()
	if s.state != StateMeasuringWeight || s.session == nil || !s.session.Calibrated() {
		st := s.state
		s.mu.Unlock()
		return model.TestResult{}, fmt.Errorf("%w: cannot start test in state %s; calibration must complete first", ErrWorkflow, st)
	}
	s.stopRequested = false
	profile := *s.session.Calibration
	testType := s.session.TestType
	sessionID := s.session.ID
	envelopes := s.envelopes
	s.mu.Unlock()

	weight, err := s.measureWeight(ctx, envelopes, profile)
	if err != nil {
		return model.TestResult{}, err
	}

	s.mu.Lock()
	s.session.BodyWeightN = weight
	s.state = StateExecuting
	s.mu.Unlock()
	s.logger.Info(ctx, "bodyweight measured", logger.Float64("newtons", weight))
	s.emit(0)

	return s.execute(ctx, envelopes, profile, testType, sessionID, weight)
}

// measureWeight finds the bodyweight baseline: mean total force over a
// window whose variance stays inside the stability threshold.
func (s *Service) measureWeight(ctx context.Context, envelopes <-chan samplequeue.Envelope, profile model.CalibrationProfile) (float64, error) {
	wm := calibration.NewWeightMeasurer(
		calibration.WithWeightSampleRate(s.cfg.SampleRateHz),
		calibration.WithWeightWindow(s.cfg.WeightWindowS),
		calibration.WithStabilityThreshold(s.cfg.WeightStabilityThresholdKg),
	)

	deadline := s.cfg.MaxPhaseDurationMs / msPerSecond
	var start, lastTS float64
	var seen int
	started := false

	for {
		e, err := s.nextEnvelope(ctx, envelopes)
		if err != nil {
			return 0, err
		}
		if e.Kind != samplequeue.KindSample {
			return 0, s.handleControlOutsideTest(ctx, e)
		}

		sample := e.Sample.Calibrated(profile)
		if !validSample(sample, lastTS, seen) {
			metrics.RecordSampleCorrupt()
			s.logger.Debug(ctx, "corrupt sample dropped", logger.Float64("timestamp", sample.Timestamp))
			continue
		}
		lastTS = sample.Timestamp
		seen++
		if !started {
			start = sample.Timestamp
			started = true
		}
		if weight, ok := wm.Add(sample); ok {
			return weight, nil
		}
		if sample.Timestamp-start > deadline {
			return 0, fmt.Errorf("%w: no stable window within %.1f s", ErrWeightUnstable, deadline)
		}
	}
}

// execute drives the detector and metrics engine from the calibrated
// stream until a terminal phase, then finalizes.
func (s *Service) execute(ctx context.Context, envelopes <-chan samplequeue.Envelope, profile model.CalibrationProfile, testType model.TestType, sessionID string, weight float64) (model.TestResult, error) {
	det := phase.NewDetector(testType, weight, profile,
		phase.WithFlightThreshold(s.cfg.FlightForceThresholdN),
		phase.WithUnweightMultiplier(s.cfg.UnweightNoiseMultiplier),
		phase.WithDwell(s.cfg.DwellMs/msPerSecond),
		phase.WithLandingTolerance(s.cfg.LandingToleranceN),
		phase.WithMaxPhaseDuration(s.cfg.MaxPhaseDurationMs/msPerSecond),
		phase.WithBalanceHold(s.cfg.BalanceHoldS),
	)
	eng := analysis.NewEngine(testType, weight, profile,
		analysis.WithRFDWindow(s.cfg.RFDWindowMs/msPerSecond),
		analysis.WithCOPGuard(s.cfg.COPMinFzN, s.cfg.COPSampleStride),
		analysis.WithHeightTolerance(s.cfg.HeightAgreementTolerance),
		analysis.WithNoiseCeiling(s.cfg.NoiseCeilingN),
	)

	var lastTS float64
	var total int
	lastProgress := math.Inf(-1)
	aborted := false

consume:
	for !det.Done() {
		e, err := s.nextEnvelope(ctx, envelopes)
		if err != nil {
			s.applyTransition(det.Abort(lastTS, phase.AbortStreamEnded), eng)
			aborted = true
			break
		}

		switch e.Kind {
		case samplequeue.KindCancel:
			s.mu.Lock()
			stop := s.stopRequested
			s.mu.Unlock()
			reason := phase.AbortCancelled
			if stop {
				reason = phase.AbortStopped
			}
			s.applyTransition(det.Abort(lastTS, reason), eng)
			aborted = !stop
			break consume

		case samplequeue.KindEnd:
			s.logger.Warn(ctx, "stream ended mid-test", logger.Error(e.Err))
			s.applyTransition(det.Abort(lastTS, phase.AbortStreamEnded), eng)
			aborted = true
			break consume

		default:
			sample := e.Sample.Calibrated(profile)
			if !validSample(sample, lastTS, total) {
				// Signal errors are absorbed locally: drop, log, continue.
				metrics.RecordSampleCorrupt()
				s.logger.Debug(ctx, "corrupt sample dropped", logger.Float64("timestamp", sample.Timestamp))
				continue
			}
			lastTS = sample.Timestamp
			total++

			if tr, ok := det.Process(sample); ok {
				s.applyTransition(tr, eng)
			}
			eng.Observe(sample)

			if sample.Timestamp-lastProgress >= progressIntervalS {
				lastProgress = sample.Timestamp
				s.emitExecuting(sample.Timestamp, det.Velocity())
			}
		}
	}

	s.setState(StateFinalizing)

	start := time.Now()
	takeoff, tookOff := det.TakeoffVelocity()
	result := eng.Finalize(analysis.FinalizeInput{
		SessionID:       sessionID,
		TakeoffVelocity: takeoff,
		TookOff:         tookOff,
		Aborted:         aborted,
		DroppedSamples:  s.queue.Dropped(),
		TotalSamples:    total,
	})
	metrics.RecordFinalizeLatency(float64(time.Since(start).Nanoseconds()) / 1e6)
	metrics.RecordQualityScore(result.QualityScore)

	if err := s.store.Save(ctx, result); err != nil {
		s.logger.Error(ctx, "result save failed", logger.Error(err))
	}

	final := StateComplete
	if aborted {
		final = StateAborted
		metrics.RecordSessionAborted()
	} else {
		metrics.RecordSessionCompleted()
	}
	s.setState(final)

	s.logger.Info(ctx, "test finalized",
		logger.String("sessionID", sessionID),
		logger.String("quality", result.Quality.String()),
		logger.Float64("qualityScore", result.QualityScore),
		logger.Any("incomplete", result.Incomplete),
	)
	return result, nil
}

// applyTransition forwards a detector transition to the metrics engine,
// the session record, and progress consumers.
func (s *Service) applyTransition(tr phase.Transition, eng *analysis.Engine) {
	eng.OnTransition(tr.Segment, tr.To)
	metrics.RecordPhaseTransition(tr.To.String())
	if tr.To == model.PhaseAborted && tr.Abort == phase.AbortTimeout {
		metrics.RecordPhaseTimeout()
	}

	s.mu.Lock()
	if s.session != nil {
		s.session.Phase = tr.To
		if tr.Segment.Phase != model.PhaseIdle {
			s.session.Segments = append(s.session.Segments, tr.Segment)
		}
	}
	s.mu.Unlock()

	s.emit(tr.Time)
}

// StopTest forces the detector into its terminal phase; the engine
// finalizes with whatever segments exist, possibly incomplete.
func (s *Service) StopTest() error {
	s.mu.Lock()
	if s.state != StateExecuting {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: no test executing (state %s)", ErrWorkflow, st)
	}
	s.stopRequested = true
	q := s.queue
	s.mu.Unlock()

	q.PushCancel(context.Background())
	return nil
}

// Cancel aborts the session cooperatively: the sentinel flows through the
// queue behind all samples queued before it.
func (s *Service) Cancel() error {
	s.mu.Lock()
	st := s.state
	q := s.queue
	s.mu.Unlock()

	switch st {
	case StateExecuting:
		q.PushCancel(context.Background())
		return nil
	case StateCalibrating, StateMeasuringWeight:
		q.PushCancel(context.Background())
		return nil
	case StateComplete, StateAborted:
		return fmt.Errorf("%w: session already finished (state %s)", ErrWorkflow, st)
	default:
		s.setState(StateAborted)
		return nil
	}
}

// Close releases the device link and queue.
func (s *Service) Close() {
	s.mu.Lock()
	h := s.handle
	q := s.queue
	cancel := s.stopFeed
	s.handle = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if h != nil {
		_ = s.dev.Disconnect(h)
	}
	if q != nil {
		_ = q.Close()
	}
}

// nextEnvelope reads one envelope, honoring cancellation and stream close.
func (s *Service) nextEnvelope(ctx context.Context, envelopes <-chan samplequeue.Envelope) (samplequeue.Envelope, error) {
	select {
	case e, ok := <-envelopes:
		if !ok {
			return samplequeue.Envelope{}, ErrStreamClosed
		}
		return e, nil
	case <-ctx.Done():
		return samplequeue.Envelope{}, fmt.Errorf("%w: %w", ErrStreamClosed, ctx.Err())
	}
}

// handleControlOutsideTest maps control envelopes seen during calibration
// or weight measurement to errors and the Aborted state.
func (s *Service) handleControlOutsideTest(ctx context.Context, e samplequeue.Envelope) error {
	s.setState(StateAborted)
	metrics.RecordSessionAborted()
	if e.Kind == samplequeue.KindEnd {
		s.logger.Warn(ctx, "stream ended before test", logger.Error(e.Err))
		if e.Err != nil {
			return fmt.Errorf("%w: %w", ErrStreamClosed, e.Err)
		}
		return ErrStreamClosed
	}
	return fmt.Errorf("%w: session cancelled", ErrWorkflow)
}

// validSample rejects non-monotonic timestamps and non-finite forces.
func validSample(s model.ForceSample, lastTS float64, seen int) bool {
	if seen > 0 && s.Timestamp <= lastTS {
		return false
	}
	for _, v := range []float64{s.Timestamp, s.LeftFz, s.RightFz, s.LeftMx, s.LeftMy, s.RightMx, s.RightMy} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s *Service) setState(st WorkflowState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.emit(0)
}

// emit publishes a progress event without ever blocking.
func (s *Service) emit(streamTime float64) {
	s.mu.Lock()
	ev := ProgressEvent{State: s.state.String(), StreamTimeS: streamTime}
	if s.session != nil {
		ev.SessionID = s.session.ID
		ev.AthleteID = s.session.AthleteID
		ev.TestType = s.session.TestType.String()
		ev.Phase = s.session.Phase.String()
		ev.BodyWeightN = s.session.BodyWeightN
	}
	s.mu.Unlock()

	select {
	case s.events <- ev:
	default:
	}
}

func (s *Service) emitExecuting(streamTime, velocity float64) {
	s.mu.Lock()
	ev := ProgressEvent{State: s.state.String(), StreamTimeS: streamTime, VelocityMS: velocity}
	if s.session != nil {
		ev.SessionID = s.session.ID
		ev.AthleteID = s.session.AthleteID
		ev.TestType = s.session.TestType.String()
		ev.Phase = s.session.Phase.String()
		ev.BodyWeightN = s.session.BodyWeightN
	}
	s.mu.Unlock()

	select {
	case s.events <- ev:
	default:
	}
}
