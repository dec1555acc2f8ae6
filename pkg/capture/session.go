package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/menta2k/body-analyzer/pkg/quality"
	"github.com/menta2k/body-analyzer/pkg/types"
)

// Option configures a Session
type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithScorer replaces the default quality scorer
func WithScorer(scorer QualityScorer) Option {
	return func(s *Session) {
		if scorer != nil {
			s.scorer = scorer
		}
	}
}

// Session is one capture session. All methods are safe for concurrent use.
//
// The detection loop runs on its own goroutine. Every stop, reset or camera
// switch bumps the generation; work started under an older generation
// finishes but its results are dropped.
type Session struct {
	id        string
	config    Config
	device    Device
	pose      PoseModel
	processor Processor
	scorer    QualityScorer
	logger    *slog.Logger

	landmarks cell[types.LandmarkSet]
	quality   cell[types.QualityScore]

	mu            sync.Mutex
	baseCtx       context.Context
	status        Status
	facing        Facing
	stream        Stream
	generation    uint64
	busy          bool
	capturing     bool
	autoTriggered bool
	excellent     int
	poseReady     bool
	result        *types.BodyShapeResult
	err           error
	stopLoop      context.CancelFunc
	cooldown      *time.Timer
	subs          map[int]chan State
	nextSub       int
}

// New creates a Session with the default configuration
func New(device Device, pose PoseModel, processor Processor, opts ...Option) *Session {
	return NewWithConfig(device, pose, processor, DefaultConfig(), opts...)
}

// NewWithConfig creates a Session with a custom configuration
func NewWithConfig(device Device, pose PoseModel, processor Processor, config Config, opts ...Option) *Session {
	s := &Session{
		id:        uuid.NewString(),
		config:    config,
		device:    device,
		pose:      pose,
		processor: processor,
		scorer:    quality.New(),
		logger:    slog.Default(),
		baseCtx:   context.Background(),
		subs:      make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", s.id)
	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Start requests permission, opens the camera and starts detection. ctx
// bounds the lifetime of the session's background work.
func (s *Session) Start(ctx context.Context, facing Facing) error {
	s.mu.Lock()
	switch s.status {
	case StatusRequestingPermission, StatusActive, StatusCapturing, StatusProcessing:
		st := s.status
		s.mu.Unlock()
		return fmt.Errorf("start in state %s: %w", st, types.ErrSessionActive)
	}
	if err := s.haltLocked(); err != nil {
		s.logger.Warn("failed to release previous camera", "error", err)
	}
	gen := s.generation
	s.baseCtx = ctx
	s.status = StatusRequestingPermission
	s.facing = facing
	s.err = nil
	s.result = nil
	s.publishLocked()
	s.mu.Unlock()

	if err := s.device.RequestPermission(ctx); err != nil {
		if !errors.Is(err, types.ErrPermissionDenied) && !errors.Is(err, types.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", types.ErrPermissionDenied, err)
		}
		s.fail(gen, err)
		return err
	}

	stream, err := s.device.Open(ctx, facing)
	if err != nil {
		if !errors.Is(err, types.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", types.ErrDeviceUnavailable, err)
		}
		s.fail(gen, err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.closeStream(stream)
		return fmt.Errorf("session stopped while starting: %w", types.ErrNotActive)
	}

	s.stream = stream
	s.status = StatusActive
	s.resetDetectionLocked()
	s.startLoopLocked()
	s.logger.Info("session started", "facing", facing)
	s.publishLocked()
	return nil
}

// Stop releases the camera, cancels detection and clears landmarks and
// quality. A COMPLETE or ERROR status stays visible; any other status
// returns to IDLE. Stop is idempotent.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.haltLocked()
	if s.status != StatusComplete && s.status != StatusError {
		s.status = StatusIdle
	}
	s.publishLocked()
	return err
}

// Reset stops the session and returns it to IDLE, clearing any result or
// error
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.haltLocked()
	s.status = StatusIdle
	s.result = nil
	s.err = nil
	s.publishLocked()
	return err
}

// SwitchCamera releases the current camera and opens the opposite one. The
// excellent-frame counter, auto-capture flag and quality history restart.
func (s *Session) SwitchCamera(ctx context.Context) error {
	s.mu.Lock()
	if s.capturing {
		s.mu.Unlock()
		return types.ErrCaptureInProgress
	}
	if s.status != StatusActive {
		st := s.status
		s.mu.Unlock()
		return fmt.Errorf("switch camera in state %s: %w", st, types.ErrNotActive)
	}

	s.generation++
	gen := s.generation
	s.cancelLoopLocked()
	s.closeStream(s.stream)
	s.stream = nil
	s.resetDetectionLocked()
	facing := s.facing.Opposite()
	s.facing = facing
	s.publishLocked()
	s.mu.Unlock()

	stream, err := s.device.Open(ctx, facing)
	if err != nil {
		if !errors.Is(err, types.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", types.ErrDeviceUnavailable, err)
		}
		s.fail(gen, err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.closeStream(stream)
		return fmt.Errorf("session changed while switching camera: %w", types.ErrNotActive)
	}
	s.stream = stream
	s.startLoopLocked()
	s.logger.Info("camera switched", "facing", facing)
	s.publishLocked()
	return nil
}

// CaptureNow captures immediately, bypassing the excellent-frame counter
func (s *Session) CaptureNow(ctx context.Context) (types.BodyShapeResult, error) {
	s.mu.Lock()
	if s.capturing {
		s.mu.Unlock()
		return types.BodyShapeResult{}, types.ErrCaptureInProgress
	}
	if s.status != StatusActive {
		st := s.status
		s.mu.Unlock()
		return types.BodyShapeResult{}, fmt.Errorf("capture in state %s: %w", st, types.ErrNotActive)
	}
	gen := s.beginCaptureLocked()
	s.mu.Unlock()

	return s.capture(ctx, gen, false)
}

// State returns the current snapshot
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel receiving every published state. The channel
// holds one value; a slow reader only sees the latest. Call cancel to
// unsubscribe.
func (s *Session) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan State, 1)
	s.subs[id] = ch
	ch <- s.snapshotLocked()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Session) run(ctx context.Context) {
	interval := s.config.DetectionInterval
	if interval <= 0 {
		interval = DefaultConfig().DetectionInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// cycle runs one detection pass. Errors are logged and the cycle skipped.
func (s *Session) cycle(ctx context.Context) {
	s.mu.Lock()
	if s.status != StatusActive || s.busy || s.capturing || s.stream == nil {
		s.mu.Unlock()
		return
	}
	s.busy = true
	gen := s.generation
	stream := s.stream
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	frame, err := stream.Frame(ctx)
	if err != nil {
		s.logger.Debug("frame read failed", "error", err)
		return
	}

	set, err := s.pose.Detect(ctx, frame)
	if err != nil {
		s.logger.Debug("pose detection failed", "error", err)
		return
	}

	s.mu.Lock()
	if gen != s.generation || s.status != StatusActive {
		s.mu.Unlock()
		return
	}

	if set.Empty() {
		s.landmarks.Clear()
		s.quality.Clear()
		s.excellent = 0
		s.poseReady = false
		s.publishLocked()
		s.mu.Unlock()
		return
	}

	q := s.scorer.Score(set, frame.Image)
	s.landmarks.Store(set)
	s.quality.Store(q)

	s.poseReady = q.Overall > s.config.PoseReadyThreshold
	if s.poseReady && q.Overall >= s.config.AutoCaptureThreshold {
		s.excellent++
	} else {
		s.excellent = 0
	}

	trigger := s.config.AutoCapture && !s.autoTriggered && !s.capturing &&
		s.excellent >= s.config.RequiredExcellentFrames
	var captureGen uint64
	if trigger {
		s.autoTriggered = true
		captureGen = s.beginCaptureLocked()
		s.logger.Info("auto-capture triggered", "quality", q.Overall, "frames", s.excellent)
	} else {
		s.publishLocked()
	}
	captureCtx := s.baseCtx
	s.mu.Unlock()

	if trigger {
		if _, err := s.capture(captureCtx, captureGen, true); err != nil {
			s.logger.Warn("auto-capture failed", "error", err)
		}
	}
}

// beginCaptureLocked enters CAPTURING and stops the detection loop
func (s *Session) beginCaptureLocked() uint64 {
	s.capturing = true
	s.status = StatusCapturing
	s.cancelLoopLocked()
	s.publishLocked()
	return s.generation
}

func (s *Session) capture(ctx context.Context, gen uint64, isAuto bool) (types.BodyShapeResult, error) {
	if s.config.SettleDelay > 0 {
		timer := time.NewTimer(s.config.SettleDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			err := fmt.Errorf("capture cancelled: %w", ctx.Err())
			s.fail(gen, err)
			return types.BodyShapeResult{}, err
		}
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return types.BodyShapeResult{}, fmt.Errorf("session changed during capture: %w", types.ErrNotActive)
	}
	stream := s.stream
	s.mu.Unlock()

	if stream == nil {
		err := fmt.Errorf("failed to freeze frame: %w", types.ErrDeviceUnavailable)
		s.fail(gen, err)
		return types.BodyShapeResult{}, err
	}

	frame, err := stream.Frame(ctx)
	if err != nil {
		err = fmt.Errorf("failed to freeze frame: %w", err)
		s.fail(gen, err)
		return types.BodyShapeResult{}, err
	}

	set, ok := s.landmarks.Load()
	if !ok || set.Empty() {
		err := fmt.Errorf("no landmarks at freeze time: %w", types.ErrNoPoseDetected)
		s.rearm(gen, err)
		return types.BodyShapeResult{}, err
	}

	frozen := types.Capture{
		Frame:     frame,
		Landmarks: set.Clone(),
		IsAuto:    isAuto,
	}
	if q, ok := s.quality.Load(); ok {
		frozen.Quality = &q
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return types.BodyShapeResult{}, fmt.Errorf("session changed during capture: %w", types.ErrNotActive)
	}
	s.status = StatusProcessing
	s.publishLocked()
	s.mu.Unlock()

	result, err := s.processor.Process(ctx, frozen)
	if err != nil {
		if errors.Is(err, types.ErrNoPoseDetected) {
			s.rearm(gen, err)
		} else {
			err = fmt.Errorf("failed to process capture: %w", err)
			s.fail(gen, err)
		}
		return types.BodyShapeResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return result, fmt.Errorf("session changed during processing: %w", types.ErrNotActive)
	}
	s.capturing = false
	s.status = StatusComplete
	s.result = &result
	s.err = nil
	s.logger.Info("capture complete", "shape", result.Shape, "confidence", result.Confidence, "auto", isAuto)
	s.publishLocked()
	return result, nil
}

// rearm returns to ACTIVE after a capture without a usable pose. Detection
// resumes after the cool-down.
func (s *Session) rearm(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}

	s.capturing = false
	s.autoTriggered = false
	s.excellent = 0
	s.status = StatusActive
	s.err = err
	s.logger.Warn("capture found no pose, re-arming", "cooldown", s.config.CooldownDelay)

	if s.cooldown != nil {
		s.cooldown.Stop()
	}
	s.cooldown = time.AfterFunc(s.config.CooldownDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen == s.generation && s.status == StatusActive && !s.capturing {
			s.startLoopLocked()
		}
	})
	s.publishLocked()
}

// fail moves to ERROR unless the session has moved on
func (s *Session) fail(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.cancelLoopLocked()
	s.capturing = false
	s.status = StatusError
	s.err = err
	s.logger.Error("session error", "error", err)
	s.publishLocked()
}

// haltLocked releases everything owned by the running session
func (s *Session) haltLocked() error {
	s.generation++
	s.cancelLoopLocked()
	if s.cooldown != nil {
		s.cooldown.Stop()
		s.cooldown = nil
	}

	var err error
	if s.stream != nil {
		if cerr := s.stream.Close(); cerr != nil {
			err = fmt.Errorf("failed to release camera: %w", cerr)
		}
		s.stream = nil
	}

	s.capturing = false
	s.resetDetectionLocked()
	return err
}

func (s *Session) resetDetectionLocked() {
	s.excellent = 0
	s.autoTriggered = false
	s.poseReady = false
	s.landmarks.Clear()
	s.quality.Clear()
	s.scorer.Reset()
}

func (s *Session) startLoopLocked() {
	if s.stopLoop != nil {
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.stopLoop = cancel
	go s.run(ctx)
}

func (s *Session) cancelLoopLocked() {
	if s.stopLoop != nil {
		s.stopLoop()
		s.stopLoop = nil
	}
}

func (s *Session) closeStream(stream Stream) {
	if stream == nil {
		return
	}
	if err := stream.Close(); err != nil {
		s.logger.Warn("failed to release camera", "error", err)
	}
}

func (s *Session) snapshotLocked() State {
	st := State{
		Status:          s.status,
		Facing:          s.facing,
		PoseReady:       s.poseReady,
		ExcellentFrames: s.excellent,
		Result:          s.result,
		Err:             s.err,
	}
	if set, ok := s.landmarks.Load(); ok {
		st.Landmarks = set
	}
	if q, ok := s.quality.Load(); ok {
		st.Quality = &q
	}
	return st
}

// publishLocked delivers the snapshot to every subscriber, replacing any
// value a subscriber has not read yet
func (s *Session) publishLocked() {
	if len(s.subs) == 0 {
		return
	}
	st := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
