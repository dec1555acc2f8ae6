package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/menta2k/body-analyzer/pkg/types"
)

type fakeStream struct {
	device *fakeDevice
	facing Facing
	once   sync.Once
}

func (s *fakeStream) Frame(ctx context.Context) (types.Frame, error) {
	return types.Frame{
		Image:     image.NewRGBA(image.Rect(0, 0, 8, 8)),
		Source:    string(s.facing),
		Timestamp: time.Now(),
	}, nil
}

func (s *fakeStream) Close() error {
	s.once.Do(func() {
		s.device.mu.Lock()
		s.device.live--
		s.device.mu.Unlock()
	})
	return nil
}

type fakeDevice struct {
	mu       sync.Mutex
	deny     bool
	opens    int
	live     int
	maxLive  int
	facings  []Facing
	openFail error
}

func (d *fakeDevice) RequestPermission(ctx context.Context) error {
	if d.deny {
		return types.ErrPermissionDenied
	}
	return nil
}

func (d *fakeDevice) Open(ctx context.Context, facing Facing) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openFail != nil {
		return nil, d.openFail
	}
	d.opens++
	d.live++
	if d.live > d.maxLive {
		d.maxLive = d.live
	}
	d.facings = append(d.facings, facing)
	return &fakeStream{device: d, facing: facing}, nil
}

func (d *fakeDevice) liveHandles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

type fakePose struct {
	set   types.LandmarkSet
	err   error
	block chan struct{}
}

func (p *fakePose) Detect(ctx context.Context, frame types.Frame) (types.LandmarkSet, error) {
	if p.block != nil {
		<-p.block
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.set.Clone(), nil
}

// scriptedScorer returns the scripted overall scores in order, repeating
// the last one
type scriptedScorer struct {
	mu     sync.Mutex
	scores []float64
	calls  int
	resets int
}

func (s *scriptedScorer) Score(set types.LandmarkSet, img image.Image) types.QualityScore {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := 0.0
	if len(s.scores) > 0 {
		i := s.calls
		if i >= len(s.scores) {
			i = len(s.scores) - 1
		}
		v = s.scores[i]
	}
	s.calls++
	return types.QualityScore{Overall: v, Landmarks: v, Stability: v, Lighting: v, Framing: v}
}

func (s *scriptedScorer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

type fakeProcessor struct {
	mu       sync.Mutex
	captures []types.Capture
	err      error
	block    chan struct{}
	entered  chan struct{}
}

func (p *fakeProcessor) Process(ctx context.Context, c types.Capture) (types.BodyShapeResult, error) {
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captures = append(p.captures, c)
	if p.err != nil {
		return types.BodyShapeResult{}, p.err
	}
	return types.BodyShapeResult{Shape: types.ShapeRectangle, Confidence: 0.9, Source: types.SourceLandmarks}, nil
}

func (p *fakeProcessor) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.captures)
}

func testPose() types.LandmarkSet {
	set := types.NewLandmarkSet()
	set.Set(types.LeftShoulder, types.Landmark{X: 0.6, Y: 0.3, Score: 0.95})
	set.Set(types.RightShoulder, types.Landmark{X: 0.4, Y: 0.3, Score: 0.95})
	set.Set(types.LeftHip, types.Landmark{X: 0.58, Y: 0.55, Score: 0.95})
	set.Set(types.RightHip, types.Landmark{X: 0.42, Y: 0.55, Score: 0.95})
	return set
}

// testConfig disables the ticker and delays so tests drive cycles directly
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DetectionInterval = time.Hour
	cfg.SettleDelay = 0
	cfg.CooldownDelay = time.Hour
	return cfg
}

type harness struct {
	session   *Session
	device    *fakeDevice
	pose      *fakePose
	scorer    *scriptedScorer
	processor *fakeProcessor
}

func newHarness(t *testing.T, scores ...float64) *harness {
	t.Helper()
	h := &harness{
		device:    &fakeDevice{},
		pose:      &fakePose{set: testPose()},
		scorer:    &scriptedScorer{scores: scores},
		processor: &fakeProcessor{},
	}
	h.session = NewWithConfig(h.device, h.pose, h.processor, testConfig(), WithScorer(h.scorer))
	t.Cleanup(func() { _ = h.session.Stop() })
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.session.Start(context.Background(), FacingUser); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

func (h *harness) cycles(n int) {
	for i := 0; i < n; i++ {
		h.session.cycle(context.Background())
	}
}

func TestStartActivates(t *testing.T) {
	h := newHarness(t)
	if h.session.ID() == "" {
		t.Error("Expected a session ID")
	}
	h.start(t)

	st := h.session.State()
	if st.Status != StatusActive {
		t.Errorf("Expected ACTIVE, got %s", st.Status)
	}
	if st.Facing != FacingUser {
		t.Errorf("Expected user camera, got %s", st.Facing)
	}
	if h.device.opens != 1 {
		t.Errorf("Expected one open, got %d", h.device.opens)
	}

	err := h.session.Start(context.Background(), FacingUser)
	if !errors.Is(err, types.ErrSessionActive) {
		t.Errorf("Expected ErrSessionActive on second start, got %v", err)
	}
}

func TestPermissionDenied(t *testing.T) {
	h := newHarness(t)
	h.device.deny = true

	err := h.session.Start(context.Background(), FacingUser)
	if !errors.Is(err, types.ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got %v", err)
	}
	st := h.session.State()
	if st.Status != StatusError || !errors.Is(st.Err, types.ErrPermissionDenied) {
		t.Errorf("Expected ERROR with permission error, got %s / %v", st.Status, st.Err)
	}

	if err := h.session.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if st := h.session.State(); st.Status != StatusIdle || st.Err != nil {
		t.Errorf("Expected clean IDLE after reset, got %s / %v", st.Status, st.Err)
	}
}

func TestDeviceUnavailable(t *testing.T) {
	h := newHarness(t)
	h.device.openFail = errors.New("camera busy")

	err := h.session.Start(context.Background(), FacingUser)
	if !errors.Is(err, types.ErrDeviceUnavailable) {
		t.Fatalf("Expected ErrDeviceUnavailable, got %v", err)
	}
	if h.session.State().Status != StatusError {
		t.Errorf("Expected ERROR, got %s", h.session.State().Status)
	}
}

func TestAutoCaptureAfterExcellentFrames(t *testing.T) {
	h := newHarness(t, 0.9)
	h.start(t)

	h.cycles(4)
	st := h.session.State()
	if st.Status != StatusActive {
		t.Fatalf("Expected ACTIVE after 4 cycles, got %s", st.Status)
	}
	if st.ExcellentFrames != 4 || !st.PoseReady {
		t.Errorf("Expected 4 excellent frames and pose ready, got %d / %v", st.ExcellentFrames, st.PoseReady)
	}
	if h.processor.calls() != 0 {
		t.Fatalf("Expected no capture yet, got %d", h.processor.calls())
	}

	h.cycles(1)
	st = h.session.State()
	if st.Status != StatusComplete {
		t.Fatalf("Expected COMPLETE after the fifth excellent frame, got %s (%v)", st.Status, st.Err)
	}
	if st.Result == nil || st.Result.Shape != types.ShapeRectangle {
		t.Errorf("Expected result on state, got %+v", st.Result)
	}

	// Further cycles never trigger a second capture
	h.cycles(10)
	if h.processor.calls() != 1 {
		t.Errorf("Expected exactly one auto-capture, got %d", h.processor.calls())
	}

	c := h.processor.captures[0]
	if !c.IsAuto {
		t.Error("Expected the capture to be marked automatic")
	}
	if c.Landmarks.Count() != 4 {
		t.Errorf("Expected frozen landmarks, got %d", c.Landmarks.Count())
	}
	if c.Quality == nil || c.Quality.Overall != 0.9 {
		t.Errorf("Expected frozen quality 0.9, got %+v", c.Quality)
	}
}

func TestQualityDipResetsCounter(t *testing.T) {
	h := newHarness(t, 0.9, 0.9, 0.9, 0.9, 0.8, 0.9, 0.9, 0.9, 0.9, 0.9)
	h.start(t)

	h.cycles(5)
	st := h.session.State()
	if st.ExcellentFrames != 0 {
		t.Errorf("Expected counter reset by the dip, got %d", st.ExcellentFrames)
	}
	if !st.PoseReady {
		t.Error("0.8 is still pose ready")
	}

	h.cycles(4)
	if h.processor.calls() != 0 || h.session.State().ExcellentFrames != 4 {
		t.Fatalf("Expected 4 excellent frames and no capture, got %d / %d",
			h.session.State().ExcellentFrames, h.processor.calls())
	}

	h.cycles(1)
	if h.processor.calls() != 1 {
		t.Errorf("Expected one capture after five consecutive frames, got %d", h.processor.calls())
	}
}

func TestAutoCaptureDisabled(t *testing.T) {
	h := newHarness(t, 0.95)
	cfg := testConfig()
	cfg.AutoCapture = false
	h.session = NewWithConfig(h.device, h.pose, h.processor, cfg, WithScorer(h.scorer))
	h.start(t)

	h.cycles(10)
	if h.processor.calls() != 0 {
		t.Errorf("Expected no auto-capture when disabled, got %d", h.processor.calls())
	}
	if h.session.State().Status != StatusActive {
		t.Errorf("Expected ACTIVE, got %s", h.session.State().Status)
	}
}

func TestManualCapture(t *testing.T) {
	h := newHarness(t, 0.5)
	h.start(t)
	h.cycles(1)

	result, err := h.session.CaptureNow(context.Background())
	if err != nil {
		t.Fatalf("CaptureNow failed: %v", err)
	}
	if result.Shape != types.ShapeRectangle {
		t.Errorf("Expected RECTANGLE, got %s", result.Shape)
	}
	if h.processor.captures[0].IsAuto {
		t.Error("Manual capture must not be marked automatic")
	}
	if st := h.session.State(); st.Status != StatusComplete {
		t.Errorf("Expected COMPLETE, got %s", st.Status)
	}
}

func TestCaptureNowRequiresActive(t *testing.T) {
	h := newHarness(t)
	_, err := h.session.CaptureNow(context.Background())
	if !errors.Is(err, types.ErrNotActive) {
		t.Errorf("Expected ErrNotActive, got %v", err)
	}
}

func TestCaptureRejectedWhileInFlight(t *testing.T) {
	h := newHarness(t, 0.5)
	h.processor.block = make(chan struct{})
	h.processor.entered = make(chan struct{}, 1)
	h.start(t)
	h.cycles(1)

	done := make(chan error, 1)
	go func() {
		_, err := h.session.CaptureNow(context.Background())
		done <- err
	}()
	<-h.processor.entered

	if st := h.session.State(); st.Status != StatusProcessing {
		t.Errorf("Expected PROCESSING, got %s", st.Status)
	}
	if _, err := h.session.CaptureNow(context.Background()); !errors.Is(err, types.ErrCaptureInProgress) {
		t.Errorf("Expected ErrCaptureInProgress, got %v", err)
	}
	if err := h.session.SwitchCamera(context.Background()); !errors.Is(err, types.ErrCaptureInProgress) {
		t.Errorf("Expected ErrCaptureInProgress for switch, got %v", err)
	}

	// The loop is stopped while capturing, so cycles are no-ops
	h.cycles(3)
	if h.scorer.calls != 1 {
		t.Errorf("Expected no detection while capturing, got %d scorer calls", h.scorer.calls)
	}

	close(h.processor.block)
	if err := <-done; err != nil {
		t.Errorf("Capture failed: %v", err)
	}
}

func TestNoPoseDetectedRearms(t *testing.T) {
	h := newHarness(t, 0.9)
	cfg := testConfig()
	cfg.CooldownDelay = 10 * time.Millisecond
	h.session = NewWithConfig(h.device, h.pose, h.processor, cfg, WithScorer(h.scorer))
	h.start(t)

	// No cycle has run, so there are no landmarks to freeze
	_, err := h.session.CaptureNow(context.Background())
	if !errors.Is(err, types.ErrNoPoseDetected) {
		t.Fatalf("Expected ErrNoPoseDetected, got %v", err)
	}

	st := h.session.State()
	if st.Status != StatusActive {
		t.Errorf("Expected back to ACTIVE, got %s", st.Status)
	}
	if !errors.Is(st.Err, types.ErrNoPoseDetected) {
		t.Errorf("Expected error field set, got %v", st.Err)
	}
	if st.ExcellentFrames != 0 {
		t.Errorf("Expected counter reset, got %d", st.ExcellentFrames)
	}
	if h.processor.calls() != 0 {
		t.Error("Processor must not run without landmarks")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		h.session.mu.Lock()
		running := h.session.stopLoop != nil
		h.session.mu.Unlock()
		if running {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Detection loop was not re-armed after the cool-down")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Auto-capture is armed again
	h.cycles(5)
	if h.processor.calls() != 1 {
		t.Errorf("Expected auto-capture after re-arm, got %d", h.processor.calls())
	}
}

func TestProcessorNoPoseRearms(t *testing.T) {
	h := newHarness(t, 0.5)
	h.processor.err = types.ErrNoPoseDetected
	h.start(t)
	h.cycles(1)

	if _, err := h.session.CaptureNow(context.Background()); !errors.Is(err, types.ErrNoPoseDetected) {
		t.Fatalf("Expected ErrNoPoseDetected, got %v", err)
	}
	if st := h.session.State(); st.Status != StatusActive {
		t.Errorf("Expected ACTIVE, got %s", st.Status)
	}
}

func TestProcessorErrorMovesToError(t *testing.T) {
	h := newHarness(t, 0.5)
	h.processor.err = types.ErrMissingLandmark
	h.start(t)
	h.cycles(1)

	_, err := h.session.CaptureNow(context.Background())
	if !errors.Is(err, types.ErrMissingLandmark) {
		t.Fatalf("Expected ErrMissingLandmark, got %v", err)
	}
	st := h.session.State()
	if st.Status != StatusError || st.ErrorMessage() == "" {
		t.Errorf("Expected ERROR with message, got %s / %q", st.Status, st.ErrorMessage())
	}

	// Stop keeps ERROR visible, reset clears it
	_ = h.session.Stop()
	if h.session.State().Status != StatusError {
		t.Errorf("Expected ERROR to survive stop, got %s", h.session.State().Status)
	}
	_ = h.session.Reset()
	if h.session.State().Status != StatusIdle {
		t.Errorf("Expected IDLE after reset, got %s", h.session.State().Status)
	}
}

func TestDetectionErrorsAreSwallowed(t *testing.T) {
	h := newHarness(t, 0.9)
	h.pose.err = errors.New("model timeout")
	h.start(t)

	h.cycles(3)
	st := h.session.State()
	if st.Status != StatusActive || st.Err != nil {
		t.Errorf("Expected ACTIVE without error, got %s / %v", st.Status, st.Err)
	}
	if st.Landmarks != nil {
		t.Error("Expected no landmarks after failed detections")
	}
}

func TestEmptyDetectionResetsCounter(t *testing.T) {
	h := newHarness(t, 0.9)
	h.start(t)
	h.cycles(3)

	h.pose.set = types.NewLandmarkSet()
	h.cycles(1)
	st := h.session.State()
	if st.ExcellentFrames != 0 || st.Landmarks != nil || st.Quality != nil {
		t.Errorf("Expected cleared detection state, got %+v", st)
	}
}

func TestSwitchCamera(t *testing.T) {
	h := newHarness(t, 0.9)
	h.start(t)
	h.cycles(3)
	resets := h.scorer.resets

	if err := h.session.SwitchCamera(context.Background()); err != nil {
		t.Fatalf("SwitchCamera failed: %v", err)
	}

	st := h.session.State()
	if st.Facing != FacingEnvironment {
		t.Errorf("Expected environment camera, got %s", st.Facing)
	}
	if st.ExcellentFrames != 0 || st.Landmarks != nil {
		t.Errorf("Expected detection state reset, got %d frames", st.ExcellentFrames)
	}
	if h.scorer.resets <= resets {
		t.Error("Expected quality history reset")
	}
	if h.device.maxLive != 1 || h.device.liveHandles() != 1 {
		t.Errorf("Expected a single live camera handle, max %d now %d", h.device.maxLive, h.device.liveHandles())
	}
	if h.device.opens != 2 {
		t.Errorf("Expected two opens, got %d", h.device.opens)
	}

	// Counting starts over on the new camera
	h.cycles(4)
	if h.processor.calls() != 0 {
		t.Error("Expected no capture before five frames on the new camera")
	}
	h.cycles(1)
	if h.processor.calls() != 1 {
		t.Errorf("Expected auto-capture on the new camera, got %d", h.processor.calls())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, 0.9)
	if err := h.session.Stop(); err != nil {
		t.Errorf("Stop on idle session failed: %v", err)
	}

	h.start(t)
	h.cycles(2)
	for i := 0; i < 3; i++ {
		if err := h.session.Stop(); err != nil {
			t.Errorf("Stop %d failed: %v", i, err)
		}
	}

	st := h.session.State()
	if st.Status != StatusIdle {
		t.Errorf("Expected IDLE, got %s", st.Status)
	}
	if st.Landmarks != nil || st.Quality != nil {
		t.Error("Expected landmarks and quality cleared")
	}
	if h.device.liveHandles() != 0 {
		t.Errorf("Expected camera released, %d handles live", h.device.liveHandles())
	}

	// Restart works after stop
	h.start(t)
	if h.session.State().Status != StatusActive {
		t.Errorf("Expected ACTIVE after restart, got %s", h.session.State().Status)
	}
}

func TestStopDiscardsInFlightCycle(t *testing.T) {
	h := newHarness(t, 0.9)
	h.pose.block = make(chan struct{})
	h.start(t)

	done := make(chan struct{})
	go func() {
		h.session.cycle(context.Background())
		close(done)
	}()

	// Let the cycle reach the pose model, then stop underneath it
	time.Sleep(20 * time.Millisecond)
	_ = h.session.Stop()
	close(h.pose.block)
	<-done

	st := h.session.State()
	if st.Status != StatusIdle {
		t.Errorf("Expected IDLE, got %s", st.Status)
	}
	if st.Landmarks != nil || st.Quality != nil {
		t.Error("Stale cycle result must be discarded")
	}
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t, 0.9)
	ch, cancel := h.session.Subscribe()
	defer cancel()

	first := <-ch
	if first.Status != StatusIdle {
		t.Errorf("Expected initial IDLE, got %s", first.Status)
	}

	// Several transitions without reading: only the latest is kept
	h.start(t)
	h.cycles(2)

	st := <-ch
	if st.Status != StatusActive || st.ExcellentFrames != 2 {
		t.Errorf("Expected latest ACTIVE state with 2 frames, got %s / %d", st.Status, st.ExcellentFrames)
	}
	select {
	case extra := <-ch:
		t.Errorf("Expected no buffered backlog, got %s", extra.Status)
	default:
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Error("Expected channel closed after cancel")
	}
	cancel()
}

func TestStatusString(t *testing.T) {
	tests := map[Status]string{
		StatusIdle:                 "IDLE",
		StatusRequestingPermission: "REQUESTING_PERMISSION",
		StatusActive:               "ACTIVE",
		StatusCapturing:            "CAPTURING",
		StatusProcessing:           "PROCESSING",
		StatusComplete:             "COMPLETE",
		StatusError:                "ERROR",
	}
	for status, want := range tests {
		if got := status.String(); got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	}
}
