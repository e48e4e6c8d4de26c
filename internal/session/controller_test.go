package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/camhal/camhal-go/internal/device"
	"github.com/camhal/camhal-go/internal/errors"
	"github.com/camhal/camhal-go/internal/params"
	"github.com/camhal/camhal-go/internal/pipeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testFormat = device.FrameFormat{
	Width:  32,
	Height: 24,
	Pixel:  device.PixelFormatYUYV,
}

// eventRecorder collects listener callbacks on buffered channels so
// tests can wait for asynchronous outcomes.
type eventRecorder struct {
	shutter  chan struct{}
	pictures chan []byte
	focus    chan bool
	faces    chan int
	errs     chan error
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		shutter:  make(chan struct{}, 8),
		pictures: make(chan []byte, 8),
		focus:    make(chan bool, 8),
		faces:    make(chan int, 32),
		errs:     make(chan error, 32),
	}
}

func (r *eventRecorder) Shutter()                 { r.shutter <- struct{}{} }
func (r *eventRecorder) PictureTaken(jpeg []byte) { r.pictures <- jpeg }
func (r *eventRecorder) AutoFocusDone(ok bool)    { r.focus <- ok }
func (r *eventRecorder) FacesDetected(count int) {
	select {
	case r.faces <- count:
	default:
	}
}
func (r *eventRecorder) Error(_ string, err error) {
	select {
	case r.errs <- err:
	default:
	}
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func newTestController(t *testing.T, consumer *testConsumer) (*Controller, *device.Fake, *eventRecorder) {
	t.Helper()
	fake := device.NewFake(testFormat.Width * testFormat.Height * 2)
	driver := device.NewDriver(fake, device.HeapAllocator{}, device.DriverConfig{
		NumBuffers: 4,
		Preview:    testFormat,
		Video:      testFormat,
		Picture:    testFormat,
	})
	rec := newEventRecorder()
	var fc pipeline.FrameConsumer
	if consumer != nil {
		fc = consumer
	}
	ctrl := New(Options{
		Driver:   driver,
		Listener: rec,
	}, fc)
	if consumer != nil && consumer.release == nil {
		consumer.release = ctrl.ReleaseRecordingFrame
	}
	ctrl.Start()
	t.Cleanup(ctrl.Stop)
	return ctrl, fake, rec
}

// testConsumer receives recording frames and releases each one right
// back through the facade, like an encoder that finished instantly.
type testConsumer struct {
	frames  chan int
	release func(handle []byte) error
}

func newTestConsumer() *testConsumer {
	return &testConsumer{frames: make(chan int, 64)}
}

func (c *testConsumer) VideoFrame(buf *device.Buffer, _ time.Time) {
	select {
	case c.frames <- buf.Index:
	default:
	}
	_ = c.release(buf.Data[:buf.Length])
}

func TestPreviewLifecycle(t *testing.T) {
	ctrl, fake, _ := newTestController(t, nil)

	require.NoError(t, ctrl.StartPreview())
	assert.Equal(t, PreviewStill, ctrl.State())
	assert.True(t, ctrl.PreviewEnabled())
	assert.True(t, fake.Streaming())

	require.NoError(t, ctrl.StopPreview())
	assert.Equal(t, Stopped, ctrl.State())
	assert.False(t, fake.Streaming())

	// Stopping an already stopped preview is a no-op, not an error.
	require.NoError(t, ctrl.StopPreview())
	assert.Equal(t, Stopped, ctrl.State())
}

func TestStartPreviewTwiceRejected(t *testing.T) {
	ctrl, _, _ := newTestController(t, nil)

	require.NoError(t, ctrl.StartPreview())
	err := ctrl.StartPreview()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidOperation)
	require.NoError(t, ctrl.StopPreview())
}

func TestRecordingRequiresPreview(t *testing.T) {
	ctrl, _, _ := newTestController(t, nil)

	err := ctrl.StartRecording()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidOperation)

	err = ctrl.StopRecording()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidOperation)
}

func TestRecordingHintSelectsVideoPreview(t *testing.T) {
	ctrl, _, _ := newTestController(t, nil)

	hint := params.New()
	hint.SetBool(params.KeyRecordingHint, true)
	require.NoError(t, ctrl.SetParameters(hint))

	require.NoError(t, ctrl.StartPreview())
	assert.Equal(t, PreviewVideo, ctrl.State())

	require.NoError(t, ctrl.StartRecording())
	assert.Equal(t, Recording, ctrl.State())
	assert.True(t, ctrl.RecordingEnabled())

	// Preview must outlive the recording; stopping it mid-record is
	// refused.
	err := ctrl.StopPreview()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidOperation)

	require.NoError(t, ctrl.StopRecording())
	assert.Equal(t, PreviewVideo, ctrl.State())
	require.NoError(t, ctrl.StopPreview())
}

// videoStartFailer refuses to start streaming in video mode while
// behaving normally otherwise. Mode is only touched from the control
// goroutine.
type videoStartFailer struct {
	*device.Fake
	mode device.Mode
}

func (d *videoStartFailer) SetCaptureMode(m device.Mode) error {
	d.mode = m
	return d.Fake.SetCaptureMode(m)
}

func (d *videoStartFailer) StreamOn() error {
	if d.mode == device.ModeVideo {
		return fmt.Errorf("video streaming unsupported")
	}
	return d.Fake.StreamOn()
}

func TestRecordingStartFailureKeepsStillPreview(t *testing.T) {
	fake := &videoStartFailer{Fake: device.NewFake(testFormat.Width * testFormat.Height * 2)}
	driver := device.NewDriver(fake, device.HeapAllocator{}, device.DriverConfig{
		NumBuffers: 4,
		Preview:    testFormat,
		Video:      testFormat,
		Picture:    testFormat,
	})
	ctrl := New(Options{
		Driver:   driver,
		Listener: newEventRecorder(),
	}, nil)
	ctrl.Start()
	t.Cleanup(ctrl.Stop)

	require.NoError(t, ctrl.StartPreview())
	assert.Equal(t, PreviewStill, ctrl.State())

	// The mode switch fails; the still preview comes back instead of
	// the session stopping.
	err := ctrl.StartRecording()
	require.Error(t, err)
	assert.Equal(t, PreviewStill, ctrl.State())
	assert.True(t, fake.Streaming())

	require.NoError(t, ctrl.StopPreview())
}

func TestRecordingWithoutHintRestartsStream(t *testing.T) {
	ctrl, _, _ := newTestController(t, nil)

	require.NoError(t, ctrl.StartPreview())
	assert.Equal(t, PreviewStill, ctrl.State())

	require.NoError(t, ctrl.StartRecording())
	assert.Equal(t, Recording, ctrl.State())

	require.NoError(t, ctrl.StopRecording())
	require.NoError(t, ctrl.StopPreview())
}

func TestRecordingDeliversAndRecyclesFrames(t *testing.T) {
	consumer := newTestConsumer()
	ctrl, _, _ := newTestController(t, consumer)

	hint := params.New()
	hint.SetBool(params.KeyRecordingHint, true)
	require.NoError(t, ctrl.SetParameters(hint))
	require.NoError(t, ctrl.StartPreview())
	require.NoError(t, ctrl.StartRecording())

	// The consumer releases every frame immediately, so the stream must
	// keep producing well past the pool size.
	seen := make(map[int]bool)
	for n := 0; n < 16; n++ {
		seen[waitFor(t, consumer.frames, "recording frame")] = true
	}
	assert.NotEmpty(t, seen)

	require.NoError(t, ctrl.StopRecording())
	require.NoError(t, ctrl.StopPreview())
}

func TestReleaseUnknownHandleReported(t *testing.T) {
	consumer := newTestConsumer()
	ctrl, _, rec := newTestController(t, consumer)

	hint := params.New()
	hint.SetBool(params.KeyRecordingHint, true)
	require.NoError(t, ctrl.SetParameters(hint))
	require.NoError(t, ctrl.StartPreview())
	require.NoError(t, ctrl.StartRecording())

	require.NoError(t, ctrl.ReleaseRecordingFrame(make([]byte, 64)))
	err := waitFor(t, rec.errs, "dead object error")
	assert.ErrorIs(t, err, errors.ErrDeadObject)

	require.NoError(t, ctrl.StopRecording())
	require.NoError(t, ctrl.StopPreview())
}

func TestReleaseAfterStopTolerated(t *testing.T) {
	consumer := newTestConsumer()
	handles := make(chan []byte, 8)
	consumer.release = func(h []byte) error {
		select {
		case handles <- h:
		default:
		}
		return nil
	}
	ctrl, _, rec := newTestController(t, consumer)

	hint := params.New()
	hint.SetBool(params.KeyRecordingHint, true)
	require.NoError(t, ctrl.SetParameters(hint))
	require.NoError(t, ctrl.StartPreview())
	require.NoError(t, ctrl.StartRecording())
	handle := waitFor(t, handles, "held recording frame")

	require.NoError(t, ctrl.StopRecording())
	require.NoError(t, ctrl.StopPreview())

	// The frame the consumer kept now points at freed memory from an
	// ended session; releasing it late must not wedge the controller.
	require.NoError(t, ctrl.ReleaseRecordingFrame(handle))
	err := waitFor(t, rec.errs, "dead object error")
	assert.ErrorIs(t, err, errors.ErrDeadObject)

	require.NoError(t, ctrl.StartPreview())
	require.NoError(t, ctrl.StopPreview())
}

func TestTakePictureProducesJPEG(t *testing.T) {
	ctrl, _, rec := newTestController(t, nil)

	require.NoError(t, ctrl.StartPreview())
	require.NoError(t, ctrl.TakePicture())

	waitFor(t, rec.shutter, "shutter")
	jpeg := waitFor(t, rec.pictures, "picture")
	assert.NotEmpty(t, jpeg)
	assert.Equal(t, []byte{0xff, 0xd8}, jpeg[:2])

	// The capture session ends on its own.
	require.Eventually(t, func() bool {
		return ctrl.State() == Stopped
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ctrl.StartPreview())
	require.NoError(t, ctrl.StopPreview())
}

func TestTakePictureWhileRecording(t *testing.T) {
	// The consumer holds every delivered frame, so the most recent
	// recording frame is guaranteed to still be out when the snapshot
	// borrows it.
	consumer := newTestConsumer()
	handles := make(chan []byte, 8)
	consumer.release = func(h []byte) error {
		select {
		case handles <- h:
		default:
		}
		return nil
	}
	ctrl, _, rec := newTestController(t, consumer)

	hint := params.New()
	hint.SetBool(params.KeyRecordingHint, true)
	require.NoError(t, ctrl.SetParameters(hint))
	require.NoError(t, ctrl.StartPreview())
	require.NoError(t, ctrl.StartRecording())
	waitFor(t, consumer.frames, "recording frame")

	require.NoError(t, ctrl.TakePicture())
	waitFor(t, rec.shutter, "shutter")
	jpeg := waitFor(t, rec.pictures, "picture")
	assert.NotEmpty(t, jpeg)

	// The stream never stopped for the snapshot.
	assert.Equal(t, Recording, ctrl.State())

	// Returning the held frames keeps the session releasable.
	for {
		select {
		case h := <-handles:
			require.NoError(t, ctrl.ReleaseRecordingFrame(h))
			continue
		default:
		}
		break
	}
	require.NoError(t, ctrl.StopRecording())
	require.NoError(t, ctrl.StopPreview())
}

func TestStopPreviewDuringCaptureLeavesCapture(t *testing.T) {
	ctrl, _, rec := newTestController(t, nil)

	require.NoError(t, ctrl.StartPreview())
	require.NoError(t, ctrl.TakePicture())
	waitFor(t, rec.shutter, "shutter")

	// The preview already stopped when the capture began; stopping it
	// again succeeds and the picture still arrives.
	require.NoError(t, ctrl.StopPreview())
	jpeg := waitFor(t, rec.pictures, "picture")
	assert.NotEmpty(t, jpeg)

	require.Eventually(t, func() bool {
		return ctrl.State() == Stopped
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTakePictureWhileStoppedReported(t *testing.T) {
	ctrl, _, rec := newTestController(t, nil)

	require.NoError(t, ctrl.TakePicture())
	err := waitFor(t, rec.errs, "take picture error")
	assert.ErrorIs(t, err, errors.ErrInvalidOperation)
}

func TestAutoFocusCompletes(t *testing.T) {
	ctrl, _, rec := newTestController(t, nil)

	require.NoError(t, ctrl.StartPreview())
	require.NoError(t, ctrl.AutoFocus())
	assert.True(t, waitFor(t, rec.focus, "autofocus completion"))
	require.NoError(t, ctrl.StopPreview())

	// Without a stream the completion reports failure.
	require.NoError(t, ctrl.AutoFocus())
	assert.False(t, waitFor(t, rec.focus, "autofocus failure"))
}

func TestGetParametersReturnsDefaults(t *testing.T) {
	ctrl, _, _ := newTestController(t, nil)

	p := ctrl.GetParameters()
	w, h, ok := p.PreviewSize()
	require.True(t, ok)
	assert.Equal(t, testFormat.Width, w)
	assert.Equal(t, testFormat.Height, h)
	assert.Equal(t, "off", p.Get(params.KeyFlashMode))
	assert.Equal(t, 10, p.MaxZoom())
}

func TestSetParametersAppliesZoom(t *testing.T) {
	ctrl, fake, _ := newTestController(t, nil)

	require.NoError(t, ctrl.StartPreview())

	p := params.New()
	p.SetInt(params.KeyZoom, 3)
	require.NoError(t, ctrl.SetParameters(p))

	zoom, ok := fake.Control(device.ControlZoom)
	require.True(t, ok)
	assert.Equal(t, int32(3), zoom)

	require.NoError(t, ctrl.StopPreview())
}

func TestZoomSurvivesRestart(t *testing.T) {
	ctrl, fake, _ := newTestController(t, nil)

	p := params.New()
	p.SetInt(params.KeyZoom, 5)
	require.NoError(t, ctrl.SetParameters(p))

	require.NoError(t, ctrl.StartPreview())
	zoom, ok := fake.Control(device.ControlZoom)
	require.True(t, ok)
	assert.Equal(t, int32(5), zoom)
	require.NoError(t, ctrl.StopPreview())
}

func TestSetParametersRejectsInvalid(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"zoom beyond max", params.KeyZoom, "99"},
		{"negative zoom", params.KeyZoom, "-1"},
		{"unknown flash mode", params.KeyFlashMode, "strobe"},
		{"unknown focus mode", params.KeyFocusMode, "laser"},
		{"unknown effect", params.KeyEffect, "solarize"},
		{"unknown white balance", params.KeyWhiteBalance, "plasma"},
		{"malformed preview size", params.KeyPreviewSize, "640by480"},
		{"inverted fps range", params.KeyPreviewFpsRange, "30000,15000"},
		{"inverted focus window", params.KeyFocusAreas, "(100,100,-100,-100,5)"},
		{"focus window weight", params.KeyFocusAreas, "(-100,-100,100,100,0)"},
		{"too many metering areas", params.KeyMeteringAreas,
			"(-10,-10,10,10,1),(-20,-20,20,20,1),(-30,-30,30,30,1),(-40,-40,40,40,1)"},
	}

	ctrl, _, _ := newTestController(t, nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := params.New()
			p.Set(tc.key, tc.value)
			err := ctrl.SetParameters(p)
			require.Error(t, err)

			// Nothing committed.
			live := ctrl.GetParameters()
			assert.NotEqual(t, tc.value, live.Get(tc.key))
		})
	}
}

func TestSetParametersPartialUpdateKeepsRest(t *testing.T) {
	ctrl, _, _ := newTestController(t, nil)

	p := params.New()
	p.Set(params.KeyEffect, "mono")
	require.NoError(t, ctrl.SetParameters(p))

	live := ctrl.GetParameters()
	assert.Equal(t, "mono", live.Get(params.KeyEffect))
	assert.Equal(t, "off", live.Get(params.KeyFlashMode))
	assert.Equal(t, "auto", live.Get(params.KeyFocusMode))
}

func TestSetParametersToleratesControlRefusal(t *testing.T) {
	ctrl, fake, _ := newTestController(t, nil)
	fake.FailControls = map[device.ControlID]bool{
		device.ControlColorEffect: true,
	}

	require.NoError(t, ctrl.StartPreview())

	p := params.New()
	p.Set(params.KeyEffect, "sepia")
	require.NoError(t, ctrl.SetParameters(p))
	assert.Equal(t, "sepia", ctrl.GetParameters().Get(params.KeyEffect))

	require.NoError(t, ctrl.StopPreview())
}

func TestPreviewSizeChangeRestartsStream(t *testing.T) {
	ctrl, fake, _ := newTestController(t, nil)

	require.NoError(t, ctrl.StartPreview())

	p := params.New()
	p.SetPreviewSize(48, 32)
	require.NoError(t, ctrl.SetParameters(p))

	assert.Equal(t, PreviewStill, ctrl.State())
	assert.True(t, fake.Streaming())
	pf := ctrl.GetParameters()
	w, h, ok := pf.PreviewSize()
	require.True(t, ok)
	assert.Equal(t, 48, w)
	assert.Equal(t, 32, h)

	require.NoError(t, ctrl.StopPreview())
}

// countingDetector reports one face per frame.
type countingDetector struct{}

func (countingDetector) Detect(*device.Buffer) int { return 1 }
func (countingDetector) MaxDetectable() int        { return 10 }

func TestFaceDetectionLifecycle(t *testing.T) {
	fake := device.NewFake(testFormat.Width * testFormat.Height * 2)
	driver := device.NewDriver(fake, device.HeapAllocator{}, device.DriverConfig{
		NumBuffers: 4,
		Preview:    testFormat,
		Video:      testFormat,
		Picture:    testFormat,
	})
	rec := newEventRecorder()
	ctrl := New(Options{
		Driver:   driver,
		Listener: rec,
		Detector: countingDetector{},
	}, nil)
	ctrl.Start()
	t.Cleanup(ctrl.Stop)

	assert.Equal(t, 10, ctrl.MaxFacesDetectable())

	// Needs a running preview.
	require.NoError(t, ctrl.StartFaceDetection())
	err := waitFor(t, rec.errs, "face detection guard")
	assert.ErrorIs(t, err, errors.ErrInvalidOperation)

	require.NoError(t, ctrl.StartPreview())
	require.NoError(t, ctrl.StartFaceDetection())
	assert.Equal(t, 1, waitFor(t, rec.faces, "face result"))

	require.NoError(t, ctrl.StopFaceDetection())
	require.NoError(t, ctrl.StopPreview())
}

// newCoupledFixture builds an unstarted controller over a streaming
// video driver so the coupled bookkeeping can be driven directly.
func newCoupledFixture(t *testing.T) (*Controller, *device.Fake) {
	t.Helper()
	fake := device.NewFake(testFormat.Width * testFormat.Height * 2)
	driver := device.NewDriver(fake, device.HeapAllocator{}, device.DriverConfig{
		NumBuffers: 4,
		Preview:    testFormat,
		Video:      testFormat,
		Picture:    testFormat,
	})
	ctrl := New(Options{Driver: driver}, nil)
	require.NoError(t, driver.Start(device.ModeVideo))
	t.Cleanup(func() { _ = driver.Stop() })
	ctrl.setState(Recording)
	ctrl.resetCoupled()
	return ctrl, fake
}

func TestCoupledBufferRequeuedExactlyOnce(t *testing.T) {
	ctrl, fake := newCoupledFixture(t)

	buf, err := ctrl.driver.RecordingFrame()
	require.NoError(t, err)
	held := fake.QueuedSlots()

	entry := &ctrl.coupled[buf.Index]
	*entry = coupledBuffer{buf: buf}
	ctrl.lastRecordingIdx = buf.Index

	// No consumer finished yet: nothing goes back.
	ctrl.queueCoupledBuffer(buf.Index)
	assert.Equal(t, held, fake.QueuedSlots())

	// Preview alone is not enough.
	entry.previewReturned = true
	ctrl.queueCoupledBuffer(buf.Index)
	assert.Equal(t, held, fake.QueuedSlots())

	// The recording return completes the pair: one physical requeue.
	ctrl.settleRecordingReturn(buf)
	assert.Equal(t, held+1, fake.QueuedSlots())
	assert.Equal(t, -1, ctrl.lastRecordingIdx)

	// A late duplicate return finds the entry cleared and does nothing.
	ctrl.settleRecordingReturn(buf)
	assert.Equal(t, held+1, fake.QueuedSlots())
}

func TestCoupledBufferSnapshotBorrowHoldsRequeue(t *testing.T) {
	ctrl, fake := newCoupledFixture(t)

	buf, err := ctrl.driver.RecordingFrame()
	require.NoError(t, err)
	held := fake.QueuedSlots()

	entry := &ctrl.coupled[buf.Index]
	*entry = coupledBuffer{buf: buf, videoSnapshot: true}

	// Both stream consumers are done, but the snapshot borrow still
	// pins the buffer.
	entry.previewReturned = true
	entry.recordingReturned = true
	ctrl.queueCoupledBuffer(buf.Index)
	assert.Equal(t, held, fake.QueuedSlots())

	entry.snapshotReturned = true
	ctrl.queueCoupledBuffer(buf.Index)
	assert.Equal(t, held+1, fake.QueuedSlots())
}
