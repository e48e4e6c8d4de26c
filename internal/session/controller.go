// Package session implements the camera session controller: a state
// machine driven by exactly one control goroutine that owns the
// capture driver, distributes frames to the worker pipelines, and
// settles every buffer through coupled-buffer bookkeeping. All public
// methods are safe to call from any goroutine; the blocking ones
// return the control goroutine's verdict through reply slots.
package session

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camhal/camhal-go/internal/device"
	"github.com/camhal/camhal-go/internal/errors"
	"github.com/camhal/camhal-go/internal/logging"
	"github.com/camhal/camhal-go/internal/msgqueue"
	"github.com/camhal/camhal-go/internal/observability/metrics"
	"github.com/camhal/camhal-go/internal/params"
	"github.com/camhal/camhal-go/internal/pipeline"
)

// EventListener receives asynchronous session events. Implementations
// must not call back into the controller's blocking facade from these
// methods.
type EventListener interface {
	Shutter()
	AutoFocusDone(success bool)
	PictureTaken(jpeg []byte)
	FacesDetected(count int)
	Error(op string, err error)
}

// NopListener ignores every event. Embed it to implement only part of
// the interface.
type NopListener struct{}

func (NopListener) Shutter()            {}
func (NopListener) AutoFocusDone(bool)  {}
func (NopListener) PictureTaken([]byte) {}
func (NopListener) FacesDetected(int)   {}
func (NopListener) Error(string, error) {}

// coupledBuffer tracks one frame lent to multiple consumers during
// video states. The physical requeue happens exactly once, when every
// relevant flag is set.
type coupledBuffer struct {
	buf               *device.Buffer
	previewReturned   bool
	recordingReturned bool
	videoSnapshot     bool
	snapshotReturned  bool
}

// Options configures a Controller.
type Options struct {
	Driver   *device.Driver
	Listener EventListener
	Detector pipeline.Detector
	Encoder  pipeline.Encoder
	Metrics  *metrics.CameraMetrics
	Params   *params.Set
}

// Controller is the session control core.
type Controller struct {
	queue    *msgqueue.Queue[command, Kind]
	driver   *device.Driver
	preview  *pipeline.Preview
	still    *pipeline.Still
	video    *pipeline.Video
	face     *pipeline.Face
	listener EventListener
	logger   *slog.Logger
	metrics  *metrics.CameraMetrics

	// Written by the control goroutine, read anywhere.
	state atomic.Int32

	// Control goroutine state.
	params           *params.Set
	coupled          []coupledBuffer
	lastRecordingIdx int
	captureStart     time.Time
	running          bool

	wg      sync.WaitGroup
	started bool
}

// New assembles a controller and its pipelines. The consumer receives
// recording frames while the session records; nil is allowed when
// recording is never started.
func New(opts Options, consumer pipeline.FrameConsumer) *Controller {
	c := &Controller{
		queue: msgqueue.New[command, Kind]("control",
			KindStartPreview, KindStopPreview,
			KindStartRecording, KindStopRecording,
			KindSetParameters, KindGetParameters),
		driver:   opts.Driver,
		listener: opts.Listener,
		logger:   logging.ForService("session"),
		metrics:  opts.Metrics,
		params:   opts.Params,
	}
	if c.listener == nil {
		c.listener = NopListener{}
	}
	if c.params == nil {
		c.params = defaultParams(opts.Driver)
	}
	encoder := opts.Encoder
	if encoder == nil {
		encoder = pipeline.JPEGEncoder{}
	}
	detector := opts.Detector
	if detector == nil {
		detector = noFaces{}
	}
	videoConsumer := consumer
	if videoConsumer == nil {
		videoConsumer = discardFrames{c: c}
	}
	c.preview = pipeline.NewPreview(c)
	c.still = pipeline.NewStill(c, encoder)
	c.video = pipeline.NewVideo(videoConsumer, c)
	c.face = pipeline.NewFace(c, detector)
	c.preview.SetMetrics(opts.Metrics)
	c.still.SetMetrics(opts.Metrics)
	c.video.SetMetrics(opts.Metrics)
	c.face.SetMetrics(opts.Metrics)
	return c
}

// noFaces is the detector used when none is configured.
type noFaces struct{}

func (noFaces) Detect(*device.Buffer) int { return 0 }
func (noFaces) MaxDetectable() int        { return 0 }

// discardFrames consumes recording frames nobody wants and returns
// them straight away.
type discardFrames struct{ c *Controller }

func (d discardFrames) VideoFrame(buf *device.Buffer, _ time.Time) {
	_ = d.c.queue.Send(recordingFlushedCmd{buf: buf})
}

// defaultParams builds the initial parameter set from the driver's
// configured geometries.
func defaultParams(d *device.Driver) *params.Set {
	p := params.New()
	pf, vf, sf := d.PreviewFormat(), d.VideoFormat(), d.PictureFormat()
	p.SetPreviewSize(pf.Width, pf.Height)
	p.SetVideoSize(vf.Width, vf.Height)
	p.SetPictureSize(sf.Width, sf.Height)
	p.SetFpsRange(15000, 30000)
	p.SetInt(params.KeyZoom, 0)
	p.SetInt(params.KeyMaxZoom, 10)
	p.Set(params.KeyFlashMode, "off")
	p.Set(params.KeyFlashModeValues, "off,auto,on,torch")
	p.Set(params.KeyFocusMode, "auto")
	p.Set(params.KeyFocusModeValues, "auto,infinity,macro,continuous-video")
	p.Set(params.KeyWhiteBalance, "auto")
	p.Set(params.KeyEffect, "none")
	p.Set(params.KeySceneMode, "auto")
	p.SetInt(params.KeyMaxNumFocusAreas, 3)
	p.SetInt(params.KeyMaxNumMeteringAreas, 3)
	p.SetInt(params.KeyJPEGQuality, 90)
	return p
}

// State returns the current session state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.logger.Info("state transition", "from", old.String(), "to", s.String())
		c.metrics.SetSessionState(s.String(), allStateNames)
	}
}

// PreviewEnabled reports whether a preview stream is running.
func (c *Controller) PreviewEnabled() bool { return c.State().previewing() }

// RecordingEnabled reports whether the session is recording.
func (c *Controller) RecordingEnabled() bool { return c.State() == Recording }

// Start launches the control goroutine and the pipeline workers.
func (c *Controller) Start() {
	if c.started {
		return
	}
	c.started = true
	c.preview.Start()
	c.still.Start()
	c.video.Start()
	c.face.StartWorker()
	c.running = true
	c.wg.Add(1)
	go c.loop()
}

// Stop ends the control goroutine, tearing down any active session,
// then stops the pipelines. Blocks until everything has exited.
func (c *Controller) Stop() {
	if !c.started {
		return
	}
	_ = c.queue.Send(exitCmd{})
	c.wg.Wait()
	c.face.StopWorker()
	c.video.Stop()
	c.still.Stop()
	c.preview.Stop()
	c.queue.Close()
	c.started = false
}

// Facade. Blocking calls return the control goroutine's verdict;
// asynchronous ones return after enqueuing.

// StartPreview starts the preview stream. The recording hint parameter
// selects between the still and video preview states.
func (c *Controller) StartPreview() error {
	return c.queue.SendAndWait(startPreviewCmd{}, KindStartPreview)
}

// StopPreview stops the preview stream. Stopping an already stopped
// session succeeds without doing anything.
func (c *Controller) StopPreview() error {
	if c.State() == Stopped {
		return nil
	}
	return c.queue.SendAndWait(stopPreviewCmd{}, KindStopPreview)
}

// StartRecording starts video capture.
func (c *Controller) StartRecording() error {
	return c.queue.SendAndWait(startRecordingCmd{}, KindStartRecording)
}

// StopRecording stops video capture, keeping the preview running.
func (c *Controller) StopRecording() error {
	return c.queue.SendAndWait(stopRecordingCmd{}, KindStopRecording)
}

// SetParameters validates and applies a parameter set.
func (c *Controller) SetParameters(set *params.Set) error {
	return c.queue.SendAndWait(setParametersCmd{set: set}, KindSetParameters)
}

// GetParameters returns a copy of the live parameter set.
func (c *Controller) GetParameters() *params.Set {
	out := params.New()
	if err := c.queue.SendAndWait(getParametersCmd{out: out}, KindGetParameters); err != nil {
		c.logger.Error("get parameters failed", "error", err)
	}
	return out
}

// TakePicture requests a still capture. Asynchronous; the result
// arrives through the listener.
func (c *Controller) TakePicture() error {
	return c.queue.Send(takePictureCmd{})
}

// CancelPicture abandons an in-flight still capture.
func (c *Controller) CancelPicture() error {
	c.queue.RemoveMatching(KindTakePicture,
		func(m command) bool { return m.kind() == KindTakePicture }, nil)
	return c.queue.Send(cancelPictureCmd{})
}

// AutoFocus triggers an autofocus run. Asynchronous; completion
// arrives through the listener.
func (c *Controller) AutoFocus() error {
	return c.queue.Send(autoFocusCmd{})
}

// CancelAutoFocus removes pending autofocus requests.
func (c *Controller) CancelAutoFocus() error {
	c.queue.RemoveMatching(KindAutoFocus,
		func(m command) bool { return m.kind() == KindAutoFocus }, nil)
	return c.queue.Send(cancelAutoFocusCmd{})
}

// ReleaseRecordingFrame returns a recording frame the consumer is done
// with, identified by its memory.
func (c *Controller) ReleaseRecordingFrame(handle []byte) error {
	return c.queue.Send(releaseRecordingFrameCmd{handle: handle})
}

// StartFaceDetection enables face analysis on preview frames.
func (c *Controller) StartFaceDetection() error {
	return c.queue.Send(startFaceDetectionCmd{})
}

// StopFaceDetection disables face analysis.
func (c *Controller) StopFaceDetection() error {
	return c.queue.Send(stopFaceDetectionCmd{})
}

// MaxFacesDetectable reports the detector's capacity.
func (c *Controller) MaxFacesDetectable() int {
	return c.face.MaxFacesDetectable()
}

// Pipeline sinks. These run on pipeline goroutines and only post
// messages.

// PreviewDone implements pipeline.PreviewSink.
func (c *Controller) PreviewDone(buf *device.Buffer) {
	_ = c.queue.Send(previewDoneCmd{buf: buf})
}

// PictureDone implements pipeline.PictureSink.
func (c *Controller) PictureDone(snapshot, postview *device.Buffer, jpeg []byte) {
	_ = c.queue.Send(pictureDoneCmd{
		snapshot: snapshot,
		postview: postview,
		jpeg:     jpeg,
		finished: time.Now(),
	})
}

// VideoFrameFlushed implements pipeline.VideoSink.
func (c *Controller) VideoFrameFlushed(buf *device.Buffer) {
	_ = c.queue.Send(recordingFlushedCmd{buf: buf})
}

// FacesDetected implements pipeline.FaceSink.
func (c *Controller) FacesDetected(count int, buf *device.Buffer) {
	_ = c.queue.Send(facesDetectedCmd{count: count, buf: buf})
}

// loop is the control goroutine: commands drain first, then device
// data, then block for the next command.
func (c *Controller) loop() {
	defer c.wg.Done()
	for c.running {
		state := c.State()
		switch {
		case state.previewing() && c.queue.IsEmpty() && c.driver.DataAvailable():
			if state.videoStream() {
				c.dequeueVideoFrame()
			} else {
				c.dequeuePreviewFrame()
			}
		default:
			c.dispatch(c.queue.Receive())
		}
	}
}

func (c *Controller) dispatch(msg command) {
	var err error
	switch m := msg.(type) {
	case exitCmd:
		c.handleExit()
	case startPreviewCmd:
		err = c.handleStartPreview()
		c.queue.Reply(KindStartPreview, err)
	case stopPreviewCmd:
		err = c.handleStopPreview()
		c.queue.Reply(KindStopPreview, err)
	case startRecordingCmd:
		err = c.handleStartRecording()
		c.queue.Reply(KindStartRecording, err)
	case stopRecordingCmd:
		err = c.handleStopRecording()
		c.queue.Reply(KindStopRecording, err)
	case setParametersCmd:
		err = c.handleSetParameters(m.set)
		c.queue.Reply(KindSetParameters, err)
	case getParametersCmd:
		c.handleGetParameters(m.out)
		c.queue.Reply(KindGetParameters, nil)
	case takePictureCmd:
		err = c.handleTakePicture()
	case cancelPictureCmd:
		c.handleCancelPicture()
	case autoFocusCmd:
		c.handleAutoFocus()
	case cancelAutoFocusCmd:
		c.handleCancelAutoFocus()
	case releaseRecordingFrameCmd:
		err = c.handleReleaseRecordingFrame(m.handle)
	case recordingFlushedCmd:
		c.settleRecordingReturn(m.buf)
	case previewDoneCmd:
		c.handlePreviewDone(m.buf)
	case pictureDoneCmd:
		c.handlePictureDone(m)
	case facesDetectedCmd:
		c.handleFacesDetected(m)
	case startFaceDetectionCmd:
		err = c.handleStartFaceDetection()
	case stopFaceDetectionCmd:
		c.handleStopFaceDetection()
	default:
		c.logger.Error("unhandled command", "kind", msg.kind().String())
	}

	status := "success"
	if err != nil {
		status = "error"
		if !errors.Is(err, errors.ErrStaleBuffer) {
			c.listener.Error(msg.kind().String(), err)
		}
	}
	c.metrics.IncCommand(msg.kind().String(), status)
}
