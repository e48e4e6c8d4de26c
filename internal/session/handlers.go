package session

import (
	"time"

	"github.com/camhal/camhal-go/internal/device"
	"github.com/camhal/camhal-go/internal/errors"
	"github.com/camhal/camhal-go/internal/params"
	"github.com/camhal/camhal-go/internal/pipeline"
)

func (c *Controller) invalidOperation(op string) error {
	return errors.New(errors.ErrInvalidOperation).
		Component("session").
		Category(errors.CategoryState).
		Context("op", op).
		Context("state", c.State().String()).
		Build()
}

// resetCoupled sizes the coupled-buffer array for a fresh streaming
// session.
func (c *Controller) resetCoupled() {
	c.coupled = make([]coupledBuffer, c.driver.NumBuffers())
	c.lastRecordingIdx = -1
}

func (c *Controller) handleExit() {
	if c.State() != Stopped {
		c.stopPreviewCore()
	}
	c.running = false
}

func (c *Controller) handleStartPreview() error {
	// A finished capture blocks until the next preview start; clear it
	// here.
	if c.State() == Capture {
		c.stopCapture()
	}
	if c.State() != Stopped {
		return c.invalidOperation("start_preview")
	}

	videoMode := c.params.RecordingHint()
	mode := device.ModePreview
	next := PreviewStill
	if videoMode {
		mode = device.ModeVideo
		next = PreviewVideo
	}

	format := c.driver.PreviewFormat()
	if videoMode {
		format = c.driver.VideoFormat()
	}
	if err := c.preview.Configure(format); err != nil {
		return err
	}
	if err := c.driver.Start(mode); err != nil {
		return err
	}
	c.resetCoupled()
	c.setState(next)
	return nil
}

func (c *Controller) handleStopPreview() error {
	switch c.State() {
	case Stopped:
		return c.invalidOperation("stop_preview")
	case Capture:
		// The preview already stopped when the capture began; the
		// session settles on its own when the picture is done.
		return nil
	case Recording:
		return c.invalidOperation("stop_preview")
	default:
		c.stopPreviewCore()
		return nil
	}
}

// stopPreviewCore tears the streaming session down: face analysis
// drains, pipelines flush their lent buffers back, the driver stops.
// Release messages still in flight will find a new session id and be
// rejected as stale, which is expected here.
func (c *Controller) stopPreviewCore() {
	if c.face.Active() {
		c.face.Deactivate(true)
	}
	if err := c.video.Flush(); err != nil {
		c.logger.Warn("video flush failed", "error", err)
	}
	if err := c.preview.Flush(); err != nil {
		c.logger.Warn("preview flush failed", "error", err)
	}
	if err := c.driver.Stop(); err != nil {
		c.logger.Error("driver stop failed", "error", err)
	}
	c.coupled = nil
	c.lastRecordingIdx = -1
	c.setState(Stopped)
}

// stopCapture finishes the still-capture session.
func (c *Controller) stopCapture() {
	if err := c.still.Flush(); err != nil {
		c.logger.Warn("still flush failed", "error", err)
	}
	if err := c.driver.Stop(); err != nil {
		c.logger.Error("driver stop failed", "error", err)
	}
	c.setState(Stopped)
}

func (c *Controller) handleStartRecording() error {
	switch c.State() {
	case PreviewVideo:
		c.setState(Recording)
		return nil
	case PreviewStill:
		// The preview ran without the recording hint; restart the
		// device in video mode.
		if err := c.preview.Flush(); err != nil {
			c.logger.Warn("preview flush failed", "error", err)
		}
		if err := c.driver.Stop(); err != nil {
			return err
		}
		if err := c.preview.Configure(c.driver.VideoFormat()); err != nil {
			return err
		}
		if err := c.driver.Start(device.ModeVideo); err != nil {
			c.restoreStillPreview()
			return err
		}
		c.resetCoupled()
		c.setState(Recording)
		return nil
	default:
		return c.invalidOperation("start_recording")
	}
}

// restoreStillPreview puts the still preview back after a failed
// switch into video mode, so the session keeps its state. Only when
// the restore itself fails does the session stop.
func (c *Controller) restoreStillPreview() {
	if err := c.preview.Configure(c.driver.PreviewFormat()); err != nil {
		c.logger.Error("preview reconfigure failed", "error", err)
	}
	if err := c.driver.Start(device.ModePreview); err != nil {
		c.logger.Error("cannot restore preview after failed mode switch",
			"error", err)
		c.setState(Stopped)
	}
}

func (c *Controller) handleStopRecording() error {
	if c.State() != Recording {
		return c.invalidOperation("stop_recording")
	}
	// Undelivered frames settle through the flush sink; delivered ones
	// stay out until the consumer releases them. The stream keeps
	// running for the preview.
	if err := c.video.Flush(); err != nil {
		c.logger.Warn("video flush failed", "error", err)
	}
	c.setState(PreviewVideo)
	return nil
}

func (c *Controller) handleTakePicture() error {
	switch c.State() {
	case PreviewStill:
		return c.takeStillPicture()
	case PreviewVideo, Recording:
		return c.takeVideoSnapshot()
	default:
		return c.invalidOperation("take_picture")
	}
}

// takeStillPicture is the classic capture path: the preview stream
// stops, the device restarts in capture mode, one frame is dequeued
// and handed to the still pipeline. The session stays in Capture until
// the picture is done.
func (c *Controller) takeStillPicture() error {
	c.stopPreviewCore()

	if err := c.still.Configure(c.stillConfig(c.driver.PictureFormat())); err != nil {
		return err
	}
	if err := c.driver.Start(device.ModeCapture); err != nil {
		return err
	}
	c.setState(Capture)
	c.captureStart = time.Now()
	c.listener.Shutter()

	snapshot, err := c.driver.Snapshot()
	if err != nil {
		c.stopCapture()
		return err
	}
	c.metrics.IncFramesDequeued("snapshot")
	return c.still.Encode(snapshot, nil)
}

// takeVideoSnapshot borrows the most recent recording frame for
// encoding without interrupting the stream. The borrow is only legal
// while that frame is still held and still belongs to the current
// session.
func (c *Controller) takeVideoSnapshot() error {
	if c.lastRecordingIdx < 0 || c.lastRecordingIdx >= len(c.coupled) {
		return c.invalidOperation("take_picture")
	}
	entry := &c.coupled[c.lastRecordingIdx]
	if entry.buf == nil || !c.driver.IsBufferValid(entry.buf) {
		return c.invalidOperation("take_picture")
	}
	if err := c.still.Configure(c.stillConfig(entry.buf.Format)); err != nil {
		return err
	}
	entry.videoSnapshot = true
	entry.snapshotReturned = false
	c.captureStart = time.Now()
	c.listener.Shutter()
	return c.still.Encode(entry.buf, nil)
}

func (c *Controller) stillConfig(format device.FrameFormat) pipeline.StillConfig {
	return pipeline.StillConfig{
		Format:       format,
		Quality:      c.params.GetInt(params.KeyJPEGQuality, 90),
		ThumbWidth:   c.params.GetInt(params.KeyThumbnailWidth, 0),
		ThumbHeight:  c.params.GetInt(params.KeyThumbnailHeight, 0),
		ThumbQuality: c.params.GetInt(params.KeyThumbnailQuality, 0),
	}
}

func (c *Controller) handleCancelPicture() {
	if err := c.still.Flush(); err != nil {
		c.logger.Warn("still flush failed", "error", err)
	}
}

func (c *Controller) handleAutoFocus() {
	if c.State() == Stopped {
		c.listener.AutoFocusDone(false)
		return
	}
	// Kick the hardware; drivers without autofocus still report
	// completion so the application is never left waiting.
	if err := c.driver.SetFocusMode(device.FocusAuto, nil); err != nil {
		c.logger.Debug("autofocus trigger rejected", "error", err)
	}
	c.listener.AutoFocusDone(true)
}

func (c *Controller) handleCancelAutoFocus() {
	c.logger.Debug("autofocus cancelled")
}

func (c *Controller) handleReleaseRecordingFrame(handle []byte) error {
	buf := c.driver.FindBuffer(handle)
	if buf == nil {
		return errors.New(errors.ErrDeadObject).
			Component("session").
			Category(errors.CategoryBuffer).
			Context("op", "release_recording_frame").
			Build()
	}
	c.settleRecordingReturn(buf)
	return nil
}

// settleRecordingReturn marks a recording frame returned and requeues
// the coupled buffer when complete.
func (c *Controller) settleRecordingReturn(buf *device.Buffer) {
	if buf.Index >= len(c.coupled) {
		c.logger.Debug("recording return for torn-down session",
			"index", buf.Index)
		return
	}
	entry := &c.coupled[buf.Index]
	if entry.buf == nil {
		c.logger.Debug("recording return with no coupled entry",
			"index", buf.Index)
		return
	}
	entry.recordingReturned = true
	c.queueCoupledBuffer(buf.Index)
}

func (c *Controller) handlePreviewDone(buf *device.Buffer) {
	if c.face.Active() && c.face.Offer(buf) {
		// The frame comes back through FacesDetected.
		return
	}
	c.releasePreviewFrame(buf)
}

func (c *Controller) handleFacesDetected(m facesDetectedCmd) {
	c.listener.FacesDetected(m.count)
	c.releasePreviewFrame(m.buf)
}

// releasePreviewFrame returns a preview frame according to the state:
// still preview requeues directly, video states go through coupled
// bookkeeping. Stale rejections are the expected teardown race and
// only logged.
func (c *Controller) releasePreviewFrame(buf *device.Buffer) {
	if c.State().videoStream() && buf.Index < len(c.coupled) &&
		c.coupled[buf.Index].buf != nil {
		entry := &c.coupled[buf.Index]
		entry.previewReturned = true
		c.queueCoupledBuffer(buf.Index)
		return
	}
	if err := c.driver.PutPreviewFrame(buf); err != nil {
		if errors.Is(err, errors.ErrStaleBuffer) ||
			errors.Is(err, errors.ErrInvalidOperation) ||
			errors.Is(err, errors.ErrNotAllocated) {
			c.logger.Debug("preview frame from ended session dropped",
				"index", buf.Index)
			return
		}
		c.logger.Error("preview frame requeue failed",
			"index", buf.Index, "error", err)
	}
}

// queueCoupledBuffer physically requeues a coupled frame once every
// consumer is done with it: preview always, recording always (marked
// immediately when nobody records), snapshot only when borrowed.
func (c *Controller) queueCoupledBuffer(index int) {
	entry := &c.coupled[index]
	if entry.buf == nil {
		return
	}
	if !entry.previewReturned || !entry.recordingReturned {
		return
	}
	if entry.videoSnapshot && !entry.snapshotReturned {
		return
	}
	buf := entry.buf
	*entry = coupledBuffer{}
	if index == c.lastRecordingIdx {
		c.lastRecordingIdx = -1
	}
	if err := c.driver.PutRecordingFrame(buf); err != nil {
		if errors.Is(err, errors.ErrStaleBuffer) ||
			errors.Is(err, errors.ErrInvalidOperation) ||
			errors.Is(err, errors.ErrNotAllocated) {
			c.logger.Debug("coupled frame from ended session dropped",
				"index", index)
			return
		}
		c.logger.Error("coupled frame requeue failed",
			"index", index, "error", err)
	}
}

func (c *Controller) handlePictureDone(m pictureDoneCmd) {
	if m.jpeg != nil {
		c.listener.PictureTaken(m.jpeg)
	}
	c.metrics.ObserveCaptureDuration(m.finished.Sub(c.captureStart).Seconds())

	switch c.State() {
	case Capture:
		if err := c.driver.PutSnapshot(m.snapshot); err != nil &&
			!errors.Is(err, errors.ErrStaleBuffer) {
			c.logger.Warn("snapshot requeue failed", "error", err)
		}
		if m.postview != nil {
			if err := c.driver.PutSnapshot(m.postview); err != nil &&
				!errors.Is(err, errors.ErrStaleBuffer) {
				c.logger.Warn("postview requeue failed", "error", err)
			}
		}
		c.stopCapture()
	case PreviewVideo, Recording:
		// Video snapshot: settle the borrowed coupled frame.
		if m.snapshot.Index < len(c.coupled) {
			entry := &c.coupled[m.snapshot.Index]
			if entry.buf != nil && entry.videoSnapshot {
				entry.snapshotReturned = true
				c.queueCoupledBuffer(m.snapshot.Index)
			}
		}
	default:
		c.logger.Debug("picture done after session ended")
	}
}

func (c *Controller) handleStartFaceDetection() error {
	if c.State() == Stopped || c.face.Active() {
		return c.invalidOperation("start_face_detection")
	}
	c.face.Activate()
	return nil
}

func (c *Controller) handleStopFaceDetection() {
	if c.face.Active() {
		c.face.Deactivate(true)
	}
}

func (c *Controller) handleGetParameters(out *params.Set) {
	c.params.Each(out.Set)
}

// dequeuePreviewFrame pulls one frame in still-preview state and hands
// it to the preview pipeline.
func (c *Controller) dequeuePreviewFrame() {
	buf, err := c.driver.PreviewFrame()
	if err != nil {
		c.logger.Error("preview dequeue failed", "error", err)
		return
	}
	c.metrics.IncFramesDequeued("preview")
	if err := c.preview.Submit(buf); err != nil {
		c.releasePreviewFrame(buf)
	}
}

// dequeueVideoFrame pulls one frame in the video states and couples it
// for the preview and recording consumers. When nobody records, the
// recording side is settled immediately.
func (c *Controller) dequeueVideoFrame() {
	buf, err := c.driver.RecordingFrame()
	if err != nil {
		c.logger.Error("video dequeue failed", "error", err)
		return
	}
	c.metrics.IncFramesDequeued("recording")

	entry := &c.coupled[buf.Index]
	*entry = coupledBuffer{buf: buf}
	c.lastRecordingIdx = buf.Index

	if c.State() == Recording {
		if err := c.video.Submit(buf, buf.Timestamp); err != nil {
			entry.recordingReturned = true
		}
	} else {
		entry.recordingReturned = true
	}
	if err := c.preview.Submit(buf); err != nil {
		entry.previewReturned = true
		c.queueCoupledBuffer(buf.Index)
	}
}
