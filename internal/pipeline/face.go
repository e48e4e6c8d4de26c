package pipeline

import (
	"log/slog"
	"sync"

	"github.com/camhal/camhal-go/internal/device"
	"github.com/camhal/camhal-go/internal/logging"
	"github.com/camhal/camhal-go/internal/msgqueue"
	"github.com/camhal/camhal-go/internal/observability/metrics"
)

// Detector is the face analysis algorithm. Implementations run on the
// face pipeline's goroutine.
type Detector interface {
	Detect(buf *device.Buffer) int
	MaxDetectable() int
}

type faceKind int

const (
	faceExit faceKind = iota
	faceFrame
	faceStop
)

type faceMsg struct {
	kind faceKind
	buf  *device.Buffer
}

// Frames waiting for analysis beyond this are rejected so preview
// never starves for buffers behind a slow detector.
const maxPendingFaceFrames = 1

// Face runs a detector over preview frames. Frames are offered, not
// pushed: a busy or inactive pipeline rejects them and the caller
// keeps ownership.
type Face struct {
	queue    *msgqueue.Queue[faceMsg, faceKind]
	detector Detector
	sink     FaceSink
	logger   *slog.Logger
	metrics  *metrics.CameraMetrics

	wg      sync.WaitGroup
	started bool

	mu     sync.Mutex
	active bool
}

// NewFace creates a stopped face pipeline.
func NewFace(sink FaceSink, detector Detector) *Face {
	return &Face{
		queue:    msgqueue.New[faceMsg, faceKind]("face", faceStop),
		detector: detector,
		sink:     sink,
		logger:   logging.ForService("facedetect"),
	}
}

// SetMetrics attaches optional metrics.
func (f *Face) SetMetrics(m *metrics.CameraMetrics) { f.metrics = m }

// StartWorker launches the worker goroutine. Detection itself stays
// off until Activate.
func (f *Face) StartWorker() {
	if f.started {
		return
	}
	f.started = true
	f.wg.Add(1)
	go f.loop()
}

// StopWorker ends the worker and waits for it.
func (f *Face) StopWorker() {
	if !f.started {
		return
	}
	f.Deactivate(true)
	_ = f.queue.Send(faceMsg{kind: faceExit})
	f.wg.Wait()
	f.queue.Close()
	f.started = false
}

// Activate turns detection on.
func (f *Face) Activate() {
	f.mu.Lock()
	f.active = true
	f.mu.Unlock()
}

// Deactivate turns detection off. With wait set it blocks until the
// worker has drained the frame in flight.
func (f *Face) Deactivate(wait bool) {
	f.mu.Lock()
	wasActive := f.active
	f.active = false
	f.mu.Unlock()
	if !wait || !wasActive || !f.started {
		return
	}
	if err := f.queue.SendAndWait(faceMsg{kind: faceStop}, faceStop); err != nil {
		f.logger.Warn("face pipeline drain interrupted", "error", err)
	}
}

// Active reports whether detection is on.
func (f *Face) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// MaxFacesDetectable reports the detector's capacity.
func (f *Face) MaxFacesDetectable() int {
	return f.detector.MaxDetectable()
}

// Offer proposes a frame for analysis. It reports whether the
// pipeline took ownership; a rejected frame stays with the caller.
func (f *Face) Offer(buf *device.Buffer) bool {
	f.mu.Lock()
	active := f.active
	f.mu.Unlock()
	if !active {
		return false
	}
	if f.queue.Len() > maxPendingFaceFrames {
		f.metrics.IncPipelineDrops("face", "busy")
		return false
	}
	_ = f.queue.Send(faceMsg{kind: faceFrame, buf: buf})
	return true
}

func (f *Face) loop() {
	defer f.wg.Done()
	for {
		msg := f.queue.Receive()
		switch msg.kind {
		case faceExit:
			return
		case faceStop:
			f.queue.Reply(faceStop, nil)
		case faceFrame:
			count := 0
			if f.Active() {
				count = f.detector.Detect(msg.buf)
			}
			f.sink.FacesDetected(count, msg.buf)
		}
	}
}
