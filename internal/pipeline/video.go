package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"github.com/camhal/camhal-go/internal/device"
	"github.com/camhal/camhal-go/internal/logging"
	"github.com/camhal/camhal-go/internal/msgqueue"
	"github.com/camhal/camhal-go/internal/observability/metrics"
)

type videoKind int

const (
	videoExit videoKind = iota
	videoSubmit
	videoFlush
)

type videoMsg struct {
	kind      videoKind
	buf       *device.Buffer
	timestamp time.Time
}

// Video delivers recording frames to a consumer off the control
// goroutine. Delivered frames stay lent out until the application
// releases them through the facade; frames flushed before delivery go
// back through the sink instead.
type Video struct {
	queue    *msgqueue.Queue[videoMsg, videoKind]
	consumer FrameConsumer
	sink     VideoSink
	logger   *slog.Logger
	metrics  *metrics.CameraMetrics

	wg      sync.WaitGroup
	started bool
}

// NewVideo creates a stopped video pipeline.
func NewVideo(consumer FrameConsumer, sink VideoSink) *Video {
	return &Video{
		queue:    msgqueue.New[videoMsg, videoKind]("video", videoFlush),
		consumer: consumer,
		sink:     sink,
		logger:   logging.ForService("video"),
	}
}

// SetMetrics attaches optional metrics.
func (v *Video) SetMetrics(m *metrics.CameraMetrics) { v.metrics = m }

// Start launches the worker goroutine.
func (v *Video) Start() {
	if v.started {
		return
	}
	v.started = true
	v.wg.Add(1)
	go v.loop()
}

// Stop ends the worker and waits for it.
func (v *Video) Stop() {
	if !v.started {
		return
	}
	_ = v.queue.Send(videoMsg{kind: videoExit})
	v.wg.Wait()
	v.queue.Close()
	v.started = false
}

// Submit hands one recording frame with its capture timestamp to the
// consumer.
func (v *Video) Submit(buf *device.Buffer, timestamp time.Time) error {
	err := v.queue.Send(videoMsg{
		kind:      videoSubmit,
		buf:       buf,
		timestamp: timestamp,
	})
	v.metrics.SetPipelineQueueDepth("video", v.queue.Len())
	return err
}

// Flush drops undelivered frames, settling each through the sink, and
// blocks until the worker acknowledges.
func (v *Video) Flush() error {
	var removed []videoMsg
	v.queue.RemoveMatching(videoFlush,
		func(m videoMsg) bool { return m.kind == videoSubmit }, &removed)
	for _, m := range removed {
		v.metrics.IncPipelineDrops("video", "flush")
		v.sink.VideoFrameFlushed(m.buf)
	}
	return v.queue.SendAndWait(videoMsg{kind: videoFlush}, videoFlush)
}

func (v *Video) loop() {
	defer v.wg.Done()
	for {
		msg := v.queue.Receive()
		switch msg.kind {
		case videoExit:
			return
		case videoFlush:
			v.queue.Reply(videoFlush, nil)
		case videoSubmit:
			v.consumer.VideoFrame(msg.buf, msg.timestamp)
			v.metrics.SetPipelineQueueDepth("video", v.queue.Len())
		}
	}
}
