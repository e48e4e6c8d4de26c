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

type stillKind int

const (
	stillExit stillKind = iota
	stillConfigure
	stillEncode
	stillFlush
)

// StillConfig carries the picture geometry and JPEG settings.
type StillConfig struct {
	Format       device.FrameFormat
	Quality      int
	ThumbWidth   int
	ThumbHeight  int
	ThumbQuality int
}

type stillMsg struct {
	kind     stillKind
	config   StillConfig
	snapshot *device.Buffer
	postview *device.Buffer
}

// Still encodes snapshot frames to JPEG off the control goroutine and
// reports each result through the sink.
type Still struct {
	queue   *msgqueue.Queue[stillMsg, stillKind]
	sink    PictureSink
	encoder Encoder
	logger  *slog.Logger
	metrics *metrics.CameraMetrics

	wg      sync.WaitGroup
	started bool

	config StillConfig
}

// NewStill creates a stopped still pipeline around an encoder.
func NewStill(sink PictureSink, encoder Encoder) *Still {
	return &Still{
		queue: msgqueue.New[stillMsg, stillKind]("still",
			stillConfigure, stillFlush),
		sink:    sink,
		encoder: encoder,
		logger:  logging.ForService("still"),
	}
}

// SetMetrics attaches optional metrics.
func (s *Still) SetMetrics(m *metrics.CameraMetrics) { s.metrics = m }

// Start launches the worker goroutine.
func (s *Still) Start() {
	if s.started {
		return
	}
	s.started = true
	s.wg.Add(1)
	go s.loop()
}

// Stop ends the worker and waits for it.
func (s *Still) Stop() {
	if !s.started {
		return
	}
	_ = s.queue.Send(stillMsg{kind: stillExit})
	s.wg.Wait()
	s.queue.Close()
	s.started = false
}

// Configure applies picture settings, blocking until the worker has
// them.
func (s *Still) Configure(cfg StillConfig) error {
	return s.queue.SendAndWait(stillMsg{
		kind:   stillConfigure,
		config: cfg,
	}, stillConfigure)
}

// Encode queues one snapshot (and optional postview) for encoding.
// Buffers and the JPEG come back through the sink's PictureDone.
func (s *Still) Encode(snapshot, postview *device.Buffer) error {
	return s.queue.Send(stillMsg{
		kind:     stillEncode,
		snapshot: snapshot,
		postview: postview,
	})
}

// Flush abandons queued encodes, settling their buffers through the
// sink with a nil JPEG, and blocks until the worker acknowledges.
func (s *Still) Flush() error {
	var removed []stillMsg
	s.queue.RemoveMatching(stillFlush,
		func(m stillMsg) bool { return m.kind == stillEncode }, &removed)
	for _, m := range removed {
		s.metrics.IncPipelineDrops("still", "flush")
		s.sink.PictureDone(m.snapshot, m.postview, nil)
	}
	return s.queue.SendAndWait(stillMsg{kind: stillFlush}, stillFlush)
}

func (s *Still) loop() {
	defer s.wg.Done()
	for {
		msg := s.queue.Receive()
		switch msg.kind {
		case stillExit:
			return
		case stillConfigure:
			s.config = msg.config
			s.queue.Reply(stillConfigure, nil)
		case stillFlush:
			s.queue.Reply(stillFlush, nil)
		case stillEncode:
			s.encode(msg.snapshot, msg.postview)
		}
	}
}

func (s *Still) encode(snapshot, postview *device.Buffer) {
	quality := s.config.Quality
	if quality <= 0 {
		quality = 90
	}
	start := time.Now()
	jpeg, err := s.encoder.Encode(snapshot, quality)
	if err != nil {
		s.logger.Error("snapshot encode failed", "error", err)
		s.metrics.IncFramesEncoded("still", "error")
		s.sink.PictureDone(snapshot, postview, nil)
		return
	}
	s.metrics.IncFramesEncoded("still", "success")
	s.metrics.ObserveEncodeDuration("still", time.Since(start).Seconds())
	s.sink.PictureDone(snapshot, postview, jpeg)
}
