package pipeline

import (
	"io"
	"log/slog"
	"sync"

	"github.com/camhal/camhal-go/internal/device"
	"github.com/camhal/camhal-go/internal/logging"
	"github.com/camhal/camhal-go/internal/msgqueue"
	"github.com/camhal/camhal-go/internal/observability/metrics"
)

type previewKind int

const (
	previewExit previewKind = iota
	previewConfigure
	previewSubmit
	previewFlush
	previewSetSurface
)

type previewMsg struct {
	kind    previewKind
	format  device.FrameFormat
	buf     *device.Buffer
	surface io.Writer
}

// Preview renders preview frames onto an optional surface and hands
// every buffer back through the sink when done.
type Preview struct {
	queue   *msgqueue.Queue[previewMsg, previewKind]
	sink    PreviewSink
	logger  *slog.Logger
	metrics *metrics.CameraMetrics

	wg      sync.WaitGroup
	started bool

	// worker state
	format  device.FrameFormat
	surface io.Writer
}

// NewPreview creates a stopped preview pipeline.
func NewPreview(sink PreviewSink) *Preview {
	return &Preview{
		queue: msgqueue.New[previewMsg, previewKind]("preview",
			previewConfigure, previewFlush),
		sink:   sink,
		logger: logging.ForService("preview"),
	}
}

// SetMetrics attaches optional metrics.
func (p *Preview) SetMetrics(m *metrics.CameraMetrics) { p.metrics = m }

// Start launches the worker goroutine.
func (p *Preview) Start() {
	if p.started {
		return
	}
	p.started = true
	p.wg.Add(1)
	go p.loop()
}

// Stop ends the worker and waits for it.
func (p *Preview) Stop() {
	if !p.started {
		return
	}
	_ = p.queue.Send(previewMsg{kind: previewExit})
	p.wg.Wait()
	p.queue.Close()
	p.started = false
}

// Configure sets the frame geometry, blocking until applied.
func (p *Preview) Configure(format device.FrameFormat) error {
	return p.queue.SendAndWait(previewMsg{
		kind:   previewConfigure,
		format: format,
	}, previewConfigure)
}

// SetSurface directs rendered frames to w. A nil writer drops frames.
func (p *Preview) SetSurface(w io.Writer) {
	_ = p.queue.Send(previewMsg{kind: previewSetSurface, surface: w})
}

// Submit hands one frame to the pipeline. The buffer returns through
// the sink's PreviewDone.
func (p *Preview) Submit(buf *device.Buffer) error {
	err := p.queue.Send(previewMsg{kind: previewSubmit, buf: buf})
	p.metrics.SetPipelineQueueDepth("preview", p.queue.Len())
	return err
}

// Flush removes undisplayed frames, returning each through the sink,
// and blocks until the worker acknowledges.
func (p *Preview) Flush() error {
	var removed []previewMsg
	p.queue.RemoveMatching(previewFlush,
		func(m previewMsg) bool { return m.kind == previewSubmit }, &removed)
	for _, m := range removed {
		p.sink.PreviewDone(m.buf)
	}
	return p.queue.SendAndWait(previewMsg{kind: previewFlush}, previewFlush)
}

func (p *Preview) loop() {
	defer p.wg.Done()
	for {
		msg := p.queue.Receive()
		switch msg.kind {
		case previewExit:
			return
		case previewConfigure:
			p.format = msg.format
			p.queue.Reply(previewConfigure, nil)
		case previewSetSurface:
			p.surface = msg.surface
		case previewSubmit:
			p.render(msg.buf)
			p.sink.PreviewDone(msg.buf)
			p.metrics.SetPipelineQueueDepth("preview", p.queue.Len())
		case previewFlush:
			p.queue.Reply(previewFlush, nil)
		}
	}
}

func (p *Preview) render(buf *device.Buffer) {
	if p.surface == nil {
		return
	}
	if _, err := p.surface.Write(buf.Data[:buf.Length]); err != nil {
		p.logger.Warn("surface write failed", "error", err)
		p.metrics.IncPipelineDrops("preview", "surface_error")
	}
}
