package device

import (
	"log/slog"
	"sync"

	"github.com/camhal/camhal-go/internal/errors"
	"github.com/camhal/camhal-go/internal/logging"
	"github.com/camhal/camhal-go/internal/observability/metrics"
)

// Pool owns the fixed set of capture buffers for one device. Every
// buffer is either queued in the device or dequeued into the HAL;
// queued + dequeued always equals the pool size. Each streaming
// session bumps a monotone session id, and buffers coming back tagged
// with an older id are rejected as stale before the hardware is
// touched.
type Pool struct {
	dev   CaptureDevice
	alloc Allocator

	mu        sync.Mutex
	bufs      []*Buffer
	byData    map[*byte]*Buffer
	sessionID uint64
	queued    int
	dequeued  int

	logger  *slog.Logger
	metrics *metrics.CameraMetrics
}

// NewPool creates an empty pool bound to a device and an allocator.
func NewPool(dev CaptureDevice, alloc Allocator) *Pool {
	return &Pool{
		dev:    dev,
		alloc:  alloc,
		logger: logging.ForService("bufferpool"),
	}
}

// SetMetrics attaches optional Prometheus metrics.
func (p *Pool) SetMetrics(m *metrics.CameraMetrics) {
	p.mu.Lock()
	p.metrics = m
	p.mu.Unlock()
}

// Allocate requests count buffer slots from the device and binds
// memory to each. Fails fast with AlreadyAllocated when the pool holds
// buffers; on partial failure every binding made so far is released
// before returning.
func (p *Pool) Allocate(count int, format FrameFormat) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bufs != nil {
		return errors.New(errors.ErrAlreadyAllocated).
			Component("device").
			Category(errors.CategoryBuffer).
			Context("count", len(p.bufs)).
			Build()
	}

	granted, err := p.dev.RequestBuffers(count)
	if err != nil {
		return errors.New(err).
			Component("device").
			Category(errors.CategoryDevice).
			Context("op", "request_buffers").
			Build()
	}
	if granted < count {
		p.logger.Warn("device granted fewer buffers than requested",
			"requested", count, "granted", granted)
		count = granted
	}

	bufs := make([]*Buffer, 0, count)
	release := func() {
		for _, b := range bufs {
			if err := p.alloc.ReleaseBuffer(b.Index, b.Data); err != nil {
				p.logger.Error("releasing buffer after failed allocate",
					"index", b.Index, "error", err)
			}
		}
		if _, err := p.dev.RequestBuffers(0); err != nil {
			p.logger.Error("returning buffer slots after failed allocate",
				"error", err)
		}
	}

	for i := 0; i < count; i++ {
		length, err := p.dev.QueryBuffer(i)
		if err != nil {
			release()
			return errors.New(err).
				Component("device").
				Category(errors.CategoryDevice).
				Context("op", "query_buffer").
				Context("index", i).
				Build()
		}
		data, err := p.alloc.AllocateBuffer(i, length)
		if err != nil {
			release()
			return errors.New(errors.ErrNoMemory).
				Component("device").
				Category(errors.CategoryBuffer).
				Context("index", i).
				Context("length", length).
				Build()
		}
		bufs = append(bufs, &Buffer{
			Index:  i,
			Data:   data,
			Length: length,
			Format: format,
		})
	}

	p.bufs = bufs
	p.byData = make(map[*byte]*Buffer, len(bufs))
	for _, b := range bufs {
		if len(b.Data) > 0 {
			p.byData[&b.Data[0]] = b
		}
	}
	p.queued = 0
	p.dequeued = len(bufs)
	p.updateMetricsLocked()
	return nil
}

// Free releases all buffer memory and returns the slots to the device.
// A pool with no buffers is a no-op.
func (p *Pool) Free() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bufs == nil {
		p.logger.Debug("free on empty pool")
		return nil
	}
	var firstErr error
	for _, b := range p.bufs {
		if err := p.alloc.ReleaseBuffer(b.Index, b.Data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if _, err := p.dev.RequestBuffers(0); err != nil && firstErr == nil {
		firstErr = err
	}
	p.bufs = nil
	p.byData = nil
	p.queued = 0
	p.dequeued = 0
	p.updateMetricsLocked()
	if firstErr != nil {
		return errors.New(firstErr).
			Component("device").
			Category(errors.CategoryDevice).
			Context("op", "free_buffers").
			Build()
	}
	return nil
}

// QueueToDevice returns a buffer to the device. During the initial
// fill after a (re)start the session check is skipped; afterwards a
// buffer tagged with an older session is rejected with StaleBuffer
// without touching the hardware.
func (p *Pool) QueueToDevice(b *Buffer, initialFill bool) error {
	p.mu.Lock()
	if p.bufs == nil {
		p.mu.Unlock()
		return errors.New(errors.ErrNotAllocated).
			Component("device").
			Category(errors.CategoryBuffer).
			Build()
	}
	if !initialFill && b.SessionID != p.sessionID {
		m := p.metrics
		p.mu.Unlock()
		if m != nil {
			m.IncStaleBuffers()
		}
		return errors.New(errors.ErrStaleBuffer).
			Component("device").
			Category(errors.CategoryBuffer).
			Context("index", b.Index).
			Context("buffer_session", b.SessionID).
			Context("pool_session", p.sessionID).
			Build()
	}
	p.mu.Unlock()

	if err := p.dev.QueueBuffer(b.Index); err != nil {
		return errors.New(err).
			Component("device").
			Category(errors.CategoryDevice).
			Context("op", "queue_buffer").
			Context("index", b.Index).
			Build()
	}

	p.mu.Lock()
	p.queued++
	p.dequeued--
	p.updateMetricsLocked()
	p.mu.Unlock()
	return nil
}

// DequeueFromDevice blocks until the device fills a buffer, stamps it
// with the current session id and the capture timestamp, and lends it
// out.
func (p *Pool) DequeueFromDevice() (*Buffer, error) {
	p.mu.Lock()
	if p.bufs == nil {
		p.mu.Unlock()
		return nil, errors.New(errors.ErrNotAllocated).
			Component("device").
			Category(errors.CategoryBuffer).
			Build()
	}
	p.mu.Unlock()

	index, ts, err := p.dev.DequeueBuffer()
	if err != nil {
		return nil, errors.New(err).
			Component("device").
			Category(errors.CategoryDevice).
			Context("op", "dequeue_buffer").
			Build()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.bufs) {
		return nil, errors.Newf("device returned slot %d outside pool of %d",
			index, len(p.bufs)).
			Component("device").
			Category(errors.CategoryDevice).
			Build()
	}
	b := p.bufs[index]
	b.SessionID = p.sessionID
	b.Timestamp = ts
	p.queued--
	p.dequeued++
	p.updateMetricsLocked()
	return b, nil
}

// StartSession advances the session id. Buffers still lent out under
// the previous id become stale.
func (p *Pool) StartSession() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID++
	return p.sessionID
}

// SessionID returns the current session id.
func (p *Pool) SessionID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// IsCurrent reports whether a buffer belongs to the current session.
func (p *Pool) IsCurrent(b *Buffer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return b != nil && b.SessionID == p.sessionID
}

// DataAvailable reports whether the device holds any buffers to fill.
func (p *Pool) DataAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queued > 0
}

// Size returns the pool size, zero before Allocate.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bufs)
}

// QueuedCount returns how many buffers the device currently holds.
func (p *Pool) QueuedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queued
}

// DequeuedCount returns how many buffers consumers currently hold.
func (p *Pool) DequeuedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dequeued
}

// ByIndex returns the buffer for a slot, bounds-checked.
func (p *Pool) ByIndex(index int) (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bufs == nil {
		return nil, errors.New(errors.ErrNotAllocated).
			Component("device").
			Category(errors.CategoryBuffer).
			Build()
	}
	if index < 0 || index >= len(p.bufs) {
		return nil, errors.Newf("buffer index %d outside pool of %d",
			index, len(p.bufs)).
			Component("device").
			Category(errors.CategoryBuffer).
			Build()
	}
	return p.bufs[index], nil
}

// FindByData resolves a lent memory region back to its buffer handle,
// or nil when the memory does not belong to the pool. The mapping is
// built once at allocation and dropped at free, so handles from a
// freed pool never resolve.
func (p *Pool) FindByData(data []byte) *Buffer {
	if len(data) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byData[&data[0]]
}

func (p *Pool) updateMetricsLocked() {
	if p.metrics != nil {
		p.metrics.UpdateBufferCounts(p.queued, p.dequeued)
	}
}
