package device

import (
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory capture device for tests and the simulator
// command. Queued buffers become "filled" immediately; DequeueBuffer
// blocks while the device holds nothing, like a real driver blocks in
// its dequeue ioctl.
type Fake struct {
	mu   sync.Mutex
	cond *sync.Cond

	open      bool
	streaming bool
	mode      Mode
	format    FrameFormat
	slots     int
	queued    []int
	controls  map[ControlID]int32

	// Test knobs.
	FrameLength  int
	Rate         float64
	FailControls map[ControlID]bool
	FailOpen     bool
	FailStreamOn bool
}

// NewFake creates a fake device producing frames of the given length.
func NewFake(frameLength int) *Fake {
	f := &Fake{
		FrameLength: frameLength,
		Rate:        DefaultFrameRate,
		controls:    make(map[ControlID]int32),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *Fake) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailOpen {
		return fmt.Errorf("fake: open forced to fail")
	}
	if f.open {
		return fmt.Errorf("fake: already open")
	}
	f.open = true
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.streaming = false
	f.queued = nil
	f.cond.Broadcast()
	return nil
}

func (f *Fake) QueryCapabilities() (Capabilities, error) {
	return Capabilities{
		DriverName: "fake",
		Card:       "Fake Camera",
		BusInfo:    "memory",
		Capture:    true,
		Streaming:  true,
	}, nil
}

func (f *Fake) SetCaptureMode(mode Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
	return nil
}

func (f *Fake) SetFormat(fm FrameFormat) (FrameFormat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.format = fm
	return fm, nil
}

func (f *Fake) FrameRate(_, _ int) (float64, error) {
	return f.Rate, nil
}

func (f *Fake) RequestBuffers(count int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots = count
	f.queued = nil
	return count, nil
}

func (f *Fake) QueryBuffer(index int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= f.slots {
		return 0, fmt.Errorf("fake: no buffer slot %d", index)
	}
	return f.FrameLength, nil
}

func (f *Fake) QueueBuffer(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= f.slots {
		return fmt.Errorf("fake: queue of unknown slot %d", index)
	}
	for _, q := range f.queued {
		if q == index {
			return fmt.Errorf("fake: slot %d queued twice", index)
		}
	}
	f.queued = append(f.queued, index)
	f.cond.Broadcast()
	return nil
}

func (f *Fake) DequeueBuffer() (int, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.streaming && len(f.queued) == 0 {
		f.cond.Wait()
	}
	if !f.streaming {
		return 0, time.Time{}, fmt.Errorf("fake: dequeue while not streaming")
	}
	index := f.queued[0]
	f.queued = f.queued[1:]
	return index, time.Now(), nil
}

func (f *Fake) StreamOn() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailStreamOn {
		return fmt.Errorf("fake: stream on forced to fail")
	}
	if !f.open {
		return fmt.Errorf("fake: stream on while closed")
	}
	f.streaming = true
	f.cond.Broadcast()
	return nil
}

func (f *Fake) StreamOff() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaming = false
	f.queued = nil
	f.cond.Broadcast()
	return nil
}

func (f *Fake) SetControl(id ControlID, value int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailControls[id] {
		return fmt.Errorf("fake: control %d unsupported", id)
	}
	f.controls[id] = value
	return nil
}

// Control reads back a stored control value for assertions.
func (f *Fake) Control(id ControlID) (int32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.controls[id]
	return v, ok
}

// QueuedSlots returns how many slots the fake currently holds.
func (f *Fake) QueuedSlots() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queued)
}

// Streaming reports the streaming state.
func (f *Fake) Streaming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streaming
}

// HeapAllocator binds plain heap slices to buffer slots. Paired with
// Fake in tests and the simulator.
type HeapAllocator struct{}

func (HeapAllocator) AllocateBuffer(_, length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("allocate of non-positive length %d", length)
	}
	return make([]byte, length), nil
}

func (HeapAllocator) ReleaseBuffer(_ int, _ []byte) error { return nil }
