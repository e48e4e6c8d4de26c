// Package device defines the capture-device port, the session-tagged
// buffer pool, and the driver that composes them into the mode
// lifecycle the session controller runs against. Hardware specifics
// stay behind the CaptureDevice interface; the V4L2 implementation
// lives in internal/v4l2 and an in-memory fake ships here for tests
// and the simulator.
package device

import "time"

// Mode is the driver's capture mode.
type Mode int

const (
	ModeNone Mode = iota
	ModePreview
	ModeCapture
	ModeVideo
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModePreview:
		return "preview"
	case ModeCapture:
		return "capture"
	case ModeVideo:
		return "video"
	default:
		return "unknown"
	}
}

// PixelFormat is a FOURCC pixel format code.
type PixelFormat uint32

// FourCC assembles a pixel format from its four character code.
func FourCC(a, b, c, d byte) PixelFormat {
	return PixelFormat(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	PixelFormatYUYV = FourCC('Y', 'U', 'Y', 'V')
	PixelFormatNV12 = FourCC('N', 'V', '1', '2')
	PixelFormatMJPG = FourCC('M', 'J', 'P', 'G')
)

// FrameFormat describes a negotiated frame geometry and pixel format.
type FrameFormat struct {
	Width  int
	Height int
	Pixel  PixelFormat
}

// Capabilities reports what a capture device can do. The driver
// requires Capture and Streaming.
type Capabilities struct {
	DriverName string
	Card       string
	BusInfo    string
	Capture    bool
	Streaming  bool
}

// ControlID names a device control in hardware-neutral terms. The port
// implementation maps these onto its own control mechanism.
type ControlID int

const (
	ControlZoom ControlID = iota + 1
	ControlColorEffect
	ControlFlashMode
	ControlSceneMode
	ControlFocusAuto
	ControlFocusAbsolute
	ControlWhiteBalanceAuto
	ControlWhiteBalanceTemperature
	ControlExposureLock
	ControlWhiteBalanceLock
)

// Window is a weighted region in driver coordinates, produced by
// projecting application windows onto the preview geometry.
type Window struct {
	X1, Y1 int
	X2, Y2 int
	Weight int
}

// CaptureDevice is the port every capture backend implements. All
// calls come from the control goroutine; implementations do not need
// internal locking beyond what DequeueBuffer's blocking requires.
type CaptureDevice interface {
	Open() error
	Close() error

	// QueryCapabilities reports device capabilities; the driver
	// refuses devices without capture + streaming support.
	QueryCapabilities() (Capabilities, error)

	// SetCaptureMode tells the device which stream profile follows.
	// Devices without mode support return nil.
	SetCaptureMode(mode Mode) error

	// SetFormat negotiates geometry and pixel format, returning what
	// the device actually configured.
	SetFormat(f FrameFormat) (FrameFormat, error)

	// FrameRate reports the configured rate for a geometry. Errors are
	// non-fatal; the driver substitutes a default.
	FrameRate(width, height int) (float64, error)

	// RequestBuffers asks the device for count buffer slots and
	// returns the count granted.
	RequestBuffers(count int) (int, error)

	// QueryBuffer returns the byte length required for slot index.
	QueryBuffer(index int) (int, error)

	QueueBuffer(index int) error

	// DequeueBuffer blocks until a filled buffer is available and
	// returns its slot index and capture timestamp.
	DequeueBuffer() (int, time.Time, error)

	StreamOn() error
	StreamOff() error

	// SetControl applies a control value best-effort; implementations
	// try every mechanism they have before failing.
	SetControl(id ControlID, value int32) error
}

// Allocator supplies buffer memory. The pool never allocates on its
// own; the V4L2 device hands out mmap regions, the fake and tests use
// a heap allocator.
type Allocator interface {
	AllocateBuffer(index, length int) ([]byte, error)
	ReleaseBuffer(index int, data []byte) error
}
