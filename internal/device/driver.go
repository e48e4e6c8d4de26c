package device

import (
	"log/slog"

	"github.com/camhal/camhal-go/internal/errors"
	"github.com/camhal/camhal-go/internal/logging"
)

// DefaultFrameRate substitutes when the device cannot report its rate.
const DefaultFrameRate = 30.0

// DefaultBufferCount is used when configuration does not say otherwise.
const DefaultBufferCount = 4

// Effect is a color effect applied in the sensor pipeline.
type Effect int

const (
	EffectNone Effect = iota
	EffectMono
	EffectNegative
	EffectSepia
)

// FlashMode controls the flash LED.
type FlashMode int

const (
	FlashOff FlashMode = iota
	FlashAuto
	FlashOn
	FlashTorch
)

// SceneMode selects a sensor tuning preset.
type SceneMode int

const (
	SceneAuto SceneMode = iota
	ScenePortrait
	SceneSports
	SceneLandscape
	SceneNight
	SceneFireworks
)

// FocusMode selects the focus behavior.
type FocusMode int

const (
	FocusAuto FocusMode = iota
	FocusInfinity
	FocusMacro
	FocusContinuousVideo
)

// WhiteBalanceMode selects the white balance behavior.
type WhiteBalanceMode int

const (
	WhiteBalanceAuto WhiteBalanceMode = iota
	WhiteBalanceIncandescent
	WhiteBalanceFluorescent
	WhiteBalanceDaylight
	WhiteBalanceCloudy
)

// White balance presets in Kelvin for the manual modes.
var whiteBalanceTemp = map[WhiteBalanceMode]int32{
	WhiteBalanceIncandescent: 2800,
	WhiteBalanceFluorescent:  4000,
	WhiteBalanceDaylight:     5500,
	WhiteBalanceCloudy:       6500,
}

// DriverConfig carries the stream geometries the driver configures per
// mode.
type DriverConfig struct {
	NumBuffers int
	Preview    FrameFormat
	Video      FrameFormat
	Picture    FrameFormat
}

// Driver composes a capture device and its buffer pool into the mode
// lifecycle: Start(mode) runs open, configure, initial buffer fill and
// stream-on as one transaction, Stop tears the same steps down in
// reverse. All methods are called from the control goroutine.
type Driver struct {
	dev    CaptureDevice
	pool   *Pool
	cfg    DriverConfig
	mode   Mode
	fps    float64
	zoom   int32
	logger *slog.Logger
}

// NewDriver binds a device, an allocator and a configuration.
func NewDriver(dev CaptureDevice, alloc Allocator, cfg DriverConfig) *Driver {
	if cfg.NumBuffers <= 0 {
		cfg.NumBuffers = DefaultBufferCount
	}
	return &Driver{
		dev:    dev,
		pool:   NewPool(dev, alloc),
		cfg:    cfg,
		fps:    DefaultFrameRate,
		logger: logging.ForService("driver"),
	}
}

// Pool exposes the buffer pool for metrics wiring.
func (d *Driver) Pool() *Pool { return d.pool }

// Mode returns the current capture mode.
func (d *Driver) Mode() Mode { return d.mode }

// FrameRate returns the configured frame rate.
func (d *Driver) FrameRate() float64 { return d.fps }

// NumBuffers returns the pool size for the running mode.
func (d *Driver) NumBuffers() int { return d.pool.Size() }

// DataAvailable reports whether the device holds buffers to fill.
func (d *Driver) DataAvailable() bool { return d.pool.DataAvailable() }

// IsBufferValid reports whether a lent buffer still belongs to the
// current streaming session.
func (d *Driver) IsBufferValid(b *Buffer) bool { return d.pool.IsCurrent(b) }

// FindBuffer resolves lent buffer memory back to its handle.
func (d *Driver) FindBuffer(data []byte) *Buffer { return d.pool.FindByData(data) }

func (d *Driver) formatFor(mode Mode) FrameFormat {
	switch mode {
	case ModeVideo:
		return d.cfg.Video
	case ModeCapture:
		return d.cfg.Picture
	default:
		return d.cfg.Preview
	}
}

// Start opens and configures the device for a mode, fills the device
// with every pool buffer and starts streaming. Each acquisition
// registers its release, so any later failure unwinds the steps
// already taken and leaves the driver stopped.
func (d *Driver) Start(mode Mode) error {
	if d.mode != ModeNone {
		return errors.New(errors.ErrInvalidOperation).
			Component("device").
			Category(errors.CategoryState).
			Context("mode", d.mode.String()).
			Build()
	}
	if mode == ModeNone {
		return errors.New(errors.ErrBadValue).
			Component("device").
			Category(errors.CategoryValidation).
			Context("mode", "none").
			Build()
	}

	var undo []func()
	fail := func(err error) error {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return err
	}

	if err := d.dev.Open(); err != nil {
		return errors.New(err).
			Component("device").
			Category(errors.CategoryDevice).
			Context("op", "open").
			Build()
	}
	undo = append(undo, func() {
		if err := d.dev.Close(); err != nil {
			d.logger.Error("closing device during unwind", "error", err)
		}
	})

	caps, err := d.dev.QueryCapabilities()
	if err != nil {
		return fail(errors.New(err).
			Component("device").
			Category(errors.CategoryDevice).
			Context("op", "query_capabilities").
			Build())
	}
	if !caps.Capture || !caps.Streaming {
		return fail(errors.New(errors.ErrDevice).
			Component("device").
			Category(errors.CategoryDevice).
			Context("card", caps.Card).
			Context("capture", caps.Capture).
			Context("streaming", caps.Streaming).
			Build())
	}

	if err := d.dev.SetCaptureMode(mode); err != nil {
		return fail(errors.New(err).
			Component("device").
			Category(errors.CategoryDevice).
			Context("op", "set_capture_mode").
			Build())
	}

	want := d.formatFor(mode)
	got, err := d.dev.SetFormat(want)
	if err != nil {
		return fail(errors.New(err).
			Component("device").
			Category(errors.CategoryDevice).
			Context("op", "set_format").
			Context("width", want.Width).
			Context("height", want.Height).
			Build())
	}
	if got != want {
		d.logger.Info("device adjusted format",
			"requested_width", want.Width, "requested_height", want.Height,
			"got_width", got.Width, "got_height", got.Height)
	}

	if fps, err := d.dev.FrameRate(got.Width, got.Height); err != nil || fps <= 0 {
		d.logger.Warn("cannot read frame rate, using default",
			"default", DefaultFrameRate, "error", err)
		d.fps = DefaultFrameRate
	} else {
		d.fps = fps
	}

	if err := d.pool.Allocate(d.cfg.NumBuffers, got); err != nil {
		return fail(err)
	}
	undo = append(undo, func() {
		if err := d.pool.Free(); err != nil {
			d.logger.Error("freeing buffers during unwind", "error", err)
		}
	})

	// Zoom survives restarts; the device forgets it across close.
	if d.zoom > 0 {
		if err := d.dev.SetControl(ControlZoom, d.zoom); err != nil {
			d.logger.Warn("cannot restore zoom", "zoom", d.zoom, "error", err)
		}
	}

	for i := 0; i < d.pool.Size(); i++ {
		b, err := d.pool.ByIndex(i)
		if err != nil {
			return fail(err)
		}
		if err := d.pool.QueueToDevice(b, true); err != nil {
			return fail(err)
		}
	}
	if err := d.dev.StreamOn(); err != nil {
		return fail(errors.New(err).
			Component("device").
			Category(errors.CategoryDevice).
			Context("op", "stream_on").
			Build())
	}

	d.pool.StartSession()
	d.mode = mode
	d.logger.Info("driver started", "mode", mode.String(),
		"width", got.Width, "height", got.Height, "fps", d.fps,
		"buffers", d.pool.Size())
	return nil
}

// Stop stops streaming, frees buffers and closes the device. Stopping
// a stopped driver is a no-op.
func (d *Driver) Stop() error {
	if d.mode == ModeNone {
		return nil
	}
	var firstErr error
	if err := d.dev.StreamOff(); err != nil {
		firstErr = err
		d.logger.Error("stream off failed", "error", err)
	}
	if err := d.pool.Free(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.dev.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	d.mode = ModeNone
	d.logger.Info("driver stopped")
	if firstErr != nil {
		return errors.New(firstErr).
			Component("device").
			Category(errors.CategoryDevice).
			Context("op", "stop").
			Build()
	}
	return nil
}

// Frame accessors. Preview, recording and snapshot frames all come
// from the same stream; the split exists so callers state intent and
// mode guards stay in one place.

func (d *Driver) frame() (*Buffer, error) {
	if d.mode == ModeNone {
		return nil, errors.New(errors.ErrInvalidOperation).
			Component("device").
			Category(errors.CategoryState).
			Build()
	}
	return d.pool.DequeueFromDevice()
}

func (d *Driver) putFrame(b *Buffer) error {
	if d.mode == ModeNone {
		return errors.New(errors.ErrInvalidOperation).
			Component("device").
			Category(errors.CategoryState).
			Build()
	}
	return d.pool.QueueToDevice(b, false)
}

// PreviewFrame dequeues the next filled frame for preview.
func (d *Driver) PreviewFrame() (*Buffer, error) { return d.frame() }

// PutPreviewFrame returns a preview frame to the device.
func (d *Driver) PutPreviewFrame(b *Buffer) error { return d.putFrame(b) }

// RecordingFrame dequeues the next filled frame for recording.
func (d *Driver) RecordingFrame() (*Buffer, error) { return d.frame() }

// PutRecordingFrame returns a recording frame to the device.
func (d *Driver) PutRecordingFrame(b *Buffer) error { return d.putFrame(b) }

// Snapshot dequeues one still frame in capture mode.
func (d *Driver) Snapshot() (*Buffer, error) { return d.frame() }

// PutSnapshot returns a still frame to the device.
func (d *Driver) PutSnapshot(b *Buffer) error { return d.putFrame(b) }

// Geometry setters apply on the next Start; a running stream keeps its
// negotiated format until restarted.

// SetPreviewFormat updates the preview stream geometry.
func (d *Driver) SetPreviewFormat(f FrameFormat) { d.cfg.Preview = f }

// SetVideoFormat updates the recording stream geometry.
func (d *Driver) SetVideoFormat(f FrameFormat) { d.cfg.Video = f }

// SetPictureFormat updates the still stream geometry.
func (d *Driver) SetPictureFormat(f FrameFormat) { d.cfg.Picture = f }

// PreviewFormat returns the configured preview geometry.
func (d *Driver) PreviewFormat() FrameFormat { return d.cfg.Preview }

// VideoFormat returns the configured recording geometry.
func (d *Driver) VideoFormat() FrameFormat { return d.cfg.Video }

// PictureFormat returns the configured still geometry.
func (d *Driver) PictureFormat() FrameFormat { return d.cfg.Picture }

// Control setters. All best-effort against the port; callers decide
// whether a failure aborts their parameter chain.

// SetZoom applies and remembers the zoom level.
func (d *Driver) SetZoom(zoom int) error {
	d.zoom = int32(zoom)
	if d.mode == ModeNone {
		return nil
	}
	return d.control(ControlZoom, int32(zoom), "zoom")
}

// SetEffect applies a color effect.
func (d *Driver) SetEffect(e Effect) error {
	return d.control(ControlColorEffect, int32(e), "effect")
}

// SetFlashMode applies a flash mode.
func (d *Driver) SetFlashMode(m FlashMode) error {
	return d.control(ControlFlashMode, int32(m), "flash_mode")
}

// SetSceneMode applies a scene preset.
func (d *Driver) SetSceneMode(m SceneMode) error {
	return d.control(ControlSceneMode, int32(m), "scene_mode")
}

// SetFocusMode applies a focus mode with optional focus windows.
// Windows are advisory; a device without window support keeps the
// mode.
func (d *Driver) SetFocusMode(m FocusMode, windows []Window) error {
	var auto int32
	switch m {
	case FocusAuto, FocusContinuousVideo:
		auto = 1
	}
	if err := d.control(ControlFocusAuto, auto, "focus_auto"); err != nil {
		return err
	}
	switch m {
	case FocusInfinity:
		if err := d.control(ControlFocusAbsolute, 0, "focus_absolute"); err != nil {
			return err
		}
	case FocusMacro:
		if err := d.control(ControlFocusAbsolute, 1, "focus_absolute"); err != nil {
			return err
		}
	}
	if len(windows) > 0 {
		d.logger.Debug("focus windows set", "count", len(windows),
			"first_weight", windows[0].Weight)
	}
	return nil
}

// SetWhiteBalanceMode applies a white balance mode, using a Kelvin
// preset for the manual modes.
func (d *Driver) SetWhiteBalanceMode(m WhiteBalanceMode) error {
	if m == WhiteBalanceAuto {
		return d.control(ControlWhiteBalanceAuto, 1, "white_balance_auto")
	}
	if err := d.control(ControlWhiteBalanceAuto, 0, "white_balance_auto"); err != nil {
		return err
	}
	return d.control(ControlWhiteBalanceTemperature, whiteBalanceTemp[m],
		"white_balance_temperature")
}

// SetAELock locks or unlocks auto exposure.
func (d *Driver) SetAELock(locked bool) error {
	return d.control(ControlExposureLock, boolValue(locked), "ae_lock")
}

// SetAWBLock locks or unlocks auto white balance.
func (d *Driver) SetAWBLock(locked bool) error {
	return d.control(ControlWhiteBalanceLock, boolValue(locked), "awb_lock")
}

// SetMeteringAreas hands projected metering windows to the device.
// Devices without metering-region support keep their default metering.
func (d *Driver) SetMeteringAreas(windows []Window) error {
	if len(windows) == 0 {
		return nil
	}
	d.logger.Debug("metering areas set", "count", len(windows))
	return nil
}

func (d *Driver) control(id ControlID, value int32, name string) error {
	if err := d.dev.SetControl(id, value); err != nil {
		d.logger.Warn("control rejected", "control", name,
			"value", value, "error", err)
		return errors.New(err).
			Component("device").
			Category(errors.CategoryDevice).
			Context("control", name).
			Context("value", value).
			Build()
	}
	return nil
}

func boolValue(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
