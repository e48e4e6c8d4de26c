//go:build linux

// Package v4l2 implements the capture-device port over the Video4Linux2
// ioctl interface without cgo. Raw request codes and struct layouts
// stay inside this package; the rest of the HAL only sees the port.
package v4l2

import (
	"bytes"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/camhal/camhal-go/internal/device"
	"github.com/camhal/camhal-go/internal/logging"
)

// cidFor maps port control ids onto V4L2 control ids.
var cidFor = map[device.ControlID]uint32{
	device.ControlZoom:                    cidZoomAbsolute,
	device.ControlColorEffect:             cidColorEffect,
	device.ControlFlashMode:               cidFlashLEDMode,
	device.ControlSceneMode:               cidSceneMode,
	device.ControlFocusAuto:               cidFocusAuto,
	device.ControlFocusAbsolute:           cidFocusAbsolute,
	device.ControlWhiteBalanceAuto:        cidAutoWhiteBalance,
	device.ControlWhiteBalanceTemperature: cidWhiteBalanceTemperature,
}

// Device drives one V4L2 capture node. It implements both the
// CaptureDevice port and the Allocator: buffer memory comes from
// mmap regions the kernel exposes per buffer slot.
type Device struct {
	path     string
	fd       int
	open     bool
	offsets  []uint32
	lockBits int32
	logger   *slog.Logger
}

// NewDevice creates an unopened device for a /dev/video node.
func NewDevice(path string) *Device {
	return &Device{
		path:   path,
		fd:     -1,
		logger: logging.ForService("v4l2").With("path", path),
	}
}

func (d *Device) ioctl(request uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		uintptr(d.fd),
		uintptr(request),
		uintptr(arg),
	)
	if errno != 0 {
		return errno
	}
	return nil
}

// Open opens the device node read-write in blocking mode; DQBUF then
// blocks until a frame is ready.
func (d *Device) Open() error {
	if d.open {
		return fmt.Errorf("v4l2: %s already open", d.path)
	}
	fd, err := unix.Open(d.path, unix.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("v4l2: opening %s: %w", d.path, err)
	}
	d.fd = fd
	d.open = true
	return nil
}

// Close closes the device node.
func (d *Device) Close() error {
	if !d.open {
		return nil
	}
	d.open = false
	d.offsets = nil
	if err := unix.Close(d.fd); err != nil {
		return fmt.Errorf("v4l2: closing %s: %w", d.path, err)
	}
	d.fd = -1
	return nil
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// QueryCapabilities runs VIDIOC_QUERYCAP.
func (d *Device) QueryCapabilities() (device.Capabilities, error) {
	var caps v4l2Capability
	if err := d.ioctl(vidiocQueryCap, unsafe.Pointer(&caps)); err != nil {
		return device.Capabilities{}, fmt.Errorf("v4l2: querycap: %w", err)
	}
	return device.Capabilities{
		DriverName: cstring(caps.driver[:]),
		Card:       cstring(caps.card[:]),
		BusInfo:    cstring(caps.busInfo[:]),
		Capture:    caps.capabilities&capVideoCapture != 0,
		Streaming:  caps.capabilities&capStreaming != 0,
	}, nil
}

// SetCaptureMode publishes the coming stream profile through
// VIDIOC_S_PARM's capturemode. Drivers without mode support ignore it;
// an EINVAL here is not fatal.
func (d *Device) SetCaptureMode(mode device.Mode) error {
	parm := v4l2StreamParm{typ: bufTypeVideoCapture}
	parm.capture.capturemode = uint32(mode)
	if err := d.ioctl(vidiocSParm, unsafe.Pointer(&parm)); err != nil {
		if err == unix.EINVAL {
			d.logger.Debug("driver has no capture modes", "mode", mode.String())
			return nil
		}
		return fmt.Errorf("v4l2: s_parm: %w", err)
	}
	return nil
}

// SetFormat runs VIDIOC_S_FMT and returns the format the driver chose.
func (d *Device) SetFormat(f device.FrameFormat) (device.FrameFormat, error) {
	format := v4l2Format{typ: bufTypeVideoCapture}
	format.fmt.width = uint32(f.Width)
	format.fmt.height = uint32(f.Height)
	format.fmt.pixelformat = uint32(f.Pixel)
	format.fmt.field = fieldNone
	if err := d.ioctl(vidiocSFmt, unsafe.Pointer(&format)); err != nil {
		return device.FrameFormat{}, fmt.Errorf("v4l2: s_fmt: %w", err)
	}
	return device.FrameFormat{
		Width:  int(format.fmt.width),
		Height: int(format.fmt.height),
		Pixel:  device.PixelFormat(format.fmt.pixelformat),
	}, nil
}

// FrameRate reads the configured rate through VIDIOC_G_PARM.
func (d *Device) FrameRate(_, _ int) (float64, error) {
	parm := v4l2StreamParm{typ: bufTypeVideoCapture}
	if err := d.ioctl(vidiocGParm, unsafe.Pointer(&parm)); err != nil {
		return 0, fmt.Errorf("v4l2: g_parm: %w", err)
	}
	tpf := parm.capture.timeperframe
	if tpf.numerator == 0 || tpf.denominator == 0 {
		return 0, fmt.Errorf("v4l2: driver reports no frame rate")
	}
	return float64(tpf.denominator) / float64(tpf.numerator), nil
}

// RequestBuffers runs VIDIOC_REQBUFS for mmap buffers.
func (d *Device) RequestBuffers(count int) (int, error) {
	req := v4l2RequestBuffers{
		count:  uint32(count),
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := d.ioctl(vidiocReqBufs, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("v4l2: reqbufs(%d): %w", count, err)
	}
	d.offsets = make([]uint32, req.count)
	return int(req.count), nil
}

// QueryBuffer runs VIDIOC_QUERYBUF and records the slot's mmap offset
// for the allocator side.
func (d *Device) QueryBuffer(index int) (int, error) {
	buf := v4l2Buffer{
		index:  uint32(index),
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := d.ioctl(vidiocQueryBuf, unsafe.Pointer(&buf)); err != nil {
		return 0, fmt.Errorf("v4l2: querybuf(%d): %w", index, err)
	}
	if index >= len(d.offsets) {
		return 0, fmt.Errorf("v4l2: querybuf(%d) beyond requested count", index)
	}
	d.offsets[index] = nativeEndian.Uint32(buf.m[0:4])
	return int(buf.length), nil
}

// QueueBuffer runs VIDIOC_QBUF.
func (d *Device) QueueBuffer(index int) error {
	buf := v4l2Buffer{
		index:  uint32(index),
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := d.ioctl(vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("v4l2: qbuf(%d): %w", index, err)
	}
	return nil
}

// DequeueBuffer runs VIDIOC_DQBUF, blocking until a frame is filled.
func (d *Device) DequeueBuffer() (int, time.Time, error) {
	buf := v4l2Buffer{
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := d.ioctl(vidiocDQBuf, unsafe.Pointer(&buf)); err != nil {
		return 0, time.Time{}, fmt.Errorf("v4l2: dqbuf: %w", err)
	}
	ts := time.Unix(buf.timestamp.sec, buf.timestamp.usec*int64(time.Microsecond))
	if buf.timestamp.sec == 0 {
		ts = time.Now()
	}
	return int(buf.index), ts, nil
}

// StreamOn runs VIDIOC_STREAMON.
func (d *Device) StreamOn() error {
	typ := uint32(bufTypeVideoCapture)
	if err := d.ioctl(vidiocStreamOn, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("v4l2: streamon: %w", err)
	}
	return nil
}

// StreamOff runs VIDIOC_STREAMOFF, which also flushes queued buffers.
func (d *Device) StreamOff() error {
	typ := uint32(bufTypeVideoCapture)
	if err := d.ioctl(vidiocStreamOff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("v4l2: streamoff: %w", err)
	}
	return nil
}

// SetControl applies a control best-effort: plain VIDIOC_S_CTRL first,
// then the extended-control interface with the camera class and the
// user class before giving up.
func (d *Device) SetControl(id device.ControlID, value int32) error {
	switch id {
	case device.ControlExposureLock:
		return d.set3ALock(lockExposure, value != 0)
	case device.ControlWhiteBalanceLock:
		return d.set3ALock(lockWhiteBalance, value != 0)
	}
	cid, ok := cidFor[id]
	if !ok {
		return fmt.Errorf("v4l2: unmapped control %d", id)
	}
	return d.setCID(cid, value)
}

func (d *Device) setCID(cid uint32, value int32) error {
	ctrl := v4l2Control{id: cid, value: value}
	if err := d.ioctl(vidiocSCtrl, unsafe.Pointer(&ctrl)); err == nil {
		return nil
	}
	for _, class := range []uint32{ctrlClassCamera, ctrlClassUser} {
		if err := d.setExtCID(class, cid, value); err == nil {
			return nil
		}
	}
	return fmt.Errorf("v4l2: control 0x%08x rejected by every mechanism", cid)
}

func (d *Device) setExtCID(class, cid uint32, value int32) error {
	var ctrl v4l2ExtControl
	ctrl.id = cid
	nativeEndian.PutUint32(ctrl.value[0:4], uint32(value))
	ctrls := v4l2ExtControls{
		ctrlClass: class,
		count:     1,
		controls:  unsafe.Pointer(&ctrl),
	}
	return d.ioctl(vidiocSExtCtrls, unsafe.Pointer(&ctrls))
}

func (d *Device) set3ALock(bit int32, locked bool) error {
	bits := d.lockBits
	if locked {
		bits |= bit
	} else {
		bits &^= bit
	}
	if err := d.setCID(cid3ALock, bits); err != nil {
		return err
	}
	d.lockBits = bits
	return nil
}

// AllocateBuffer mmaps the kernel buffer behind a slot. Implements the
// pool's Allocator.
func (d *Device) AllocateBuffer(index, length int) ([]byte, error) {
	if index >= len(d.offsets) {
		return nil, fmt.Errorf("v4l2: mmap of unqueried slot %d", index)
	}
	data, err := unix.Mmap(d.fd, int64(d.offsets[index]), length,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("v4l2: mmap slot %d: %w", index, err)
	}
	return data, nil
}

// ReleaseBuffer unmaps a slot's memory.
func (d *Device) ReleaseBuffer(index int, data []byte) error {
	if data == nil {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("v4l2: munmap slot %d: %w", index, err)
	}
	return nil
}

// Enumerate lists /dev/video* nodes that report capture + streaming
// support.
func Enumerate() ([]device.Capabilities, []string, error) {
	nodes, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, nil, err
	}
	var caps []device.Capabilities
	var paths []string
	for _, node := range nodes {
		dev := NewDevice(node)
		if err := dev.Open(); err != nil {
			continue
		}
		c, err := dev.QueryCapabilities()
		_ = dev.Close()
		if err != nil || !c.Capture || !c.Streaming {
			continue
		}
		caps = append(caps, c)
		paths = append(paths, node)
	}
	return caps, paths, nil
}
