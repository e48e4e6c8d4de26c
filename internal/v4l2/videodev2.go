//go:build linux && (amd64 || arm64)

package v4l2

import "unsafe"

// Ioctl request codes and struct layouts for 64-bit Linux, from
// include/uapi/linux/videodev2.h. Sizes differ from 32-bit because of
// the embedded timeval and pointer fields.

const (
	vidiocQueryCap   = 0x80685600
	vidiocSFmt       = 0xc0d05605
	vidiocReqBufs    = 0xc0145608
	vidiocQueryBuf   = 0xc0585609
	vidiocQBuf       = 0xc058560f
	vidiocDQBuf      = 0xc0585611
	vidiocStreamOn   = 0x40045612
	vidiocStreamOff  = 0x40045613
	vidiocGParm      = 0xc0cc5615
	vidiocSParm      = 0xc0cc5616
	vidiocSCtrl      = 0xc008561c
	vidiocSExtCtrls  = 0xc0205648
)

const (
	bufTypeVideoCapture = 1
	fieldNone           = 1
	memoryMmap          = 1

	capVideoCapture = 0x00000001
	capStreaming    = 0x04000000
)

// Control classes for the extended-control fallback.
const (
	ctrlClassUser   = 0x00980000
	ctrlClassCamera = 0x009a0000
)

// Control ids.
const (
	cidAutoWhiteBalance        = 0x0098090c
	cidWhiteBalanceTemperature = 0x0098091a
	cidColorEffect             = 0x0098091f
	cidFocusAbsolute           = 0x009a090a
	cidFocusAuto               = 0x009a090c
	cidZoomAbsolute            = 0x009a090d
	cid3ALock                  = 0x009a0912
	cidSceneMode               = 0x009a0925
	cidFlashLEDMode            = 0x009c0901
)

// Bits of cid3ALock.
const (
	lockExposure     = 1 << 0
	lockWhiteBalance = 1 << 1
)

type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
	_            [152]byte
}

type v4l2Format struct {
	typ uint32
	_   [4]byte // union alignment
	fmt v4l2PixFormat
}

type v4l2RequestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

type v4l2Timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

type v4l2Timeval struct {
	sec  int64
	usec int64
}

type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	_         [4]byte // timeval alignment
	timestamp v4l2Timeval
	timecode  v4l2Timecode
	sequence  uint32
	memory    uint32
	m         [8]byte // union: offset / userptr / planes
	length    uint32
	reserved2 uint32
	requestFd uint32
}

type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

type v4l2CaptureParm struct {
	capability   uint32
	capturemode  uint32
	timeperframe v4l2Fract
	extendedmode uint32
	readbuffers  uint32
	reserved     [4]uint32
}

type v4l2StreamParm struct {
	typ     uint32
	capture v4l2CaptureParm
	_       [160]byte // pad the parm union to 200 bytes
}

type v4l2Control struct {
	id    uint32
	value int32
}

type v4l2ExtControl struct {
	id       uint32
	size     uint32
	reserved [1]uint32
	value    [8]byte // union: value / value64 / pointers
}

type v4l2ExtControls struct {
	ctrlClass uint32
	count     uint32
	errorIdx  uint32
	requestFd int32
	reserved  [1]uint32
	_         [4]byte // pointer alignment
	controls  unsafe.Pointer
}
