//go:build linux

package v4l2

import "encoding/binary"

var nativeEndian = binary.NativeEndian
