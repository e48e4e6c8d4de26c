// Package params holds the camera parameter set: an unordered
// key-value object with application-defined keys. The HAL consumes a
// named subset through the typed accessors below and carries every
// other key through untouched; the textual flatten format used by the
// framework is not interpreted here.
package params

import (
	"fmt"
	"strconv"
	"strings"
)

// Keys of the consumed subset.
const (
	KeyPreviewSize         = "preview-size"
	KeyVideoSize           = "video-size"
	KeyPictureSize         = "picture-size"
	KeyPreviewFpsRange     = "preview-fps-range"
	KeyZoom                = "zoom"
	KeyMaxZoom             = "max-zoom"
	KeyEffect              = "effect"
	KeyFlashMode           = "flash-mode"
	KeyFlashModeValues     = "flash-mode-values"
	KeySceneMode           = "scene-mode"
	KeyFocusMode           = "focus-mode"
	KeyFocusModeValues     = "focus-mode-values"
	KeyWhiteBalance        = "whitebalance"
	KeyAELock              = "auto-exposure-lock"
	KeyAWBLock             = "auto-whitebalance-lock"
	KeyFocusAreas          = "focus-areas"
	KeyMeteringAreas       = "metering-areas"
	KeyMaxNumFocusAreas    = "max-num-focus-areas"
	KeyMaxNumMeteringAreas = "max-num-metering-areas"
	KeyRecordingHint       = "recording-hint"
	KeyJPEGQuality         = "jpeg-quality"
	KeyThumbnailWidth      = "jpeg-thumbnail-width"
	KeyThumbnailHeight     = "jpeg-thumbnail-height"
	KeyThumbnailQuality    = "jpeg-thumbnail-quality"
)

// Set is the parameter object. Not safe for concurrent mutation; the
// controller owns the live copy and callers pass clones.
type Set struct {
	values map[string]string
}

// New creates an empty parameter set.
func New() *Set {
	return &Set{values: make(map[string]string)}
}

// FromMap creates a set from existing key-value pairs.
func FromMap(m map[string]string) *Set {
	s := New()
	for k, v := range m {
		s.values[k] = v
	}
	return s
}

// Clone returns an independent copy.
func (s *Set) Clone() *Set {
	return FromMap(s.values)
}

// Len reports the number of keys.
func (s *Set) Len() int { return len(s.values) }

// Get returns the raw value for a key, empty when absent.
func (s *Set) Get(key string) string { return s.values[key] }

// Has reports whether a key is present.
func (s *Set) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Set stores a raw value.
func (s *Set) Set(key, value string) { s.values[key] = value }

// SetInt stores an integer value.
func (s *Set) SetInt(key string, value int) {
	s.values[key] = strconv.Itoa(value)
}

// GetInt parses an integer value, returning def when absent or
// malformed.
func (s *Set) GetInt(key string, def int) int {
	v, ok := s.values[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetBool parses a "true"/"false" value.
func (s *Set) GetBool(key string) bool {
	return s.values[key] == "true"
}

// SetBool stores a boolean value.
func (s *Set) SetBool(key string, value bool) {
	s.values[key] = strconv.FormatBool(value)
}

// Each visits every key-value pair.
func (s *Set) Each(fn func(key, value string)) {
	for k, v := range s.values {
		fn(k, v)
	}
}

func (s *Set) size(key string) (int, int, bool) {
	v, ok := s.values[key]
	if !ok {
		return 0, 0, false
	}
	parts := strings.SplitN(v, "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, errW := strconv.Atoi(parts[0])
	h, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil {
		return 0, 0, false
	}
	return w, h, true
}

func (s *Set) setSize(key string, w, h int) {
	s.values[key] = fmt.Sprintf("%dx%d", w, h)
}

// PreviewSize returns the requested preview geometry.
func (s *Set) PreviewSize() (int, int, bool) { return s.size(KeyPreviewSize) }

// SetPreviewSize stores the preview geometry.
func (s *Set) SetPreviewSize(w, h int) { s.setSize(KeyPreviewSize, w, h) }

// VideoSize returns the requested recording geometry.
func (s *Set) VideoSize() (int, int, bool) { return s.size(KeyVideoSize) }

// SetVideoSize stores the recording geometry.
func (s *Set) SetVideoSize(w, h int) { s.setSize(KeyVideoSize, w, h) }

// PictureSize returns the requested still geometry.
func (s *Set) PictureSize() (int, int, bool) { return s.size(KeyPictureSize) }

// SetPictureSize stores the still geometry.
func (s *Set) SetPictureSize(w, h int) { s.setSize(KeyPictureSize, w, h) }

// FpsRange returns the requested frame-rate range.
func (s *Set) FpsRange() (minFps, maxFps int, ok bool) {
	v, present := s.values[KeyPreviewFpsRange]
	if !present {
		return 0, 0, false
	}
	parts := strings.SplitN(v, ",", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lo, errLo := strconv.Atoi(strings.TrimSpace(parts[0]))
	hi, errHi := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errLo != nil || errHi != nil {
		return 0, 0, false
	}
	return lo, hi, true
}

// SetFpsRange stores the frame-rate range.
func (s *Set) SetFpsRange(minFps, maxFps int) {
	s.values[KeyPreviewFpsRange] = fmt.Sprintf("%d,%d", minFps, maxFps)
}

// Zoom returns the requested zoom level.
func (s *Set) Zoom() int { return s.GetInt(KeyZoom, 0) }

// MaxZoom returns the advertised zoom bound.
func (s *Set) MaxZoom() int { return s.GetInt(KeyMaxZoom, 0) }

// RecordingHint reports whether the application intends to record.
func (s *Set) RecordingHint() bool { return s.GetBool(KeyRecordingHint) }

// MaxNumFocusAreas returns the advertised focus window limit.
func (s *Set) MaxNumFocusAreas() int { return s.GetInt(KeyMaxNumFocusAreas, 0) }

// MaxNumMeteringAreas returns the advertised metering window limit.
func (s *Set) MaxNumMeteringAreas() int { return s.GetInt(KeyMaxNumMeteringAreas, 0) }

// Supported reports whether value appears in the comma-separated list
// stored under listKey. An absent list accepts everything.
func (s *Set) Supported(listKey, value string) bool {
	list, ok := s.values[listKey]
	if !ok {
		return true
	}
	for _, item := range strings.Split(list, ",") {
		if strings.TrimSpace(item) == value {
			return true
		}
	}
	return false
}
