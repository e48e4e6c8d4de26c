// Package pipeline contains the worker pipelines downstream of the
// session controller: preview rendering, still-picture encoding,
// video frame delivery and face analysis. Each pipeline owns one
// message queue and one goroutine; results travel back to the
// controller through narrow sink interfaces so the pipelines never
// depend on session internals.
package pipeline

import (
	"time"

	"github.com/camhal/camhal-go/internal/device"
)

// PreviewSink receives preview buffers the preview pipeline is done
// with.
type PreviewSink interface {
	PreviewDone(buf *device.Buffer)
}

// PictureSink receives the result of one still encode. The snapshot
// and postview buffers go back to whoever lent them; jpeg is the
// encoded picture, nil when encoding failed.
type PictureSink interface {
	PictureDone(snapshot, postview *device.Buffer, jpeg []byte)
}

// FrameConsumer receives recording frames, typically a video encoder
// or muxer. Each delivered frame must eventually come back through
// the facade's release call.
type FrameConsumer interface {
	VideoFrame(buf *device.Buffer, timestamp time.Time)
}

// VideoSink receives recording frames the video pipeline dropped
// before delivery, so their bookkeeping can be settled.
type VideoSink interface {
	VideoFrameFlushed(buf *device.Buffer)
}

// FaceSink receives face analysis results together with the frame
// they were computed on.
type FaceSink interface {
	FacesDetected(count int, buf *device.Buffer)
}
