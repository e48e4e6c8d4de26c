package pipeline

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camhal/camhal-go/internal/device"
)

func yuyvBuffer(w, h int) *device.Buffer {
	data := make([]byte, w*h*2)
	for i := range data {
		data[i] = byte(i)
	}
	return &device.Buffer{
		Index:  0,
		Data:   data,
		Length: len(data),
		Format: device.FrameFormat{Width: w, Height: h, Pixel: device.PixelFormatYUYV},
	}
}

type previewRecorder struct {
	done chan *device.Buffer
}

func (r *previewRecorder) PreviewDone(buf *device.Buffer) { r.done <- buf }

func TestPreviewSubmitReturnsBuffer(t *testing.T) {
	t.Parallel()

	rec := &previewRecorder{done: make(chan *device.Buffer, 4)}
	p := NewPreview(rec)
	p.Start()
	defer p.Stop()

	require.NoError(t, p.Configure(device.FrameFormat{Width: 4, Height: 2}))

	var surface bytes.Buffer
	p.SetSurface(&surface)

	buf := yuyvBuffer(4, 2)
	require.NoError(t, p.Submit(buf))

	select {
	case got := <-rec.done:
		assert.Same(t, buf, got)
	case <-time.After(time.Second):
		t.Fatal("preview did not return the buffer")
	}
	assert.Equal(t, buf.Data, surface.Bytes())
}

func TestPreviewFlushReturnsQueuedFrames(t *testing.T) {
	t.Parallel()

	rec := &previewRecorder{done: make(chan *device.Buffer, 4)}
	p := NewPreview(rec)

	// Worker not started: submitted frames stay queued until flush.
	a, b := yuyvBuffer(2, 2), yuyvBuffer(2, 2)
	require.NoError(t, p.Submit(a))
	require.NoError(t, p.Submit(b))

	p.Start()
	defer p.Stop()
	require.NoError(t, p.Flush())

	// Both buffers come back, through flush or through the worker.
	got := map[*device.Buffer]bool{}
	for n := 0; n < 2; n++ {
		select {
		case buf := <-rec.done:
			got[buf] = true
		case <-time.After(time.Second):
			t.Fatal("flush lost a buffer")
		}
	}
	assert.True(t, got[a] && got[b])
}

type pictureRecorder struct {
	done chan pictureResult
}

type pictureResult struct {
	snapshot *device.Buffer
	postview *device.Buffer
	jpeg     []byte
}

func (r *pictureRecorder) PictureDone(snapshot, postview *device.Buffer, jpeg []byte) {
	r.done <- pictureResult{snapshot, postview, jpeg}
}

func TestStillEncodeProducesJPEG(t *testing.T) {
	t.Parallel()

	rec := &pictureRecorder{done: make(chan pictureResult, 1)}
	s := NewStill(rec, JPEGEncoder{})
	s.Start()
	defer s.Stop()

	require.NoError(t, s.Configure(StillConfig{
		Format:  device.FrameFormat{Width: 16, Height: 8, Pixel: device.PixelFormatYUYV},
		Quality: 80,
	}))

	buf := yuyvBuffer(16, 8)
	require.NoError(t, s.Encode(buf, nil))

	select {
	case res := <-rec.done:
		assert.Same(t, buf, res.snapshot)
		assert.Nil(t, res.postview)
		require.NotEmpty(t, res.jpeg)
		assert.Equal(t, []byte{0xFF, 0xD8}, res.jpeg[:2], "JPEG SOI marker")
	case <-time.After(5 * time.Second):
		t.Fatal("still pipeline did not report")
	}
}

func TestStillEncodeFailureStillReturnsBuffers(t *testing.T) {
	t.Parallel()

	rec := &pictureRecorder{done: make(chan pictureResult, 1)}
	s := NewStill(rec, JPEGEncoder{})
	s.Start()
	defer s.Stop()

	buf := yuyvBuffer(4, 2)
	buf.Format.Pixel = device.PixelFormat(0xDEAD)
	require.NoError(t, s.Encode(buf, nil))

	select {
	case res := <-rec.done:
		assert.Same(t, buf, res.snapshot)
		assert.Nil(t, res.jpeg, "failed encode reports nil JPEG")
	case <-time.After(time.Second):
		t.Fatal("still pipeline did not report the failure")
	}
}

func TestStillFlushSettlesQueuedEncodes(t *testing.T) {
	t.Parallel()

	rec := &pictureRecorder{done: make(chan pictureResult, 1)}
	s := NewStill(rec, JPEGEncoder{})

	buf := yuyvBuffer(4, 2)
	require.NoError(t, s.Encode(buf, nil))

	s.Start()
	defer s.Stop()
	require.NoError(t, s.Flush())

	select {
	case res := <-rec.done:
		assert.Same(t, buf, res.snapshot)
		assert.Nil(t, res.jpeg)
	case <-time.After(time.Second):
		t.Fatal("flush lost the snapshot buffer")
	}
}

func TestJPEGEncoderMJPGPassthrough(t *testing.T) {
	t.Parallel()

	payload := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	buf := &device.Buffer{
		Data:   payload,
		Length: len(payload),
		Format: device.FrameFormat{Width: 2, Height: 1, Pixel: device.PixelFormatMJPG},
	}
	out, err := JPEGEncoder{}.Encode(buf, 90)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
	assert.NotSame(t, &payload[0], &out[0], "passthrough must copy")
}

func TestYUYVTooShort(t *testing.T) {
	t.Parallel()

	_, err := yuyvToImage(make([]byte, 10), 16, 8)
	assert.Error(t, err)
}

type videoRecorder struct {
	delivered chan *device.Buffer
	flushed   chan *device.Buffer
}

func (r *videoRecorder) VideoFrame(buf *device.Buffer, _ time.Time) { r.delivered <- buf }
func (r *videoRecorder) VideoFrameFlushed(buf *device.Buffer)       { r.flushed <- buf }

func TestVideoDeliversFrames(t *testing.T) {
	t.Parallel()

	rec := &videoRecorder{
		delivered: make(chan *device.Buffer, 2),
		flushed:   make(chan *device.Buffer, 2),
	}
	v := NewVideo(rec, rec)
	v.Start()
	defer v.Stop()

	buf := yuyvBuffer(4, 2)
	require.NoError(t, v.Submit(buf, time.Now()))

	select {
	case got := <-rec.delivered:
		assert.Same(t, buf, got)
	case <-time.After(time.Second):
		t.Fatal("video frame not delivered")
	}
}

func TestVideoFlushSettlesUndelivered(t *testing.T) {
	t.Parallel()

	rec := &videoRecorder{
		delivered: make(chan *device.Buffer, 2),
		flushed:   make(chan *device.Buffer, 2),
	}
	v := NewVideo(rec, rec)

	buf := yuyvBuffer(4, 2)
	require.NoError(t, v.Submit(buf, time.Now()))

	v.Start()
	defer v.Stop()
	require.NoError(t, v.Flush())

	select {
	case got := <-rec.flushed:
		assert.Same(t, buf, got)
	case got := <-rec.delivered:
		assert.Same(t, buf, got)
	case <-time.After(time.Second):
		t.Fatal("flush lost a recording frame")
	}
}

type faceRecorder struct {
	results chan int
	bufs    chan *device.Buffer
}

func (r *faceRecorder) FacesDetected(count int, buf *device.Buffer) {
	r.results <- count
	r.bufs <- buf
}

type fixedDetector struct{ faces int }

func (d fixedDetector) Detect(*device.Buffer) int { return d.faces }
func (d fixedDetector) MaxDetectable() int        { return 10 }

func TestFaceOfferRejectedWhenInactive(t *testing.T) {
	t.Parallel()

	rec := &faceRecorder{results: make(chan int, 1), bufs: make(chan *device.Buffer, 1)}
	f := NewFace(rec, fixedDetector{faces: 2})
	f.StartWorker()
	defer f.StopWorker()

	assert.False(t, f.Offer(yuyvBuffer(2, 2)))
}

func TestFaceDetectsWhenActive(t *testing.T) {
	t.Parallel()

	rec := &faceRecorder{results: make(chan int, 1), bufs: make(chan *device.Buffer, 1)}
	f := NewFace(rec, fixedDetector{faces: 3})
	f.StartWorker()
	defer f.StopWorker()
	f.Activate()

	buf := yuyvBuffer(2, 2)
	require.True(t, f.Offer(buf))

	select {
	case count := <-rec.results:
		assert.Equal(t, 3, count)
		assert.Same(t, buf, <-rec.bufs)
	case <-time.After(time.Second):
		t.Fatal("no detection result")
	}
	assert.Equal(t, 10, f.MaxFacesDetectable())
}

func TestFaceDeactivateDrains(t *testing.T) {
	t.Parallel()

	rec := &faceRecorder{results: make(chan int, 4), bufs: make(chan *device.Buffer, 4)}
	f := NewFace(rec, fixedDetector{faces: 1})
	f.StartWorker()
	defer f.StopWorker()

	f.Activate()
	require.True(t, f.Offer(yuyvBuffer(2, 2)))
	f.Deactivate(true)
	assert.False(t, f.Active())
	assert.False(t, f.Offer(yuyvBuffer(2, 2)))
}
