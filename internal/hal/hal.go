// Package hal assembles the configured capture stack: device port,
// driver, metrics and session controller. The cmd packages build on
// this instead of wiring the pieces themselves.
package hal

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/camhal/camhal-go/internal/conf"
	"github.com/camhal/camhal-go/internal/device"
	"github.com/camhal/camhal-go/internal/observability/metrics"
	"github.com/camhal/camhal-go/internal/params"
	"github.com/camhal/camhal-go/internal/pipeline"
	"github.com/camhal/camhal-go/internal/session"
	"github.com/camhal/camhal-go/internal/v4l2"
)

// Stack is an assembled, not yet started, camera control stack.
type Stack struct {
	Controller *session.Controller
	Driver     *device.Driver
	Metrics    *metrics.CameraMetrics
	Registry   *prometheus.Registry
}

// Options selects the capture backend and the session collaborators.
type Options struct {
	// Simulate replaces the V4L2 device with the in-memory fake.
	Simulate bool
	Listener session.EventListener
	Consumer pipeline.FrameConsumer
}

func formats(c *conf.CameraSettings) (preview, video, picture device.FrameFormat) {
	preview = device.FrameFormat{
		Width:  c.Preview.Width,
		Height: c.Preview.Height,
		Pixel:  device.PixelFormatYUYV,
	}
	video = device.FrameFormat{
		Width:  c.Video.Width,
		Height: c.Video.Height,
		Pixel:  device.PixelFormatYUYV,
	}
	picture = device.FrameFormat{
		Width:  c.Picture.Width,
		Height: c.Picture.Height,
		Pixel:  device.PixelFormatYUYV,
	}
	return preview, video, picture
}

// Build assembles the stack from settings. The returned controller is
// stopped; callers Start it and defer Stop.
func Build(settings *conf.Settings, opts Options) (*Stack, error) {
	cam := &settings.Camera
	pf, vf, sf := formats(cam)

	var (
		dev   device.CaptureDevice
		alloc device.Allocator
	)
	if opts.Simulate {
		fake := device.NewFake(pf.Width * pf.Height * 2)
		dev = fake
		alloc = device.HeapAllocator{}
	} else {
		d := v4l2.NewDevice(cam.Device)
		dev = d
		alloc = d
	}

	driver := device.NewDriver(dev, alloc, device.DriverConfig{
		NumBuffers: cam.Buffers,
		Preview:    pf,
		Video:      vf,
		Picture:    sf,
	})

	var (
		registry *prometheus.Registry
		cm       *metrics.CameraMetrics
	)
	if settings.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		var err error
		cm, err = metrics.NewCameraMetrics(registry)
		if err != nil {
			return nil, err
		}
		driver.Pool().SetMetrics(cm)
	}

	ctrl := session.New(session.Options{
		Driver:   driver,
		Listener: opts.Listener,
		Metrics:  cm,
		Params:   initialParams(settings, driver),
	}, opts.Consumer)

	return &Stack{
		Controller: ctrl,
		Driver:     driver,
		Metrics:    cm,
		Registry:   registry,
	}, nil
}

// initialParams seeds the live parameter set from configuration.
func initialParams(settings *conf.Settings, d *device.Driver) *params.Set {
	cam := &settings.Camera
	p := params.New()
	pf, vf, sf := d.PreviewFormat(), d.VideoFormat(), d.PictureFormat()
	p.SetPreviewSize(pf.Width, pf.Height)
	p.SetVideoSize(vf.Width, vf.Height)
	p.SetPictureSize(sf.Width, sf.Height)
	p.SetFpsRange(cam.FPS.Min*1000, cam.FPS.Max*1000)
	p.SetInt(params.KeyZoom, 0)
	p.SetInt(params.KeyMaxZoom, 10)
	p.Set(params.KeyFlashMode, "off")
	p.Set(params.KeyFlashModeValues, "off,auto,on,torch")
	p.Set(params.KeyFocusMode, "auto")
	p.Set(params.KeyFocusModeValues, "auto,infinity,macro,continuous-video")
	p.Set(params.KeyWhiteBalance, "auto")
	p.Set(params.KeyEffect, "none")
	p.Set(params.KeySceneMode, "auto")
	p.SetInt(params.KeyMaxNumFocusAreas, 3)
	p.SetInt(params.KeyMaxNumMeteringAreas, 3)
	p.SetInt(params.KeyJPEGQuality, cam.Picture.Quality)
	p.SetInt(params.KeyThumbnailWidth, cam.Picture.Thumbnail.Width)
	p.SetInt(params.KeyThumbnailHeight, cam.Picture.Thumbnail.Height)
	p.SetInt(params.KeyThumbnailQuality, cam.Picture.Thumbnail.Quality)
	return p
}
