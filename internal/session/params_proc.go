package session

import (
	"github.com/camhal/camhal-go/internal/device"
	"github.com/camhal/camhal-go/internal/errors"
	"github.com/camhal/camhal-go/internal/params"
)

var effectNames = map[string]device.Effect{
	"none":     device.EffectNone,
	"mono":     device.EffectMono,
	"negative": device.EffectNegative,
	"sepia":    device.EffectSepia,
}

var flashNames = map[string]device.FlashMode{
	"off":   device.FlashOff,
	"auto":  device.FlashAuto,
	"on":    device.FlashOn,
	"torch": device.FlashTorch,
}

var sceneNames = map[string]device.SceneMode{
	"auto":      device.SceneAuto,
	"portrait":  device.ScenePortrait,
	"sports":    device.SceneSports,
	"landscape": device.SceneLandscape,
	"night":     device.SceneNight,
	"fireworks": device.SceneFireworks,
}

var focusNames = map[string]device.FocusMode{
	"auto":             device.FocusAuto,
	"infinity":         device.FocusInfinity,
	"macro":            device.FocusMacro,
	"continuous-video": device.FocusContinuousVideo,
}

var whiteBalanceNames = map[string]device.WhiteBalanceMode{
	"auto":            device.WhiteBalanceAuto,
	"incandescent":    device.WhiteBalanceIncandescent,
	"fluorescent":     device.WhiteBalanceFluorescent,
	"daylight":        device.WhiteBalanceDaylight,
	"cloudy-daylight": device.WhiteBalanceCloudy,
}

func badValue(key, value string) error {
	return errors.New(errors.ErrBadValue).
		Component("session").
		Category(errors.CategoryValidation).
		Context("key", key).
		Context("value", value).
		Build()
}

// handleSetParameters merges the incoming keys into a candidate set,
// validates the whole candidate, then applies it: geometry first, port
// controls after, in a fixed order. Validation failures reject the
// request without committing anything; device refusals of individual
// controls are logged and do not block the commit.
func (c *Controller) handleSetParameters(incoming *params.Set) error {
	if incoming == nil {
		return badValue("parameters", "nil")
	}
	candidate := c.params.Clone()
	incoming.Each(candidate.Set)

	if err := c.validateParameters(candidate); err != nil {
		return err
	}
	if err := c.processStaticParameters(candidate); err != nil {
		return err
	}
	if err := c.processDynamicParameters(candidate); err != nil {
		return err
	}
	c.params = candidate
	return nil
}

// validateParameters checks the candidate set without touching the
// device.
func (c *Controller) validateParameters(p *params.Set) error {
	for _, key := range []string{
		params.KeyPreviewSize, params.KeyVideoSize, params.KeyPictureSize,
	} {
		if !p.Has(key) {
			continue
		}
		w, h, ok := sizeOf(p, key)
		if !ok || w <= 0 || h <= 0 {
			return badValue(key, p.Get(key))
		}
	}

	if p.Has(params.KeyPreviewFpsRange) {
		lo, hi, ok := p.FpsRange()
		if !ok || lo <= 0 || hi <= 0 || lo > hi {
			return badValue(params.KeyPreviewFpsRange,
				p.Get(params.KeyPreviewFpsRange))
		}
	}

	if p.Has(params.KeyZoom) {
		zoom := p.Zoom()
		if zoom < 0 || zoom > p.MaxZoom() {
			return badValue(params.KeyZoom, p.Get(params.KeyZoom))
		}
	}

	for _, key := range []string{
		params.KeyEffect, params.KeySceneMode, params.KeyWhiteBalance,
	} {
		if p.Has(key) {
			if _, ok := lookupName(key, p.Get(key)); !ok {
				return badValue(key, p.Get(key))
			}
		}
	}

	if p.Has(params.KeyFlashMode) {
		v := p.Get(params.KeyFlashMode)
		if _, ok := flashNames[v]; !ok ||
			!p.Supported(params.KeyFlashModeValues, v) {
			return badValue(params.KeyFlashMode, v)
		}
	}
	if p.Has(params.KeyFocusMode) {
		v := p.Get(params.KeyFocusMode)
		if _, ok := focusNames[v]; !ok ||
			!p.Supported(params.KeyFocusModeValues, v) {
			return badValue(params.KeyFocusMode, v)
		}
	}

	if p.Has(params.KeyFocusAreas) {
		if _, err := params.ParseWindows(p.Get(params.KeyFocusAreas),
			p.MaxNumFocusAreas()); err != nil {
			return err
		}
	}
	if p.Has(params.KeyMeteringAreas) {
		if _, err := params.ParseWindows(p.Get(params.KeyMeteringAreas),
			p.MaxNumMeteringAreas()); err != nil {
			return err
		}
	}
	return nil
}

// lookupName resolves a mode name in the map belonging to its key.
func lookupName(key, value string) (int32, bool) {
	switch key {
	case params.KeyEffect:
		v, ok := effectNames[value]
		return int32(v), ok
	case params.KeySceneMode:
		v, ok := sceneNames[value]
		return int32(v), ok
	case params.KeyWhiteBalance:
		v, ok := whiteBalanceNames[value]
		return int32(v), ok
	}
	return 0, false
}

func sizeOf(p *params.Set, key string) (int, int, bool) {
	switch key {
	case params.KeyPreviewSize:
		return p.PreviewSize()
	case params.KeyVideoSize:
		return p.VideoSize()
	case params.KeyPictureSize:
		return p.PictureSize()
	}
	return 0, 0, false
}

// processStaticParameters applies geometry changes. A changed geometry
// for the stream currently running restarts the preview so the device
// renegotiates.
func (c *Controller) processStaticParameters(p *params.Set) error {
	restart := false

	if w, h, ok := p.PreviewSize(); ok {
		cur := c.driver.PreviewFormat()
		if w != cur.Width || h != cur.Height {
			cur.Width, cur.Height = w, h
			c.driver.SetPreviewFormat(cur)
			if c.State() == PreviewStill {
				restart = true
			}
		}
	}
	if w, h, ok := p.VideoSize(); ok {
		cur := c.driver.VideoFormat()
		if w != cur.Width || h != cur.Height {
			cur.Width, cur.Height = w, h
			c.driver.SetVideoFormat(cur)
			if c.State().videoStream() {
				restart = true
			}
		}
	}
	if w, h, ok := p.PictureSize(); ok {
		cur := c.driver.PictureFormat()
		if w != cur.Width || h != cur.Height {
			cur.Width, cur.Height = w, h
			c.driver.SetPictureFormat(cur)
		}
	}

	if restart {
		return c.restartPreview()
	}
	return nil
}

// restartPreview bounces the streaming session so new geometry takes
// effect. Recording cannot survive the bounce; the caller gets the
// refusal.
func (c *Controller) restartPreview() error {
	if c.State() == Recording {
		return c.invalidOperation("restart_preview")
	}
	hint := c.State() == PreviewVideo
	c.stopPreviewCore()

	mode := device.ModePreview
	next := PreviewStill
	format := c.driver.PreviewFormat()
	if hint {
		mode = device.ModeVideo
		next = PreviewVideo
		format = c.driver.VideoFormat()
	}
	if err := c.preview.Configure(format); err != nil {
		return err
	}
	if err := c.driver.Start(mode); err != nil {
		return err
	}
	c.resetCoupled()
	c.setState(next)
	return nil
}

// processDynamicParameters pushes port controls in a fixed order. The
// set has already validated, so a device refusal here is logged by the
// driver and skipped rather than failing the whole request. White
// balance and metering stay untouched while face analysis drives 3A.
func (c *Controller) processDynamicParameters(p *params.Set) error {
	if p.Has(params.KeyZoom) {
		if err := c.driver.SetZoom(p.Zoom()); err != nil {
			c.logger.Debug("zoom not applied", "error", err)
		}
	}
	if p.Has(params.KeyEffect) {
		if err := c.driver.SetEffect(effectNames[p.Get(params.KeyEffect)]); err != nil {
			c.logger.Debug("effect not applied", "error", err)
		}
	}
	if p.Has(params.KeyFlashMode) {
		if err := c.driver.SetFlashMode(flashNames[p.Get(params.KeyFlashMode)]); err != nil {
			c.logger.Debug("flash mode not applied", "error", err)
		}
	}
	if p.Has(params.KeySceneMode) {
		if err := c.driver.SetSceneMode(sceneNames[p.Get(params.KeySceneMode)]); err != nil {
			c.logger.Debug("scene mode not applied", "error", err)
		}
	}
	if p.Has(params.KeyFocusMode) || p.Has(params.KeyFocusAreas) {
		windows, err := params.ParseWindows(p.Get(params.KeyFocusAreas),
			p.MaxNumFocusAreas())
		if err != nil {
			return err
		}
		pf := c.driver.PreviewFormat()
		projected := params.ProjectWindows(windows, pf.Width, pf.Height)
		mode := focusNames[p.Get(params.KeyFocusMode)]
		if err := c.driver.SetFocusMode(mode, projected); err != nil {
			c.logger.Debug("focus mode not applied", "error", err)
		}
	}
	if p.Has(params.KeyWhiteBalance) && !c.face.Active() {
		mode := whiteBalanceNames[p.Get(params.KeyWhiteBalance)]
		if err := c.driver.SetWhiteBalanceMode(mode); err != nil {
			c.logger.Debug("white balance not applied", "error", err)
		}
	}
	if p.Has(params.KeyAELock) {
		if err := c.driver.SetAELock(p.GetBool(params.KeyAELock)); err != nil {
			c.logger.Debug("ae lock not applied", "error", err)
		}
	}
	if p.Has(params.KeyAWBLock) {
		if err := c.driver.SetAWBLock(p.GetBool(params.KeyAWBLock)); err != nil {
			c.logger.Debug("awb lock not applied", "error", err)
		}
	}
	if p.Has(params.KeyMeteringAreas) && !c.face.Active() {
		windows, err := params.ParseWindows(p.Get(params.KeyMeteringAreas),
			p.MaxNumMeteringAreas())
		if err != nil {
			return err
		}
		pf := c.driver.PreviewFormat()
		if err := c.driver.SetMeteringAreas(
			params.ProjectWindows(windows, pf.Width, pf.Height)); err != nil {
			c.logger.Debug("metering areas not applied", "error", err)
		}
	}
	return nil
}
