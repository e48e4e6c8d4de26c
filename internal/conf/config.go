// Package conf loads and persists camhal settings. Configuration is
// read with viper from camhal.yaml in the usual config directories,
// falling back to the embedded defaults.
package conf

import (
	_ "embed"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var defaultConfig []byte

// RotationSettings mirrors logging.RotationOptions in config form.
type RotationSettings struct {
	MaxSizeMB  int  `yaml:"maxsizemb"`
	MaxBackups int  `yaml:"maxbackups"`
	MaxAgeDays int  `yaml:"maxagedays"`
	Compress   bool `yaml:"compress"`
}

// LogSettings configures the logging service.
type LogSettings struct {
	Level    string           `yaml:"level"`
	Path     string           `yaml:"path"`
	Rotation RotationSettings `yaml:"rotation"`
}

// Dimensions is a width/height pair.
type Dimensions struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// ThumbnailSettings configures the postview thumbnail.
type ThumbnailSettings struct {
	Width   int `yaml:"width"`
	Height  int `yaml:"height"`
	Quality int `yaml:"quality"`
}

// PictureSettings configures still capture.
type PictureSettings struct {
	Width     int               `yaml:"width"`
	Height    int               `yaml:"height"`
	Quality   int               `yaml:"quality"`
	Thumbnail ThumbnailSettings `yaml:"thumbnail"`
}

// FPSSettings is the preferred frame-rate range.
type FPSSettings struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// CameraSettings configures the capture device and streams.
type CameraSettings struct {
	Device        string          `yaml:"device"`
	Buffers       int             `yaml:"buffers"`
	Preview       Dimensions      `yaml:"preview"`
	Video         Dimensions      `yaml:"video"`
	Picture       PictureSettings `yaml:"picture"`
	FPS           FPSSettings     `yaml:"fps"`
	FaceDetection bool            `yaml:"facedetection"`
}

// MetricsSettings toggles the Prometheus registry.
type MetricsSettings struct {
	Enabled bool `yaml:"enabled"`
}

// MainSettings holds application-wide settings.
type MainSettings struct {
	Name string      `yaml:"name"`
	Log  LogSettings `yaml:"log"`
}

// Settings is the full configuration tree.
type Settings struct {
	Debug   bool            `yaml:"debug"`
	Main    MainSettings    `yaml:"main"`
	Camera  CameraSettings  `yaml:"camera"`
	Metrics MetricsSettings `yaml:"metrics"`
}

var (
	settingsMu       sync.RWMutex
	settingsInstance *Settings
)

// Load reads settings from disk (or the embedded defaults) and caches
// them as the process-wide instance.
func Load() (*Settings, error) {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	if err := initViper(); err != nil {
		return nil, err
	}
	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshaling settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	settingsInstance = settings
	return settings, nil
}

func initViper() error {
	viper.SetConfigName("camhal")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		viper.AddConfigPath(filepath.Join(dir, "camhal"))
	}
	viper.AddConfigPath("/etc/camhal")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config file: %w", err)
		}
		if err := viper.ReadConfig(bytes.NewReader(defaultConfig)); err != nil {
			return fmt.Errorf("reading embedded defaults: %w", err)
		}
	}
	return nil
}

// Setting returns the cached settings, loading them on first use.
func Setting() *Settings {
	settingsMu.RLock()
	cached := settingsInstance
	settingsMu.RUnlock()
	if cached != nil {
		return cached
	}
	s, err := Load()
	if err != nil {
		panic(fmt.Sprintf("cannot load settings: %v", err))
	}
	return s
}

// Validate rejects settings the HAL cannot run with.
func (s *Settings) Validate() error {
	c := &s.Camera
	if c.Device == "" {
		return fmt.Errorf("camera.device must not be empty")
	}
	if c.Buffers < 1 || c.Buffers > 32 {
		return fmt.Errorf("camera.buffers %d out of range [1,32]", c.Buffers)
	}
	for _, d := range []struct {
		name string
		dim  Dimensions
	}{
		{"preview", c.Preview},
		{"video", c.Video},
		{"picture", Dimensions{c.Picture.Width, c.Picture.Height}},
	} {
		if d.dim.Width <= 0 || d.dim.Height <= 0 {
			return fmt.Errorf("camera.%s dimensions %dx%d invalid",
				d.name, d.dim.Width, d.dim.Height)
		}
	}
	if c.FPS.Min > c.FPS.Max {
		return fmt.Errorf("camera.fps min %d > max %d", c.FPS.Min, c.FPS.Max)
	}
	if q := c.Picture.Quality; q < 1 || q > 100 {
		return fmt.Errorf("camera.picture.quality %d out of range [1,100]", q)
	}
	return nil
}

// Save writes the settings as yaml via a temp file and atomic rename.
func (s *Settings) Save(path string) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "camhal-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}
