package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func defaultSettings(t *testing.T) *Settings {
	t.Helper()
	s := &Settings{}
	require.NoError(t, yaml.Unmarshal(defaultConfig, s))
	return s
}

func TestEmbeddedDefaultsValidate(t *testing.T) {
	t.Parallel()

	s := defaultSettings(t)
	require.NoError(t, s.Validate())
	assert.Equal(t, "/dev/video0", s.Camera.Device)
	assert.Equal(t, 4, s.Camera.Buffers)
	assert.Equal(t, 640, s.Camera.Preview.Width)
	assert.Equal(t, 90, s.Camera.Picture.Quality)
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"empty device", func(s *Settings) { s.Camera.Device = "" }},
		{"zero buffers", func(s *Settings) { s.Camera.Buffers = 0 }},
		{"too many buffers", func(s *Settings) { s.Camera.Buffers = 64 }},
		{"bad preview size", func(s *Settings) { s.Camera.Preview.Width = 0 }},
		{"inverted fps range", func(s *Settings) { s.Camera.FPS.Min = 60; s.Camera.FPS.Max = 30 }},
		{"quality out of range", func(s *Settings) { s.Camera.Picture.Quality = 0 }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := defaultSettings(t)
			tt.mutate(s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()

	s := defaultSettings(t)
	s.Camera.Buffers = 6
	path := filepath.Join(t.TempDir(), "camhal.yaml")
	require.NoError(t, s.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	loaded := &Settings{}
	require.NoError(t, yaml.Unmarshal(data, loaded))
	assert.Equal(t, 6, loaded.Camera.Buffers)
	assert.Equal(t, s.Camera.Device, loaded.Camera.Device)
}

func TestSaveRejectsInvalid(t *testing.T) {
	t.Parallel()

	s := defaultSettings(t)
	s.Camera.Device = ""
	err := s.Save(filepath.Join(t.TempDir(), "camhal.yaml"))
	assert.Error(t, err)
}
