package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camhal/camhal-go/internal/errors"
)

func TestWindowValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		win  Window
		want bool
	}{
		{"full square", Window{-1000, -1000, 1000, 1000, 500}, true},
		{"small centered", Window{-100, -100, 100, 100, 1}, true},
		{"max weight", Window{0, 0, 10, 10, 1000}, true},
		{"right equals left", Window{100, -100, 100, 100, 500}, false},
		{"right below left", Window{200, -100, 100, 100, 500}, false},
		{"bottom equals top", Window{-100, 100, 100, 100, 500}, false},
		{"bottom above top", Window{-100, 300, 100, 100, 500}, false},
		{"left out of range", Window{-1001, 0, 100, 100, 500}, false},
		{"right out of range", Window{0, 0, 1001, 100, 500}, false},
		{"zero weight", Window{-100, -100, 100, 100, 0}, false},
		{"weight too high", Window{-100, -100, 100, 100, 1001}, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.win.Valid())
		})
	}
}

func TestParseWindows(t *testing.T) {
	t.Parallel()

	wins, err := ParseWindows("(-200,-200,200,200,400)", 3)
	require.NoError(t, err)
	require.Len(t, wins, 1)
	assert.Equal(t, Window{-200, -200, 200, 200, 400}, wins[0])

	wins, err = ParseWindows("(-500,-500,0,0,100),(0,0,500,500,900)", 3)
	require.NoError(t, err)
	assert.Len(t, wins, 2)
}

func TestParseWindowsZeroClearsList(t *testing.T) {
	t.Parallel()

	wins, err := ParseWindows("(0,0,0,0,0)", 3)
	require.NoError(t, err)
	assert.Nil(t, wins)

	wins, err = ParseWindows("", 3)
	require.NoError(t, err)
	assert.Nil(t, wins)
}

func TestParseWindowsRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		max   int
	}{
		{"too many windows", "(0,0,1,1,1),(0,0,1,1,1)", 1},
		{"invalid window", "(100,0,50,50,500)", 3},
		{"coordinate overflow", "(-2000,0,100,100,500)", 3},
		{"malformed text", "not-a-window-list", 3},
		{"truncated tuple", "(0,0,100)", 3},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseWindows(tt.value, tt.max)
			require.Error(t, err)
			if tt.name != "malformed text" && tt.name != "truncated tuple" {
				assert.ErrorIs(t, err, errors.ErrBadValue)
			}
		})
	}
}

func TestProjectWindowsGeometry(t *testing.T) {
	t.Parallel()

	wins := []Window{{-1000, -1000, 1000, 1000, 10}}
	out := ProjectWindows(wins, 640, 480)
	require.Len(t, out, 1)
	assert.Equal(t, 0, out[0].X1)
	assert.Equal(t, 0, out[0].Y1)
	assert.Equal(t, 640, out[0].X2)
	assert.Equal(t, 480, out[0].Y2)
	assert.Equal(t, 16, out[0].Weight, "single window takes the full budget")
}

func TestProjectWindowsCenter(t *testing.T) {
	t.Parallel()

	wins := []Window{{0, 0, 1000, 1000, 5}}
	out := ProjectWindows(wins, 640, 480)
	require.Len(t, out, 1)
	assert.Equal(t, 320, out[0].X1)
	assert.Equal(t, 240, out[0].Y1)
	assert.Equal(t, 640, out[0].X2)
	assert.Equal(t, 480, out[0].Y2)
}

func TestProjectWindowsWeightSplit(t *testing.T) {
	t.Parallel()

	wins := []Window{
		{-500, -500, 0, 0, 300},
		{0, 0, 500, 500, 100},
	}
	out := ProjectWindows(wins, 800, 600)
	require.Len(t, out, 2)
	assert.Equal(t, 12, out[0].Weight)
	assert.Equal(t, 4, out[1].Weight)
}

func TestProjectWindowsMinimumWeight(t *testing.T) {
	t.Parallel()

	wins := []Window{
		{-500, -500, 0, 0, 1000},
		{0, 0, 500, 500, 1},
	}
	out := ProjectWindows(wins, 800, 600)
	require.Len(t, out, 2)
	assert.GreaterOrEqual(t, out[1].Weight, 1,
		"tiny weights must not round to zero")
}

func TestFormatWindowsRoundTrip(t *testing.T) {
	t.Parallel()

	wins := []Window{{-200, -100, 300, 400, 7}}
	text := FormatWindows(wins)
	parsed, err := ParseWindows(text, 5)
	require.NoError(t, err)
	assert.Equal(t, wins, parsed)

	assert.Equal(t, "(0,0,0,0,0)", FormatWindows(nil))
}
