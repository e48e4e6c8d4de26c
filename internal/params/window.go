package params

import (
	"fmt"
	"strings"

	"github.com/camhal/camhal-go/internal/device"
	"github.com/camhal/camhal-go/internal/errors"
)

// Window coordinate space: applications describe focus and metering
// regions in a fixed [-1000,1000] square regardless of the preview
// geometry.
const (
	WindowCoordMin = -1000
	WindowCoordMax = 1000
	WeightMin      = 1
	WeightMax      = 1000
)

// Projected window weights are normalized so one frame's total weight
// is this budget.
const weightBudget = 16

// Window is one weighted region in application coordinates.
type Window struct {
	X1, Y1 int
	X2, Y2 int
	Weight int
}

// IsZero reports the all-zero window applications send to clear a
// region list.
func (w Window) IsZero() bool {
	return w.X1 == 0 && w.Y1 == 0 && w.X2 == 0 && w.Y2 == 0 && w.Weight == 0
}

// Valid reports whether the window satisfies the acceptance rule:
// right above left, bottom above top, every coordinate within the
// application square, weight within bounds.
func (w Window) Valid() bool {
	if w.X2 <= w.X1 || w.Y2 <= w.Y1 {
		return false
	}
	for _, c := range []int{w.X1, w.Y1, w.X2, w.Y2} {
		if c < WindowCoordMin || c > WindowCoordMax {
			return false
		}
	}
	return w.Weight >= WeightMin && w.Weight <= WeightMax
}

// ParseWindows parses a "(x1,y1,x2,y2,weight),(...)" region list and
// validates it against the advertised window limit. A single all-zero
// window clears the list and parses to nil. More than maxWindows
// entries or any invalid window is BadValue.
func ParseWindows(value string, maxWindows int) ([]Window, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	var windows []Window
	rest := value
	for rest != "" {
		var w Window
		n, err := fmt.Sscanf(rest, "(%d,%d,%d,%d,%d)",
			&w.X1, &w.Y1, &w.X2, &w.Y2, &w.Weight)
		if err != nil || n != 5 {
			return nil, errors.Newf("malformed window list %q", value).
				Component("params").
				Category(errors.CategoryValidation).
				Build()
		}
		windows = append(windows, w)
		end := strings.IndexByte(rest, ')')
		rest = rest[end+1:]
		rest = strings.TrimPrefix(rest, ",")
	}

	if len(windows) == 1 && windows[0].IsZero() {
		return nil, nil
	}
	if len(windows) > maxWindows {
		return nil, errors.New(errors.ErrBadValue).
			Component("params").
			Category(errors.CategoryValidation).
			Context("windows", len(windows)).
			Context("max", maxWindows).
			Build()
	}
	for _, w := range windows {
		if !w.Valid() {
			return nil, errors.New(errors.ErrBadValue).
				Component("params").
				Category(errors.CategoryValidation).
				Context("window", fmt.Sprintf("(%d,%d,%d,%d,%d)",
					w.X1, w.Y1, w.X2, w.Y2, w.Weight)).
				Build()
		}
	}
	return windows, nil
}

// FormatWindows renders a window list back into its textual form.
func FormatWindows(windows []Window) string {
	if len(windows) == 0 {
		return "(0,0,0,0,0)"
	}
	parts := make([]string, len(windows))
	for i, w := range windows {
		parts[i] = fmt.Sprintf("(%d,%d,%d,%d,%d)",
			w.X1, w.Y1, w.X2, w.Y2, w.Weight)
	}
	return strings.Join(parts, ",")
}

// ProjectWindows maps accepted windows from the application square
// onto the preview geometry and normalizes their weights so the list
// totals the weight budget. Every projected weight stays at least 1.
func ProjectWindows(windows []Window, previewWidth, previewHeight int) []device.Window {
	if len(windows) == 0 {
		return nil
	}
	span := WindowCoordMax - WindowCoordMin
	total := 0
	for _, w := range windows {
		total += w.Weight
	}

	out := make([]device.Window, len(windows))
	for i, w := range windows {
		weight := w.Weight * weightBudget / total
		if weight < 1 {
			weight = 1
		}
		out[i] = device.Window{
			X1:     (w.X1 - WindowCoordMin) * previewWidth / span,
			Y1:     (w.Y1 - WindowCoordMin) * previewHeight / span,
			X2:     (w.X2 - WindowCoordMin) * previewWidth / span,
			Y2:     (w.Y2 - WindowCoordMin) * previewHeight / span,
			Weight: weight,
		}
	}
	return out
}
