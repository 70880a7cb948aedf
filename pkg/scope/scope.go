// Package scope provides a Fyne oscilloscope-style widget that plots the
// pipeline's raw readings, filtered values and LED duty cycle over time.
package scope

import (
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/lumen/pkg/pipeline"
)

// Trace colours.
var (
	RawColor      = color.RGBA{R: 255, G: 165, B: 0, A: 255}   // Orange
	FilteredColor = color.RGBA{R: 100, G: 200, B: 255, A: 255} // Light blue
	DutyColor     = color.RGBA{R: 120, G: 220, B: 120, A: 255} // Green
	ErrorColor    = color.RGBA{R: 220, G: 60, B: 60, A: 255}   // Red
)

// ScopeWidget displays pipeline statuses over a time window.
type ScopeWidget struct {
	widget.BaseWidget

	maxRaw int
	window time.Duration

	// Data (protected by mu)
	mu      sync.RWMutex
	display []pipeline.Status // Downsampled, reused between updates
	latest  pipeline.Status
	xMin    time.Time
	xMax    time.Time

	maxDisplayPoints int
}

// New creates a scope with a fixed 0..maxRaw vertical range and at least
// window of horizontal range.
func New(maxRaw int, window time.Duration) *ScopeWidget {
	if maxRaw <= 0 {
		maxRaw = 1023
	}
	if window <= 0 {
		window = time.Minute
	}
	s := &ScopeWidget{
		maxRaw:           maxRaw,
		window:           window,
		display:          make([]pipeline.Status, 0, 1000),
		maxDisplayPoints: 1000,
	}
	s.ExtendBaseWidget(s)
	s.Refresh()
	return s
}

// UpdateData replaces the plotted statuses. Call it on the Fyne goroutine,
// e.g. from fyne.Do in a monitor callback.
func (s *ScopeWidget) UpdateData(statuses []pipeline.Status) {
	s.mu.Lock()
	s.display = Downsample(s.display, statuses, s.maxDisplayPoints)
	if n := len(statuses); n > 0 {
		s.latest = statuses[n-1]
		s.xMin = statuses[0].Timestamp
		s.xMax = s.latest.Timestamp
		if s.xMax.Sub(s.xMin) < s.window {
			s.xMax = s.xMin.Add(s.window)
		}
	}
	s.mu.Unlock()

	s.Refresh()
}

// CreateRenderer creates the widget renderer.
func (s *ScopeWidget) CreateRenderer() fyne.WidgetRenderer {
	grid := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255})
	return &scopeRenderer{
		scope:   s,
		grid:    grid,
		objects: []fyne.CanvasObject{grid},
	}
}
