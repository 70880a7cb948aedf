package scope

import (
	"fmt"
	"image/color"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"github.com/chewxy/math32"

	"github.com/itohio/lumen/pkg/pipeline"
)

const (
	marginLeft   = float32(50)
	marginRight  = float32(50)
	marginTop    = float32(20)
	marginBottom = float32(40)

	gridColumns = 10
	gridRows    = 8
)

var (
	gridColor  = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	labelColor = color.RGBA{R: 150, G: 150, B: 150, A: 255}
)

// plotArea maps data coordinates onto the widget.
type plotArea struct {
	x, y, w, h float32
	maxRaw     float32
	xMin       time.Time
	span       time.Duration
}

// X returns the horizontal position of t, clamped to the plot.
func (p plotArea) X(t time.Time) float32 {
	if p.span <= 0 {
		return p.x
	}
	f := float32(t.Sub(p.xMin).Seconds() / p.span.Seconds())
	return p.x + clamp01(f)*p.w
}

// Y returns the vertical position of a raw-scale value, clamped to the plot.
func (p plotArea) Y(v float32) float32 {
	if p.maxRaw <= 0 {
		return p.y + p.h
	}
	return p.y + p.h - clamp01(v/p.maxRaw)*p.h
}

// YPercent returns the vertical position of a 0-100 value.
func (p plotArea) YPercent(v float32) float32 {
	return p.y + p.h - clamp01(v/100)*p.h
}

func clamp01(v float32) float32 {
	return math32.Max(0, math32.Min(1, v))
}

// scopeRenderer renders the scope widget.
type scopeRenderer struct {
	scope *ScopeWidget

	grid    *canvas.Rectangle
	objects []fyne.CanvasObject

	lastSize fyne.Size
}

// MinSize returns the minimum size of the widget.
func (r *scopeRenderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 300)
}

// Layout arranges the widget components.
func (r *scopeRenderer) Layout(size fyne.Size) {
	r.grid.Resize(size)

	if r.lastSize != size {
		r.lastSize = size
		r.scope.BaseWidget.Refresh()
	}
}

// Refresh rebuilds the plot from the current data.
func (r *scopeRenderer) Refresh() {
	r.scope.mu.RLock()
	statuses := r.scope.display
	latest := r.scope.latest
	xMin, xMax := r.scope.xMin, r.scope.xMax
	maxRaw := r.scope.maxRaw
	r.scope.mu.RUnlock()

	size := r.scope.Size()
	if size.Width == 0 || size.Height == 0 {
		return
	}

	r.objects = []fyne.CanvasObject{r.grid}

	area := plotArea{
		x:      marginLeft,
		y:      marginTop,
		w:      size.Width - marginLeft - marginRight,
		h:      size.Height - marginTop - marginBottom,
		maxRaw: float32(maxRaw),
		xMin:   xMin,
		span:   xMax.Sub(xMin),
	}

	r.drawGrid(area)
	if len(statuses) > 1 {
		r.drawTrace(area, statuses, RawColor, 1.5, func(s pipeline.Status) float32 { return area.Y(float32(s.Raw)) })
		r.drawTrace(area, statuses, FilteredColor, 2.5, func(s pipeline.Status) float32 { return area.Y(float32(s.Filtered)) })
		r.drawTrace(area, statuses, DutyColor, 1.5, func(s pipeline.Status) float32 { return area.YPercent(float32(s.Duty())) })
	}
	r.drawErrors(area, statuses)
	if latest.Seq > 0 {
		r.drawLegend(area, latest)
	}
}

// drawGrid draws the grid with raw values on the left axis and duty on the
// right one.
func (r *scopeRenderer) drawGrid(a plotArea) {
	for i := range gridRows + 1 {
		y := a.y + float32(i)*a.h/gridRows
		r.line(gridColor, 1, fyne.NewPos(a.x, y), fyne.NewPos(a.x+a.w, y))

		frac := float32(gridRows-i) / gridRows
		r.label(formatRaw(frac*a.maxRaw), fyne.TextAlignTrailing, fyne.NewPos(a.x-5, y-6))
		r.label(formatPercent(frac*100), fyne.TextAlignLeading, fyne.NewPos(a.x+a.w+5, y-6))
	}

	for i := range gridColumns + 1 {
		x := a.x + float32(i)*a.w/gridColumns
		r.line(gridColor, 1, fyne.NewPos(x, a.y), fyne.NewPos(x, a.y+a.h))

		offset := a.span * time.Duration(i) / gridColumns
		r.label(formatTime(offset), fyne.TextAlignCenter, fyne.NewPos(x-20, a.y+a.h+5))
	}
}

func (r *scopeRenderer) drawTrace(a plotArea, statuses []pipeline.Status, c color.Color, width float32, y func(pipeline.Status) float32) {
	prev := fyne.NewPos(a.X(statuses[0].Timestamp), y(statuses[0]))
	for _, s := range statuses[1:] {
		next := fyne.NewPos(a.X(s.Timestamp), y(s))
		r.line(c, width, prev, next)
		prev = next
	}
}

// drawErrors marks cycles whose actuation failed with a vertical line.
func (r *scopeRenderer) drawErrors(a plotArea, statuses []pipeline.Status) {
	for _, s := range statuses {
		if s.Err == nil {
			continue
		}
		x := a.X(s.Timestamp)
		r.line(ErrorColor, 1, fyne.NewPos(x, a.y), fyne.NewPos(x, a.y+a.h))
	}
}

func (r *scopeRenderer) drawLegend(a plotArea, s pipeline.Status) {
	text := fmt.Sprintf("raw %d  filtered %d  duty %s", s.Raw, s.Filtered, formatPercent(float32(s.Duty())))
	if s.Mode != "" {
		text += fmt.Sprintf("  %s ref %d lum %d", s.Mode, s.Reference, s.Luminance)
	}
	legend := canvas.NewText(text, color.RGBA{R: 200, G: 200, B: 200, A: 255})
	legend.TextSize = 11
	legend.Move(fyne.NewPos(a.x+10, a.y+10))
	r.objects = append(r.objects, legend)
}

func (r *scopeRenderer) line(c color.Color, width float32, from, to fyne.Position) {
	l := canvas.NewLine(c)
	l.Position1 = from
	l.Position2 = to
	l.StrokeWidth = width
	r.objects = append(r.objects, l)
}

func (r *scopeRenderer) label(text string, align fyne.TextAlign, pos fyne.Position) {
	t := canvas.NewText(text, labelColor)
	t.TextSize = 10
	t.Alignment = align
	t.Move(pos)
	r.objects = append(r.objects, t)
}

// Objects returns all canvas objects for rendering.
func (r *scopeRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

// Destroy cleans up resources.
func (r *scopeRenderer) Destroy() {}

func formatRaw(v float32) string {
	return fmt.Sprintf("%.0f", math32.Round(v))
}

func formatPercent(v float32) string {
	return fmt.Sprintf("%.0f%%", math32.Round(v))
}

func formatTime(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
