// Package filter implements the smoothing stage: a sliding window over raw
// samples with an outlier-rejecting mean.
package filter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/itohio/lumen/pkg/handoff"
	"github.com/itohio/lumen/pkg/sample"
)

// Defaults used when options are not given.
const (
	DefaultWindowSize       = 10
	DefaultTolerancePercent = 10
)

// Filtered is a raw sample together with the window statistics computed
// after it was pushed.
type Filtered struct {
	sample.Sample
	Result
}

// Option configures a Filter.
type Option func(*Filter)

// WithWindowSize sets the window length.
func WithWindowSize(n int) Option {
	return func(f *Filter) { f.window = NewWindow(n) }
}

// WithTolerancePercent sets the acceptance band around the mean.
func WithTolerancePercent(pct int) Option {
	return func(f *Filter) { f.pct = pct }
}

// WithMaxAccepted keeps raw values above v out of the window. Zero disables
// the check.
func WithMaxAccepted(v uint16) Option {
	return func(f *Filter) { f.maxAccepted = v }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Filter) { f.logger = l }
}

// Filter consumes raw samples and publishes one Filtered value per sample.
type Filter struct {
	in  handoff.Receiver[sample.Sample]
	out handoff.Sender[Filtered]

	window      *Window
	pct         int
	maxAccepted uint16
	logger      *slog.Logger
}

// New creates a filter stage.
func New(in handoff.Receiver[sample.Sample], out handoff.Sender[Filtered], opts ...Option) *Filter {
	f := &Filter{
		in:     in,
		out:    out,
		window: NewWindow(DefaultWindowSize),
		pct:    DefaultTolerancePercent,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("stage", "filter")
	return f
}

// Process pushes s into the window and returns the new statistics.
func (f *Filter) Process(s sample.Sample) Filtered {
	if f.maxAccepted == 0 || s.Raw <= f.maxAccepted {
		f.window.Push(s.Raw)
	} else {
		f.logger.Debug("reading kept out of window", "seq", s.Seq, "raw", s.Raw, "max", f.maxAccepted)
	}
	return Filtered{Sample: s, Result: Compute(f.window.values, f.pct)}
}

// Run filters until the input is closed or ctx is done. A closed input is a
// clean shutdown and returns nil.
func (f *Filter) Run(ctx context.Context) error {
	for {
		s, err := f.in.Receive(ctx)
		if err != nil {
			if errors.Is(err, handoff.ErrClosed) {
				return nil
			}
			return fmt.Errorf("filter: %w", err)
		}

		out := f.Process(s)
		f.logger.Debug("filtered",
			"seq", out.Seq, "raw", out.Raw,
			"mean", out.Mean, "tol", out.Tolerance, "count", out.Count, "value", out.Value)

		if !f.out.Publish(out) {
			f.logger.Debug("filtered value lost", "seq", out.Seq)
		}
	}
}
