// Package actuate implements the output stage: it maps a level to a PWM pulse
// width and programs the board.
package actuate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/itohio/lumen/pkg/device"
	"github.com/itohio/lumen/pkg/handoff"
)

// DefaultPeriod is the PWM period of the three-stage pipeline.
const DefaultPeriod = 250 * time.Millisecond

// Mapping converts a level to a pulse width within period.
type Mapping interface {
	Pulse(period time.Duration, level int) time.Duration
}

// Linear maps 0..FullScale proportionally onto 0..period. Levels outside the
// range are clamped.
type Linear struct {
	FullScale int
}

// Pulse implements Mapping.
func (l Linear) Pulse(period time.Duration, level int) time.Duration {
	if l.FullScale <= 0 || level <= 0 {
		return 0
	}
	if level >= l.FullScale {
		return period
	}
	return period * time.Duration(level) / time.Duration(l.FullScale)
}

var (
	// Raw maps a 10-bit reading onto the period.
	Raw Mapping = Linear{FullScale: 1023}
	// Percent maps 0..100 onto the period.
	Percent Mapping = Linear{FullScale: 100}
)

// Applied describes one actuation attempt.
type Applied[T any] struct {
	Input  T
	Level  int
	Period time.Duration
	Pulse  time.Duration
	Err    error
}

// Config configures an Actuator.
type Config[T any] struct {
	Period  time.Duration
	Mapping Mapping
	Level   func(T) int
	Logger  *slog.Logger
	// OnApplied, if set, is called after every attempt from the actuator's
	// goroutine.
	OnApplied func(Applied[T])
}

// Actuator drives an Output from a stream of T.
type Actuator[T any] struct {
	in     handoff.Receiver[T]
	output device.Output
	cfg    Config[T]
	logger *slog.Logger
}

// New creates an actuator. Level is required.
func New[T any](in handoff.Receiver[T], output device.Output, cfg Config[T]) *Actuator[T] {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Mapping == nil {
		cfg.Mapping = Raw
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Actuator[T]{
		in:     in,
		output: output,
		cfg:    cfg,
		logger: cfg.Logger.With("stage", "actuator"),
	}
}

// Apply maps v and programs the output once.
func (a *Actuator[T]) Apply(v T) Applied[T] {
	return a.apply(context.Background(), v)
}

func (a *Actuator[T]) apply(ctx context.Context, v T) Applied[T] {
	level := a.cfg.Level(v)
	res := Applied[T]{
		Input:  v,
		Level:  level,
		Period: a.cfg.Period,
		Pulse:  a.cfg.Mapping.Pulse(a.cfg.Period, level),
	}
	res.Err = device.SetPulse(ctx, a.output, res.Period, res.Pulse)
	if res.Err != nil {
		a.logger.Warn("actuation failed", "level", level, "pulse", res.Pulse, "err", res.Err)
	} else {
		a.logger.Debug("actuated", "level", level, "pulse", res.Pulse)
	}

	if a.cfg.OnApplied != nil {
		a.cfg.OnApplied(res)
	}
	return res
}

// Run actuates until the input is closed or ctx is done. It fails
// immediately if the output is not connected.
func (a *Actuator[T]) Run(ctx context.Context) error {
	if err := device.Bound(a.output); err != nil {
		return fmt.Errorf("actuator: %w", err)
	}

	a.logger.Info("started", "period", a.cfg.Period)
	for {
		v, err := a.in.Receive(ctx)
		if err != nil {
			if errors.Is(err, handoff.ErrClosed) {
				return nil
			}
			return fmt.Errorf("actuator: %w", err)
		}
		a.apply(ctx, v)
	}
}
