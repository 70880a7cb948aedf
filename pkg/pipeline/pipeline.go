// Package pipeline wires the acquisition, filter, optional controller and
// actuator stages together and runs them until the context is done.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/itohio/lumen/pkg/actuate"
	"github.com/itohio/lumen/pkg/buttons"
	"github.com/itohio/lumen/pkg/clock"
	"github.com/itohio/lumen/pkg/config"
	"github.com/itohio/lumen/pkg/control"
	"github.com/itohio/lumen/pkg/device"
	"github.com/itohio/lumen/pkg/filter"
	"github.com/itohio/lumen/pkg/handoff"
	"github.com/itohio/lumen/pkg/sample"
)

// Status is the per-cycle record reported after every actuation attempt.
type Status struct {
	Seq       uint64
	Timestamp time.Time
	Raw       uint16

	Mean      int
	Tolerance int
	Count     int
	Filtered  int

	// Controller fields, zero in the three-stage variant.
	Mode      string
	Reference int
	Luminance int

	Level  int // Actuator input: filtered value or controller output
	Period time.Duration
	Pulse  time.Duration
	Err    error // Actuation error, if any
}

// Duty returns the pulse as a percentage of the period.
func (s Status) Duty() float64 {
	if s.Period <= 0 {
		return 0
	}
	return 100 * float64(s.Pulse) / float64(s.Period)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithButtons connects the controller to a button latch.
func WithButtons(b *buttons.Flags) Option {
	return func(p *Pipeline) { p.buttons = b }
}

// WithClock replaces the sampler clock.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithLogger sets the logger shared by all stages.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// Pipeline owns the channels and stage goroutines.
type Pipeline struct {
	cfg     *config.Config
	sensor  device.Sensor
	output  device.Output
	buttons *buttons.Flags
	clock   clock.Clock
	logger  *slog.Logger

	mu       sync.Mutex
	onUpdate []func(Status)
}

// New validates cfg and creates a pipeline reading sensor and driving output.
func New(cfg *config.Config, sensor device.Sensor, output device.Output, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline configuration: %w", err)
	}

	p := &Pipeline{
		cfg:     cfg,
		sensor:  sensor,
		output:  output,
		buttons: &buttons.Flags{},
		clock:   clock.Real,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Buttons returns the latch polled by the controller.
func (p *Pipeline) Buttons() *buttons.Flags {
	return p.buttons
}

// OnUpdate registers a callback invoked after every actuation attempt.
// Callbacks run on the actuator goroutine and must not block.
func (p *Pipeline) OnUpdate(fn func(Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUpdate = append(p.onUpdate, fn)
}

func (p *Pipeline) emit(s Status) {
	p.mu.Lock()
	callbacks := make([]func(Status), len(p.onUpdate))
	copy(callbacks, p.onUpdate)
	p.mu.Unlock()

	if s.Err != nil {
		p.logger.Warn("cycle", statusAttrs(s)...)
	} else {
		p.logger.Info("cycle", statusAttrs(s)...)
	}

	for _, fn := range callbacks {
		fn(s)
	}
}

func statusAttrs(s Status) []any {
	attrs := []any{
		"seq", s.Seq, "raw", s.Raw,
		"mean", s.Mean, "tol", s.Tolerance, "count", s.Count, "filtered", s.Filtered,
	}
	if s.Mode != "" {
		attrs = append(attrs, "mode", s.Mode, "ref", s.Reference, "luminance", s.Luminance)
	}
	attrs = append(attrs, "level", s.Level, "pulse", s.Pulse)
	if s.Err != nil {
		attrs = append(attrs, "err", s.Err)
	}
	return attrs
}

// stage is one goroutine of the pipeline. done is called when run returns
// cleanly and closes the stage's downstream channel.
type stage struct {
	name string
	run  func(ctx context.Context) error
	done func()
}

// Run starts every stage and blocks until all of them have returned. A
// stage that fails to bind to its device is logged and left stopped while the
// others keep running. Context cancellation is not reported as an error.
func (p *Pipeline) Run(ctx context.Context) error {
	stages, err := p.build()
	if err != nil {
		return err
	}

	p.logger.Info("pipeline starting", "variant", p.cfg.Pipeline.Variant, "handoff", p.cfg.Handoff.Kind)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range stages {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := s.run(ctx)
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.done()
				p.logger.Debug("stage stopped", "stage", s.name)
				return
			}

			p.logger.Error("stage failed", "stage", s.name, "err", err)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	p.logger.Info("pipeline stopped")
	return errors.Join(errs...)
}

func (p *Pipeline) build() ([]stage, error) {
	cfg := p.cfg
	kind, err := handoff.ParseKind(cfg.Handoff.Kind)
	if err != nil {
		return nil, err
	}

	raw, err := handoff.New[sample.Sample](kind, cfg.Handoff.Capacity)
	if err != nil {
		return nil, err
	}
	filtered, err := handoff.New[filter.Filtered](kind, cfg.Handoff.Capacity)
	if err != nil {
		return nil, err
	}

	smp := sample.New(p.sensor, raw,
		sample.WithPeriod(cfg.Sampler.Period),
		sample.WithBurst(cfg.Sampler.Burst),
		sample.WithMaxRaw(uint16(cfg.ADC.MaxRaw)),
		sample.WithClock(p.clock),
		sample.WithLogger(p.logger),
	)
	flt := filter.New(raw, filtered,
		filter.WithWindowSize(cfg.Filter.WindowSize),
		filter.WithTolerancePercent(cfg.Filter.TolerancePercent),
		filter.WithMaxAccepted(uint16(cfg.Filter.MaxAccepted)),
		filter.WithLogger(p.logger),
	)

	stages := []stage{
		{name: "sampler", run: smp.Run, done: raw.Close},
		{name: "filter", run: flt.Run, done: filtered.Close},
	}

	switch cfg.Pipeline.Variant {
	case config.VariantThreeStage:
		act := actuate.New(filtered, p.output, actuate.Config[filter.Filtered]{
			Period:    cfg.Actuator.Period,
			Mapping:   actuate.Linear{FullScale: cfg.ADC.MaxRaw},
			Level:     func(f filter.Filtered) int { return f.Value },
			Logger:    p.logger,
			OnApplied: func(a actuate.Applied[filter.Filtered]) { p.emit(filteredStatus(a)) },
		})
		stages = append(stages, stage{name: "actuator", run: act.Run, done: func() {}})

	case config.VariantFourStage:
		commands, err := handoff.New[control.Command](kind, cfg.Handoff.Capacity)
		if err != nil {
			return nil, err
		}
		ctl := control.New(filtered, commands, p.buttons, control.Config{
			Reference:     cfg.Controller.Reference,
			Step:          cfg.Controller.Step,
			InitialOutput: cfg.Controller.InitialOutput,
			VRefMV:        cfg.ADC.VRefMV,
			MaxRaw:        cfg.ADC.MaxRaw,
			Logger:        p.logger,
		})
		act := actuate.New(commands, p.output, actuate.Config[control.Command]{
			Period:    cfg.Actuator.Period,
			Mapping:   actuate.Percent,
			Level:     func(c control.Command) int { return c.Output },
			Logger:    p.logger,
			OnApplied: func(a actuate.Applied[control.Command]) { p.emit(commandStatus(a)) },
		})
		stages = append(stages,
			stage{name: "controller", run: ctl.Run, done: commands.Close},
			stage{name: "actuator", run: act.Run, done: func() {}},
		)

	default:
		return nil, fmt.Errorf("unknown pipeline variant %q", cfg.Pipeline.Variant)
	}

	return stages, nil
}

func filteredStatus(a actuate.Applied[filter.Filtered]) Status {
	f := a.Input
	return Status{
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
		Raw:       f.Raw,
		Mean:      f.Mean,
		Tolerance: f.Tolerance,
		Count:     f.Count,
		Filtered:  f.Value,
		Level:     a.Level,
		Period:    a.Period,
		Pulse:     a.Pulse,
		Err:       a.Err,
	}
}

func commandStatus(a actuate.Applied[control.Command]) Status {
	c := a.Input
	return Status{
		Seq:       c.Seq,
		Timestamp: c.Timestamp,
		Raw:       c.Raw,
		Mean:      c.Mean,
		Tolerance: c.Tolerance,
		Count:     c.Count,
		Filtered:  c.Value,
		Mode:      c.Mode.String(),
		Reference: c.Reference,
		Luminance: c.Luminance,
		Level:     a.Level,
		Period:    a.Period,
		Pulse:     a.Pulse,
		Err:       a.Err,
	}
}
