// Package control implements the four-stage pipeline's brightness controller.
//
// In auto mode the output is nudged by one unit per filtered sample towards
// the reference luminance. In manual mode the reference itself is the output
// and buttons move it up and down.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/itohio/lumen/pkg/buttons"
	"github.com/itohio/lumen/pkg/filter"
	"github.com/itohio/lumen/pkg/handoff"
	"github.com/itohio/lumen/pkg/sample"
)

// Output and reference limits.
const (
	MinLevel = 0
	MaxLevel = 100
)

// Mode is the controller operating mode.
type Mode uint8

const (
	ModeAuto Mode = iota
	ModeManual
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeManual:
		return "manual"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// Luminance maps a sensor voltage to a 0-100 brightness figure. The result
// is not clamped: values at or beyond either end mean the sensor is
// saturated.
func Luminance(mv uint16) int {
	return 100 - (int(mv)-900)/16
}

// Command is the controller output for one filtered sample.
type Command struct {
	filter.Filtered
	Mode       Mode
	Reference  int
	Millivolts uint16
	Luminance  int // Clamped to 0-100
	Output     int // 0-100, percent of the PWM period
}

// Config configures a Controller.
type Config struct {
	Reference     int
	Step          int
	InitialOutput int
	VRefMV        int
	MaxRaw        int
	Logger        *slog.Logger
}

// Controller is the stage between filter and actuator.
type Controller struct {
	in      handoff.Receiver[filter.Filtered]
	out     handoff.Sender[Command]
	buttons *buttons.Flags
	logger  *slog.Logger

	step   int
	vrefMV int
	maxRaw int

	mode Mode
	ref  int
	u    int
}

// New creates a controller in auto mode. btn may be nil when no buttons are
// wired.
func New(in handoff.Receiver[filter.Filtered], out handoff.Sender[Command], btn *buttons.Flags, cfg Config) *Controller {
	if cfg.Step == 0 {
		cfg.Step = 10
	}
	if cfg.VRefMV == 0 {
		cfg.VRefMV = 3000
	}
	if cfg.MaxRaw == 0 {
		cfg.MaxRaw = sample.DefaultMaxRaw
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if btn == nil {
		btn = &buttons.Flags{}
	}

	return &Controller{
		in:      in,
		out:     out,
		buttons: btn,
		logger:  cfg.Logger.With("stage", "controller"),
		step:    cfg.Step,
		vrefMV:  cfg.VRefMV,
		maxRaw:  cfg.MaxRaw,
		mode:    ModeAuto,
		ref:     clamp(cfg.Reference),
		u:       clamp(cfg.InitialOutput),
	}
}

// Mode returns the current mode. Not safe for use concurrently with Run.
func (c *Controller) Mode() Mode { return c.mode }

// Reference returns the current reference. Not safe for use concurrently with Run.
func (c *Controller) Reference() int { return c.ref }

// Step polls the buttons and computes the output for f.
func (c *Controller) Step(f filter.Filtered) Command {
	c.pollButtons()

	value := min(max(f.Value, 0), c.maxRaw)
	mv := sample.Millivolts(uint16(value), c.vrefMV, c.maxRaw)
	lum := Luminance(mv)

	cmd := Command{
		Filtered:   f,
		Mode:       c.mode,
		Reference:  c.ref,
		Millivolts: mv,
		Luminance:  clamp(lum),
	}

	switch c.mode {
	case ModeAuto:
		// A saturated sensor gives no usable error signal.
		if lum > MinLevel && lum < MaxLevel {
			switch {
			case lum > c.ref:
				c.u--
			case lum < c.ref:
				c.u++
			}
			c.u = clamp(c.u)
		}
		cmd.Output = c.u
	case ModeManual:
		cmd.Output = c.ref
	}

	c.logger.Debug("step",
		"seq", f.Seq, "mode", cmd.Mode, "ref", cmd.Reference,
		"mv", mv, "luminance", cmd.Luminance, "output", cmd.Output)
	return cmd
}

// pollButtons applies pending presses that are meaningful in the current
// mode. Presses for the other mode stay latched.
func (c *Controller) pollButtons() {
	switch c.mode {
	case ModeAuto:
		if c.buttons.Take(buttons.B1) {
			c.mode = ModeManual
			c.logger.Info("mode changed", "mode", c.mode, "ref", c.ref)
		}
	case ModeManual:
		if c.buttons.Take(buttons.B2) {
			c.mode = ModeAuto
			c.logger.Info("mode changed", "mode", c.mode, "output", c.u)
			return
		}
		if c.buttons.Take(buttons.B3) {
			c.ref = clamp(c.ref - c.step)
			c.logger.Info("reference changed", "ref", c.ref)
		}
		if c.buttons.Take(buttons.B4) {
			c.ref = clamp(c.ref + c.step)
			c.logger.Info("reference changed", "ref", c.ref)
		}
	}
}

// Run controls until the input is closed or ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("started", "mode", c.mode, "ref", c.ref)
	for {
		f, err := c.in.Receive(ctx)
		if err != nil {
			if errors.Is(err, handoff.ErrClosed) {
				return nil
			}
			return fmt.Errorf("controller: %w", err)
		}

		cmd := c.Step(f)
		if !c.out.Publish(cmd) {
			c.logger.Debug("command lost", "seq", cmd.Seq)
		}
	}
}

func clamp(v int) int {
	return min(max(v, MinLevel), MaxLevel)
}
