package buttons

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const (
	// Debounce is the minimum time between two accepted presses of a button.
	Debounce = 30 * time.Millisecond

	edgePoll = 100 * time.Millisecond
)

// pin is the subset of gpio.PinIO used for edge detection, so tests can
// substitute it.
type pin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	WaitForEdge(timeout time.Duration) bool
}

// WatchGPIO latches falling edges on host GPIO pins into flags until ctx is
// done. names[i] is the pin of button i+1, an empty name leaves it unwired.
// Buttons are expected to pull the line low, the internal pull-up is enabled.
func WatchGPIO(ctx context.Context, names []string, flags *Flags, logger *slog.Logger) error {
	if len(names) > Count {
		return fmt.Errorf("at most %d buttons are supported, got %d", Count, len(names))
	}
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialise GPIO host drivers: %w", err)
	}

	pins := make(map[Button]pin, len(names))
	for i, name := range names {
		if name == "" {
			continue
		}
		p := gpioreg.ByName(name)
		if p == nil {
			return fmt.Errorf("unknown GPIO pin %q for %s", name, Button(i+1))
		}
		pins[Button(i+1)] = p
	}

	return watch(ctx, pins, flags, logger)
}

func watch(ctx context.Context, pins map[Button]pin, flags *Flags, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for b, p := range pins {
		if err := p.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			return fmt.Errorf("failed to configure %s: %w", b, err)
		}
	}

	var wg sync.WaitGroup
	for b, p := range pins {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last time.Time
			for ctx.Err() == nil {
				if !p.WaitForEdge(edgePoll) {
					continue
				}
				now := time.Now()
				if now.Sub(last) < Debounce {
					continue
				}
				last = now
				flags.Press(b)
				logger.Debug("button pressed", "button", b)
			}
		}()
	}
	wg.Wait()

	return ctx.Err()
}
