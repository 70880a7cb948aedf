// Command vending runs the console vending machine. Buttons B1..B8 are read as
// digits from stdin and, when configured, from host GPIO pins.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/itohio/lumen/pkg/buttons"
	"github.com/itohio/lumen/pkg/clock"
	"github.com/itohio/lumen/pkg/config"
	"github.com/itohio/lumen/pkg/vending"
)

func main() {
	var (
		configFlag  = flag.String("config", "config.yaml", "Configuration file path")
		noKeysFlag  = flag.Bool("no-keys", false, "Do not read button presses from stdin")
		verboseFlag = flag.Bool("v", false, "Log every step")
		periodFlag  = flag.Duration("period", vending.DefaultPollPeriod, "Button polling period")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verboseFlag {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configFlag)
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	m, err := vending.New(cfg.Vending, os.Stdout, logger)
	if err != nil {
		logger.Error("failed to create machine", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flags := &buttons.Flags{}
	if !*noKeysFlag {
		go func() {
			if err := buttons.ReadKeys(ctx, os.Stdin, flags); err != nil && ctx.Err() == nil {
				logger.Warn("key input stopped", "err", err)
			}
		}()
	}
	if len(cfg.Buttons.Pins) > 0 {
		go func() {
			if err := buttons.WatchGPIO(ctx, cfg.Buttons.Pins, flags, logger); err != nil && ctx.Err() == nil {
				logger.Error("GPIO buttons unavailable", "err", err)
			}
		}()
	}

	if err := m.Run(ctx, flags, clock.Real, *periodFlag); err != nil && ctx.Err() == nil {
		logger.Error("vending machine stopped", "err", err)
		os.Exit(1)
	}
}
