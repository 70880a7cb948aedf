// Command lumend runs the light-control pipeline without a GUI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itohio/lumen/pkg/buttons"
	"github.com/itohio/lumen/pkg/clock"
	"github.com/itohio/lumen/pkg/config"
	"github.com/itohio/lumen/pkg/device"
	"github.com/itohio/lumen/pkg/monitor"
	"github.com/itohio/lumen/pkg/pipeline"
	"github.com/itohio/lumen/pkg/telemetry"
)

func main() {
	var (
		configFlag  = flag.String("config", "config.yaml", "Configuration file path")
		portFlag    = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		mockFlag    = flag.Bool("mock", false, "Use the simulated board instead of the serial port")
		variantFlag = flag.String("variant", "", "Pipeline variant override: three-stage or four-stage")
		listFlag    = flag.Bool("list", false, "List serial ports and exit")
		verboseFlag = flag.Bool("v", false, "Log every stage at debug level")
		keysFlag    = flag.Bool("keys", false, "Read button presses (digits 1-8) from stdin")
		summaryFlag = flag.Duration("summary", 10*time.Second, "Interval between monitor summaries (0 = disabled)")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verboseFlag {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *listFlag {
		if err := listPorts(); err != nil {
			logger.Error("failed to list ports", "err", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *variantFlag != "" {
		cfg.Pipeline.Variant = *variantFlag
	}

	if err := run(cfg, *mockFlag, *keysFlag, *summaryFlag, logger); err != nil {
		logger.Error("pipeline failed", "err", err)
		os.Exit(1)
	}
}

func listPorts() error {
	ports, err := device.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
	}
	for _, p := range ports {
		fmt.Printf("%-20s %s\n", p.Name, p.Description)
	}
	return nil
}

func run(cfg *config.Config, mock, keys bool, summary time.Duration, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	board := device.Open(cfg, mock, logger)
	if err := board.Connect(); err != nil {
		// Stages bound to the board report the failure and stay stopped.
		logger.Error("failed to connect", "port", cfg.Serial.Port, "mock", mock, "err", err)
	} else {
		defer board.Close()
		logger.Info("connected", "port", cfg.Serial.Port, "mock", mock)
	}

	p, err := pipeline.New(cfg, board, board, pipeline.WithLogger(logger))
	if err != nil {
		return err
	}

	startButtons(ctx, cfg, p.Buttons(), keys, logger)

	mon := monitor.New(cfg.Monitor.Window)
	statuses := make(chan pipeline.Status, 64)
	p.OnUpdate(func(s pipeline.Status) {
		select {
		case statuses <- s:
		default:
			logger.Debug("monitor lagging, status dropped", "seq", s.Seq)
		}
	})
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		mon.ProcessStatus(statuses)
	}()

	if cfg.Telemetry.Enabled {
		pub, err := telemetry.New(cfg.Telemetry, logger)
		if err != nil {
			return err
		}
		p.OnUpdate(pub.Publish)
		go func() {
			if err := pub.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("telemetry stopped", "err", err)
			}
		}()
		defer pub.Close()
	}

	if summary > 0 {
		go reportSummaries(ctx, mon, summary, logger)
	}

	err = p.Run(ctx)

	close(statuses)
	<-monitorDone
	return err
}

func startButtons(ctx context.Context, cfg *config.Config, flags *buttons.Flags, keys bool, logger *slog.Logger) {
	if keys {
		go func() {
			if err := buttons.ReadKeys(ctx, os.Stdin, flags); err != nil && ctx.Err() == nil {
				logger.Warn("key input stopped", "err", err)
			}
		}()
	}
	if len(cfg.Buttons.Pins) > 0 {
		go func() {
			if err := buttons.WatchGPIO(ctx, cfg.Buttons.Pins, flags, logger); err != nil && ctx.Err() == nil {
				logger.Warn("GPIO buttons unavailable", "err", err)
			}
		}()
	}
}

// reportSummaries logs the monitor window every period together with the
// process uptime.
func reportSummaries(ctx context.Context, mon *monitor.Monitor, period time.Duration, logger *slog.Logger) {
	var up clock.Uptime
	first := true
	_ = clock.Periodic(ctx, clock.Real, period, func(context.Context) {
		if first {
			first = false
			return
		}
		up.Tick(period)

		s := mon.Summary()
		attrs := []any{
			"uptime", up.String(),
			"count", s.Count,
			"errors", s.Errors,
			"mean_filtered", fmt.Sprintf("%.1f", s.MeanFiltered),
			"mean_duty", fmt.Sprintf("%.1f%%", s.MeanDuty),
		}
		if s.Count > 0 {
			attrs = append(attrs, "last_seq", s.Latest.Seq)
			if s.Latest.Mode != "" {
				attrs = append(attrs, "mode", s.Latest.Mode, "ref", s.Latest.Reference)
			}
		}
		logger.Info("summary", attrs...)
	})
}
