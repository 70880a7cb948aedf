package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/lumen/pkg/config"
	"github.com/itohio/lumen/pkg/device"
	"github.com/itohio/lumen/pkg/monitor"
	"github.com/itohio/lumen/pkg/pipeline"
	"github.com/itohio/lumen/pkg/scope"
)

func main() {
	var (
		portFlag    = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag  = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag    = flag.Bool("mock", false, "Use the simulated board instead of the serial port")
		variantFlag = flag.String("variant", "", "Pipeline variant override: three-stage or four-stage")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// Load configuration
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

	application := app.NewWithID("com.itohio.lumen")

	window := application.NewWindow("Lumen")
	window.Resize(fyne.NewSize(1200, 800))
	window.CenterOnScreen()

	state := &appState{
		cfg:        cfg,
		configPath: *configFlag,
		monitor:    monitor.New(cfg.Monitor.Window),
		window:     window,
		useMock:    *mockFlag,
		logger:     logger,
		throttle:   newThrottle(updateInterval),
	}

	toolbar := createToolbar(state)

	state.scopeWidget = scope.New(cfg.ADC.MaxRaw, cfg.Monitor.Window)

	// Register once; the monitor outlives every pipeline run.
	state.monitor.OnUpdate(func(statuses []pipeline.Status) {
		if !state.throttle.Allow() {
			return
		}
		fyne.Do(func() {
			state.scopeWidget.UpdateData(statuses)
		})
	})

	content := container.NewBorder(
		toolbar,
		nil,
		nil,
		nil,
		state.scopeWidget,
	)

	window.SetContent(content)
	window.SetOnClosed(func() {
		stopRun(state.run)
		if state.board != nil {
			state.board.Close()
		}
	})
	window.ShowAndRun()
}

// pipelineRun tracks one running pipeline for graceful shutdown.
type pipelineRun struct {
	pipeline *pipeline.Pipeline
	cancel   context.CancelFunc
	done     chan struct{} // Closed when the pipeline and the monitor have stopped
}

// appState holds the application state.
type appState struct {
	cfg        *config.Config
	configPath string
	board      device.Board
	monitor    *monitor.Monitor
	window     fyne.Window
	useMock    bool
	logger     *slog.Logger

	scopeWidget *scope.ScopeWidget
	connectBtn  *widget.Button
	buttonBtns  [controlButtons]*widget.Button
	manual      bool         // Controller mode shown on B1
	run         *pipelineRun // Current pipeline (nil if not connected)

	throttle *throttle
}

// createToolbar creates the application toolbar with Connect, Settings and
// the controller buttons.
func createToolbar(state *appState) fyne.CanvasObject {
	connectBtn := widget.NewButtonWithIcon("", theme.LoginIcon(), func() {
		handleConnect(state)
	})
	state.connectBtn = connectBtn

	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(state)
	})

	return container.NewBorder(
		nil, // top
		nil, // bottom
		container.NewHBox(connectBtn, settingsBtn), // left
		createButtonBar(state),                     // right
		nil,                                        // center
	)
}

// stopRun cancels the pipeline and waits until its stages and the monitor
// goroutine have exited.
func stopRun(run *pipelineRun) {
	if run == nil {
		return
	}
	run.cancel()
	<-run.done
}

func (s *appState) connected() bool {
	return s.board != nil && s.board.IsConnected()
}

// handleConnect handles the connect/disconnect button click.
func handleConnect(state *appState) {
	if state.connected() {
		stopRun(state.run)
		state.run = nil
		state.board.Close()
		state.board = nil

		setButtonsEnabled(state, false)
		state.manual = false
		updateButtonStates(state)
		state.logger.Info("disconnected", "mock", state.useMock)
		return
	}

	board := device.Open(state.cfg, state.useMock, state.logger)
	if err := board.Connect(); err != nil {
		if state.useMock {
			dialog.ShowError(fmt.Errorf("failed to connect to simulated board: %w", err), state.window)
		} else {
			dialog.ShowError(fmt.Errorf("failed to connect to %s: %w", state.cfg.Serial.Port, err), state.window)
		}
		return
	}
	state.board = board
	state.logger.Info("connected", "port", state.cfg.Serial.Port, "mock", state.useMock)

	p, err := pipeline.New(state.cfg, board, board, pipeline.WithLogger(state.logger))
	if err != nil {
		board.Close()
		state.board = nil
		dialog.ShowError(err, state.window)
		return
	}

	statuses := make(chan pipeline.Status, 64)
	p.OnUpdate(func(s pipeline.Status) {
		updateModeFromStatus(state, s)
		select {
		case statuses <- s:
		default:
		}
	})

	// Reset monitor shutdown flag for the new run
	state.monitor.ResetShutdown()
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		state.monitor.ProcessStatus(statuses)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	run := &pipelineRun{pipeline: p, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(run.done)
		err := p.Run(ctx)
		close(statuses)
		<-monitorDone
		if err != nil {
			fyne.Do(func() {
				dialog.ShowError(fmt.Errorf("pipeline stopped: %w", err), state.window)
			})
		}
	}()
	state.run = run

	setButtonsEnabled(state, state.cfg.Pipeline.Variant == config.VariantFourStage)
}
