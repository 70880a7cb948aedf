package main

import (
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/lumen/pkg/config"
	"github.com/itohio/lumen/pkg/device"
	"github.com/itohio/lumen/pkg/handoff"
)

// showSettingsDialog displays a settings dialog with tabs for all configuration options.
// Changes are saved immediately and take effect on the next connect.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createSerialTab(state),
		createPipelineTab(state),
		createFilterTab(state),
		createControllerTab(state),
		createMockTab(state),
	)

	content := container.NewBorder(nil, nil, nil, nil, tabs)
	content.Resize(fyne.NewSize(600, 500))

	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 500))
	d.Show()
}

// save validates and writes the configuration, reporting failures in a dialog.
func save(state *appState) bool {
	if err := state.cfg.Validate(); err != nil {
		dialog.ShowError(fmt.Errorf("invalid settings: %w", err), state.window)
		return false
	}
	if err := state.cfg.Save(state.configPath); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), state.window)
		return false
	}
	return true
}

func intEntry(v int) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(strconv.Itoa(v))
	return e
}

func durationEntry(d time.Duration) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(d.String())
	return e
}

func floatEntry(v float64) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(strconv.FormatFloat(v, 'f', -1, 64))
	return e
}

// parseInt sets *dst when text is a valid integer.
func parseInt(text string, dst *int) {
	if v, err := strconv.Atoi(text); err == nil {
		*dst = v
	}
}

// createSerialTab creates the Serial configuration tab.
func createSerialTab(state *appState) *container.TabItem {
	ports, err := device.Ports()
	portOptions := []string{}
	portMap := make(map[string]string) // Map display name to actual port name

	if err == nil {
		for _, port := range ports {
			displayName := port.Name
			if port.Description != "" && port.Description != port.Name {
				displayName = fmt.Sprintf("%s (%s)", port.Name, port.Description)
			}
			portOptions = append(portOptions, displayName)
			portMap[displayName] = port.Name
		}
	}

	// Add current port if not in list
	currentPort := state.cfg.Serial.Port
	currentDisplay := currentPort
	found := false
	for _, opt := range portOptions {
		if portMap[opt] == currentPort {
			currentDisplay = opt
			found = true
			break
		}
	}
	if !found && currentPort != "" {
		portOptions = append(portOptions, currentPort)
		portMap[currentPort] = currentPort
	}

	portSelect := widget.NewSelect(portOptions, nil)
	if currentDisplay != "" {
		portSelect.SetSelected(currentDisplay)
	}
	baudEntry := intEntry(state.cfg.Serial.BaudRate)
	timeoutEntry := durationEntry(state.cfg.Serial.ReadTimeout)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Serial Port", Widget: portSelect},
			{Text: "Baud Rate", Widget: baudEntry},
			{Text: "Read Timeout", Widget: timeoutEntry},
		},
		OnSubmit: func() {
			if portSelect.Selected != "" {
				selectedPort := portMap[portSelect.Selected]
				if selectedPort == "" {
					selectedPort = portSelect.Selected
				}
				state.cfg.Serial.Port = selectedPort
			}
			parseInt(baudEntry.Text, &state.cfg.Serial.BaudRate)
			if d, err := time.ParseDuration(timeoutEntry.Text); err == nil {
				state.cfg.Serial.ReadTimeout = d
			}
			save(state)
		},
	}

	return container.NewTabItem("Serial", form)
}

// createPipelineTab creates the Pipeline configuration tab.
func createPipelineTab(state *appState) *container.TabItem {
	variantSelect := widget.NewSelect([]string{config.VariantThreeStage, config.VariantFourStage}, nil)
	variantSelect.SetSelected(state.cfg.Pipeline.Variant)

	kindSelect := widget.NewSelect([]string{string(handoff.KindQueue), string(handoff.KindSlot)}, nil)
	kindSelect.SetSelected(state.cfg.Handoff.Kind)

	capacityEntry := intEntry(state.cfg.Handoff.Capacity)
	samplePeriodEntry := durationEntry(state.cfg.Sampler.Period)
	burstEntry := intEntry(state.cfg.Sampler.Burst)
	pwmPeriodEntry := durationEntry(state.cfg.Actuator.Period)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Variant", Widget: variantSelect},
			{Text: "Hand-off", Widget: kindSelect},
			{Text: "Queue Capacity", Widget: capacityEntry},
			{Text: "Sample Period", Widget: samplePeriodEntry},
			{Text: "Readings per Period", Widget: burstEntry},
			{Text: "PWM Period", Widget: pwmPeriodEntry},
		},
		OnSubmit: func() {
			if variantSelect.Selected != "" {
				state.cfg.Pipeline.Variant = variantSelect.Selected
			}
			if kindSelect.Selected != "" {
				state.cfg.Handoff.Kind = kindSelect.Selected
			}
			parseInt(capacityEntry.Text, &state.cfg.Handoff.Capacity)
			if d, err := time.ParseDuration(samplePeriodEntry.Text); err == nil {
				state.cfg.Sampler.Period = d
			}
			parseInt(burstEntry.Text, &state.cfg.Sampler.Burst)
			if d, err := time.ParseDuration(pwmPeriodEntry.Text); err == nil {
				state.cfg.Actuator.Period = d
			}
			save(state)
		},
	}

	return container.NewTabItem("Pipeline", form)
}

// createFilterTab creates the Filter configuration tab.
func createFilterTab(state *appState) *container.TabItem {
	windowEntry := intEntry(state.cfg.Filter.WindowSize)
	toleranceEntry := intEntry(state.cfg.Filter.TolerancePercent)
	maxAcceptedEntry := intEntry(state.cfg.Filter.MaxAccepted)
	monitorEntry := durationEntry(state.cfg.Monitor.Window)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Window Size", Widget: windowEntry},
			{Text: "Tolerance (%)", Widget: toleranceEntry},
			{Text: "Max Accepted (0=disabled)", Widget: maxAcceptedEntry},
			{Text: "Plot Window", Widget: monitorEntry},
		},
		OnSubmit: func() {
			parseInt(windowEntry.Text, &state.cfg.Filter.WindowSize)
			parseInt(toleranceEntry.Text, &state.cfg.Filter.TolerancePercent)
			parseInt(maxAcceptedEntry.Text, &state.cfg.Filter.MaxAccepted)
			if d, err := time.ParseDuration(monitorEntry.Text); err == nil {
				state.cfg.Monitor.Window = d
			}
			save(state)
		},
	}

	return container.NewTabItem("Filter", form)
}

// createControllerTab creates the Controller configuration tab.
func createControllerTab(state *appState) *container.TabItem {
	refEntry := intEntry(state.cfg.Controller.Reference)
	stepEntry := intEntry(state.cfg.Controller.Step)
	initialEntry := intEntry(state.cfg.Controller.InitialOutput)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Reference (%)", Widget: refEntry},
			{Text: "Manual Step (%)", Widget: stepEntry},
			{Text: "Initial Output (%)", Widget: initialEntry},
		},
		OnSubmit: func() {
			parseInt(refEntry.Text, &state.cfg.Controller.Reference)
			parseInt(stepEntry.Text, &state.cfg.Controller.Step)
			parseInt(initialEntry.Text, &state.cfg.Controller.InitialOutput)
			save(state)
		},
	}

	return container.NewTabItem("Controller", form)
}

// createMockTab creates the simulated board configuration tab.
func createMockTab(state *appState) *container.TabItem {
	ambientEntry := floatEntry(state.cfg.Mock.Ambient)
	gainEntry := floatEntry(state.cfg.Mock.Gain)
	noiseEntry := floatEntry(state.cfg.Mock.Noise)
	spikeEveryEntry := intEntry(state.cfg.Mock.SpikeEvery)
	spikeValueEntry := intEntry(int(state.cfg.Mock.SpikeValue))
	failEveryEntry := intEntry(state.cfg.Mock.FailEvery)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Ambient (raw)", Widget: ambientEntry},
			{Text: "LED Gain (raw at 100%)", Widget: gainEntry},
			{Text: "Noise (raw)", Widget: noiseEntry},
			{Text: "Spike Every (0=never)", Widget: spikeEveryEntry},
			{Text: "Spike Value (raw)", Widget: spikeValueEntry},
			{Text: "Fail Every (0=never)", Widget: failEveryEntry},
		},
		OnSubmit: func() {
			if v, err := strconv.ParseFloat(ambientEntry.Text, 64); err == nil {
				state.cfg.Mock.Ambient = v
			}
			if v, err := strconv.ParseFloat(gainEntry.Text, 64); err == nil {
				state.cfg.Mock.Gain = v
			}
			if v, err := strconv.ParseFloat(noiseEntry.Text, 64); err == nil {
				state.cfg.Mock.Noise = v
			}
			parseInt(spikeEveryEntry.Text, &state.cfg.Mock.SpikeEvery)
			if v, err := strconv.ParseUint(spikeValueEntry.Text, 10, 16); err == nil {
				state.cfg.Mock.SpikeValue = uint16(v)
			}
			parseInt(failEveryEntry.Text, &state.cfg.Mock.FailEvery)
			save(state)
		},
	}

	return container.NewTabItem("Mock", form)
}
