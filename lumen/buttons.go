package main

import (
	"fmt"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/lumen/pkg/buttons"
	"github.com/itohio/lumen/pkg/control"
	"github.com/itohio/lumen/pkg/pipeline"
)

// controlButtons is the number of board buttons the controller reacts to.
const controlButtons = 4

// createButtonBar creates the B1..B4 buttons. They latch presses exactly like
// the board buttons do and are enabled only while a four-stage pipeline runs.
func createButtonBar(state *appState) fyne.CanvasObject {
	objects := make([]fyne.CanvasObject, 0, controlButtons)
	for i := range controlButtons {
		b := buttons.Button(i + 1)
		btn := widget.NewButton(b.String(), func() {
			handleButtonPress(state, b)
		})
		btn.Disable()
		state.buttonBtns[i] = btn
		objects = append(objects, btn)
	}
	return container.NewHBox(objects...)
}

// handleButtonPress latches b for the controller.
func handleButtonPress(state *appState, b buttons.Button) {
	if state.run == nil || !state.connected() {
		return
	}
	state.run.pipeline.Buttons().Press(b)
	state.logger.Debug("button pressed", "button", b)
}

func setButtonsEnabled(state *appState, enabled bool) {
	for _, btn := range state.buttonBtns {
		if enabled {
			btn.Enable()
		} else {
			btn.Disable()
		}
	}
}

// updateModeFromStatus highlights B1 while the controller is in manual mode.
// Only updates UI when the mode actually changes.
// Uses fyne.Do() because statuses arrive on the actuator goroutine.
func updateModeFromStatus(state *appState, s pipeline.Status) {
	if s.Mode == "" {
		return
	}
	manual := s.Mode == control.ModeManual.String()

	fyne.Do(func() {
		if state.manual == manual {
			return
		}
		state.manual = manual
		updateButtonStates(state)
	})
}

// updateButtonStates updates the visual state of the controller buttons.
func updateButtonStates(state *appState) {
	b1 := state.buttonBtns[0]
	if state.manual {
		b1.Importance = widget.HighImportance
		b1.SetText(fmt.Sprintf("%s (manual)", buttons.B1))
	} else {
		b1.Importance = widget.MediumImportance
		b1.SetText(buttons.B1.String())
	}
	b1.Refresh()
}
