//go:build tinygo

package main

import "machine"

const (
	// ADC configuration
	ADC_REFERENCE_MV = 3000 // 0.6V internal reference with 1/5 gain
	ADC_RESOLUTION   = 10   // Host expects 0..1023

	// Photo-sensor input
	PIN_SENSOR = machine.A1

	// LED driven by the PWM channel
	PIN_LED = machine.LED1

	// Default PWM period until the host sends one
	DEFAULT_PERIOD_US = 250000

	// Longest command line, e.g. "P4294967295,4294967295"
	MAX_LINE = 24

	// Reply codes, negative errno values as reported by the board
	ERR_INVALID = -22 // Unknown or malformed command
	ERR_IO      = -5  // PWM could not be programmed

	UART_BAUD_RATE = 115200
)
