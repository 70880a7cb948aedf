// Package device talks to the light-sensing board: an ADC input sampled by the
// pipeline and a PWM output driving the LED. Serial is the real board over USB
// CDC, Mock is a simulated photo-sensor.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/itohio/lumen/pkg/config"
)

var (
	// ErrNotConnected is returned when a board is used before Connect.
	ErrNotConnected = errors.New("device not connected")
	// ErrDevice wraps failure codes reported by the board itself.
	ErrDevice = errors.New("device error")
)

// Sensor produces raw ADC readings.
type Sensor interface {
	Read(ctx context.Context) (uint16, error)
}

// Output drives a PWM channel. pulse is the high time within period.
type Output interface {
	SetPulse(period, pulse time.Duration) error
}

// ContextOutput is an Output whose writes can be cut short by ctx.
type ContextOutput interface {
	Output
	SetPulseContext(ctx context.Context, period, pulse time.Duration) error
}

// SetPulse programs o, passing ctx along when o supports it.
func SetPulse(ctx context.Context, o Output, period, pulse time.Duration) error {
	if co, ok := o.(ContextOutput); ok {
		return co.SetPulseContext(ctx, period, pulse)
	}
	return o.SetPulse(period, pulse)
}

// Board is a connectable device that is both a Sensor and an Output.
type Board interface {
	Sensor
	Output
	Connect() error
	Close() error
	IsConnected() bool
}

// Connectable is implemented by collaborators that can report whether they
// are bound to hardware.
type Connectable interface {
	IsConnected() bool
}

// Bound reports ErrNotConnected when c implements Connectable and is not
// connected. Collaborators without a connection notion are always bound.
func Bound(c any) error {
	if cc, ok := c.(Connectable); ok && !cc.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Open returns an unconnected board: the simulated one when mock is set,
// otherwise the serial board configured in cfg.
func Open(cfg *config.Config, mock bool, logger *slog.Logger) Board {
	if mock {
		return NewMock(&cfg.Mock)
	}
	return NewSerial(cfg.Serial.Port, cfg.Serial.BaudRate, cfg.Serial.ReadTimeout, logger)
}

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports. USB ports are described by
// product name or VID:PID when the platform exposes them.
func Ports() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		result := make([]Port, 0, len(details))
		for _, d := range details {
			desc := d.Name
			switch {
			case d.IsUSB && d.Product != "":
				desc = fmt.Sprintf("%s (%s)", d.Product, d.Name)
			case d.IsUSB:
				desc = fmt.Sprintf("USB %s:%s (%s)", d.VID, d.PID, d.Name)
			}
			result = append(result, Port{Name: d.Name, Description: desc})
		}
		return result, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(names))
	for _, name := range names {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

var (
	_ Board         = (*Serial)(nil)
	_ ContextOutput = (*Serial)(nil)
	_ Board         = (*Mock)(nil)
)
