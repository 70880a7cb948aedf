//go:build tinygo

//go:generate tinygo flash -target=pca10056

// Firmware for the nRF52840 light-sensing board. It serves the host's line
// protocol over USB CDC:
//
//	S\n                       -> <raw>\n | E<code>\n
//	P<period_us>,<pulse_us>\n -> OK\n    | E<code>\n
package main

import (
	"machine"
	"strconv"
)

var (
	adc    machine.ADC
	pwm    = machine.PWM0
	serial = machine.Serial

	ledChannel uint8
	periodUS   uint64 = DEFAULT_PERIOD_US

	// Serial buffer for reading lines
	lineBuffer [MAX_LINE]byte
	linePos    int
	overflow   bool
)

func main() {
	serial.Configure(machine.UARTConfig{BaudRate: UART_BAUD_RATE})

	machine.InitADC()
	PIN_SENSOR.Configure(machine.PinConfig{Mode: machine.PinInput})
	adc = machine.ADC{Pin: PIN_SENSOR}
	adc.Configure(machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	})

	if err := pwm.Configure(machine.PWMConfig{Period: periodUS * 1000}); err != nil {
		println("pwm configure failed:", err.Error())
	}
	ch, err := pwm.Channel(PIN_LED)
	if err != nil {
		println("pwm channel failed:", err.Error())
	}
	ledChannel = ch
	pwm.Set(ledChannel, 0)

	for {
		processSerial()
	}
}

func processSerial() {
	for serial.Buffered() > 0 {
		data, err := serial.ReadByte()
		if err != nil {
			break
		}

		if data == '\n' || data == '\r' {
			if overflow {
				replyError(ERR_INVALID)
			} else if linePos > 0 {
				handleCommand(lineBuffer[:linePos])
			}
			linePos = 0
			overflow = false
			continue
		}

		if linePos < len(lineBuffer) {
			lineBuffer[linePos] = data
			linePos++
		} else {
			// Ignore the rest of the line and reject it at the newline
			overflow = true
		}
	}
}

func handleCommand(line []byte) {
	switch line[0] {
	case 'S':
		if len(line) != 1 {
			replyError(ERR_INVALID)
			return
		}
		// Get returns a 16-bit scaled value
		raw := adc.Get() >> (16 - ADC_RESOLUTION)
		reply(strconv.AppendUint(nil, uint64(raw), 10))

	case 'P':
		period, pulse, ok := parsePulse(line[1:])
		if !ok || pulse > period || period == 0 {
			replyError(ERR_INVALID)
			return
		}
		if err := setPulse(period, pulse); err != nil {
			replyError(ERR_IO)
			return
		}
		reply([]byte("OK"))

	default:
		replyError(ERR_INVALID)
	}
}

// parsePulse parses "<period_us>,<pulse_us>".
func parsePulse(args []byte) (period, pulse uint64, ok bool) {
	for i, c := range args {
		if c != ',' {
			continue
		}
		p, err := strconv.ParseUint(string(args[:i]), 10, 32)
		if err != nil {
			return 0, 0, false
		}
		w, err := strconv.ParseUint(string(args[i+1:]), 10, 32)
		if err != nil {
			return 0, 0, false
		}
		return p, w, true
	}
	return 0, 0, false
}

func setPulse(period, pulse uint64) error {
	if period != periodUS {
		if err := pwm.SetPeriod(period * 1000); err != nil {
			return err
		}
		periodUS = period
	}

	top := uint64(pwm.Top())
	pwm.Set(ledChannel, uint32(top*pulse/period))
	return nil
}

func reply(b []byte) {
	serial.Write(append(b, '\n'))
}

func replyError(code int) {
	b := append([]byte{'E'}, strconv.Itoa(code)...)
	reply(b)
}
