package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the CDC baud rate used by the firmware.
	DefaultBaudRate = 115200
	// DefaultReadTimeout bounds a single request/reply transaction.
	DefaultReadTimeout = 500 * time.Millisecond

	maxLine = 32
)

// Serial is a Board reached over a serial line.
//
// The protocol is line based, one request and one reply per transaction:
//
//	S\n                      -> <raw>\n | E<code>\n
//	P<period_us>,<pulse_us>\n -> OK\n    | E<code>\n
//
// Transactions are serialised because the sampler and the actuator share the
// port. After a failed transaction the input is flushed, and replies that do
// not fit the request are skipped, so a late reply cannot shift the stream.
type Serial struct {
	port        string
	baudRate    int
	readTimeout time.Duration
	logger      *slog.Logger

	mu        sync.Mutex
	conn      io.ReadWriteCloser
	pending   []byte
	scratch   [maxLine]byte
	stale     bool // last transaction ended without its reply
	connected bool
}

// inputFlusher is implemented by serial.Port.
type inputFlusher interface {
	ResetInputBuffer() error
}

// NewSerial creates a board on the given port. Zero values select defaults.
func NewSerial(port string, baudRate int, readTimeout time.Duration, logger *slog.Logger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if readTimeout == 0 {
		readTimeout = DefaultReadTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Serial{
		port:        port,
		baudRate:    baudRate,
		readTimeout: readTimeout,
		logger:      logger.With("port", port),
	}
}

// Connect opens the serial port.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	port, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}
	// Short reads let a transaction notice its deadline.
	if err := port.SetReadTimeout(d.readTimeout / 10); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout on %s: %w", d.port, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		d.logger.Warn("failed to flush input buffer", "err", err)
	}

	d.attach(port)
	d.logger.Info("connected", "baud", d.baudRate)
	return nil
}

// attach binds an already open stream. Caller holds d.mu.
func (d *Serial) attach(conn io.ReadWriteCloser) {
	d.conn = conn
	d.pending = d.pending[:0]
	d.stale = false
	d.connected = true
}

// Close closes the port.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	d.connected = false
	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			d.logger.Warn("error closing serial port", "err", err)
		}
		d.conn = nil
	}
	return nil
}

// IsConnected returns whether the port is open.
func (d *Serial) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Read requests one ADC conversion.
func (d *Serial) Read(ctx context.Context) (uint16, error) {
	reply, err := d.transact(ctx, "S\n", isReading)
	if err != nil {
		return 0, err
	}
	return parseReading(reply)
}

// SetPulse programs the PWM channel.
func (d *Serial) SetPulse(period, pulse time.Duration) error {
	return d.SetPulseContext(context.Background(), period, pulse)
}

// SetPulseContext is SetPulse that gives up waiting for the acknowledgement
// when ctx is done.
func (d *Serial) SetPulseContext(ctx context.Context, period, pulse time.Duration) error {
	if pulse < 0 || pulse > period {
		return fmt.Errorf("pulse %s outside period %s", pulse, period)
	}
	cmd := fmt.Sprintf("P%d,%d\n", period.Microseconds(), pulse.Microseconds())
	reply, err := d.transact(ctx, cmd, isAck)
	if err != nil {
		return err
	}
	return parseAck(reply)
}

func (d *Serial) transact(ctx context.Context, cmd string, accept func(string) bool) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return "", ErrNotConnected
	}

	// Anything still buffered belongs to an earlier request.
	d.pending = d.pending[:0]
	if d.stale {
		d.flushInput()
	}

	if _, err := io.WriteString(d.conn, cmd); err != nil {
		d.stale = true
		return "", fmt.Errorf("failed to send %q: %w", strings.TrimSpace(cmd), err)
	}

	line, err := d.readLine(ctx, time.Now().Add(d.readTimeout), accept)
	if err != nil {
		d.stale = true
		return "", fmt.Errorf("no reply to %q: %w", strings.TrimSpace(cmd), err)
	}
	d.stale = false
	return line, nil
}

// flushInput drops unread input on ports that support it. Caller holds d.mu.
func (d *Serial) flushInput() {
	f, ok := d.conn.(inputFlusher)
	if !ok {
		return
	}
	if err := f.ResetInputBuffer(); err != nil {
		d.logger.Warn("failed to flush input buffer", "err", err)
	}
}

// readLine returns the next non-empty line that accept approves. Other lines
// are dropped. Caller holds d.mu.
func (d *Serial) readLine(ctx context.Context, deadline time.Time, accept func(string) bool) (string, error) {
	for {
		if i := bytes.IndexByte(d.pending, '\n'); i >= 0 {
			line := strings.TrimSpace(string(d.pending[:i]))
			d.pending = append(d.pending[:0], d.pending[i+1:]...)
			if line == "" {
				continue
			}
			if !accept(line) {
				d.logger.Debug("skipping unexpected reply", "line", line)
				continue
			}
			return line, nil
		}
		if len(d.pending) > maxLine {
			d.pending = d.pending[:0]
			return "", fmt.Errorf("reply longer than %d bytes", maxLine)
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("timed out after %s", d.readTimeout)
		}

		n, err := d.conn.Read(d.scratch[:])
		if err != nil {
			return "", err
		}
		d.pending = append(d.pending, d.scratch[:n]...)
	}
}

// isReading accepts replies to S: a number or an error code.
func isReading(line string) bool {
	if strings.HasPrefix(line, "E") {
		return true
	}
	for _, c := range line {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// isAck accepts replies to P.
func isAck(line string) bool {
	return line == "OK" || strings.HasPrefix(line, "E")
}

// parseReading parses a reply to S.
func parseReading(line string) (uint16, error) {
	if err := parseError(line); err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(line, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid reading %q: %w", line, err)
	}
	return uint16(v), nil
}

// parseAck parses a reply to P.
func parseAck(line string) error {
	if err := parseError(line); err != nil {
		return err
	}
	if line != "OK" {
		return fmt.Errorf("unexpected reply %q", line)
	}
	return nil
}

// parseError decodes E<code> replies. Other lines yield nil.
func parseError(line string) error {
	if !strings.HasPrefix(line, "E") {
		return nil
	}
	code, err := strconv.Atoi(line[1:])
	if err != nil {
		return fmt.Errorf("%w: malformed error reply %q", ErrDevice, line)
	}
	return fmt.Errorf("%w: code %d", ErrDevice, code)
}
