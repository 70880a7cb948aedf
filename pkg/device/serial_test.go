package device

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBoard answers the serial protocol on one end of a pipe.
type fakeBoard struct {
	mu       sync.Mutex
	readings []string
	acks     []string
	commands []string
}

func (b *fakeBoard) serve(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		cmd := scanner.Text()

		b.mu.Lock()
		b.commands = append(b.commands, cmd)
		var reply string
		switch {
		case cmd == "S" && len(b.readings) > 0:
			reply, b.readings = b.readings[0], b.readings[1:]
		case strings.HasPrefix(cmd, "P") && len(b.acks) > 0:
			reply, b.acks = b.acks[0], b.acks[1:]
		default:
			reply = "E-22"
		}
		b.mu.Unlock()

		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func (b *fakeBoard) Commands() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.commands...)
}

func newPiped(t *testing.T, board *fakeBoard) *Serial {
	t.Helper()
	host, remote := net.Pipe()
	go board.serve(remote)

	d := NewSerial("pipe", 0, time.Second, nil)
	d.attach(host)
	t.Cleanup(func() {
		d.Close()
		remote.Close()
	})
	return d
}

func TestSerial_Read(t *testing.T) {
	board := &fakeBoard{readings: []string{"512\n", "\r\n1023\r\n", "E-5\n"}}
	d := newPiped(t, board)
	ctx := context.Background()

	v, err := d.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(512), v)

	// Blank lines and CRLF are tolerated.
	v, err = d.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(1023), v)

	_, err = d.Read(ctx)
	assert.ErrorIs(t, err, ErrDevice)

	assert.Equal(t, []string{"S", "S", "S"}, board.Commands())
}

func TestSerial_SetPulse(t *testing.T) {
	board := &fakeBoard{acks: []string{"OK\n", "E-22\n"}}
	d := newPiped(t, board)

	require.NoError(t, d.SetPulse(250*time.Millisecond, 125*time.Millisecond))
	assert.ErrorIs(t, d.SetPulse(250*time.Millisecond, 250*time.Millisecond), ErrDevice)
	assert.Error(t, d.SetPulse(time.Millisecond, 2*time.Millisecond))

	assert.Equal(t, []string{"P250000,125000", "P250000,250000"}, board.Commands())
}

func TestSerial_NotConnected(t *testing.T) {
	d := NewSerial("nowhere", 0, 0, nil)
	assert.False(t, d.IsConnected())

	_, err := d.Read(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, d.SetPulse(time.Second, 0), ErrNotConnected)
	assert.ErrorIs(t, Bound(d), ErrNotConnected)
	assert.NoError(t, d.Close())
}

func TestSerial_CloseDisconnects(t *testing.T) {
	d := newPiped(t, &fakeBoard{})
	assert.True(t, d.IsConnected())
	assert.NoError(t, Bound(d))

	require.NoError(t, d.Close())
	assert.False(t, d.IsConnected())

	_, err := d.Read(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

// lateConn behaves like a serial port with a short read timeout: Read returns
// 0, nil when nothing has arrived. Replies are queued per command, and the
// first reply to S can be delayed.
type lateConn struct {
	mu       sync.Mutex
	in       []byte
	readings []string
	lateBy   time.Duration
	ackAfter time.Duration
	flushes  int
}

func (c *lateConn) Write(p []byte) (int, error) {
	cmd := strings.TrimSpace(string(p))

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case cmd == "S" && len(c.readings) > 0:
		var reply string
		reply, c.readings = c.readings[0], c.readings[1:]
		if c.lateBy > 0 {
			delay := c.lateBy
			c.lateBy = 0
			time.AfterFunc(delay, func() { c.deliver(reply) })
			return len(p), nil
		}
		c.in = append(c.in, reply...)
	case strings.HasPrefix(cmd, "P") && c.ackAfter > 0:
		time.AfterFunc(c.ackAfter, func() { c.deliver("OK\n") })
	case strings.HasPrefix(cmd, "P"):
		c.in = append(c.in, "OK\n"...)
	default:
		c.in = append(c.in, "E-22\n"...)
	}
	return len(p), nil
}

func (c *lateConn) deliver(reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in = append(c.in, reply...)
}

func (c *lateConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	n := copy(p, c.in)
	c.in = c.in[n:]
	c.mu.Unlock()
	if n == 0 {
		time.Sleep(time.Millisecond)
	}
	return n, nil
}

func (c *lateConn) Close() error { return nil }

// flushingConn adds input flushing the way serial.Port does.
type flushingConn struct {
	*lateConn
}

func (c flushingConn) ResetInputBuffer() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in = nil
	c.flushes++
	return nil
}

func TestSerial_RecoversFromLateReply(t *testing.T) {
	tests := []struct {
		name  string
		flush bool
	}{
		{name: "skips stale lines"},
		{name: "flushes port input", flush: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &lateConn{
				readings: []string{"512\n", "300\n", "301\n"},
				lateBy:   150 * time.Millisecond,
			}
			d := NewSerial("late", 0, 100*time.Millisecond, nil)
			if tt.flush {
				d.attach(flushingConn{conn})
			} else {
				d.attach(conn)
			}
			ctx := context.Background()

			_, err := d.Read(ctx)
			require.Error(t, err)

			// Let the late reply land before the next request.
			time.Sleep(100 * time.Millisecond)

			require.NoError(t, d.SetPulse(250*time.Millisecond, 125*time.Millisecond))

			v, err := d.Read(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint16(300), v)

			v, err = d.Read(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint16(301), v)

			if tt.flush {
				assert.Equal(t, 1, conn.flushes)
			}
		})
	}
}

func TestSerial_SetPulseContextCancel(t *testing.T) {
	conn := &lateConn{ackAfter: time.Second}
	d := NewSerial("slow", 0, 5*time.Second, nil)
	d.attach(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := d.SetPulseContext(ctx, 250*time.Millisecond, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestReplyMatchers(t *testing.T) {
	tests := []struct {
		line    string
		reading bool
		ack     bool
	}{
		{line: "512", reading: true},
		{line: "0", reading: true},
		{line: "OK", ack: true},
		{line: "E-5", reading: true, ack: true},
		{line: "-1"},
		{line: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.reading, isReading(tt.line))
			assert.Equal(t, tt.ack, isAck(tt.line))
		})
	}
}

func TestParseReading(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    uint16
		wantErr error
	}{
		{name: "zero", line: "0", want: 0},
		{name: "full scale", line: "1023", want: 1023},
		{name: "above range still parses", line: "4095", want: 4095},
		{name: "device error", line: "E-5", wantErr: ErrDevice},
		{name: "malformed device error", line: "Exyz", wantErr: ErrDevice},
		{name: "garbage", line: "abc"},
		{name: "overflow", line: "70000"},
		{name: "negative", line: "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseReading(tt.line)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.want == 0 && tt.line != "0":
				assert.Error(t, err)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseAck(t *testing.T) {
	assert.NoError(t, parseAck("OK"))
	assert.ErrorIs(t, parseAck("E-22"), ErrDevice)
	assert.Error(t, parseAck("KO"))
	assert.Error(t, parseAck("512"))
}
