package device

import (
	"context"
	"testing"
	"time"

	"github.com/itohio/lumen/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietMock() *config.MockConfig {
	return &config.MockConfig{
		Ambient: 300,
		Gain:    500,
		Noise:   0,
		Seed:    1,
	}
}

func TestMock_RequiresConnect(t *testing.T) {
	m := NewMock(quietMock())

	_, err := m.Read(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, m.SetPulse(time.Second, 0), ErrNotConnected)
	assert.ErrorIs(t, Bound(m), ErrNotConnected)

	require.NoError(t, m.Connect())
	assert.Error(t, m.Connect())
	assert.NoError(t, Bound(m))

	require.NoError(t, m.Close())
	assert.False(t, m.IsConnected())
}

func TestMock_ReadingFollowsDuty(t *testing.T) {
	m := NewMock(quietMock())
	require.NoError(t, m.Connect())
	ctx := context.Background()

	tests := []struct {
		pulse time.Duration
		want  uint16
	}{
		{0, 300},
		{125 * time.Millisecond, 550},
		{250 * time.Millisecond, 800},
	}

	for _, tt := range tests {
		require.NoError(t, m.SetPulse(250*time.Millisecond, tt.pulse))
		v, err := m.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, tt.want, v, "pulse %s", tt.pulse)
	}

	period, pulse := m.Pulse()
	assert.Equal(t, 250*time.Millisecond, period)
	assert.Equal(t, 250*time.Millisecond, pulse)
	assert.Equal(t, 3, m.Writes())
}

func TestMock_SpikesAndFailures(t *testing.T) {
	cfg := quietMock()
	cfg.SpikeEvery = 3
	cfg.SpikeValue = 1000
	cfg.FailEvery = 4
	m := NewMock(cfg)
	require.NoError(t, m.Connect())
	ctx := context.Background()

	var got []uint16
	var failures int
	for range 8 {
		v, err := m.Read(ctx)
		if err != nil {
			assert.ErrorIs(t, err, ErrDevice)
			failures++
			continue
		}
		got = append(got, v)
	}

	// Reads 4 and 8 fail, reads 3 and 6 spike.
	assert.Equal(t, 2, failures)
	assert.Equal(t, []uint16{300, 300, 1000, 300, 1000, 300}, got)
}

func TestMock_NoiseIsBoundedAndSeeded(t *testing.T) {
	cfg := quietMock()
	cfg.Noise = 10
	a := NewMock(cfg)
	b := NewMock(cfg)
	require.NoError(t, a.Connect())
	require.NoError(t, b.Connect())
	ctx := context.Background()

	for range 50 {
		va, err := a.Read(ctx)
		require.NoError(t, err)
		vb, err := b.Read(ctx)
		require.NoError(t, err)

		assert.Equal(t, va, vb)
		assert.GreaterOrEqual(t, va, uint16(290))
		assert.LessOrEqual(t, va, uint16(310))
	}
}

func TestMock_RejectsPulseOutsidePeriod(t *testing.T) {
	m := NewMock(quietMock())
	require.NoError(t, m.Connect())

	assert.Error(t, m.SetPulse(time.Millisecond, 2*time.Millisecond))
	assert.Equal(t, 0, m.Writes())
}

func TestMock_CancelledContext(t *testing.T) {
	m := NewMock(quietMock())
	require.NoError(t, m.Connect())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen(t *testing.T) {
	cfg := config.Default()

	assert.IsType(t, &Mock{}, Open(cfg, true, nil))

	board := Open(cfg, false, nil)
	require.IsType(t, &Serial{}, board)
	assert.Equal(t, cfg.Serial.Port, board.(*Serial).port)
	assert.False(t, board.IsConnected())
}
