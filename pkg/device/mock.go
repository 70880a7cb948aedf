package device

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/itohio/lumen/pkg/config"
)

// mockFullScale is the 10-bit ADC ceiling of the simulated board.
const mockFullScale = 1023

// Mock simulates the board: a photo-sensor looking at its own LED.
//
// A reading is ambient + gain*duty + uniform noise, where duty is the last
// programmed pulse/period. Every SpikeEvery-th reading returns SpikeValue and
// every FailEvery-th read fails, so filters and error paths can be exercised.
type Mock struct {
	cfg config.MockConfig

	mu        sync.Mutex
	rng       *rand.Rand
	connected bool
	reads     int
	period    time.Duration
	pulse     time.Duration
	writes    int
}

// NewMock creates a simulated board.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		cfg = &config.Default().Mock
	}

	return &Mock{
		cfg: *cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
}

// Connect simulates connecting to the board.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.connected = true
	return nil
}

// Close disconnects the simulated board.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// IsConnected returns whether the board is connected.
func (m *Mock) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Read returns a simulated ADC reading.
func (m *Mock) Read(ctx context.Context) (uint16, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return 0, ErrNotConnected
	}

	m.reads++
	if m.cfg.FailEvery > 0 && m.reads%m.cfg.FailEvery == 0 {
		return 0, fmt.Errorf("%w: code %d", ErrDevice, -5)
	}
	if m.cfg.SpikeEvery > 0 && m.reads%m.cfg.SpikeEvery == 0 {
		return m.cfg.SpikeValue, nil
	}

	duty := 0.0
	if m.period > 0 {
		duty = float64(m.pulse) / float64(m.period)
	}
	v := m.cfg.Ambient + m.cfg.Gain*duty + (m.rng.Float64()*2-1)*m.cfg.Noise
	switch {
	case v < 0:
		v = 0
	case v > mockFullScale:
		v = mockFullScale
	}
	return uint16(v), nil
}

// SetPulse records the programmed PWM output.
func (m *Mock) SetPulse(period, pulse time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}
	if pulse < 0 || pulse > period {
		return fmt.Errorf("pulse %s outside period %s", pulse, period)
	}

	m.period = period
	m.pulse = pulse
	m.writes++
	return nil
}

// Pulse returns the last programmed period and pulse.
func (m *Mock) Pulse() (period, pulse time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.period, m.pulse
}

// Writes returns how many times SetPulse succeeded.
func (m *Mock) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
