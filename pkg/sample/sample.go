// Package sample implements the acquisition stage: periodic ADC reads from the
// board, range checked and published as raw samples.
package sample

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/lumen/pkg/clock"
	"github.com/itohio/lumen/pkg/device"
	"github.com/itohio/lumen/pkg/handoff"
)

// DefaultMaxRaw is the ceiling of the 10-bit ADC.
const DefaultMaxRaw = 1023

// ErrOutOfRange is reported for readings above the ADC ceiling.
var ErrOutOfRange = errors.New("reading out of range")

// Sample is one accepted ADC reading.
type Sample struct {
	Seq       uint64    // Arrival order, starting at 1
	Timestamp time.Time // When the sample was accepted
	Raw       uint16    // 0..MaxRaw
}

// Check returns ErrOutOfRange if raw exceeds maxRaw.
func Check(raw, maxRaw uint16) error {
	if raw > maxRaw {
		return fmt.Errorf("%w: %d > %d", ErrOutOfRange, raw, maxRaw)
	}
	return nil
}

// Millivolts converts a raw reading to millivolts, truncating.
func Millivolts(raw uint16, vrefMV, maxRaw int) uint16 {
	if maxRaw <= 0 {
		return 0
	}
	mv := float32(raw) * float32(vrefMV) / float32(maxRaw)
	return uint16(math32.Max(0, math32.Min(math32.Floor(mv), math.MaxUint16)))
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithPeriod sets the acquisition period.
func WithPeriod(d time.Duration) Option {
	return func(s *Sampler) { s.period = d }
}

// WithBurst sets how many reads are made per period.
func WithBurst(n int) Option {
	return func(s *Sampler) { s.burst = max(n, 1) }
}

// WithMaxRaw sets the largest accepted reading.
func WithMaxRaw(v uint16) Option {
	return func(s *Sampler) { s.maxRaw = v }
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Sampler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) { s.logger = l }
}

// Sampler reads a Sensor once per period and publishes the newest valid
// reading of each burst.
type Sampler struct {
	sensor device.Sensor
	out    handoff.Sender[Sample]

	period time.Duration
	burst  int
	maxRaw uint16
	clock  clock.Clock
	logger *slog.Logger

	seq uint64
}

// New creates a sampler publishing to out.
func New(sensor device.Sensor, out handoff.Sender[Sample], opts ...Option) *Sampler {
	s := &Sampler{
		sensor: sensor,
		out:    out,
		period: time.Second,
		burst:  1,
		maxRaw: DefaultMaxRaw,
		clock:  clock.Real,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("stage", "sampler")
	return s
}

// Run samples until ctx is done. It fails immediately, without sampling, if
// the sensor is not connected.
func (s *Sampler) Run(ctx context.Context) error {
	if err := device.Bound(s.sensor); err != nil {
		return fmt.Errorf("sampler: %w", err)
	}

	s.logger.Info("started", "period", s.period, "burst", s.burst)
	return clock.Periodic(ctx, s.clock, s.period, s.cycle)
}

func (s *Sampler) cycle(ctx context.Context) {
	var (
		latest uint16
		valid  bool
	)
	for range s.burst {
		raw, err := s.sensor.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("acquisition failed", "err", err)
			continue
		}
		if err := Check(raw, s.maxRaw); err != nil {
			s.logger.Warn("discarding reading", "err", err)
			continue
		}
		latest, valid = raw, true
	}
	if !valid {
		return
	}

	s.seq++
	smp := Sample{Seq: s.seq, Timestamp: s.clock.Now(), Raw: latest}
	if !s.out.Publish(smp) {
		s.logger.Debug("raw sample lost", "seq", smp.Seq)
	}
	s.logger.Debug("sampled", "seq", smp.Seq, "raw", smp.Raw)
}
