package monitor

import (
	"sync"
	"time"

	"github.com/itohio/lumen/pkg/pipeline"
)

var _ StatusMonitor = (*Monitor)(nil)

// Summary aggregates the statuses currently inside the window.
type Summary struct {
	Count        int             // Number of statuses in the window
	Errors       int             // Statuses whose actuation failed
	Latest       pipeline.Status // Most recent status (zero if Count == 0)
	MeanFiltered float64         // Mean filtered value
	MeanDuty     float64         // Mean duty cycle in percent
	Span         time.Duration   // Time between the oldest and newest status
}

// StatusMonitor keeps a time window of pipeline statuses.
type StatusMonitor interface {
	ProcessStatus(input <-chan pipeline.Status)
	Record(s pipeline.Status)
	Statuses() []pipeline.Status               // Statuses in the window, oldest first
	Summary() Summary                          // Aggregate over the window
	OnUpdate(func(statuses []pipeline.Status)) // Register callback for updates
}

// Monitor implements StatusMonitor.
// Statuses are kept in a FIFO ordered oldest first. Removal is based on
// timestamp (time window), not on the number of records.
type Monitor struct {
	window time.Duration

	statuses []pipeline.Status
	mu       sync.RWMutex

	callbacks []func(statuses []pipeline.Status)
	cbMu      sync.RWMutex

	// Set when the input channel closes, prevents further callbacks.
	shutdown bool
}

// New creates a monitor keeping statuses for the given window.
func New(window time.Duration) *Monitor {
	if window <= 0 {
		window = time.Minute
	}
	return &Monitor{
		window:   window,
		statuses: make([]pipeline.Status, 0),
	}
}

// ProcessStatus records statuses from the input channel until it closes.
// When it closes, the shutdown flag is set to prevent further callbacks.
func (m *Monitor) ProcessStatus(input <-chan pipeline.Status) {
	for s := range input {
		m.Record(s)
	}
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()
}

// Record adds one status and trims the window.
func (m *Monitor) Record(s pipeline.Status) {
	m.mu.Lock()

	m.statuses = append(m.statuses, s)

	// Drop everything at or before the cutoff. The newest status defines the
	// window end, so late-arriving timestamps never evict newer records.
	cutoff := s.Timestamp.Add(-m.window)
	drop := 0
	for drop < len(m.statuses) && !m.statuses[drop].Timestamp.After(cutoff) {
		drop++
	}
	if drop > 0 {
		m.statuses = append(m.statuses[:0], m.statuses[drop:]...)
	}

	shouldNotify := !m.shutdown
	m.mu.Unlock()

	if shouldNotify {
		m.notifyCallbacks()
	}
}

// Statuses returns a copy of the statuses in the window.
func (m *Monitor) Statuses() []pipeline.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]pipeline.Status, len(m.statuses))
	copy(result, m.statuses)
	return result
}

// Summary aggregates the current window.
func (m *Monitor) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum Summary
	sum.Count = len(m.statuses)
	if sum.Count == 0 {
		return sum
	}

	var filtered, duty float64
	for _, s := range m.statuses {
		if s.Err != nil {
			sum.Errors++
		}
		filtered += float64(s.Filtered)
		duty += s.Duty()
	}
	sum.MeanFiltered = filtered / float64(sum.Count)
	sum.MeanDuty = duty / float64(sum.Count)
	sum.Latest = m.statuses[sum.Count-1]
	sum.Span = sum.Latest.Timestamp.Sub(m.statuses[0].Timestamp)
	return sum
}

// OnUpdate registers a callback called after every recorded status.
// The callback receives a copy of the window and should return quickly.
func (m *Monitor) OnUpdate(callback func(statuses []pipeline.Status)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// ResetShutdown allows callbacks again. Call it before feeding a new channel.
func (m *Monitor) ResetShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = false
}

// notifyCallbacks invokes all registered callbacks with a copy of the window.
// Callbacks run without any lock held.
func (m *Monitor) notifyCallbacks() {
	statuses := m.Statuses()

	m.cbMu.RLock()
	callbacks := make([]func(statuses []pipeline.Status), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(statuses)
		}
	}
}
