package monitor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/itohio/lumen/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func status(seq uint64, at time.Time, filtered int) pipeline.Status {
	return pipeline.Status{
		Seq:       seq,
		Timestamp: at,
		Filtered:  filtered,
		Period:    100 * time.Millisecond,
		Pulse:     time.Duration(filtered) * time.Millisecond / 10,
	}
}

func TestNew(t *testing.T) {
	m := New(0)
	assert.Equal(t, time.Minute, m.window)
	assert.Empty(t, m.Statuses())
	assert.Equal(t, Summary{}, m.Summary())
}

func TestRecord_WindowRemoval(t *testing.T) {
	m := New(time.Second)
	now := time.Now()

	m.Record(status(1, now, 10))
	m.Record(status(2, now.Add(600*time.Millisecond), 20))
	m.Record(status(3, now.Add(1500*time.Millisecond), 30))

	// The first record is more than a window older than the newest.
	got := m.Statuses()
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].Seq)
	assert.Equal(t, uint64(3), got[1].Seq)

	// A record exactly one window old is dropped.
	m.Record(status(4, now.Add(2500*time.Millisecond), 40))
	got = m.Statuses()
	require.Len(t, got, 1)
	assert.Equal(t, uint64(4), got[0].Seq)
}

func TestSummary(t *testing.T) {
	m := New(time.Minute)
	now := time.Now()

	m.Record(status(1, now, 100))
	failed := status(2, now.Add(time.Second), 300)
	failed.Err = errors.New("pwm busy")
	m.Record(failed)
	m.Record(status(3, now.Add(2*time.Second), 500))

	sum := m.Summary()
	assert.Equal(t, 3, sum.Count)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, uint64(3), sum.Latest.Seq)
	assert.InDelta(t, 300.0, sum.MeanFiltered, 1e-9)
	assert.InDelta(t, 30.0, sum.MeanDuty, 1e-9)
	assert.Equal(t, 2*time.Second, sum.Span)
}

func TestOnUpdate_ReceivesCopies(t *testing.T) {
	m := New(time.Minute)

	var received []pipeline.Status
	m.OnUpdate(func(statuses []pipeline.Status) {
		received = statuses
	})

	m.Record(status(1, time.Now(), 10))
	require.Len(t, received, 1)

	received[0].Seq = 99
	assert.Equal(t, uint64(1), m.Statuses()[0].Seq)
}

func TestStatuses_ThreadSafe(t *testing.T) {
	m := New(time.Minute)
	now := time.Now()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 100 {
			m.Record(status(uint64(i+1), now.Add(time.Duration(i)*time.Millisecond), i))
		}
	}()
	go func() {
		defer wg.Done()
		for range 100 {
			_ = m.Statuses()
			_ = m.Summary()
		}
	}()
	wg.Wait()

	assert.Len(t, m.Statuses(), 100)
}

func TestProcessStatus_GracefulShutdown(t *testing.T) {
	m := New(time.Minute)

	var (
		mu    sync.Mutex
		count int
	)
	m.OnUpdate(func([]pipeline.Status) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	input := make(chan pipeline.Status, 10)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.ProcessStatus(input)
	}()

	now := time.Now()
	for i := range 3 {
		input <- status(uint64(i+1), now.Add(time.Duration(i)*time.Second), i)
	}
	close(input)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessStatus did not finish within timeout")
	}

	mu.Lock()
	assert.Equal(t, 3, count)
	mu.Unlock()

	// No callbacks after the input closed.
	m.Record(status(4, now.Add(3*time.Second), 4))
	mu.Lock()
	assert.Equal(t, 3, count)
	mu.Unlock()
	assert.Len(t, m.Statuses(), 4)

	// ResetShutdown allows them again.
	m.ResetShutdown()
	m.Record(status(5, now.Add(4*time.Second), 5))
	mu.Lock()
	assert.Equal(t, 4, count)
	mu.Unlock()
}
