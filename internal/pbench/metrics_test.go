package pbench

import (
	"errors"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock advances by step on every reading.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock(step time.Duration) *stepClock {
	return &stepClock{now: time.Unix(1700000000, 0), step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func fixedMemory(n uint64) MemorySampler {
	return MemorySamplerFunc(func() (uint64, error) { return n, nil })
}

func newTestCollector() *MetricsCollector {
	return NewMetricsCollector(
		WithClock(newStepClock(10*time.Microsecond).Now),
		WithMemorySampler(fixedMemory(4096)),
	)
}

func TestCollect(t *testing.T) {
	m := NewMetricsCollector(WithMemorySampler(fixedMemory(1 << 20)))
	start := time.Now()

	got := m.Collect(start, start.Add(1500*time.Microsecond))
	assert.Equal(t, int64(1500), got.ProcessingTimeUs)
	assert.Equal(t, uint64(1<<20), got.MemoryUsedBytes)
	assert.Zero(t, got.CPUUsage)
	assert.Equal(t, 1500*time.Microsecond, got.ProcessingTime())
}

func TestCollectClampsNegativeWindow(t *testing.T) {
	m := NewMetricsCollector(WithMemorySampler(fixedMemory(1)))
	start := time.Now()

	got := m.Collect(start, start.Add(-time.Second))
	assert.Zero(t, got.ProcessingTimeUs)
}

func TestCollectSamplerFailure(t *testing.T) {
	failing := MemorySamplerFunc(func() (uint64, error) {
		return 0, errors.New("procfs unavailable")
	})
	m := NewMetricsCollector(WithMemorySampler(failing))
	start := time.Now()

	got := m.Collect(start, start.Add(time.Millisecond))
	assert.Zero(t, got.MemoryUsedBytes)
	assert.Equal(t, int64(1000), got.ProcessingTimeUs)
}

func TestProcessSampler(t *testing.T) {
	rss, err := NewProcessSampler().PeakRSS()
	if err != nil {
		require.ErrorIs(t, err, ErrResourceSample)
		t.Skipf("process sampling unavailable: %v", err)
	}
	assert.Positive(t, rss)
}

var ballast []byte

func TestProcessSamplerKeepsPeakAfterRelease(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("peak RSS is read from procfs")
	}
	const size = 64 << 20
	s := &processSampler{pid: os.Getpid()}

	ballast = make([]byte, size)
	for i := 0; i < len(ballast); i += os.Getpagesize() {
		ballast[i] = 1
	}
	ballast = nil
	runtime.GC()
	debug.FreeOSMemory()

	peak, err := s.PeakRSS()
	require.NoError(t, err)
	current, err := s.currentRSS()
	require.NoError(t, err)

	assert.GreaterOrEqual(t, peak, uint64(size))
	assert.GreaterOrEqual(t, peak, current)
}

func TestTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 123456789)
	ts := NewTimestamp(now)

	assert.Equal(t, int64(1700000000), ts.Seconds)
	assert.Equal(t, int32(123456789), ts.Nanos)
	assert.True(t, ts.Time().Equal(now))
	assert.False(t, ts.IsZero())
	assert.True(t, Timestamp{}.IsZero())

	later := NewTimestamp(now.Add(time.Nanosecond))
	assert.True(t, ts.Before(later))
	assert.False(t, later.Before(ts))
	assert.False(t, ts.Before(ts))
}
