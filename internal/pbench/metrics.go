package pbench

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/procfs"
	"github.com/shirou/gopsutil/process"
)

// MemorySampler reports the process-wide peak resident set size in bytes.
type MemorySampler interface {
	PeakRSS() (uint64, error)
}

// MemorySamplerFunc adapts a plain function to MemorySampler.
type MemorySamplerFunc func() (uint64, error)

func (f MemorySamplerFunc) PeakRSS() (uint64, error) {
	return f()
}

type processSampler struct {
	pid int
}

// NewProcessSampler samples the current process. The peak comes from VmHWM
// in /proc/<pid>/status; where procfs is unavailable the current RSS from
// gopsutil is reported instead.
func NewProcessSampler() MemorySampler {
	return &processSampler{pid: os.Getpid()}
}

func (s *processSampler) PeakRSS() (uint64, error) {
	if p, err := procfs.NewProc(s.pid); err == nil {
		if status, err := p.NewStatus(); err == nil && status.VmHWM > 0 {
			return status.VmHWM, nil
		}
	}
	return s.currentRSS()
}

// currentRSS uses a fresh gopsutil handle per call so concurrent callers
// never share its cached fields.
func (s *processSampler) currentRSS() (uint64, error) {
	p, err := process.NewProcess(int32(s.pid))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrResourceSample, err)
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrResourceSample, err)
	}
	return mem.RSS, nil
}

// MetricsCollector stamps calls and turns a start/end window into
// ProcessingMetrics.
//
// Memory is a process-wide sample taken at collection time, not the memory
// used by the call itself. CPU usage is not measured and is always reported
// as 0.
type MetricsCollector struct {
	memory MemorySampler
	clock  func() time.Time
}

type CollectorOption func(*MetricsCollector)

func WithMemorySampler(s MemorySampler) CollectorOption {
	return func(m *MetricsCollector) {
		m.memory = s
	}
}

func WithClock(clock func() time.Time) CollectorOption {
	return func(m *MetricsCollector) {
		m.clock = clock
	}
}

func NewMetricsCollector(opts ...CollectorOption) *MetricsCollector {
	m := &MetricsCollector{
		memory: NewProcessSampler(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MetricsCollector) Now() time.Time {
	return m.clock()
}

func (m *MetricsCollector) Timestamp() Timestamp {
	return NewTimestamp(m.clock())
}

func (m *MetricsCollector) Collect(start, end time.Time) ProcessingMetrics {
	elapsed := end.Sub(start).Microseconds()
	if elapsed < 0 {
		elapsed = 0
	}

	var memory uint64
	if m.memory != nil {
		if v, err := m.memory.PeakRSS(); err == nil {
			memory = v
		}
	}

	return ProcessingMetrics{
		ProcessingTimeUs: elapsed,
		MemoryUsedBytes:  memory,
		CPUUsage:         0,
	}
}
