// Package vitals samples process and host-level telemetry for the monitor
// ingester kind (spec §4.3: "per-process vitals (CPU %, RSS, disk I/O
// rate)"). It replaces the teacher's hand-rolled runtime/syscall sampling
// (internal/sysmetrics) with github.com/shirou/gopsutil/v4, which exposes
// the same CPU-percent-since-last-call and RSS shape across platforms
// without reaching into syscall.Rusage directly.
package vitals

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/process"
)

// Sample is one snapshot of process vitals, attached to a monitor row.
type Sample struct {
	CPUPercent   float64
	RSSBytes     uint64
	DiskReadRate float64 // bytes since the previous sample, not divided by elapsed time
	DiskWriteRate float64
}

// Sampler tracks the deltas gopsutil needs to compute rates between calls.
// One Sampler is created per process at startup; Snapshot is safe for
// concurrent use by multiple monitor ingesters sharing the same process.
type Sampler struct {
	mu   sync.Mutex
	proc *process.Process

	lastReadBytes  uint64
	lastWriteBytes uint64
	haveIO         bool
}

// NewSampler opens a gopsutil handle on the current process.
func NewSampler() (*Sampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("vitals: open process handle: %w", err)
	}
	return &Sampler{proc: p}, nil
}

// Snapshot returns a Sample describing the process's current resource use.
// CPUPercent and the disk rates are measured since the previous Snapshot
// call (or since process start, for the first call) — callers should call
// it once per monitor tick, not more often than that.
func (s *Sampler) Snapshot(ctx context.Context) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cpuPct, err := s.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return Sample{}, fmt.Errorf("vitals: cpu percent: %w", err)
	}

	mem, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("vitals: memory info: %w", err)
	}

	sample := Sample{CPUPercent: cpuPct, RSSBytes: mem.RSS}

	io, err := s.proc.IOCountersWithContext(ctx)
	if err == nil && io != nil {
		if s.haveIO {
			sample.DiskReadRate = float64(io.ReadBytes - s.lastReadBytes)
			sample.DiskWriteRate = float64(io.WriteBytes - s.lastWriteBytes)
		}
		s.lastReadBytes = io.ReadBytes
		s.lastWriteBytes = io.WriteBytes
		s.haveIO = true
	}

	return sample, nil
}

// HostDiskUsage reports overall disk usage for the given mount point. The
// monitor loader does not call it.
func HostDiskUsage(ctx context.Context, path string) (*disk.UsageStat, error) {
	return disk.UsageWithContext(ctx, path)
}
