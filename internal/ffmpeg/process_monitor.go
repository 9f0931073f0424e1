// Package ffmpeg monitors the resource usage of a running ffmpeg child
// process while an encodetask.Base.run invocation is in flight.
package ffmpeg

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats is a point-in-time resource usage snapshot for a monitored
// ffmpeg process.
type ProcessStats struct {
	PID int

	CPUPercent float64
	CPUTotal   time.Duration

	MemoryRSSBytes uint64
	MemoryPercent  float64

	BytesWritten uint64
	WriteRateBps float64

	StartedAt   time.Time
	Duration    time.Duration
	LastUpdated time.Time
}

// ProcessMonitor samples a PID's CPU/memory usage on an interval via
// gopsutil, mirroring EncoderTask's bandwidth/CPU accounting in the
// reference implementation but sourced from the OS instead of hand-parsed
// /proc files.
type ProcessMonitor struct {
	pid       int
	startedAt time.Time
	interval  time.Duration

	mu    sync.RWMutex
	stats ProcessStats

	bytesWritten     atomic.Uint64
	lastBytesWritten uint64
	lastBytesCheck   time.Time

	totalMemory uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessMonitor creates a monitor for pid. Call Start to begin sampling.
func NewProcessMonitor(pid int) *ProcessMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	pm := &ProcessMonitor{
		pid:       pid,
		startedAt: time.Now(),
		interval:  time.Second,
		ctx:       ctx,
		cancel:    cancel,
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		pm.totalMemory = vm.Total
	}

	return pm
}

// Start begins the sampling loop in a background goroutine.
func (pm *ProcessMonitor) Start() {
	pm.mu.Lock()
	pm.lastBytesCheck = time.Now()
	pm.mu.Unlock()

	pm.wg.Add(1)
	go pm.monitorLoop()
}

// Stop halts sampling and waits for the background goroutine to exit.
func (pm *ProcessMonitor) Stop() {
	pm.cancel()
	pm.wg.Wait()
}

// Stats returns the most recent snapshot.
func (pm *ProcessMonitor) Stats() ProcessStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	stats := pm.stats
	stats.BytesWritten = pm.bytesWritten.Load()
	return stats
}

// AddBytesWritten accumulates output bytes, fed by a CountingWriter wrapping
// the process's output file.
func (pm *ProcessMonitor) AddBytesWritten(n uint64) {
	pm.bytesWritten.Add(n)
}

func (pm *ProcessMonitor) monitorLoop() {
	defer pm.wg.Done()

	proc, err := process.NewProcess(int32(pm.pid))
	if err != nil {
		return // process may already have exited
	}

	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()

	pm.sample(proc)
	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			pm.sample(proc)
		}
	}
}

func (pm *ProcessMonitor) sample(proc *process.Process) {
	now := time.Now()

	cpuPct, _ := proc.CPUPercentWithContext(pm.ctx)
	times, _ := proc.TimesWithContext(pm.ctx)
	memInfo, _ := proc.MemoryInfoWithContext(pm.ctx)

	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.stats.PID = pm.pid
	pm.stats.StartedAt = pm.startedAt
	pm.stats.Duration = now.Sub(pm.startedAt)
	pm.stats.LastUpdated = now
	pm.stats.CPUPercent = cpuPct
	if times != nil {
		pm.stats.CPUTotal = time.Duration((times.User + times.System) * float64(time.Second))
	}
	if memInfo != nil {
		pm.stats.MemoryRSSBytes = memInfo.RSS
		if pm.totalMemory > 0 {
			pm.stats.MemoryPercent = float64(memInfo.RSS) / float64(pm.totalMemory) * 100.0
		}
	}

	currentBytes := pm.bytesWritten.Load()
	if elapsed := now.Sub(pm.lastBytesCheck); elapsed > 0 {
		pm.stats.WriteRateBps = float64(currentBytes-pm.lastBytesWritten) / elapsed.Seconds()
	}
	pm.stats.BytesWritten = currentBytes
	pm.lastBytesWritten = currentBytes
	pm.lastBytesCheck = now
}

// SystemLoad reports the host's current CPU utilization percentage. The
// scheduler's admission does not consult it.
// Returns 0 when unavailable (e.g. unsupported platform).
func SystemLoad(ctx context.Context) float64 {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(pct) == 0 {
		return 0
	}
	return pct[0]
}

// CountingWriter wraps a Writer and reports bytes written to a monitor, for
// tracking encode output bandwidth without the monitor parsing filesystem
// state itself.
type CountingWriter struct {
	w       Writer
	monitor *ProcessMonitor
}

// Writer is the subset of io.Writer CountingWriter needs.
type Writer interface {
	Write(p []byte) (n int, err error)
}

// NewCountingWriter wraps w, reporting every write to monitor.
func NewCountingWriter(w Writer, monitor *ProcessMonitor) *CountingWriter {
	return &CountingWriter{w: w, monitor: monitor}
}

func (cw *CountingWriter) Write(p []byte) (n int, err error) {
	n, err = cw.w.Write(p)
	if n > 0 && cw.monitor != nil {
		cw.monitor.AddBytesWritten(uint64(n))
	}
	return n, err
}
