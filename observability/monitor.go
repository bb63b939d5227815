package observability

import (
	"log/slog"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/process"
)

// ProcessStats is a point-in-time view of the relay process.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	Status     string  `json:"status"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Goroutines int     `json:"goroutines"`
}

// RelayStats aggregates counters for /stats and the telemetry worker.
type RelayStats struct {
	Uptime            string       `json:"uptime"`
	ActiveSessions    int64        `json:"active_sessions"`
	FramesReceived    uint64       `json:"frames_received"`
	MalformedFrames   uint64       `json:"malformed_frames"`
	RateLimited       uint64       `json:"rate_limited"`
	HeartbeatTimeouts uint64       `json:"heartbeat_timeouts"`
	Persisted         uint64       `json:"persisted"`
	PersistDropped    uint64       `json:"persist_dropped"`
	PersistFailed     uint64       `json:"persist_failed"`
	Process           ProcessStats `json:"process"`
}

// Monitor holds the relay counters. Every method is safe for concurrent use
// and a nil *Monitor is a no-op, so components can run without one.
type Monitor struct {
	log       *slog.Logger
	startedAt time.Time
	proc      *process.Process

	activeSessions    atomic.Int64
	framesReceived    atomic.Uint64
	malformedFrames   atomic.Uint64
	rateLimited       atomic.Uint64
	heartbeatTimeouts atomic.Uint64
	persisted         atomic.Uint64
	persistDropped    atomic.Uint64
	persistFailed     atomic.Uint64
}

func NewMonitor(log *slog.Logger) *Monitor {
	m := &Monitor{log: log, startedAt: time.Now()}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("Process stats unavailable", "error", err)
	} else {
		m.proc = p
	}
	return m
}

func (m *Monitor) SessionOpened() {
	if m != nil {
		m.activeSessions.Add(1)
	}
}

func (m *Monitor) SessionClosed() {
	if m != nil {
		m.activeSessions.Add(-1)
	}
}

func (m *Monitor) FrameReceived() {
	if m != nil {
		m.framesReceived.Add(1)
	}
}

func (m *Monitor) MalformedFrame() {
	if m != nil {
		m.malformedFrames.Add(1)
	}
}

func (m *Monitor) RateLimited() {
	if m != nil {
		m.rateLimited.Add(1)
	}
}

func (m *Monitor) HeartbeatTimeout() {
	if m != nil {
		m.heartbeatTimeouts.Add(1)
	}
}

func (m *Monitor) Persisted() {
	if m != nil {
		m.persisted.Add(1)
	}
}

func (m *Monitor) PersistDropped() {
	if m != nil {
		m.persistDropped.Add(1)
	}
}

func (m *Monitor) PersistFailed() {
	if m != nil {
		m.persistFailed.Add(1)
	}
}

func (m *Monitor) Snapshot() RelayStats {
	if m == nil {
		return RelayStats{}
	}
	return RelayStats{
		Uptime:            time.Since(m.startedAt).Round(time.Second).String(),
		ActiveSessions:    m.activeSessions.Load(),
		FramesReceived:    m.framesReceived.Load(),
		MalformedFrames:   m.malformedFrames.Load(),
		RateLimited:       m.rateLimited.Load(),
		HeartbeatTimeouts: m.heartbeatTimeouts.Load(),
		Persisted:         m.persisted.Load(),
		PersistDropped:    m.persistDropped.Load(),
		PersistFailed:     m.persistFailed.Load(),
		Process:           m.processStats(),
	}
}

// processStats retrieves memory, CPU and OS status for the relay process.
func (m *Monitor) processStats() ProcessStats {
	stats := ProcessStats{PID: int32(os.Getpid()), Goroutines: runtime.NumGoroutine()}
	if m.proc == nil {
		return stats
	}
	if memInfo, err := m.proc.MemoryInfo(); err == nil {
		stats.RSSBytes = memInfo.RSS
	} else {
		m.log.Debug("Error while finding process ram usage", "error", err)
	}
	if cpu, err := m.proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	} else {
		m.log.Debug("Error while finding process cpu usage", "error", err)
	}
	if status, err := m.proc.Status(); err == nil {
		stats.Status = status
	} else {
		m.log.Debug("Error while finding process status", "error", err)
	}
	return stats
}
