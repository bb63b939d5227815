package workers

import (
	"chat-relay/contract"
	"chat-relay/observability"
	"context"
	"log/slog"
	"time"
)

var _ contract.Worker = (*TelemetryWorker)(nil)

// TelemetryWorker periodically logs the relay counters, the registry state
// and how full the persistence queue is.
type TelemetryWorker struct {
	log            *slog.Logger
	metricInterval time.Duration
	monitor        *observability.Monitor
	registry       contract.IRegistry
	queue          *PersistenceQueue
}

func NewTelemetryWorker(
	log *slog.Logger,
	metricInterval time.Duration,
	monitor *observability.Monitor,
	registry contract.IRegistry,
	queue *PersistenceQueue,
) *TelemetryWorker {
	return &TelemetryWorker{
		log:            log,
		metricInterval: metricInterval,
		monitor:        monitor,
		registry:       registry,
		queue:          queue,
	}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping telemetry worker")
			return ctx.Err()
		case <-ticker.C:
			w.report(ctx)
		}
	}
}

func (w *TelemetryWorker) report(ctx context.Context) {
	snapshot := w.monitor.Snapshot()
	attrs := []any{
		"uptime", snapshot.Uptime,
		"active_sessions", snapshot.ActiveSessions,
		"frames_received", snapshot.FramesReceived,
		"malformed_frames", snapshot.MalformedFrames,
		"persisted", snapshot.Persisted,
		"persist_dropped", snapshot.PersistDropped,
		"persist_failed", snapshot.PersistFailed,
		"goroutines", snapshot.Process.Goroutines,
		"rss_bytes", snapshot.Process.RSSBytes,
		"queue_len", w.queue.Len(),
		"queue_cap", w.queue.Cap(),
	}

	statsCtx, cancel := context.WithTimeout(ctx, w.metricInterval)
	defer cancel()
	stats, err := w.registry.Stats(statsCtx)
	if err != nil {
		w.log.Warn("Registry stats unavailable", "error", err)
	} else {
		attrs = append(attrs,
			"sessions", stats.Sessions,
			"rooms", stats.Rooms,
			"dropped_deliveries", stats.DroppedDeliveries)
	}
	w.log.Info("Relay telemetry", attrs...)
}
