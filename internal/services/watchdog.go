package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/padhaihub/padhai-backend/internal/alerting"
	"github.com/padhaihub/padhai-backend/internal/platform/envutil"
	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/repos"
	"github.com/padhaihub/padhai-backend/internal/types"
)

// WatchdogStats summarizes one sweep.
type WatchdogStats struct {
	Scanned int
	Failed  int
	Errors  int
}

// Watchdog marks workers whose heartbeat has gone stale as FAILED and raises
// an alert for each one. Their in-flight jobs are not touched here: the job
// claim query re-runs stale running jobs on its own.
type Watchdog struct {
	db       *gorm.DB
	log      *logger.Logger
	workers  repos.WorkerLifecycleRepo
	audit    repos.AuditLogRepo
	notifier alerting.Notifier

	interval  time.Duration
	threshold time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewWatchdog(
	db *gorm.DB,
	baseLog *logger.Logger,
	workers repos.WorkerLifecycleRepo,
	audit repos.AuditLogRepo,
	notifier alerting.Notifier,
) *Watchdog {
	if notifier == nil {
		notifier = alerting.NopNotifier{}
	}
	return &Watchdog{
		db:        db,
		log:       baseLog.With("service", "Watchdog"),
		workers:   workers,
		audit:     audit,
		notifier:  notifier,
		interval:  envutil.Duration("WATCHDOG_INTERVAL", 30*time.Second),
		threshold: envutil.Duration("WATCHDOG_STALE_THRESHOLD", 60*time.Second),
	}
}

// Start launches the periodic sweep. Calling Start on a running watchdog is a
// no-op.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.stopped = make(chan struct{})
	go w.run(runCtx, w.stopped)
	w.log.Info("Watchdog started", "interval", w.interval.String(), "threshold", w.threshold.String())
}

// Stop halts the sweep loop and waits for the in-flight sweep to finish.
// Idempotent.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	stopped := w.stopped
	w.cancel = nil
	w.stopped = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	w.log.Info("Watchdog stopped")
}

func (w *Watchdog) run(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.CheckOnce(ctx); err != nil && ctx.Err() == nil {
				w.log.Error("Watchdog sweep failed", "error", err)
			}
		}
	}
}

// CheckOnce performs a single staleness sweep. Failures on one worker row do
// not stop the rest of the sweep.
func (w *Watchdog) CheckOnce(ctx context.Context) (WatchdogStats, error) {
	var stats WatchdogStats
	cutoff := time.Now().Add(-w.threshold)
	stale, err := w.workers.ListStale(ctx, nil, cutoff)
	if err != nil {
		return stats, fmt.Errorf("list stale workers: %w", err)
	}
	stats.Scanned = len(stale)
	for _, worker := range stale {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if err := w.failWorker(ctx, worker); err != nil {
			stats.Errors++
			w.log.Error("Mark worker failed errored", "worker_id", worker.WorkerID, "error", err)
			continue
		}
		stats.Failed++
	}
	return stats, nil
}

func (w *Watchdog) failWorker(ctx context.Context, worker *types.WorkerLifecycle) error {
	previous, err := w.workers.MarkFailed(ctx, nil, worker.WorkerID)
	if err != nil {
		return err
	}
	if previous == types.WorkerStatusFailed {
		// another watchdog instance got there first
		return nil
	}
	w.log.Warn("Worker heartbeat stale, marked failed",
		"worker_id", worker.WorkerID,
		"hostname", worker.Hostname,
		"previous_status", previous,
		"last_heartbeat_at", worker.LastHeartbeatAt,
	)
	if err := w.audit.Append(ctx, nil, "watchdog", "worker.marked_failed", "worker_lifecycle", worker.WorkerID, map[string]any{
		"hostname":          worker.Hostname,
		"pid":               worker.PID,
		"previous_status":   previous,
		"last_heartbeat_at": worker.LastHeartbeatAt,
	}); err != nil {
		w.log.Warn("Audit append failed", "worker_id", worker.WorkerID, "error", err)
	}
	w.notifier.Notify(ctx, alerting.Alert{
		Title:    "Hydration worker unresponsive",
		Message:  fmt.Sprintf("worker %s on %s missed heartbeats for over %s and was marked failed", worker.WorkerID, worker.Hostname, w.threshold),
		Severity: alerting.SeverityCritical,
		Source:   "watchdog",
		Labels: map[string]string{
			"worker_id": worker.WorkerID,
			"hostname":  worker.Hostname,
		},
	})
	return nil
}
