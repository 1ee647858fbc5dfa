package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/padhaihub/padhai-backend/internal/jobs/runtime"
	"github.com/padhaihub/padhai-backend/internal/platform/envutil"
	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/repos"
	"github.com/padhaihub/padhai-backend/internal/types"
)

// Worker claims hydration jobs and dispatches them to registered handlers.
// It registers itself in worker_lifecycle and heartbeats both its own row and
// the job it is running, so the watchdog can tell a dead process from a slow
// one.
type Worker struct {
	db        *gorm.DB
	log       *logger.Logger
	jobs      repos.HydrationJobRepo
	lifecycle repos.WorkerLifecycleRepo
	registry  *runtime.Registry

	workerID     string
	pollInterval time.Duration
	heartbeatInt time.Duration
	maxAttempts  int
	staleRunning time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	jobs repos.HydrationJobRepo,
	lifecycle repos.WorkerLifecycleRepo,
	registry *runtime.Registry,
) *Worker {
	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.New().String()[:8])
	return &Worker{
		db:           db,
		log:          baseLog.With("component", "HydrationWorker", "worker_id", workerID),
		jobs:         jobs,
		lifecycle:    lifecycle,
		registry:     registry,
		workerID:     workerID,
		pollInterval: envutil.Duration("WORKER_POLL_INTERVAL", time.Second),
		heartbeatInt: envutil.Duration("WORKER_HEARTBEAT_INTERVAL", 15*time.Second),
		maxAttempts:  envutil.Int("WORKER_MAX_ATTEMPTS", 5),
		staleRunning: envutil.Duration("WORKER_STALE_RUNNING", 2*time.Minute),
	}
}

func (w *Worker) WorkerID() string { return w.workerID }

// Start registers the lifecycle row and launches the claim loop. Returns an
// error only when registration fails; the loop itself runs until Stop or ctx
// cancellation.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil
	}

	hostname, _ := os.Hostname()
	now := time.Now()
	if _, err := w.lifecycle.Register(ctx, nil, &types.WorkerLifecycle{
		ID:              uuid.New(),
		WorkerID:        w.workerID,
		Hostname:        hostname,
		PID:             os.Getpid(),
		Status:          types.WorkerStatusRunning,
		LastHeartbeatAt: now,
		StartedAt:       now,
	}); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.stopped = make(chan struct{})
	go w.run(runCtx, w.stopped)
	w.log.Info("Worker started",
		"poll_interval", w.pollInterval.String(),
		"max_attempts", w.maxAttempts,
	)
	return nil
}

// Stop halts the claim loop, waits for the in-flight job to finish, and
// marks the lifecycle row STOPPED. Idempotent.
func (w *Worker) Stop() {
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

	ctx, cancelMark := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelMark()
	if err := w.lifecycle.MarkStopped(ctx, nil, w.workerID); err != nil {
		w.log.Warn("Mark worker stopped failed", "error", err)
	}
	w.log.Info("Worker stopped")
}

func (w *Worker) run(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	claimTicker := time.NewTicker(w.pollInterval)
	defer claimTicker.Stop()
	hbTicker := time.NewTicker(w.heartbeatInt)
	defer hbTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hbTicker.C:
			if err := w.lifecycle.Heartbeat(ctx, nil, w.workerID); err != nil && ctx.Err() == nil {
				w.log.Warn("Worker heartbeat failed", "error", err)
			}
		case <-claimTicker.C:
			job, err := w.jobs.ClaimNextRunnable(ctx, nil, w.maxAttempts, w.staleRunning)
			if err != nil {
				if ctx.Err() == nil {
					w.log.Warn("ClaimNextRunnable failed", "error", err)
				}
				continue
			}
			if job == nil {
				continue
			}
			w.execute(ctx, job)
		}
	}
}

func (w *Worker) execute(ctx context.Context, job *types.HydrationJob) {
	log := w.log.With("job_id", job.ID, "job_type", job.JobType, "hierarchy_level", int(job.HierarchyLevel))
	jc := runtime.NewContext(ctx, w.db, job, w.jobs)

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		log.Warn("No handler registered for job_type")
		jc.Fail(fmt.Errorf("no handler registered for job_type=%s", job.JobType))
		return
	}

	// heartbeat the job row while the handler runs
	hbCtx, stopHB := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(w.heartbeatInt)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				jc.Heartbeat()
			}
		}
	}()
	defer stopHB()

	start := time.Now()
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Job handler panic", "panic", r)
				runErr = fmt.Errorf("panic: %v", r)
			}
		}()
		runErr = h.Run(jc)
	}()

	if runErr != nil {
		log.Warn("Job failed", "attempts", job.Attempts, "duration", time.Since(start).String(), "error", runErr)
		jc.Fail(runErr)
		return
	}
	log.Info("Job finished", "duration", time.Since(start).String())
}
