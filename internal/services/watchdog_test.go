package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/padhaihub/padhai-backend/internal/alerting"
	"github.com/padhaihub/padhai-backend/internal/repos"
	"github.com/padhaihub/padhai-backend/internal/repos/testutil"
	"github.com/padhaihub/padhai-backend/internal/services"
	"github.com/padhaihub/padhai-backend/internal/types"
)

type captureNotifier struct {
	mu     sync.Mutex
	alerts []alerting.Alert
}

func (c *captureNotifier) Notify(_ context.Context, a alerting.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
}

func (c *captureNotifier) all() []alerting.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]alerting.Alert(nil), c.alerts...)
}

func TestWatchdogMarksStaleWorkersFailed(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	workers := repos.NewWorkerLifecycleRepo(tx, log)
	audit := repos.NewAuditLogRepo(tx, log)
	notifier := &captureNotifier{}

	stale := testutil.SeedWorker(t, ctx, tx, "wd-stale", types.WorkerStatusRunning)
	old := time.Now().Add(-10 * time.Minute)
	if err := tx.WithContext(ctx).Model(&types.WorkerLifecycle{}).
		Where("worker_id = ?", stale.WorkerID).
		Update("last_heartbeat_at", old).Error; err != nil {
		t.Fatalf("age heartbeat: %v", err)
	}
	testutil.SeedWorker(t, ctx, tx, "wd-fresh", types.WorkerStatusRunning)

	wd := services.NewWatchdog(tx, log, workers, audit, notifier)
	stats, err := wd.CheckOnce(ctx)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if stats.Scanned != 1 || stats.Failed != 1 {
		t.Fatalf("stats = %+v, want one stale worker failed", stats)
	}

	var row types.WorkerLifecycle
	if err := tx.WithContext(ctx).Where("worker_id = ?", "wd-stale").First(&row).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if row.Status != types.WorkerStatusFailed {
		t.Fatalf("status = %q, want FAILED", row.Status)
	}

	alerts := notifier.all()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Severity != alerting.SeverityCritical {
		t.Fatalf("alert severity = %q, want critical", alerts[0].Severity)
	}
	if alerts[0].Labels["worker_id"] != "wd-stale" {
		t.Fatalf("alert labels = %v", alerts[0].Labels)
	}

	var audits int64
	if err := tx.WithContext(ctx).Model(&types.AuditLog{}).
		Where("action = ? AND entity_id = ?", "worker.marked_failed", "wd-stale").
		Count(&audits).Error; err != nil {
		t.Fatalf("count audits: %v", err)
	}
	if audits != 1 {
		t.Fatalf("audit rows = %d, want 1", audits)
	}

	// already-failed workers are not re-alerted
	stats, err = wd.CheckOnce(ctx)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if stats.Scanned != 0 {
		t.Fatalf("second check scanned %d, want 0", stats.Scanned)
	}
	if len(notifier.all()) != 1 {
		t.Fatal("second check must not raise another alert")
	}
}

func TestWatchdogStartStopIdempotent(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	workers := repos.NewWorkerLifecycleRepo(tx, log)
	audit := repos.NewAuditLogRepo(tx, log)

	wd := services.NewWatchdog(tx, log, workers, audit, nil)
	wd.Start(ctx)
	wd.Start(ctx) // no-op
	wd.Stop()
	wd.Stop() // no-op
}
