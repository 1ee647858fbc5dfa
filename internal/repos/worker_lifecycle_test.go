package repos_test

import (
	"context"
	"testing"
	"time"

	"github.com/padhaihub/padhai-backend/internal/repos"
	"github.com/padhaihub/padhai-backend/internal/repos/testutil"
	"github.com/padhaihub/padhai-backend/internal/types"
)

func TestWorkerLifecycleRepoRegisterRevivesExistingRow(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := repos.NewWorkerLifecycleRepo(db, testutil.Logger(t))

	first := testutil.SeedWorker(t, ctx, tx, "worker-revive", types.WorkerStatusFailed)

	revived := *first
	revived.Status = types.WorkerStatusRunning
	revived.PID = 9999
	if _, err := repo.Register(ctx, tx, &revived); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	var rows []types.WorkerLifecycle
	if err := tx.WithContext(ctx).Where("worker_id = ?", "worker-revive").Find(&rows).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row per worker_id, got %d", len(rows))
	}
	if rows[0].Status != types.WorkerStatusRunning || rows[0].PID != 9999 {
		t.Fatalf("row not revived: status=%s pid=%d", rows[0].Status, rows[0].PID)
	}
}

func TestWorkerLifecycleRepoListStale(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := repos.NewWorkerLifecycleRepo(db, testutil.Logger(t))

	stale := testutil.SeedWorker(t, ctx, tx, "worker-stale", types.WorkerStatusRunning)
	old := time.Now().Add(-5 * time.Minute)
	if err := tx.WithContext(ctx).Model(&types.WorkerLifecycle{}).
		Where("worker_id = ?", stale.WorkerID).
		Update("last_heartbeat_at", old).Error; err != nil {
		t.Fatalf("age heartbeat: %v", err)
	}

	testutil.SeedWorker(t, ctx, tx, "worker-fresh", types.WorkerStatusRunning)

	// already-failed workers are not reported again
	alreadyFailed := testutil.SeedWorker(t, ctx, tx, "worker-dead", types.WorkerStatusFailed)
	if err := tx.WithContext(ctx).Model(&types.WorkerLifecycle{}).
		Where("worker_id = ?", alreadyFailed.WorkerID).
		Update("last_heartbeat_at", old).Error; err != nil {
		t.Fatalf("age dead heartbeat: %v", err)
	}

	got, err := repo.ListStale(ctx, tx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(got) != 1 || got[0].WorkerID != "worker-stale" {
		t.Fatalf("expected only worker-stale, got %d rows", len(got))
	}
}

func TestWorkerLifecycleRepoMarkFailedReturnsPreviousStatus(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := repos.NewWorkerLifecycleRepo(db, testutil.Logger(t))

	testutil.SeedWorker(t, ctx, tx, "worker-mark", types.WorkerStatusRunning)

	previous, err := repo.MarkFailed(ctx, tx, "worker-mark")
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if previous != types.WorkerStatusRunning {
		t.Fatalf("previous = %q, want RUNNING", previous)
	}

	// idempotent: second call reports FAILED and changes nothing
	previous, err = repo.MarkFailed(ctx, tx, "worker-mark")
	if err != nil {
		t.Fatalf("second mark failed: %v", err)
	}
	if previous != types.WorkerStatusFailed {
		t.Fatalf("previous = %q, want FAILED", previous)
	}
}

func TestWorkerLifecycleRepoMarkStoppedSkipsFailed(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := repos.NewWorkerLifecycleRepo(db, testutil.Logger(t))

	testutil.SeedWorker(t, ctx, tx, "worker-stop", types.WorkerStatusFailed)

	if err := repo.MarkStopped(ctx, tx, "worker-stop"); err != nil {
		t.Fatalf("mark stopped: %v", err)
	}

	var row types.WorkerLifecycle
	if err := tx.WithContext(ctx).Where("worker_id = ?", "worker-stop").First(&row).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if row.Status != types.WorkerStatusFailed {
		t.Fatalf("status = %q, a failed worker must stay failed", row.Status)
	}
}
