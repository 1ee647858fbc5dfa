package runtime_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/padhaihub/padhai-backend/internal/jobs/runtime"
	"github.com/padhaihub/padhai-backend/internal/repos"
	"github.com/padhaihub/padhai-backend/internal/repos/testutil"
	"github.com/padhaihub/padhai-backend/internal/types"
)

func seedRunningJob(t *testing.T, ctx context.Context, jobs repos.HydrationJobRepo, subjectID uuid.UUID, payload string) *types.HydrationJob {
	t.Helper()
	id := uuid.New()
	job := &types.HydrationJob{
		ID:             id,
		RootJobID:      id,
		HierarchyLevel: types.LevelTopicNotes,
		JobType:        types.JobTypeNotes,
		Status:         types.JobStatusRunning,
		SubjectID:      subjectID,
		Language:       "en",
		Payload:        datatypes.JSON([]byte(payload)),
	}
	if _, err := jobs.Create(ctx, nil, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func TestContextPayloadDecoding(t *testing.T) {
	topicID := uuid.New()
	job := &types.HydrationJob{
		ID:      uuid.New(),
		Payload: datatypes.JSON([]byte(`{"topic_id":"` + topicID.String() + `","difficulty":"hard"}`)),
	}
	jc := runtime.NewContext(context.Background(), nil, job, nil)

	got, ok := jc.PayloadUUID("topic_id")
	if !ok || got != topicID {
		t.Fatalf("PayloadUUID = %v %v", got, ok)
	}
	if _, ok := jc.PayloadUUID("missing"); ok {
		t.Fatal("missing key must report false")
	}
	if _, ok := jc.PayloadUUID("difficulty"); ok {
		t.Fatal("non-uuid value must report false")
	}

	// malformed payloads decay to an empty map instead of failing the run
	broken := runtime.NewContext(context.Background(), nil, &types.HydrationJob{
		ID:      uuid.New(),
		Payload: datatypes.JSON([]byte(`{not json`)),
	}, nil)
	if len(broken.Payload()) != 0 {
		t.Fatalf("payload = %v, want empty", broken.Payload())
	}
}

func TestContextCompletePersistsResult(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	jobs := repos.NewHydrationJobRepo(tx, testutil.Logger(t))
	subject := testutil.SeedSubject(t, ctx, tx, "CBSE", "10", "Mathematics")

	job := seedRunningJob(t, ctx, jobs, subject.ID, `{}`)
	jc := runtime.NewContext(ctx, tx, job, jobs)

	if err := jc.Complete(map[string]any{"note_id": "abc"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	reloaded, err := jobs.GetByID(ctx, nil, job.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != types.JobStatusCompleted {
		t.Fatalf("status = %q, want completed", reloaded.Status)
	}
	if reloaded.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	if reloaded.LockedAt != nil || reloaded.HeartbeatAt != nil {
		t.Fatal("lock columns must be cleared")
	}
	if len(reloaded.Result) == 0 {
		t.Fatal("result payload not stored")
	}
	// the in-memory job mirrors the row
	if job.Status != types.JobStatusCompleted {
		t.Fatal("in-memory job not synced")
	}
}

func TestContextFailRecordsError(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	jobs := repos.NewHydrationJobRepo(tx, testutil.Logger(t))
	subject := testutil.SeedSubject(t, ctx, tx, "CBSE", "10", "Physics")

	job := seedRunningJob(t, ctx, jobs, subject.ID, `{}`)
	jc := runtime.NewContext(ctx, tx, job, jobs)

	jc.Fail(errors.New("model unavailable"))

	reloaded, err := jobs.GetByID(ctx, nil, job.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != types.JobStatusFailed {
		t.Fatalf("status = %q, want failed", reloaded.Status)
	}
	if reloaded.Error != "model unavailable" {
		t.Fatalf("error = %q", reloaded.Error)
	}
	if reloaded.LastErrorAt == nil {
		t.Fatal("last_error_at not set")
	}
}

func TestContextWritesLoseToCancellation(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	jobs := repos.NewHydrationJobRepo(tx, testutil.Logger(t))
	subject := testutil.SeedSubject(t, ctx, tx, "CBSE", "10", "Chemistry")

	job := seedRunningJob(t, ctx, jobs, subject.ID, `{}`)
	jc := runtime.NewContext(ctx, tx, job, jobs)

	// operator cancels while the worker is mid-run
	if err := jobs.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
		"status": types.JobStatusCancelled,
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if err := jc.Complete(nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	reloaded, err := jobs.GetByID(ctx, nil, job.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != types.JobStatusCancelled {
		t.Fatalf("status = %q, cancellation must win", reloaded.Status)
	}
}
