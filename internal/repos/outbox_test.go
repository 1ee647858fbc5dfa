package repos_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/padhaihub/padhai-backend/internal/repos"
	"github.com/padhaihub/padhai-backend/internal/repos/testutil"
	"github.com/padhaihub/padhai-backend/internal/types"
)

func TestOutboxRepoClaimAndMarkDispatched(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := repos.NewOutboxRepo(db, testutil.Logger(t))

	msg := &types.OutboxMessage{
		ID:      uuid.New(),
		JobID:   uuid.New(),
		Queue:   "hydration.syllabus",
		Payload: datatypes.JSON([]byte(`{"job_id":"x"}`)),
	}
	if _, err := repo.Create(ctx, tx, msg); err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := repo.ClaimUndispatched(ctx, tx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != msg.ID {
		t.Fatalf("expected the seeded message, got %d rows", len(claimed))
	}

	if err := repo.MarkDispatched(ctx, tx, msg.ID); err != nil {
		t.Fatalf("mark dispatched: %v", err)
	}

	claimed, err = repo.ClaimUndispatched(ctx, tx, 10)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("dispatched message claimed again: %d rows", len(claimed))
	}

	var reloaded types.OutboxMessage
	if err := tx.WithContext(ctx).Where("id = ?", msg.ID).First(&reloaded).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.DispatchedAt == nil {
		t.Fatal("dispatched_at not set")
	}
	if reloaded.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", reloaded.Attempts)
	}
}

func TestOutboxRepoRecordAttemptKeepsMessagePending(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := repos.NewOutboxRepo(db, testutil.Logger(t))

	msg := &types.OutboxMessage{
		ID:      uuid.New(),
		JobID:   uuid.New(),
		Queue:   "hydration.notes",
		Payload: datatypes.JSON([]byte(`{}`)),
	}
	if _, err := repo.Create(ctx, tx, msg); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.RecordAttempt(ctx, tx, msg.ID); err != nil {
		t.Fatalf("record attempt: %v", err)
	}

	// a failed publish leaves the row claimable on the next sweep
	claimed, err := repo.ClaimUndispatched(ctx, tx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected message still pending, got %d rows", len(claimed))
	}
	if claimed[0].Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", claimed[0].Attempts)
	}
}
