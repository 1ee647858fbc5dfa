package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/padhaihub/padhai-backend/internal/types"
)

func nowUTC() time.Time { return time.Now().UTC() }

func SeedSubject(tb testing.TB, ctx context.Context, tx *gorm.DB, board, grade, name string) *types.Subject {
	tb.Helper()
	s := &types.Subject{
		ID:     uuid.New(),
		Board:  board,
		Grade:  grade,
		Name:   name,
		Status: types.ContentStatusApproved,
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed subject: %v", err)
	}
	return s
}

func SeedChapter(tb testing.TB, ctx context.Context, tx *gorm.DB, subjectID uuid.UUID, name string, position int) *types.Chapter {
	tb.Helper()
	c := &types.Chapter{
		ID:        uuid.New(),
		SubjectID: subjectID,
		Name:      name,
		Position:  position,
		Status:    types.ContentStatusDraft,
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed chapter: %v", err)
	}
	return c
}

func SeedTopic(tb testing.TB, ctx context.Context, tx *gorm.DB, chapterID uuid.UUID, name string, position int) *types.Topic {
	tb.Helper()
	t := &types.Topic{
		ID:        uuid.New(),
		ChapterID: chapterID,
		Name:      name,
		Position:  position,
		Status:    types.ContentStatusDraft,
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed topic: %v", err)
	}
	return t
}

func SeedApprovedNote(tb testing.TB, ctx context.Context, tx *gorm.DB, topicID uuid.UUID, language string) *types.TopicNote {
	tb.Helper()
	n := &types.TopicNote{
		ID:        uuid.New(),
		TopicID:   topicID,
		Language:  language,
		Status:    types.ContentStatusApproved,
		ContentMD: "note",
	}
	if err := tx.WithContext(ctx).Create(n).Error; err != nil {
		tb.Fatalf("seed approved note: %v", err)
	}
	return n
}

func SeedWorker(tb testing.TB, ctx context.Context, tx *gorm.DB, workerID, status string) *types.WorkerLifecycle {
	tb.Helper()
	now := nowUTC()
	w := &types.WorkerLifecycle{
		ID:              uuid.New(),
		WorkerID:        workerID,
		Hostname:        "test-host",
		PID:             1234,
		Status:          status,
		LastHeartbeatAt: now,
		StartedAt:       now,
	}
	if err := tx.WithContext(ctx).Create(w).Error; err != nil {
		tb.Fatalf("seed worker: %v", err)
	}
	return w
}
