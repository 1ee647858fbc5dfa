package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/queue"
	"github.com/padhaihub/padhai-backend/internal/repos"
)

// DispatchStats summarizes one outbox sweep.
type DispatchStats struct {
	Claimed    int
	Dispatched int
	Errors     int
}

// OutboxDispatcher drains undispatched outbox rows into the queue. Delivery
// is at-least-once: a crash between publish and MarkDispatched re-publishes
// on the next sweep, and workers tolerate duplicate wake-ups because the job
// claim is the real gate.
type OutboxDispatcher struct {
	db        *gorm.DB
	log       *logger.Logger
	outbox    repos.OutboxRepo
	publisher queue.Publisher
	batchSize int
}

func NewOutboxDispatcher(db *gorm.DB, baseLog *logger.Logger, outbox repos.OutboxRepo, publisher queue.Publisher) *OutboxDispatcher {
	return &OutboxDispatcher{
		db:        db,
		log:       baseLog.With("service", "OutboxDispatcher"),
		outbox:    outbox,
		publisher: publisher,
		batchSize: 50,
	}
}

// RunOnce claims one batch and publishes it. The claim and the dispatch marks
// share a transaction so SKIP LOCKED keeps concurrent dispatchers off the
// same rows.
func (d *OutboxDispatcher) RunOnce(ctx context.Context) (DispatchStats, error) {
	var stats DispatchStats
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		msgs, err := d.outbox.ClaimUndispatched(ctx, tx, d.batchSize)
		if err != nil {
			return fmt.Errorf("claim outbox batch: %w", err)
		}
		stats.Claimed = len(msgs)
		for _, msg := range msgs {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := d.publisher.Publish(ctx, msg.Queue, []byte(msg.Payload)); err != nil {
				stats.Errors++
				d.log.Warn("Outbox publish failed, will retry next sweep",
					"outbox_id", msg.ID, "job_id", msg.JobID, "queue", msg.Queue, "error", err)
				if aErr := d.outbox.RecordAttempt(ctx, tx, msg.ID); aErr != nil {
					d.log.Error("Record outbox attempt failed", "outbox_id", msg.ID, "error", aErr)
				}
				continue
			}
			if err := d.outbox.MarkDispatched(ctx, tx, msg.ID); err != nil {
				return fmt.Errorf("mark dispatched %s: %w", msg.ID, err)
			}
			stats.Dispatched++
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	if stats.Dispatched > 0 {
		d.log.Info("Outbox batch dispatched", "claimed", stats.Claimed, "dispatched", stats.Dispatched, "errors", stats.Errors)
	}
	return stats, nil
}
