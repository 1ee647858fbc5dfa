package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/padhaihub/padhai-backend/internal/repos/testutil"
	"github.com/padhaihub/padhai-backend/internal/services"
	"github.com/padhaihub/padhai-backend/internal/types"
)

type fakePublisher struct {
	mu        sync.Mutex
	published map[string][][]byte
	failQueue string
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: map[string][][]byte{}}
}

func (p *fakePublisher) Publish(_ context.Context, queue string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if queue == p.failQueue {
		return errors.New("redis unavailable")
	}
	p.published[queue] = append(p.published[queue], payload)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) count(queue string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published[queue])
}

func TestOutboxDispatcherPublishesAndMarks(t *testing.T) {
	f := newServiceFixture(t)
	pub := newFakePublisher()
	d := services.NewOutboxDispatcher(f.tx, testutil.Logger(t), f.outbox, pub)

	msg := &types.OutboxMessage{
		ID:      uuid.New(),
		JobID:   uuid.New(),
		Queue:   services.QueueSyllabus,
		Payload: datatypes.JSON([]byte(`{"job_id":"j"}`)),
	}
	if _, err := f.outbox.Create(f.ctx, nil, msg); err != nil {
		t.Fatalf("seed outbox: %v", err)
	}

	stats, err := d.RunOnce(f.ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Claimed != 1 || stats.Dispatched != 1 || stats.Errors != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if pub.count(services.QueueSyllabus) != 1 {
		t.Fatal("payload not published")
	}

	// nothing left on the next sweep
	stats, err = d.RunOnce(f.ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Claimed != 0 {
		t.Fatalf("second sweep claimed %d, want 0", stats.Claimed)
	}
}

func TestOutboxDispatcherRetriesFailedPublish(t *testing.T) {
	f := newServiceFixture(t)
	pub := newFakePublisher()
	pub.failQueue = services.QueueNotes
	d := services.NewOutboxDispatcher(f.tx, testutil.Logger(t), f.outbox, pub)

	good := &types.OutboxMessage{
		ID:      uuid.New(),
		JobID:   uuid.New(),
		Queue:   services.QueueSyllabus,
		Payload: datatypes.JSON([]byte(`{}`)),
	}
	bad := &types.OutboxMessage{
		ID:      uuid.New(),
		JobID:   uuid.New(),
		Queue:   services.QueueNotes,
		Payload: datatypes.JSON([]byte(`{}`)),
	}
	for _, m := range []*types.OutboxMessage{good, bad} {
		if _, err := f.outbox.Create(f.ctx, nil, m); err != nil {
			t.Fatalf("seed outbox: %v", err)
		}
	}

	stats, err := d.RunOnce(f.ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Dispatched != 1 || stats.Errors != 1 {
		t.Fatalf("stats = %+v, want one success and one failure", stats)
	}

	// the failed message survives for the next sweep; once the queue recovers
	// it goes out
	pub.failQueue = ""
	stats, err = d.RunOnce(f.ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Claimed != 1 || stats.Dispatched != 1 {
		t.Fatalf("second stats = %+v, want the retry dispatched", stats)
	}
	if pub.count(services.QueueNotes) != 1 {
		t.Fatal("retried payload not published")
	}
}
