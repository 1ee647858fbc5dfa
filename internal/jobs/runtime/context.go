package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/padhaihub/padhai-backend/internal/repos"
	"github.com/padhaihub/padhai-backend/internal/types"
)

// Context is the execution handle for one claimed hydration job. It owns the
// only sanctioned ways to heartbeat, complete, or fail the run. Every write
// is guarded against cancelled rows so an operator cancellation issued while
// a worker is mid-run wins.
type Context struct {
	Ctx  context.Context
	DB   *gorm.DB
	Job  *types.HydrationJob
	Jobs repos.HydrationJobRepo

	payload map[string]any
}

// NewContext decodes the job payload eagerly; a malformed payload yields an
// empty map and handlers validate the fields they need.
func NewContext(ctx context.Context, db *gorm.DB, job *types.HydrationJob, jobs repos.HydrationJobRepo) *Context {
	c := &Context{
		Ctx:  ctx,
		DB:   db,
		Job:  job,
		Jobs: jobs,
	}
	_ = c.decodePayload()
	return c
}

func (c *Context) decodePayload() error {
	if c.Job == nil || len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Heartbeat refreshes heartbeat_at so the claim query and the watchdog both
// see the run as live. A no-op once the row is no longer running.
func (c *Context) Heartbeat() {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	if err := c.Jobs.Heartbeat(c.ctx(), nil, c.Job.ID); err != nil {
		_ = err // next tick retries; claim staleness covers a dead worker
	}
}

// Complete marks the run completed and stores its result payload.
func (c *Context) Complete(result map[string]any) error {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return nil
	}
	now := time.Now()
	updates := map[string]interface{}{
		"status":       types.JobStatusCompleted,
		"completed_at": now,
		"locked_at":    nil,
		"heartbeat_at": nil,
		"error":        "",
	}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal job result: %w", err)
		}
		updates["result"] = raw
	}
	ok, err := c.Jobs.UpdateFieldsUnlessStatus(c.ctx(), nil, c.Job.ID,
		[]string{types.JobStatusCancelled}, updates)
	if err != nil {
		return err
	}
	if ok {
		c.Job.Status = types.JobStatusCompleted
		c.Job.CompletedAt = &now
		c.Job.LockedAt = nil
		c.Job.HeartbeatAt = nil
	}
	return nil
}

// Fail marks the run failed and clears the lock so the row is visibly idle.
// Failed jobs are not retried automatically; an operator retry resets them to
// pending.
func (c *Context) Fail(err error) {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	ok, _ := c.Jobs.UpdateFieldsUnlessStatus(c.ctx(), nil, c.Job.ID,
		[]string{types.JobStatusCancelled}, map[string]interface{}{
			"status":        types.JobStatusFailed,
			"error":         msg,
			"last_error_at": now,
			"locked_at":     nil,
			"heartbeat_at":  nil,
		})
	if ok {
		c.Job.Status = types.JobStatusFailed
		c.Job.Error = msg
		c.Job.LastErrorAt = &now
		c.Job.LockedAt = nil
		c.Job.HeartbeatAt = nil
	}
}

func (c *Context) ctx() context.Context {
	if c.Ctx != nil {
		return c.Ctx
	}
	return context.Background()
}
