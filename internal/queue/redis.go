package queue

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/padhaihub/padhai-backend/internal/platform/logger"
)

// Publisher pushes serialized job notifications onto named queues. The
// durable source of truth stays in Postgres; the queue is a wake-up signal
// for workers.
type Publisher interface {
	Publish(ctx context.Context, queue string, payload []byte) error
	Close() error
}

const keyPrefix = "hydration:queue:"

type redisPublisher struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewRedisPublisher(baseLog *logger.Logger) (Publisher, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    os.Getenv("REDIS_PASSWORD"),
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisPublisher{
		log: baseLog.With("component", "RedisPublisher"),
		rdb: rdb,
	}, nil
}

func (p *redisPublisher) Publish(ctx context.Context, queue string, payload []byte) error {
	if p == nil || p.rdb == nil {
		return fmt.Errorf("redis publisher not initialized")
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return fmt.Errorf("queue name required")
	}
	return p.rdb.LPush(ctx, keyPrefix+queue, payload).Err()
}

func (p *redisPublisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}
