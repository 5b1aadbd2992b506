package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sensemaker/backend/internal/logger"
	"github.com/sensemaker/backend/internal/utils"
)

// RedisChannel bridges the in-process hub across worker and API processes
// through Redis pub/sub. Every event goes out on the shared global channel
// and on a per-job channel; a forwarder goroutine feeds inbound messages
// from the global channel into the local hub, so local subscribers see
// events published by any process, including this one.
type RedisChannel struct {
	log     *logger.Logger
	rdb     *redis.Client
	hub     *Hub
	channel string
	cancel  context.CancelFunc
}

func NewRedisChannel(log *logger.Logger) (*RedisChannel, error) {
	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "", nil))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	channel := strings.TrimSpace(utils.GetEnv("REDIS_CHANNEL", "jobs:progress", nil))

	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	c := &RedisChannel{
		log:     log.With("component", "RedisProgressChannel"),
		rdb:     rdb,
		hub:     NewHub(log),
		channel: channel,
	}

	fwdCtx, cancel := context.WithCancel(context.Background())
	if err := c.startForwarder(fwdCtx); err != nil {
		cancel()
		_ = rdb.Close()
		return nil, err
	}
	c.cancel = cancel
	return c, nil
}

func (c *RedisChannel) startForwarder(ctx context.Context) error {
	sub := c.rdb.Subscribe(ctx, c.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var event ProgressEvent
				if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
					c.log.Warn("bad redis progress payload", "error", err)
					continue
				}
				_ = c.hub.Publish(ctx, event)
			}
		}
	}()

	return nil
}

func (c *RedisChannel) Publish(ctx context.Context, event ProgressEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := c.rdb.Publish(ctx, c.channel, raw).Err(); err != nil {
		return err
	}
	// Per-job channel for external consumers that subscribe to one job only.
	return c.rdb.Publish(ctx, jobChannel(event.JobID), raw).Err()
}

func (c *RedisChannel) Subscribe(jobID uuid.UUID) (<-chan ProgressEvent, func()) {
	return c.hub.Subscribe(jobID)
}

func (c *RedisChannel) Available() bool { return true }

func (c *RedisChannel) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	return c.rdb.Close()
}

func jobChannel(jobID uuid.UUID) string {
	return "job:" + jobID.String() + ":progress"
}
