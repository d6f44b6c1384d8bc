package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskbot/internal/db/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyOpenTasks = "taskbot:open:"

// TaskCache caches each user's open task list in Redis.
type TaskCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewTaskCache returns a new TaskCache.
func NewTaskCache(rdb *redis.Client, ttl time.Duration) *TaskCache {
	return &TaskCache{rdb: rdb, ttl: ttl}
}

// Connect dials Redis and checks it answers.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func openKey(userID uuid.UUID) string {
	return keyOpenTasks + userID.String()
}

// GetOpen returns the cached open tasks, or nil on a miss.
func (c *TaskCache) GetOpen(ctx context.Context, userID uuid.UUID) ([]*models.Task, error) {
	b, err := c.rdb.Get(ctx, openKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	list := []*models.Task{}
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SetOpen stores the open task list.
func (c *TaskCache) SetOpen(ctx context.Context, userID uuid.UUID, list []*models.Task) error {
	if list == nil {
		list = []*models.Task{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, openKey(userID), b, c.ttl).Err()
}

// Invalidate drops the user's cached list after a write.
func (c *TaskCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return c.rdb.Del(ctx, openKey(userID)).Err()
}

func (c *TaskCache) Close() error {
	return c.rdb.Close()
}
