package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"vidflow/internal/domain"
)

const (
	tasksKey   = "vidflow:tasks"
	createdKey = "vidflow:tasks:created"
)

// Redis keeps tasks as JSON in a hash and indexes them by creation time
// (microseconds) in a sorted set, which is what eviction scans.
type Redis struct {
	client *redis.Client
	clock  clockwork.Clock
}

func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func NewRedis(client *redis.Client, clock clockwork.Clock) *Redis {
	return &Redis{client: client, clock: clock}
}

func (r *Redis) Create(ctx context.Context, itemID, country string, info domain.ItemInfo, opts domain.GenerationOptions) (domain.Task, error) {
	t := newTask(r.clock.Now(), itemID, country, info, opts)
	data, err := json.Marshal(t)
	if err != nil {
		return domain.Task{}, err
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, tasksKey, t.ID, data)
	pipe.ZAdd(ctx, createdKey, redis.Z{Score: float64(t.CreatedAt.UnixMicro()), Member: t.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Task{}, fmt.Errorf("store task %s: %w", t.ID, err)
	}
	return t, nil
}

// Update is a plain read-modify-write of the hash field.
func (r *Redis) Update(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	t, err := r.Get(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := patch.Apply(&t); err != nil {
		return domain.Task{}, err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return domain.Task{}, err
	}
	if err := r.client.HSet(ctx, tasksKey, id, data).Err(); err != nil {
		return domain.Task{}, fmt.Errorf("store task %s: %w", id, err)
	}
	return t, nil
}

func (r *Redis) Get(ctx context.Context, id string) (domain.Task, error) {
	data, err := r.client.HGet(ctx, tasksKey, id).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return domain.Task{}, err
	}
	var t domain.Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return domain.Task{}, fmt.Errorf("decode task %s: %w", id, err)
	}
	return t, nil
}

func (r *Redis) StatusView(ctx context.Context, id string) (domain.PublicTaskStatus, error) {
	t, err := r.Get(ctx, id)
	if err != nil {
		return domain.PublicTaskStatus{}, err
	}
	return t.Public(), nil
}

func (r *Redis) EvictOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := r.client.ZRangeByScore(ctx, createdKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	pipe := r.client.TxPipeline()
	pipe.HDel(ctx, tasksKey, ids...)
	pipe.ZRem(ctx, createdKey, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
