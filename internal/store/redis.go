package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"liqflow/internal/models"
	"liqflow/logger"
)

// Redis keeps the ring in a Redis list: LPUSH at the head and LTRIM to the
// capacity, so the list always holds the newest entries first.
type Redis struct {
	client   redis.UniversalClient
	key      string
	capacity int
	log      *logger.Entry
}

func NewRedis(client redis.UniversalClient, key string, capacity int) *Redis {
	if capacity <= 0 {
		capacity = 5000
	}
	return &Redis{
		client:   client,
		key:      key,
		capacity: capacity,
		log:      logger.GetLogger().WithComponent("redis_store").WithField("key", key),
	}
}

func (r *Redis) Append(ctx context.Context, ev models.Liquidation) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal liquidation: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.key, data)
		pipe.LTrim(ctx, r.key, 0, int64(r.capacity-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append liquidation: %w", err)
	}
	return nil
}

func (r *Redis) Snapshot(ctx context.Context, n int) ([]models.Liquidation, error) {
	if n <= 0 || n > r.capacity {
		n = r.capacity
	}
	raw, err := r.client.LRange(ctx, r.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read liquidations: %w", err)
	}
	out := make([]models.Liquidation, 0, len(raw))
	for _, item := range raw {
		var ev models.Liquidation
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			r.log.WithError(err).Warn("skipping undecodable entry")
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (r *Redis) Capacity() int {
	return r.capacity
}

// Ping checks connectivity at startup.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
