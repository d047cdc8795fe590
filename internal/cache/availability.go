package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"equiprent-backend/internal/config"
	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/logger"
)

const stockKeyFmt = "rental:stock:%d"

// AvailabilityCache keeps per-equipment stock counts in Redis.
// A nil client turns every method into a no-op so the API keeps working without Redis.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

// Connect opens the Redis connection. On failure it returns a disabled cache and the error.
func Connect(ctx context.Context, cfg config.RedisConfig) (*AvailabilityCache, error) {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if cfg.Addr == "" {
		return NewAvailabilityCache(nil, ttl), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// Close the failed client for graceful degradation
		client.Close()
		return NewAvailabilityCache(nil, ttl), err
	}
	return NewAvailabilityCache(client, ttl), nil
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration) *AvailabilityCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AvailabilityCache{client: client, ttl: ttl}
}

func (c *AvailabilityCache) Enabled() bool {
	return c != nil && c.client != nil
}

func stockKey(equipmentID int32) string {
	return fmt.Sprintf(stockKeyFmt, equipmentID)
}

func (c *AvailabilityCache) Get(ctx context.Context, equipmentID int32) (domain.StockCounts, bool) {
	var counts domain.StockCounts
	if !c.Enabled() {
		return counts, false
	}
	data, err := c.client.Get(ctx, stockKey(equipmentID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("Availability cache read failed", "equipmentID", equipmentID, "error", err)
		}
		return counts, false
	}
	if err := json.Unmarshal(data, &counts); err != nil {
		return counts, false
	}
	return counts, true
}

func (c *AvailabilityCache) Set(ctx context.Context, equipmentID int32, counts domain.StockCounts) {
	if !c.Enabled() {
		return
	}
	data, _ := json.Marshal(counts)
	if err := c.client.Set(ctx, stockKey(equipmentID), data, c.ttl).Err(); err != nil {
		logger.Warn("Availability cache write failed", "equipmentID", equipmentID, "error", err)
	}
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, equipmentIDs ...int32) {
	if !c.Enabled() || len(equipmentIDs) == 0 {
		return
	}
	keys := make([]string, len(equipmentIDs))
	for i, id := range equipmentIDs {
		keys[i] = stockKey(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logger.Warn("Availability cache invalidation failed", "keys", keys, "error", err)
	}
}

func (c *AvailabilityCache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}
