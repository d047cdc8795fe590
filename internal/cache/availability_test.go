package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equiprent-backend/internal/config"
	"equiprent-backend/internal/domain"
)

func TestDisabledCacheIsNoop(t *testing.T) {
	ctx := context.Background()
	c := NewAvailabilityCache(nil, 0)
	assert.False(t, c.Enabled())
	assert.Equal(t, 5*time.Minute, c.ttl)

	c.Set(ctx, 1, domain.StockCounts{Available: 3, Total: 3})
	_, ok := c.Get(ctx, 1)
	assert.False(t, ok)
	c.Invalidate(ctx, 1, 2)
	assert.NoError(t, c.Close())

	var nilCache *AvailabilityCache
	assert.False(t, nilCache.Enabled())
}

func TestConnectWithoutAddressDisablesCache(t *testing.T) {
	c, err := Connect(context.Background(), config.RedisConfig{TTLSeconds: 30})
	require.NoError(t, err)
	assert.False(t, c.Enabled())
	assert.Equal(t, 30*time.Second, c.ttl)
}

func TestConnectFailureDegrades(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Connect(ctx, config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
	require.NotNil(t, c)
	assert.False(t, c.Enabled())
}

func TestStockKey(t *testing.T) {
	assert.Equal(t, "rental:stock:42", stockKey(42))
}
