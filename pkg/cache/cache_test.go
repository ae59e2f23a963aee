package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Port 1 is reserved and never has a listener.
const deadAddr = "127.0.0.1:1"

func TestNewCacheFailsWithoutServer(t *testing.T) {
	_, err := NewCache("redis://"+deadAddr+"/0", "", 0, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")

	_, err = NewCache("not a url", "", 0, time.Minute)
	assert.ErrorContains(t, err, "invalid Redis URL")
}

func TestHealthCheckReportsUnreachableServer(t *testing.T) {
	c := NewWithClient(redis.NewClient(&redis.Options{Addr: deadAddr, MaxRetries: -1}), time.Minute)
	defer c.Close()

	ctx := context.Background()
	assert.Error(t, c.HealthCheck(ctx))
	assert.Error(t, c.Delete(ctx, "site:pk_live_1"))

	metrics, err := c.GetMetrics(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, metrics)
}
