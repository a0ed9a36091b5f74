package services

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshInterval(t *testing.T) {
	assert.Equal(t, 40*time.Minute, refreshInterval(2*time.Hour))
	assert.Equal(t, 100*time.Millisecond, refreshInterval(150*time.Millisecond))
}

// testRedis connects to TEST_REDIS_ADDR (default localhost:6379) and skips
// when no server answers
func testRedis(t *testing.T) *redis.Client {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rc := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		t.Skipf("skipping redis-backed test: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestScanLockOutlivesTTL(t *testing.T) {
	rc := testRedis(t)
	logger, _ := test.NewNullLogger()
	ctx := context.Background()
	lock := NewScanLock(rc, "sentinel-test:"+uuid.NewString()+":", 300*time.Millisecond, logger)

	release, acquired, err := lock.TryLock(ctx, "scan:all")
	require.NoError(t, err)
	require.True(t, acquired)

	time.Sleep(time.Second)

	_, acquired, err = lock.TryLock(ctx, "scan:all")
	require.NoError(t, err)
	assert.False(t, acquired, "a held lock must survive past its TTL")

	release(ctx)
	release(ctx)

	again, acquired, err := lock.TryLock(ctx, "scan:all")
	require.NoError(t, err)
	assert.True(t, acquired)
	again(ctx)
}
