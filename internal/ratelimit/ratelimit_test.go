package ratelimit_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/accordo-ai/accordo/internal/ratelimit"
)

var testRedis *redis.Client

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	testRedis = redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", host, port.Port()),
	})

	if err := testRedis.Ping(ctx).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to ping redis: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	_ = testRedis.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

// uniqueKey returns a key isolated from other tests sharing the Redis instance.
func uniqueKey(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func TestRedisLimiterAllowWithinLimit(t *testing.T) {
	ctx := context.Background()
	limiter := ratelimit.NewRedisLimiter(testRedis, 10, 1*time.Minute)
	key := uniqueKey("within")

	for i := 0; i < 10; i++ {
		ok, err := limiter.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be allowed", i)
	}
}

func TestRedisLimiterDenyOverLimit(t *testing.T) {
	ctx := context.Background()
	limiter := ratelimit.NewRedisLimiter(testRedis, 5, 1*time.Minute)
	key := uniqueKey("over")

	for i := 0; i < 5; i++ {
		ok, err := limiter.Allow(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := limiter.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "request over the limit should be denied")
}

func TestRedisLimiterIndependentKeys(t *testing.T) {
	ctx := context.Background()
	limiter := ratelimit.NewRedisLimiter(testRedis, 1, 1*time.Minute)

	keyA := uniqueKey("caller-a")
	keyB := uniqueKey("caller-b")

	ok, err := limiter.Allow(ctx, keyA)
	require.NoError(t, err)
	require.True(t, ok)

	// keyA is exhausted, keyB is untouched.
	ok, err = limiter.Allow(ctx, keyA)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = limiter.Allow(ctx, keyB)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiterWindowReset(t *testing.T) {
	ctx := context.Background()
	limiter := ratelimit.NewRedisLimiter(testRedis, 2, 500*time.Millisecond)
	key := uniqueKey("reset")

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := limiter.Allow(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	// After the window rolls over, the counter starts fresh.
	time.Sleep(600 * time.Millisecond)

	ok, err = limiter.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "new window should allow requests again")
}
