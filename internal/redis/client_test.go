package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewClient(&Config{Address: mr.Addr(), PoolSize: 10})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return client, mr
}

func TestNewClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	t.Run("successful connection", func(t *testing.T) {
		config := &Config{Address: mr.Addr()}

		client, err := NewClient(config)
		require.NoError(t, err)
		assert.Equal(t, 10, config.PoolSize)
		assert.NoError(t, client.Close())
	})

	t.Run("nil config", func(t *testing.T) {
		client, err := NewClient(nil)
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "redis config is required")
	})

	t.Run("connection failure", func(t *testing.T) {
		client, err := NewClient(&Config{Address: "127.0.0.1:1", PoolSize: 1})
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})
}

func TestClient_Health(t *testing.T) {
	client, mr := setupTestRedis(t)

	assert.NoError(t, client.Health())

	mr.Close()
	assert.Error(t, client.Health())
}

func TestClient_SetIfAbsent(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	created, err := client.SetIfAbsent(ctx, "nonce:a", time.Minute)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = client.SetIfAbsent(ctx, "nonce:a", time.Minute)
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, time.Minute, mr.TTL("nonce:a"))

	mr.FastForward(2 * time.Minute)

	created, err = client.SetIfAbsent(ctx, "nonce:a", time.Minute)
	require.NoError(t, err)
	assert.True(t, created, "expired key can be claimed again")
}

func TestClient_SetIfAbsent_Concurrent(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := client.SetIfAbsent(ctx, "nonce:race", time.Minute)
			if err == nil && created {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestClient_SetExists(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	exists, err := client.Exists(ctx, "nonce:b")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, client.Set(ctx, "nonce:b", time.Minute))

	exists, err = client.Exists(ctx, "nonce:b")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestClient_ErrorsAfterClose(t *testing.T) {
	client, mr := setupTestRedis(t)
	mr.Close()

	_, err := client.SetIfAbsent(context.Background(), "nonce:c", time.Minute)
	assert.Error(t, err)
	_, err = client.Exists(context.Background(), "nonce:c")
	assert.Error(t, err)
}
