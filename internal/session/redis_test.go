package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis server and returns a RedisBackend instance
func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisBackend, *miniredis.Miniredis, func()) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	backend := NewRedisBackend(client, ttl)

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return backend, mr, cleanup
}

func TestRedisStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		backend, _, cleanup := setupTestRedis(t, time.Hour)
		t.Cleanup(cleanup)
		return backend.Session("s1")
	})
}

func TestRedisStore_StoresOneDocumentPerSession(t *testing.T) {
	backend, mr, cleanup := setupTestRedis(t, time.Hour)
	defer cleanup()
	ctx := context.Background()

	store := backend.Session("user123")
	require.NoError(t, store.Put(ctx, "_cart.item1", map[string]any{"name": "one", "quantity": 2}))

	stored, err := mr.Get(sessionKey("user123"))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(stored), &doc))
	assert.Equal(t, map[string]any{
		"_cart": map[string]any{
			"item1": map[string]any{"name": "one", "quantity": float64(2)},
		},
	}, doc)
}

func TestRedisStore_PutSetsTTL(t *testing.T) {
	backend, mr, cleanup := setupTestRedis(t, 15*time.Minute)
	defer cleanup()

	err := backend.Session("user789").Put(context.Background(), "_cart.item1", map[string]any{"name": "one"})
	require.NoError(t, err)

	ttl := mr.TTL(sessionKey("user789"))
	assert.True(t, ttl >= 15*time.Minute, "TTL should be at least base TTL")
	assert.True(t, ttl <= 20*time.Minute, "TTL should be base + max jitter")
}

func TestRedisStore_ZeroTTLNeverExpires(t *testing.T) {
	backend, mr, cleanup := setupTestRedis(t, 0)
	defer cleanup()

	err := backend.Session("user1").Put(context.Background(), "_cart.item1", map[string]any{"name": "one"})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), mr.TTL(sessionKey("user1")))
}

func TestRedisStore_ForgetLastValueDeletesKey(t *testing.T) {
	backend, mr, cleanup := setupTestRedis(t, time.Hour)
	defer cleanup()
	ctx := context.Background()

	store := backend.Session("user999")
	require.NoError(t, store.Put(ctx, "_cart.item1", map[string]any{"name": "one"}))
	assert.True(t, mr.Exists(sessionKey("user999")))

	removed, err := store.Forget(ctx, "_cart")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, mr.Exists(sessionKey("user999")))
}

func TestRedisStore_InvalidJSON(t *testing.T) {
	backend, mr, cleanup := setupTestRedis(t, time.Hour)
	defer cleanup()

	require.NoError(t, mr.Set(sessionKey("user123"), `{"_cart": {"item1"`))

	_, err := backend.Session("user123").Get(context.Background(), "_cart", nil)
	require.ErrorContains(t, err, "unmarshal session failed")

	err = backend.Session("user123").Put(context.Background(), "_cart.item2", 1)
	require.ErrorContains(t, err, "unmarshal session failed")
}

func TestRedisStore_ServerDown(t *testing.T) {
	backend, mr, cleanup := setupTestRedis(t, time.Hour)
	defer cleanup()
	mr.Close()

	_, err := backend.Session("user1").Get(context.Background(), "_cart", nil)
	require.ErrorContains(t, err, "redis get failed")
}

func TestSessionKey_Format(t *testing.T) {
	assert.Equal(t, "session:test123", sessionKey("test123"))
}

// blockingGetHook holds the first GET until release is closed.
type blockingGetHook struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (h *blockingGetHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *blockingGetHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (h *blockingGetHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "get" {
			first := false
			h.once.Do(func() { first = true })
			if first {
				close(h.entered)
				<-h.release
			}
		}
		return next(ctx, cmd)
	}
}

func TestRedisStore_SharedLoadSurvivesCanceledCaller(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	hook := &blockingGetHook{entered: make(chan struct{}), release: make(chan struct{})}
	client.AddHook(hook)
	backend := NewRedisBackend(client, time.Hour)
	require.NoError(t, mr.Set(sessionKey("s1"), `{"_cart":{"item1":{"name":"one"}}}`))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := backend.Session("s1").Get(firstCtx, "_cart", nil)
		firstErr <- err
	}()
	<-hook.entered

	type result struct {
		value any
		err   error
	}
	second := make(chan result, 1)
	go func() {
		v, err := backend.Session("s1").Get(context.Background(), "_cart.item1.name", nil)
		second <- result{v, err}
	}()
	// give the second reader time to join the in-flight load
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(hook.release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "one", res.value)
}
