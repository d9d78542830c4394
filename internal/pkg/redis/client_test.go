package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/ChatEngine/config"
	"github.com/Gopher0727/ChatEngine/internal/storage/storagetest"
)

func setupTestRedis(t *testing.T) *Client {
	rdb, _ := storagetest.NewRedis(t)
	return Wrap(rdb)
}

func TestNewClient(t *testing.T) {
	t.Run("connection failure with invalid address", func(t *testing.T) {
		cfg := &config.RedisConfig{Host: "127.0.0.1", Port: "1", PoolSize: 1}
		client, err := NewClient(cfg)
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("ping", func(t *testing.T) {
		client := setupTestRedis(t)
		assert.NoError(t, client.Ping(context.Background()))
	})
}

func TestClient_Lock(t *testing.T) {
	ctx := context.Background()

	t.Run("second holder waits until release", func(t *testing.T) {
		client := setupTestRedis(t)

		unlock, err := client.Lock(ctx, "k", time.Second)
		require.NoError(t, err)

		acquired := make(chan struct{})
		go func() {
			unlock2, err := client.Lock(ctx, "k", time.Second)
			if err == nil {
				unlock2()
			}
			close(acquired)
		}()

		select {
		case <-acquired:
			t.Fatal("lock acquired while held")
		case <-time.After(30 * time.Millisecond):
		}
		unlock()
		select {
		case <-acquired:
		case <-time.After(time.Second):
			t.Fatal("lock not acquired after release")
		}
	})

	t.Run("times out while held", func(t *testing.T) {
		client := setupTestRedis(t)

		unlock, err := client.Lock(ctx, "k", time.Second)
		require.NoError(t, err)
		defer unlock()

		_, err = client.Lock(ctx, "k", 40*time.Millisecond)
		assert.ErrorIs(t, err, ErrLockTimeout)
	})

	t.Run("release does not delete a foreign lock", func(t *testing.T) {
		rdb, mr := storagetest.NewRedis(t)
		client := Wrap(rdb)

		unlock, err := client.Lock(ctx, "k", 100*time.Millisecond)
		require.NoError(t, err)

		// the lock expires and someone else takes it
		mr.FastForward(200 * time.Millisecond)
		require.NoError(t, mr.Set("lock:k", "other"))

		unlock()
		v, err := mr.Get("lock:k")
		require.NoError(t, err)
		assert.Equal(t, "other", v)
	})
}

func TestClient_Typing(t *testing.T) {
	ctx := context.Background()
	client := setupTestRedis(t)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return now }

	require.NoError(t, client.SetTyping(ctx, 1, 10, 5*time.Second))
	require.NoError(t, client.SetTyping(ctx, 1, 11, 5*time.Second))
	require.NoError(t, client.SetTyping(ctx, 2, 12, 5*time.Second))

	users, err := client.TypingUsers(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{10, 11}, users)

	now = now.Add(3 * time.Second)
	require.NoError(t, client.SetTyping(ctx, 1, 11, 5*time.Second))

	now = now.Add(3 * time.Second)
	users, err = client.TypingUsers(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint{11}, users, "entry of user 10 expired")
}

func TestClient_Viewing(t *testing.T) {
	ctx := context.Background()
	rdb, mr := storagetest.NewRedis(t)
	client := Wrap(rdb)

	viewing, err := client.IsViewing(ctx, 1, 10)
	require.NoError(t, err)
	assert.False(t, viewing)

	require.NoError(t, client.SetViewing(ctx, 1, 10, 30*time.Second))
	viewing, err = client.IsViewing(ctx, 1, 10)
	require.NoError(t, err)
	assert.True(t, viewing)

	require.NoError(t, client.ClearViewing(ctx, 1, 10))
	viewing, _ = client.IsViewing(ctx, 1, 10)
	assert.False(t, viewing)

	require.NoError(t, client.SetViewing(ctx, 1, 10, 30*time.Second))
	mr.FastForward(31 * time.Second)
	viewing, _ = client.IsViewing(ctx, 1, 10)
	assert.False(t, viewing, "viewing key expires")
}

func TestClient_Publish(t *testing.T) {
	ctx := context.Background()
	client := setupTestRedis(t)

	sub, err := client.Subscribe(ctx, "hub")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.Publish(ctx, "hub", "hello"))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Payload)
}

// TestProperty_MarkViewedOncePerUser checks that for any sequence of views a
// (message, user) pair is reported as first view exactly once.
func TestProperty_MarkViewedOncePerUser(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	var round int64

	properties := gopter.NewProperties(nil)
	properties.Property("first view is reported once per user", prop.ForAll(
		func(viewers []uint) bool {
			round++
			messageID := round
			seen := make(map[uint]bool)
			for _, u := range viewers {
				first, err := client.MarkViewed(ctx, messageID, u)
				if err != nil {
					return false
				}
				if first == seen[u] {
					return false
				}
				seen[u] = true
			}
			return true
		},
		gen.SliceOf(gen.UIntRange(1, 8)),
	))
	properties.TestingRun(t)
}

func TestClient_LockMutualExclusion(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var holders, maxHolders atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := client.Lock(ctx, "counter", 2*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := holders.Add(1)
			if n > maxHolders.Load() {
				maxHolders.Store(n)
			}
			time.Sleep(time.Millisecond)
			holders.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxHolders.Load())
}
