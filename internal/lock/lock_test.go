package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSerializesSameKey(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var mu sync.Mutex
	inside := 0
	maxInside := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, "shift:cashier:x")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
	assert.Empty(t, l.locks)
}

func TestLocalHonoursContext(t *testing.T) {
	l := NewLocal()
	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireAllDedupesAndReleases(t *testing.T) {
	l := NewLocal()
	release, err := AcquireAll(context.Background(), l, "b", "a", "b")
	require.NoError(t, err)
	release()

	again, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)
	again()
	assert.Empty(t, l.locks)
}

func TestRedisLocker_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	r := NewRedis(client, time.Second)
	key := "it:" + time.Now().Format(time.RFC3339Nano)
	release, err := r.Acquire(ctx, key)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 60*time.Millisecond)
	defer cancel()
	_, err = r.Acquire(short, key)
	require.ErrorIs(t, err, ErrNotAcquired)

	release()
	second, err := r.Acquire(ctx, key)
	require.NoError(t, err)
	second()
}
