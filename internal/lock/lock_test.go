package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	locker := NewRedisLocker(client, "grader:lock:", time.Minute)

	release, err := locker.Acquire(context.Background(), "recycle:1:abc")
	require.NoError(t, err)
	require.True(t, server.Exists("grader:lock:recycle:1:abc"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "recycle:1:abc")
	require.ErrorIs(t, err, ErrNotAcquired)

	release()
	require.False(t, server.Exists("grader:lock:recycle:1:abc"))

	release, err = locker.Acquire(context.Background(), "recycle:1:abc")
	require.NoError(t, err)
	release()
}

func TestRedisLockerReleaseKeepsForeignToken(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	locker := NewRedisLocker(client, "", time.Second)
	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)

	// the key expired and somebody else took it
	server.FastForward(2 * time.Second)
	require.NoError(t, server.Set("k", "other"))

	release()
	value, err := server.Get("k")
	require.NoError(t, err)
	require.Equal(t, "other", value)
}

func TestLocalLockerSerialisesHolders(t *testing.T) {
	locker := NewLocalLocker()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(context.Background(), locker, "node:1", func(ctx context.Context) error {
				mu.Lock()
				active++
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxSeen)
	require.Empty(t, locker.locks)
}

func TestLocalLockerHonoursContext(t *testing.T) {
	locker := NewLocalLocker()
	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locker.Acquire(ctx, "k")
	require.ErrorIs(t, err, ErrNotAcquired)

	release()
	release()
	require.Empty(t, locker.locks)
}
