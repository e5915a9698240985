package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	interfaces "github.com/sheikh-saqib/public-sector-payments/internal/interfaces"
)

func assertSerialized(t *testing.T, locker interfaces.Locker) {
	t.Helper()

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), "alloc-1", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					old := atomic.LoadInt32(&maxSeen)
					if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	assertSerialized(t, NewKeyedMutex())
}

func TestKeyedMutexDifferentKeysDoNotBlock(t *testing.T) {
	k := NewKeyedMutex()
	entered := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = k.WithLock(context.Background(), "a", func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	done := make(chan struct{})
	go func() {
		_ = k.WithLock(context.Background(), "b", func(ctx context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind lock on a")
	}
	close(release)
}

func TestKeyedMutexHonoursCancellation(t *testing.T) {
	k := NewKeyedMutex()
	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = k.WithLock(context.Background(), "a", func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := k.WithLock(ctx, "a", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestKeyedMutexDropsIdleKeys(t *testing.T) {
	k := NewKeyedMutex()
	require.NoError(t, k.WithLock(context.Background(), "a", func(ctx context.Context) error { return nil }))
	assert.Empty(t, k.muMap)
}

func TestRedisLockerSerializesSameKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	opts := DefaultRedisOptions()
	opts.RetryDelay = 5 * time.Millisecond
	opts.Tries = 500
	assertSerialized(t, NewRedisLocker(client, opts, nil))
}

func TestRedisLockerPropagatesFnError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client, DefaultRedisOptions(), nil)
	want := assert.AnError
	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error { return want })
	assert.ErrorIs(t, err, want)

	// The lock was released, so it can be taken again immediately.
	require.NoError(t, locker.WithLock(context.Background(), "k", func(ctx context.Context) error { return nil }))
}

func TestRedisLockerExtendsWhileHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	opts := DefaultRedisOptions()
	opts.Expiry = 600 * time.Millisecond
	locker := NewRedisLocker(client, opts, nil)

	err := locker.WithLock(context.Background(), "batch:1", func(ctx context.Context) error {
		// Advance redis time well past the expiry while the holder is busy.
		for i := 0; i < 20; i++ {
			time.Sleep(50 * time.Millisecond)
			mr.FastForward(50 * time.Millisecond)
		}
		assert.True(t, mr.Exists(opts.Prefix+"batch:1"))
		return ctx.Err()
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(opts.Prefix+"batch:1"))
}

func TestRedisLockerCancelsHolderWhenLockIsLost(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	opts := DefaultRedisOptions()
	opts.Expiry = 300 * time.Millisecond
	locker := NewRedisLocker(client, opts, nil)

	err := locker.WithLock(context.Background(), "batch:1", func(ctx context.Context) error {
		mr.Del(opts.Prefix + "batch:1")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return nil
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
}
