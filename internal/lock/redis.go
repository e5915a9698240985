package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/public-sector-payments/internal/interfaces"
)

var ErrLockNotAcquired = errors.New("lock: could not acquire lock")

// RedisOptions tunes the distributed lock.
type RedisOptions struct {
	Prefix     string
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Prefix:     "payments:lock:",
		Expiry:     10 * time.Second,
		Tries:      32,
		RetryDelay: 50 * time.Millisecond,
	}
}

// RedisLocker serializes work per key across processes with redsync.
type RedisLocker struct {
	rs     *redsync.Redsync
	opts   RedisOptions
	logger *zap.Logger
}

func NewRedisLocker(client *goredislib.Client, opts RedisOptions, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool := goredis.NewPool(client)
	return &RedisLocker{
		rs:     redsync.New(pool),
		opts:   opts,
		logger: logger,
	}
}

func (r *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	mutex := r.rs.NewMutex(
		r.opts.Prefix+key,
		redsync.WithExpiry(r.opts.Expiry),
		redsync.WithTries(r.opts.Tries),
		redsync.WithRetryDelay(r.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, key, err)
	}

	fnCtx, cancel := context.WithCancel(ctx)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.keepAlive(mutex, key, stop, cancel)
	}()

	defer func() {
		close(stop)
		wg.Wait()
		cancel()
		// Use a fresh context so a cancelled caller still releases the lock.
		unlockCtx, done := context.WithTimeout(context.Background(), r.opts.Expiry)
		defer done()
		if ok, err := mutex.UnlockContext(unlockCtx); !ok || err != nil {
			r.logger.Warn("failed to release distributed lock",
				zap.String("key", key), zap.Error(err))
		}
	}()

	return fn(fnCtx)
}

// keepAlive extends the lock every third of its expiry until stop is closed.
// If an extension fails the lock may already belong to someone else, so the
// holder's context is cancelled.
func (r *RedisLocker) keepAlive(mutex *redsync.Mutex, key string, stop <-chan struct{}, cancel context.CancelFunc) {
	interval := r.opts.Expiry / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		extendCtx, done := context.WithTimeout(context.Background(), interval)
		ok, err := mutex.ExtendContext(extendCtx)
		done()
		if !ok || err != nil {
			r.logger.Warn("distributed lock lost",
				zap.String("key", key), zap.Error(err))
			cancel()
			return
		}
	}
}

var _ interfaces.Locker = (*RedisLocker)(nil)
