package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Redis is a Locker backed by bsm/redislock. A held lease is refreshed every
// half ttl until it is released, so a slow merge keeps its tuple. A crashed
// instance stops refreshing and its lease expires after ttl.
type Redis struct {
	client *redislock.Client
	prefix string
}

// NewRedis wraps an existing go-redis client. Keys are namespaced with prefix.
func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: redislock.New(rdb), prefix: prefix}
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, password, prefix string) (*Redis, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedis(rdb, prefix), rdb, nil
}

func (r *Redis) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	l, err := r.client.Obtain(ctx, r.prefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	refreshCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	lease := &redisLease{lock: l, stop: stop, done: make(chan struct{})}
	go lease.keepAlive(refreshCtx, ttl)
	return lease, nil
}

type redisLease struct {
	lock *redislock.Lock
	stop context.CancelFunc
	done chan struct{}
}

// keepAlive extends the lease until it is released or lost.
func (l *redisLease) keepAlive(ctx context.Context, ttl time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(max(ttl/2, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.lock.Refresh(ctx, ttl, nil); err != nil {
				return
			}
		}
	}
}

func (l *redisLease) Release(ctx context.Context) error {
	l.stop()
	<-l.done
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}
