/*
Package lock serializes merges that touch the same production tuple.

PURPOSE:
  Two replace merges on the same (account, carrier, product) tuple must never
  interleave: the second delete would remove the first one's inserts. Callers
  take a lease on a key before opening the merge transaction and release it
  after commit or rollback.

IMPLEMENTATIONS:
  Local: keyed in-process mutexes, for a single instance and tests
  Redis: bsm/redislock leases, for several instances sharing one database

USAGE:
  lease, err := locker.TryAcquire(ctx, "merge:acme:dhl:letter", 30*time.Second)
  if errors.Is(err, lock.ErrNotObtained) {
      // held by someone else, back off and retry
  }
  defer lease.Release(ctx)
*/
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotObtained is returned when the key is held by another owner.
var ErrNotObtained = errors.New("lock: not obtained")

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out leases on string keys. TryAcquire never blocks waiting for
// the key: it returns ErrNotObtained immediately when the key is taken.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// =============================================================================
// LOCAL - In-process keyed locks
// =============================================================================

// Local is a Locker backed by a map of held keys. The ttl is ignored: a local
// lease lives until it is released.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) TryAcquire(ctx context.Context, key string, _ time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrNotObtained
	}
	l.held[key] = struct{}{}
	return &localLease{owner: l, key: key}, nil
}

// Held reports whether the key is currently leased.
func (l *Local) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

type localLease struct {
	owner *Local
	key   string
	once  sync.Once
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		delete(l.owner.held, l.key)
		l.owner.mu.Unlock()
	})
	return nil
}
