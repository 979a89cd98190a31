package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

// Both scripts act only while the key still holds the caller's token.
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// Lease is a held lock on one key.
type Lease struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration
}

// Locker hands out leases under a key prefix. Imports into one destination
// share the key "import:<destination>".
type Locker struct {
	client *Client
	prefix string
}

func NewLocker(client *Client, prefix string) *Locker {
	if prefix == "" {
		prefix = "fern:lock:"
	}
	return &Locker{client: client, prefix: prefix}
}

const defaultLeaseTTL = time.Minute

// Acquire takes key for ttl or fails with ErrLockNotAcquired. It does not wait.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	lease := &Lease{
		client: l.client,
		key:    l.prefix + key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}

	ok, err := l.client.rdb.SetNX(ctx, lease.key, lease.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock %s", lease.key)
	return lease, nil
}

// Extend resets the lease's expiry to its full ttl.
func (lease *Lease) Extend(ctx context.Context) error {
	return lease.run(ctx, extendScript, lease.ttl.Milliseconds())
}

func (lease *Lease) Release(ctx context.Context) error {
	if err := lease.run(ctx, releaseScript); err != nil {
		return err
	}
	lease.client.logger.WithContext(ctx).Debugf("Released lock %s", lease.key)
	return nil
}

func (lease *Lease) run(ctx context.Context, script *redis.Script, args ...any) error {
	result, err := script.Run(ctx, lease.client.rdb, []string{lease.key}, append([]any{lease.token}, args...)...).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// keepAlive extends the lease every half ttl until stop is closed.
func (lease *Lease) keepAlive(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(lease.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lease.Extend(ctx); err != nil {
				lease.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to extend lock %s", lease.key)
				return
			}
		}
	}
}

// WithLock runs fn while holding key, extending the lease for as long as fn
// runs. ErrLockNotAcquired is returned when another holder owns key.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lease, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		lease.keepAlive(ctx, stop)
	}()

	defer func() {
		close(stop)
		wg.Wait()
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			l.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to release lock %s", key)
		}
	}()

	return fn(ctx)
}
