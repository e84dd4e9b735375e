package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"priceetl/internal/config"
)

// WarehouseLockKey guards warehouse loads.
const WarehouseLockKey = "priceetl:warehouse"

// Unlock releases an obtained lock.
type Unlock func(ctx context.Context) error

// Locker hands out exclusive, expiring locks. Obtain returns ErrLocked when
// the key is held.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

// LocalLocker serializes runs within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time // key -> expiry
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLocker) Obtain(_ context.Context, key string, ttl time.Duration) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, key)
	}
	exp := now.Add(ttl)
	l.held[key] = exp
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		// A lock that expired and was taken over belongs to someone else now.
		if l.held[key].Equal(exp) {
			delete(l.held, key)
		}
		return nil
	}, nil
}

type redisObtainer interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// RedisLocker shares locks between processes through Redis.
type RedisLocker struct {
	client redisObtainer
}

func NewRedisLocker(rdb redislock.RedisClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb)}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}

// NewLocker builds the configured locker. The returned close function
// releases the Redis connection, if any.
func NewLocker(ctx context.Context, lc config.Lock, rc config.Redis) (Locker, func() error, error) {
	if lc.Kind != "redis" {
		return NewLocalLocker(), func() error { return nil }, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", rc.Addr, err)
	}
	return NewRedisLocker(rdb), rdb.Close, nil
}

// WithLock returns a Task that runs t only while holding key. A held key
// fails the run with ErrLocked.
func WithLock(t Task, l Locker, key string, ttl time.Duration) Task {
	return &lockedTask{Task: t, locker: l, key: key, ttl: ttl}
}

type lockedTask struct {
	Task
	locker Locker
	key    string
	ttl    time.Duration
}

func (t *lockedTask) Run(ctx context.Context) (err error) {
	unlock, err := t.locker.Obtain(ctx, t.key, t.ttl)
	if err != nil {
		return err
	}
	defer func() {
		// The lock may outlive a canceled ctx; release it regardless.
		if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil && err == nil {
			err = fmt.Errorf("release lock %s: %w", t.key, uerr)
		}
	}()
	return t.Task.Run(ctx)
}
