package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/harrier/internal/domain"
)

// LocalLocker serializes work per key within one process. Entries are
// reference counted and removed once no goroutine holds or waits on them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewLocalLocker creates an in-process key locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrLockTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			l.release(key, kl)
		})
	}, nil
}

func (l *LocalLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// Len returns the number of keys currently held or awaited.
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// releaseScript deletes the lock only if it is still owned by the caller.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisLockerOptions tunes a RedisLocker. Zero values select defaults.
type RedisLockerOptions struct {
	// TTL bounds how long a crashed holder can keep a key locked.
	TTL time.Duration
	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration
	// MaxWait bounds acquisition when ctx carries no deadline.
	MaxWait time.Duration
}

// RedisLocker serializes work per key across processes using
// SET NX PX with an owner token.
type RedisLocker struct {
	client *redis.Client
	opts   RedisLockerOptions
}

// NewRedisLocker creates a distributed key locker.
func NewRedisLocker(client *redis.Client, opts RedisLockerOptions) *RedisLocker {
	if opts.TTL == 0 {
		opts.TTL = 10 * time.Second
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 10 * time.Millisecond
	}
	if opts.MaxWait == 0 {
		opts.MaxWait = 5 * time.Second
	}
	return &RedisLocker{client: client, opts: opts}
}

// Lock acquires key or fails with domain.ErrLockTimeout.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.MaxWait)
		defer cancel()
	}

	lockKey := "harrier:lock:" + key
	token := uuid.New().String()

	for {
		err := l.client.SetArgs(ctx, lockKey, token, redis.SetArgs{Mode: "NX", TTL: l.opts.TTL}).Err()
		if err == nil {
			break
		}
		if !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", domain.ErrLockTimeout, key, ctx.Err())
			}
			return nil, fmt.Errorf("%w: lock %s: %v", domain.ErrStorageUnavailable, key, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrLockTimeout, key, ctx.Err())
		case <-time.After(l.opts.RetryInterval):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Released on a fresh context so a cancelled request still frees the key.
			rctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, l.client, []string{lockKey}, token).Err()
		})
	}, nil
}
