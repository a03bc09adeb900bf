package dedup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker provides mutual exclusion per key (one key per collection).
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker serialises callers within one process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
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

// RedisLocker holds a SetNX lock so replicas sharing a vector store do not
// interleave the check and the write for the same collection.
type RedisLocker struct {
	Rdb    *redis.Client
	Prefix string
	TTL    time.Duration
	Poll   time.Duration
}

var errNoRedis = errors.New("redis locker has no client")

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if r.Rdb == nil {
		return nil, errNoRedis
	}
	ttl := r.TTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	poll := r.Poll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	prefix := r.Prefix
	if prefix == "" {
		prefix = "svat:dedup:"
	}
	lockKey := prefix + key
	token := uuid.NewString()
	for {
		ok, err := r.Rdb.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-time.After(poll):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, r.Rdb, []string{lockKey}, token).Err()
		})
	}, nil
}
