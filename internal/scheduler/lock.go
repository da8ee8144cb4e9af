package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another owner holds the lock.
var ErrLockHeld = errors.New("lock held by another owner")

// ErrLockLost is the cancellation cause of a lock context whose lock expired
// or was taken over while it was held.
var ErrLockLost = errors.New("lock lost")

// MinLockTTL is the shortest ttl a RedisLocker accepts.
const MinLockTTL = 30 * time.Millisecond

// Release gives a lock back. It is safe to call once.
type Release func()

// Locker guards a sweep so only one runs at a time across its scope. The
// returned context is derived from ctx and is cancelled when the lock is
// released, or with cause ErrLockLost when it stops being held.
type Locker interface {
	Acquire(ctx context.Context, key string) (context.Context, Release, error)
}

// LocalLocker scopes locks to the current process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (context.Context, Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, nil, ErrLockHeld
	}
	l.held[key] = struct{}{}

	lockCtx, cancel := context.WithCancelCause(ctx)
	var once sync.Once
	return lockCtx, func() {
		once.Do(func() {
			cancel(nil)
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

var (
	unlockScript = redis.NewScript(`
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

// RedisLocker shares locks between instances through Redis. A held lock is
// extended every ttl/3 until released, so a slow sweep keeps it.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) (*RedisLocker, error) {
	if ttl < MinLockTTL {
		return nil, fmt.Errorf("lock ttl %s is below the minimum of %s", ttl, MinLockTTL)
	}
	return &RedisLocker{client: client, ttl: ttl}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (context.Context, Release, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if !ok {
		return nil, nil, ErrLockHeld
	}

	lockCtx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, token, stop, cancel, done)

	var once sync.Once
	return lockCtx, func() {
		once.Do(func() {
			close(stop)
			<-done
			cancel(nil)

			uctx, ucancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer ucancel()
			if err := unlockScript.Run(uctx, l.client, []string{key}, token).Err(); err != nil {
				slog.Warn("scheduler: releasing lock failed", "key", key, "error", err)
			}
		})
	}, nil
}

// keepAlive extends the lock until stop is closed. It cancels the lock
// context with ErrLockLost once the key no longer carries token, or once no
// extension has succeeded for a full ttl.
func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}, lost context.CancelCauseFunc, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	extended := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			switch {
			case err == nil && n == 1:
				extended = time.Now()
				continue
			case err == nil:
				slog.Error("scheduler: lock lost", "key", key)
			case time.Since(extended) < l.ttl:
				slog.Warn("scheduler: extending lock failed", "key", key, "error", err)
				continue
			default:
				slog.Error("scheduler: lock lost, extension failing", "key", key, "error", err)
			}
			lost(ErrLockLost)
			return
		}
	}
}
