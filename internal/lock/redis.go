package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gitea.jw6.us/james/washcal/internal/schedule"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another replica is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the key's expiry only while it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

const (
	minBackoff     = 5 * time.Millisecond
	maxBackoff     = 100 * time.Millisecond
	releaseTimeout = 2 * time.Second
)

// Config tunes a RedisLocker.
type Config struct {
	// Prefix namespaces lock keys, e.g. "washcal:lock:".
	Prefix string
	// TTL bounds how long a crashed holder can block a day. A live holder
	// re-extends its keys every TTL/3, so exclusion outlasts TTL only while
	// the holder can reach Redis; if refreshes fail for a full TTL the keys
	// expire and another replica may enter the same day.
	TTL time.Duration
}

// RedisLocker implements schedule.Locker across replicas with SET NX PX and
// a compare-and-delete release.
type RedisLocker struct {
	client Client
	cfg    Config
	logger *zap.Logger
}

var _ schedule.Locker = (*RedisLocker)(nil)

// Client is the subset of go-redis used by the locker.
type Client interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

func NewRedisLocker(client Client, cfg Config, logger *zap.Logger) *RedisLocker {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: client, cfg: cfg, logger: logger}
}

// Lock acquires every key in sorted order, retrying with backoff until ctx
// is done. Keys acquired before a failure are released. Held keys are
// refreshed in the background until unlock is called.
func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	token := uuid.NewString()
	keys = schedule.SortKeys(keys)
	held := make([]string, 0, len(keys))

	for _, k := range keys {
		full := l.cfg.Prefix + k
		if err := l.acquire(ctx, full, token); err != nil {
			l.release(ctx, held, token)
			return nil, fmt.Errorf("acquire %s: %w", full, err)
		}
		held = append(held, full)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(ctx, held, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			l.release(ctx, held, token)
		})
	}, nil
}

// keepAlive extends held keys every refreshInterval until stop is closed.
func (l *RedisLocker) keepAlive(ctx context.Context, keys []string, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	base := context.WithoutCancel(ctx)
	ticker := time.NewTicker(refreshInterval(l.cfg.TTL))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		for _, k := range keys {
			rctx, cancel := context.WithTimeout(base, releaseTimeout)
			n, err := refreshScript.Run(rctx, l.client, []string{k}, token, l.cfg.TTL.Milliseconds()).Int64()
			cancel()
			switch {
			case err != nil && !errors.Is(err, redis.Nil):
				l.logger.Warn("refresh scheduling lock", zap.String("key", k), zap.Error(err))
			case n == 0:
				l.logger.Error("scheduling lock lost before release", zap.String("key", k))
			}
		}
	}
}

func refreshInterval(ttl time.Duration) time.Duration {
	if d := ttl / 3; d > 0 {
		return d
	}
	return time.Millisecond
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	wait := minBackoff
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.cfg.TTL).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		wait = nextBackoff(wait)
	}
}

func (l *RedisLocker) release(ctx context.Context, keys []string, token string) {
	if len(keys) == 0 {
		return
	}
	// The request context may already be cancelled; release regardless.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		err := releaseScript.Run(rctx, l.client, []string{keys[i]}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("release scheduling lock", zap.String("key", keys[i]), zap.Error(err))
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
