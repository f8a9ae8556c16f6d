// Package redis implements the website lock on Redis so several service
// replicas share the one-active-job-per-website invariant.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultTTL bounds how long a crashed owner keeps a website locked.
	DefaultTTL  = 30 * time.Second
	keyPrefix   = "newshub:website-lock:"
	pingTimeout = 5 * time.Second
)

// ErrEmptyAddress is returned when no Redis address is configured.
var ErrEmptyAddress = errors.New("redis address is required")

var (
	releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)
	extendScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// ClientConfig describes the Redis connection.
type ClientConfig struct {
	Address  string
	Password string
	DB       int
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg ClientConfig) (*goredis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Locker holds website locks as SET NX PX keys whose value is the owning
// job id. Held locks are extended in the background until released.
type Locker struct {
	client goredis.Cmdable
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.Mutex
	holds map[string]context.CancelFunc
}

// NewLocker builds a Locker. A non-positive ttl uses DefaultTTL.
func NewLocker(client goredis.Cmdable, ttl time.Duration, logger *zap.Logger) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{
		client: client,
		ttl:    ttl,
		logger: logger.Named("lock"),
		holds:  make(map[string]context.CancelFunc),
	}
}

// TryLock takes key for owner without blocking. The current owner may lock
// again, which refreshes the TTL.
func (l *Locker) TryLock(ctx context.Context, key, owner string) (bool, error) {
	redisKey := keyPrefix + key
	ok, err := l.client.SetNX(ctx, redisKey, owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		extended, err := l.extend(ctx, redisKey, owner)
		if err != nil || !extended {
			return false, err
		}
	}
	l.keepAlive(redisKey, owner)
	return true, nil
}

// Unlock releases key if owner still holds it.
func (l *Locker) Unlock(ctx context.Context, key, owner string) error {
	redisKey := keyPrefix + key
	l.stopKeepAlive(redisKey, owner)
	if err := releaseScript.Run(ctx, l.client, []string{redisKey}, owner).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

// Holder returns the owner of key, or "" when it is free.
func (l *Locker) Holder(ctx context.Context, key string) (string, error) {
	owner, err := l.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lock %s: %w", key, err)
	}
	return owner, nil
}

// Close stops every keepalive without releasing the keys; they expire after
// the TTL.
func (l *Locker) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, cancel := range l.holds {
		cancel()
		delete(l.holds, id)
	}
}

func (l *Locker) extend(ctx context.Context, redisKey, owner string) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{redisKey}, owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("extend lock %s: %w", redisKey, err)
	}
	return n == 1, nil
}

func (l *Locker) keepAlive(redisKey, owner string) {
	id := redisKey + "\x00" + owner
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, running := l.holds[id]; running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.holds[id] = cancel

	go func() {
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := l.extend(ctx, redisKey, owner)
				if err != nil {
					if ctx.Err() == nil {
						l.logger.Warn("lock keepalive failed", zap.String("key", redisKey), zap.Error(err))
					}
					continue
				}
				if !held {
					l.logger.Warn("lock lost", zap.String("key", redisKey), zap.String("owner", owner))
					l.stopKeepAlive(redisKey, owner)
					return
				}
			}
		}
	}()
}

func (l *Locker) stopKeepAlive(redisKey, owner string) {
	id := redisKey + "\x00" + owner
	l.mu.Lock()
	defer l.mu.Unlock()
	if cancel, ok := l.holds[id]; ok {
		cancel()
		delete(l.holds, id)
	}
}
