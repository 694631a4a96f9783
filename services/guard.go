package services

import (
	"context"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/halocore099/phone-repair-dashboard/errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrSyncInProgress is returned when a run is attempted while another one holds the guard.
var ErrSyncInProgress = apperrors.Conflict("sync already in progress")

// DefaultLockKey is the Redis key holding the run lock.
const DefaultLockKey = "catalog-sync:run-lock"

// RunGuard admits at most one sync run at a time. Acquire never waits: it either returns a
// release func or ErrSyncInProgress.
type RunGuard interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// LocalGuard is a RunGuard for a single process.
type LocalGuard struct {
	mu      sync.Mutex
	running bool
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{}
}

func (g *LocalGuard) Acquire(_ context.Context) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return nil, ErrSyncInProgress
	}
	g.running = true

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.running = false
			g.mu.Unlock()
		})
	}, nil
}

// LockClient is the part of a Redis client the RedisGuard needs. *redis.Client satisfies it.
type LockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript deletes the lock only if it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisGuard is a RunGuard shared by every replica talking to the same Redis. The lock
// expires after ttl so a crashed holder cannot block runs forever.
type RedisGuard struct {
	client LockClient
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisGuard(client LockClient, key string, ttl time.Duration, logger *zap.Logger) *RedisGuard {
	if key == "" {
		key = DefaultLockKey
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisGuard{client: client, key: key, ttl: ttl, logger: logger}
}

func (g *RedisGuard) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.key, token, g.ttl).Result()
	if err != nil {
		return nil, apperrors.New(http.StatusServiceUnavailable, apperrors.KindInternal, "run lock unavailable", err)
	}
	if !ok {
		return nil, ErrSyncInProgress
	}

	var once sync.Once
	return func() {
		once.Do(func() { g.release(token) })
	}, nil
}

func (g *RedisGuard) release(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := g.client.Eval(ctx, releaseScript, []string{g.key}, token).Int64()
	if err != nil {
		g.logger.Error("Failed to release run lock", zap.String("key", g.key), zap.Error(err))
		return
	}
	if n == 0 {
		g.logger.Warn("Run lock expired before release", zap.String("key", g.key), zap.Duration("ttl", g.ttl))
	}
}
