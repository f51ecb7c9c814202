package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
)

const (
	DefaultTTL       = 2 * time.Minute
	defaultRetryWait = 50 * time.Millisecond
	keyPrefix        = "notesfy:lock:"
)

// unlockScript deletes the key only if it still holds our token, so a lock
// that expired and was taken by someone else is never released by us.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ Locker = (*Redis)(nil)

// Redis is a Locker backed by SET NX with an expiry. The TTL bounds how long
// a crashed holder can block a key; it must exceed the longest section.
type Redis struct {
	client    *redis.Client
	ttl       time.Duration
	retryWait time.Duration
	logger    *slog.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{
		client:    client,
		ttl:       ttl,
		retryWait: defaultRetryWait,
		logger:    logger,
	}
}

// NewRedisClient parses a redis:// URL (or a bare host:port) and checks
// the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	var opts *redis.Options
	if parsed, err := redis.ParseURL(url); err == nil {
		opts = parsed
	} else {
		opts = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("lock: connecting to redis: %w", err)
	}
	return client, nil
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := xid.New().String()

	ticker := time.NewTicker(r.retryWait)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("lock: acquiring %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's ctx may already be cancelled; release regardless
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				r.logger.Warn("failed to release lock",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
		})
	}, nil
}
