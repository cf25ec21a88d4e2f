package quota

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gsoc2/novu/internal/domain"
	"github.com/gsoc2/novu/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on go-redis.
type RedisStore struct {
	client redis.UniversalClient

	mu      sync.RWMutex
	scripts map[string]*redis.Script
}

// NewRedisStore wraps client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client:  client,
		scripts: make(map[string]*redis.Script),
	}
}

// SAdd adds members to the set at key.
func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.SAdd(ctx, key, args...).Err(); err != nil {
		return domain.WrapError(domain.ErrStoreOperationFailed, "redis sadd failed", err)
	}
	return nil
}

// Eval runs script with EVALSHA, falling back to EVAL when the server does
// not have it cached.
func (s *RedisStore) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	result, err := s.script(script).Run(ctx, s.client, keys, args...).Result()
	if err != nil && err != redis.Nil {
		return nil, domain.WrapError(domain.ErrStoreOperationFailed, "redis eval failed", err)
	}
	return result, nil
}

func (s *RedisStore) script(src string) *redis.Script {
	s.mu.RLock()
	sc, ok := s.scripts[src]
	s.mu.RUnlock()
	if ok {
		return sc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok = s.scripts[src]; !ok {
		sc = redis.NewScript(src)
		s.scripts[src] = sc
	}
	return sc
}

// NewRedisClient creates a single-node or cluster client and verifies it with PING.
func NewRedisClient(cfg config.RedisConfig, logger *slog.Logger) (redis.UniversalClient, error) {
	var client redis.UniversalClient

	if len(cfg.ClusterAddresses) > 0 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.ClusterAddresses,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	} else {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "invalid redis url", err)
		}
		if cfg.Password != "" {
			opts.Password = cfg.Password
		}
		opts.PoolSize = cfg.PoolSize
		opts.DialTimeout = cfg.DialTimeout
		opts.ReadTimeout = cfg.ReadTimeout
		opts.WriteTimeout = cfg.WriteTimeout
		client = redis.NewClient(opts)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("redis connection failed", slog.String("error", err.Error()))
		_ = client.Close()
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "failed to connect to redis", err)
	}

	logger.Info("redis client connected",
		slog.Bool("cluster_mode", len(cfg.ClusterAddresses) > 0),
		slog.Int("pool_size", cfg.PoolSize))

	return client, nil
}
