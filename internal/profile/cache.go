package profile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"social-sync/internal/config"
	"social-sync/internal/models"
	"social-sync/internal/utils"
)

// Cache holds resolved profiles across feed loads. Implementations fail open:
// a cache error is treated as a miss.
type Cache interface {
	Get(ctx context.Context, uid string) (*models.UserProfile, bool)
	Set(ctx context.Context, p *models.UserProfile)
	Delete(ctx context.Context, uid string)
}

// RedisCache stores profiles as JSON under "profile:<uid>".
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache connects to the configured Redis. It returns nil when no
// address is configured.
func NewRedisCache(cfg *config.CacheConfig, logger *zap.Logger) *RedisCache {
	if cfg == nil || cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	logger = utils.OrNop(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, profile cache will miss", zap.Error(err))
	}
	return &RedisCache{client: client, ttl: cfg.ProfileTTL, logger: logger}
}

func key(uid string) string {
	return "profile:" + uid
}

func (c *RedisCache) Get(ctx context.Context, uid string) (*models.UserProfile, bool) {
	data, err := c.client.Get(ctx, key(uid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Debug("profile cache get failed", zap.String("uid", uid), zap.Error(err))
		return nil, false
	}
	var p models.UserProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false
	}
	return &p, true
}

func (c *RedisCache) Set(ctx context.Context, p *models.UserProfile) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key(p.ID), data, c.ttl).Err(); err != nil {
		c.logger.Debug("profile cache set failed", zap.String("uid", p.ID), zap.Error(err))
	}
}

func (c *RedisCache) Delete(ctx context.Context, uid string) {
	_ = c.client.Del(ctx, key(uid)).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
