package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/link-preview/internal/cache"
	"github.com/SergeiKhy/link-preview/internal/models"
	"github.com/redis/go-redis/v9"
)

// CacheRepository: уровень кэша превью в Redis
type CacheRepository interface {
	cache.Store
}

type cacheRepository struct {
	redis *RedisDB
}

func NewCacheRepository(redis *RedisDB) CacheRepository {
	return &cacheRepository{redis: redis}
}

func (r *cacheRepository) Name() string {
	return "redis"
}

func (r *cacheRepository) Get(ctx context.Context, key string) (*models.LinkPreview, error) {
	data, err := r.redis.Client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, cache.ErrMiss
		}
		return nil, err
	}

	var preview models.LinkPreview
	if err := json.Unmarshal(data, &preview); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preview: %w", err)
	}

	return &preview, nil
}

func (r *cacheRepository) Set(ctx context.Context, key string, preview *models.LinkPreview, ttl time.Duration) error {
	data, err := json.Marshal(preview)
	if err != nil {
		return fmt.Errorf("failed to marshal preview: %w", err)
	}

	return r.redis.Client.Set(ctx, r.key(key), data, ttl).Err()
}

func (r *cacheRepository) Delete(ctx context.Context, key string) error {
	return r.redis.Client.Del(ctx, r.key(key)).Err()
}

func (r *cacheRepository) key(key string) string {
	return "link_preview:" + key
}
