package redis

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inkdeck/inkdeck/cache"
)

type RedisPageCache struct {
	client redis.UniversalClient
}

func NewRedisPageCache(ctx context.Context, devMode bool, redisEndpoint string) (*RedisPageCache, error) {
	var client redis.UniversalClient
	if devMode {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
			// AWS elasticache endpoints require TLS
			TLSConfig: &tls.Config{},
		})
	}

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return &RedisPageCache{client: client}, nil
}

// Hash tags keep all keys for one page in the same cluster slot.
func buildPageContentKey(pageId string) string {
	return "page:{" + pageId + "}:content"
}

const cacheTTL = 10 * time.Minute

func (redisCache *RedisPageCache) GetPage(ctx context.Context, pageId string) ([]byte, error) {
	val, err := redisCache.client.Get(ctx, buildPageContentKey(pageId)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, cache.ErrCacheMiss
		}
		return nil, err
	}

	// Refresh TTL on read so active pages stay warm
	redisCache.client.Expire(ctx, buildPageContentKey(pageId), cacheTTL)

	return val, nil
}

func (redisCache *RedisPageCache) SetPage(ctx context.Context, pageId string, content []byte) error {
	return redisCache.client.Set(ctx, buildPageContentKey(pageId), content, cacheTTL).Err()
}

func (redisCache *RedisPageCache) InvalidatePage(ctx context.Context, pageId string) error {
	return redisCache.client.Del(ctx, buildPageContentKey(pageId)).Err()
}
