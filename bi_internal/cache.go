package bi_internal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fpe_random_id/common"
	"fpe_random_id/models"
)

// Cache uses a single Redis client (no ClusterClient) for all operations.
// A nil *Cache is a valid, always-missing cache.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.SugaredLogger
}

// NewCacheFromEnv initializes a single-node Redis client using env:
// REDIS_ADDR = "host:6379"
// REDIS_PASS (optional)
// CACHE_TTL_SECONDS (optional, default 7 days)
// REDIS_DIAL_TIMEOUT_SEC / REDIS_RW_TIMEOUT_SEC (optional)
func NewCacheFromEnv(log *zap.SugaredLogger) (*Cache, error) {
	addr := strings.TrimSpace(common.MaybeEnv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("REDIS_ADDR not set")
	}

	rwTimeout := common.EnvSeconds("REDIS_RW_TIMEOUT_SEC", 5*time.Second)
	opts := &redis.Options{
		Addr:         addr,
		Password:     strings.TrimSpace(common.MaybeEnv("REDIS_PASS")),
		DialTimeout:  common.EnvSeconds("REDIS_DIAL_TIMEOUT_SEC", 5*time.Second),
		ReadTimeout:  rwTimeout,
		WriteTimeout: rwTimeout,
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	log.Infow("redis connected", "addr", addr)
	return NewCache(client, common.EnvSeconds("CACHE_TTL_SECONDS", 7*24*time.Hour), log), nil
}

func NewCache(client *redis.Client, ttl time.Duration, log *zap.SugaredLogger) *Cache {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Cache{client: client, ttl: ttl, log: log}
}

func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func issuedCacheKey(pool string, value uint32) string {
	return fmt.Sprintf("rid:v1:%s:value:%d", pool, value)
}

// GetIssued returns the cached ledger row, or nil on a miss.
func (c *Cache) GetIssued(ctx context.Context, pool string, value uint32) (*models.IssuedID, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	res, err := c.client.Get(ctx, issuedCacheKey(pool, value)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r models.IssuedID
	if err := json.Unmarshal(res, &r); err != nil {
		return nil, fmt.Errorf("cache decode: %w", err)
	}
	return &r, nil
}

func (c *Cache) SetIssued(ctx context.Context, r *models.IssuedID) error {
	if c == nil || c.client == nil || r == nil {
		return nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, issuedCacheKey(r.Pool, r.Value), b, c.ttl).Err()
}

// PreloadFromStore streams the ledger into Redis with pipelined sets.
func (c *Cache) PreloadFromStore(ctx context.Context, store *models.Store) error {
	if c == nil || c.client == nil || store == nil {
		return nil
	}

	c.log.Infow("cache: starting preload from store")

	const batchSize = 1000

	pipe := c.client.Pipeline()
	n := 0
	batchCount := 0

	err := store.Each(ctx, func(r *models.IssuedID) error {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		pipe.Set(ctx, issuedCacheKey(r.Pool, r.Value), b, c.ttl)
		n++
		batchCount++

		if batchCount >= batchSize {
			if _, err := pipe.Exec(ctx); err != nil {
				c.log.Warnw("cache preload pipeline exec error", "error", err)
			}
			pipe = c.client.Pipeline()
			batchCount = 0
			c.log.Debugw("cache preload progress", "processed", n)
		}
		return nil
	})

	if batchCount > 0 {
		if _, perr := pipe.Exec(ctx); perr != nil {
			c.log.Warnw("cache preload final pipeline exec error", "error", perr)
		}
	}
	if err != nil {
		return fmt.Errorf("cache preload: %w", err)
	}

	c.log.Infow("cache: preload complete", "processed", n)
	return nil
}
