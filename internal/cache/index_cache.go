// Package cache keeps encoded containment index records in redis so that a
// restarted or scaled-out service can load an index without reading every
// cell back from PostgreSQL.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stwalsh4118/areaindex/internal/config"
	"github.com/stwalsh4118/areaindex/internal/logger"
	"github.com/stwalsh4118/areaindex/internal/metrics"
	"github.com/stwalsh4118/areaindex/internal/models"
)

const keyPrefix = "areaindex"

// IndexCache stores index records by (area, srid).
type IndexCache interface {
	// Get returns the cached record, or nil, nil on a miss.
	Get(ctx context.Context, areaID int64, srid models.SRID) (*models.IndexRecord, error)
	// Set stores the record, replacing any previous value.
	Set(ctx context.Context, record *models.IndexRecord) error
	// Delete removes one record.
	Delete(ctx context.Context, areaID int64, srid models.SRID) error
	// DeleteArea removes the records of an area in every SRID.
	DeleteArea(ctx context.Context, areaID int64) error
}

// Key returns the redis key of an index record.
func Key(areaID int64, srid models.SRID) string {
	return fmt.Sprintf("%s:%d:%d", keyPrefix, areaID, srid)
}

func areaPattern(areaID int64) string {
	return fmt.Sprintf("%s:%d:*", keyPrefix, areaID)
}

// OpenRedis creates a client from cfg. It returns nil when no address is
// configured.
func OpenRedis(cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled() {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisIndexCache is the redis implementation of IndexCache.
type RedisIndexCache struct {
	client *redis.Client
	log    *logger.Logger
	ttl    time.Duration
}

// NewRedisIndexCache wraps client. A zero ttl keeps records until deleted.
func NewRedisIndexCache(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisIndexCache {
	return &RedisIndexCache{client: client, ttl: ttl, log: log}
}

func (c *RedisIndexCache) Get(ctx context.Context, areaID int64, srid models.SRID) (*models.IndexRecord, error) {
	data, err := c.client.Get(ctx, Key(areaID, srid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.RedisMissesTotal.Inc()
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached index of area %d: %w", areaID, err)
	}

	record, err := Decode(data)
	if err != nil {
		// unreadable entries are dropped and treated as a miss
		c.log.Warn("Discarding corrupt cached index", map[string]interface{}{
			"area_id": areaID,
			"srid":    srid,
			"error":   err.Error(),
		})
		_ = c.client.Del(ctx, Key(areaID, srid)).Err()
		metrics.RedisMissesTotal.Inc()
		return nil, nil
	}
	if record.AreaID != areaID || record.SRID != srid {
		metrics.RedisMissesTotal.Inc()
		return nil, nil
	}

	metrics.RedisHitsTotal.Inc()
	return record, nil
}

func (c *RedisIndexCache) Set(ctx context.Context, record *models.IndexRecord) error {
	data, err := Encode(record)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, Key(record.AreaID, record.SRID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache index of area %d: %w", record.AreaID, err)
	}
	return nil
}

func (c *RedisIndexCache) Delete(ctx context.Context, areaID int64, srid models.SRID) error {
	if err := c.client.Del(ctx, Key(areaID, srid)).Err(); err != nil {
		return fmt.Errorf("failed to evict cached index of area %d: %w", areaID, err)
	}
	return nil
}

func (c *RedisIndexCache) DeleteArea(ctx context.Context, areaID int64) error {
	iter := c.client.Scan(ctx, 0, areaPattern(areaID), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cached indexes of area %d: %w", areaID, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to evict cached indexes of area %d: %w", areaID, err)
	}
	return nil
}
