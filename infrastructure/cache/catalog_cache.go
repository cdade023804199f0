package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/shelfwise/action-engine/domain/service"
	"github.com/shelfwise/action-engine/pkg/logging"
	"github.com/shelfwise/action-engine/pkg/metrics"
)

// CatalogCache is a read-through Redis cache in front of the catalog.
// Snapshots are stored msgpack-encoded under a per-SKU key. Cache failures
// degrade to direct catalog reads, never to request failures.
type CatalogCache struct {
	source  service.CatalogReader
	client  *redis.Client
	logger  *logging.Logger
	metrics *metrics.Collector
	ttl     time.Duration
}

// NewCatalogCache wraps a catalog reader with a Redis cache
func NewCatalogCache(source service.CatalogReader, client *redis.Client, ttl time.Duration, logger *logging.Logger, collector *metrics.Collector) *CatalogCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CatalogCache{
		source:  source,
		client:  client,
		logger:  logger.WithComponent("catalog_cache"),
		metrics: collector,
		ttl:     ttl,
	}
}

// GetSKU returns the cached snapshot when present, otherwise reads through
// to the catalog and caches the result
func (c *CatalogCache) GetSKU(ctx context.Context, sku string) (*service.SKUSnapshot, error) {
	key := c.key(sku)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var snapshot service.SKUSnapshot
		if err := msgpack.Unmarshal(data, &snapshot); err == nil {
			c.metrics.CacheOperations.WithLabelValues("get", "hit").Inc()
			return &snapshot, nil
		}
		c.logger.Warn("failed to decode cached SKU, rereading", zap.String("sku", sku))
	} else if err != redis.Nil {
		c.logger.Warn("cache read failed, falling back to catalog", zap.String("sku", sku), zap.Error(err))
		c.metrics.CacheOperations.WithLabelValues("get", "error").Inc()
	} else {
		c.metrics.CacheOperations.WithLabelValues("get", "miss").Inc()
	}

	snapshot, err := c.source.GetSKU(ctx, sku)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, snapshot)
	return snapshot, nil
}

// InvalidateSKU drops the cached entry so the next read hits the catalog
func (c *CatalogCache) InvalidateSKU(ctx context.Context, sku string) error {
	if err := c.client.Del(ctx, c.key(sku)).Err(); err != nil {
		c.metrics.CacheOperations.WithLabelValues("del", "error").Inc()
		return fmt.Errorf("failed to invalidate cached SKU %s: %w", sku, err)
	}
	c.metrics.CacheOperations.WithLabelValues("del", "ok").Inc()
	return nil
}

func (c *CatalogCache) store(ctx context.Context, key string, snapshot *service.SKUSnapshot) {
	data, err := msgpack.Marshal(snapshot)
	if err != nil {
		c.logger.Warn("failed to encode SKU snapshot for cache", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to cache SKU snapshot", zap.String("key", key), zap.Error(err))
		c.metrics.CacheOperations.WithLabelValues("set", "error").Inc()
		return
	}
	c.metrics.CacheOperations.WithLabelValues("set", "ok").Inc()
}

func (c *CatalogCache) key(sku string) string {
	return "catalog:sku:" + sku
}
