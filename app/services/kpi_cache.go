package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/invoice-sentinel/repository"
	"github.com/amirphl/invoice-sentinel/utils"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const kpiCacheKey = "kpis"

// KPIProvider computes the dashboard KPIs
type KPIProvider interface {
	KPIs(ctx context.Context) (*repository.AnomalyKPIs, error)
}

// KPICache serves KPIs from Redis and recomputes them on a miss. A nil Redis
// client disables caching.
type KPICache struct {
	rc       *redis.Client
	provider KPIProvider
	prefix   string
	ttl      time.Duration
	logger   *logrus.Logger
}

// NewKPICache creates a KPI cache in front of provider
func NewKPICache(rc *redis.Client, provider KPIProvider, prefix string, ttl time.Duration, logger *logrus.Logger) *KPICache {
	if ttl <= 0 {
		ttl = utils.DefaultKPICacheTTL
	}
	return &KPICache{rc: rc, provider: provider, prefix: prefix, ttl: ttl, logger: logger}
}

func (c *KPICache) key() string {
	return c.prefix + kpiCacheKey
}

// KPIs returns the cached KPIs, computing and storing them on a miss. Cache
// failures fall back to the provider.
func (c *KPICache) KPIs(ctx context.Context) (*repository.AnomalyKPIs, error) {
	if c.rc == nil {
		return c.provider.KPIs(ctx)
	}

	bs, err := c.rc.Get(ctx, c.key()).Bytes()
	switch {
	case err == nil && len(bs) > 0:
		var cached repository.AnomalyKPIs
		if err := json.Unmarshal(bs, &cached); err == nil {
			return &cached, nil
		}
		c.logger.WithField("key", c.key()).Warn("Discarding undecodable cached KPIs")
	case err != nil && !errors.Is(err, redis.Nil):
		c.logger.WithError(err).Warn("KPI cache read failed")
	}

	kpis, err := c.provider.KPIs(ctx)
	if err != nil {
		return nil, err
	}
	if bs, err := json.Marshal(kpis); err == nil {
		if err := c.rc.Set(ctx, c.key(), bs, c.ttl).Err(); err != nil {
			c.logger.WithError(err).Warn("KPI cache write failed")
		}
	}
	return kpis, nil
}

// Invalidate drops the cached KPIs
func (c *KPICache) Invalidate(ctx context.Context) error {
	if c.rc == nil {
		return nil
	}
	if err := c.rc.Del(ctx, c.key()).Err(); err != nil {
		return fmt.Errorf("failed to invalidate KPI cache: %w", err)
	}
	return nil
}
