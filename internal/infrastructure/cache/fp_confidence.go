package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// FPPattern is a cached false-positive pattern with its rolling confidence.
type FPPattern struct {
	PatternID  string    `json:"pattern_id"`
	TenantID   string    `json:"tenant_id"`
	Confidence float64   `json:"confidence"`
	Hits       int64     `json:"hits"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FPConfidenceCache caches false-positive pattern confidence scores so
// triage can auto-close known noise without a round trip to Postgres. The
// cache is an optimization and fails open: any Redis error is a miss.
type FPConfidenceCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewFPConfidenceCache creates the cache. A zero ttl means entries do not
// expire.
func NewFPConfidenceCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *FPConfidenceCache {
	return &FPConfidenceCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("fp_cache"),
	}
}

func fpKey(tenantID, patternID string) string {
	return fmt.Sprintf("fp:pattern:%s:%s", tenantID, patternID)
}

// Get returns the cached pattern, or (nil, false) on a miss or error.
func (c *FPConfidenceCache) Get(ctx context.Context, tenantID, patternID string) (*FPPattern, bool) {
	data, err := c.client.Get(ctx, fpKey(tenantID, patternID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("fp cache read failed, treating as miss",
				zap.String("tenant_id", tenantID),
				zap.String("pattern_id", patternID),
				zap.Error(err))
		}
		return nil, false
	}

	var pattern FPPattern
	if err := json.Unmarshal(data, &pattern); err != nil {
		c.logger.Warn("fp cache entry corrupt, treating as miss",
			zap.String("pattern_id", patternID), zap.Error(err))
		return nil, false
	}
	return &pattern, true
}

// Set stores the pattern. Failures are logged and swallowed.
func (c *FPConfidenceCache) Set(ctx context.Context, pattern *FPPattern) {
	data, err := json.Marshal(pattern)
	if err != nil {
		c.logger.Warn("fp cache marshal failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, fpKey(pattern.TenantID, pattern.PatternID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("fp cache write failed",
			zap.String("pattern_id", pattern.PatternID), zap.Error(err))
	}
}

// Invalidate drops a cached pattern, e.g. after a guard adjusts thresholds.
func (c *FPConfidenceCache) Invalidate(ctx context.Context, tenantID, patternID string) {
	if err := c.client.Del(ctx, fpKey(tenantID, patternID)).Err(); err != nil {
		c.logger.Warn("fp cache invalidate failed",
			zap.String("pattern_id", patternID), zap.Error(err))
	}
}
