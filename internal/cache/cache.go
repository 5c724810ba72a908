// Package cache provides caching implementations for Kestrel.
package cache

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a cache based on configuration.
// Community tier: in-process LRU. Pro tier: Redis.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// PredictionKey derives a cache key from an encoded feature vector.
// Identical vectors always map to the same key, so repeated submissions
// of the same transaction shape reuse the memoized score.
func PredictionKey(v domain.FeatureVector) string {
	h := fnv.New64a()
	var buf [8]byte
	for _, f := range v {
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}
	return "prediction:" + strconv.FormatUint(h.Sum64(), 16)
}

// GetPrediction retrieves a memoized prediction, or nil on a miss.
func GetPrediction(ctx context.Context, c domain.Cache, v domain.FeatureVector) (*domain.Prediction, error) {
	data, err := c.Get(ctx, PredictionKey(v))
	if err != nil || data == nil {
		return nil, err
	}

	var p domain.Prediction
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SetPrediction memoizes a prediction under its feature-vector key.
func SetPrediction(ctx context.Context, c domain.Cache, p *domain.Prediction, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.Set(ctx, PredictionKey(p.Features), data, ttl)
}
