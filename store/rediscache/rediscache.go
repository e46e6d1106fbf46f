// Package rediscache wraps a document store with a redis read-through
// cache for Count and Distinct. Find results are never cached: they carry
// post-fetch mutation (joins, permission flags, URLs) that must stay
// per-request.
package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lodestone-cms/lodestone/store"
)

// DefaultTTL bounds staleness when the caller does not choose one.
const DefaultTTL = 30 * time.Second

// Store decorates another store.Store. Cache failures degrade to the
// inner store: redis being down must never fail a query.
type Store struct {
	inner  store.Store
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// New wraps inner with a cache. A non-positive ttl selects DefaultTTL.
func New(inner store.Store, client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{inner: inner, client: client, ttl: ttl, logger: logger}
}

// Find always passes through.
func (s *Store) Find(ctx context.Context, collection string, q store.Query) ([]store.Doc, error) {
	return s.inner.Find(ctx, collection, q)
}

// Count serves from cache when the same collection and criteria were
// counted within the TTL.
func (s *Store) Count(ctx context.Context, collection string, c store.Criteria) (int, error) {
	key, err := cacheKey("count", collection, "", c)
	if err != nil {
		return s.inner.Count(ctx, collection, c)
	}

	if cached, err := s.client.Get(ctx, key).Result(); err == nil {
		if n, err := strconv.Atoi(cached); err == nil {
			return n, nil
		}
	} else if err != redis.Nil {
		s.logger.Warn("count cache read failed", zap.String("key", key), zap.Error(err))
	}

	n, err := s.inner.Count(ctx, collection, c)
	if err != nil {
		return 0, err
	}
	if err := s.client.Set(ctx, key, strconv.Itoa(n), s.ttl).Err(); err != nil {
		s.logger.Warn("count cache write failed", zap.String("key", key), zap.Error(err))
	}
	return n, nil
}

// Distinct caches the value list as JSON.
func (s *Store) Distinct(ctx context.Context, collection string, property string, c store.Criteria) ([]any, error) {
	key, err := cacheKey("distinct", collection, property, c)
	if err != nil {
		return s.inner.Distinct(ctx, collection, property, c)
	}

	if cached, err := s.client.Get(ctx, key).Result(); err == nil {
		var values []any
		if err := json.Unmarshal([]byte(cached), &values); err == nil {
			return values, nil
		}
	} else if err != redis.Nil {
		s.logger.Warn("distinct cache read failed", zap.String("key", key), zap.Error(err))
	}

	values, err := s.inner.Distinct(ctx, collection, property, c)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(values); err == nil {
		if err := s.client.Set(ctx, key, encoded, s.ttl).Err(); err != nil {
			s.logger.Warn("distinct cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return values, nil
}

// Invalidate drops every cached entry for a collection. Callers invoke it
// after writes; granular invalidation is not worth the bookkeeping at
// this layer.
func (s *Store) Invalidate(ctx context.Context, collection string) error {
	var cursor uint64
	pattern := fmt.Sprintf("lodestone:*:%s:*", collection)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("rediscache: scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("rediscache: delete keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// cacheKey hashes the criteria (json map keys marshal in sorted order, so
// equal criteria produce equal keys) under a readable prefix.
func cacheKey(kind, collection, property string, c store.Criteria) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append([]byte(property+"\x00"), raw...))
	return fmt.Sprintf("lodestone:%s:%s:%s", kind, collection, hex.EncodeToString(sum[:8])), nil
}
