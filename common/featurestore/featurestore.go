// Package featurestore provides the Redis-backed online feature store.
//
// Each entity owns exactly one key holding its full feature vector as
// JSON. Writes replace the vector wholesale and reset the TTL, so a
// vector is either the output of one complete aggregation cycle or
// absent; feature freshness is enforced by expiry, never by readers.
//
// Redis Key Structure:
//
//	{prefix}:{tenant_id}:{entity_id} - JSON feature vector (TTL per write)
package featurestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cartpulse/cartpulse-stack/common/config"
	"github.com/cartpulse/cartpulse-stack/common/models"
)

// ErrNotFound is returned by Get when no feature vector exists for the
// entity, which callers treat differently from a store failure.
var ErrNotFound = errors.New("feature vector not found")

// Store reads and writes per-entity feature vectors.
type Store struct {
	redis     *redis.Client
	keyPrefix string
}

// New creates a store and verifies connectivity.
func New(cfg config.RedisConfig) (*Store, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Store{redis: client, keyPrefix: cfg.KeyPrefix}, nil
}

// NewFromClient creates a store from an existing Redis connection.
func NewFromClient(client *redis.Client, keyPrefix string) *Store {
	return &Store{redis: client, keyPrefix: keyPrefix}
}

// Put replaces the entity's feature vector and resets its TTL. Partial
// updates are deliberately not supported: the vector is the unit of
// consistency.
func (s *Store) Put(ctx context.Context, record *models.FeatureRecord) error {
	if record.TTLSeconds <= 0 {
		return fmt.Errorf("feature record for %s/%s has no ttl", record.TenantID, record.EntityID)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal feature record: %w", err)
	}

	key := s.key(record.TenantID, record.EntityID)
	ttl := time.Duration(record.TTLSeconds) * time.Second
	if err := s.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write feature vector: %w", err)
	}
	return nil
}

// Get returns the entity's current feature vector, or ErrNotFound when
// none exists (never written, or expired).
func (s *Store) Get(ctx context.Context, tenantID, entityID string) (*models.FeatureRecord, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID, entityID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read feature vector: %w", err)
	}

	var record models.FeatureRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal feature record: %w", err)
	}
	return &record, nil
}

// TTL reports the remaining lifetime of an entity's feature vector.
func (s *Store) TTL(ctx context.Context, tenantID, entityID string) (time.Duration, error) {
	ttl, err := s.redis.TTL(ctx, s.key(tenantID, entityID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read ttl: %w", err)
	}
	return ttl, nil
}

// Ping verifies the store is reachable; used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.redis.Close()
}

func (s *Store) key(tenantID, entityID string) string {
	return fmt.Sprintf("%s:%s:%s", s.keyPrefix, tenantID, entityID)
}
