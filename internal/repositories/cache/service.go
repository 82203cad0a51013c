package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cascade/internal/models"

	"github.com/redis/go-redis/v9"
)

type CacheService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCacheService(client *redis.Client, defaultTTL time.Duration) *CacheService {
	return &CacheService{
		client: client,
		ttl:    defaultTTL,
	}
}

// Base operations
func (s *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return s.SetWithTTL(ctx, key, value, s.ttl)
}

func (s *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to get cache value: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return true, nil
}

func (s *CacheService) Delete(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

// Key generation
func (s *CacheService) GenerateKey(entityType, keyType string, value interface{}) string {
	return fmt.Sprintf("%s:%s:%v", entityType, keyType, value)
}

// Decision caching. Finalized decisions are immutable so they cache long;
// pending ones cache briefly to absorb polling.
func (s *CacheService) CacheDecision(ctx context.Context, decision *models.RoutingDecision) error {
	if decision == nil {
		return errors.New("cannot cache nil decision")
	}

	ttl := 30 * time.Second
	if decision.Final() {
		ttl = s.ttl
	}

	keys := []string{s.GenerateKey("decision", "id", decision.ID)}
	if decision.TransactionRef != "" {
		keys = append(keys, s.DecisionRefKey(decision.MerchantID, decision.TransactionRef))
	}

	for _, key := range keys {
		if err := s.SetWithTTL(ctx, key, decision, ttl); err != nil {
			return err
		}
	}
	return nil
}

// DecisionRefKey scopes transaction-ref lookups by merchant; refs are only
// unique per merchant.
func (s *CacheService) DecisionRefKey(merchantID uint, ref string) string {
	return s.GenerateKey("decision", "ref", fmt.Sprintf("%d:%s", merchantID, ref))
}

func (s *CacheService) GetDecision(ctx context.Context, key string) (*models.RoutingDecision, error) {
	var decision models.RoutingDecision
	found, err := s.Get(ctx, key, &decision)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &decision, nil
}

func (s *CacheService) InvalidateDecision(ctx context.Context, decision *models.RoutingDecision) error {
	keys := []string{s.GenerateKey("decision", "id", decision.ID)}
	if decision.TransactionRef != "" {
		keys = append(keys, s.DecisionRefKey(decision.MerchantID, decision.TransactionRef))
	}
	return s.Delete(ctx, keys...)
}

// FlushAll flushes all keys from the cache
func (s *CacheService) FlushAll(ctx context.Context) error {
	return s.client.FlushAll(ctx).Err()
}

// Close closes the Redis client connection
func (s *CacheService) Close() error {
	return s.client.Close()
}
