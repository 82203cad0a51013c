package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Invalidation channel for routing snapshot caches. Rule and pool writes
// publish here so every instance drops its compiled snapshot, not just the
// one that served the write.
const invalidationChannel = "cascade:invalidations"

// Invalidation kinds.
const (
	InvalidateRules = "rules"
	InvalidatePools = "pools"
)

// Invalidation names one stale snapshot. MerchantID scopes rule
// invalidations; PoolID scopes pool invalidations.
type Invalidation struct {
	Kind       string `json:"kind"`
	MerchantID uint   `json:"merchant_id,omitempty"`
	PoolID     uint   `json:"pool_id,omitempty"`
	Origin     string `json:"origin,omitempty"`
}

// Broadcaster publishes and consumes snapshot invalidations over Redis
// pub/sub. Local caches are always invalidated synchronously by the writer;
// the broadcast only covers other instances, so delivery is best effort.
type Broadcaster struct {
	client *redis.Client
	origin string
}

func NewBroadcaster(client *redis.Client, origin string) *Broadcaster {
	return &Broadcaster{client: client, origin: origin}
}

// Publish sends one invalidation. Errors are returned for logging; the
// caller's local invalidation has already happened.
func (b *Broadcaster) Publish(ctx context.Context, inv Invalidation) error {
	inv.Origin = b.origin
	payload, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation: %w", err)
	}
	return b.client.Publish(ctx, invalidationChannel, payload).Err()
}

// Listen consumes invalidations until ctx is done, calling handler for each
// message that originated elsewhere. Malformed payloads are skipped.
func (b *Broadcaster) Listen(ctx context.Context, handler func(Invalidation)) error {
	sub := b.client.Subscribe(ctx, invalidationChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var inv Invalidation
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				continue
			}
			if inv.Origin == b.origin {
				continue
			}
			handler(inv)
		}
	}
}
