package decision

import (
	"context"
	"sync"

	"cascade/internal/models"
)

// Cache is the decision-cache surface the recorder consumes. Reads miss
// softly (nil, nil); writes are best effort.
type Cache interface {
	CacheDecision(ctx context.Context, decision *models.RoutingDecision) error
	GetDecision(ctx context.Context, key string) (*models.RoutingDecision, error)
	GenerateKey(entityType, keyType string, value interface{}) string
	DecisionRefKey(merchantID uint, ref string) string
}

// tracked is one active decision's in-memory copy, mutated under its own
// lock until finalization drops it.
type tracked struct {
	mu  sync.Mutex
	dec *models.RoutingDecision
}
