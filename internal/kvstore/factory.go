package kvstore

import (
	"fmt"
	"time"

	"wildid/internal/models"
)

// New instantiates a Store based on configuration.
// Supported backends:
//   - memory: in-process map (single-process deployments, tests)
//   - redis:  shared cache (required for multi-process deployments)
func New(cfg models.StoreConfig) (Store, error) {
	switch cfg.Type {
	case models.StoreTypeMemory:
		return NewMemoryStore(time.Minute), nil
	case models.StoreTypeRedis:
		return NewRedisStore(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}
