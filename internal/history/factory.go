package history

import (
	"fmt"

	"wildid/internal/models"
)

// New instantiates a history backend from configuration.
// Supported backends:
//   - memory: in-process storage for tests and development
//   - sqlite: embedded database for single-node deployments
//   - postgres: database server for multi-process deployments
func New(cfg models.HistoryConfig) (Storage, error) {
	switch cfg.Type {
	case models.HistoryTypeMemory:
		return NewMemoryStorage(), nil
	case models.HistoryTypeSQLite:
		return NewSQLiteStorage(cfg.Database)
	case models.HistoryTypePostgres:
		return NewPostgresStorage(cfg.Database)
	default:
		return nil, fmt.Errorf("unsupported history storage type: %s", cfg.Type)
	}
}
