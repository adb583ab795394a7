// Package storage selects and builds the configured StorageManager backend.
package storage

import (
	"context"
	"fmt"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/storage/memory"
	"github.com/bobmcallan/provsync/internal/storage/surrealdb"
)

// Backend type constants.
const (
	BackendSurrealDB = "surrealdb"
	BackendMemory    = "memory"
)

// NewStorageManager creates a storage manager based on the configuration.
// Supported backends: "surrealdb" (default), "memory".
func NewStorageManager(ctx context.Context, logger *common.Logger, config *common.Config) (interfaces.StorageManager, error) {
	backend := config.Storage.Backend
	if backend == "" {
		backend = BackendSurrealDB
	}

	switch backend {
	case BackendSurrealDB:
		mgr, err := surrealdb.NewManager(ctx, logger, config)
		if err != nil {
			return nil, fmt.Errorf("failed to open surrealdb storage: %w", err)
		}
		return mgr, nil

	case BackendMemory:
		logger.Warn().Msg("Using in-memory storage - data will not survive a restart")
		return memory.NewManager(logger), nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: surrealdb, memory)", backend)
	}
}
