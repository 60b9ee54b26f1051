package storage

import (
	"fmt"

	"github.com/amoylab/roomhub/internal/common/config"

	"go.uber.org/zap"
)

// Type represents the type of store
type Type string

const (
	// TypeMemory represents the in-memory store
	TypeMemory Type = "memory"
	// TypeDB represents the gorm-backed store
	TypeDB Type = "db"
	// TypeRedis represents the Redis-backed store
	TypeRedis Type = "redis"
)

// NewStore creates a store based on configuration
func NewStore(logger *zap.Logger, cfg *config.StorageConfig) (Store, error) {
	logger.Info("Initializing chat store", zap.String("type", cfg.Type))
	switch Type(cfg.Type) {
	case TypeMemory:
		return NewMemoryStore(logger), nil
	case TypeDB:
		return NewDBStore(logger, &cfg.Database)
	case TypeRedis:
		return NewRedisStore(logger, cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}
