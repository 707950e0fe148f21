package repository

import (
	"context"
	"fmt"
)

const (
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

// NewFromConfig creates a Repository for the configured backend type.
// "memory" creates an in-memory repository, useful for tests and for running
// without a MongoDB instance. "mongo" (default) connects to MongoDB.
func NewFromConfig(ctx context.Context, backend string, opts MongoOptions) (Repository, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryRepository(), nil
	case BackendMongo, "":
		return NewMongoRepository(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown repository backend: %s (supported: %s, %s)", backend, BackendMongo, BackendMemory)
	}
}
