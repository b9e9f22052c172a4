package ports

import (
	"context"

	"github.com/reglet-dev/reglet-workers/domain/entities"
)

// StateStore persists durable object state, scoped per state handle.
type StateStore interface {
	// Get returns the value stored under key, and false if it is absent.
	Get(ctx context.Context, h entities.StateHandle, key string) ([]byte, bool, error)

	// Put stores value under key.
	Put(ctx context.Context, h entities.StateHandle, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, h entities.StateHandle, key string) error

	// List returns the keys with the given prefix in ascending order.
	List(ctx context.Context, h entities.StateHandle, prefix string) ([]string, error)

	// Close releases the store.
	Close() error
}
