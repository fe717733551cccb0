// Package sqlite provides the public factory for the SQLite store while
// keeping the implementation internal.
package sqlite

import (
	"github.com/mesh-intelligence/memorykit/internal/sqlite"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// NewStore creates a new SQLite store. The store is not attached; call
// Attach with a Config to open it.
//
// Example:
//
//	store := sqlite.NewStore()
//	err := store.Attach(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".memorykit-db",
//	})
//	defer store.Detach()
func NewStore() types.Store {
	return sqlite.NewBackend()
}
