package types

import (
	"context"
	"errors"
	"fmt"
)

// Store is the versioned local store holding the memory collections.
// Callers attach to a backend, access collections by name, and detach when
// done.
type Store interface {
	// Collection returns the named collection.
	// Returns ErrCollectionNotFound if the name is not a standard collection.
	Collection(name string) (Collection, error)

	// Attach opens the backend described by config, creating the DataDir
	// if needed and upgrading the schema to the current version. Returns
	// ErrAlreadyAttached if called while already attached.
	Attach(config Config) error

	// Detach releases backend resources. Idempotent: multiple calls succeed.
	// After Detach, collection operations return ErrNotInitialized.
	Detach() error
}

// Collection provides uniform CRUD and index lookups over one record family.
// Records are passed as pointers to the entity structs of this package and
// returned the same way; callers type-assert.
type Collection interface {
	// Add inserts a new record. When the record has no primary key a UUID v7
	// is generated and written back into it. Returns ErrDuplicateKey if the
	// primary key or a unique index value already exists.
	Add(ctx context.Context, record any) (string, error)

	// Get returns the record with the given primary key, or nil when no such
	// record exists. A missing key is not an error.
	Get(ctx context.Context, key string) (any, error)

	// GetAll returns every record in storage order.
	GetAll(ctx context.Context) ([]any, error)

	// Update creates or overwrites the record (upsert).
	Update(ctx context.Context, record any) (string, error)

	// Delete removes the record. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error

	// QueryByIndex returns every record whose indexed field equals value, in
	// storage order. Returns ErrIndexNotFound for an unknown index name.
	QueryByIndex(ctx context.Context, index, value string) ([]any, error)
}

// Store lifecycle errors.
var (
	ErrNotInitialized     = errors.New("not initialized")
	ErrAlreadyAttached    = errors.New("store is already attached")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrIndexNotFound      = errors.New("index not found")
	ErrStorageEngine      = errors.New("storage engine failure")
)

// Record operation errors.
var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicateKey     = errors.New("duplicate key")
	ErrInvalidID        = errors.New("invalid record ID")
	ErrInvalidData      = errors.New("invalid record data")
	ErrInvalidReference = errors.New("referenced record does not exist")
)

// Entity and validation errors.
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTimeMode   = fmt.Errorf("%w: invalid time mode", ErrValidation)
	ErrInvalidRange      = errors.New("invalid range")
)

// Gateway errors.
var (
	ErrUnsupportedCapability = errors.New("unsupported capability")
	ErrChatNotFound          = errors.New("chat not found or not current")
)
