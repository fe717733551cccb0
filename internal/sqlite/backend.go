// Package sqlite implements the MemoryKit structured store on SQLite.
// Each collection is a table with a primary key, extracted index columns and
// a JSON data column; the schema version lives in PRAGMA user_version.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mesh-intelligence/memorykit/internal/logging"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// DBFileName is the database file created inside the data directory.
const DBFileName = "memorykit.db"

// pragmas are applied to the single pooled connection on attach.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

// Backend implements types.Store using SQLite. A single connection is kept
// open; writes are serialized by mu, matching the single-writer model.
type Backend struct {
	mu           sync.RWMutex
	attached     bool
	config       types.Config
	db           *sql.DB
	collections  map[string]*collection
	logger       *logging.Logger
	upgradedFrom int
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger used to report storage failures.
func WithLogger(l *logging.Logger) Option {
	return func(b *Backend) {
		b.logger = logging.OrNop(l).With("component", "store")
	}
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to open it.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		collections: make(map[string]*collection),
		logger:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ types.Store = (*Backend)(nil)

// Collection returns the named collection.
// Returns ErrNotInitialized if the backend is not attached and
// ErrCollectionNotFound if the name is not recognized.
func (b *Backend) Collection(name string) (types.Collection, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrNotInitialized
	}
	c, ok := b.collections[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, types.ErrCollectionNotFound)
	}
	return c, nil
}

// Attach opens (or creates) DataDir/memorykit.db, applies pragmas and runs
// any pending schema migrations. Engine failures are wrapped with
// ErrStorageEngine and keep the original error attached.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return b.engineError("create data dir", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return b.engineError("open database", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return b.engineError(fmt.Sprintf("pragma %q", p), err)
		}
	}

	from, err := migrate(ctx, db)
	if err != nil {
		db.Close()
		return b.engineError("migrate schema", err)
	}
	if from < SchemaVersion {
		b.logger.Info("schema upgraded", "from", from, "to", SchemaVersion, "path", dbPath)
	}

	b.db = db
	b.config = config
	b.upgradedFrom = from
	b.attached = true
	for _, spec := range collectionSpecs {
		b.collections[spec.name] = &collection{spec: spec, backend: b}
	}
	return nil
}

// Detach closes the database. After Detach, all operations return
// ErrNotInitialized. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return b.engineError("close database", err)
		}
		b.db = nil
	}
	b.attached = false
	b.collections = make(map[string]*collection)
	return nil
}

// UpgradedFrom returns the schema version found on disk at attach time.
// Zero means the database was created by this attach.
func (b *Backend) UpgradedFrom() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.upgradedFrom
}

// DataDir returns the attached data directory.
func (b *Backend) DataDir() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config.DataDir
}

// engineError logs a storage failure and wraps it with ErrStorageEngine.
func (b *Backend) engineError(op string, err error) error {
	b.logger.Error("storage operation failed", "op", op, "error", err)
	return fmt.Errorf("%s: %w: %w", op, types.ErrStorageEngine, err)
}

// withTx runs fn in a write transaction under the backend write lock.
// Domain errors returned by fn pass through unchanged; anything else is
// treated as an engine failure.
func (b *Backend) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return types.ErrNotInitialized
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return b.engineError(op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		switch {
		case isDomainError(err):
			return err
		case isConstraintViolation(err):
			return fmt.Errorf("%s: %w", op, types.ErrDuplicateKey)
		default:
			return b.engineError(op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return b.engineError(op, err)
	}
	return nil
}

// withRead runs fn under the backend read lock.
func (b *Backend) withRead(op string, fn func(db *sql.DB) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return types.ErrNotInitialized
	}
	if err := fn(b.db); err != nil {
		if isDomainError(err) {
			return err
		}
		return b.engineError(op, err)
	}
	return nil
}

// domainErrors are returned to callers as-is rather than as engine failures.
var domainErrors = []error{
	types.ErrDuplicateKey,
	types.ErrInvalidReference,
	types.ErrInvalidData,
	types.ErrInvalidID,
	types.ErrIndexNotFound,
	types.ErrCollectionNotFound,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// isConstraintViolation reports whether err is a SQLite constraint failure.
func isConstraintViolation(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
