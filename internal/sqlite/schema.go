package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the schema version this code expects. It is persisted in
// PRAGMA user_version; opening a database with a lower version runs the
// missing migrations in order.
const SchemaVersion = 2

// Collection table DDL, version 1.
const (
	createObjectTypes = `CREATE TABLE IF NOT EXISTS object_types (
    id TEXT PRIMARY KEY,
    type_key TEXT NOT NULL UNIQUE,
    data TEXT NOT NULL
);`

	createInstances = `CREATE TABLE IF NOT EXISTS instances (
    id TEXT PRIMARY KEY,
    instance_key TEXT NOT NULL UNIQUE,
    type_id TEXT NOT NULL,
    scope_type TEXT NOT NULL,
    data TEXT NOT NULL
);`

	createAttributeValues = `CREATE TABLE IF NOT EXISTS attribute_values (
    id TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL,
    template_id TEXT NOT NULL,
    status TEXT NOT NULL,
    data TEXT NOT NULL
);`

	createDiffs = `CREATE TABLE IF NOT EXISTS diffs (
    id TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TEXT NOT NULL,
    data TEXT NOT NULL
);`

	createSettings = `CREATE TABLE IF NOT EXISTS settings (
    setting_key TEXT PRIMARY KEY,
    data TEXT NOT NULL
);`

	createMeta = `CREATE TABLE IF NOT EXISTS meta (
    meta_key TEXT PRIMARY KEY,
    meta_type TEXT NOT NULL,
    data TEXT NOT NULL
);`
)

// Index DDL, version 1.
const (
	idxInstancesType  = `CREATE INDEX IF NOT EXISTS idx_instances_type ON instances(type_id);`
	idxInstancesScope = `CREATE INDEX IF NOT EXISTS idx_instances_scope ON instances(scope_type);`
	idxValuesInstance = `CREATE INDEX IF NOT EXISTS idx_values_instance ON attribute_values(instance_id);`
	idxValuesTemplate = `CREATE INDEX IF NOT EXISTS idx_values_template ON attribute_values(template_id);`
	idxValuesStatus   = `CREATE INDEX IF NOT EXISTS idx_values_status ON attribute_values(status);`
	idxDiffsInstance  = `CREATE INDEX IF NOT EXISTS idx_diffs_instance ON diffs(instance_id);`
	idxDiffsStatus    = `CREATE INDEX IF NOT EXISTS idx_diffs_status ON diffs(status);`
	idxDiffsCreatedAt = `CREATE INDEX IF NOT EXISTS idx_diffs_created_at ON diffs(created_at);`
	idxMetaType       = `CREATE INDEX IF NOT EXISTS idx_meta_type ON meta(meta_type);`
)

// Version 2 tracks the second phase of diff apply in its own column so
// recovery can find interrupted applies without decoding every diff.
const (
	addDiffsValuesWritten = `ALTER TABLE diffs ADD COLUMN values_written INTEGER NOT NULL DEFAULT 0;`
	backfillValuesWritten = `UPDATE diffs SET values_written = 1 WHERE status = 'APPLIED';`
	idxDiffsRecovery      = `CREATE INDEX IF NOT EXISTS idx_diffs_recovery ON diffs(status, values_written);`
)

// schemaDDL lists all version 1 CREATE TABLE statements.
var schemaDDL = []string{
	createObjectTypes,
	createInstances,
	createAttributeValues,
	createDiffs,
	createSettings,
	createMeta,
}

// indexDDL lists all version 1 CREATE INDEX statements.
var indexDDL = []string{
	idxInstancesType,
	idxInstancesScope,
	idxValuesInstance,
	idxValuesTemplate,
	idxValuesStatus,
	idxDiffsInstance,
	idxDiffsStatus,
	idxDiffsCreatedAt,
	idxMetaType,
}

// migration is an additive schema step. Steps never drop or rewrite data
// beyond backfilling new columns.
type migration struct {
	version    int
	statements []string
}

// migrations lists every schema step in version order.
var migrations = []migration{
	{version: 1, statements: append(append([]string{}, schemaDDL...), indexDDL...)},
	{version: 2, statements: []string{addDiffsValuesWritten, backfillValuesWritten, idxDiffsRecovery}},
}

// schemaVersion reads PRAGMA user_version.
func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// migrate brings the database up to SchemaVersion. Each step runs in its own
// transaction together with the user_version bump. It returns the version
// found before migrating.
func migrate(ctx context.Context, db *sql.DB) (int, error) {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return 0, err
	}
	if current > SchemaVersion {
		return current, fmt.Errorf("database schema version %d is newer than supported version %d", current, SchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return current, fmt.Errorf("beginning migration %d: %w", m.version, err)
		}
		for _, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return current, fmt.Errorf("migration %d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return current, fmt.Errorf("setting schema version %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return current, fmt.Errorf("committing migration %d: %w", m.version, err)
		}
	}
	return current, nil
}
