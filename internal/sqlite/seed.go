package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// SeedObjectTypes inserts the given object types and meta entries in a
// single transaction if the object type collection is empty. It returns
// false without writing anything when any object type already exists.
func (b *Backend) SeedObjectTypes(ctx context.Context, objectTypes []*types.ObjectType, meta []*types.MetaEntry) (bool, error) {
	seeded := false
	err := b.withTx(ctx, "seed object types", func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM object_types").Scan(&count); err != nil {
			return fmt.Errorf("counting object types: %w", err)
		}
		if count > 0 {
			return nil
		}

		otSpec := mustSpec(types.ObjectTypesCollection)
		for _, ot := range objectTypes {
			enc, err := encodeRecord(types.ObjectTypesCollection, ot)
			if err != nil {
				return err
			}
			if err := insertRecord(ctx, tx, otSpec, enc); err != nil {
				return fmt.Errorf("seeding object type %s: %w", ot.Key, err)
			}
		}

		metaSpec := mustSpec(types.MetaCollection)
		for _, m := range meta {
			enc, err := encodeRecord(types.MetaCollection, m)
			if err != nil {
				return err
			}
			if err := upsertRecord(ctx, tx, metaSpec, enc); err != nil {
				return fmt.Errorf("seeding meta %s: %w", m.Key, err)
			}
		}
		seeded = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if seeded {
		b.logger.Info("object types seeded", "count", len(objectTypes))
	}
	return seeded, nil
}
