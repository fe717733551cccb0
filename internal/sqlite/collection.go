package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// collection implements types.Collection for one table.
type collection struct {
	spec    collectionSpec
	backend *Backend
}

var _ types.Collection = (*collection)(nil)

// Add inserts a new record. Returns ErrDuplicateKey if the primary key or a
// unique column value is taken, ErrInvalidReference if a referenced record
// does not exist.
func (c *collection) Add(ctx context.Context, record any) (string, error) {
	enc, err := encodeRecord(c.spec.name, record)
	if err != nil {
		return "", err
	}
	err = c.backend.withTx(ctx, "add "+c.spec.name, func(tx *sql.Tx) error {
		exists, err := keyExists(ctx, tx, c.spec, enc.key)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%s %q: %w", c.spec.name, enc.key, types.ErrDuplicateKey)
		}
		if err := checkUnique(ctx, tx, c.spec, enc); err != nil {
			return err
		}
		if err := checkReferences(ctx, tx, c.spec.name, record); err != nil {
			return err
		}
		return insertRecord(ctx, tx, c.spec, enc)
	})
	if err != nil {
		return "", err
	}
	return enc.key, nil
}

// Update creates or overwrites a record. The original storage position of
// an existing record is kept.
func (c *collection) Update(ctx context.Context, record any) (string, error) {
	enc, err := encodeRecord(c.spec.name, record)
	if err != nil {
		return "", err
	}
	err = c.backend.withTx(ctx, "update "+c.spec.name, func(tx *sql.Tx) error {
		if err := checkUnique(ctx, tx, c.spec, enc); err != nil {
			return err
		}
		if err := checkReferences(ctx, tx, c.spec.name, record); err != nil {
			return err
		}
		return upsertRecord(ctx, tx, c.spec, enc)
	})
	if err != nil {
		return "", err
	}
	return enc.key, nil
}

// Get returns the record or nil when the key does not exist. The empty
// key never exists.
func (c *collection) Get(ctx context.Context, key string) (any, error) {
	var rec any
	err := c.backend.withRead("get "+c.spec.name, func(db *sql.DB) error {
		var data string
		err := db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT data FROM %s WHERE %s = ?", c.spec.table, c.spec.keyCol), key,
		).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("querying %s: %w", c.spec.name, err)
		}
		rec, err = decodeRecord(c.spec.name, []byte(data))
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetAll returns every record in storage order.
func (c *collection) GetAll(ctx context.Context) ([]any, error) {
	var out []any
	err := c.backend.withRead("get all "+c.spec.name, func(db *sql.DB) error {
		var err error
		out, err = queryRecords(ctx, db, c.spec,
			fmt.Sprintf("SELECT data FROM %s ORDER BY rowid", c.spec.table))
		return err
	})
	return out, err
}

// Delete removes the record. A missing key is not an error.
func (c *collection) Delete(ctx context.Context, key string) error {
	return c.backend.withTx(ctx, "delete "+c.spec.name, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s = ?", c.spec.table, c.spec.keyCol), key)
		return err
	})
}

// QueryByIndex returns every record whose indexed field equals value, in
// storage order.
func (c *collection) QueryByIndex(ctx context.Context, index, value string) ([]any, error) {
	col, ok := c.spec.indexes[index]
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", c.spec.name, index, types.ErrIndexNotFound)
	}
	var out []any
	err := c.backend.withRead("query "+c.spec.name, func(db *sql.DB) error {
		var err error
		out, err = queryRecords(ctx, db, c.spec,
			fmt.Sprintf("SELECT data FROM %s WHERE %s = ? ORDER BY rowid", c.spec.table, col), value)
		return err
	})
	return out, err
}

// queryRecords runs a SELECT data query and decodes every row.
func queryRecords(ctx context.Context, q queryer, spec collectionSpec, query string, args ...any) ([]any, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", spec.name, err)
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", spec.name, err)
		}
		rec, err := decodeRecord(spec.name, []byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// keyExists reports whether a record with the primary key exists.
func keyExists(ctx context.Context, q queryer, spec collectionSpec, key string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", spec.table, spec.keyCol), key,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking %s key: %w", spec.name, err)
	}
	return n > 0, nil
}

// checkUnique returns ErrDuplicateKey if another record already holds one
// of the record's unique column values.
func checkUnique(ctx context.Context, q queryer, spec collectionSpec, enc encodedRecord) error {
	for _, ucol := range spec.unique {
		idx := columnIndex(spec, ucol)
		if idx < 0 {
			continue
		}
		var n int
		err := q.QueryRowContext(ctx,
			fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ? AND %s <> ?", spec.table, ucol, spec.keyCol),
			enc.values[idx], enc.key,
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("checking %s.%s: %w", spec.name, ucol, err)
		}
		if n > 0 {
			return fmt.Errorf("%s %s %v: %w", spec.name, ucol, enc.values[idx], types.ErrDuplicateKey)
		}
	}
	return nil
}

func columnIndex(spec collectionSpec, col string) int {
	for i, c := range spec.columns {
		if c == col {
			return i
		}
	}
	return -1
}

// checkReferences enforces instance -> object type and value -> instance and
// template references.
func checkReferences(ctx context.Context, q queryer, collectionName string, record any) error {
	switch collectionName {
	case types.InstancesCollection:
		in := record.(*types.Instance)
		exists, err := keyExists(ctx, q, mustSpec(types.ObjectTypesCollection), in.TypeID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("object type %s: %w", in.TypeID, types.ErrInvalidReference)
		}

	case types.ValuesCollection:
		v := record.(*types.Value)
		var data string
		err := q.QueryRowContext(ctx,
			`SELECT o.data FROM instances i JOIN object_types o ON o.id = i.type_id WHERE i.id = ?`,
			v.InstanceID,
		).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("instance %s: %w", v.InstanceID, types.ErrInvalidReference)
		}
		if err != nil {
			return fmt.Errorf("resolving value references: %w", err)
		}
		var ot types.ObjectType
		if err := json.Unmarshal([]byte(data), &ot); err != nil {
			return fmt.Errorf("decoding object type: %w", err)
		}
		if _, ok := ot.Template(v.TemplateID); !ok {
			return fmt.Errorf("template %s on type %s: %w", v.TemplateID, ot.Key, types.ErrInvalidReference)
		}
	}
	return nil
}

func mustSpec(name string) collectionSpec {
	spec, ok := specByName(name)
	if !ok {
		panic("unknown collection " + name)
	}
	return spec
}

// allColumns returns the key column, extracted columns and data column.
func allColumns(spec collectionSpec) []string {
	cols := make([]string, 0, len(spec.columns)+2)
	cols = append(cols, spec.keyCol)
	cols = append(cols, spec.columns...)
	return append(cols, "data")
}

func recordArgs(enc encodedRecord) []any {
	args := make([]any, 0, len(enc.values)+2)
	args = append(args, enc.key)
	args = append(args, enc.values...)
	return append(args, string(enc.data))
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// insertRecord inserts a row, failing on any constraint violation.
func insertRecord(ctx context.Context, q queryer, spec collectionSpec, enc encodedRecord) error {
	cols := allColumns(spec)
	_, err := q.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", spec.table, strings.Join(cols, ", "), placeholders(len(cols))),
		recordArgs(enc)...)
	if err != nil {
		return fmt.Errorf("inserting %s: %w", spec.name, err)
	}
	return nil
}

// upsertRecord inserts a row or overwrites the existing row with the same
// primary key in place.
func upsertRecord(ctx context.Context, q queryer, spec collectionSpec, enc encodedRecord) error {
	cols := allColumns(spec)
	sets := make([]string, 0, len(cols)-1)
	for _, col := range cols[1:] {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	_, err := q.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
			spec.table, strings.Join(cols, ", "), placeholders(len(cols)), spec.keyCol, strings.Join(sets, ", ")),
		recordArgs(enc)...)
	if err != nil {
		return fmt.Errorf("upserting %s: %w", spec.name, err)
	}
	return nil
}
