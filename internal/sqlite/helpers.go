package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// getAs fetches one record and asserts its entity type. A missing key
// returns the zero pointer and no error.
func getAs[T any](ctx context.Context, b *Backend, collection, key string) (*T, error) {
	c, err := b.Collection(collection)
	if err != nil {
		return nil, err
	}
	rec, err := c.Get(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	v, ok := rec.(*T)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", collection, key, types.ErrInvalidData)
	}
	return v, nil
}

// listAs converts generic records into typed pointers.
func listAs[T any](collection string, recs []any) ([]*T, error) {
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		v, ok := rec.(*T)
		if !ok {
			return nil, fmt.Errorf("%s: %w", collection, types.ErrInvalidData)
		}
		out = append(out, v)
	}
	return out, nil
}

func queryAs[T any](ctx context.Context, b *Backend, collection, index, value string) ([]*T, error) {
	c, err := b.Collection(collection)
	if err != nil {
		return nil, err
	}
	recs, err := c.QueryByIndex(ctx, index, value)
	if err != nil {
		return nil, err
	}
	return listAs[T](collection, recs)
}

func allAs[T any](ctx context.Context, b *Backend, collection string) ([]*T, error) {
	c, err := b.Collection(collection)
	if err != nil {
		return nil, err
	}
	recs, err := c.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return listAs[T](collection, recs)
}

func (b *Backend) add(ctx context.Context, collection string, record any) (string, error) {
	c, err := b.Collection(collection)
	if err != nil {
		return "", err
	}
	return c.Add(ctx, record)
}

func (b *Backend) update(ctx context.Context, collection string, record any) (string, error) {
	c, err := b.Collection(collection)
	if err != nil {
		return "", err
	}
	return c.Update(ctx, record)
}

// Object types.

func (b *Backend) AddObjectType(ctx context.Context, ot *types.ObjectType) (string, error) {
	return b.add(ctx, types.ObjectTypesCollection, ot)
}

func (b *Backend) UpdateObjectType(ctx context.Context, ot *types.ObjectType) (string, error) {
	return b.update(ctx, types.ObjectTypesCollection, ot)
}

func (b *Backend) GetObjectType(ctx context.Context, id string) (*types.ObjectType, error) {
	return getAs[types.ObjectType](ctx, b, types.ObjectTypesCollection, id)
}

// GetObjectTypeByKey returns the object type with the given key, or nil.
func (b *Backend) GetObjectTypeByKey(ctx context.Context, key string) (*types.ObjectType, error) {
	ots, err := queryAs[types.ObjectType](ctx, b, types.ObjectTypesCollection, types.IndexKey, key)
	if err != nil || len(ots) == 0 {
		return nil, err
	}
	return ots[0], nil
}

func (b *Backend) GetAllObjectTypes(ctx context.Context) ([]*types.ObjectType, error) {
	return allAs[types.ObjectType](ctx, b, types.ObjectTypesCollection)
}

// Instances.

func (b *Backend) AddInstance(ctx context.Context, in *types.Instance) (string, error) {
	return b.add(ctx, types.InstancesCollection, in)
}

func (b *Backend) UpdateInstance(ctx context.Context, in *types.Instance) (string, error) {
	return b.update(ctx, types.InstancesCollection, in)
}

func (b *Backend) GetInstance(ctx context.Context, id string) (*types.Instance, error) {
	return getAs[types.Instance](ctx, b, types.InstancesCollection, id)
}

// GetInstanceByKey returns the instance with the given key, or nil.
func (b *Backend) GetInstanceByKey(ctx context.Context, key string) (*types.Instance, error) {
	ins, err := queryAs[types.Instance](ctx, b, types.InstancesCollection, types.IndexKey, key)
	if err != nil || len(ins) == 0 {
		return nil, err
	}
	return ins[0], nil
}

func (b *Backend) GetInstancesByType(ctx context.Context, typeID string) ([]*types.Instance, error) {
	return queryAs[types.Instance](ctx, b, types.InstancesCollection, types.IndexType, typeID)
}

func (b *Backend) GetAllInstances(ctx context.Context) ([]*types.Instance, error) {
	return allAs[types.Instance](ctx, b, types.InstancesCollection)
}

// Values.

func (b *Backend) AddValue(ctx context.Context, v *types.Value) (string, error) {
	return b.add(ctx, types.ValuesCollection, v)
}

func (b *Backend) UpdateValue(ctx context.Context, v *types.Value) (string, error) {
	return b.update(ctx, types.ValuesCollection, v)
}

func (b *Backend) GetValue(ctx context.Context, id string) (*types.Value, error) {
	return getAs[types.Value](ctx, b, types.ValuesCollection, id)
}

func (b *Backend) GetValuesByInstance(ctx context.Context, instanceID string) ([]*types.Value, error) {
	return queryAs[types.Value](ctx, b, types.ValuesCollection, types.IndexInstance, instanceID)
}

func (b *Backend) GetValuesByStatus(ctx context.Context, status string) ([]*types.Value, error) {
	return queryAs[types.Value](ctx, b, types.ValuesCollection, types.IndexStatus, status)
}

// Diffs.

func (b *Backend) AddDiff(ctx context.Context, d *types.Diff) (string, error) {
	return b.add(ctx, types.DiffsCollection, d)
}

func (b *Backend) UpdateDiff(ctx context.Context, d *types.Diff) (string, error) {
	return b.update(ctx, types.DiffsCollection, d)
}

func (b *Backend) GetDiff(ctx context.Context, id string) (*types.Diff, error) {
	return getAs[types.Diff](ctx, b, types.DiffsCollection, id)
}

func (b *Backend) GetDiffsByStatus(ctx context.Context, status string) ([]*types.Diff, error) {
	return queryAs[types.Diff](ctx, b, types.DiffsCollection, types.IndexStatus, status)
}

func (b *Backend) GetDiffsByInstance(ctx context.Context, instanceID string) ([]*types.Diff, error) {
	return queryAs[types.Diff](ctx, b, types.DiffsCollection, types.IndexInstance, instanceID)
}

func (b *Backend) GetAllDiffs(ctx context.Context) ([]*types.Diff, error) {
	return allAs[types.Diff](ctx, b, types.DiffsCollection)
}

// GetDiffsNeedingRecovery returns APPLIED diffs whose values were never
// written, oldest first.
func (b *Backend) GetDiffsNeedingRecovery(ctx context.Context) ([]*types.Diff, error) {
	spec := mustSpec(types.DiffsCollection)
	var out []any
	err := b.withRead("recovery scan", func(db *sql.DB) error {
		var err error
		out, err = queryRecords(ctx, db, spec,
			"SELECT data FROM diffs WHERE status = ? AND values_written = 0 ORDER BY created_at, rowid",
			types.DiffStatusApplied)
		return err
	})
	if err != nil {
		return nil, err
	}
	return listAs[types.Diff](types.DiffsCollection, out)
}

// Settings and meta. Missing keys return nil without an error.

// SetSetting stores value under key, marshaling it as JSON.
func (b *Backend) SetSetting(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, types.ErrInvalidData)
	}
	_, err = b.update(ctx, types.SettingsCollection, &types.Setting{Key: key, Value: raw})
	return err
}

func (b *Backend) GetSetting(ctx context.Context, key string) (*types.Setting, error) {
	return getAs[types.Setting](ctx, b, types.SettingsCollection, key)
}

func (b *Backend) GetAllSettings(ctx context.Context) ([]*types.Setting, error) {
	return allAs[types.Setting](ctx, b, types.SettingsCollection)
}

func (b *Backend) DeleteSetting(ctx context.Context, key string) error {
	c, err := b.Collection(types.SettingsCollection)
	if err != nil {
		return err
	}
	return c.Delete(ctx, key)
}

// SetMeta stores a bookkeeping entry. An empty metaType means general.
func (b *Backend) SetMeta(ctx context.Context, key string, value any, metaType string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("meta %s: %w", key, types.ErrInvalidData)
	}
	_, err = b.update(ctx, types.MetaCollection, &types.MetaEntry{Key: key, Value: raw, Type: metaType})
	return err
}

func (b *Backend) GetMeta(ctx context.Context, key string) (*types.MetaEntry, error) {
	return getAs[types.MetaEntry](ctx, b, types.MetaCollection, key)
}
