package storage

import (
	"bytes"
	"context"
	"slices"

	"github.com/pkg/errors"

	"github.com/sealdb/sealdb/pkg/engine/catalog"
	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
	"github.com/sealdb/sealdb/pkg/kv"
)

// ReadWriter is the part of a key-value engine or transaction rows are read
// from and written to.
type ReadWriter interface {
	kv.Reader
	kv.Writer
}

type batchGetter interface {
	BatchGet(ctx context.Context, keys [][]byte) ([][]byte, error)
}

type batchDeleter interface {
	BatchDelete(ctx context.Context, keys [][]byte) error
}

// View reads and writes the rows and index entries of tables through an
// engine or a transaction. Every write keeps the secondary indexes of the
// table in step with its rows.
type View struct {
	rw       ReadWriter
	catalog  catalog.Catalog
	pageSize int
	metrics  *metrics
}

func storageError(err error, msg string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return qerrors.New(qerrors.KindStorage, errors.Wrap(err, msg))
}

// Get returns the row with the given primary key.
func (v *View) Get(ctx context.Context, t *catalog.Table, key types.Value) ([]types.Value, bool, error) {
	k, err := KeyString(t, key)
	if err != nil {
		// No stored key can match a value of another type.
		return nil, false, nil
	}
	value, err := v.rw.Get(ctx, RowKey(t.Name, k))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, storageError(err, "get row")
	}
	row, err := DecodeRow(t, k, value)
	if err != nil {
		return nil, false, qerrors.New(qerrors.KindStorage, err)
	}
	v.metrics.rowsRead.Inc()
	return row, true, nil
}

// MultiGet returns the rows with the given primary keys in key order of the
// arguments. Missing keys are skipped.
func (v *View) MultiGet(ctx context.Context, t *catalog.Table, keys []types.Value) ([][]types.Value, error) {
	rowKeys := make([]string, 0, len(keys))
	physical := make([][]byte, 0, len(keys))
	for _, key := range keys {
		k, err := KeyString(t, key)
		if err != nil {
			continue
		}
		rowKeys = append(rowKeys, k)
		physical = append(physical, RowKey(t.Name, k))
	}

	var values [][]byte
	if bg, ok := v.rw.(batchGetter); ok {
		var err error
		if values, err = bg.BatchGet(ctx, physical); err != nil {
			return nil, storageError(err, "batch get rows")
		}
	} else {
		values = make([][]byte, len(physical))
		for i, k := range physical {
			value, err := v.rw.Get(ctx, k)
			if errors.Is(err, kv.ErrNotFound) {
				continue
			} else if err != nil {
				return nil, storageError(err, "get row")
			}
			values[i] = value
		}
	}

	rows := make([][]types.Value, 0, len(values))
	for i, value := range values {
		if value == nil {
			continue
		}
		row, err := DecodeRow(t, rowKeys[i], value)
		if err != nil {
			return nil, qerrors.New(qerrors.KindStorage, err)
		}
		rows = append(rows, row)
	}
	v.metrics.rowsRead.Add(float64(len(rows)))
	return rows, nil
}

// Scan calls fn for the rows of t in key order, stopping after limit rows.
// A limit <= 0 reads every row. Rows are fetched a page at a time.
func (v *View) Scan(ctx context.Context, t *catalog.Table, limit int, fn func(row []types.Value) error) error {
	return v.scanPairs(ctx, t.Name, limit, func(p kv.Pair) error {
		key := rowKeyOf(t.Name, p.Key)
		row, err := DecodeRow(t, key, p.Value)
		if err != nil {
			return qerrors.New(qerrors.KindStorage, err)
		}
		v.metrics.rowsRead.Inc()
		return fn(row)
	})
}

// ScanRange calls fn for the rows of t within r in key order.
func (v *View) ScanRange(ctx context.Context, t *catalog.Table, r KeyRange, fn func(row []types.Value) error) error {
	return v.scanRange(ctx, r.Start, r.End, 0, func(p kv.Pair) error {
		row, err := DecodeRow(t, rowKeyOf(t.Name, p.Key), p.Value)
		if err != nil {
			return qerrors.New(qerrors.KindStorage, err)
		}
		v.metrics.rowsRead.Inc()
		return fn(row)
	})
}

func (v *View) scanPairs(ctx context.Context, table string, limit int, fn func(kv.Pair) error) error {
	start, end := tableRange(table)
	return v.scanRange(ctx, start, end, limit, fn)
}

func (v *View) scanRange(ctx context.Context, start, end []byte, limit int, fn func(kv.Pair) error) error {
	seen := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page := v.pageSize
		if limit > 0 && limit-seen < page {
			page = limit - seen
		}
		pairs, err := v.rw.Scan(ctx, start, end, page)
		if err != nil {
			return storageError(err, "scan")
		}
		for _, p := range pairs {
			if err := fn(p); err != nil {
				return err
			}
		}
		seen += len(pairs)
		if len(pairs) < page || (limit > 0 && seen >= limit) {
			return nil
		}
		start = append(bytes.Clone(pairs[len(pairs)-1].Key), 0)
	}
}

// IndexLookup returns the primary keys of the rows whose leading index
// column satisfies f, in index order. Equality and IN filters read only the
// matching entries; other filters read the whole index.
func (v *View) IndexLookup(ctx context.Context, t *catalog.Table, idx catalog.Index, f logical.ScanFilter) ([]types.Value, error) {
	colIdx := t.ColumnIndex(idx.Columns[0])
	if colIdx < 0 {
		return nil, qerrors.New(qerrors.KindExecution, errors.Wrapf(qerrors.ErrColumnNotFound, "index %s column %s", idx.Name, idx.Columns[0]))
	}
	colType := t.Columns[colIdx].Type
	pkType := t.Columns[t.PrimaryKeyIndex()].Type

	base := indexNamePrefix(t.Name, idx.Name)
	sep := ":"
	if len(idx.Columns) > 1 {
		sep = ","
	}

	var prefixes [][]byte
	switch f.Op {
	case types.FilterOpEqual, types.FilterOpIn:
		for _, val := range f.Values {
			val, err := coerce(val, colType)
			if err != nil || val.IsNull() {
				continue
			}
			field := encodeFields([]string{encodeValue(val)})
			prefixes = append(prefixes, slices.Concat(base, field, []byte(sep)))
		}
	default:
		prefixes = [][]byte{base}
	}

	var (
		keys []types.Value
		seen = map[string]struct{}{}
	)
	for _, prefix := range prefixes {
		err := v.scanRange(ctx, prefix, kv.PrefixEnd(prefix), 0, func(p kv.Pair) error {
			raw, ok := indexValueOf(base, p)
			if !ok {
				return nil
			}
			fields, err := decodeFields([]byte(raw), len(idx.Columns))
			if err != nil {
				return qerrors.New(qerrors.KindStorage, errors.Wrapf(err, "index %s", idx.Name))
			}
			val, err := types.ParseValue(fields[0], colType)
			if err != nil {
				return qerrors.New(qerrors.KindStorage, errors.Wrapf(err, "index %s", idx.Name))
			}
			if ok, err := f.Matches(val); err != nil || !ok {
				return err
			}
			if _, dup := seen[string(p.Value)]; dup {
				return nil
			}
			seen[string(p.Value)] = struct{}{}
			key, err := types.ParseValue(string(p.Value), pkType)
			if err != nil {
				return qerrors.New(qerrors.KindStorage, errors.Wrapf(err, "index %s", idx.Name))
			}
			keys = append(keys, key)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// Insert stores a new row and its index entries.
func (v *View) Insert(ctx context.Context, t *catalog.Table, row []types.Value) error {
	row, err := CoerceRow(t, row)
	if err != nil {
		return qerrors.New(qerrors.KindExecution, err)
	}
	key, value := encodeRow(t, row)
	if err := v.checkAbsent(ctx, t, key); err != nil {
		return err
	}
	if err := v.checkUnique(ctx, t, row, key, nil); err != nil {
		return err
	}
	if err := v.rw.Put(ctx, RowKey(t.Name, key), value); err != nil {
		return storageError(err, "put row")
	}
	if err := v.putIndexEntries(ctx, t, t.Indexes, row, key); err != nil {
		return err
	}
	v.metrics.rowsWritten.Inc()
	return nil
}

// Update replaces old with updated, moving the row when its primary key
// changes.
func (v *View) Update(ctx context.Context, t *catalog.Table, old, updated []types.Value) error {
	updated, err := CoerceRow(t, updated)
	if err != nil {
		return qerrors.New(qerrors.KindExecution, err)
	}
	oldKey, _ := encodeRow(t, old)
	key, value := encodeRow(t, updated)
	if key != oldKey {
		if err := v.checkAbsent(ctx, t, key); err != nil {
			return err
		}
	}
	if err := v.checkUnique(ctx, t, updated, key, old); err != nil {
		return err
	}

	if err := v.deleteIndexEntries(ctx, t, old, oldKey); err != nil {
		return err
	}
	if key != oldKey {
		if err := v.rw.Delete(ctx, RowKey(t.Name, oldKey)); err != nil {
			return storageError(err, "delete row")
		}
	}
	if err := v.rw.Put(ctx, RowKey(t.Name, key), value); err != nil {
		return storageError(err, "put row")
	}
	if err := v.putIndexEntries(ctx, t, t.Indexes, updated, key); err != nil {
		return err
	}
	v.metrics.rowsWritten.Inc()
	return nil
}

// Delete removes row and its index entries.
func (v *View) Delete(ctx context.Context, t *catalog.Table, row []types.Value) error {
	key, _ := encodeRow(t, row)
	if err := v.deleteIndexEntries(ctx, t, row, key); err != nil {
		return err
	}
	if err := v.rw.Delete(ctx, RowKey(t.Name, key)); err != nil {
		return storageError(err, "delete row")
	}
	v.metrics.rowsWritten.Inc()
	return nil
}

// Truncate removes every row and index entry of the table.
func (v *View) Truncate(ctx context.Context, table string) (int, error) {
	var rows int
	var keys [][]byte
	if err := v.scanPairs(ctx, table, 0, func(p kv.Pair) error {
		keys = append(keys, p.Key)
		rows++
		return nil
	}); err != nil {
		return 0, err
	}
	prefix := indexTablePrefix(table)
	if err := v.scanRange(ctx, prefix, kv.PrefixEnd(prefix), 0, func(p kv.Pair) error {
		keys = append(keys, p.Key)
		return nil
	}); err != nil {
		return 0, err
	}
	if err := v.deleteKeys(ctx, keys); err != nil {
		return 0, err
	}
	v.metrics.rowsWritten.Add(float64(rows))
	return rows, nil
}

// BuildIndex writes the entries of idx for every stored row of t.
func (v *View) BuildIndex(ctx context.Context, t *catalog.Table, idx catalog.Index) error {
	type entry struct {
		row []types.Value
		key string
	}
	var entries []entry
	unique := map[string]struct{}{}
	err := v.Scan(ctx, t, 0, func(row []types.Value) error {
		key, _ := encodeRow(t, row)
		if idx.Unique && !indexedNull(t, idx, row) {
			val := indexValue(t, idx, row)
			if _, dup := unique[val]; dup {
				return qerrors.New(qerrors.KindExecution, errors.Wrapf(ErrDuplicateKey, "unique index %s value %s", idx.Name, val))
			}
			unique[val] = struct{}{}
		}
		entries = append(entries, entry{row: row, key: key})
		return nil
	})
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := v.putIndexEntries(ctx, t, []catalog.Index{idx}, e.row, e.key); err != nil {
			return err
		}
	}
	return nil
}

func (v *View) checkAbsent(ctx context.Context, t *catalog.Table, key string) error {
	_, err := v.rw.Get(ctx, RowKey(t.Name, key))
	switch {
	case err == nil:
		return qerrors.New(qerrors.KindExecution, errors.Wrapf(ErrDuplicateKey, "table %s key %s", t.Name, key))
	case errors.Is(err, kv.ErrNotFound):
		return nil
	}
	return storageError(err, "get row")
}

// checkUnique fails when a unique index of t already holds the value of row
// for another row. Entries of old, the row being replaced, are ignored.
func (v *View) checkUnique(ctx context.Context, t *catalog.Table, row []types.Value, key string, old []types.Value) error {
	var oldKey string
	if old != nil {
		oldKey, _ = encodeRow(t, old)
	}
	for _, idx := range t.Indexes {
		if !idx.Unique || indexedNull(t, idx, row) {
			continue
		}
		prefix := slices.Concat(indexNamePrefix(t.Name, idx.Name), []byte(indexValue(t, idx, row)+":"))
		pairs, err := v.rw.Scan(ctx, prefix, kv.PrefixEnd(prefix), 0)
		if err != nil {
			return storageError(err, "scan index")
		}
		for _, p := range pairs {
			owner := string(p.Value)
			if owner == key || (old != nil && owner == oldKey) {
				continue
			}
			// The prefix may also match longer values containing the separator.
			if !bytes.Equal(p.Key, indexKey(t.Name, idx.Name, indexValue(t, idx, row), owner)) {
				continue
			}
			return qerrors.New(qerrors.KindExecution, errors.Wrapf(ErrDuplicateKey, "unique index %s", idx.Name))
		}
	}
	return nil
}

func indexedNull(t *catalog.Table, idx catalog.Index, row []types.Value) bool {
	for _, c := range idx.Columns {
		if row[t.ColumnIndex(c)].IsNull() {
			return true
		}
	}
	return false
}

func (v *View) putIndexEntries(ctx context.Context, t *catalog.Table, indexes []catalog.Index, row []types.Value, key string) error {
	for _, idx := range indexes {
		k := indexKey(t.Name, idx.Name, indexValue(t, idx, row), key)
		if err := v.rw.Put(ctx, k, []byte(key)); err != nil {
			return storageError(err, "put index entry")
		}
	}
	return nil
}

func (v *View) deleteIndexEntries(ctx context.Context, t *catalog.Table, row []types.Value, key string) error {
	for _, idx := range t.Indexes {
		if err := v.rw.Delete(ctx, indexKey(t.Name, idx.Name, indexValue(t, idx, row), key)); err != nil {
			return storageError(err, "delete index entry")
		}
	}
	return nil
}

func (v *View) deleteKeys(ctx context.Context, keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}
	if bd, ok := v.rw.(batchDeleter); ok {
		if err := bd.BatchDelete(ctx, keys); err != nil {
			return storageError(err, "batch delete")
		}
		return nil
	}
	for _, k := range keys {
		if err := v.rw.Delete(ctx, k); err != nil {
			return storageError(err, "delete")
		}
	}
	return nil
}
