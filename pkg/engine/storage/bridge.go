// Package storage maps table rows and secondary indexes onto an ordered
// key-value engine.
//
// A row is addressed logically as "<table>:<row-key>" and stored under the
// physical key "table:<table>:<row-key>", so the rows of a table form the
// range "table:<table>:" to "table:<table>:\xff". Index entries are stored
// under "index:<table>:<index>:<value>:<row-key>" and hold the row key.
package storage

import (
	"context"
	"flag"
	"slices"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/sealdb/sealdb/pkg/engine/catalog"
	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/kv"
)

var tracer = otel.Tracer("pkg/engine/storage")

// ValueColumn is the single column returned for rows of tables without a
// schema.
const ValueColumn = "value"

// Config configures the storage bridge.
type Config struct {
	// ScanLimit is the number of rows ScanTable returns when the caller sets
	// no limit.
	ScanLimit int `yaml:"scan_limit"`
	// ScanPageSize is the number of pairs requested from the engine per scan
	// call.
	ScanPageSize int `yaml:"scan_page_size"`
}

func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.ScanLimit, prefix+"scan-limit", 1000, "Default number of rows returned by a table scan without a limit.")
	f.IntVar(&cfg.ScanPageSize, prefix+"scan-page-size", 1000, "Number of rows read from the storage engine per scan request.")
}

func (cfg *Config) Validate() error {
	if cfg.ScanLimit < 1 {
		return errors.New("scan limit must be at least 1")
	}
	if cfg.ScanPageSize < 1 {
		return errors.New("scan page size must be at least 1")
	}
	return nil
}

// RowSet is a set of rows with named columns.
type RowSet struct {
	Columns []string
	Rows    [][]types.Value
}

// Bridge is the boundary between query execution and the key-value engine.
type Bridge struct {
	cfg     Config
	engine  kv.Engine
	catalog catalog.Catalog
	logger  log.Logger
	metrics *metrics
}

// NewBridge returns a bridge over engine. Tables unknown to cat are treated
// as schemaless: their values are stored and returned as opaque strings.
func NewBridge(cfg Config, engine kv.Engine, cat catalog.Catalog, logger log.Logger) *Bridge {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Bridge{
		cfg:     cfg,
		engine:  engine,
		catalog: cat,
		logger:  log.With(logger, "component", "storage"),
		metrics: newMetrics(),
	}
}

// Register registers the bridge metrics to reg.
func (b *Bridge) Register(reg prometheus.Registerer) error { return b.metrics.Register(reg) }

// Unregister unregisters the bridge metrics from reg.
func (b *Bridge) Unregister(reg prometheus.Registerer) { b.metrics.Unregister(reg) }

// Engine returns the underlying key-value engine.
func (b *Bridge) Engine() kv.Engine { return b.engine }

// View returns a view that reads and writes the engine directly.
func (b *Bridge) View() *View { return b.view(b.engine) }

func (b *Bridge) view(rw ReadWriter) *View {
	return &View{rw: rw, catalog: b.catalog, pageSize: b.cfg.ScanPageSize, metrics: b.metrics}
}

// ForEachRow calls fn for every stored row of table.
func (b *Bridge) ForEachRow(ctx context.Context, table *catalog.Table, fn func(row []types.Value) error) error {
	return b.View().Scan(ctx, table, 0, fn)
}

// InsertRow stores value under the row key of table. For tables with a
// schema the value must decode to a valid row and index entries are
// written. Inserting an existing key fails with [ErrDuplicateKey].
func (b *Bridge) InsertRow(ctx context.Context, table, key string, value []byte) (uint64, error) {
	n, err := b.View().InsertRow(ctx, table, key, value)
	b.metrics.observe(OperationInsert, err)
	return n, err
}

// PointQuery returns the row stored under key, or an empty set.
func (b *Bridge) PointQuery(ctx context.Context, table, key string) (*RowSet, error) {
	rs, err := b.View().PointQuery(ctx, table, key)
	b.metrics.observe(OperationSelect, err)
	return rs, err
}

// ScanTable returns up to limit rows of table in key order projected to
// columns. A limit <= 0 uses the configured scan limit; no columns selects
// every column.
func (b *Bridge) ScanTable(ctx context.Context, table string, columns []string, limit int) (*RowSet, error) {
	if limit <= 0 {
		limit = b.cfg.ScanLimit
	}
	rs, err := b.View().ScanTable(ctx, table, columns, limit)
	b.metrics.observe(OperationScan, err)
	if err == nil {
		level.Debug(b.logger).Log("msg", "scanned table", "table", table, "rows", len(rs.Rows))
	}
	return rs, err
}

// UpdateRow replaces the value stored under key. It affects no rows when
// the key does not exist.
func (b *Bridge) UpdateRow(ctx context.Context, table, key string, value []byte) (uint64, error) {
	n, err := b.View().UpdateRow(ctx, table, key, value)
	b.metrics.observe(OperationUpdate, err)
	return n, err
}

// DeleteRow removes the row stored under key. It affects no rows when the
// key does not exist.
func (b *Bridge) DeleteRow(ctx context.Context, table, key string) (uint64, error) {
	n, err := b.View().DeleteRow(ctx, table, key)
	b.metrics.observe(OperationDelete, err)
	return n, err
}

// schema returns the schema of table, or nil for schemaless tables.
func (v *View) schema(table string) (*catalog.Table, error) {
	if v.catalog == nil {
		return nil, nil
	}
	t, err := v.catalog.Table(table)
	if errors.Is(err, qerrors.ErrTableNotFound) {
		return nil, nil
	}
	return t, err
}

// InsertRow is [Bridge.InsertRow] within the view.
func (v *View) InsertRow(ctx context.Context, table, key string, value []byte) (uint64, error) {
	t, err := v.schema(table)
	if err != nil {
		return 0, err
	}
	if t != nil {
		row, err := DecodeRow(t, key, value)
		if err != nil {
			return 0, qerrors.New(qerrors.KindExecution, err)
		}
		if err := v.Insert(ctx, t, row); err != nil {
			return 0, err
		}
		return 1, nil
	}

	if err := v.checkAbsent(ctx, &catalog.Table{Name: table}, key); err != nil {
		return 0, err
	}
	if err := v.rw.Put(ctx, RowKey(table, key), value); err != nil {
		return 0, storageError(err, "put row")
	}
	v.metrics.rowsWritten.Inc()
	return 1, nil
}

// PointQuery is [Bridge.PointQuery] within the view.
func (v *View) PointQuery(ctx context.Context, table, key string) (*RowSet, error) {
	t, err := v.schema(table)
	if err != nil {
		return nil, err
	}
	if t != nil {
		rs := &RowSet{Columns: t.ColumnNames()}
		row, ok, err := v.Get(ctx, t, types.NewString(key))
		if err != nil {
			return nil, err
		}
		if ok {
			rs.Rows = append(rs.Rows, row)
		}
		return rs, nil
	}

	rs := &RowSet{Columns: []string{ValueColumn}}
	value, err := v.rw.Get(ctx, RowKey(table, key))
	if errors.Is(err, kv.ErrNotFound) {
		return rs, nil
	} else if err != nil {
		return nil, storageError(err, "get row")
	}
	v.metrics.rowsRead.Inc()
	rs.Rows = append(rs.Rows, []types.Value{types.NewString(string(value))})
	return rs, nil
}

// ScanTable is [Bridge.ScanTable] within the view. A limit <= 0 reads every
// row.
func (v *View) ScanTable(ctx context.Context, table string, columns []string, limit int) (*RowSet, error) {
	t, err := v.schema(table)
	if err != nil {
		return nil, err
	}
	if t == nil {
		rs := &RowSet{Columns: []string{ValueColumn}}
		err := v.scanPairs(ctx, table, limit, func(p kv.Pair) error {
			v.metrics.rowsRead.Inc()
			rs.Rows = append(rs.Rows, []types.Value{types.NewString(string(p.Value))})
			return nil
		})
		return rs, err
	}

	if len(columns) == 0 {
		columns = t.ColumnNames()
	}
	ordinals := make([]int, len(columns))
	for i, c := range columns {
		if ordinals[i] = t.ColumnIndex(c); ordinals[i] < 0 {
			return nil, qerrors.New(qerrors.KindExecution, errors.Wrapf(qerrors.ErrColumnNotFound, "%s.%s", table, c))
		}
	}
	rs := &RowSet{Columns: slices.Clone(columns)}
	err = v.Scan(ctx, t, limit, func(row []types.Value) error {
		out := make([]types.Value, len(ordinals))
		for i, o := range ordinals {
			out[i] = row[o]
		}
		rs.Rows = append(rs.Rows, out)
		return nil
	})
	return rs, err
}

// UpdateRow is [Bridge.UpdateRow] within the view.
func (v *View) UpdateRow(ctx context.Context, table, key string, value []byte) (uint64, error) {
	t, err := v.schema(table)
	if err != nil {
		return 0, err
	}
	if t != nil {
		old, ok, err := v.Get(ctx, t, types.NewString(key))
		if err != nil || !ok {
			return 0, err
		}
		row, err := DecodeRow(t, key, value)
		if err != nil {
			return 0, qerrors.New(qerrors.KindExecution, err)
		}
		if err := v.Update(ctx, t, old, row); err != nil {
			return 0, err
		}
		return 1, nil
	}

	_, err = v.rw.Get(ctx, RowKey(table, key))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, storageError(err, "get row")
	}
	if err := v.rw.Put(ctx, RowKey(table, key), value); err != nil {
		return 0, storageError(err, "put row")
	}
	v.metrics.rowsWritten.Inc()
	return 1, nil
}

// DeleteRow is [Bridge.DeleteRow] within the view.
func (v *View) DeleteRow(ctx context.Context, table, key string) (uint64, error) {
	t, err := v.schema(table)
	if err != nil {
		return 0, err
	}
	if t != nil {
		row, ok, err := v.Get(ctx, t, types.NewString(key))
		if err != nil || !ok {
			return 0, err
		}
		if err := v.Delete(ctx, t, row); err != nil {
			return 0, err
		}
		return 1, nil
	}

	_, err = v.rw.Get(ctx, RowKey(table, key))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, storageError(err, "get row")
	}
	if err := v.rw.Delete(ctx, RowKey(table, key)); err != nil {
		return 0, storageError(err, "delete row")
	}
	v.metrics.rowsWritten.Inc()
	return 1, nil
}
