package executor

import (
	"bytes"
	"context"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/grafana/dskit/concurrency"
	"github.com/pkg/errors"

	"github.com/sealdb/sealdb/pkg/engine/catalog"
	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
	"github.com/sealdb/sealdb/pkg/engine/planner/physical"
	"github.com/sealdb/sealdb/pkg/engine/storage"
)

// scanShape filters and projects the rows read by a scan.
type scanShape struct {
	filters []logical.ScanFilter
	ords    []int // column ordinal of every filter
	project []int
	limit   int
}

func newScanShape(n *physical.Scan) (*scanShape, error) {
	s := &scanShape{filters: n.Filters, limit: int(n.Limit)}
	for _, f := range n.Filters {
		i := n.Table.ColumnIndex(f.Column)
		if i < 0 {
			return nil, qerrors.New(qerrors.KindExecution, errors.Wrapf(qerrors.ErrColumnNotFound, "%s.%s", n.Table.Name, f.Column))
		}
		s.ords = append(s.ords, i)
	}
	for _, c := range n.Columns {
		i := n.Table.ColumnIndex(c)
		if i < 0 {
			return nil, qerrors.New(qerrors.KindExecution, errors.Wrapf(qerrors.ErrColumnNotFound, "%s.%s", n.Table.Name, c))
		}
		s.project = append(s.project, i)
	}
	return s, nil
}

// accept applies the filters to a full table row and returns the projected
// row, or nil when the row is rejected.
func (s *scanShape) accept(row []types.Value) ([]types.Value, error) {
	for i, f := range s.filters {
		ok, err := f.Matches(row[s.ords[i]])
		if err != nil {
			return nil, qerrors.New(qerrors.KindExecution, err)
		}
		if !ok {
			return nil, nil
		}
	}
	out := make([]types.Value, len(s.project))
	for i, ord := range s.project {
		out[i] = row[ord]
	}
	return out, nil
}

// errLimitReached stops a storage scan once a scan limit is met.
var errLimitReached = errors.New("scan limit reached")

// collector accumulates the accepted rows of a scan.
type collector struct {
	shape *scanShape
	res   *reservation
	rows  [][]types.Value
}

func (c *collector) add(row []types.Value) error {
	out, err := c.shape.accept(row)
	if err != nil || out == nil {
		return err
	}
	if err := c.res.grow(rowSize(out)); err != nil {
		return err
	}
	c.rows = append(c.rows, out)
	if c.shape.limit > 0 && len(c.rows) >= c.shape.limit {
		return errLimitReached
	}
	return nil
}

func (c *collector) addAll(rows [][]types.Value) error {
	for _, row := range rows {
		if err := c.add(row); errors.Is(err, errLimitReached) {
			return nil
		} else if err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) executeScan(ctx context.Context, n *physical.Scan) Operator {
	shape, err := newScanShape(n)
	if err != nil {
		return errorOperator(ctx, err)
	}
	col := &collector{shape: shape, res: c.reservation()}

	switch n.Method {
	case physical.ScanMethodSeq:
		err = c.seqScan(ctx, n, col)
	case physical.ScanMethodIndex:
		err = c.indexScan(ctx, n, col)
	case physical.ScanMethodBatch:
		err = c.batchScan(ctx, n, col)
	case physical.ScanMethodBitmap:
		err = c.bitmapScan(ctx, n, col)
	default:
		err = errors.Errorf("unsupported scan method %s", n.Method)
	}
	if err != nil {
		col.res.release()
		return errorOperator(ctx, err)
	}

	op := newGenericOperator(nil)
	e := &emitter{columns: n.Schema(), rows: col.rows, size: c.cfg.BatchSize}
	op.read = func(context.Context, []Operator) (Batch, error) { return e.next() }
	op.close = col.res.release
	return op
}

func (c *Context) seqScan(ctx context.Context, n *physical.Scan, col *collector) error {
	limit := 0
	if len(n.Filters) == 0 {
		limit = col.shape.limit
	}
	err := c.env.View.Scan(ctx, n.Table, limit, col.add)
	if errors.Is(err, errLimitReached) {
		return nil
	}
	return err
}

func (c *Context) indexScan(ctx context.Context, n *physical.Scan, col *collector) error {
	if len(n.Indexes) == 0 || len(n.IndexFilters) == 0 {
		return errors.New("index scan without an index")
	}
	keys, err := c.indexKeys(ctx, n.Table, n.Indexes[0], n.IndexFilters[0])
	if err != nil {
		return err
	}
	rows, err := c.env.View.MultiGet(ctx, n.Table, keys)
	if err != nil {
		return err
	}
	return col.addAll(rows)
}

func (c *Context) batchScan(ctx context.Context, n *physical.Scan, col *collector) error {
	rows, err := c.env.View.MultiGet(ctx, n.Table, n.Keys)
	if err != nil {
		return err
	}
	return col.addAll(rows)
}

func (c *Context) indexKeys(ctx context.Context, t *catalog.Table, name string, f logical.ScanFilter) ([]types.Value, error) {
	idx, ok := t.Index(name)
	if !ok {
		return nil, qerrors.Newf(qerrors.KindExecution, "index %s of table %s does not exist", name, t.Name)
	}
	return c.env.View.IndexLookup(ctx, t, idx, f)
}

// bitmapScan intersects the primary keys matched by every index filter and
// fetches the remaining rows in key order. Keys are mapped to dense ids in
// order of first appearance to build the bitmaps.
func (c *Context) bitmapScan(ctx context.Context, n *physical.Scan, col *collector) error {
	if len(n.Indexes) == 0 || len(n.Indexes) != len(n.IndexFilters) {
		return errors.New("bitmap scan needs one filter per index")
	}

	var (
		ids    = make(map[string]uint32)
		keys   []types.Value
		strs   []string
		result *roaring.Bitmap
	)
	for i, name := range n.Indexes {
		pks, err := c.indexKeys(ctx, n.Table, name, n.IndexFilters[i])
		if err != nil {
			return err
		}
		bm := roaring.New()
		for _, pk := range pks {
			s, err := storage.KeyString(n.Table, pk)
			if err != nil {
				continue
			}
			id, ok := ids[s]
			if !ok {
				id = uint32(len(keys))
				ids[s] = id
				keys = append(keys, pk)
				strs = append(strs, s)
			}
			bm.Add(id)
		}
		if result == nil {
			result = bm
		} else {
			result.And(bm)
		}
		if result.IsEmpty() {
			return nil
		}
	}

	matched := result.ToArray()
	sort.Slice(matched, func(i, j int) bool {
		return bytes.Compare(storage.RowKey(n.Table.Name, strs[matched[i]]), storage.RowKey(n.Table.Name, strs[matched[j]])) < 0
	})
	fetch := make([]types.Value, len(matched))
	for i, id := range matched {
		fetch[i] = keys[id]
	}
	rows, err := c.env.View.MultiGet(ctx, n.Table, fetch)
	if err != nil {
		return err
	}
	return col.addAll(rows)
}

// shardScan reads the rows of a sequential scan as contiguous key range
// shards, concurrently. It returns the accepted rows of every shard; their
// concatenation is the output of the sequential scan.
func (c *Context) shardScan(ctx context.Context, n *physical.Scan, shards int) ([][][]types.Value, *reservation, error) {
	shape, err := newScanShape(n)
	if err != nil {
		return nil, nil, err
	}
	shape.limit = 0

	ranges := storage.ShardRanges(n.Table.Name, shards)
	res := c.reservation()
	cols := make([]*collector, len(ranges))
	for i := range cols {
		// Reservations are not safe for concurrent growth; the tracker is.
		cols[i] = &collector{shape: shape, res: &reservation{tracker: c.env.Memory}}
	}

	err = concurrency.ForEachJob(ctx, len(ranges), c.cfg.ShardConcurrency, func(ctx context.Context, i int) error {
		c.metrics.shardReads.Inc()
		return c.env.View.ScanRange(ctx, n.Table, ranges[i], cols[i].add)
	})

	out := make([][][]types.Value, len(cols))
	for i, col := range cols {
		res.bytes += col.res.bytes
		out[i] = col.rows
	}
	if err != nil {
		res.release()
		return nil, nil, err
	}
	return out, res, nil
}

// newShardScan returns a sequential scan reading its key range shards
// concurrently.
func (c *Context) newShardScan(ctx context.Context, n *physical.Scan, shards int) Operator {
	parts, res, err := c.shardScan(ctx, n, shards)
	if err != nil {
		return errorOperator(ctx, err)
	}
	var rows [][]types.Value
	for _, p := range parts {
		rows = append(rows, p...)
	}
	if n.Limit > 0 && uint64(len(rows)) > n.Limit {
		rows = rows[:n.Limit]
	}
	op := newGenericOperator(nil)
	e := &emitter{columns: n.Schema(), rows: rows, size: c.cfg.BatchSize}
	op.read = func(context.Context, []Operator) (Batch, error) { return e.next() }
	op.close = res.release
	return op
}
