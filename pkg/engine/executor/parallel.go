package executor

import (
	"context"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/physical"
)

// executeParallel runs the child pipeline of n on partitions of its scan.
//
// A sequential scan is partitioned into key range shards read concurrently;
// other scans are read once through their access path and cut into
// contiguous partitions, so they keep the row order of the serial scan. Every
// partition runs its own copy of the pipeline. Results are merged in
// partition order: partial aggregates are re-aggregated, sorted partitions
// are k-way merged and plain rows are concatenated, so the output does not
// depend on scheduling.
func (c *Context) executeParallel(n *physical.Parallel) Operator {
	return newLazyOperator(func(ctx context.Context) Operator {
		workers := max(n.Workers, 1)

		var (
			agg  *physical.Aggregate
			sort *physical.Sort
			pipe = n.Child
		)
		switch top := n.Child.(type) {
		case *physical.Aggregate:
			agg, pipe = top, top.Child
		case *physical.Sort:
			sort, pipe = top, top.Child
		}
		scan, ok := pipelineScan(pipe)
		if !ok {
			return errorOperator(ctx, qerrors.Newf(qerrors.KindExecution, "parallel child %s is not a scan pipeline", n.Child.Type()))
		}
		if pipe == physical.Node(scan) && agg == nil && sort == nil && scan.Method == physical.ScanMethodSeq && scan.Limit == 0 {
			return c.newShardScan(ctx, scan, workers)
		}

		parts, res, err := c.partition(ctx, scan, workers)
		if err != nil {
			return errorOperator(ctx, err)
		}
		level.Debug(c.logger).Log("msg", "running parallel pipeline", "table", scan.Table.Name, "partitions", len(parts))

		var rows [][]types.Value
		switch {
		case agg != nil:
			rows, err = c.shardAggregate(ctx, agg, pipe, scan, parts, res)
		case sort != nil:
			rows, err = c.parallelSort(ctx, sort, pipe, scan, parts, res)
		default:
			rows, err = c.parallelPipeline(ctx, pipe, scan, parts)
		}
		if err != nil {
			res.release()
			return errorOperator(ctx, err)
		}

		op := newGenericOperator(nil)
		e := &emitter{columns: n.Schema(), rows: rows, size: c.cfg.BatchSize}
		op.read = func(context.Context, []Operator) (Batch, error) { return e.next() }
		op.close = res.release
		return op
	})
}

// pipelineScan returns the scan under a chain of filters and projections.
func pipelineScan(n physical.Node) (*physical.Scan, bool) {
	switch n := n.(type) {
	case *physical.Scan:
		return n, true
	case *physical.Filter:
		return pipelineScan(n.Child)
	case *physical.Project:
		return pipelineScan(n.Child)
	}
	return nil, false
}

// pipelineOver rebuilds the chain of filters and projections of n over src,
// which replaces the scan.
func (c *Context) pipelineOver(n physical.Node, src Operator) Operator {
	switch n := n.(type) {
	case *physical.Filter:
		return newFilterOperator(n.Condition, c.pipelineOver(n.Child, src))
	case *physical.Project:
		return newProjectOperator(n.Columns, c.pipelineOver(n.Child, src))
	}
	return src
}

// partition splits the rows of scan into at most workers partitions.
func (c *Context) partition(ctx context.Context, scan *physical.Scan, workers int) ([][][]types.Value, *reservation, error) {
	if scan.Method == physical.ScanMethodSeq && scan.Limit == 0 {
		return c.shardScan(ctx, scan, workers)
	}

	op := c.executeScan(ctx, scan)
	defer op.Close()
	rows, err := readAll(ctx, op)
	if err != nil {
		return nil, nil, err
	}
	res := c.reservation()
	if err := res.grow(rowsSize(rows)); err != nil {
		return nil, nil, err
	}

	size := (len(rows) + workers - 1) / workers
	parts := make([][][]types.Value, 0, workers)
	for size > 0 && len(rows) > 0 {
		n := min(size, len(rows))
		parts = append(parts, rows[:n:n])
		rows = rows[n:]
	}
	return parts, res, nil
}

// runPartitions runs fn for every partition on its own goroutine, giving it
// the pipeline over the partition rows.
func (c *Context) runPartitions(ctx context.Context, pipe physical.Node, scan *physical.Scan, parts [][][]types.Value, fn func(ctx context.Context, i int, op Operator) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		c.metrics.parallelTasks.Inc()
		g.Go(func() error {
			op := c.pipelineOver(pipe, rowsOperator(scan.Schema(), part, c.cfg.BatchSize))
			defer op.Close()
			return fn(ctx, i, op)
		})
	}
	return g.Wait()
}

// shardAggregate aggregates every partition separately and merges the
// partial states in partition order.
func (c *Context) shardAggregate(ctx context.Context, n *physical.Aggregate, pipe physical.Node, scan *physical.Scan, parts [][][]types.Value, res *reservation) ([][]types.Value, error) {
	partials := make([]*aggregator, len(parts))
	err := c.runPartitions(ctx, pipe, scan, parts, func(ctx context.Context, i int, op Operator) error {
		// Partial states are accounted once merged.
		a, err := newAggregator(pipe.Schema(), n.GroupBy, n.Aggregates, &reservation{})
		if err != nil {
			return err
		}
		partials[i] = a
		return forEachRow(ctx, op, a.add)
	})
	if err != nil {
		return nil, err
	}

	merged, err := newAggregator(pipe.Schema(), n.GroupBy, n.Aggregates, res)
	if err != nil {
		return nil, err
	}
	for _, p := range partials {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := merged.merge(p); err != nil {
			return nil, err
		}
	}
	return merged.rows(), nil
}

// parallelSort sorts every partition separately and k-way merges the sorted
// partitions.
func (c *Context) parallelSort(ctx context.Context, n *physical.Sort, pipe physical.Node, scan *physical.Scan, parts [][][]types.Value, res *reservation) ([][]types.Value, error) {
	sorted := make([][]keyedRow, len(parts))
	err := c.runPartitions(ctx, pipe, scan, parts, func(ctx context.Context, i int, op Operator) error {
		rows, err := sortInput(ctx, newOrdering(pipe.Schema(), n.Keys), op, &reservation{})
		sorted[i] = rows
		return err
	})
	if err != nil {
		return nil, err
	}

	sources := make([]rowSource, len(sorted))
	for i, rows := range sorted {
		sources[i] = &sliceSource{rows: rows}
	}
	next, err := mergeSorted(newOrdering(pipe.Schema(), n.Keys), sources)
	if err != nil {
		return nil, err
	}

	limit := uint64(0)
	if n.Strategy == physical.SortTopN {
		if limit = n.N; limit == 0 {
			return nil, nil
		}
	}
	var out [][]types.Value
	for limit == 0 || uint64(len(out)) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := next()
		if errors.Is(err, EOF) {
			break
		} else if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, res.grow(rowsSize(out))
}

// parallelPipeline runs the pipeline on every partition and concatenates
// the results in partition order.
func (c *Context) parallelPipeline(ctx context.Context, pipe physical.Node, scan *physical.Scan, parts [][][]types.Value) ([][]types.Value, error) {
	outs := make([][][]types.Value, len(parts))
	err := c.runPartitions(ctx, pipe, scan, parts, func(ctx context.Context, i int, op Operator) error {
		rows, err := readAll(ctx, op)
		outs[i] = rows
		return err
	})
	if err != nil {
		return nil, err
	}
	var rows [][]types.Value
	for _, o := range outs {
		rows = append(rows, o...)
	}
	return rows, nil
}
