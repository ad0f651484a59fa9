// Package executor turns physical plans into trees of operators and runs
// them against the storage bridge.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/sealdb/sealdb/pkg/engine/catalog"
	"github.com/sealdb/sealdb/pkg/engine/planner/physical"
	"github.com/sealdb/sealdb/pkg/engine/storage"
)

var tracer = otel.Tracer("pkg/engine/executor")

// SchemaStore applies schema changes.
type SchemaStore interface {
	Create(ctx context.Context, t *catalog.Table, ifNotExists bool) error
	Drop(ctx context.Context, name string, ifExists bool) (*catalog.Table, error)
	AddIndex(ctx context.Context, table string, idx catalog.Index) (*catalog.Table, error)
}

// Env holds the per query dependencies of operators.
type Env struct {
	// View reads and writes rows, usually within the query transaction.
	View *storage.View
	// Schema applies DDL statements. It may be nil when the plan has none.
	Schema SchemaStore
	// Memory accounts the memory of the query. It may be nil.
	Memory *MemoryTracker
}

// Executor builds operator trees.
type Executor struct {
	cfg     Config
	logger  log.Logger
	metrics *metrics
}

func New(cfg Config, logger log.Logger) *Executor {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Executor{cfg: cfg, logger: logger, metrics: newMetrics()}
}

// Register registers the executor metrics to reg.
func (e *Executor) Register(reg prometheus.Registerer) error { return e.metrics.Register(reg) }

// Unregister unregisters the executor metrics from reg.
func (e *Executor) Unregister(reg prometheus.Registerer) { e.metrics.Unregister(reg) }

// Run returns the root operator of plan. Operators are built lazily; errors
// surface from the first Read.
func (e *Executor) Run(ctx context.Context, plan *physical.Plan, env Env) Operator {
	c := &Context{
		cfg:     e.cfg,
		env:     env,
		logger:  e.logger,
		metrics: e.metrics,
	}
	if plan == nil || plan.Root == nil {
		return errorOperator(ctx, errors.New("plan is nil"))
	}
	if env.View == nil {
		return errorOperator(ctx, errors.New("no storage view"))
	}
	return c.execute(ctx, plan.Root)
}

// Context is the execution context of one query.
type Context struct {
	cfg     Config
	env     Env
	logger  log.Logger
	metrics *metrics
}

func (c *Context) reservation() *reservation {
	return &reservation{tracker: c.env.Memory}
}

func (c *Context) execute(ctx context.Context, node physical.Node) Operator {
	switch n := node.(type) {
	case *physical.Scan:
		return newLazyOperator(func(ctx context.Context) Operator {
			return traceOperator("physical."+n.Method.String(), c.executeScan(ctx, n))
		})
	case *physical.Filter:
		return traceOperator("physical.Filter", c.executeFilter(n, c.execute(ctx, n.Child)))
	case *physical.Project:
		return traceOperator("physical.Project", c.executeProject(n, c.execute(ctx, n.Child)))
	case *physical.Join:
		left, right := c.execute(ctx, n.Left), c.execute(ctx, n.Right)
		return traceOperator("physical."+n.Algorithm.String(), c.executeJoin(n, left, right))
	case *physical.Aggregate:
		return traceOperator("physical."+n.Strategy.String(), c.executeAggregate(n, c.execute(ctx, n.Child)))
	case *physical.Sort:
		return traceOperator("physical."+n.Strategy.String(), c.executeSort(n, c.execute(ctx, n.Child)))
	case *physical.Limit:
		return traceOperator("physical.Limit", newLimitOperator(c.execute(ctx, n.Child), n.Skip, n.Fetch))
	case *physical.Distinct:
		return traceOperator("physical.Distinct", c.executeDistinct(n, c.execute(ctx, n.Child)))
	case *physical.SetOp:
		left, right := c.execute(ctx, n.Left), c.execute(ctx, n.Right)
		return traceOperator("physical."+n.Kind.String(), c.executeSetOp(n, left, right))
	case *physical.Values:
		return traceOperator("physical.Values", c.executeValues(n))
	case *physical.Parallel:
		return traceOperator("physical.Parallel", c.executeParallel(n))
	case *physical.Insert:
		return traceOperator("physical.Insert", c.executeInsert(n, c.execute(ctx, n.Source)))
	case *physical.Update:
		return traceOperator("physical.Update", c.executeUpdate(n, c.execute(ctx, n.Child)))
	case *physical.Delete:
		return traceOperator("physical.Delete", c.executeDelete(n, c.execute(ctx, n.Child)))
	case *physical.CreateTable, *physical.CreateIndex, *physical.DropTable:
		return traceOperator("physical."+node.Type().String(), c.executeDDL(node))
	default:
		return errorOperator(ctx, unexpectedNode(node))
	}
}

func schemaMismatch(op string, want, got int) error {
	return fmt.Errorf("%s: inputs have %d and %d columns", op, want, got)
}
