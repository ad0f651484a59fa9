// Package engine runs parsed SQL statements: it plans them, optimizes the
// plans with the rule and cost based optimizers and executes them against a
// key-value engine through the storage bridge.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/sealdb/sealdb/pkg/engine/catalog"
	"github.com/sealdb/sealdb/pkg/engine/executor"
	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
	"github.com/sealdb/sealdb/pkg/engine/planner/physical"
	"github.com/sealdb/sealdb/pkg/engine/planner/rbo"
	"github.com/sealdb/sealdb/pkg/engine/planner/stats"
	"github.com/sealdb/sealdb/pkg/engine/storage"
	"github.com/sealdb/sealdb/pkg/engine/syntax"
	"github.com/sealdb/sealdb/pkg/kv"
)

var tracer = otel.Tracer("pkg/engine")

// ExplainColumn is the single column of the result of an EXPLAIN statement.
const ExplainColumn = "plan"

// Params holds parameters for constructing a new [Engine].
type Params struct {
	Logger     log.Logger            // Logger for optional log messages.
	Registerer prometheus.Registerer // Registerer for optional metrics.

	Config  Config    // Config for the Engine.
	Storage kv.Engine // Storage engine rows and schemas are kept in.
}

// validate validates p and applies defaults.
func (p *Params) validate() error {
	if p.Logger == nil {
		p.Logger = log.NewNopLogger()
	}
	if p.Registerer == nil {
		p.Registerer = prometheus.NewRegistry()
	}
	if p.Storage == nil {
		return errors.New("storage engine is required")
	}
	return p.Config.Validate()
}

// Engine executes statements. It is safe for concurrent use.
type Engine struct {
	cfg     Config
	logger  log.Logger
	metrics *metrics

	catalog   *catalog.Store
	bridge    *storage.Bridge
	stats     *stats.Manager
	collector *stats.Collector

	rbo      *rbo.Optimizer
	cbo      *physical.Optimizer
	executor *executor.Executor

	plans *lru.Cache[uint64, *physical.Plan] // nil when plan caching is disabled.
	lanes *semaphore.Weighted
}

// New creates a new Engine. Table schemas stored in params.Storage are
// loaded before New returns.
func New(ctx context.Context, params Params) (*Engine, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	cfg, logger := params.Config, params.Logger

	cat, err := catalog.Open(ctx, params.Storage, logger)
	if err != nil {
		return nil, errors.Wrap(err, "opening catalog")
	}
	bridge := storage.NewBridge(cfg.Storage, params.Storage, cat, logger)
	manager := stats.NewManager(logger)

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		metrics: newMetrics(params.Registerer),

		catalog:   cat,
		bridge:    bridge,
		stats:     manager,
		collector: stats.NewCollector(cfg.Stats, bridge, manager, logger),

		rbo:      rbo.NewOptimizer(cfg.RBO, logger),
		cbo:      physical.NewOptimizer(cfg.CBO, manager, logger),
		executor: executor.New(cfg.Executor, logger),

		lanes: semaphore.NewWeighted(int64(cfg.MaxConcurrentQueries)),
	}
	if cfg.Cache.EnableQueryPlanCache {
		if e.plans, err = lru.New[uint64, *physical.Plan](cfg.Cache.Size); err != nil {
			return nil, errors.Wrap(err, "creating plan cache")
		}
	}

	for _, c := range []interface {
		Register(prometheus.Registerer) error
	}{bridge, e.rbo, e.cbo, e.executor} {
		if err := c.Register(params.Registerer); err != nil {
			return nil, errors.Wrap(err, "registering metrics")
		}
	}
	return e, nil
}

// Catalog returns the table schemas known to the engine.
func (e *Engine) Catalog() *catalog.Store { return e.catalog }

// Bridge returns the storage bridge the engine reads and writes rows with.
func (e *Engine) Bridge() *storage.Bridge { return e.bridge }

// Stats returns the statistics the optimizers plan with.
func (e *Engine) Stats() *stats.Manager { return e.stats }

// Result is the outcome of one statement.
type Result struct {
	*executor.QueryResult

	ID    uuid.UUID
	State QueryState
	// Plan is the physical plan the statement ran with. It is nil when
	// planning failed.
	Plan     *physical.Plan
	Warnings []string
	// PeakMemory is the largest number of bytes the operators of the
	// statement held at once.
	PeakMemory uint64
	Duration   time.Duration
}

// transition moves r to state to. Transitions not allowed by the lifecycle
// are programming errors.
func (r *Result) transition(to QueryState) {
	if !canTransition(r.State, to) {
		panic(fmt.Sprintf("invalid query state transition %s -> %s", r.State, to))
	}
	r.State = to
}

// Execute plans, optimizes and runs stmt. Statements that change stored
// rows run in a single transaction that is rolled back on any failure.
//
// The returned Result is never nil: on failure it carries the state the
// statement ended in. Errors are [qerrors.QueryError] values.
func (e *Engine) Execute(ctx context.Context, stmt syntax.Statement) (*Result, error) {
	start := time.Now()
	res := &Result{ID: uuid.New(), State: StatePending}
	typ := syntax.StatementTypeInvalid
	if stmt != nil {
		typ = stmt.Type()
	}

	ctx, span := tracer.Start(ctx, "Engine.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("query_id", res.ID.String()),
		attribute.Stringer("statement", typ),
	)
	logger := log.With(e.logger, "query_id", res.ID.String(), "statement", typ.String())

	if e.cfg.MaxQueryTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.MaxQueryTime)
		defer cancel()
	}

	err := e.execute(ctx, logger, stmt, res)
	res.Duration = time.Since(start)
	if res.QueryResult == nil {
		res.QueryResult = &executor.QueryResult{}
	}

	if err != nil {
		err = classify(err, qerrors.KindExecution)
		if qerrors.KindOf(err) == qerrors.KindCancelled {
			res.transition(StateCancelled)
		} else {
			res.transition(StateFailed)
		}
		e.metrics.queries.WithLabelValues(typ.String(), res.State.String()).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, res.State.String())
		level.Warn(logger).Log("msg", "query failed", "state", res.State, "kind", qerrors.KindOf(err), "duration", res.Duration, "err", err)
		return res, err
	}

	res.transition(StateCompleted)
	e.metrics.queries.WithLabelValues(typ.String(), res.State.String()).Inc()
	span.SetStatus(codes.Ok, "")
	level.Info(logger).Log(
		"msg", "finished executing",
		"rows", len(res.Rows),
		"affected_rows", res.AffectedRows,
		"peak_memory", humanize.IBytes(res.PeakMemory),
		"duration", res.Duration,
	)
	return res, nil
}

func (e *Engine) execute(ctx context.Context, logger log.Logger, stmt syntax.Statement, res *Result) error {
	if err := e.lanes.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "waiting for a query slot")
	}
	defer e.lanes.Release(1)
	e.metrics.inflight.Inc()
	defer e.metrics.inflight.Dec()

	plan, err := e.plan(ctx, logger, stmt, res)
	if err != nil {
		return err
	}
	res.Plan, res.Warnings = plan, plan.Warnings

	res.transition(StateExecuting)
	if _, ok := stmt.(*syntax.Explain); ok {
		res.QueryResult = explain(plan)
		return nil
	}

	timer := prometheus.NewTimer(e.metrics.duration.WithLabelValues("execution"))
	defer timer.ObserveDuration()

	tracker := executor.NewMemoryTracker(e.cfg.MaxMemory.Bytes())
	env := executor.Env{Schema: e.catalog, Memory: tracker}
	defer func() {
		res.PeakMemory = tracker.Peak()
		e.metrics.peakBytes.Observe(float64(res.PeakMemory))
	}()

	switch stmt.(type) {
	case *syntax.Select:
		env.View = e.bridge.View()
		res.QueryResult, err = executor.Drain(ctx, e.executor.Run(ctx, plan, env))
		return err

	case *syntax.CreateTable, *syntax.CreateIndex, *syntax.DropTable:
		env.View = e.bridge.View()
		res.QueryResult, err = executor.Drain(ctx, e.executor.Run(ctx, plan, env))
		e.schemaChanged(stmt)
		return err
	}

	return e.bridge.ExecuteInTransaction(ctx, func(ctx context.Context, v *storage.View) error {
		env.View = v
		out, err := executor.Drain(ctx, e.executor.Run(ctx, plan, env))
		if err != nil {
			return err
		}
		res.QueryResult = out
		return nil
	})
}

// plan returns the physical plan of stmt, from the plan cache when the
// statement is a SELECT that was planned before.
func (e *Engine) plan(ctx context.Context, logger log.Logger, stmt syntax.Statement, res *Result) (*physical.Plan, error) {
	var key uint64
	_, cacheable := stmt.(*syntax.Select)
	cacheable = cacheable && e.plans != nil
	if cacheable {
		key = xxhash.Sum64String(stmt.String())
		if plan, ok := e.plans.Get(key); ok {
			e.metrics.planCache.WithLabelValues("hit").Inc()
			res.transition(StatePlanned)
			res.transition(StateOptimized)
			return plan, nil
		}
		e.metrics.planCache.WithLabelValues("miss").Inc()
	}

	timer := prometheus.NewTimer(e.metrics.duration.WithLabelValues("planning"))
	logicalPlan, err := logical.Build(stmt, e.catalog)
	if err != nil {
		return nil, err
	}
	duration := timer.ObserveDuration()
	res.transition(StatePlanned)
	level.Debug(logger).Log("msg", "finished logical planning", "plan", logicalPlan.String(), "duration", duration)

	timer = prometheus.NewTimer(e.metrics.duration.WithLabelValues("optimization"))
	snap := e.stats.Snapshot()
	logicalPlan, err = e.rbo.Optimize(ctx, logicalPlan, rbo.Env{Stats: snap, Cost: &e.cfg.CBO.Cost})
	if err != nil {
		return nil, err
	}
	plan, err := e.cbo.Optimize(ctx, logicalPlan)
	if err != nil {
		return nil, err
	}
	duration = timer.ObserveDuration()
	res.transition(StateOptimized)
	level.Debug(logger).Log("msg", "finished optimization", "plan", physical.PrintShape(plan), "cost", plan.Cost().Total, "duration", duration)

	if cacheable {
		e.plans.Add(key, plan)
	}
	return plan, nil
}

// schemaChanged drops what a schema change made stale.
func (e *Engine) schemaChanged(stmt syntax.Statement) {
	if drop, ok := stmt.(*syntax.DropTable); ok {
		e.stats.Remove(drop.Name)
	}
	e.purgePlans()
}

func (e *Engine) purgePlans() {
	if e.plans != nil {
		e.plans.Purge()
	}
}

// Analyze collects the statistics of the named tables, or of every table
// when none is named, and makes the optimizers use them.
func (e *Engine) Analyze(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		tables = e.catalog.Tables()
	}
	schemas := make([]*catalog.Table, 0, len(tables))
	for _, name := range tables {
		t, err := e.catalog.Table(name)
		if err != nil {
			return qerrors.New(qerrors.KindPlanning, err)
		}
		schemas = append(schemas, t)
	}
	if err := e.collector.Analyze(ctx, schemas...); err != nil {
		return classify(err, qerrors.KindStorage)
	}
	e.purgePlans()
	return nil
}

// ExecuteBatch applies ops to storage, see [storage.Bridge.ExecuteBatch].
func (e *Engine) ExecuteBatch(ctx context.Context, ops []storage.Operation) ([]storage.OperationResult, error) {
	return e.bridge.ExecuteBatch(ctx, ops)
}

// explain renders plan as the rows of a single column result.
func explain(plan *physical.Plan) *executor.QueryResult {
	out := &executor.QueryResult{Columns: []string{ExplainColumn}}
	for _, line := range strings.Split(strings.TrimRight(plan.String(), "\n"), "\n") {
		out.Rows = append(out.Rows, []types.Value{types.NewString(line)})
	}
	for _, w := range plan.Warnings {
		out.Rows = append(out.Rows, []types.Value{types.NewString("warning: " + w)})
	}
	return out
}

// classify gives err kind unless it already has one. Context errors keep
// the kind they map to.
func classify(err error, kind qerrors.Kind) error {
	var qe *qerrors.QueryError
	if errors.As(err, &qe) {
		return err
	}
	if k := qerrors.KindOf(err); k != qerrors.KindUnknown {
		kind = k
	}
	return qerrors.New(kind, err)
}
