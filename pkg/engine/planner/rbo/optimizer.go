package rbo

import (
	"context"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
)

var tracer = otel.Tracer("pkg/engine/planner/rbo")

// Optimizer applies the enabled rules of [DefaultRules] to logical plans in
// a single pass: every rule runs once, on the output of the previous one.
// Once [Config.MaxRuleApplications] rules have rewritten the plan, the
// remaining rules are skipped.
type Optimizer struct {
	cfg     Config
	logger  log.Logger
	metrics *metrics
}

func NewOptimizer(cfg Config, logger log.Logger) *Optimizer {
	if cfg.MaxRuleApplications < 1 {
		cfg.MaxRuleApplications = 1
	}
	return &Optimizer{cfg: cfg, logger: logger, metrics: newMetrics()}
}

// Register registers the optimizer metrics to reg.
func (o *Optimizer) Register(reg prometheus.Registerer) error { return o.metrics.Register(reg) }

// Unregister unregisters the optimizer metrics from reg.
func (o *Optimizer) Unregister(reg prometheus.Registerer) { o.metrics.Unregister(reg) }

// Optimize rewrites plan. The input plan is not modified. Errors are
// optimization errors.
func (o *Optimizer) Optimize(ctx context.Context, plan *logical.QueryPlan, env Env) (*logical.QueryPlan, error) {
	ctx, span := tracer.Start(ctx, "rbo.Optimize")
	defer span.End()

	out, applied, err := o.optimize(ctx, plan, env)
	if err != nil {
		o.metrics.optimizations.WithLabelValues("error").Inc()
		span.RecordError(err)
		kind := qerrors.KindOptimization
		if k := qerrors.KindOf(err); k == qerrors.KindCancelled || k == qerrors.KindResource {
			kind = k
		}
		return nil, qerrors.New(kind, err)
	}
	o.metrics.optimizations.WithLabelValues("success").Inc()
	span.SetAttributes(attribute.StringSlice("rules", applied))
	level.Debug(o.logger).Log("msg", "optimized logical plan", "rules", len(applied), "applied", strings.Join(applied, ","))
	return out, nil
}

func (o *Optimizer) optimize(ctx context.Context, plan *logical.QueryPlan, env Env) (*logical.QueryPlan, []string, error) {
	if err := plan.Validate(); err != nil {
		return nil, nil, err
	}

	root := plan.Root
	var applied []string
	rules := DefaultRules(env)
	for i, r := range rules {
		if !o.cfg.enabled(r.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if len(applied) >= o.cfg.MaxRuleApplications {
			level.Warn(o.logger).Log("msg", "rule application limit reached", "limit", o.cfg.MaxRuleApplications, "skipped", len(rules)-i)
			break
		}
		next, err := r.Apply(root)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "rule %s", r.Name())
		}
		if next == root {
			continue
		}
		root = next
		applied = append(applied, r.Name())
		o.metrics.ruleApplications.WithLabelValues(r.Name()).Inc()
	}

	out := &logical.QueryPlan{Root: root}
	if err := out.Validate(); err != nil {
		return nil, nil, errors.Wrap(err, "optimized plan")
	}
	return out, applied, nil
}
