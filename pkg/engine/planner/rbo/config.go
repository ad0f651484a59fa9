package rbo

import (
	"flag"

	"github.com/pkg/errors"
)

// Config toggles individual rules and bounds how many of them may rewrite
// a plan.
type Config struct {
	EnableConstantFolding          bool `yaml:"enable_constant_folding"`
	EnableExpressionSimplification bool `yaml:"enable_expression_simplification"`
	EnableSubqueryFlattening       bool `yaml:"enable_subquery_flattening"`
	EnablePredicatePushdown        bool `yaml:"enable_predicate_pushdown"`
	EnableColumnPruning            bool `yaml:"enable_column_pruning"`
	EnableJoinReorder              bool `yaml:"enable_join_reorder"`
	EnableIndexSelection           bool `yaml:"enable_index_selection"`
	EnableOrderByOptimization      bool `yaml:"enable_order_by_optimization"`
	EnableGroupByOptimization      bool `yaml:"enable_group_by_optimization"`
	EnableDistinctOptimization     bool `yaml:"enable_distinct_optimization"`
	EnableLimitOptimization        bool `yaml:"enable_limit_optimization"`
	EnableUnionOptimization        bool `yaml:"enable_union_optimization"`

	// MaxRuleApplications bounds how many rules may rewrite the plan in one
	// optimization pass.
	MaxRuleApplications int `yaml:"max_rule_applications"`
}

// DefaultConfig enables every rule.
func DefaultConfig() Config {
	var cfg Config
	fs := flag.NewFlagSet("", flag.PanicOnError)
	cfg.RegisterFlagsWithPrefix("", fs)
	return cfg
}

func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.BoolVar(&cfg.EnableConstantFolding, prefix+"enable-constant-folding", true, "Evaluate constant sub-expressions at planning time.")
	f.BoolVar(&cfg.EnableExpressionSimplification, prefix+"enable-expression-simplification", true, "Remove redundant boolean connectives and always-true filters.")
	f.BoolVar(&cfg.EnableSubqueryFlattening, prefix+"enable-subquery-flattening", true, "Inline derived tables that only rename a filtered scan.")
	f.BoolVar(&cfg.EnablePredicatePushdown, prefix+"enable-predicate-pushdown", true, "Move filters towards the scans.")
	f.BoolVar(&cfg.EnableColumnPruning, prefix+"enable-column-pruning", true, "Read only the columns a query uses.")
	f.BoolVar(&cfg.EnableJoinReorder, prefix+"enable-join-reorder", true, "Put the smaller input of inner joins on the build side.")
	f.BoolVar(&cfg.EnableIndexSelection, prefix+"enable-index-selection", true, "Choose a secondary index for filtered scans.")
	f.BoolVar(&cfg.EnableOrderByOptimization, prefix+"enable-order-by-optimization", true, "Remove sorts over already ordered input.")
	f.BoolVar(&cfg.EnableGroupByOptimization, prefix+"enable-group-by-optimization", true, "Drop duplicate and constant group keys.")
	f.BoolVar(&cfg.EnableDistinctOptimization, prefix+"enable-distinct-optimization", true, "Remove distincts over input without duplicates.")
	f.BoolVar(&cfg.EnableLimitOptimization, prefix+"enable-limit-optimization", true, "Merge limits and push them into scans.")
	f.BoolVar(&cfg.EnableUnionOptimization, prefix+"enable-union-optimization", true, "Flatten UNION ALL chains and deduplicate identical UNION inputs.")
	f.IntVar(&cfg.MaxRuleApplications, prefix+"max-rule-applications", 10, "Maximum number of rules that may rewrite a plan in one optimization pass. Later rules are skipped once it is reached.")
}

func (cfg *Config) Validate() error {
	if cfg.MaxRuleApplications < 1 {
		return errors.New("max rule applications must be at least 1")
	}
	return nil
}

// enabled reports whether the rule with the given name should run.
func (cfg *Config) enabled(name string) bool {
	switch name {
	case constantFolding{}.Name():
		return cfg.EnableConstantFolding
	case expressionSimplification{}.Name():
		return cfg.EnableExpressionSimplification
	case subqueryFlattening{}.Name():
		return cfg.EnableSubqueryFlattening
	case predicatePushdown{}.Name():
		return cfg.EnablePredicatePushdown
	case columnPruning{}.Name():
		return cfg.EnableColumnPruning
	case joinReorder{}.Name():
		return cfg.EnableJoinReorder
	case indexSelection{}.Name():
		return cfg.EnableIndexSelection
	case orderByOptimization{}.Name():
		return cfg.EnableOrderByOptimization
	case groupByOptimization{}.Name():
		return cfg.EnableGroupByOptimization
	case distinctOptimization{}.Name():
		return cfg.EnableDistinctOptimization
	case limitOptimization{}.Name():
		return cfg.EnableLimitOptimization
	case unionOptimization{}.Name():
		return cfg.EnableUnionOptimization
	}
	return true
}
