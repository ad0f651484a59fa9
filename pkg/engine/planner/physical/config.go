package physical

import (
	"flag"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"

	"github.com/sealdb/sealdb/pkg/engine/planner/cost"
)

// Config configures the cost based optimizer.
type Config struct {
	EnableJoinReorder             bool `yaml:"enable_join_reorder"`
	EnableIndexSelection          bool `yaml:"enable_index_selection"`
	EnableAggregationOptimization bool `yaml:"enable_aggregation_optimization"`
	EnableSortOptimization        bool `yaml:"enable_sort_optimization"`
	EnableParallelization         bool `yaml:"enable_parallelization"`

	// MaxPlansPerGroup caps the number of join orders priced for one chain
	// of inner joins.
	MaxPlansPerGroup int `yaml:"max_plans_per_group"`
	// MaxJoinReorderTables is the largest chain of inner joins whose orders
	// are enumerated. Longer chains keep their order.
	MaxJoinReorderTables int `yaml:"max_join_reorder_tables"`

	ParallelRowThreshold int `yaml:"parallel_row_threshold"`
	ParallelWorkers      int `yaml:"parallel_workers"`

	// SortMemory is the memory a sort may use before spilling runs.
	SortMemory datasize.ByteSize `yaml:"sort_memory"`

	Cost cost.Model `yaml:"cost"`
}

func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.BoolVar(&cfg.EnableJoinReorder, prefix+"enable-join-reorder", true, "Enumerate the orders of inner join chains.")
	f.BoolVar(&cfg.EnableIndexSelection, prefix+"enable-index-selection", true, "Consider index, batch and bitmap scans.")
	f.BoolVar(&cfg.EnableAggregationOptimization, prefix+"enable-aggregation-optimization", true, "Consider group aggregation over sorted input.")
	f.BoolVar(&cfg.EnableSortOptimization, prefix+"enable-sort-optimization", true, "Consider external sorts and top-N sorts.")
	f.BoolVar(&cfg.EnableParallelization, prefix+"enable-parallelization", true, "Consider parallel scans, aggregations and sorts.")
	f.IntVar(&cfg.MaxPlansPerGroup, prefix+"max-plans-per-group", 100, "Maximum number of join orders priced per join chain.")
	f.IntVar(&cfg.MaxJoinReorderTables, prefix+"max-join-reorder-tables", 6, "Maximum number of tables in a join chain whose order is enumerated.")
	f.IntVar(&cfg.ParallelRowThreshold, prefix+"parallel-row-threshold", 100000, "Minimum number of input rows before a parallel strategy is considered.")
	f.IntVar(&cfg.ParallelWorkers, prefix+"parallel-workers", 4, "Number of workers of a parallel operator.")
	cfg.SortMemory = 64 * datasize.MB
	f.TextVar(&cfg.SortMemory, prefix+"sort-memory", cfg.SortMemory, "Memory a sort may use before spilling to disk.")
	cfg.Cost.RegisterFlagsWithPrefix(prefix+"cost.", f)
}

func (cfg *Config) Validate() error {
	if cfg.MaxPlansPerGroup < 1 {
		return errors.New("max plans per group must be at least 1")
	}
	if cfg.MaxJoinReorderTables < 2 {
		return errors.New("max join reorder tables must be at least 2")
	}
	if cfg.ParallelWorkers < 1 {
		return errors.New("parallel workers must be at least 1")
	}
	if cfg.SortMemory == 0 {
		return errors.New("sort memory must not be zero")
	}
	return cfg.Cost.Validate()
}

// DefaultConfig returns the configuration set by the flag defaults.
func DefaultConfig() Config {
	var cfg Config
	cfg.RegisterFlagsWithPrefix("", flag.NewFlagSet("", flag.PanicOnError))
	return cfg
}
