package engine

import (
	"flag"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"

	"github.com/sealdb/sealdb/pkg/engine/executor"
	"github.com/sealdb/sealdb/pkg/engine/planner/physical"
	"github.com/sealdb/sealdb/pkg/engine/planner/rbo"
	"github.com/sealdb/sealdb/pkg/engine/planner/stats"
	"github.com/sealdb/sealdb/pkg/engine/storage"
)

// Config configures the query engine.
type Config struct {
	// MaxQueryTime bounds the execution of a single statement. Zero disables
	// the timeout.
	MaxQueryTime time.Duration `yaml:"max_query_time"`
	// MaxMemory bounds the memory held by the operators of a single
	// statement. Zero only tracks usage.
	MaxMemory datasize.ByteSize `yaml:"max_memory"`
	// MaxConcurrentQueries is the number of statements executed at once;
	// further statements wait for a free slot.
	MaxConcurrentQueries int `yaml:"max_concurrent_queries"`

	Cache CacheConfig `yaml:"cache"`

	RBO      rbo.Config            `yaml:"rbo"`
	CBO      physical.Config       `yaml:"cbo"`
	Executor executor.Config       `yaml:"executor"`
	Storage  storage.Config        `yaml:"storage"`
	Stats    stats.CollectorConfig `yaml:"stats"`
}

// CacheConfig configures the cache of physical plans of read-only
// statements.
type CacheConfig struct {
	EnableQueryPlanCache bool `yaml:"enable_query_plan_cache"`
	Size                 int  `yaml:"size"`
}

func (cfg *CacheConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.BoolVar(&cfg.EnableQueryPlanCache, prefix+"enable-query-plan-cache", true, "Cache the physical plans of read-only statements.")
	f.IntVar(&cfg.Size, prefix+"size", 1000, "Maximum number of cached plans.")
}

func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.MaxQueryTime, prefix+"max-query-time", 30*time.Second, "Maximum time a statement may run. 0 to disable.")
	cfg.MaxMemory = 1 * datasize.GB
	f.TextVar(&cfg.MaxMemory, prefix+"max-memory", cfg.MaxMemory, "Maximum memory held by the operators of a statement. 0 to only track usage.")
	f.IntVar(&cfg.MaxConcurrentQueries, prefix+"max-concurrent-queries", 16, "Maximum number of statements executed concurrently.")

	cfg.Cache.RegisterFlagsWithPrefix(prefix+"cache.", f)
	cfg.RBO.RegisterFlagsWithPrefix(prefix+"rbo.", f)
	cfg.CBO.RegisterFlagsWithPrefix(prefix+"cbo.", f)
	cfg.Executor.RegisterFlagsWithPrefix(prefix+"executor.", f)
	cfg.Storage.RegisterFlagsWithPrefix(prefix+"storage.", f)
	cfg.Stats.RegisterFlagsWithPrefix(prefix+"stats.", f)
}

// RegisterFlags registers the engine flags with the "query." prefix.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.RegisterFlagsWithPrefix("query.", f)
}

func (cfg *Config) Validate() error {
	if cfg.MaxQueryTime < 0 {
		return errors.New("max query time must not be negative")
	}
	if cfg.MaxConcurrentQueries < 1 {
		return errors.New("max concurrent queries must be at least 1")
	}
	if cfg.Cache.EnableQueryPlanCache && cfg.Cache.Size < 1 {
		return errors.New("plan cache size must be at least 1")
	}
	if err := cfg.RBO.Validate(); err != nil {
		return errors.Wrap(err, "invalid rbo config")
	}
	if err := cfg.CBO.Validate(); err != nil {
		return errors.Wrap(err, "invalid cbo config")
	}
	if err := cfg.Executor.Validate(); err != nil {
		return errors.Wrap(err, "invalid executor config")
	}
	if err := cfg.Storage.Validate(); err != nil {
		return errors.Wrap(err, "invalid storage config")
	}
	if err := cfg.Stats.Validate(); err != nil {
		return errors.Wrap(err, "invalid stats config")
	}
	return nil
}

// DefaultConfig returns the configuration set by the flag defaults.
func DefaultConfig() Config {
	var cfg Config
	cfg.RegisterFlagsWithPrefix("", flag.NewFlagSet("", flag.PanicOnError))
	return cfg
}
