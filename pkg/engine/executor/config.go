package executor

import (
	"flag"

	"github.com/pkg/errors"
)

// Config configures query execution.
type Config struct {
	// BatchSize is the maximum number of rows per batch passed between
	// operators.
	BatchSize int `yaml:"batch_size"`
	// SpillDir is the directory external sorts write their runs to. Empty
	// uses the default temporary directory.
	SpillDir string `yaml:"spill_dir"`
	// ShardConcurrency is the number of shards read at once by shard scans
	// and aggregations.
	ShardConcurrency int `yaml:"shard_concurrency"`
	// BloomFalsePositiveRate is the false positive rate of the filter built
	// over the keys of a hash join build side.
	BloomFalsePositiveRate float64 `yaml:"bloom_false_positive_rate"`
}

func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.BatchSize, prefix+"batch-size", 1024, "Maximum number of rows per batch passed between operators.")
	f.StringVar(&cfg.SpillDir, prefix+"spill-dir", "", "Directory external sorts spill their runs to. Defaults to the system temporary directory.")
	f.IntVar(&cfg.ShardConcurrency, prefix+"shard-concurrency", 4, "Number of shards read concurrently by shard scans and aggregations.")
	f.Float64Var(&cfg.BloomFalsePositiveRate, prefix+"bloom-false-positive-rate", 0.01, "False positive rate of the bloom filter over hash join build keys.")
}

func (cfg *Config) Validate() error {
	if cfg.BatchSize < 1 {
		return errors.New("batch size must be at least 1")
	}
	if cfg.ShardConcurrency < 1 {
		return errors.New("shard concurrency must be at least 1")
	}
	if cfg.BloomFalsePositiveRate <= 0 || cfg.BloomFalsePositiveRate >= 1 {
		return errors.New("bloom false positive rate must be between 0 and 1")
	}
	return nil
}

// DefaultConfig returns the configuration set by the flag defaults.
func DefaultConfig() Config {
	var cfg Config
	cfg.RegisterFlagsWithPrefix("", flag.NewFlagSet("", flag.PanicOnError))
	return cfg
}
