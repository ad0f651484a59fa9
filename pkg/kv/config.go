package kv

import (
	"flag"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/grafana/dskit/backoff"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Supported storage backends.
const (
	BackendMemory = "memory"
	BackendBoltDB = "boltdb"
	BackendRedis  = "redis"
)

var supportedBackends = []string{BackendMemory, BackendBoltDB, BackendRedis}

// Config selects and configures the storage engine.
type Config struct {
	Backend string       `yaml:"backend"`
	BoltDB  BoltConfig   `yaml:"boltdb"`
	Redis   RedisConfig  `yaml:"redis"`
	Client  ClientConfig `yaml:"client"`
}

func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Backend, prefix+"backend", BackendMemory, fmt.Sprintf("Storage backend to use. Supported values are: %v.", supportedBackends))
	cfg.BoltDB.RegisterFlagsWithPrefix(prefix+"boltdb.", f)
	cfg.Redis.RegisterFlagsWithPrefix(prefix+"redis.", f)
	cfg.Client.RegisterFlagsWithPrefix(prefix+"client.", f)
}

func (cfg *Config) Validate() error {
	switch cfg.Backend {
	case BackendMemory:
	case BackendBoltDB:
		if cfg.BoltDB.Path == "" {
			return errors.New("boltdb path must be set")
		}
	case BackendRedis:
		if err := cfg.Redis.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported storage backend %q, must be one of %v", cfg.Backend, supportedBackends)
	}
	return cfg.Client.Validate()
}

// ClientConfig configures how every call to the storage engine is timed out,
// retried, rate limited and guarded by a circuit breaker.
type ClientConfig struct {
	RequestTimeout time.Duration  `yaml:"request_timeout"`
	Backoff        backoff.Config `yaml:"backoff_config"`

	// RateLimit is the maximum number of calls per second. 0 disables it.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	BreakerFailures int           `yaml:"circuit_breaker_consecutive_failures"`
	BreakerTimeout  time.Duration `yaml:"circuit_breaker_open_timeout"`
}

func (cfg *ClientConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.RequestTimeout, prefix+"request-timeout", 5*time.Second, "Timeout of a single call to the storage engine.")
	cfg.Backoff.RegisterFlagsWithPrefix(prefix+"backoff", f)
	f.Float64Var(&cfg.RateLimit, prefix+"rate-limit", 0, "Maximum storage calls per second. 0 to disable.")
	f.IntVar(&cfg.RateBurst, prefix+"rate-burst", 100, "Burst size for the storage rate limit.")
	f.IntVar(&cfg.BreakerFailures, prefix+"circuit-breaker-consecutive-failures", 5, "Consecutive failed calls that open the circuit breaker. 0 disables it.")
	f.DurationVar(&cfg.BreakerTimeout, prefix+"circuit-breaker-open-timeout", 10*time.Second, "How long the circuit breaker stays open before letting a probe call through.")
}

func (cfg *ClientConfig) Validate() error {
	if cfg.RequestTimeout < 0 {
		return errors.New("request timeout must not be negative")
	}
	if cfg.RateLimit < 0 {
		return errors.New("rate limit must not be negative")
	}
	if cfg.BreakerFailures < 0 {
		return errors.New("circuit breaker failures must not be negative")
	}
	if cfg.RateLimit > 0 && cfg.RateBurst <= 0 {
		return errors.New("rate burst must be positive when rate limiting is enabled")
	}
	return nil
}

// New opens the configured backend and wraps it with [Instrumented].
func New(cfg Config, logger log.Logger, reg prometheus.Registerer) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid storage config")
	}

	var (
		engine Engine
		err    error
	)
	switch cfg.Backend {
	case BackendMemory:
		engine = NewMemory()
	case BackendBoltDB:
		engine, err = OpenBolt(cfg.BoltDB)
	case BackendRedis:
		engine, err = NewRedis(cfg.Redis)
	}
	if err != nil {
		return nil, err
	}
	return NewInstrumented(engine, cfg.Backend, cfg.Client, logger, reg), nil
}
