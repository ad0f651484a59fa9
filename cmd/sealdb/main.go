package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
	"gopkg.in/yaml.v3"

	"github.com/sealdb/sealdb/pkg/cfg"
	"github.com/sealdb/sealdb/pkg/engine"
	"github.com/sealdb/sealdb/pkg/kv"
	util_log "github.com/sealdb/sealdb/pkg/util/log"
)

// Config is the configuration of the sealdb binary.
type Config struct {
	PrintVersion bool `yaml:"-"`
	VerifyConfig bool `yaml:"-"`
	PrintConfig  bool `yaml:"-"`

	// HTTPListenAddress serves metrics and the log level endpoint when set.
	HTTPListenAddress string `yaml:"http_listen_address"`
	// Demo runs the built-in example statements.
	Demo bool `yaml:"demo"`

	Log     util_log.Config `yaml:"log"`
	Storage kv.Config       `yaml:"storage"`
	Query   engine.Config   `yaml:"query"`
}

func (c *Config) RegisterFlags(f *flag.FlagSet) {
	f.BoolVar(&c.PrintVersion, "version", false, "Print this build's version information.")
	f.BoolVar(&c.VerifyConfig, "verify-config", false, "Verify config file and exits.")
	f.BoolVar(&c.PrintConfig, "print-config-stderr", false, "Dump the entire configuration to stderr.")
	f.StringVar(&c.HTTPListenAddress, "server.http-listen-address", "", "Address to serve /metrics and /log_level on. Empty disables the HTTP server.")
	f.BoolVar(&c.Demo, "demo", true, "Run the example statements against the configured storage.")

	c.Log.RegisterFlags(f)
	c.Storage.RegisterFlagsWithPrefix("storage.", f)
	c.Query.RegisterFlags(f)
}

func (c *Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return errors.Wrap(err, "invalid log config")
	}
	if err := c.Storage.Validate(); err != nil {
		return errors.Wrap(err, "invalid storage config")
	}
	if err := c.Query.Validate(); err != nil {
		return errors.Wrap(err, "invalid query config")
	}
	return nil
}

func main() {
	var config Config
	if err := cfg.Parse(&config, flag.CommandLine, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(1)
	}
	if config.PrintVersion {
		fmt.Println(version.Print("sealdb"))
		os.Exit(0)
	}

	logger := util_log.InitLogger(config.Log, os.Stderr)
	if config.VerifyConfig {
		level.Info(logger).Log("msg", "config is valid")
		os.Exit(0)
	}
	if config.PrintConfig {
		if err := yaml.NewEncoder(os.Stderr).Encode(&config); err != nil {
			level.Error(logger).Log("msg", "failed to print config to stderr", "err", err.Error())
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, config); err != nil {
		level.Error(logger).Log("msg", "error running sealdb", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, config Config) error {
	logger := util_log.Logger
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := kv.New(config.Storage, logger, reg)
	if err != nil {
		return errors.Wrap(err, "initialising storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			level.Warn(logger).Log("msg", "failed to close storage", "err", err)
		}
	}()

	eng, err := engine.New(ctx, engine.Params{
		Logger:     logger,
		Registerer: reg,
		Config:     config.Query,
		Storage:    store,
	})
	if err != nil {
		return errors.Wrap(err, "initialising engine")
	}
	level.Info(logger).Log("msg", "Starting SealDB", "version", version.Info(), "storage", config.Storage.Backend)

	if config.HTTPListenAddress != "" {
		srv := newHTTPServer(config, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				level.Error(logger).Log("msg", "http server failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if config.Demo {
		if err := runDemo(ctx, eng, os.Stdout); err != nil {
			return err
		}
	}
	if config.HTTPListenAddress != "" {
		<-ctx.Done()
	}
	return nil
}

func newHTTPServer(config Config, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/log_level", util_log.LevelHandler(&config.Log.Level))
	return &http.Server{
		Addr:              config.HTTPListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
