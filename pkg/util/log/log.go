// Package log builds the process logger from configuration.
package log

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"
	jsoniter "github.com/json-iterator/go"
)

const (
	FormatLogfmt = "logfmt"
	FormatJSON   = "json"
)

// Config configures the process logger.
type Config struct {
	Level  dslog.Level `yaml:"level"`
	Format string      `yaml:"format"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.Level.RegisterFlags(f)
	f.StringVar(&cfg.Format, "log.format", FormatLogfmt, fmt.Sprintf("Output log messages in the given format. Valid formats: [%s, %s]", FormatLogfmt, FormatJSON))
}

func (cfg *Config) Validate() error {
	switch cfg.Format {
	case FormatLogfmt, FormatJSON:
		return nil
	}
	return fmt.Errorf("unsupported log format %q", cfg.Format)
}

// Logger is the process logger. It discards everything until InitLogger is
// called.
var Logger = log.NewNopLogger()

var plogger *prometheusLogger

// prometheusLogger filters the messages of baseLogger by a level that can be
// changed at runtime.
type prometheusLogger struct {
	baseLogger log.Logger

	mu     sync.RWMutex
	logger log.Logger
}

func newPrometheusLogger(base log.Logger, lvl dslog.Level) *prometheusLogger {
	l := &prometheusLogger{baseLogger: base}
	l.setLevel(lvl)
	return l
}

func (l *prometheusLogger) setLevel(lvl dslog.Level) {
	opt := lvl.Option
	if opt == nil {
		opt = level.AllowInfo()
	}
	l.mu.Lock()
	l.logger = level.NewFilter(l.baseLogger, opt)
	l.mu.Unlock()
}

func (l *prometheusLogger) Log(kv ...interface{}) error {
	l.mu.RLock()
	logger := l.logger
	l.mu.RUnlock()
	return logger.Log(kv...)
}

// NewLogger returns a logger writing to w in the configured format and at
// the configured level.
func NewLogger(cfg Config, w io.Writer) log.Logger {
	return log.With(newPrometheusLogger(baseLogger(cfg, w), cfg.Level), "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

func baseLogger(cfg Config, w io.Writer) log.Logger {
	if cfg.Format == FormatJSON {
		return log.NewJSONLogger(log.NewSyncWriter(w))
	}
	return log.NewLogfmtLogger(log.NewSyncWriter(w))
}

// InitLogger replaces [Logger] with a logger built from cfg. The level of
// the returned logger can be changed with [LevelHandler].
func InitLogger(cfg Config, w io.Writer) log.Logger {
	plogger = newPrometheusLogger(baseLogger(cfg, w), cfg.Level)
	Logger = log.With(plogger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return Logger
}

// LevelHandler reports the current log level on GET and changes it to the
// log_level form value on POST.
func LevelHandler(currentLogLevel *dslog.Level) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]string{
				"message": fmt.Sprintf("Current log level is %s", currentLogLevel.String()),
			})
		case http.MethodPost:
			logLevel := r.FormValue("log_level")

			var lvl dslog.Level
			if err := lvl.Set(logLevel); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"status":  "failed",
					"message": fmt.Sprintf("unrecognized log level %q", logLevel),
				})
				return
			}
			*currentLogLevel = lvl
			if plogger != nil {
				plogger.setLevel(lvl)
			}
			writeJSON(w, http.StatusOK, map[string]string{
				"status":  "success",
				"message": fmt.Sprintf("Log level set to %s", logLevel),
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsoniter.NewEncoder(w).Encode(v)
}
