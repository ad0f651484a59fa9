package kv

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Instrumented wraps an [Engine] so that every call is bounded by a request
// timeout, rate limited, guarded by a circuit breaker, retried with backoff
// when the failure is transient, and reported to prometheus.
//
// Transaction calls are timed out and measured but never retried; a failed
// transaction has to be restarted by the caller.
type Instrumented struct {
	next    Engine
	cfg     ClientConfig
	logger  log.Logger
	metrics *metrics
	breaker *gobreaker.CircuitBreaker[any]
	limiter *rate.Limiter
	rec     *Recorder
}

var _ Engine = (*Instrumented)(nil)

// NewInstrumented wraps next. Metrics are registered to reg; registration
// errors are logged and otherwise ignored.
func NewInstrumented(next Engine, backend string, cfg ClientConfig, logger log.Logger, reg prometheus.Registerer) *Instrumented {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = log.With(logger, "component", "kv", "backend", backend)

	// A zero MaxRetries means unbounded retries in backoff.Config; storage
	// calls always give up eventually.
	if cfg.Backoff.MaxRetries <= 0 {
		cfg.Backoff.MaxRetries = 1
	}
	if cfg.Backoff.MinBackoff <= 0 {
		cfg.Backoff.MinBackoff = 10 * time.Millisecond
	}
	if cfg.Backoff.MaxBackoff < cfg.Backoff.MinBackoff {
		cfg.Backoff.MaxBackoff = cfg.Backoff.MinBackoff
	}

	i := &Instrumented{
		next:    next,
		cfg:     cfg,
		logger:  logger,
		metrics: newMetrics(backend),
		rec:     NewRecorder(),
	}
	if reg != nil {
		if err := i.metrics.Register(reg); err != nil {
			level.Warn(logger).Log("msg", "failed to register storage metrics", "err", err)
		}
	}

	if cfg.RateLimit > 0 {
		i.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	if cfg.BreakerFailures > 0 {
		failures := uint32(cfg.BreakerFailures)
		i.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:    backend,
			Timeout: cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !isServerError(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				i.metrics.breakerState.Set(float64(to))
				level.Warn(logger).Log("msg", "storage circuit breaker changed state", "from", from.String(), "to", to.String())
			},
		})
	}
	return i
}

// isServerError reports whether err indicates the engine, rather than the
// request, is unhealthy.
func isServerError(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrTxnDone),
		errors.Is(err, ErrTxnConflict),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func isRetryable(err error) bool {
	switch {
	case !isServerError(err),
		errors.Is(err, ErrClosed),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return false
	}
	return true
}

// do runs fn with retries.
func (i *Instrumented) do(ctx context.Context, op string, fn func(context.Context) error) (err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if isServerError(err) {
			status = "failure"
		}
		i.metrics.operationsTotal.WithLabelValues(op, status).Inc()
		i.metrics.operationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
		i.rec.Observe(start, err)
	}()

	if i.limiter != nil {
		if err := i.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	boff := backoff.New(ctx, i.cfg.Backoff)
	for boff.Ongoing() {
		err = i.attempt(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		level.Debug(i.logger).Log("msg", "retrying storage operation", "op", op, "attempt", boff.NumRetries()+1, "err", err)
		i.metrics.retriesTotal.WithLabelValues(op).Inc()
		boff.Wait()
	}
	if err == nil {
		err = boff.Err()
	}
	return err
}

// attempt runs fn once under the request timeout and the circuit breaker.
func (i *Instrumented) attempt(ctx context.Context, fn func(context.Context) error) error {
	if i.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.RequestTimeout)
		defer cancel()
	}
	if i.breaker == nil {
		return fn(ctx)
	}
	_, err := i.breaker.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func (i *Instrumented) Get(ctx context.Context, key []byte) (value []byte, err error) {
	err = i.do(ctx, "get", func(ctx context.Context) error {
		value, err = i.next.Get(ctx, key)
		return err
	})
	return value, err
}

func (i *Instrumented) Put(ctx context.Context, key, value []byte) error {
	return i.do(ctx, "put", func(ctx context.Context) error {
		return i.next.Put(ctx, key, value)
	})
}

func (i *Instrumented) Delete(ctx context.Context, key []byte) error {
	return i.do(ctx, "delete", func(ctx context.Context) error {
		return i.next.Delete(ctx, key)
	})
}

func (i *Instrumented) Scan(ctx context.Context, start, end []byte, limit int) (pairs []Pair, err error) {
	err = i.do(ctx, "scan", func(ctx context.Context) error {
		pairs, err = i.next.Scan(ctx, start, end, limit)
		return err
	})
	return pairs, err
}

func (i *Instrumented) BatchGet(ctx context.Context, keys [][]byte) (values [][]byte, err error) {
	err = i.do(ctx, "batch_get", func(ctx context.Context) error {
		values, err = i.next.BatchGet(ctx, keys)
		return err
	})
	return values, err
}

func (i *Instrumented) BatchPut(ctx context.Context, pairs []Pair) error {
	return i.do(ctx, "batch_put", func(ctx context.Context) error {
		return i.next.BatchPut(ctx, pairs)
	})
}

func (i *Instrumented) BatchDelete(ctx context.Context, keys [][]byte) error {
	return i.do(ctx, "batch_delete", func(ctx context.Context) error {
		return i.next.BatchDelete(ctx, keys)
	})
}

func (i *Instrumented) Begin(ctx context.Context) (Txn, error) {
	var txn Txn
	err := i.do(ctx, "begin", func(ctx context.Context) (err error) {
		txn, err = i.next.Begin(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &instrumentedTxn{Txn: txn, parent: i}, nil
}

func (i *Instrumented) HealthCheck(ctx context.Context) bool {
	if i.breaker != nil && i.breaker.State() == gobreaker.StateOpen {
		return false
	}
	return i.next.HealthCheck(ctx)
}

// Stats reports operations as seen by callers, retries folded into one call.
func (i *Instrumented) Stats() Stats { return i.rec.Stats() }

// Unwrap returns the wrapped engine.
func (i *Instrumented) Unwrap() Engine { return i.next }

func (i *Instrumented) Close() error { return i.next.Close() }

type instrumentedTxn struct {
	Txn
	parent *Instrumented
}

// once runs fn a single time with the request timeout and metrics applied.
func (t *instrumentedTxn) once(ctx context.Context, op string, fn func(context.Context) error) (err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if isServerError(err) {
			status = "failure"
		}
		t.parent.metrics.operationsTotal.WithLabelValues(op, status).Inc()
		t.parent.metrics.operationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
		t.parent.rec.Observe(start, err)
	}()

	if t.parent.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.parent.cfg.RequestTimeout)
		defer cancel()
	}
	return fn(ctx)
}

func (t *instrumentedTxn) Get(ctx context.Context, key []byte) (value []byte, err error) {
	err = t.once(ctx, "txn_get", func(ctx context.Context) error {
		value, err = t.Txn.Get(ctx, key)
		return err
	})
	return value, err
}

func (t *instrumentedTxn) Scan(ctx context.Context, start, end []byte, limit int) (pairs []Pair, err error) {
	err = t.once(ctx, "txn_scan", func(ctx context.Context) error {
		pairs, err = t.Txn.Scan(ctx, start, end, limit)
		return err
	})
	return pairs, err
}

func (t *instrumentedTxn) Put(ctx context.Context, key, value []byte) error {
	return t.once(ctx, "txn_put", func(ctx context.Context) error {
		return t.Txn.Put(ctx, key, value)
	})
}

func (t *instrumentedTxn) Delete(ctx context.Context, key []byte) error {
	return t.once(ctx, "txn_delete", func(ctx context.Context) error {
		return t.Txn.Delete(ctx, key)
	})
}

func (t *instrumentedTxn) Commit(ctx context.Context) error {
	return t.once(ctx, "txn_commit", t.Txn.Commit)
}
