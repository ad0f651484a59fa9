package kv

import (
	"errors"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"go.uber.org/atomic"

	"github.com/sealdb/sealdb/pkg/util/ewma"
)

// Recorder accumulates the operation counters and latencies reported by
// [Engine.Stats]. The zero value is not usable; use [NewRecorder].
type Recorder struct {
	total   atomic.Uint64
	success atomic.Uint64
	failed  atomic.Uint64

	avg *ewma.Window

	mu     sync.Mutex
	sketch *ddsketch.DDSketch
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	s, _ := ddsketch.NewDefaultDDSketch(0.01)
	return &Recorder{
		avg:    ewma.NewWindow(time.Minute),
		sketch: s,
	}
}

// Observe records one operation that started at start and finished with err.
// A missing key is a successful lookup.
func (r *Recorder) Observe(start time.Time, err error) {
	now := time.Now()
	took := now.Sub(start)

	r.total.Inc()
	if err == nil || errors.Is(err, ErrNotFound) {
		r.success.Inc()
	} else {
		r.failed.Inc()
	}

	r.avg.Observe(float64(took), now)

	r.mu.Lock()
	_ = r.sketch.Add(took.Seconds())
	r.mu.Unlock()
}

// Stats returns a snapshot of the recorded operations.
func (r *Recorder) Stats() Stats {
	s := Stats{
		Total:      r.total.Load(),
		Success:    r.success.Load(),
		Failed:     r.failed.Load(),
		AvgLatency: time.Duration(r.avg.Value()),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// An empty sketch reports an error, leaving P99Latency at zero.
	if p99, err := r.sketch.GetValueAtQuantile(0.99); err == nil {
		s.P99Latency = time.Duration(p99 * float64(time.Second))
	}
	return s
}
