// Package ewma computes exponentially weighted moving averages over a time
// window.
package ewma

import (
	"math"
	"strings"
	"sync"
	"time"
)

// Window is an EWMA over a time window; such as a 1m window. A Window is
// safe for concurrent use.
type Window struct {
	size time.Duration

	mu          sync.Mutex
	initialized bool
	value       float64
	lastUpdate  time.Time
}

// NewWindow returns an empty window of the given size.
func NewWindow(size time.Duration) *Window {
	return &Window{size: size}
}

// Name returns a name for the window, based on its size. Unlike
// [time.Duration.String], trailing zero units are removed, so 15m0s becomes
// 15m.
func (w *Window) Name() string {
	name := w.size.String()

	if strings.HasSuffix(name, "m0s") {
		name = name[:len(name)-2] // Trim 0s
	}
	if strings.HasSuffix(name, "h0m") {
		name = name[:len(name)-2] // Trim 0m
	}
	return name
}

// Observe updates the window with a new value. Observe reinitializes the
// window when now is earlier than the timestamp of the previous call.
func (w *Window) Observe(value float64, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Clock drift is treated as reinitialization.
	if !w.initialized || now.Before(w.lastUpdate) {
		w.initialized = true
		w.value = value
		w.lastUpdate = now
		return
	}

	// ewma_new = decay * ewma_old + (1 - decay) * value, with
	// decay = e^(-delta/window_size).
	delta := now.Sub(w.lastUpdate)
	decay := math.Exp(-delta.Seconds() / w.size.Seconds())

	w.value = decay*w.value + (1-decay)*value
	w.lastUpdate = now
}

// Value returns the current EWMA value, or 0 if nothing was observed.
func (w *Window) Value() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}
