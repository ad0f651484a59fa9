package ewma

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWindow(t *testing.T) {
	w := NewWindow(time.Minute)
	require.Equal(t, "1m", w.Name())
	require.Zero(t, w.Value())

	now := time.Unix(0, 0)
	w.Observe(10, now)
	require.Equal(t, 10.0, w.Value())

	// An observation at the same instant carries no weight.
	w.Observe(100, now)
	require.Equal(t, 10.0, w.Value())

	// After one window, the old value decays by 1/e.
	w.Observe(0, now.Add(time.Minute))
	require.InDelta(t, 10*0.36787944, w.Value(), 1e-6)

	// Going back in time resets the window.
	w.Observe(42, now)
	require.Equal(t, 42.0, w.Value())
}

func TestWindow_Name(t *testing.T) {
	require.Equal(t, "15m", NewWindow(15*time.Minute).Name())
	require.Equal(t, "1h", NewWindow(time.Hour).Name())
	require.Equal(t, "30s", NewWindow(30*time.Second).Name())
}
