package executor

import (
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

// rowOverhead is the estimated per value bookkeeping cost in bytes.
const rowOverhead = 16

// MemoryTracker accounts the memory held by the operators of one query.
// It is safe for concurrent use.
type MemoryTracker struct {
	limit uint64
	used  atomic.Uint64
	peak  atomic.Uint64
}

// NewMemoryTracker returns a tracker enforcing limit bytes. A zero limit
// only tracks usage.
func NewMemoryTracker(limit uint64) *MemoryTracker {
	return &MemoryTracker{limit: limit}
}

// Reserve accounts n more bytes. It fails with a resource error when the
// limit would be exceeded; nothing is reserved in that case.
func (m *MemoryTracker) Reserve(n uint64) error {
	if m == nil || n == 0 {
		return nil
	}
	used := m.used.Add(n)
	if m.limit > 0 && used > m.limit {
		m.used.Sub(n)
		return qerrors.New(qerrors.KindResource, errors.Wrapf(qerrors.ErrMemoryLimit,
			"need %s more, %s of %s in use", humanize.IBytes(n), humanize.IBytes(used-n), humanize.IBytes(m.limit)))
	}
	for {
		peak := m.peak.Load()
		if used <= peak || m.peak.CompareAndSwap(peak, used) {
			return nil
		}
	}
}

// Release returns n bytes.
func (m *MemoryTracker) Release(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.used.Sub(n)
}

// Used returns the bytes currently reserved.
func (m *MemoryTracker) Used() uint64 {
	if m == nil {
		return 0
	}
	return m.used.Load()
}

// Peak returns the largest number of bytes reserved at once.
func (m *MemoryTracker) Peak() uint64 {
	if m == nil {
		return 0
	}
	return m.peak.Load()
}

// rowSize estimates the memory held by row.
func rowSize(row []types.Value) uint64 {
	n := uint64(len(row) * rowOverhead)
	for _, v := range row {
		n += uint64(v.Width())
	}
	return n
}

func rowsSize(rows [][]types.Value) uint64 {
	var n uint64
	for _, r := range rows {
		n += rowSize(r)
	}
	return n
}

// reservation is the memory one operator holds. It is released when the
// operator closes.
type reservation struct {
	tracker *MemoryTracker
	bytes   uint64
}

func (r *reservation) grow(n uint64) error {
	if err := r.tracker.Reserve(n); err != nil {
		return err
	}
	r.bytes += n
	return nil
}

func (r *reservation) release() {
	r.tracker.Release(r.bytes)
	r.bytes = 0
}
