// Package stats holds the table, column and index statistics the cost based
// optimizer reads, and the collector that gathers them.
package stats

import (
	"math"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"

	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

// Defaults assumed for tables that were never analyzed.
const (
	DefaultRowCount   = 10000
	DefaultAvgRowSize = 100
	DefaultSampleSize = 1000

	// RowsPerPage is the number of rows assumed to fit in one page.
	RowsPerPage = 100
)

// TableStats describes the contents of a table at LastAnalyzed.
type TableStats struct {
	RowCount     uint64
	PageCount    uint64
	AvgRowSize   float64
	LastAnalyzed time.Time
	SampleSize   uint64

	// Columns and Indexes are keyed by lower case name.
	Columns map[string]ColumnStats
	Indexes map[string]IndexStats
}

// ColumnStats describes the value distribution of one column.
type ColumnStats struct {
	NullFraction  float64
	DistinctCount uint64
	Min, Max      types.Value

	// MostCommon values and their frequencies, most frequent first.
	MostCommon      []types.Value
	MostCommonFreqs []float64

	// HistogramBounds split the non-null numeric values into buckets of
	// roughly equal population. Empty for non-numeric columns.
	HistogramBounds []float64

	AvgWidth float64
}

// IndexStats describes a secondary index.
type IndexStats struct {
	Unique        bool
	DistinctCount uint64
	PageCount     uint64
	// Selectivity is the fraction of rows an equality lookup on the index
	// returns.
	Selectivity float64
}

// PagesFor returns the number of pages rows occupy.
func PagesFor(rows uint64) uint64 {
	return uint64(math.Ceil(float64(rows) / RowsPerPage))
}

// DefaultTableStats returns the statistics assumed for a table that was
// never analyzed.
func DefaultTableStats() TableStats {
	return TableStats{
		RowCount:   DefaultRowCount,
		PageCount:  PagesFor(DefaultRowCount),
		AvgRowSize: DefaultAvgRowSize,
		SampleSize: DefaultSampleSize,
	}
}

// Column returns the statistics of the named column.
func (t *TableStats) Column(name string) (ColumnStats, bool) {
	c, ok := t.Columns[strings.ToLower(name)]
	return c, ok
}

// Index returns the statistics of the named index.
func (t *TableStats) Index(name string) (IndexStats, bool) {
	i, ok := t.Indexes[strings.ToLower(name)]
	return i, ok
}

// Snapshot is an immutable set of table statistics. It is never modified
// once published; updates produce a new snapshot.
type Snapshot struct {
	tables map[string]*TableStats
}

var emptySnapshot = &Snapshot{}

// NewSnapshot returns a snapshot holding tables, keyed by table name.
func NewSnapshot(tables map[string]TableStats) *Snapshot {
	s := &Snapshot{tables: make(map[string]*TableStats, len(tables))}
	for name, t := range tables {
		s.tables[strings.ToLower(name)] = &t
	}
	return s
}

// Table returns the statistics of the named table.
func (s *Snapshot) Table(name string) (*TableStats, bool) {
	t, ok := s.tables[strings.ToLower(name)]
	return t, ok
}

// Len returns the number of tables in the snapshot.
func (s *Snapshot) Len() int { return len(s.tables) }

func (s *Snapshot) with(name string, t *TableStats) *Snapshot {
	tables := make(map[string]*TableStats, len(s.tables)+1)
	for k, v := range s.tables {
		tables[k] = v
	}
	if t == nil {
		delete(tables, strings.ToLower(name))
	} else {
		tables[strings.ToLower(name)] = t
	}
	return &Snapshot{tables: tables}
}

// Manager publishes statistics snapshots. Readers take the current snapshot
// and keep using it for the whole planning of a query.
type Manager struct {
	logger log.Logger
	snap   atomic.Pointer[Snapshot]
}

func NewManager(logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	m := &Manager{logger: logger}
	m.snap.Store(emptySnapshot)
	return m
}

// Snapshot returns the current snapshot.
func (m *Manager) Snapshot() *Snapshot { return m.snap.Load() }

// Update publishes stats for a table, replacing any previous statistics.
func (m *Manager) Update(table string, stats TableStats) {
	m.swap(table, &stats)
	level.Debug(m.logger).Log("msg", "updated table statistics", "table", table, "rows", stats.RowCount, "pages", stats.PageCount)
}

// Remove drops the statistics of a table.
func (m *Manager) Remove(table string) {
	m.swap(table, nil)
}

func (m *Manager) swap(table string, stats *TableStats) {
	for {
		old := m.snap.Load()
		if m.snap.CompareAndSwap(old, old.with(table, stats)) {
			return
		}
	}
}
