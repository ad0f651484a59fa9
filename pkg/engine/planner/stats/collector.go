package stats

import (
	"context"
	"flag"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/axiomhq/hyperloglog"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/concurrency"
	"github.com/influxdata/tdigest"
	"github.com/pkg/errors"

	"github.com/sealdb/sealdb/pkg/engine/catalog"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

// indexEntriesPerPage is the number of index entries assumed to fit in one
// page.
const indexEntriesPerPage = 300

// RowSource streams the stored rows of a table.
type RowSource interface {
	ForEachRow(ctx context.Context, table *catalog.Table, fn func(row []types.Value) error) error
}

// CollectorConfig configures table analysis.
type CollectorConfig struct {
	SampleSize       int `yaml:"sample_size"`
	HistogramBuckets int `yaml:"histogram_buckets"`
	MostCommonValues int `yaml:"most_common_values"`
	Concurrency      int `yaml:"concurrency"`
}

func (cfg *CollectorConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.SampleSize, prefix+"sample-size", DefaultSampleSize, "Number of rows per table used to compute the most common values.")
	f.IntVar(&cfg.HistogramBuckets, prefix+"histogram-buckets", 10, "Number of histogram buckets kept per numeric column.")
	f.IntVar(&cfg.MostCommonValues, prefix+"most-common-values", 3, "Number of most common values kept per column.")
	f.IntVar(&cfg.Concurrency, prefix+"concurrency", 4, "Number of tables analyzed concurrently.")
}

func (cfg *CollectorConfig) Validate() error {
	if cfg.SampleSize <= 0 {
		return errors.New("sample size must be positive")
	}
	if cfg.HistogramBuckets < 1 {
		return errors.New("histogram buckets must be at least 1")
	}
	if cfg.MostCommonValues < 0 {
		return errors.New("most common values must not be negative")
	}
	if cfg.Concurrency < 1 {
		return errors.New("concurrency must be at least 1")
	}
	return nil
}

// Collector scans tables and publishes their statistics to a [Manager].
type Collector struct {
	cfg     CollectorConfig
	source  RowSource
	manager *Manager
	logger  log.Logger
}

func NewCollector(cfg CollectorConfig, source RowSource, manager *Manager, logger log.Logger) *Collector {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Collector{cfg: cfg, source: source, manager: manager, logger: logger}
}

// Analyze collects the statistics of every table and publishes each one as
// soon as it is done.
func (c *Collector) Analyze(ctx context.Context, tables ...*catalog.Table) error {
	return concurrency.ForEachJob(ctx, len(tables), c.cfg.Concurrency, func(ctx context.Context, idx int) error {
		t := tables[idx]
		start := time.Now()
		ts, err := c.AnalyzeTable(ctx, t)
		if err != nil {
			return errors.Wrapf(err, "analyze table %s", t.Name)
		}
		c.manager.Update(t.Name, ts)
		level.Info(c.logger).Log("msg", "analyzed table", "table", t.Name, "rows", ts.RowCount, "pages", ts.PageCount, "duration", time.Since(start))
		return nil
	})
}

// AnalyzeTable scans table once and computes its statistics without
// publishing them.
func (c *Collector) AnalyzeTable(ctx context.Context, table *catalog.Table) (TableStats, error) {
	cols := make([]*columnCollector, len(table.Columns))
	for i := range cols {
		var err error
		if cols[i], err = newColumnCollector(); err != nil {
			return TableStats{}, err
		}
	}
	idxs := make([]*indexCollector, len(table.Indexes))
	for i, idx := range table.Indexes {
		ic, err := newIndexCollector(table, idx)
		if err != nil {
			return TableStats{}, err
		}
		idxs[i] = ic
	}

	var (
		rows       uint64
		totalWidth float64
	)
	err := c.source.ForEachRow(ctx, table, func(row []types.Value) error {
		sampled := rows < uint64(c.cfg.SampleSize)
		rows++
		for i, v := range row {
			if i >= len(cols) {
				break
			}
			cols[i].observe(v, sampled)
			totalWidth += float64(v.Width())
		}
		for _, ic := range idxs {
			ic.observe(row)
		}
		return nil
	})
	if err != nil {
		return TableStats{}, err
	}

	ts := TableStats{
		RowCount:     rows,
		PageCount:    PagesFor(rows),
		LastAnalyzed: time.Now(),
		SampleSize:   min(rows, uint64(c.cfg.SampleSize)),
		Columns:      make(map[string]ColumnStats, len(cols)),
		Indexes:      make(map[string]IndexStats, len(idxs)),
	}
	if rows > 0 {
		ts.AvgRowSize = totalWidth / float64(rows)
	}
	for i, col := range table.Columns {
		ts.Columns[strings.ToLower(col.Name)] = cols[i].stats(rows, ts.SampleSize, c.cfg)
	}
	for i, idx := range table.Indexes {
		ts.Indexes[strings.ToLower(idx.Name)] = idxs[i].stats(rows)
	}
	return ts, nil
}

type columnCollector struct {
	hll      *hyperloglog.Sketch
	digest   *tdigest.TDigest
	numeric  uint64
	nulls    uint64
	width    float64
	min, max types.Value
	counts   map[string]*valueCount
}

type valueCount struct {
	value types.Value
	n     uint64
}

func newColumnCollector() (*columnCollector, error) {
	hll, err := hyperloglog.NewSketch(12, true)
	if err != nil {
		return nil, errors.Wrap(err, "create distinct count sketch")
	}
	return &columnCollector{
		hll:    hll,
		digest: tdigest.New(),
		counts: make(map[string]*valueCount),
	}, nil
}

func (c *columnCollector) observe(v types.Value, sampled bool) {
	if v.IsNull() {
		c.nulls++
		return
	}
	key := v.String()
	c.hll.Insert([]byte(key))
	c.width += float64(v.Width())

	if f, ok := v.AsFloat(); ok {
		c.digest.Add(f, 1)
		c.numeric++
	}
	if c.min.IsNull() || less(v, c.min) {
		c.min = v
	}
	if c.max.IsNull() || less(c.max, v) {
		c.max = v
	}
	if sampled {
		if vc, ok := c.counts[key]; ok {
			vc.n++
		} else {
			c.counts[key] = &valueCount{value: v, n: 1}
		}
	}
}

func less(a, b types.Value) bool {
	cmp, err := types.Compare(a, b)
	return err == nil && cmp < 0
}

func (c *columnCollector) stats(rows, sampled uint64, cfg CollectorConfig) ColumnStats {
	var cs ColumnStats
	if rows == 0 {
		return cs
	}
	nonNull := rows - c.nulls
	cs.NullFraction = float64(c.nulls) / float64(rows)
	cs.DistinctCount = min(c.hll.Estimate(), nonNull)
	cs.Min, cs.Max = c.min, c.max
	if nonNull > 0 {
		cs.AvgWidth = c.width / float64(nonNull)
	}

	// Only values seen more than once are worth remembering.
	common := make([]*valueCount, 0, len(c.counts))
	for _, vc := range c.counts {
		if vc.n > 1 {
			common = append(common, vc)
		}
	}
	slices.SortFunc(common, func(a, b *valueCount) int {
		if a.n != b.n {
			return int(b.n) - int(a.n)
		}
		return strings.Compare(a.value.String(), b.value.String())
	})
	for _, vc := range common[:min(len(common), cfg.MostCommonValues)] {
		cs.MostCommon = append(cs.MostCommon, vc.value)
		cs.MostCommonFreqs = append(cs.MostCommonFreqs, float64(vc.n)/float64(sampled))
	}

	if c.numeric > 0 {
		buckets := cfg.HistogramBuckets
		cs.HistogramBounds = make([]float64, buckets+1)
		for i := range cs.HistogramBounds {
			cs.HistogramBounds[i] = c.digest.Quantile(float64(i) / float64(buckets))
		}
	}
	return cs
}

type indexCollector struct {
	index   catalog.Index
	columns []int
	hll     *hyperloglog.Sketch
}

func newIndexCollector(table *catalog.Table, idx catalog.Index) (*indexCollector, error) {
	hll, err := hyperloglog.NewSketch(12, true)
	if err != nil {
		return nil, errors.Wrap(err, "create distinct count sketch")
	}
	ic := &indexCollector{index: idx, hll: hll}
	for _, col := range idx.Columns {
		ic.columns = append(ic.columns, table.ColumnIndex(col))
	}
	return ic, nil
}

func (c *indexCollector) observe(row []types.Value) {
	var sb strings.Builder
	for i, ord := range c.columns {
		if ord < 0 || ord >= len(row) {
			continue
		}
		if i > 0 {
			sb.WriteByte(0)
		}
		sb.WriteString(row[ord].String())
	}
	c.hll.Insert([]byte(sb.String()))
}

func (c *indexCollector) stats(rows uint64) IndexStats {
	is := IndexStats{
		Unique:    c.index.Unique,
		PageCount: uint64(math.Ceil(float64(rows) / indexEntriesPerPage)),
	}
	if rows == 0 {
		return is
	}
	is.DistinctCount = min(c.hll.Estimate(), rows)
	if c.index.Unique {
		is.DistinctCount = rows
	}
	is.Selectivity = 1 / math.Max(1, float64(is.DistinctCount))
	return is
}
