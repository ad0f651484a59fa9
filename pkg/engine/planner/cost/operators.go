package cost

import (
	"math"

	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

// RowsPerPage is the number of rows assumed to fit in one storage page.
const RowsPerPage = 100

const bytesPerMB = 1 << 20

// Relation describes a stored table as seen by the cost formulas.
type Relation struct {
	Rows  float64
	Pages float64
	Width float64
}

// Pages returns the number of pages rows occupy.
func Pages(rows float64) float64 {
	return math.Ceil(rows / RowsPerPage)
}

func megabytes(rows, width float64) float64 {
	return rows * width / bytesPerMB
}

func finish(e Estimate) Estimate {
	e.CalculateTotal()
	return e
}

// SeqScan reads every page of rel and evaluates filters predicates on
// every row. sel is the combined selectivity of the filters.
func (m *Model) SeqScan(rel Relation, sel float64, filters int) Estimate {
	return finish(Estimate{
		IO:    rel.Pages * m.SeqPage,
		CPU:   rel.Pages*m.CPUPage + rel.Rows*m.CPUTuple + rel.Rows*float64(filters)*m.CPUOperator,
		Rows:  rel.Rows * sel,
		Width: rel.Width,
	})
}

// IndexScan descends an index, fetching the rows that match the index
// predicate (indexSel) at random and filtering them down to sel.
func (m *Model) IndexScan(rel Relation, indexPages, indexSel, sel float64, filters int) Estimate {
	matched := math.Max(1, rel.Rows*indexSel)
	leafPages := math.Ceil(indexPages * indexSel)
	return finish(Estimate{
		Startup: m.RandomPage,
		IO:      leafPages*m.RandomPage + math.Min(matched, rel.Pages)*m.RandomPage,
		CPU:     matched*(m.CPUIndexTuple+m.CPUTuple) + matched*float64(filters)*m.CPUOperator,
		Rows:    rel.Rows * sel,
		Width:   rel.Width,
	})
}

// BatchScan fetches keys rows by primary key.
func (m *Model) BatchScan(rel Relation, keys int, filters int) Estimate {
	n := float64(keys)
	return finish(Estimate{
		IO:    n * m.RandomPage,
		CPU:   n*m.CPUTuple + n*float64(filters)*m.CPUOperator,
		Rows:  math.Min(n, rel.Rows),
		Width: rel.Width,
	})
}

// BitmapScan builds one row bitmap per index predicate, intersects them and
// fetches the surviving rows in key order.
func (m *Model) BitmapScan(rel Relation, indexPages, indexSels []float64, sel float64, filters int) Estimate {
	var est Estimate
	combined := 1.0
	for i, s := range indexSels {
		pages := 0.0
		if i < len(indexPages) {
			pages = indexPages[i]
		}
		est.Startup += math.Ceil(pages*s)*m.RandomPage + rel.Rows*s*m.CPUIndexTuple
		combined *= s
	}
	matched := rel.Rows * combined
	est.Startup += float64(len(indexSels)) * rel.Rows * combined * m.CPUOperator
	est.IO = math.Min(rel.Pages, math.Ceil(matched)) * m.SeqPage
	est.CPU = matched*m.CPUTuple + matched*float64(filters)*m.CPUOperator
	est.Memory = megabytes(rel.Rows, 1.0/8) * m.MemoryPerMB
	est.Rows = rel.Rows * sel
	est.Width = rel.Width
	return finish(est)
}

// Filter evaluates preds predicates on every input row.
func (m *Model) Filter(in Estimate, sel float64, preds int) Estimate {
	in.CPU += in.Rows * float64(preds) * m.CPUOperator
	in.Rows *= sel
	return finish(in)
}

// Project evaluates exprs expressions on every input row.
func (m *Model) Project(in Estimate, exprs int, width float64) Estimate {
	in.CPU += in.Rows * float64(exprs) * m.CPUOperator
	in.Width = width
	return finish(in)
}

// JoinRows estimates the output rows of a join. Outer joins never return
// fewer rows than their preserved side.
func JoinRows(left, right, sel float64, typ types.JoinType) float64 {
	rows := left * right * sel
	switch typ {
	case types.JoinTypeLeft:
		rows = math.Max(rows, left)
	case types.JoinTypeRight:
		rows = math.Max(rows, right)
	case types.JoinTypeFull:
		rows = math.Max(rows, left+right)
	}
	return rows
}

func joined(left, right Estimate, sel float64, typ types.JoinType) Estimate {
	out := left.Add(right)
	out.Rows = JoinRows(left.Rows, right.Rows, sel, typ)
	out.Width = left.Width + right.Width
	return out
}

// NestedLoopJoin compares every pair of input rows.
func (m *Model) NestedLoopJoin(left, right Estimate, sel float64, typ types.JoinType) Estimate {
	out := joined(left, right, sel, typ)
	out.CPU += left.Rows*right.Rows*m.CPUOperator + out.Rows*m.CPUTuple
	return finish(out)
}

// HashJoin builds a hash table over right and probes it with left.
func (m *Model) HashJoin(left, right Estimate, sel float64, typ types.JoinType, keys int) Estimate {
	out := joined(left, right, sel, typ)
	k := float64(keys)
	out.Startup += right.Rows*m.CPUTuple + right.Rows*k*m.CPUOperator
	out.CPU += left.Rows*k*m.CPUOperator + out.Rows*m.CPUTuple
	out.Memory += megabytes(right.Rows, right.Width) * m.MemoryPerMB
	return finish(out)
}

// MergeJoin merges two inputs sorted on the join keys. Sorting the inputs,
// if needed, must be priced separately.
func (m *Model) MergeJoin(left, right Estimate, sel float64, typ types.JoinType, keys int) Estimate {
	out := joined(left, right, sel, typ)
	out.CPU += (left.Rows+right.Rows)*float64(keys)*m.CPUOperator + out.Rows*m.CPUTuple
	return finish(out)
}

func comparisons(rows float64) float64 {
	n := math.Max(rows, 2)
	return n * math.Log2(n)
}

// Sort sorts the whole input in memory.
func (m *Model) Sort(in Estimate, keys int) Estimate {
	in.Startup += comparisons(in.Rows) * float64(keys) * 2 * m.CPUOperator
	in.Memory += megabytes(in.Rows, in.Width) * m.MemoryPerMB
	return finish(in)
}

// ExternalSort sorts runs of at most memoryBytes, spills them and merges the
// runs.
func (m *Model) ExternalSort(in Estimate, keys int, memoryBytes float64) Estimate {
	bytes := in.Rows * in.Width
	runs := math.Max(1, math.Ceil(bytes/math.Max(memoryBytes, 1)))
	in.Startup += comparisons(in.Rows)*float64(keys)*2*m.CPUOperator + in.Rows*math.Log2(runs+1)*m.CPUOperator
	in.IO += 2 * Pages(in.Rows) * m.SeqPage
	in.Memory += math.Min(bytes, memoryBytes) / bytesPerMB * m.MemoryPerMB
	return finish(in)
}

// TopN keeps the first k rows of the sort order in a bounded heap.
func (m *Model) TopN(in Estimate, keys int, k float64) Estimate {
	in.Startup += math.Max(in.Rows, 1) * math.Log2(math.Max(k, 2)) * float64(keys) * 2 * m.CPUOperator
	in.Memory += megabytes(math.Min(k, in.Rows), in.Width) * m.MemoryPerMB
	in.Rows = math.Min(k, in.Rows)
	return finish(in)
}

// HashAggregate groups its input in a hash table.
func (m *Model) HashAggregate(in Estimate, groups float64, keys, aggs int, width float64) Estimate {
	in.Startup += in.Rows * float64(keys+aggs) * m.CPUOperator
	in.CPU += groups * m.CPUTuple
	in.Memory += megabytes(groups, width) * m.MemoryPerMB
	in.Rows, in.Width = groups, width
	return finish(in)
}

// GroupAggregate groups an input already sorted on the group keys.
func (m *Model) GroupAggregate(in Estimate, groups float64, keys, aggs int, width float64) Estimate {
	in.CPU += in.Rows*float64(keys+aggs)*m.CPUOperator + groups*m.CPUTuple
	in.Rows, in.Width = groups, width
	return finish(in)
}

// Distinct removes duplicate rows with a hash set.
func (m *Model) Distinct(in Estimate, distinct float64, columns int) Estimate {
	in.CPU += in.Rows*float64(columns)*m.CPUOperator + distinct*m.CPUTuple
	in.Memory += megabytes(distinct, in.Width) * m.MemoryPerMB
	in.Rows = distinct
	return finish(in)
}

// Limit skips and fetches rows. Reading stops once enough rows were
// produced, so the per-row components shrink accordingly.
func (m *Model) Limit(in Estimate, skip, fetch float64) Estimate {
	want := skip + fetch
	if in.Rows > 0 && want < in.Rows {
		frac := want / in.Rows
		in.IO *= frac
		in.CPU *= frac
		in.Network *= frac
	}
	in.Rows = math.Max(0, math.Min(in.Rows-skip, fetch))
	return finish(in)
}

// SetOp combines two inputs. Every kind but UNION ALL deduplicates through a
// hash table.
func (m *Model) SetOp(left, right Estimate, kind types.SetOpKind, all bool) Estimate {
	out := left.Add(right)
	out.Width = left.Width
	total := left.Rows + right.Rows
	out.CPU += total * m.CPUTuple
	switch kind {
	case types.SetOpUnion:
		out.Rows = total
	case types.SetOpIntersect:
		out.Rows = math.Min(left.Rows, right.Rows)
	case types.SetOpExcept:
		out.Rows = left.Rows * m.Selectivity.Default
	}
	if kind != types.SetOpUnion || !all {
		out.CPU += total * m.CPUOperator
		out.Memory += megabytes(right.Rows, right.Width) * m.MemoryPerMB
	}
	return finish(out)
}

// Values emits literal rows.
func (m *Model) Values(rows int, width float64) Estimate {
	n := float64(rows)
	return finish(Estimate{CPU: n * m.CPUTuple, Rows: n, Width: width})
}

// Write prices storing rows rows, each touching indexes secondary indexes
// besides the row itself.
func (m *Model) Write(in Estimate, indexes int) Estimate {
	in.IO += in.Rows * float64(1+indexes) * m.RandomPage
	in.CPU += in.Rows * m.CPUTuple
	in.Rows, in.Width = 0, 0
	return finish(in)
}

// Parallel splits the per-row work of in across workers and charges for
// starting them and gathering their output.
func (m *Model) Parallel(in Estimate, workers int) Estimate {
	if workers < 2 {
		return in
	}
	w := float64(workers)
	in.IO /= w
	in.CPU /= w
	in.CPU += in.Rows * m.ParallelWorker
	in.Startup += m.ParallelSetup
	in.Network += in.Rows*in.Width*m.NetworkPerByte + w*m.NetworkLatency
	return finish(in)
}
