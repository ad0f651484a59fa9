package executor

import (
	"context"
	"errors"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/sealdb/sealdb/pkg/engine/internal/datatype"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

// QueryResult is the complete output of a statement.
type QueryResult struct {
	Columns      []string
	Rows         [][]types.Value
	AffectedRows uint64
	LastInsertID int64
}

// Drain reads every batch of op and closes it.
func Drain(ctx context.Context, op Operator) (*QueryResult, error) {
	defer op.Close()

	res := &QueryResult{}
	for {
		batch, err := op.Read(ctx)
		if errors.Is(err, EOF) {
			return res, nil
		} else if err != nil {
			return nil, err
		}
		if res.Columns == nil {
			res.Columns = batch.Columns
		}
		res.Rows = append(res.Rows, batch.Rows...)
		res.AffectedRows += batch.Affected
		if batch.LastInsertID != 0 {
			res.LastInsertID = batch.LastInsertID
		}
	}
}

// Record converts the rows of the result into an Arrow record. The type of
// every column is derived from its values; a column of NULLs only has the
// Arrow null type. The caller must release the record.
func (r *QueryResult) Record(mem memory.Allocator) arrow.Record {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}

	fields := make([]arrow.Field, len(r.Columns))
	arrays := make([]arrow.Array, len(r.Columns))
	column := make([]types.Value, len(r.Rows))
	for i, name := range r.Columns {
		for j, row := range r.Rows {
			column[j] = row[i]
		}
		typ := datatype.ColumnType(column)
		fields[i] = arrow.Field{Name: name, Type: datatype.ToArrow[typ], Nullable: true}
		arrays[i] = buildArray(mem, typ, column)
	}
	defer func() {
		for _, arr := range arrays {
			arr.Release()
		}
	}()
	return array.NewRecord(arrow.NewSchema(fields, nil), arrays, int64(len(r.Rows)))
}

func buildArray(mem memory.Allocator, typ types.ValueType, vals []types.Value) arrow.Array {
	switch typ {
	case types.ValueTypeBool:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		for _, v := range vals {
			if v.IsNull() {
				b.AppendNull()
			} else {
				b.Append(v.Bool())
			}
		}
		return b.NewArray()

	case types.ValueTypeInt:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for _, v := range vals {
			if v.IsNull() {
				b.AppendNull()
			} else {
				b.Append(v.Int())
			}
		}
		return b.NewArray()

	case types.ValueTypeFloat:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for _, v := range vals {
			if f, ok := v.AsFloat(); ok {
				b.Append(f)
			} else {
				b.AppendNull()
			}
		}
		return b.NewArray()

	case types.ValueTypeStr:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		for _, v := range vals {
			if v.IsNull() {
				b.AppendNull()
			} else {
				b.Append(v.String())
			}
		}
		return b.NewArray()
	}

	b := array.NewNullBuilder(mem)
	defer b.Release()
	b.AppendNulls(len(vals))
	return b.NewArray()
}
