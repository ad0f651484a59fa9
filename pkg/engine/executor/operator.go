package executor

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

// Operator produces the rows of one node of a physical plan in batches.
type Operator interface {
	// Read returns the next batch of rows. It returns [EOF] once the
	// operator is exhausted.
	Read(context.Context) (Batch, error)
	// Close releases the resources of the operator.
	// The implementation must close all of the operator's inputs.
	Close()
}

var EOF = errors.New("operator exhausted") //nolint:revive,staticcheck

// Batch is a set of rows sharing the same columns. Write operators report
// the rows they changed in Affected instead of returning rows.
type Batch struct {
	Columns []string
	Rows    [][]types.Value

	Affected     uint64
	LastInsertID int64
}

// Len returns the number of rows in the batch.
func (b Batch) Len() int { return len(b.Rows) }

type readFunc func(context.Context, []Operator) (Batch, error)

type genericOperator struct {
	inputs []Operator
	read   readFunc
	close  func()
}

func newGenericOperator(read readFunc, inputs ...Operator) *genericOperator {
	return &genericOperator{
		read:   read,
		inputs: inputs,
	}
}

var _ Operator = (*genericOperator)(nil)

// Read implements Operator.
func (o *genericOperator) Read(ctx context.Context) (Batch, error) {
	if o.read == nil {
		return Batch{}, EOF
	}
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	return o.read(ctx, o.inputs)
}

// Close implements Operator.
func (o *genericOperator) Close() {
	if o.close != nil {
		o.close()
		o.close = nil
	}
	for _, inp := range o.inputs {
		inp.Close()
	}
}

func errorOperator(ctx context.Context, err error) Operator {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	return newGenericOperator(func(context.Context, []Operator) (Batch, error) {
		return Batch{}, err
	})
}

func emptyOperator() Operator {
	return newGenericOperator(func(context.Context, []Operator) (Batch, error) {
		return Batch{}, EOF
	})
}

// rowsOperator returns rows in batches of at most size rows.
func rowsOperator(columns []string, rows [][]types.Value, size int) Operator {
	e := &emitter{columns: columns, rows: rows, size: size}
	return newGenericOperator(func(context.Context, []Operator) (Batch, error) {
		return e.next()
	})
}

// NewRowsOperator returns an operator producing rows in batches of at most
// size rows.
func NewRowsOperator(columns []string, rows [][]types.Value, size int) Operator {
	return rowsOperator(columns, rows, max(size, 1))
}

// lazyOperator defers building the operator until its first Read, so that
// building can use the context of the query.
type lazyOperator struct {
	ctor  func(ctx context.Context) Operator
	built Operator
}

func newLazyOperator(ctor func(ctx context.Context) Operator) *lazyOperator {
	return &lazyOperator{ctor: ctor}
}

func (o *lazyOperator) Read(ctx context.Context) (Batch, error) {
	if o.built == nil {
		o.built = o.ctor(ctx)
	}
	return o.built.Read(ctx)
}

func (o *lazyOperator) Close() {
	if o.built != nil {
		o.built.Close()
	}
	o.built = nil
}

type tracedOperator struct {
	name  string
	inner Operator
}

var _ Operator = (*tracedOperator)(nil)

// traceOperator wraps an [Operator] to record each call to Read with a span.
func traceOperator(name string, op Operator) *tracedOperator {
	return &tracedOperator{
		name:  name,
		inner: op,
	}
}

func (o *tracedOperator) Read(ctx context.Context) (Batch, error) {
	ctx, span := tracer.Start(ctx, o.name+".Read")
	defer span.End()

	res, err := o.inner.Read(ctx)
	if err != nil && !errors.Is(err, EOF) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return res, err
}

func (o *tracedOperator) Close() { o.inner.Close() }

// readAll drains op into a single slice of rows. It does not close op.
func readAll(ctx context.Context, op Operator) ([][]types.Value, error) {
	var rows [][]types.Value
	for {
		b, err := op.Read(ctx)
		if errors.Is(err, EOF) {
			return rows, nil
		} else if err != nil {
			return nil, err
		}
		rows = append(rows, b.Rows...)
	}
}

// forEachRow calls fn for every row produced by op. It does not close op.
func forEachRow(ctx context.Context, op Operator, fn func(row []types.Value) error) error {
	for {
		b, err := op.Read(ctx)
		if errors.Is(err, EOF) {
			return nil
		} else if err != nil {
			return err
		}
		for _, row := range b.Rows {
			if err := fn(row); err != nil {
				return err
			}
		}
	}
}

// emitter hands out materialized rows in batches.
type emitter struct {
	columns []string
	rows    [][]types.Value
	size    int
}

func (e *emitter) next() (Batch, error) {
	if len(e.rows) == 0 {
		return Batch{}, EOF
	}
	n := min(e.size, len(e.rows))
	b := Batch{Columns: e.columns, Rows: e.rows[:n:n]}
	e.rows = e.rows[n:]
	return b, nil
}

func unexpectedNode(node any) error {
	return fmt.Errorf("invalid node type: %T", node)
}
