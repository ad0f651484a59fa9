package storage

import (
	"context"
	"fmt"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/grafana/dskit/multierror"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

// ErrInvalidOperation is returned for operations rejected before any
// storage call.
var ErrInvalidOperation = errors.New("invalid storage operation")

// errRolledBack marks operations undone because another operation of the
// same transaction failed.
var errRolledBack = errors.New("transaction rolled back")

// OperationKind is the kind of a storage operation.
type OperationKind int

const (
	OperationInvalid OperationKind = iota
	OperationInsert
	OperationSelect
	OperationUpdate
	OperationDelete
	// OperationScan reads the rows of a table; its key is ignored.
	OperationScan
)

var operationKindStrings = map[OperationKind]string{
	OperationInvalid: "invalid",
	OperationInsert:  "insert",
	OperationSelect:  "select",
	OperationUpdate:  "update",
	OperationDelete:  "delete",
	OperationScan:    "scan",
}

func (k OperationKind) String() string {
	if s, ok := operationKindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("OperationKind(%d)", int(k))
}

// Operation is one row level request. Key may be a logical key
// "<table>:<row-key>" when Table is empty.
type Operation struct {
	ID    string
	Kind  OperationKind
	Table string
	Key   string
	Value []byte
}

// OperationResult is the outcome of one [Operation], tagged with its ID.
type OperationResult struct {
	ID           string
	Success      bool
	AffectedRows uint64
	Columns      []string
	Rows         [][]types.Value
	Error        error
}

// normalize assigns a missing ID, resolves logical keys and validates op.
func normalize(op Operation) (Operation, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.Table == "" {
		table, key, ok := SplitLogicalKey(op.Key)
		if !ok {
			return op, errors.Wrapf(ErrInvalidOperation, "operation %s: no table and %q is not a logical key", op.ID, op.Key)
		}
		op.Table, op.Key = table, key
	}
	switch op.Kind {
	case OperationInsert, OperationUpdate:
		if op.Value == nil {
			return op, errors.Wrapf(ErrInvalidOperation, "operation %s: %s requires a value", op.ID, op.Kind)
		}
		fallthrough
	case OperationSelect, OperationDelete:
		if op.Key == "" {
			return op, errors.Wrapf(ErrInvalidOperation, "operation %s: %s requires a key", op.ID, op.Kind)
		}
	case OperationScan:
	default:
		return op, errors.Wrapf(ErrInvalidOperation, "operation %s: unknown kind %s", op.ID, op.Kind)
	}
	return op, nil
}

func (b *Bridge) apply(ctx context.Context, v *View, op Operation) OperationResult {
	res := OperationResult{ID: op.ID}
	var err error
	switch op.Kind {
	case OperationInsert:
		res.AffectedRows, err = v.InsertRow(ctx, op.Table, op.Key, op.Value)
	case OperationUpdate:
		res.AffectedRows, err = v.UpdateRow(ctx, op.Table, op.Key, op.Value)
	case OperationDelete:
		res.AffectedRows, err = v.DeleteRow(ctx, op.Table, op.Key)
	case OperationSelect, OperationScan:
		var rs *RowSet
		if op.Kind == OperationSelect {
			rs, err = v.PointQuery(ctx, op.Table, op.Key)
		} else {
			rs, err = v.ScanTable(ctx, op.Table, nil, b.cfg.ScanLimit)
		}
		if err == nil {
			res.Columns, res.Rows = rs.Columns, rs.Rows
			res.AffectedRows = uint64(len(rs.Rows))
		}
	}
	b.metrics.observe(op.Kind, err)
	res.Success, res.Error = err == nil, err
	return res
}

// ExecuteBatch runs ops in order and returns exactly one result per
// operation, in input order. Every operation is validated before the first
// one runs; invalid operations fail without touching storage. Valid
// operations run independently of each other's failures. The returned error
// combines every failure.
func (b *Bridge) ExecuteBatch(ctx context.Context, ops []Operation) ([]OperationResult, error) {
	ctx, span := tracer.Start(ctx, "storage.ExecuteBatch", trace.WithAttributes(attribute.Int("operations", len(ops))))
	defer span.End()

	results, valid, errs := b.validate(ops)
	v := b.View()
	for i, op := range valid {
		if results[i].Error != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			results[i] = OperationResult{ID: op.ID, Error: err}
			errs.Add(err)
			continue
		}
		results[i] = b.apply(ctx, v, op)
		if results[i].Error != nil {
			errs.Add(errors.Wrapf(results[i].Error, "operation %s", op.ID))
		}
	}

	err := errs.Err()
	if err != nil {
		span.RecordError(err)
		level.Debug(b.logger).Log("msg", "batch finished with failures", "operations", len(ops), "failed", len(errs))
	}
	return results, err
}

func (b *Bridge) validate(ops []Operation) ([]OperationResult, []Operation, multierror.MultiError) {
	results := make([]OperationResult, len(ops))
	valid := make([]Operation, len(ops))
	errs := multierror.New()
	for i, op := range ops {
		op, err := normalize(op)
		valid[i] = op
		if err != nil {
			err = qerrors.New(qerrors.KindExecution, err)
			results[i] = OperationResult{ID: op.ID, Error: err}
			b.metrics.observe(op.Kind, err)
			errs.Add(err)
		}
	}
	return results, valid, errs
}

// ExecuteInTransaction runs fn against a view of a new transaction. The
// transaction commits when fn succeeds and rolls back when fn or the commit
// fails.
func (b *Bridge) ExecuteInTransaction(ctx context.Context, fn func(ctx context.Context, v *View) error) (err error) {
	ctx, span := tracer.Start(ctx, "storage.ExecuteInTransaction")
	defer span.End()

	txn, err := b.engine.Begin(ctx)
	if err != nil {
		return qerrors.New(qerrors.KindTransaction, errors.Wrap(err, "begin transaction"))
	}
	defer func() {
		if err == nil {
			return
		}
		span.RecordError(err)
		b.metrics.transactions.WithLabelValues("rollback").Inc()
		if rbErr := txn.Rollback(); rbErr != nil {
			level.Warn(b.logger).Log("msg", "failed to roll back transaction", "err", rbErr)
		}
	}()

	if err = fn(ctx, b.view(txn)); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = txn.Commit(ctx); err != nil {
		return qerrors.New(qerrors.KindTransaction, errors.Wrap(err, "commit transaction"))
	}
	b.metrics.transactions.WithLabelValues("commit").Inc()
	return nil
}

// ExecuteBatchInTransaction runs ops atomically: either every operation is
// applied or none is. The results report the failing operation with its
// own error and every other operation as rolled back.
func (b *Bridge) ExecuteBatchInTransaction(ctx context.Context, ops []Operation) ([]OperationResult, error) {
	results, valid, errs := b.validate(ops)
	if err := errs.Err(); err != nil {
		return failAll(results, valid, errRolledBack), err
	}

	err := b.ExecuteInTransaction(ctx, func(ctx context.Context, v *View) error {
		for i, op := range valid {
			results[i] = b.apply(ctx, v, op)
			if results[i].Error != nil {
				return errors.Wrapf(results[i].Error, "operation %s", op.ID)
			}
		}
		return nil
	})
	if err != nil {
		return failAll(results, valid, errRolledBack), qerrors.New(qerrors.KindTransaction, err)
	}
	return results, nil
}

// failAll marks every result without an error of its own as failed with err.
func failAll(results []OperationResult, ops []Operation, err error) []OperationResult {
	for i := range results {
		if results[i].Error == nil {
			results[i] = OperationResult{ID: ops[i].ID, Error: err}
		}
	}
	return results
}
