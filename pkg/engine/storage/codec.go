package storage

import (
	"bytes"
	"encoding/csv"
	"io"

	"github.com/pkg/errors"

	"github.com/sealdb/sealdb/pkg/engine/catalog"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

// Rows are stored as one CSV record holding every column except the primary
// key, in schema order. The primary key is the row key. NULL is an empty
// field, so empty strings read back as NULL.

var (
	// ErrDuplicateKey is returned when a row or unique index entry with the
	// same key already exists.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNullKey is returned when a row has a NULL primary key.
	ErrNullKey = errors.New("primary key must not be NULL")
)

func encodeFields(fields []string) []byte {
	if len(fields) == 0 {
		return nil
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	// Writing to a bytes.Buffer cannot fail.
	_ = w.Write(fields)
	w.Flush()
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

func decodeFields(data []byte, n int) ([]string, error) {
	if len(data) == 0 {
		return make([]string, n), nil
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err == io.EOF {
		return make([]string, n), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "decoding row")
	}
	if len(fields) != n {
		return nil, errors.Errorf("decoding row: got %d fields, want %d", len(fields), n)
	}
	return fields, nil
}

func encodeValue(v types.Value) string {
	if v.IsNull() {
		return ""
	}
	return v.String()
}

// EncodeRow returns the row key and stored value of row. Values are coerced
// to the column types.
func EncodeRow(t *catalog.Table, row []types.Value) (string, []byte, error) {
	row, err := CoerceRow(t, row)
	if err != nil {
		return "", nil, err
	}
	key, value := encodeRow(t, row)
	return key, value, nil
}

// encodeRow encodes a row already coerced to the schema of t.
func encodeRow(t *catalog.Table, row []types.Value) (string, []byte) {
	pk := t.PrimaryKeyIndex()
	fields := make([]string, 0, len(row)-1)
	for i, v := range row {
		if i != pk {
			fields = append(fields, encodeValue(v))
		}
	}
	return row[pk].String(), encodeFields(fields)
}

// DecodeRow rebuilds a full row from its row key and stored value.
func DecodeRow(t *catalog.Table, key string, value []byte) ([]types.Value, error) {
	fields, err := decodeFields(value, len(t.Columns)-1)
	if err != nil {
		return nil, errors.Wrapf(err, "table %s key %s", t.Name, key)
	}
	pk := t.PrimaryKeyIndex()
	row := make([]types.Value, len(t.Columns))
	for i, c := range t.Columns {
		field := key
		if i != pk {
			field, fields = fields[0], fields[1:]
		}
		if row[i], err = types.ParseValue(field, c.Type); err != nil {
			return nil, errors.Wrapf(err, "table %s column %s", t.Name, c.Name)
		}
	}
	return row, nil
}

// CoerceRow checks row against the schema of t and converts its values to
// the column types.
func CoerceRow(t *catalog.Table, row []types.Value) ([]types.Value, error) {
	if len(row) != len(t.Columns) {
		return nil, errors.Errorf("table %s has %d columns, row has %d values", t.Name, len(t.Columns), len(row))
	}
	out := make([]types.Value, len(row))
	for i, c := range t.Columns {
		v, err := coerce(row[i], c.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "column %s", c.Name)
		}
		if v.IsNull() && c.NotNull {
			return nil, errors.Errorf("column %s must not be NULL", c.Name)
		}
		out[i] = v
	}
	if out[t.PrimaryKeyIndex()].IsNull() {
		return nil, errors.Wrapf(ErrNullKey, "table %s", t.Name)
	}
	return out, nil
}

func coerce(v types.Value, typ types.ValueType) (types.Value, error) {
	switch {
	case v.IsNull(), v.Type() == typ:
		return v, nil
	case typ == types.ValueTypeFloat && v.Type() == types.ValueTypeInt:
		return types.NewFloat(float64(v.Int())), nil
	case typ == types.ValueTypeStr:
		return types.NewString(v.String()), nil
	}
	return types.ParseValue(v.String(), typ)
}

// KeyString returns the row key of a primary key value.
func KeyString(t *catalog.Table, v types.Value) (string, error) {
	if v.IsNull() {
		return "", ErrNullKey
	}
	v, err := coerce(v, t.Columns[t.PrimaryKeyIndex()].Type)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// indexValue returns the indexed value of row in idx: the CSV record of the
// index columns.
func indexValue(t *catalog.Table, idx catalog.Index, row []types.Value) string {
	fields := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		fields[i] = encodeValue(row[t.ColumnIndex(c)])
	}
	return string(encodeFields(fields))
}
