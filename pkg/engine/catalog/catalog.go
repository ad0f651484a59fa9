// Package catalog stores table schemas and their secondary indexes.
package catalog

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

// Column describes one column of a table.
type Column struct {
	Name    string          `json:"name"`
	Type    types.ValueType `json:"type"`
	NotNull bool            `json:"not_null,omitempty"`
}

// Index describes a secondary index over one or more columns.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique,omitempty"`
}

// Table is the schema of a table. Rows are stored as the encoded values of
// Columns in order; the value of the PrimaryKey column is the row key.
type Table struct {
	Name       string    `json:"name"`
	Columns    []Column  `json:"columns"`
	PrimaryKey string    `json:"primary_key"`
	Indexes    []Index   `json:"indexes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ColumnIndex returns the ordinal of the named column, or -1. Names may be
// qualified with the table name.
func (t *Table) ColumnIndex(name string) int {
	name = t.unqualify(name)
	for i, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// Column returns the named column.
func (t *Table) Column(name string) (Column, bool) {
	if i := t.ColumnIndex(name); i >= 0 {
		return t.Columns[i], true
	}
	return Column{}, false
}

// ColumnNames returns the column names in storage order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// PrimaryKeyIndex returns the ordinal of the primary key column.
func (t *Table) PrimaryKeyIndex() int {
	return t.ColumnIndex(t.PrimaryKey)
}

// IsPrimaryKey reports whether column is the primary key.
func (t *Table) IsPrimaryKey(column string) bool {
	return strings.EqualFold(t.unqualify(column), t.PrimaryKey)
}

// IndexOn returns the first index whose leading column is column.
func (t *Table) IndexOn(column string) (Index, bool) {
	column = t.unqualify(column)
	for _, idx := range t.Indexes {
		if len(idx.Columns) > 0 && strings.EqualFold(idx.Columns[0], column) {
			return idx, true
		}
	}
	return Index{}, false
}

// Index returns the index with the given name.
func (t *Table) Index(name string) (Index, bool) {
	for _, idx := range t.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return Index{}, false
}

func (t *Table) unqualify(name string) string {
	if q, rest, ok := strings.Cut(name, "."); ok && strings.EqualFold(q, t.Name) {
		return rest
	}
	return name
}

// Validate checks that the schema is well formed. A missing primary key
// defaults to the first column.
func (t *Table) Validate() error {
	if t.Name == "" {
		return errors.New("table name must not be empty")
	}
	if strings.ContainsAny(t.Name, ":\xff") {
		return fmt.Errorf("table name %q must not contain ':'", t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %q has no columns", t.Name)
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		key := strings.ToLower(c.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate column %q in table %q", c.Name, t.Name)
		}
		seen[key] = struct{}{}
		if c.Type == types.ValueTypeInvalid || c.Type == types.ValueTypeNull {
			return fmt.Errorf("column %q has invalid type %s", c.Name, c.Type)
		}
	}
	if t.PrimaryKey == "" {
		t.PrimaryKey = t.Columns[0].Name
	}
	if t.PrimaryKeyIndex() < 0 {
		return fmt.Errorf("primary key %q is not a column of table %q", t.PrimaryKey, t.Name)
	}
	names := make([]string, 0, len(t.Indexes))
	for _, idx := range t.Indexes {
		if err := t.validateIndex(idx); err != nil {
			return err
		}
		if slices.Contains(names, idx.Name) {
			return fmt.Errorf("duplicate index %q on table %q", idx.Name, t.Name)
		}
		names = append(names, idx.Name)
	}
	return nil
}

func (t *Table) validateIndex(idx Index) error {
	if idx.Name == "" || strings.Contains(idx.Name, ":") {
		return fmt.Errorf("invalid index name %q", idx.Name)
	}
	if len(idx.Columns) == 0 {
		return fmt.Errorf("index %q has no columns", idx.Name)
	}
	for _, c := range idx.Columns {
		if t.ColumnIndex(c) < 0 {
			return fmt.Errorf("index %q references unknown column %q", idx.Name, c)
		}
	}
	return nil
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	c := *t
	c.Columns = slices.Clone(t.Columns)
	c.Indexes = make([]Index, len(t.Indexes))
	for i, idx := range t.Indexes {
		idx.Columns = slices.Clone(idx.Columns)
		c.Indexes[i] = idx
	}
	return &c
}
