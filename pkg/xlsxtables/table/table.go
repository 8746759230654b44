// Package table builds typed tables from the cells a schema selects.
package table

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/tiendc/go-deepcopy"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/models"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/schema"
)

// ErrOutOfRange indicates a row or field index outside the table.
var ErrOutOfRange = errors.New("index out of range")

// Row is one record of a table. Values are aligned with the schema fields;
// a nil value is a cell that failed coercion or was empty.
type Row struct {
	Start  models.CellRef
	Values []any
}

// CellError is a value coercion failure.
type CellError struct {
	Cell    models.CellRef
	Field   string
	Message string
}

type rawRow struct {
	start models.CellRef
	cells []*string
}

// Table is the typed result of one schema.
type Table struct {
	schema *schema.Schema
	conv   FieldConverter
	rows   []Row
	errors []CellError
	cache  Cache
}

func newTable(s *schema.Schema, raw []rawRow, conv FieldConverter) *Table {
	t := &Table{schema: s, conv: conv, rows: make([]Row, 0, len(raw))}
	for _, r := range raw {
		values := make([]any, len(r.cells))
		for i, cell := range r.cells {
			f := s.Field(i)
			v, msg := convertValue(f.Type, cell, conv)
			if msg != "" {
				t.errors = append(t.errors, CellError{
					Cell:    r.start.Offset(f.RowOffset, f.ColOffset),
					Field:   f.Name,
					Message: msg,
				})
				continue
			}
			values[i] = v
		}
		t.rows = append(t.rows, Row{Start: r.start, Values: values})
	}
	return t
}

// Schema returns the schema the table was built from.
func (t *Table) Schema() *schema.Schema { return t.schema }

// Name returns the table name.
func (t *Table) Name() string { return t.schema.Name }

// Converter returns the field converter used to build the table, or nil.
func (t *Table) Converter() FieldConverter { return t.conv }

// RowCount returns the number of records.
func (t *Table) RowCount() int { return len(t.rows) }

// FieldCount returns the number of values per record.
func (t *Table) FieldCount() int { return t.schema.FieldCount() }

// Errors returns the cell errors in row order.
func (t *Table) Errors() []CellError { return slices.Clone(t.errors) }

// Valid reports whether every cell was coerced.
func (t *Table) Valid() bool { return len(t.errors) == 0 }

// Cache returns the table-scoped cache of derived data.
func (t *Table) Cache() *Cache { return &t.cache }

// Rows returns a deep copy of the records.
func (t *Table) Rows() []Row {
	var out []Row
	if err := deepcopy.Copy(&out, &t.rows); err != nil {
		out = make([]Row, len(t.rows))
		for i, r := range t.rows {
			out[i] = Row{Start: r.Start, Values: slices.Clone(r.Values)}
		}
	}
	return out
}

// Row returns a copy of record n.
func (t *Table) Row(n int) (Row, error) {
	if n < 0 || n >= len(t.rows) {
		return Row{}, fmt.Errorf("%w: row %d of %d", ErrOutOfRange, n, len(t.rows))
	}
	r := t.rows[n]
	return Row{Start: r.Start, Values: slices.Clone(r.Values)}, nil
}

// Value returns the coerced value of field col in record row.
func (t *Table) Value(row, col int) (any, error) {
	if err := t.check(row, col); err != nil {
		return nil, err
	}
	return t.rows[row].Values[col], nil
}

// ValueAs returns the value of field col in record row converted to typ.
// A nil value reads as the zero value of typ.
func (t *Table) ValueAs(row, col int, typ reflect.Type) (any, error) {
	if err := t.check(row, col); err != nil {
		return nil, err
	}
	return coerce(t.rows[row].Values[col], t.schema.Field(col).Type, typ, t.conv)
}

// FieldIndex returns the index of the field with the given name, or -1.
func (t *Table) FieldIndex(name string) int {
	for i := range t.schema.FieldCount() {
		if t.schema.Field(i).Name == name {
			return i
		}
	}
	return -1
}

func (t *Table) check(row, col int) error {
	if row < 0 || row >= len(t.rows) {
		return fmt.Errorf("%w: row %d of %d", ErrOutOfRange, row, len(t.rows))
	}
	if col < 0 || col >= t.schema.FieldCount() {
		return fmt.Errorf("%w: field %d of %d", ErrOutOfRange, col, t.schema.FieldCount())
	}
	return nil
}

// CellValue reads the value of field col in record row as T.
func CellValue[T any](t *Table, row, col int) (T, error) {
	var zero T
	v, err := t.ValueAs(row, col, reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	return v.(T), nil
}

// Cache holds values derived from a table, keyed by caller-defined keys.
type Cache struct {
	mu sync.Mutex
	m  map[any]any
}

// LoadOrStore returns the value cached under key, building and storing it
// on first use.
func (c *Cache) LoadOrStore(key any, build func() any) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.m[key]; ok {
		return v
	}
	if c.m == nil {
		c.m = make(map[any]any)
	}
	v := build()
	c.m[key] = v
	return v
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// Clear drops every cached entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.m)
}
