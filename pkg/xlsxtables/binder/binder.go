// Package binder populates Go values from the rows of a table.
//
// Field names are matched segment by segment against struct members: an
// `xlsx:"name"` tag first, then the exact member name, then a
// case-insensitive match. Element segments ("tags[2]") address slices,
// which grow on demand, and arrays. Target types may rename members by
// implementing AliasProvider, and callers by passing WithAliases.
//
// Binding never stops on a bad cell or member. Problems are returned as
// warnings; errors are reserved for unusable arguments.
package binder

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/table"
)

var (
	// ErrInvalidTable indicates the table has cell errors.
	ErrInvalidTable = errors.New("table is not valid")
	// ErrUnsupportedType indicates the target is not a struct or a pointer to one.
	ErrUnsupportedType = errors.New("target type must be a struct or a pointer to a struct")
	// ErrInvalidArgument indicates a nil destination.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Option configures a binding call.
type Option func(*options)

type options struct {
	validate *validator.Validate
	aliases  Aliases
}

// WithAliases binds the source paths of a to the named members. They take
// precedence over the aliases of an AliasProvider target. Repeated calls
// merge.
func WithAliases(a Aliases) Option {
	return func(o *options) {
		if o.aliases == nil {
			o.aliases = make(Aliases, len(a))
		}
		maps.Copy(o.aliases, a)
	}
}

// WithValidation validates every populated value with v. Failures are
// reported as row warnings.
func WithValidation(v *validator.Validate) Option {
	return func(o *options) { o.validate = v }
}

// Populate binds row n of tbl onto (*dst)[n], appending zero values until
// dst covers every row. Existing elements are updated in place.
func Populate[T any](tbl *table.Table, dst *[]T, opts ...Option) (Warnings, error) {
	if dst == nil {
		return nil, fmt.Errorf("%w: destination is nil", ErrInvalidArgument)
	}
	p, o, err := prepare[T](tbl, opts)
	if err != nil {
		return nil, err
	}
	for len(*dst) < tbl.RowCount() {
		var zero T
		*dst = append(*dst, zero)
	}
	rows := reflect.ValueOf(*dst)
	var warnings Warnings
	for n := range tbl.RowCount() {
		warnings = p.populate(tbl, n, rows.Index(n), o, warnings)
	}
	return warnings, nil
}

// PopulateMap binds every row onto dst, keyed by the text of field keyField,
// or by the row index when keyField is negative. Existing entries are updated.
func PopulateMap[T any](tbl *table.Table, dst map[string]T, keyField int, opts ...Option) (Warnings, error) {
	if dst == nil {
		return nil, fmt.Errorf("%w: destination is nil", ErrInvalidArgument)
	}
	p, o, err := prepare[T](tbl, opts)
	if err != nil {
		return nil, err
	}
	if keyField >= tbl.FieldCount() {
		return nil, fmt.Errorf("%w: key field %d of %d", table.ErrOutOfRange, keyField, tbl.FieldCount())
	}
	var warnings Warnings
	for n := range tbl.RowCount() {
		key := strconv.Itoa(n)
		if keyField >= 0 {
			if key, err = table.CellValue[string](tbl, n, keyField); err != nil {
				return warnings, err
			}
		}
		obj := dst[key]
		warnings = p.populate(tbl, n, reflect.ValueOf(&obj).Elem(), o, warnings)
		dst[key] = obj
	}
	return warnings, nil
}

// PopulateRow binds one row onto dst.
func PopulateRow[T any](tbl *table.Table, row int, dst *T, opts ...Option) (Warnings, error) {
	if dst == nil {
		return nil, fmt.Errorf("%w: destination is nil", ErrInvalidArgument)
	}
	p, o, err := prepare[T](tbl, opts)
	if err != nil {
		return nil, err
	}
	if row < 0 || row >= tbl.RowCount() {
		return nil, fmt.Errorf("%w: row %d of %d", table.ErrOutOfRange, row, tbl.RowCount())
	}
	return p.populate(tbl, row, reflect.ValueOf(dst).Elem(), o, nil), nil
}

// MappingWarnings reports the alias and member problems of binding tbl onto
// T. They do not depend on row data and are not repeated by Populate.
func MappingWarnings[T any](tbl *table.Table, opts ...Option) (Warnings, error) {
	if tbl == nil {
		return nil, fmt.Errorf("%w: table is nil", ErrInvalidArgument)
	}
	p := planFor(tbl, reflect.TypeFor[T](), newOptions(opts).aliases)
	if p.err != nil {
		return nil, p.err
	}
	return p.mappingWarnings(), nil
}

// ClearPlans drops every binding plan cached on tbl.
func ClearPlans(tbl *table.Table) {
	tbl.Cache().Clear()
}

func prepare[T any](tbl *table.Table, opts []Option) (*plan, *options, error) {
	if tbl == nil {
		return nil, nil, fmt.Errorf("%w: table is nil", ErrInvalidArgument)
	}
	if !tbl.Valid() {
		return nil, nil, fmt.Errorf("%w: %s has %d cell errors", ErrInvalidTable, tbl.Name(), len(tbl.Errors()))
	}
	o := newOptions(opts)
	p := planFor(tbl, reflect.TypeFor[T](), o.aliases)
	if p.err != nil {
		return nil, nil, p.err
	}
	return p, o, nil
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
