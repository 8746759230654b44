package table

import (
	"math"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/models"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/schema"
)

type offset struct{ row, col int }

// Builder accumulates the raw records of one schema from a cell stream.
// Cells must arrive in sheet order, row by row.
type Builder struct {
	schema   *schema.Schema
	geometry []*schema.Field
	byOffset map[offset]*schema.Field
	records  [][]*string

	// Down: start of the current record and merge position in geometry.
	recordRef models.CellRef
	cur       int
	order     int

	// Right: records at or beyond limit are closed.
	limit   int
	stopped bool
}

// NewBuilder returns a builder for s. s must be valid.
func NewBuilder(s *schema.Schema) *Builder {
	b := &Builder{
		schema:    s,
		geometry:  s.GeometryOrder(),
		byOffset:  make(map[offset]*schema.Field, s.FieldCount()),
		recordRef: s.Start,
		limit:     math.MaxInt,
	}
	for _, f := range s.Fields() {
		b.byOffset[offset{f.RowOffset, f.ColOffset}] = f
	}
	b.records = append(b.records, make([]*string, s.FieldCount()))
	return b
}

// Schema returns the schema the builder fills.
func (b *Builder) Schema() *schema.Schema { return b.schema }

// Stopped reports whether the builder gave up on the sheet because a record
// was left incomplete before the next one started.
func (b *Builder) Stopped() bool { return b.stopped }

// Append offers a cell to the builder and reports whether it was taken.
func (b *Builder) Append(ref models.CellRef, value string) bool {
	if b.stopped {
		return false
	}
	if b.schema.Orientation == schema.Right {
		return b.appendRight(ref, value)
	}
	return b.appendDown(ref, value)
}

func (b *Builder) appendDown(ref models.CellRef, value string) bool {
	s := b.schema
	r := ref.Row - b.recordRef.Row
	c := ref.Col - b.recordRef.Col
	if r < 0 || c < 0 || c >= s.BlockWidth {
		return false
	}
	for r >= s.Stride {
		b.recordRef.Row += s.Stride
		b.order = 0
		if !complete(b.records[b.cur]) {
			b.stopped = true
			return false
		}
		b.records = append(b.records, make([]*string, s.FieldCount()))
		b.cur = len(b.records) - 1
		r -= s.Stride
	}
	for b.order < len(b.geometry) {
		f := b.geometry[b.order]
		switch {
		case f.RowOffset > r:
			return false
		case f.RowOffset < r:
			b.order++
			continue
		case f.ColOffset > c:
			return false
		case f.ColOffset < c:
			b.order++
			continue
		}
		b.records[b.cur][f.Index] = &value
		b.order++
		return true
	}
	return false
}

func (b *Builder) appendRight(ref models.CellRef, value string) bool {
	s := b.schema
	r := ref.Row - s.Start.Row
	c := ref.Col - s.Start.Col
	if r < 0 || c < 0 || r >= s.BlockHeight {
		return false
	}
	n := c / s.Stride
	if n >= b.limit {
		return false
	}
	f := b.byOffset[offset{r, c % s.Stride}]
	if f == nil {
		return false
	}
	for n >= len(b.records) {
		b.records = append(b.records, make([]*string, s.FieldCount()))
	}
	b.records[n][f.Index] = &value
	if n > 0 && b.records[n-1][f.Index] == nil {
		b.limit = n
	}
	return true
}

// Build finalizes the records into a table, coercing every value through
// the declared field types and conv.
func (b *Builder) Build(conv FieldConverter) *Table {
	s := b.schema
	count := min(len(b.records), b.limit)
	if count > 0 && empty(b.records[count-1]) {
		count--
	}
	rows := make([]rawRow, count)
	for n := range count {
		start := s.Start.Offset(n*s.Stride, 0)
		if s.Orientation == schema.Right {
			start = s.Start.Offset(0, n*s.Stride)
		}
		rows[n] = rawRow{start: start, cells: b.records[n]}
	}
	return newTable(s, rows, conv)
}

func complete(record []*string) bool {
	for _, v := range record {
		if v == nil {
			return false
		}
	}
	return true
}

func empty(record []*string) bool {
	for _, v := range record {
		if v != nil {
			return false
		}
	}
	return true
}
