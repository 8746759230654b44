package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/models"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/schema"
)

func mustSchema(t *testing.T, text string) *schema.Schema {
	t.Helper()
	s := schema.Parse(schema.Origin{Workbook: "book.xlsx", SheetName: "Data"}, text)
	require.NotNil(t, s)
	require.Empty(t, s.Errors())
	return s
}

// feed appends cells given as alternating A1 references and values.
func feed(t *testing.T, b *Builder, cells ...string) []bool {
	t.Helper()
	require.Zero(t, len(cells)%2)
	var taken []bool
	for i := 0; i < len(cells); i += 2 {
		taken = append(taken, b.Append(models.MustParseCellRef(cells[i]), cells[i+1]))
	}
	return taken
}

func rowStarts(tbl *Table) []string {
	var out []string
	for _, r := range tbl.Rows() {
		out = append(out, r.Start.A1())
	}
	return out
}

func TestBuilder_RightThreeRecords(t *testing.T) {
	s := mustSchema(t, "[[recs\n[B2]k:string\n[C2]v:number\n[B3]w:boolean\n]]R3")
	b := NewBuilder(s)
	taken := feed(t, b,
		"A2", "label",
		"B2", "a", "C2", "1", "D2", "gap", "E2", "b", "F2", "2", "H2", "c", "I2", "3",
		"B3", "true", "E3", "0", "H3", "1",
		"B4", "below",
	)
	assert.Equal(t, []bool{false, true, true, false, true, true, true, true, true, true, true, false}, taken)

	tbl := b.Build(nil)
	require.Equal(t, 3, tbl.RowCount())
	assert.True(t, tbl.Valid())
	assert.Equal(t, []string{"B2", "E2", "H2"}, rowStarts(tbl))

	rows := tbl.Rows()
	assert.Equal(t, []any{"a", 1.0, true}, rows[0].Values)
	assert.Equal(t, []any{"b", 2.0, false}, rows[1].Values)
	assert.Equal(t, []any{"c", 3.0, true}, rows[2].Values)
}

func TestBuilder_RightClosesOnMissingField(t *testing.T) {
	s := mustSchema(t, "[[recs\n[B2]k:string\n[C2]v:number\n]]R3")
	b := NewBuilder(s)
	feed(t, b, "B2", "a", "C2", "1", "E2", "b", "H2", "c", "I2", "3")

	tbl := b.Build(nil)
	require.Equal(t, 2, tbl.RowCount())
	require.Len(t, tbl.Errors(), 1)
	assert.Equal(t, CellError{Cell: models.MustParseCellRef("F2"), Field: "v", Message: "cell must not be empty"}, tbl.Errors()[0])
}

func TestBuilder_DownTrimsEmptyTrailingRecord(t *testing.T) {
	s := mustSchema(t, "[[items\n[A2]id:string\n[C2]value:number\n]]D2")
	b := NewBuilder(s)
	taken := feed(t, b, "A2", "x", "B2", "skip", "C2", "1", "A4", "y", "C4", "2", "B6", "skip")
	assert.Equal(t, []bool{true, false, true, true, true, false}, taken)
	assert.False(t, b.Stopped())

	tbl := b.Build(nil)
	require.Equal(t, 2, tbl.RowCount())
	assert.Equal(t, []string{"A2", "A4"}, rowStarts(tbl))
	assert.True(t, tbl.Valid())
}

func TestBuilder_DownStopsOnShortRecord(t *testing.T) {
	s := mustSchema(t, "[[items\n[A2]id:string\n[B2]value:number\n]]D1")
	b := NewBuilder(s)
	taken := feed(t, b, "A2", "x", "B2", "1", "A3", "y", "A4", "z", "B4", "3")
	assert.Equal(t, []bool{true, true, true, false, false}, taken)
	assert.True(t, b.Stopped())

	tbl := b.Build(nil)
	require.Equal(t, 2, tbl.RowCount())
	require.Len(t, tbl.Errors(), 1)
	assert.Equal(t, "B3", tbl.Errors()[0].Cell.A1())
	assert.False(t, tbl.Valid())
}

func TestBuilder_DownMultiRowBlock(t *testing.T) {
	s := mustSchema(t, "[[items\n[B2]name:string\n[C2]qty:number\n[B3]note:string\n]]D3")
	b := NewBuilder(s)
	feed(t, b,
		"A1", "header", "B2", "pen", "C2", "2", "D2", "outside", "B3", "blue",
		"B5", "ink", "C5", "4", "B6", "black",
	)
	tbl := b.Build(nil)
	require.Equal(t, 2, tbl.RowCount())
	assert.Equal(t, []any{"ink", 4.0, "black"}, tbl.Rows()[1].Values)
	assert.Equal(t, "B2:C6", tbl.Range())
}

func TestBuilder_Empty(t *testing.T) {
	s := mustSchema(t, "[[items\n[A2]id:string\n]]D1")
	tbl := NewBuilder(s).Build(nil)
	assert.Zero(t, tbl.RowCount())
	assert.Empty(t, tbl.Range())
	assert.True(t, tbl.Valid())
}
