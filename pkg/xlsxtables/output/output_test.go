package output

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/binder"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/models"
)

func extractSample(t *testing.T) *xlsxtables.Result {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", "Data"))
	for ref, v := range map[string]any{"B2": "a", "B3": 1, "C2": "b", "D2": "c", "D3": 3} {
		require.NoError(t, f.SetCellValue("Data", ref, v))
	}
	require.NoError(t, f.AddComment("Data", excelize.Comment{
		Cell: "A1", Author: "tester", Text: "[[cols\n[B2]key:string\n[B3]n:number\n]]R1",
	}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	opts := xlsxtables.DefaultOptions()
	opts.Loader = xlsxtables.MemoryLoader{"book.xlsx": buf.Bytes()}
	res, err := xlsxtables.Extract(context.Background(), opts, xlsxtables.NewRequest("book.xlsx"))
	require.NoError(t, err)
	return res
}

func TestFromResult(t *testing.T) {
	res := extractSample(t)
	warnings := binder.Warnings{{Table: "cols", Type: "main.T", Row: 0, Source: "n", Target: "N", Message: "boom"}}

	out := FromResult(res, warnings)
	require.Len(t, out.Tables, 1)
	td := out.Tables[0]
	assert.Equal(t, "cols", td.Name)
	assert.Equal(t, "book.xlsx", td.Workbook)
	assert.Equal(t, "Data", td.Sheet)
	assert.Equal(t, "A1", td.Anchor)
	assert.Equal(t, "right", td.Orientation)
	assert.Equal(t, "B2:C3", td.Range)
	assert.False(t, td.Valid)
	assert.Equal(t, []models.FieldData{
		{Name: "key", Type: "string", Cell: "B2"},
		{Name: "n", Type: "number", Cell: "B3"},
	}, td.Fields)
	assert.Equal(t, []models.RowData{
		{Start: "B2", Values: []any{"a", 1.0}},
		{Start: "C2", Values: []any{"b", nil}},
	}, td.Rows, "the record after a gap is not read")

	require.Len(t, out.Report, 1)
	assert.Equal(t, models.ReportCell, out.Report[0].Kind)
	assert.Equal(t, "C3", out.Report[0].Cell)
	assert.Equal(t, []string{"cols=>main.T(0, n=>N): boom"}, out.Warnings)

	assert.Empty(t, FromResult(nil).Tables)
}

func TestToJSON(t *testing.T) {
	out := FromResult(extractSample(t))

	compact, err := ToJSON(out, false)
	require.NoError(t, err)
	assert.NotContains(t, string(compact), "\n")
	pretty, err := ToJSON(out, true)
	require.NoError(t, err)
	assert.Contains(t, string(pretty), "\n  \"tables\": [")

	var back models.WorkbookTables
	require.NoError(t, json.Unmarshal(compact, &back))
	assert.Equal(t, "cols", back.Tables[0].Name)
	assert.Equal(t, "cell", string(back.Report[0].Kind))
}

func TestToYAML(t *testing.T) {
	data, err := ToYAML(FromResult(extractSample(t)))
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: cols")
	assert.Contains(t, string(data), "orientation: right")

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Contains(t, back, "tables")
	assert.Contains(t, back, "report")
}

func TestEncode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, map[string]int{"a": 1}, FormatJSON, false))
	assert.Equal(t, "{\"a\":1}\n", buf.String())

	buf.Reset()
	require.NoError(t, Encode(&buf, map[string]int{"a": 1}, FormatYAML, false))
	assert.Equal(t, "a: 1\n", buf.String())

	assert.Error(t, Encode(&buf, 1, Format("xml"), false))
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		err  bool
	}{
		{"json", FormatJSON, false},
		{" YAML ", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"csv", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.err)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExportValue_NonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		got := exportValue(nil, 0, 0, v)
		s, ok := got.(string)
		require.True(t, ok)
		assert.True(t, strings.Contains(strings.ToLower(s), "nan") || strings.Contains(s, "Inf"), s)
	}
	assert.Equal(t, 1.5, exportValue(nil, 0, 0, 1.5))
}
