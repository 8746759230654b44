// Package output provides JSON and YAML serialization for extraction results.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/binder"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/models"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/table"
)

// Format is an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat parses "json", "yaml" or "yml", ignoring case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("invalid format: %s (must be json or yaml)", s)
}

// ToJSON serializes v to JSON, indented by two spaces when pretty is set.
func ToJSON(v any, pretty bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ToYAML serializes v to YAML.
func ToYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes v to w in format f. pretty only affects JSON.
func Encode(w io.Writer, v any, f Format, pretty bool) error {
	var data []byte
	var err error
	switch f {
	case FormatJSON:
		data, err = ToJSON(v, pretty)
		data = append(data, '\n')
	case FormatYAML:
		data, err = ToYAML(v)
	default:
		return fmt.Errorf("invalid format: %s", f)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// FromResult converts a session result into its export form. Binding
// warnings collected by the caller are appended as text lines.
func FromResult(res *xlsxtables.Result, warnings ...binder.Warnings) *models.WorkbookTables {
	out := &models.WorkbookTables{Tables: []models.TableData{}}
	if res == nil {
		return out
	}
	for _, t := range res.DataSet.Tables() {
		out.Tables = append(out.Tables, FromTable(t))
	}
	out.Report = res.Report.Entries()
	for _, ws := range warnings {
		for _, w := range ws {
			out.Warnings = append(out.Warnings, w.String())
		}
	}
	return out
}

// FromTable converts one table into its export form.
func FromTable(t *table.Table) models.TableData {
	s := t.Schema()
	td := models.TableData{
		Name:        t.Name(),
		Workbook:    s.Workbook,
		Sheet:       s.SheetName,
		Anchor:      s.Cell.A1(),
		Orientation: s.Orientation.String(),
		Range:       t.Range(),
		Valid:       t.Valid(),
		Fields:      make([]models.FieldData, 0, t.FieldCount()),
		Rows:        make([]models.RowData, 0, t.RowCount()),
	}
	for _, f := range s.Fields() {
		td.Fields = append(td.Fields, models.FieldData{
			Name: f.Name,
			Type: f.Type,
			Cell: s.Start.Offset(f.RowOffset, f.ColOffset).A1(),
		})
	}
	for n, row := range t.Rows() {
		values := make([]any, len(row.Values))
		for i, v := range row.Values {
			values[i] = exportValue(t, n, i, v)
		}
		td.Rows = append(td.Rows, models.RowData{Start: row.Start.A1(), Values: values})
	}
	return td
}

var stringType = reflect.TypeFor[string]()

// exportValue keeps built-in values and renders converter-made values as
// text when the converter can. Non-finite numbers become strings.
func exportValue(t *table.Table, row, col int, v any) any {
	switch x := v.(type) {
	case nil, string, bool:
		return v
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return strconv.FormatFloat(x, 'g', -1, 64)
		}
		return v
	}
	if t.Converter() != nil {
		if s, err := t.ValueAs(row, col, stringType); err == nil {
			return s
		}
	}
	return v
}
