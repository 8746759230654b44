package xlsxtables

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/models"
)

// Report aggregates the problems of a session: request failures first, then
// layout errors, then cell value errors. Binding warnings are not part of it.
type Report struct {
	entries []models.ReportEntry
}

func buildReport(failures []*RequestError, ds *DataSet) *Report {
	r := &Report{}
	for _, f := range failures {
		r.entries = append(r.entries, models.ReportEntry{
			Kind:     models.ReportRequest,
			Request:  f.Index,
			Workbook: f.Locator,
			Message:  f.Message(),
		})
	}
	for _, s := range ds.errored {
		pos := models.ReportEntry{
			Request:  s.Request,
			Workbook: s.Workbook,
			Sheet:    s.SheetName,
			Cell:     s.Cell.A1(),
		}
		if orig := ds.Original(s); orig != nil && orig != s {
			e := pos
			e.Kind = models.ReportCollision
			e.Table = s.Name
			e.Message = fmt.Sprintf("Table name '%s' is already declared in '%s, %s, %s'",
				s.Name, orig.Workbook, orig.SheetName, orig.Cell.A1())
			r.entries = append(r.entries, e)
		}
		for _, se := range s.Errors() {
			e := pos
			e.Kind = models.ReportSchema
			e.Line = se.Line
			e.Message = se.Message
			r.entries = append(r.entries, e)
		}
	}
	for _, t := range ds.Tables() {
		s := t.Schema()
		for _, ce := range t.Errors() {
			r.entries = append(r.entries, models.ReportEntry{
				Kind:     models.ReportCell,
				Request:  s.Request,
				Workbook: s.Workbook,
				Sheet:    s.SheetName,
				Cell:     ce.Cell.A1(),
				Table:    t.Name(),
				Message:  ce.Message,
			})
		}
	}
	return r
}

// Entries returns the report entries in order.
func (r *Report) Entries() []models.ReportEntry {
	return slices.Clone(r.entries)
}

// Len returns the number of entries.
func (r *Report) Len() int {
	return len(r.entries)
}

// Empty reports whether the session ran without any problem.
func (r *Report) Empty() bool {
	return len(r.entries) == 0
}

// Lines renders every entry on its own line.
func (r *Report) Lines() []string {
	lines := make([]string, len(r.entries))
	for i, e := range r.entries {
		lines[i] = e.String()
	}
	return lines
}

// String renders the report with one newline-terminated line per entry.
func (r *Report) String() string {
	var sb strings.Builder
	for _, e := range r.entries {
		sb.WriteString(e.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
