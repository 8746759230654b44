package models

import "fmt"

// ReportKind classifies a report entry.
type ReportKind string

const (
	// ReportRequest is a load, decryption or package failure of one request.
	ReportRequest ReportKind = "request"
	// ReportCollision is a table name declared twice.
	ReportCollision ReportKind = "collision"
	// ReportSchema is a structural problem of a layout.
	ReportSchema ReportKind = "schema"
	// ReportCell is a cell value that failed coercion.
	ReportCell ReportKind = "cell"
)

// ReportEntry is one line of an extraction report.
type ReportEntry struct {
	Kind     ReportKind `json:"kind" yaml:"kind"`
	Request  int        `json:"request" yaml:"request"`
	Workbook string     `json:"workbook" yaml:"workbook"`
	Sheet    string     `json:"sheet,omitempty" yaml:"sheet,omitempty"`
	Cell     string     `json:"cell,omitempty" yaml:"cell,omitempty"`
	Line     int        `json:"line,omitempty" yaml:"line,omitempty"`
	Table    string     `json:"table,omitempty" yaml:"table,omitempty"`
	Message  string     `json:"message" yaml:"message"`
}

// String renders the entry in its one-line report form, e.g.
// "book.xlsx(Data,A1,3): field pattern is incorrect".
func (e ReportEntry) String() string {
	switch e.Kind {
	case ReportRequest:
		return fmt.Sprintf("%s(requests[%d]): %s", e.Workbook, e.Request, e.Message)
	case ReportSchema:
		return fmt.Sprintf("%s(%s,%s,%d): %s", e.Workbook, e.Sheet, e.Cell, e.Line, e.Message)
	case ReportCell:
		return fmt.Sprintf("%s(%s,%s,%s): %s", e.Workbook, e.Sheet, e.Cell, e.Table, e.Message)
	}
	return fmt.Sprintf("%s(%s,%s): %s", e.Workbook, e.Sheet, e.Cell, e.Message)
}
