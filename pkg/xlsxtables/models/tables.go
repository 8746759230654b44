package models

// WorkbookTables is the export form of one extraction session.
type WorkbookTables struct {
	// Tables lists the extracted tables in declaration order.
	Tables []TableData `json:"tables" yaml:"tables"`
	// Report lists load, schema and cell problems in report order.
	Report []ReportEntry `json:"report,omitempty" yaml:"report,omitempty"`
	// Warnings lists binding warnings, one line each.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// TableData represents one extracted table.
type TableData struct {
	// Name is the table name declared by its layout.
	Name string `json:"name" yaml:"name"`
	// Workbook is the locator of the workbook the table was read from.
	Workbook string `json:"workbook" yaml:"workbook"`
	// Sheet is the worksheet name.
	Sheet string `json:"sheet" yaml:"sheet"`
	// Anchor is the cell holding the layout comment.
	Anchor string `json:"anchor" yaml:"anchor"`
	// Orientation is "down" or "right".
	Orientation string `json:"orientation" yaml:"orientation"`
	// Range is the A1 range covered by the rows (empty for no rows).
	Range string `json:"range,omitempty" yaml:"range,omitempty"`
	// Valid is false when at least one cell failed coercion.
	Valid bool `json:"valid" yaml:"valid"`
	// Fields describes the columns of Rows.
	Fields []FieldData `json:"fields" yaml:"fields"`
	// Rows holds the coerced values.
	Rows []RowData `json:"rows" yaml:"rows"`
}

// FieldData describes one declared field.
type FieldData struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
	// Cell is the field's cell in the first record.
	Cell string `json:"cell" yaml:"cell"`
}

// RowData is one record. Values align with TableData.Fields; null marks a
// cell that failed coercion.
type RowData struct {
	Start  string `json:"start" yaml:"start"`
	Values []any  `json:"values" yaml:"values"`
}
