package table

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// Range returns the A1 range covering every field cell of the table's
// records, or "" for an empty table.
func (t *Table) Range() string {
	minRow, maxRow, minCol, maxCol := t.findDataBounds()
	if minRow < 0 {
		return ""
	}
	startCell, err := excelize.CoordinatesToCellName(minCol+1, minRow+1)
	if err != nil {
		return ""
	}
	endCell, err := excelize.CoordinatesToCellName(maxCol+1, maxRow+1)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s:%s", startCell, endCell)
}

// findDataBounds finds the bounding box of the field cells.
func (t *Table) findDataBounds() (minRow, maxRow, minCol, maxCol int) {
	minRow, maxRow = -1, -1
	minCol, maxCol = -1, -1
	for _, row := range t.rows {
		for i := range t.schema.FieldCount() {
			f := t.schema.Field(i)
			ref := row.Start.Offset(f.RowOffset, f.ColOffset)
			if minRow < 0 || ref.Row < minRow {
				minRow = ref.Row
			}
			if maxRow < 0 || ref.Row > maxRow {
				maxRow = ref.Row
			}
			if minCol < 0 || ref.Col < minCol {
				minCol = ref.Col
			}
			if maxCol < 0 || ref.Col > maxCol {
				maxCol = ref.Col
			}
		}
	}
	return
}
