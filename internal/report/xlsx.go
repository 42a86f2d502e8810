package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/KevinKickass/OpenCalibrationCore/internal/a2l"
)

const defaultSheet = "Sheet1"

// WriteXLSX exports every report table as a worksheet of one workbook.
func WriteXLSX(t *a2l.Tables, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
	})
	if err != nil {
		return err
	}

	for i, sheet := range Sheets(t) {
		idx, err := f.NewSheet(sheet.Title)
		if err != nil {
			return fmt.Errorf("sheet %s: %w", sheet.Title, err)
		}
		if i == 0 {
			f.SetActiveSheet(idx)
		}
		if err := writeRows(f, sheet, header); err != nil {
			return err
		}
	}

	if err := f.DeleteSheet(defaultSheet); err != nil {
		return err
	}
	return f.SaveAs(path)
}

func writeRows(f *excelize.File, sheet Sheet, headerStyle int) error {
	for r, row := range sheet.Rows {
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for i, v := range row {
			values[i] = v
		}
		if err := f.SetSheetRow(sheet.Title, cell, &values); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", sheet.Title, r+1, err)
		}
	}

	if len(sheet.Rows) == 0 {
		return nil
	}
	if err := f.SetRowStyle(sheet.Title, 1, 1, headerStyle); err != nil {
		return err
	}
	last, err := excelize.ColumnNumberToName(len(sheet.Rows[0]))
	if err != nil {
		return err
	}
	if err := f.SetColWidth(sheet.Title, "A", last, 18); err != nil {
		return err
	}
	return f.SetPanes(sheet.Title, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
