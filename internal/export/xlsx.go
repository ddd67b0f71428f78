package export

import (
	"fmt"

	"costwatch/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	sheetSummary   = "Summary"
	sheetDaily     = "Daily Costs"
	sheetGroups    = "By Resource Group"
	sheetCategory  = "By Category"
	sheetResources = "By Resource"
)

// BuildComparisonWorkbook renders a comparison result as an xlsx
// workbook. The caller is responsible for closing the file.
func BuildComparisonWorkbook(req models.ComparisonRequest, result *models.ComparisonResult) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := writeSummarySheet(f, req, result); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeDailySheet(f, result); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeVarianceSheet(f, sheetGroups, "Resource Group", result.ByResourceGroup); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeVarianceSheet(f, sheetCategory, "Category", result.ByCategory); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeResourceSheet(f, result.ByResource); err != nil {
		f.Close()
		return nil, err
	}

	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

func writeSummarySheet(f *excelize.File, req models.ComparisonRequest, result *models.ComparisonResult) error {
	index, err := f.NewSheet(sheetSummary)
	if err != nil {
		return fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetSummary, "A1", fmt.Sprintf("Период 1: %s — %s",
		req.Period1Start.Format(models.DateLayout), req.Period1End.Format(models.DateLayout)))
	_ = f.SetCellValue(sheetSummary, "A2", fmt.Sprintf("Период 2: %s — %s",
		req.Period2Start.Format(models.DateLayout), req.Period2End.Format(models.DateLayout)))

	rows := [][]interface{}{
		{"", "Period 1", "Period 2"},
		{"Total cost", result.Period1.TotalCost, result.Period2.TotalCost},
		{"Daily average", result.Period1.DailyAverage, result.Period2.DailyAverage},
		{"Days in period", result.Period1.DaysInPeriod, result.Period2.DaysInPeriod},
		{"Excluded cost", result.ExcludedCost.Period1, result.ExcludedCost.Period2},
		{},
		{"Absolute difference", result.Variance.AbsoluteDiff},
		{"Percent change", result.Variance.PercentChange},
	}
	for i, row := range rows {
		for j, val := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+4)
			_ = f.SetCellValue(sheetSummary, cell, val)
		}
	}

	style, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 12},
	})
	_ = f.SetCellStyle(sheetSummary, "A1", "A2", style)
	_ = f.SetColWidth(sheetSummary, "A", "A", 25)
	_ = f.SetColWidth(sheetSummary, "B", "C", 15)

	return nil
}

func writeDailySheet(f *excelize.File, result *models.ComparisonResult) error {
	if _, err := f.NewSheet(sheetDaily); err != nil {
		return fmt.Errorf("error creating sheet: %v", err)
	}

	writeHeader(f, sheetDaily, []string{"Day", "Period 1 Cost", "Period 2 Cost"})

	byDay := make(map[int][2]float64)
	maxDay := 0
	for _, p := range result.Period1.DailyCosts {
		entry := byDay[p.Day]
		entry[0] = p.Cost
		byDay[p.Day] = entry
		if p.Day > maxDay {
			maxDay = p.Day
		}
	}
	for _, p := range result.Period2.DailyCosts {
		entry := byDay[p.Day]
		entry[1] = p.Cost
		byDay[p.Day] = entry
		if p.Day > maxDay {
			maxDay = p.Day
		}
	}

	row := 2
	for day := 1; day <= maxDay; day++ {
		entry, ok := byDay[day]
		if !ok {
			continue
		}
		_ = f.SetCellValue(sheetDaily, fmt.Sprintf("A%d", row), day)
		_ = f.SetCellValue(sheetDaily, fmt.Sprintf("B%d", row), entry[0])
		_ = f.SetCellValue(sheetDaily, fmt.Sprintf("C%d", row), entry[1])
		row++
	}

	_ = f.SetColWidth(sheetDaily, "A", "C", 15)
	return nil
}

func writeVarianceSheet(f *excelize.File, sheet, nameHeader string, rows []models.VarianceRow) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("error creating sheet: %v", err)
	}

	writeHeader(f, sheet, []string{
		nameHeader, "Period 1 Cost", "Period 2 Cost", "Difference", "Change %", "New", "Removed",
	})

	for i, row := range rows {
		r := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", r), row.Name)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", r), row.Period1Cost)
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", r), row.Period2Cost)
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", r), row.AbsoluteDiff)
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", r), row.PercentChange)
		_ = f.SetCellValue(sheet, fmt.Sprintf("F%d", r), boolToYesNo(row.IsNew))
		_ = f.SetCellValue(sheet, fmt.Sprintf("G%d", r), boolToYesNo(row.IsRemoved))
	}

	_ = f.SetColWidth(sheet, "A", "A", 35)
	_ = f.SetColWidth(sheet, "B", "G", 14)
	return nil
}

func writeResourceSheet(f *excelize.File, rows []models.ResourceVarianceRow) error {
	if _, err := f.NewSheet(sheetResources); err != nil {
		return fmt.Errorf("error creating sheet: %v", err)
	}

	writeHeader(f, sheetResources, []string{
		"Resource", "Resource Group", "Period 1 Cost", "Period 2 Cost",
		"Difference", "Change %", "New", "Removed", "Not In Inventory",
	})

	for i, row := range rows {
		r := i + 2
		_ = f.SetCellValue(sheetResources, fmt.Sprintf("A%d", r), row.ResourceID)
		_ = f.SetCellValue(sheetResources, fmt.Sprintf("B%d", r), row.ResourceGroup)
		_ = f.SetCellValue(sheetResources, fmt.Sprintf("C%d", r), row.Period1Cost)
		_ = f.SetCellValue(sheetResources, fmt.Sprintf("D%d", r), row.Period2Cost)
		_ = f.SetCellValue(sheetResources, fmt.Sprintf("E%d", r), row.AbsoluteDiff)
		_ = f.SetCellValue(sheetResources, fmt.Sprintf("F%d", r), row.PercentChange)
		_ = f.SetCellValue(sheetResources, fmt.Sprintf("G%d", r), boolToYesNo(row.IsNew))
		_ = f.SetCellValue(sheetResources, fmt.Sprintf("H%d", r), boolToYesNo(row.IsRemoved))
		_ = f.SetCellValue(sheetResources, fmt.Sprintf("I%d", r), boolToYesNo(row.NotInInventory))
	}

	_ = f.SetColWidth(sheetResources, "A", "A", 45)
	_ = f.SetColWidth(sheetResources, "B", "B", 25)
	_ = f.SetColWidth(sheetResources, "C", "I", 14)
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []string) {
	style, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, header)
		_ = f.SetCellStyle(sheet, cell, cell, style)
	}
}

// boolToYesNo преобразует bool в "Да"/"Нет"
func boolToYesNo(b bool) string {
	if b {
		return "Да"
	}
	return "Нет"
}
