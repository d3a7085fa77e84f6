package reports

import (
	"fmt"
	"io"

	"bitbucket.org/mmdatafocus/assets_backend/models"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	assetsSheet  = "Assets"
)

var periodHeadings = []string{
	"Sequence", "Period", "Status", "Start", "Deadline", "Criterion",
	"Assigned", "Counted", "Found", "Missing", "Discrepancies", "Complete %", "Found %", "Confirmed",
}

var assetHeadings = []string{
	"Period", "Asset Id", "Label", "Category", "Sub Category", "Area", "Active",
	"Counted", "Found", "Observed Area", "Observed Condition", "Discrepancy", "Record Status", "Counted By",
}

// WriteCountingPlanExcel renders the plan export as an xlsx workbook.
func WriteCountingPlanExcel(w io.Writer, export *models.CountingPlanExport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(assetsSheet); err != nil {
		return err
	}

	plan := export.Plan
	header := [][]interface{}{
		{"Year", plan.Year},
		{"Status", string(plan.Status)},
		{"Cycle", fmt.Sprintf("%s - %s", plan.CycleStart.Format("2006-01-02"), plan.CycleEnd.Format("2006-01-02"))},
		{"Total Assets", plan.TotalAssets},
		{"Target Per Period", plan.TargetPerPeriod},
		{"Tolerance", fmt.Sprintf("%d - %d", plan.ToleranceMin, plan.ToleranceMax)},
		{"Counted", plan.CountedAssets},
		{"Found", plan.FoundAssets},
		{"Missing", plan.MissingAssets},
		{"Discrepancies", plan.DiscrepancyAssets},
		{"Deviation Avg", plan.Stats.Data().DeviationAvg.StringFixed(2)},
		{"Generated At", export.GeneratedAt.Format("2006-01-02 15:04:05")},
	}
	row := 1
	for _, values := range header {
		if err := setRow(f, summarySheet, row, values); err != nil {
			return err
		}
		row++
	}

	row++
	if err := setHeadingRow(f, summarySheet, row, periodHeadings); err != nil {
		return err
	}
	for _, p := range export.Periods {
		row++
		period := p.Period
		values := []interface{}{
			period.Sequence, period.Name, string(period.Status),
			period.StartDate.Format("2006-01-02"), period.Deadline.Format("2006-01-02"), period.Criterion,
			period.AssignedCount, period.CountedAssets, period.FoundAssets, period.MissingAssets, period.DiscrepancyAssets,
			p.Progress.PercentComplete, p.Progress.FoundRate, yesNo(period.IsConfirmed),
		}
		if err := setRow(f, summarySheet, row, values); err != nil {
			return err
		}
	}

	if err := setHeadingRow(f, assetsSheet, 1, assetHeadings); err != nil {
		return err
	}
	row = 1
	for _, p := range export.Periods {
		for _, a := range p.Assets {
			row++
			found := ""
			if a.IsFound != nil {
				found = yesNo(*a.IsFound)
			}
			values := []interface{}{
				p.Period.Name, a.AssetId, a.Label, a.Category, a.SubCategory, a.AreaName, yesNo(a.IsActive),
				yesNo(a.Counted), found, a.ObservedArea, a.ObservedCondition, string(a.DiscrepancyType), string(a.RecordStatus), a.CountedByName,
			}
			if err := setRow(f, assetsSheet, row, values); err != nil {
				return err
			}
		}
	}

	return f.Write(w)
}

func setHeadingRow(f *excelize.File, sheet string, row int, headings []string) error {
	values := make([]interface{}, len(headings))
	for i, h := range headings {
		values[i] = h
	}
	if err := setRow(f, sheet, row, values); err != nil {
		return err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	first, _ := excelize.CoordinatesToCellName(1, row)
	last, _ := excelize.CoordinatesToCellName(len(headings), row)
	return f.SetCellStyle(sheet, first, last, style)
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
