// Package report renders batch outcomes as an Excel workbook.
package report

import (
	"fmt"
	"time"

	"audio-converter/models"

	"github.com/xuri/excelize/v2"
)

const (
	outcomesSheet = "Outcomes"
	summarySheet  = "Summary"
)

var outcomeHeaders = []interface{}{
	"Record ID", "Owner", "Result", "Stage", "Error Kind", "Error",
	"Artifact Name", "Artifact URL", "Document ID", "Started At", "Duration (ms)",
}

// WriteXLSX writes one row per outcome plus a summary sheet.
func WriteXLSX(path string, rep *models.BatchReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", outcomesSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(outcomesSheet, "A1", &outcomeHeaders); err != nil {
		return fmt.Errorf("write headers: %w", err)
	}

	for i, o := range rep.Outcomes {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		errMsg := ""
		if o.Err != nil {
			errMsg = o.Err.Error()
		}
		row := []interface{}{
			o.RecordID, o.OwnerID, result(o), string(o.Stage), string(models.KindOf(o.Err)), errMsg,
			o.ArtifactName, o.ArtifactURL, o.DocumentID, o.StartedAt.UTC().Format(time.RFC3339), o.Duration.Milliseconds(),
		}
		if err := f.SetSheetRow(outcomesSheet, cell, &row); err != nil {
			return fmt.Errorf("write outcome row %d: %w", i+2, err)
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	succeeded, failed, skipped := rep.Counts()
	summary := [][]interface{}{
		{"Run ID", rep.RunID},
		{"Started At", rep.StartedAt.UTC().Format(time.RFC3339)},
		{"Finished At", rep.FinishedAt.UTC().Format(time.RFC3339)},
		{"Batches", rep.Batches},
		{"Records", len(rep.Outcomes)},
		{"Succeeded", succeeded},
		{"Failed", failed},
		{"Skipped", skipped},
	}
	for i, row := range summary {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report %s: %w", path, err)
	}
	return nil
}

func result(o models.Outcome) string {
	switch {
	case o.Skipped:
		return "skipped"
	case o.Succeeded():
		return "complete"
	default:
		return "pending"
	}
}
