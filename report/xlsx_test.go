package report

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"audio-converter/models"

	"github.com/xuri/excelize/v2"
)

func TestWriteXLSX(t *testing.T) {
	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rep := &models.BatchReport{
		RunID:      "run-1",
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Batches:    1,
		Outcomes: []models.Outcome{
			{RecordID: 1, OwnerID: "u1", Stage: models.StageCommitted, ArtifactURL: "https://f/1.txt", DocumentID: "d1", StartedAt: started},
			{RecordID: 2, OwnerID: "u2", Stage: models.StageFetched, Err: models.NewStageError(models.KindDecode, errors.New("bad header")), StartedAt: started},
			{RecordID: 3, Skipped: true, Stage: models.StageQueued, StartedAt: started},
		},
	}

	path := filepath.Join(t.TempDir(), "report.xlsx")
	if err := WriteXLSX(path, rep); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(outcomesSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}
	if rows[1][2] != "complete" || rows[1][8] != "d1" {
		t.Fatalf("unexpected success row: %v", rows[1])
	}
	if rows[2][2] != "pending" || rows[2][4] != "decode" {
		t.Fatalf("unexpected failure row: %v", rows[2])
	}
	if rows[3][2] != "skipped" {
		t.Fatalf("unexpected skipped row: %v", rows[3])
	}

	succeeded, err := f.GetCellValue(summarySheet, "B6")
	if err != nil {
		t.Fatalf("GetCellValue: %v", err)
	}
	if succeeded != "1" {
		t.Fatalf("succeeded = %q", succeeded)
	}
}
