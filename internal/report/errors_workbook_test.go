package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stanstork/stockflow-api/internal/models"
	"github.com/xuri/excelize/v2"
)

func TestImportErrorsXLSX(t *testing.T) {
	finished := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	job := models.ImportJob{
		JobID:      "job-9",
		Type:       models.ImportTypeProducts,
		Status:     models.ImportStatusCompleted,
		FileName:   "products.xlsx",
		TotalRows:  5,
		Imported:   3,
		Failed:     2,
		CreatedAt:  finished.Add(-time.Minute),
		FinishedAt: &finished,
		Errors: []models.RowError{
			{Row: 7, Code: "DUPLICATE_SKU", Reason: "sku already exists"},
			{Row: 2, Reason: "missing name"},
		},
	}

	data, err := ImportErrorsXLSX(job)
	if err != nil {
		t.Fatalf("ImportErrorsXLSX: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(errorsSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[1][0] != "2" || rows[2][1] != "DUPLICATE_SKU" {
		t.Fatalf("row errors not sorted by row: %v", rows)
	}

	status, _ := f.GetCellValue(summarySheet, "B4")
	if status != "completed" {
		t.Fatalf("summary status = %q", status)
	}
	finishedCell, _ := f.GetCellValue(summarySheet, "B10")
	if finishedCell != "2025-03-01T10:00:00Z" {
		t.Fatalf("finished = %q", finishedCell)
	}
}

func TestImportErrorsXLSXWithoutErrors(t *testing.T) {
	data, err := ImportErrorsXLSX(models.ImportJob{JobID: "job-1", Status: models.ImportStatusCancelled})
	if err != nil {
		t.Fatalf("ImportErrorsXLSX: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows(errorsSheet)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want only the header", len(rows))
	}
}
