package report

import (
	"bytes"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/stanstork/stockflow-api/internal/models"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	errorsSheet  = "Row errors"
)

// ImportErrorsXLSX renders a job's counters and row-level errors as a
// workbook, so operators can fix the source file and re-import.
func ImportErrorsXLSX(job models.ImportJob) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, errors.Wrap(err, "rename summary sheet")
	}
	if _, err := f.NewSheet(errorsSheet); err != nil {
		return nil, errors.Wrap(err, "create errors sheet")
	}

	summary := [][2]interface{}{
		{"Job ID", job.JobID},
		{"Type", string(job.Type)},
		{"File", job.FileName},
		{"Status", string(job.Status)},
		{"Total rows", job.TotalRows},
		{"Processed rows", job.ProcessedRows},
		{"Imported", job.Imported},
		{"Failed", job.Failed},
		{"Created", formatTime(&job.CreatedAt)},
		{"Finished", formatTime(job.FinishedAt)},
	}
	for i, kv := range summary {
		if err := setRow(f, summarySheet, i+1, kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 18)
	_ = f.SetColWidth(summarySheet, "B", "B", 40)

	if err := setRow(f, errorsSheet, 1, "Row", "Code", "Reason"); err != nil {
		return nil, err
	}
	rowErrors := append([]models.RowError(nil), job.Errors...)
	sort.SliceStable(rowErrors, func(a, b int) bool { return rowErrors[a].Row < rowErrors[b].Row })
	for i, re := range rowErrors {
		if err := setRow(f, errorsSheet, i+2, re.Row, re.Code, re.Reason); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(errorsSheet, "A", "A", 8)
	_ = f.SetColWidth(errorsSheet, "B", "B", 20)
	_ = f.SetColWidth(errorsSheet, "C", "C", 80)

	if idx, err := f.GetSheetIndex(errorsSheet); err == nil && len(rowErrors) > 0 {
		f.SetActiveSheet(idx)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, errors.Wrap(err, "write workbook")
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, sheet string, row int, values ...interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return errors.Wrap(err, "cell name")
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return errors.Wrapf(err, "write %s row %d", sheet, row)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
