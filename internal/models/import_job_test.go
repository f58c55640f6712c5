package models

import (
	"strings"
	"testing"
	"time"
)

func TestImportStatusTerminal(t *testing.T) {
	cases := map[ImportStatus]bool{
		ImportStatusQueued:     false,
		ImportStatusProcessing: false,
		ImportStatusCompleted:  true,
		ImportStatusFailed:     true,
		ImportStatusCancelled:  true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
		if got := status.Active(); got == want {
			t.Errorf("%s.Active() = %v, want %v", status, got, !want)
		}
	}
}

func TestImportJobProgress(t *testing.T) {
	over := 140.0
	cases := []struct {
		name string
		job  ImportJob
		want float64
	}{
		{"no rows yet", ImportJob{TotalRows: 0}, 0},
		{"derived", ImportJob{TotalRows: 100, ProcessedRows: 40}, 40},
		{"server supplied wins", ImportJob{TotalRows: 100, ProcessedRows: 40, Percent: ptr(55.0)}, 55},
		{"clamped", ImportJob{Percent: &over}, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.job.Progress(); got != tc.want {
				t.Errorf("Progress() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestImportJobValidate(t *testing.T) {
	valid := ImportJob{JobID: "job-1", Status: ImportStatusQueued}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid snapshot, got %v", err)
	}

	legacy := ImportJob{JobID: "job-2", Status: ImportStatusCompleted, Type: ImportTypeUnknown}
	if err := legacy.Validate(); err != nil {
		t.Errorf("legacy snapshot without type should validate, got %v", err)
	}

	invalid := []ImportJob{
		{Status: ImportStatusQueued},
		{JobID: "job-3", Status: "paused"},
		{JobID: "job-4", Status: ImportStatusQueued, ProcessedRows: -1},
		{JobID: "job-5", Status: ImportStatusQueued, Type: "import-customers"},
	}
	for _, job := range invalid {
		if err := job.Validate(); err == nil {
			t.Errorf("expected validation error for %+v", job)
		}
	}
}

func TestImportJobObservedAt(t *testing.T) {
	created := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	started := created.Add(time.Minute)
	updated := created.Add(2 * time.Minute)

	job := ImportJob{CreatedAt: created}
	if !job.ObservedAt().Equal(created) {
		t.Errorf("expected createdAt fallback")
	}
	job.StartedAt = &started
	if !job.ObservedAt().Equal(started) {
		t.Errorf("expected startedAt fallback")
	}
	job.UpdatedAt = &updated
	if !job.ObservedAt().Equal(updated) {
		t.Errorf("expected updatedAt")
	}
}

func TestImportJobMatchesType(t *testing.T) {
	products := ImportJob{Type: ImportTypeProducts}
	legacy := ImportJob{}

	if !products.MatchesType() {
		t.Error("empty filter should match everything")
	}
	if products.MatchesType(ImportTypeReceiptsInbound) {
		t.Error("products job should not match inbound filter")
	}
	if !legacy.MatchesType(ImportTypeReceiptsInbound) {
		t.Error("legacy job without type should match any filter")
	}
}

func ptr[T any](v T) *T { return &v }

func TestParseImportType(t *testing.T) {
	got, err := ParseImportType("import-products")
	if err != nil || got != ImportTypeProducts {
		t.Fatalf("ParseImportType(import-products) = %q, %v", got, err)
	}
	if _, err := ParseImportType("import-orders"); err == nil || !strings.Contains(err.Error(), `"import-orders"`) {
		t.Fatalf("ParseImportType(import-orders) error = %v", err)
	}
}
