package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

type ImportType string

const (
	ImportTypeUnknown          ImportType = ""
	ImportTypeProducts         ImportType = "import-products"
	ImportTypeReceiptsInbound  ImportType = "import-receipts-inbound"
	ImportTypeReceiptsOutbound ImportType = "import-receipts-outbound"
)

var ValidImportTypes = []ImportType{
	ImportTypeProducts,
	ImportTypeReceiptsInbound,
	ImportTypeReceiptsOutbound,
}

func ParseImportType(raw string) (ImportType, error) {
	for _, t := range ValidImportTypes {
		if string(t) == raw {
			return t, nil
		}
	}
	return ImportTypeUnknown, errors.Errorf("unknown import type %q", raw)
}

type ImportStatus string

const (
	ImportStatusQueued     ImportStatus = "queued"
	ImportStatusProcessing ImportStatus = "processing"
	ImportStatusCompleted  ImportStatus = "completed"
	ImportStatusFailed     ImportStatus = "failed"
	ImportStatusCancelled  ImportStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s ImportStatus) Terminal() bool {
	switch s {
	case ImportStatusCompleted, ImportStatusFailed, ImportStatusCancelled:
		return true
	}
	return false
}

func (s ImportStatus) Active() bool {
	return s == ImportStatusQueued || s == ImportStatusProcessing
}

// RowError is a row-level import problem. It is data, not a job failure.
type RowError struct {
	Row    int    `json:"row" validate:"gte=0"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason"`
}

// ImportJob is one observation of a background import as reported by the
// import backend.
type ImportJob struct {
	JobID           string       `json:"jobId" validate:"required"`
	Type            ImportType   `json:"type,omitempty" validate:"omitempty,oneof=import-products import-receipts-inbound import-receipts-outbound"`
	Status          ImportStatus `json:"status" validate:"required,oneof=queued processing completed failed cancelled"`
	FileName        string       `json:"fileName,omitempty"`
	TotalRows       int          `json:"totalRows" validate:"gte=0"`
	ProcessedRows   int          `json:"processedRows" validate:"gte=0"`
	Imported        int          `json:"imported" validate:"gte=0"`
	Failed          int          `json:"failed" validate:"gte=0"`
	Percent         *float64     `json:"percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	Errors          []RowError   `json:"errors,omitempty" validate:"dive"`
	CancelRequested bool         `json:"cancelRequested,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	StartedAt       *time.Time   `json:"startedAt,omitempty"`
	FinishedAt      *time.Time   `json:"finishedAt,omitempty"`
	UpdatedAt       *time.Time   `json:"updatedAt,omitempty"`
}

var validate = validator.New()

// Validate checks the structural constraints of a decoded snapshot.
func (j ImportJob) Validate() error {
	return validate.Struct(j)
}

// Progress returns the server supplied percent, or derives it from row counts.
// It is informative only; status comes from Status alone.
func (j ImportJob) Progress() float64 {
	if j.Percent != nil {
		return clampPercent(*j.Percent)
	}
	if j.TotalRows <= 0 {
		return 0
	}
	return clampPercent(float64(j.ProcessedRows) / float64(j.TotalRows) * 100)
}

// ObservedAt is the recency used to order observations of the same job.
// The zero time means the snapshot carries no timestamp at all.
func (j ImportJob) ObservedAt() time.Time {
	switch {
	case j.UpdatedAt != nil:
		return *j.UpdatedAt
	case j.FinishedAt != nil:
		return *j.FinishedAt
	case j.StartedAt != nil:
		return *j.StartedAt
	}
	return j.CreatedAt
}

// SortKey orders history: start time when known, creation time otherwise.
func (j ImportJob) SortKey() time.Time {
	if j.StartedAt != nil {
		return *j.StartedAt
	}
	return j.CreatedAt
}

// MatchesType reports whether j passes a type filter. Legacy snapshots
// without a type pass every filter.
func (j ImportJob) MatchesType(types ...ImportType) bool {
	if len(types) == 0 || j.Type == ImportTypeUnknown {
		return true
	}
	for _, t := range types {
		if t == j.Type {
			return true
		}
	}
	return false
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ImportPage is one page of GET /imports.
type ImportPage struct {
	Jobs       []ImportJob `json:"jobs"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"totalPages"`
}
