package models

import (
	"encoding/json"
	"time"
)

type NotificationSeverity string

const (
	NotificationSeverityInfo    NotificationSeverity = "info"
	NotificationSeverityWarning NotificationSeverity = "warning"
	NotificationSeverityError   NotificationSeverity = "error"
)

type NotificationEvent string

const (
	NotificationEventImportCompleted NotificationEvent = "import_completed"
	NotificationEventImportFailed    NotificationEvent = "import_failed"
	NotificationEventImportCancelled NotificationEvent = "import_cancelled"
)

// EventForStatus maps a terminal import status to its notification event.
func EventForStatus(status ImportStatus) (NotificationEvent, bool) {
	switch status {
	case ImportStatusCompleted:
		return NotificationEventImportCompleted, true
	case ImportStatusFailed:
		return NotificationEventImportFailed, true
	case ImportStatusCancelled:
		return NotificationEventImportCancelled, true
	}
	return "", false
}

type Notification struct {
	ID        string               `json:"id" db:"id"`
	JobID     *string              `json:"job_id,omitempty" db:"job_id"`
	EventType NotificationEvent    `json:"event_type" db:"event_type"`
	Severity  NotificationSeverity `json:"severity" db:"severity"`
	Title     string               `json:"title" db:"title"`
	Message   string               `json:"message" db:"message"`
	Metadata  json.RawMessage      `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time            `json:"created_at" db:"created_at"`
	ReadAt    *time.Time           `json:"read_at,omitempty" db:"read_at"`
}
