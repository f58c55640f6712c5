package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/stanstork/stockflow-api/internal/models"
)

// ErrDuplicateNotification is returned by Create when a notification for the
// same job and event already exists, e.g. after a restart re-observed a job.
var ErrDuplicateNotification = errors.New("notification already recorded")

type NotificationRepository interface {
	Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error)
	ListRecent(ctx context.Context, filter ListNotificationsFilter) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID string) (models.Notification, error)
}

type notificationRepository struct {
	db *sql.DB
}

type CreateNotificationParams struct {
	JobID    *string
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

type ListNotificationsFilter struct {
	JobID      string
	UnreadOnly bool
	Limit      int
}

func NewNotificationRepository(db *sql.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error) {
	const query = `
		INSERT INTO stockflow.notifications (job_id, event_type, severity, title, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id, event_type) WHERE job_id IS NOT NULL DO NOTHING
		RETURNING id, job_id, event_type, severity, title, message, metadata, created_at, read_at
	`

	var jobID interface{}
	if params.JobID != nil && strings.TrimSpace(*params.JobID) != "" {
		jobID = strings.TrimSpace(*params.JobID)
	}

	var metadata interface{}
	if len(params.Metadata) > 0 {
		bytes, err := json.Marshal(params.Metadata)
		if err != nil {
			return models.Notification{}, errors.Wrap(err, "marshal metadata")
		}
		metadata = bytes
	}

	row := r.db.QueryRowContext(ctx, query, jobID, params.Event, params.Severity, params.Title, params.Message, metadata)
	notif, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Notification{}, ErrDuplicateNotification
	}
	return notif, err
}

func (r *notificationRepository) ListRecent(ctx context.Context, filter ListNotificationsFilter) ([]models.Notification, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	const query = `
		SELECT id, job_id, event_type, severity, title, message, metadata, created_at, read_at
		FROM stockflow.notifications
		WHERE ($1 = '' OR job_id = $1)
		  AND (NOT $2 OR read_at IS NULL)
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, strings.TrimSpace(filter.JobID), filter.UnreadOnly, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query notifications")
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notif)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, notificationID string) (models.Notification, error) {
	const query = `
		UPDATE stockflow.notifications
		SET read_at = COALESCE(read_at, NOW())
		WHERE id = $1
		RETURNING id, job_id, event_type, severity, title, message, metadata, created_at, read_at
	`
	row := r.db.QueryRowContext(ctx, query, strings.TrimSpace(notificationID))
	return scanNotification(row)
}

func scanNotification(scanner interface {
	Scan(dest ...interface{}) error
}) (models.Notification, error) {
	var (
		notif       models.Notification
		jobID       sql.NullString
		metadataRaw []byte
		readAt      sql.NullTime
	)

	if err := scanner.Scan(
		&notif.ID,
		&jobID,
		&notif.EventType,
		&notif.Severity,
		&notif.Title,
		&notif.Message,
		&metadataRaw,
		&notif.CreatedAt,
		&readAt,
	); err != nil {
		return models.Notification{}, err
	}

	if jobID.Valid {
		val := jobID.String
		notif.JobID = &val
	}
	if len(metadataRaw) > 0 {
		notif.Metadata = metadataRaw
	}
	if readAt.Valid {
		t := readAt.Time
		notif.ReadAt = &t
	}

	return notif, nil
}
