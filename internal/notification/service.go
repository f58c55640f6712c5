package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/stockflow-api/internal/models"
	"github.com/stanstork/stockflow-api/internal/repository"
)

type Event struct {
	JobID    string
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

type Service interface {
	Publish(ctx context.Context, evt Event) (models.Notification, error)
	NotifyImportSettled(ctx context.Context, job models.ImportJob) error
	ListRecent(ctx context.Context, filter repository.ListNotificationsFilter) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID string) (models.Notification, error)
}

type service struct {
	repo      repository.NotificationRepository
	logger    zerolog.Logger
	notifiers []Notifier
}

func NewService(repo repository.NotificationRepository, logger zerolog.Logger, notifiers ...Notifier) Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	return &service{
		repo:      repo,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		notifiers: active,
	}
}

// Publish persists the event and fans it out to every notifier. A duplicate
// of an already recorded job event is neither stored nor delivered again.
func (s *service) Publish(ctx context.Context, evt Event) (models.Notification, error) {
	if evt.Event == "" {
		return models.Notification{}, errors.New("event type is required")
	}
	if evt.Severity == "" {
		evt.Severity = models.NotificationSeverityInfo
	}
	title := strings.TrimSpace(evt.Title)
	if title == "" {
		title = string(evt.Event)
	}
	params := repository.CreateNotificationParams{
		Event:    evt.Event,
		Severity: evt.Severity,
		Title:    title,
		Message:  strings.TrimSpace(evt.Message),
		Metadata: evt.Metadata,
	}
	if jid := strings.TrimSpace(evt.JobID); jid != "" {
		params.JobID = &jid
	}

	notif, err := s.repo.Create(ctx, params)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateNotification) {
			s.logger.Debug().Str("job_id", evt.JobID).Str("event_type", string(evt.Event)).Msg("notification already recorded")
			return models.Notification{}, err
		}
		s.logger.Error().Err(err).Str("event_type", string(evt.Event)).Msg("failed to persist notification")
		return models.Notification{}, err
	}
	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, notif); err != nil {
			logNotifyError(s.logger, err, notifierChannelName(notifier), notif)
		}
	}
	return notif, nil
}

// NotifyImportSettled records the terminal outcome of an import job.
func (s *service) NotifyImportSettled(ctx context.Context, job models.ImportJob) error {
	evt, ok := models.EventForStatus(job.Status)
	if !ok {
		return errors.Errorf("job %s is not settled (status %s)", job.JobID, job.Status)
	}

	name := importLabel(job)
	metadata := map[string]interface{}{
		"job_id":         job.JobID,
		"status":         job.Status,
		"total_rows":     job.TotalRows,
		"processed_rows": job.ProcessedRows,
		"imported":       job.Imported,
		"failed":         job.Failed,
	}
	if job.Type != models.ImportTypeUnknown {
		metadata["type"] = job.Type
	}
	if n := len(job.Errors); n > 0 {
		metadata["row_errors"] = n
	}

	out := Event{JobID: job.JobID, Event: evt, Metadata: metadata}
	switch evt {
	case models.NotificationEventImportCompleted:
		out.Severity = models.NotificationSeverityInfo
		out.Title = fmt.Sprintf("Import completed: %s", name)
		out.Message = fmt.Sprintf("%d rows imported, %d failed.", job.Imported, job.Failed)
		if job.Failed > 0 {
			out.Severity = models.NotificationSeverityWarning
		}
	case models.NotificationEventImportFailed:
		out.Severity = models.NotificationSeverityError
		out.Title = fmt.Sprintf("Import failed: %s", name)
		out.Message = fmt.Sprintf("Import stopped after %d of %d rows.", job.ProcessedRows, job.TotalRows)
		if len(job.Errors) > 0 {
			out.Message += " First error: " + strings.TrimSpace(job.Errors[0].Reason)
		}
	case models.NotificationEventImportCancelled:
		out.Severity = models.NotificationSeverityWarning
		out.Title = fmt.Sprintf("Import cancelled: %s", name)
		out.Message = fmt.Sprintf("Import cancelled after %d of %d rows; %d rows were imported.", job.ProcessedRows, job.TotalRows, job.Imported)
	}

	_, err := s.Publish(ctx, out)
	if errors.Is(err, repository.ErrDuplicateNotification) {
		return nil
	}
	return err
}

func (s *service) ListRecent(ctx context.Context, filter repository.ListNotificationsFilter) ([]models.Notification, error) {
	return s.repo.ListRecent(ctx, filter)
}

func (s *service) MarkRead(ctx context.Context, notificationID string) (models.Notification, error) {
	return s.repo.MarkRead(ctx, notificationID)
}

func importLabel(job models.ImportJob) string {
	if name := strings.TrimSpace(job.FileName); name != "" {
		return name
	}
	if job.Type != models.ImportTypeUnknown {
		return fmt.Sprintf("%s %s", job.Type, job.JobID)
	}
	return job.JobID
}

func notifierChannelName(n Notifier) string {
	type named interface {
		String() string
	}
	if v, ok := n.(named); ok {
		return v.String()
	}
	return fmt.Sprintf("%T", n)
}
