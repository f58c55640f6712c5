package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/stockflow-api/internal/config"
	"github.com/stanstork/stockflow-api/internal/models"
	"github.com/stanstork/stockflow-api/internal/repository"
)

type memoryRepo struct {
	mu    sync.Mutex
	items []models.Notification
	seen  map[string]bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{seen: make(map[string]bool)}
}

func (m *memoryRepo) Create(_ context.Context, p repository.CreateNotificationParams) (models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.JobID != nil {
		key := *p.JobID + "/" + string(p.Event)
		if m.seen[key] {
			return models.Notification{}, repository.ErrDuplicateNotification
		}
		m.seen[key] = true
	}
	meta, _ := json.Marshal(p.Metadata)
	n := models.Notification{
		ID:        "n-" + string(rune('a'+len(m.items))),
		JobID:     p.JobID,
		EventType: p.Event,
		Severity:  p.Severity,
		Title:     p.Title,
		Message:   p.Message,
		Metadata:  meta,
		CreatedAt: time.Now(),
	}
	m.items = append(m.items, n)
	return n, nil
}

func (m *memoryRepo) ListRecent(_ context.Context, f repository.ListNotificationsFilter) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for i := len(m.items) - 1; i >= 0; i-- {
		n := m.items[i]
		if f.UnreadOnly && n.ReadAt != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (m *memoryRepo) MarkRead(_ context.Context, id string) (models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id {
			now := time.Now()
			m.items[i].ReadAt = &now
			return m.items[i], nil
		}
	}
	return models.Notification{}, sql.ErrNoRows
}

type countingNotifier struct {
	mu   sync.Mutex
	got  []models.Notification
	fail bool
}

func (c *countingNotifier) Notify(_ context.Context, n models.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	if c.fail {
		return errors.New("channel down")
	}
	return nil
}

func settledJob(status models.ImportStatus) models.ImportJob {
	return models.ImportJob{
		JobID:         "job-42",
		Type:          models.ImportTypeReceiptsOutbound,
		Status:        status,
		FileName:      "march.xlsx",
		TotalRows:     10,
		ProcessedRows: 10,
		Imported:      8,
		Failed:        2,
		Errors:        []models.RowError{{Row: 3, Reason: "unknown product"}},
	}
}

func TestNotifyImportSettled(t *testing.T) {
	tests := []struct {
		status   models.ImportStatus
		event    models.NotificationEvent
		severity models.NotificationSeverity
		title    string
	}{
		{models.ImportStatusCompleted, models.NotificationEventImportCompleted, models.NotificationSeverityWarning, "Import completed: march.xlsx"},
		{models.ImportStatusFailed, models.NotificationEventImportFailed, models.NotificationSeverityError, "Import failed: march.xlsx"},
		{models.ImportStatusCancelled, models.NotificationEventImportCancelled, models.NotificationSeverityWarning, "Import cancelled: march.xlsx"},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			repo := newMemoryRepo()
			svc := NewService(repo, zerolog.Nop())

			if err := svc.NotifyImportSettled(context.Background(), settledJob(tt.status)); err != nil {
				t.Fatalf("NotifyImportSettled: %v", err)
			}
			if len(repo.items) != 1 {
				t.Fatalf("stored %d notifications, want 1", len(repo.items))
			}
			n := repo.items[0]
			if n.EventType != tt.event || n.Severity != tt.severity || n.Title != tt.title {
				t.Errorf("got %s/%s/%q", n.EventType, n.Severity, n.Title)
			}
			if n.JobID == nil || *n.JobID != "job-42" {
				t.Errorf("job id = %v", n.JobID)
			}
		})
	}
}

func TestNotifyImportSettledRejectsActiveJob(t *testing.T) {
	svc := NewService(newMemoryRepo(), zerolog.Nop())
	if err := svc.NotifyImportSettled(context.Background(), settledJob(models.ImportStatusProcessing)); err == nil {
		t.Fatal("expected error for a processing job")
	}
}

func TestDuplicateSettlementIsDeliveredOnce(t *testing.T) {
	repo := newMemoryRepo()
	notifier := &countingNotifier{}
	svc := NewService(repo, zerolog.Nop(), notifier, nil)
	job := settledJob(models.ImportStatusFailed)

	for i := 0; i < 3; i++ {
		if err := svc.NotifyImportSettled(context.Background(), job); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if len(repo.items) != 1 || len(notifier.got) != 1 {
		t.Fatalf("stored %d, delivered %d; want 1 and 1", len(repo.items), len(notifier.got))
	}
}

func TestNotifierFailureDoesNotFailPublish(t *testing.T) {
	notifier := &countingNotifier{fail: true}
	svc := NewService(newMemoryRepo(), zerolog.Nop(), notifier)

	if _, err := svc.Publish(context.Background(), Event{Event: models.NotificationEventImportCompleted}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(notifier.got) != 1 {
		t.Fatalf("notifier called %d times", len(notifier.got))
	}
}

func TestPublishRequiresEvent(t *testing.T) {
	svc := NewService(newMemoryRepo(), zerolog.Nop())
	if _, err := svc.Publish(context.Background(), Event{Title: "x"}); err == nil {
		t.Fatal("expected error without event type")
	}
}

func TestMarkRead(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, zerolog.Nop())
	n, err := svc.Publish(context.Background(), Event{Event: models.NotificationEventImportCompleted})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	read, err := svc.MarkRead(context.Background(), n.ID)
	if err != nil || read.ReadAt == nil {
		t.Fatalf("MarkRead = %+v, %v", read, err)
	}
	unread, _ := svc.ListRecent(context.Background(), repository.ListNotificationsFilter{UnreadOnly: true})
	if len(unread) != 0 {
		t.Fatalf("unread = %d, want 0", len(unread))
	}
}

func TestEmailNotifierSkipsInfoAndSendsAlerts(t *testing.T) {
	notifier, err := NewEmailNotifier(config.EmailConfig{
		SMTPHost:        "smtp.example.com",
		From:            "imports@example.com",
		AlertRecipients: []string{" ops@example.com ", ""},
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEmailNotifier: %v", err)
	}

	var sent []string
	notifier.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if addr != "smtp.example.com:587" {
			t.Errorf("addr = %s", addr)
		}
		if len(to) != 1 || to[0] != "ops@example.com" {
			t.Errorf("recipients = %v", to)
		}
		sent = append(sent, string(msg))
		return nil
	}

	jobID := "job-7"
	ctx := context.Background()
	if err := notifier.Notify(ctx, models.Notification{Severity: models.NotificationSeverityInfo, Title: "ok"}); err != nil {
		t.Fatalf("Notify info: %v", err)
	}
	if err := notifier.Notify(ctx, models.Notification{
		JobID:     &jobID,
		EventType: models.NotificationEventImportFailed,
		Severity:  models.NotificationSeverityError,
		Title:     "Import failed: march.xlsx",
	}); err != nil {
		t.Fatalf("Notify error: %v", err)
	}

	if len(sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(sent))
	}
	if !strings.Contains(sent[0], "Subject: [Stockflow] Import failed: march.xlsx") || !strings.Contains(sent[0], "Job: job-7") {
		t.Fatalf("unexpected message:\n%s", sent[0])
	}
}

func TestEmailNotifierRequiresHost(t *testing.T) {
	if _, err := NewEmailNotifier(config.EmailConfig{From: "a@b.c"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error without smtp host")
	}
}
