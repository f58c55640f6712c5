package tracker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stanstork/stockflow-api/internal/models"
)

// Publisher receives one call per job per terminal status reached.
type Publisher interface {
	NotifyImportSettled(ctx context.Context, job models.ImportJob) error
}

// SettleHook runs after a terminal event is emitted, e.g. to refresh list
// views that depend on the import's output.
type SettleHook func(ctx context.Context, job models.ImportJob)

type Event struct {
	Type models.NotificationEvent
	Job  models.ImportJob
}

// Bridge turns repeated observations into exactly-once terminal events. It
// keeps its own record of the last status seen per job, separate from the
// Store, which lives for the whole session and is cleared only by Reset.
type Bridge struct {
	mu        sync.Mutex
	last      map[string]models.ImportStatus
	publisher Publisher
	hooks     []SettleHook
	logger    zerolog.Logger
}

func NewBridge(publisher Publisher, logger zerolog.Logger) *Bridge {
	return &Bridge{
		last:      make(map[string]models.ImportStatus),
		publisher: publisher,
		logger:    logger.With().Str("component", "notification_bridge").Logger(),
	}
}

// OnSettle registers a hook run for every emitted event.
func (b *Bridge) OnSettle(hook SettleHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = append(b.hooks, hook)
}

// Prime records statuses without emitting anything.
func (b *Bridge) Prime(snapshots []models.ImportJob) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, snap := range snapshots {
		b.last[snap.JobID] = snap.Status
	}
}

// Observe compares each snapshot against the last status seen for its job
// and emits an event for every change into a terminal status.
func (b *Bridge) Observe(ctx context.Context, snapshots []models.ImportJob) []Event {
	b.mu.Lock()
	var events []Event
	for _, snap := range snapshots {
		prev, seen := b.last[snap.JobID]
		if seen && prev == snap.Status {
			continue
		}
		b.last[snap.JobID] = snap.Status
		if evt, ok := models.EventForStatus(snap.Status); ok {
			events = append(events, Event{Type: evt, Job: snap})
		}
	}
	hooks := append([]SettleHook(nil), b.hooks...)
	b.mu.Unlock()

	for _, evt := range events {
		b.logger.Info().
			Str("job_id", evt.Job.JobID).
			Str("event_type", string(evt.Type)).
			Int("imported", evt.Job.Imported).
			Int("failed", evt.Job.Failed).
			Msg("import settled")
		if b.publisher != nil {
			if err := b.publisher.NotifyImportSettled(ctx, evt.Job); err != nil {
				b.logger.Warn().Err(err).Str("job_id", evt.Job.JobID).Msg("failed to publish import notification")
			}
		}
		for _, hook := range hooks {
			hook(ctx, evt.Job)
		}
	}
	return events
}

// LastStatus returns the status the bridge last observed for jobID.
func (b *Bridge) LastStatus(jobID string) (models.ImportStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status, ok := b.last[jobID]
	return status, ok
}

func (b *Bridge) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = make(map[string]models.ImportStatus)
}
