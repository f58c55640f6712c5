package tracker

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/stockflow-api/internal/backend"
	"github.com/stanstork/stockflow-api/internal/models"
)

type cancelBackend interface {
	CancelImport(ctx context.Context, jobID string) (*models.ImportJob, error)
}

type trigger interface {
	Trigger()
}

// CancellationController asks the backend to cancel a job. It never writes
// a status locally; the cancelled state arrives through a refresh like any
// other observation.
type CancellationController struct {
	backend cancelBackend
	store   *Store
	poller  trigger
	logger  zerolog.Logger
}

func NewCancellationController(b cancelBackend, store *Store, poller trigger, logger zerolog.Logger) *CancellationController {
	return &CancellationController{
		backend: b,
		store:   store,
		poller:  poller,
		logger:  logger.With().Str("component", "cancellation").Logger(),
	}
}

// Cancel requests cancellation of jobID. Cancelling a job already known to be
// terminal is a no-op. On success an out-of-band refresh is triggered.
func (c *CancellationController) Cancel(ctx context.Context, jobID string) error {
	if job, ok := c.store.Get(jobID); ok && job.Status.Terminal() {
		c.logger.Debug().Str("job_id", jobID).Str("status", string(job.Status)).Msg("cancel ignored, job already settled")
		return nil
	}

	if _, err := c.backend.CancelImport(ctx, jobID); err != nil {
		if errors.Is(err, backend.ErrConflict) {
			// The backend settled the job before our request landed.
			c.logger.Info().Str("job_id", jobID).Msg("cancel raced with completion")
			c.poller.Trigger()
			return nil
		}
		c.logger.Error().Err(err).Str("job_id", jobID).Msg("cancel request failed")
		return errors.Wrapf(err, "cancel job %s", jobID)
	}

	c.logger.Info().Str("job_id", jobID).Msg("cancel requested")
	c.poller.Trigger()
	return nil
}
