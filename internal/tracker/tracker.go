package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/stockflow-api/internal/backend"
	"github.com/stanstork/stockflow-api/internal/models"
)

var ErrUnknownJob = errors.New("unknown import job")

// Backend is the part of the import backend the tracker consumes.
type Backend interface {
	SubmitImport(ctx context.Context, req backend.SubmitRequest) (models.ImportJob, error)
	ListImports(ctx context.Context, params backend.ListImportsParams) (models.ImportPage, error)
	CancelImport(ctx context.Context, jobID string) (*models.ImportJob, error)
}

type UpdateKind string

const (
	UpdateJobsChanged      UpdateKind = "jobs_changed"
	UpdateListsInvalidated UpdateKind = "lists_invalidated"
)

// Update is delivered to subscribers after every merge and every settled job.
type Update struct {
	Kind UpdateKind         `json:"kind"`
	Jobs []models.ImportJob `json:"jobs,omitempty"`
	Type models.ImportType  `json:"type,omitempty"`
}

type Options struct {
	PageSize int
	MaxPages int
}

// Tracker wires the store, bridge, poller and cancellation controller
// together. Every merge runs under refreshMu, so observations are folded in
// one at a time regardless of which goroutine fetched them.
type Tracker struct {
	backend   Backend
	store     *Store
	bridge    *Bridge
	poller    *Poller
	canceller *CancellationController
	opts      Options
	logger    zerolog.Logger

	refreshMu sync.Mutex

	subsMu sync.RWMutex
	subs   map[string]func(Update)
}

func New(b Backend, publisher Publisher, pollInterval time.Duration, opts Options, logger zerolog.Logger) *Tracker {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 20
	}
	t := &Tracker{
		backend: b,
		store:   NewStore(),
		opts:    opts,
		logger:  logger.With().Str("component", "import_tracker").Logger(),
		subs:    make(map[string]func(Update)),
	}
	t.bridge = NewBridge(publisher, logger)
	t.bridge.OnSettle(t.invalidateLists)
	t.poller = NewPoller(t, pollInterval, logger)
	t.canceller = NewCancellationController(b, t.store, t.poller, logger)
	return t
}

// Load performs the start-up history load. Jobs that were already settled
// are recorded by the bridge without notifying.
func (t *Tracker) Load(ctx context.Context) error {
	t.refreshMu.Lock()
	jobs, err := t.fetch(ctx, backend.ListImportsParams{})
	if err != nil {
		t.refreshMu.Unlock()
		return errors.Wrap(err, "load imports")
	}
	effective := t.store.Merge(jobs)
	t.bridge.Prime(effective)
	t.broadcast(Update{Kind: UpdateJobsChanged, Jobs: effective})
	t.refreshMu.Unlock()

	t.logger.Info().Int("jobs", len(effective)).Int("active", countActive(effective)).Msg("import history loaded")
	if countActive(effective) > 0 {
		t.poller.Start()
	}
	return nil
}

// Submit starts a new import and begins polling for it.
func (t *Tracker) Submit(ctx context.Context, req backend.SubmitRequest) (models.ImportJob, error) {
	job, err := t.backend.SubmitImport(ctx, req)
	if err != nil {
		return models.ImportJob{}, err
	}
	if err := job.Validate(); err != nil {
		// The backend has created the job; the next refresh will pick it up.
		t.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("invalid snapshot from submit, tracking via refresh")
		t.poller.Start()
		return job, nil
	}

	t.refreshMu.Lock()
	t.apply(ctx, []models.ImportJob{job})
	t.refreshMu.Unlock()

	t.logger.Info().Str("job_id", job.JobID).Str("type", string(job.Type)).Msg("import submitted")
	t.poller.Start()
	return job, nil
}

// Refresh reconciles every job on demand and starts polling if any is active.
func (t *Tracker) Refresh(ctx context.Context) error {
	active, err := t.ReconcileAll(ctx)
	if err != nil {
		return err
	}
	if active > 0 {
		t.poller.Start()
	}
	return nil
}

// RefreshActive fetches the active set. When the store still holds active
// jobs the backend no longer lists as active while others keep running, a
// full reconciliation is folded into the same tick so they do not linger.
func (t *Tracker) RefreshActive(ctx context.Context) (int, error) {
	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	jobs, err := t.fetch(ctx, backend.ListImportsParams{OnlyActive: true})
	if err != nil {
		return 0, err
	}
	active := countActive(jobs)
	t.apply(ctx, jobs)

	if active > 0 && t.hasVanished(jobs) {
		all, err := t.fetch(ctx, backend.ListImportsParams{})
		if err != nil {
			t.logger.Warn().Err(err).Msg("reconciling vanished jobs failed")
			return active, nil
		}
		t.apply(ctx, all)
	}
	return active, nil
}

func (t *Tracker) ReconcileAll(ctx context.Context) (int, error) {
	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	jobs, err := t.fetch(ctx, backend.ListImportsParams{})
	if err != nil {
		return 0, err
	}
	t.apply(ctx, jobs)
	return countActive(jobs), nil
}

func (t *Tracker) Cancel(ctx context.Context, jobID string) error {
	return t.canceller.Cancel(ctx, jobID)
}

func (t *Tracker) ActiveJobs(types ...models.ImportType) []models.ImportJob {
	return t.store.ActiveJobs(types...)
}

func (t *Tracker) History(types ...models.ImportType) []models.ImportJob {
	return t.store.HistoryJobs(types...)
}

func (t *Tracker) Job(jobID string) (models.ImportJob, error) {
	job, ok := t.store.Get(jobID)
	if !ok {
		return models.ImportJob{}, errors.Wrap(ErrUnknownJob, jobID)
	}
	return job, nil
}

func (t *Tracker) PollerState() PollerState {
	return t.poller.State()
}

// Subscribe registers onChange for every update and returns a function that
// removes it. Callbacks run synchronously on the refreshing goroutine and
// must not call back into the Tracker's refresh operations.
func (t *Tracker) Subscribe(onChange func(Update)) (unsubscribe func()) {
	id := uuid.NewString()
	t.subsMu.Lock()
	t.subs[id] = onChange
	t.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.subsMu.Lock()
			delete(t.subs, id)
			t.subsMu.Unlock()
		})
	}
}

// Close stops polling. The store and bridge keep their state.
func (t *Tracker) Close() {
	t.poller.Stop()
}

// apply must be called with refreshMu held.
func (t *Tracker) apply(ctx context.Context, jobs []models.ImportJob) {
	if len(jobs) == 0 {
		return
	}
	effective := t.store.Merge(jobs)
	t.bridge.Observe(ctx, effective)
	t.broadcast(Update{Kind: UpdateJobsChanged, Jobs: effective})
}

// fetch pages through GET /imports, bounded by MaxPages, and drops snapshots
// that fail validation.
func (t *Tracker) fetch(ctx context.Context, params backend.ListImportsParams) ([]models.ImportJob, error) {
	params.Limit = t.opts.PageSize
	var out []models.ImportJob
	for page := 1; page <= t.opts.MaxPages; page++ {
		params.Page = page
		resp, err := t.backend.ListImports(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, job := range resp.Jobs {
			if err := job.Validate(); err != nil {
				t.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("dropping invalid import snapshot")
				continue
			}
			out = append(out, job)
		}
		if len(resp.Jobs) < params.Limit || (resp.TotalPages > 0 && page >= resp.TotalPages) {
			return out, nil
		}
	}
	t.logger.Warn().Int("max_pages", t.opts.MaxPages).Msg("import listing truncated at page limit")
	return out, nil
}

func (t *Tracker) hasVanished(activeResp []models.ImportJob) bool {
	listed := make(map[string]struct{}, len(activeResp))
	for _, job := range activeResp {
		listed[job.JobID] = struct{}{}
	}
	for _, job := range t.store.ActiveJobs() {
		if _, ok := listed[job.JobID]; !ok {
			return true
		}
	}
	return false
}

func (t *Tracker) invalidateLists(_ context.Context, job models.ImportJob) {
	t.broadcast(Update{Kind: UpdateListsInvalidated, Type: job.Type, Jobs: []models.ImportJob{job}})
}

func (t *Tracker) broadcast(update Update) {
	t.subsMu.RLock()
	handlers := make([]func(Update), 0, len(t.subs))
	for _, fn := range t.subs {
		handlers = append(handlers, fn)
	}
	t.subsMu.RUnlock()

	for _, fn := range handlers {
		fn(update)
	}
}

func countActive(jobs []models.ImportJob) int {
	n := 0
	for _, job := range jobs {
		if job.Status.Active() {
			n++
		}
	}
	return n
}
