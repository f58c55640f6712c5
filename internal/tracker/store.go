package tracker

import (
	"sort"
	"sync"

	"github.com/stanstork/stockflow-api/internal/models"
)

// Store is the authoritative local view of every known import job, keyed by
// job id. It only changes through Merge.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]models.ImportJob
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]models.ImportJob)}
}

// Merge folds incoming observations into the store and returns, for each
// incoming job id, the snapshot the store holds afterwards.
func (s *Store) Merge(incoming []models.ImportJob) []models.ImportJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	effective := make([]models.ImportJob, 0, len(incoming))
	for _, snap := range incoming {
		current, ok := s.jobs[snap.JobID]
		if !ok || accepts(current, snap) {
			s.jobs[snap.JobID] = snap
			current = snap
		}
		effective = append(effective, current)
	}
	return effective
}

// accepts decides whether next may replace current.
func accepts(current, next models.ImportJob) bool {
	curAt, nextAt := current.ObservedAt(), next.ObservedAt()

	if current.Status.Terminal() {
		// A terminal entry only yields to another terminal observation that is
		// at least as recent; a late processing snapshot never reverts it.
		return next.Status.Terminal() && !nextAt.Before(curAt)
	}

	if !curAt.IsZero() && !nextAt.IsZero() && !nextAt.Equal(curAt) {
		return nextAt.After(curAt)
	}
	// Equal or missing timestamps leave row progress as the only ordering signal.
	if !next.Status.Terminal() && next.ProcessedRows < current.ProcessedRows {
		return false
	}
	return true
}

func (s *Store) Get(jobID string) (models.ImportJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	return job, ok
}

// ActiveJobs returns queued and processing jobs, newest first.
func (s *Store) ActiveJobs(types ...models.ImportType) []models.ImportJob {
	jobs := s.filter(func(j models.ImportJob) bool {
		return j.Status.Active() && j.MatchesType(types...)
	})
	sort.SliceStable(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})
	return jobs
}

// HistoryJobs returns terminal jobs, most recently started first.
func (s *Store) HistoryJobs(types ...models.ImportType) []models.ImportJob {
	jobs := s.filter(func(j models.ImportJob) bool {
		return j.Status.Terminal() && j.MatchesType(types...)
	})
	sort.SliceStable(jobs, func(a, b int) bool {
		return jobs[a].SortKey().After(jobs[b].SortKey())
	})
	return jobs
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = make(map[string]models.ImportJob)
}

func (s *Store) filter(keep func(models.ImportJob) bool) []models.ImportJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ImportJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if keep(job) {
			out = append(out, job)
		}
	}
	return out
}
