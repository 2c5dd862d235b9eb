package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/snapcrop/internal/domain"
)

// MemoryJobStore is used when no database is configured. Jobs are lost on
// restart.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
	now  func() time.Time
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.Job),
		now:  time.Now,
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *MemoryJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	return s.update(id, func(job *domain.Job) {
		job.Status = status
	})
}

func (s *MemoryJobStore) Finish(_ context.Context, id string, outcome Outcome) (domain.Job, error) {
	return s.update(id, func(job *domain.Job) {
		job.Status = outcome.Status
		job.ResultKey = outcome.ResultKey
		job.Error = outcome.Error
	})
}

func (s *MemoryJobStore) update(id string, fn func(*domain.Job)) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	fn(&job)
	job.UpdatedAt = s.now().UTC()
	s.jobs[id] = job
	return job, nil
}
