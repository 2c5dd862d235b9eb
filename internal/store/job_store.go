package store

import (
	"context"
	"errors"

	"github.com/dunamismax/snapcrop/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

// Outcome is the terminal state the worker records for a job.
type Outcome struct {
	Status    string
	ResultKey string
	Error     string
}

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	Finish(ctx context.Context, id string, outcome Outcome) (domain.Job, error)
}

// Open returns a Postgres store when dsn is set and an in-memory one
// otherwise. The close func is always safe to call.
func Open(ctx context.Context, dsn string) (JobStore, func() error, error) {
	if dsn == "" {
		return NewMemoryJobStore(), func() error { return nil }, nil
	}
	pg, err := NewPostgresJobStore(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
