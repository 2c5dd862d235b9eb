package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/snapcrop/internal/domain"
	_ "github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS transform_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	transform JSONB NOT NULL,
	object_key TEXT NOT NULL,
	result_key TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

const jobColumns = `id, status, source_type, webhook_url, transform, object_key, result_key, error, created_at, updated_at`

// PostgresJobStore keeps job metadata only. Image bytes never touch the
// database.
type PostgresJobStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresJobStore{db: db, now: time.Now}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure transform_jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	transformJSON, err := json.Marshal(job.Transform)
	if err != nil {
		return fmt.Errorf("marshal job transform: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transform_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Status, job.SourceType, job.WebhookURL, transformJSON,
		job.ObjectKey, job.ResultKey, job.Error, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM transform_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}
	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE transform_jobs SET status = $1, updated_at = $2 WHERE id = $3 RETURNING `+jobColumns,
		status, s.now().UTC(), id,
	)
	return updated(row, "update job status")
}

func (s *PostgresJobStore) Finish(ctx context.Context, id string, outcome Outcome) (domain.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE transform_jobs
		 SET status = $1, result_key = $2, error = $3, updated_at = $4
		 WHERE id = $5
		 RETURNING `+jobColumns,
		outcome.Status, outcome.ResultKey, outcome.Error, s.now().UTC(), id,
	)
	return updated(row, "finish job")
}

func updated(row *sql.Row, op string) (domain.Job, error) {
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, ErrJobNotFound
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("%s: %w", op, err)
	}
	return job, nil
}

func scanJob(row *sql.Row) (domain.Job, error) {
	var (
		job           domain.Job
		transformJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.SourceType,
		&job.WebhookURL,
		&transformJSON,
		&job.ObjectKey,
		&job.ResultKey,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return domain.Job{}, err
	}
	if err := json.Unmarshal(transformJSON, &job.Transform); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal job transform: %w", err)
	}
	return job, nil
}
