package store

import (
	"context"
	"testing"
	"time"

	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	clock := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	s.now = func() time.Time { return clock }

	var _ JobStore = s

	job := domain.Job{
		ID:     "job-1",
		Status: domain.JobStatusCreated,
		Transform: domain.TransformSpec{
			Operation: domain.OperationResize,
			Resize:    &domain.ResizeTarget{Width: 640, Height: 480},
		},
	}
	require.NoError(t, s.Create(ctx, job))

	got, ok, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 640, got.Transform.Resize.Width)

	got, err = s.UpdateStatus(ctx, "job-1", domain.JobStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
	assert.Equal(t, clock, got.UpdatedAt)

	got, err = s.Finish(ctx, "job-1", Outcome{Status: domain.JobStatusSucceeded, ResultKey: "outputs/job-1/resized-image.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "outputs/job-1/resized-image.jpg", got.ResultKey)
	assert.Empty(t, got.Error)
}

func TestMemoryJobStoreUnknownJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.UpdateStatus(ctx, "missing", domain.JobStatusQueued)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = s.Finish(ctx, "missing", Outcome{Status: domain.JobStatusFailed})
	assert.ErrorIs(t, err, ErrJobNotFound)
}
