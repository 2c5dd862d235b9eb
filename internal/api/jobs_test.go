package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/dunamismax/snapcrop/internal/queue"
	"github.com/dunamismax/snapcrop/internal/storage"
	"github.com/dunamismax/snapcrop/internal/store"
	"github.com/dunamismax/snapcrop/internal/upload"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) EnqueueTransform(ctx context.Context, payload queue.TransformPayload) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, payload)
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

type fakeStorage struct {
	objects map[string]int64
}

func (f fakeStorage) PresignedPutURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.test/put/" + key, nil
}

func (f fakeStorage) PresignedGetURL(_ context.Context, key, filename string, _ time.Duration) (string, error) {
	return "https://objects.test/get/" + key + "?name=" + filename, nil
}

func (f fakeStorage) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	size, ok := f.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: size}, nil
}

func TestCreateAndStartJob(t *testing.T) {
	q := &mockQueue{}
	objects := map[string]int64{}
	jobs := store.NewMemoryJobStore()
	ts := newTestServer(t, testConfig(), func(d *Deps) {
		d.Queue = q
		d.Storage = fakeStorage{objects: objects}
		d.Jobs = jobs
	})

	rec := ts.do(jsonRequest(t, http.MethodPost, "/v1/jobs", map[string]any{
		"source_type": "s3_presigned",
		"operation":   "crop",
		"preset":      "instagram",
		"crop":        map[string]any{"x": 0, "y": 0, "width": 500, "height": 500},
		"rotation":    90,
		"webhook_url": "https://hooks.test/snapcrop",
	}))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
		Upload struct {
			ObjectKey       string `json:"object_key"`
			PresignedPutURL string `json:"presigned_put_url"`
		} `json:"upload"`
		StartURL string `json:"start_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, domain.JobStatusCreated, created.Status)
	assert.Equal(t, "uploads/"+created.JobID+"/source", created.Upload.ObjectKey)
	assert.Equal(t, "https://objects.test/put/"+created.Upload.ObjectKey, created.Upload.PresignedPutURL)

	rec = ts.do(httptest.NewRequest(http.MethodPost, created.StartURL, nil))
	assert.Equal(t, http.StatusConflict, rec.Code, "source not uploaded yet")

	objects[created.Upload.ObjectKey] = 4096
	q.On("EnqueueTransform", mock.Anything, mock.MatchedBy(func(p queue.TransformPayload) bool {
		return p.JobID == created.JobID &&
			p.Transform.Operation == domain.OperationCrop &&
			p.Transform.Rotation == 90 &&
			p.WebhookURL == "https://hooks.test/snapcrop"
	})).Return(&asynq.TaskInfo{ID: created.JobID, Queue: "default", State: asynq.TaskStatePending}, nil).Once()

	rec = ts.do(httptest.NewRequest(http.MethodPost, created.StartURL, nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	q.AssertExpectations(t)

	job, ok, err := jobs.Get(context.Background(), created.JobID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusQueued, job.Status)

	rec = ts.do(httptest.NewRequest(http.MethodPost, created.StartURL, nil))
	assert.Equal(t, http.StatusConflict, rec.Code, "a queued job cannot start twice")
}

func TestStartJobRejectsOversizedSource(t *testing.T) {
	q := &mockQueue{}
	objects := map[string]int64{}
	jobs := store.NewMemoryJobStore()
	ts := newTestServer(t, testConfig(), func(d *Deps) {
		d.Queue = q
		d.Storage = fakeStorage{objects: objects}
		d.Jobs = jobs
	})

	rec := ts.do(jsonRequest(t, http.MethodPost, "/v1/jobs", map[string]any{
		"source_type": "s3_presigned",
		"operation":   "resize",
		"preset":      domain.PresetResize,
		"width":       32,
		"height":      24,
	}))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created struct {
		JobID  string `json:"job_id"`
		Upload struct {
			ObjectKey string `json:"object_key"`
		} `json:"upload"`
		StartURL string `json:"start_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	limit := ts.cfg.UploadLimit(domain.PresetResize)
	objects[created.Upload.ObjectKey] = limit + 1

	rec = ts.do(httptest.NewRequest(http.MethodPost, created.StartURL, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, upload.SizeMessage(limit), errorMessage(t, rec))
	q.AssertNotCalled(t, "EnqueueTransform", mock.Anything, mock.Anything)

	job, ok, err := jobs.Get(context.Background(), created.JobID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusCreated, job.Status)
}

func TestCreateJobValidation(t *testing.T) {
	ts := newTestServer(t, testConfig(), func(d *Deps) { d.Storage = fakeStorage{} })

	cases := []struct {
		name string
		body map[string]any
		want string
	}{
		{"missing operation", map[string]any{"source_type": "s3_presigned"}, "operation is required"},
		{"crop without rectangle", map[string]any{"source_type": "s3_presigned", "operation": "crop"}, "crop is required"},
		{"resize without target", map[string]any{"source_type": "s3_presigned", "operation": "resize"}, "transform: dimensions must be positive"},
		{"local file without key", map[string]any{"source_type": "local_file", "operation": "resize", "width": 10, "height": 10}, "object_key is required"},
		{"unknown preset", map[string]any{"source_type": "s3_presigned", "operation": "resize", "width": 10, "height": 10, "preset": "myspace"}, "transform: unknown preset: myspace"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(jsonRequest(t, http.MethodPost, "/v1/jobs", tc.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, errorMessage(t, rec), tc.want)
		})
	}
}

func TestGetJobPresignsResult(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	ts := newTestServer(t, testConfig(), func(d *Deps) {
		d.Storage = fakeStorage{}
		d.Jobs = jobs
	})

	ctx := context.Background()
	require.NoError(t, jobs.Create(ctx, domain.Job{
		ID:         "job-1",
		Status:     domain.JobStatusCreated,
		SourceType: domain.SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-1/source",
		Transform:  domain.TransformSpec{Operation: domain.OperationResize, Preset: domain.PresetResize, Resize: &domain.ResizeTarget{Width: 10, Height: 10}},
	}))
	_, err := jobs.Finish(ctx, "job-1", store.Outcome{Status: domain.JobStatusSucceeded, ResultKey: "outputs/job-1/resized-image.jpg"})
	require.NoError(t, err)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var view jobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, domain.JobStatusSucceeded, view.Status)
	assert.Equal(t, "https://objects.test/get/outputs/job-1/resized-image.jpg?name=resized-image.jpg", view.DownloadURL)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/v1/jobs/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartJobWithoutQueue(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	rec := ts.do(httptest.NewRequest(http.MethodPost, "/v1/jobs/5b1c2c0e-8a51-4f0c-9a1e-0c3f2d7a9b10/start", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
