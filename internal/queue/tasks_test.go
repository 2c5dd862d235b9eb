package queue

import (
	"testing"
	"time"

	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformTaskRoundTrip(t *testing.T) {
	payload := TransformPayload{
		JobID:      "job-123",
		SourceType: domain.SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-123/source",
		Transform: domain.TransformSpec{
			Operation: domain.OperationCrop,
			Preset:    "instagram",
			Crop:      &domain.CropRectangle{X: 10, Y: 20, Width: 300, Height: 300},
			Rotation:  90,
		},
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewTransformTask(payload)
	require.NoError(t, err)
	assert.Equal(t, TypeTransformRun, task.Type())

	parsed, err := ParseTransformPayload(task)
	require.NoError(t, err)
	assert.Equal(t, payload.JobID, parsed.JobID)
	assert.Equal(t, *payload.Transform.Crop, *parsed.Transform.Crop)
	assert.Equal(t, 90.0, parsed.Transform.Rotation)
}

func TestParseTransformPayloadRejectsInvalid(t *testing.T) {
	cases := map[string][]byte{
		"not json":       []byte("{"),
		"missing job":    []byte(`{"object_key":"k","transform":{"operation":"resize","resize":{"width":1,"height":1}}}`),
		"bad transform":  []byte(`{"job_id":"j","object_key":"k","transform":{"operation":"resize"}}`),
		"unknown preset": []byte(`{"job_id":"j","object_key":"k","transform":{"operation":"resize","preset":"nope","resize":{"width":1,"height":1}}}`),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTransformPayload(asynq.NewTask(TypeTransformRun, body))
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}
