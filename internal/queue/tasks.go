package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeTransformRun = "transform:run"

var ErrInvalidPayload = errors.New("invalid transform payload")

// TransformPayload carries everything the worker needs to run one job without
// reading the job store first.
type TransformPayload struct {
	JobID       string               `json:"job_id"`
	SourceType  string               `json:"source_type"`
	WebhookURL  string               `json:"webhook_url,omitempty"`
	ObjectKey   string               `json:"object_key"`
	Transform   domain.TransformSpec `json:"transform"`
	RequestedAt time.Time            `json:"requested_at"`
}

func NewTransformTask(payload TransformPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal transform payload: %w", err)
	}
	return asynq.NewTask(TypeTransformRun, body), nil
}

// ParseTransformPayload decodes and validates a task body. A payload that
// fails validation will never succeed on retry; callers should wrap the error
// with asynq.SkipRetry.
func ParseTransformPayload(task *asynq.Task) (TransformPayload, error) {
	var payload TransformPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TransformPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload.JobID == "" || payload.ObjectKey == "" {
		return TransformPayload{}, fmt.Errorf("%w: job_id and object_key are required", ErrInvalidPayload)
	}
	if err := payload.Transform.Validate(); err != nil {
		return TransformPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return payload, nil
}
